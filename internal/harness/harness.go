// Package harness wires browser sessions into go test.
//
// A package's TestMain calls Main once; tests then ask the shared suite for
// pages:
//
//	func TestMain(m *testing.M) {
//		os.Exit(harness.Main(m))
//	}
//
//	func TestHome(t *testing.T) {
//		page := harness.Shared().Page(t)
//		...
//	}
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/browserenv/internal/browser"
	"github.com/maltedev/browserenv/internal/database"
	"github.com/maltedev/browserenv/internal/envconfig"
	"github.com/maltedev/browserenv/internal/events"
)

type options struct {
	env       envconfig.Snapshot
	dotEnv    []string
	driver    browser.Driver
	publisher events.SessionPublisher
	logger    *slog.Logger
}

type Option func(*options)

// WithEnv resolves from env instead of the process environment.
func WithEnv(env envconfig.Snapshot) Option {
	return func(o *options) { o.env = env }
}

// WithDotEnv layers the given dotenv files under the environment.
func WithDotEnv(files ...string) Option {
	return func(o *options) { o.dotEnv = append(o.dotEnv, files...) }
}

func WithDriver(d browser.Driver) Option {
	return func(o *options) { o.driver = d }
}

func WithPublisher(p events.SessionPublisher) Option {
	return func(o *options) { o.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Suite is the session-scoped fixture set: one resolved config and one
// browser for the whole run.
type Suite struct {
	runID     string
	config    *envconfig.SessionConfig
	session   *browser.Session
	publisher events.SessionPublisher
	db        *database.DB
	logger    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Start resolves the configuration, launches the browser and records a
// session started event.
func Start(opts ...Option) (*Suite, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.env == nil {
		o.env = envconfig.Environ()
	}

	env, err := o.env.WithDotEnv(o.dotEnv...)
	if err != nil {
		return nil, err
	}

	cfg, err := envconfig.Resolve(env)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve browser config: %w", err)
	}

	ctx := context.Background()
	s := &Suite{
		runID:     uuid.New().String(),
		config:    cfg,
		publisher: o.publisher,
		logger:    o.logger.With("component", "harness"),
	}

	if s.publisher == nil {
		if err := s.setupPublisher(ctx, env); err != nil {
			return nil, err
		}
	}

	driver := o.driver
	if driver == nil {
		pw, err := browser.Start()
		if err != nil {
			s.closeDB()
			return nil, err
		}
		driver = pw
	}

	s.session, err = browser.Open(driver, cfg, o.logger)
	if err != nil {
		s.closeDB()
		return nil, err
	}

	outcome := s.session.Outcome()
	s.publish(ctx, events.EventTypeSessionStarted, nil)
	if outcome.FallbackUsed {
		s.publish(ctx, events.EventTypeLaunchFallback, nil)
	}

	return s, nil
}

func (s *Suite) setupPublisher(ctx context.Context, env envconfig.Snapshot) error {
	reporting, err := envconfig.LoadReporting(env)
	if err != nil {
		return fmt.Errorf("failed to load reporting config: %w", err)
	}
	if !reporting.Enabled() {
		s.publisher = events.NewLogPublisher(s.logger)
		return nil
	}

	db, err := database.New(ctx, database.Config{URL: reporting.DatabaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.publisher = events.NewPublisher(db, reporting.Stream, s.logger)
	return nil
}

func (s *Suite) publish(ctx context.Context, eventType events.EventType, closeErr error) {
	outcome := s.session.Outcome()
	payload := &events.SessionEventPayload{
		RunID:            s.runID,
		Profile:          string(s.config.Profile),
		RequestedBrowser: string(outcome.Requested),
		LaunchedBrowser:  string(outcome.Launched),
		Channel:          outcome.Channel,
		Headless:         outcome.Headless,
		FallbackUsed:     outcome.FallbackUsed,
		PrimaryError:     outcome.PrimaryError,
	}
	if closeErr != nil {
		payload.CloseError = closeErr.Error()
	}

	// A missing event must never fail the test run.
	if err := s.publisher.PublishSessionEvent(ctx, eventType, payload); err != nil {
		s.logger.Warn("failed to publish session event", "type", eventType, "error", err)
	}
}

func (s *Suite) closeDB() {
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}

func (s *Suite) RunID() string {
	return s.runID
}

func (s *Suite) Config() *envconfig.SessionConfig {
	return s.config
}

func (s *Suite) Outcome() browser.Outcome {
	return s.session.Outcome()
}

func (s *Suite) Session() *browser.Session {
	return s.session
}

// Page returns a configured page in a fresh context. The context is closed
// when t finishes.
func (s *Suite) Page(t testing.TB) playwright.Page {
	t.Helper()

	page, err := s.session.NewPage()
	if err != nil {
		t.Fatalf("failed to open page: %v", err)
	}
	t.Cleanup(func() {
		if err := page.Release(); err != nil {
			t.Logf("failed to release page: %v", err)
		}
	})
	return page
}

// Close shuts the browser down once and records a session closed event.
func (s *Suite) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Close()
		s.publish(context.Background(), events.EventTypeSessionClosed, s.closeErr)
		s.closeDB()
	})
	return s.closeErr
}

var shared atomic.Pointer[Suite]

// Shared returns the suite started by Main, or nil outside of it.
func Shared() *Suite {
	return shared.Load()
}

// Main starts a suite, runs the tests and closes the suite. It returns the
// exit code for os.Exit.
func Main(m *testing.M, opts ...Option) int {
	suite, err := Start(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harness: %v\n", err)
		var launchErr *browser.LaunchError
		if errors.As(err, &launchErr) {
			fmt.Fprintln(os.Stderr, "harness: run `browserenv install` to download the browsers")
		}
		return 1
	}
	shared.Store(suite)
	defer shared.Store(nil)

	code := m.Run()
	if err := suite.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "harness: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

type contentReader interface {
	Content() (string, error)
}

// Document parses the current DOM of page.
func Document(t testing.TB, page contentReader) *goquery.Document {
	t.Helper()

	html, err := page.Content()
	if err != nil {
		t.Fatalf("failed to read page content: %v", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("failed to parse page content: %v", err)
	}
	return doc
}
