package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/browserenv/internal/envconfig"
)

// ErrSessionClosed is returned when a page is requested after Close.
var ErrSessionClosed = errors.New("browser session closed")

// LaunchError is returned when both the requested and the fallback launch fail.
type LaunchError struct {
	Browser envconfig.BrowserName
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Browser, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Outcome records which browser a session actually runs on.
type Outcome struct {
	Requested    envconfig.BrowserName `json:"requested"`
	Launched     envconfig.BrowserName `json:"launched"`
	Channel      string                `json:"channel,omitempty"`
	Headless     bool                  `json:"headless"`
	FallbackUsed bool                  `json:"fallback_used"`
	PrimaryError string                `json:"primary_error,omitempty"`
}

// Session is one browser shared by every test of a run.
type Session struct {
	driver   Driver
	instance Instance
	config   *envconfig.SessionConfig
	outcome  Outcome
	logger   *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open launches the configured browser. If that fails the error is logged
// and chromium is launched once more with envconfig.Fallback settings; a
// failure of the fallback is returned as *LaunchError and the driver is
// stopped.
func Open(driver Driver, cfg *envconfig.SessionConfig, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "browser")

	outcome := Outcome{
		Requested: cfg.Browser,
		Launched:  cfg.Browser,
		Headless:  cfg.Launch.Headless,
	}
	if cfg.Launch.Channel != nil {
		outcome.Channel = *cfg.Launch.Channel
	}

	instance, err := driver.Launch(cfg.Browser, LaunchOptions(cfg.Launch))
	if err != nil {
		logger.Warn("browser launch failed, falling back to chromium",
			"browser", cfg.Browser,
			"channel", outcome.Channel,
			"error", err)

		name, fallback := envconfig.Fallback()
		var fallbackErr error
		instance, fallbackErr = driver.Launch(name, LaunchOptions(fallback))
		if fallbackErr != nil {
			if stopErr := driver.Stop(); stopErr != nil {
				logger.Error("failed to stop playwright", "error", stopErr)
			}
			return nil, &LaunchError{Browser: name, Err: fallbackErr}
		}

		outcome = Outcome{
			Requested:    cfg.Browser,
			Launched:     name,
			Headless:     fallback.Headless,
			FallbackUsed: true,
			PrimaryError: err.Error(),
		}
	}

	logger.Info("browser launched",
		"profile", cfg.Profile,
		"browser", outcome.Launched,
		"headless", outcome.Headless,
		"fallback", outcome.FallbackUsed)

	return &Session{
		driver:   driver,
		instance: instance,
		config:   cfg,
		outcome:  outcome,
		logger:   logger,
	}, nil
}

func (s *Session) Config() *envconfig.SessionConfig {
	return s.config
}

func (s *Session) Outcome() Outcome {
	return s.outcome
}

// Page is a page together with the context it was opened in.
type Page struct {
	playwright.Page
	context Context
}

// Release closes the page's browser context.
func (p *Page) Release() error {
	if err := p.context.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

// NewPage opens a fresh browser context with the session's context options
// and a page on it, with the default timeouts applied.
func (s *Session) NewPage() (*Page, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	ctx, err := s.instance.NewContext(ContextOptions(s.config.Context))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := ctx.NewPage()
	if err != nil {
		if closeErr := ctx.Close(); closeErr != nil {
			s.logger.Error("failed to close context", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	ConfigurePage(page, s.config.PageTimeout())

	return &Page{Page: page, context: ctx}, nil
}

// Close closes the browser and then stops the driver. Only the first call
// does any work; later calls return the same result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		var errs []error
		if err := s.instance.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		if err := s.driver.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		s.closeErr = errors.Join(errs...)

		if s.closeErr != nil {
			s.logger.Error("browser session closed with errors", "error", s.closeErr)
			return
		}
		s.logger.Info("browser session closed", "browser", s.outcome.Launched)
	})
	return s.closeErr
}
