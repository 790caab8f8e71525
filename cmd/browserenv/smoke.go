package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/browserenv/internal/browser"
	"github.com/maltedev/browserenv/internal/fixtureserver"
	"github.com/maltedev/browserenv/internal/harness"
	"github.com/maltedev/browserenv/internal/queue"
	"github.com/maltedev/browserenv/internal/ratelimit"
	"github.com/maltedev/browserenv/internal/smoke"
	"github.com/maltedev/browserenv/internal/storage"
)

type smokeOptions struct {
	targetsFile string
	report      string
	minDelay    time.Duration
	maxDelay    time.Duration
	retries     int
	navAttempts int
	expectTitle string
}

func newSmokeCmd(a *app) *cobra.Command {
	opts := &smokeOptions{}

	cmd := &cobra.Command{
		Use:   "smoke [url]...",
		Short: "Open a browser session and check that pages load",
		Long: `Open one browser session with the resolved configuration and visit each
target. Without urls or --targets a built-in fixture page is served on a
random local port and checked instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmoke(cmd.Context(), a, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.targetsFile, "targets", "", "YAML file listing targets")
	flags.StringVar(&opts.report, "report", "test-results/smoke.json", "JSON report file")
	flags.DurationVar(&opts.minDelay, "min-delay", 200*time.Millisecond, "minimum delay between visits")
	flags.DurationVar(&opts.maxDelay, "max-delay", 500*time.Millisecond, "maximum delay between visits")
	flags.IntVar(&opts.retries, "retries", 1, "times a failed target is requeued")
	flags.IntVar(&opts.navAttempts, "nav-attempts", 3, "navigation attempts per visit")
	flags.StringVar(&opts.expectTitle, "expect-title", "", "title every page must have")

	return cmd
}

func runSmoke(ctx context.Context, a *app, opts *smokeOptions, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var targets []*queue.Target
	var err error
	expectTitle := opts.expectTitle

	switch {
	case opts.targetsFile != "":
		targets, err = smoke.LoadTargets(opts.targetsFile)
	case len(args) > 0:
		targets, err = smoke.TargetsFromURLs(args)
	default:
		url, stop, serveErr := serveFixture(a)
		if serveErr != nil {
			return serveErr
		}
		defer stop()
		if expectTitle == "" {
			expectTitle = fixtureserver.Title
		}
		targets, err = smoke.TargetsFromURLs([]string{url})
	}
	if err != nil {
		return err
	}

	store, err := storage.NewReportStore(opts.report)
	if err != nil {
		return err
	}
	if err := store.Reset(); err != nil {
		return fmt.Errorf("failed to reset report: %w", err)
	}

	harnessOpts := []harness.Option{harness.WithEnv(a.env), harness.WithLogger(a.logger)}
	if a.driver != nil {
		harnessOpts = append(harnessOpts, harness.WithDriver(a.driver))
	}
	suite, err := harness.Start(harnessOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := suite.Close(); err != nil {
			a.logger.Error("failed to close browser session", "error", err)
		}
	}()

	q := queue.NewInMemoryQueue()
	if err := q.PushBatch(targets); err != nil {
		return err
	}
	limiter := ratelimit.NewAdaptiveRateLimiter(opts.minDelay, opts.maxDelay)

	cfg := suite.Config()
	runner := smoke.NewRunner(
		smoke.SessionOpener{Session: suite.Session()},
		q,
		limiter,
		store,
		smoke.Config{
			Browser:    string(suite.Outcome().Launched),
			MaxRetries: opts.retries,
			Navigate:   browser.Retry{Attempts: opts.navAttempts, Backoff: time.Second},
			Expect: smoke.Expectations{
				Title:          expectTitle,
				AcceptLanguage: cfg.Context.ExtraHeaders["Accept-Language"],
			},
		},
		a.logger,
	)

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	minDelay, maxDelay := limiter.Delays()
	a.logger.Info("smoke run finished",
		"passed", summary.Passed,
		"failed", summary.Failed,
		"min_delay", minDelay,
		"max_delay", maxDelay,
		"report", opts.report)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d smoke checks failed", summary.Failed, summary.Passed+summary.Failed)
	}
	return nil
}

// serveFixture starts the fixture site on a free loopback port.
func serveFixture(a *app) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen: %w", err)
	}

	server := fixtureserver.NewServer(ln.Addr().String(), fixtureserver.NewRouter(a.logger))
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("fixture server failed", "error", err)
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			a.logger.Error("fixture server shutdown failed", "error", err)
		}
	}

	return "http://" + ln.Addr().String() + "/", stop, nil
}
