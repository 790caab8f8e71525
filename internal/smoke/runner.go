// Package smoke visits a list of pages over one browser session and checks
// that each one loads with the session's configuration.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/browserenv/internal/browser"
	"github.com/maltedev/browserenv/internal/queue"
	"github.com/maltedev/browserenv/internal/storage"
)

// Page is what the runner needs from a browser page.
type Page interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	Content() (string, error)
	Release() error
}

type PageOpener interface {
	NewPage() (Page, error)
}

// Limiter paces visits and adapts to their outcome.
type Limiter interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

type ResultStore interface {
	Save(result *storage.Result) error
}

// Expectations are checked on every visited page. Empty fields are skipped.
type Expectations struct {
	Title string
	// AcceptLanguage is compared with the text of #accept-language when the
	// page has one.
	AcceptLanguage string
}

type Config struct {
	Browser    string
	MaxRetries int
	Navigate   browser.Retry
	Expect     Expectations
}

// Summary counts the final result of every target. Skipped targets were
// still queued when the run was cancelled.
type Summary struct {
	Passed  int
	Failed  int
	Skipped int
}

type Runner struct {
	opener  PageOpener
	queue   queue.Queue
	limiter Limiter
	store   ResultStore
	config  Config
	logger  *slog.Logger
}

func NewRunner(opener PageOpener, q queue.Queue, limiter Limiter, store ResultStore, config Config, logger *slog.Logger) *Runner {
	if config.Navigate.Attempts == 0 {
		config.Navigate = browser.DefaultRetry()
	}
	return &Runner{
		opener:  opener,
		queue:   q,
		limiter: limiter,
		store:   store,
		config:  config,
		logger:  logger.With("component", "smoke"),
	}
}

// Run visits queued targets until the queue is empty. Failed targets are
// pushed back with lower priority until MaxRetries is used up. Cancelling
// ctx closes the queue and counts what is left as skipped.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	for {
		if err := ctx.Err(); err != nil {
			return summary, r.abort(summary, err)
		}

		target, err := r.queue.TryPop()
		if errors.Is(err, queue.ErrQueueEmpty) || errors.Is(err, queue.ErrQueueClosed) {
			break
		}
		if err != nil {
			return summary, err
		}

		if err := r.limiter.Wait(ctx); err != nil {
			if pushErr := r.queue.Push(target); pushErr != nil {
				r.logger.Error("failed to requeue target", "target", target.ID, "error", pushErr)
			}
			return summary, r.abort(summary, err)
		}

		result := r.visit(target)
		if result.Status == storage.StatusPassed {
			r.limiter.RecordSuccess()
		} else {
			r.limiter.RecordError()

			if target.Retries < r.config.MaxRetries {
				target.Retries++
				target.Priority--
				r.logger.Warn("smoke check failed, retrying",
					"target", target.ID,
					"url", target.URL,
					"attempt", target.Retries,
					"error", result.Error)
				if err := r.queue.Push(target); err != nil {
					return summary, fmt.Errorf("failed to requeue %s: %w", target.ID, err)
				}
				continue
			}
		}

		if err := r.store.Save(result); err != nil {
			return summary, fmt.Errorf("failed to save result: %w", err)
		}

		if result.Status == storage.StatusPassed {
			summary.Passed++
			r.logger.Info("smoke check passed", "target", target.ID, "url", target.URL, "duration_ms", result.DurationMs)
		} else {
			summary.Failed++
			r.logger.Error("smoke check failed", "target", target.ID, "url", target.URL, "error", result.Error)
		}
	}

	return summary, nil
}

func (r *Runner) abort(summary *Summary, cause error) error {
	if err := r.queue.Close(); err != nil {
		r.logger.Error("failed to close queue", "error", err)
	}
	summary.Skipped = r.queue.Size()
	r.logger.Warn("smoke run interrupted", "skipped", summary.Skipped, "error", cause)
	return cause
}

func (r *Runner) visit(target *queue.Target) *storage.Result {
	start := time.Now()
	result := &storage.Result{
		TargetID: target.ID,
		URL:      target.URL,
		Name:     target.Name,
		Browser:  r.config.Browser,
		Attempts: target.Retries + 1,
	}

	err := r.check(target.URL, result)
	result.DurationMs = time.Since(start).Milliseconds()
	result.CheckedAt = time.Now()
	if err != nil {
		result.Status = storage.StatusFailed
		result.Error = err.Error()
		return result
	}

	result.Status = storage.StatusPassed
	return result
}

func (r *Runner) check(url string, result *storage.Result) error {
	page, err := r.opener.NewPage()
	if err != nil {
		return err
	}
	defer func() {
		if err := page.Release(); err != nil {
			r.logger.Warn("failed to release page", "error", err)
		}
	}()

	resp, err := browser.Navigate(page, url, r.config.Navigate, r.logger)
	if err != nil {
		return err
	}
	if resp != nil {
		result.HTTPStatus = resp.Status()
		if result.HTTPStatus >= 400 {
			return fmt.Errorf("unexpected status %d", result.HTTPStatus)
		}
	}

	html, err := page.Content()
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse content: %w", err)
	}

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if want := r.config.Expect.Title; want != "" && result.Title != want {
		return fmt.Errorf("title %q, want %q", result.Title, want)
	}

	if want := r.config.Expect.AcceptLanguage; want != "" {
		if sel := doc.Find("#accept-language"); sel.Length() > 0 {
			if got := strings.TrimSpace(sel.Text()); got != want {
				return fmt.Errorf("accept-language %q, want %q", got, want)
			}
		}
	}

	return nil
}

// SessionOpener opens smoke pages on a browser session.
type SessionOpener struct {
	Session *browser.Session
}

func (o SessionOpener) NewPage() (Page, error) {
	page, err := o.Session.NewPage()
	if err != nil {
		return nil, err
	}
	return page, nil
}
