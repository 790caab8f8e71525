package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

type timeoutSetter interface {
	SetDefaultTimeout(timeout float64)
	SetDefaultNavigationTimeout(timeout float64)
}

// ConfigurePage sets both the action and the navigation default timeout.
func ConfigurePage(page timeoutSetter, timeout time.Duration) {
	ms := float64(timeout.Milliseconds())
	page.SetDefaultTimeout(ms)
	page.SetDefaultNavigationTimeout(ms)
}

// Retry bounds Navigate. The n-th retry waits n*Backoff.
type Retry struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetry() Retry {
	return Retry{Attempts: 3, Backoff: time.Second}
}

type navigator interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
}

// Navigate loads url, retrying failed navigations.
func Navigate(page navigator, url string, retry Retry, logger *slog.Logger) (playwright.Response, error) {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for i := 0; i < retry.Attempts; i++ {
		if i > 0 {
			logger.Info("retrying navigation", "attempt", i+1, "url", url)
			time.Sleep(time.Duration(i) * retry.Backoff)
		}

		resp, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		logger.Error("navigation failed", "error", err, "attempt", i+1, "url", url)
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", retry.Attempts, lastErr)
}
