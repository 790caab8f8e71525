package harness

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/browserenv/internal/browser"
	"github.com/maltedev/browserenv/internal/envconfig"
	"github.com/maltedev/browserenv/internal/events"
)

type fakeDriver struct {
	failures map[envconfig.BrowserName]error
	launched []envconfig.BrowserName
	opts     []playwright.BrowserTypeLaunchOptions
	instance *fakeInstance
	stopped  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		failures: map[envconfig.BrowserName]error{},
		instance: &fakeInstance{html: "<html><head><title>fixture</title></head><body><p id=\"greeting\">hello</p></body></html>"},
	}
}

func (d *fakeDriver) Launch(name envconfig.BrowserName, opts playwright.BrowserTypeLaunchOptions) (browser.Instance, error) {
	d.launched = append(d.launched, name)
	d.opts = append(d.opts, opts)
	if err := d.failures[name]; err != nil {
		delete(d.failures, name)
		return nil, err
	}
	return d.instance, nil
}

func (d *fakeDriver) Stop() error {
	d.stopped++
	return nil
}

type fakeInstance struct {
	html     string
	contexts []*fakeContext
	closed   int
	closeErr error
}

func (i *fakeInstance) NewContext(opts playwright.BrowserNewContextOptions) (browser.Context, error) {
	c := &fakeContext{opts: opts, html: i.html}
	i.contexts = append(i.contexts, c)
	return c, nil
}

func (i *fakeInstance) Close() error {
	i.closed++
	return i.closeErr
}

type fakeContext struct {
	opts   playwright.BrowserNewContextOptions
	html   string
	page   *fakePage
	closed bool
}

func (c *fakeContext) NewPage() (playwright.Page, error) {
	c.page = &fakePage{html: c.html}
	return c.page, nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return nil
}

type fakePage struct {
	playwright.Page
	html              string
	timeout           float64
	navigationTimeout float64
}

func (p *fakePage) SetDefaultTimeout(timeout float64)           { p.timeout = timeout }
func (p *fakePage) SetDefaultNavigationTimeout(timeout float64) { p.navigationTimeout = timeout }
func (p *fakePage) Content() (string, error)                    { return p.html, nil }

type recordedEvent struct {
	eventType events.EventType
	payload   events.SessionEventPayload
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, eventType events.EventType, payload *events.SessionEventPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType: eventType, payload: *payload})
	return p.err
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []events.EventType
	for _, e := range p.events {
		types = append(types, e.eventType)
	}
	return types
}

func startSuite(t *testing.T, env envconfig.Snapshot, driver *fakeDriver, publisher events.SessionPublisher) *Suite {
	t.Helper()
	suite, err := Start(
		WithEnv(env),
		WithDriver(driver),
		WithPublisher(publisher),
		WithLogger(slog.Default()),
	)
	require.NoError(t, err)
	return suite
}

func TestStart(t *testing.T) {
	t.Run("ci firefox", func(t *testing.T) {
		driver := newFakeDriver()
		publisher := &recordingPublisher{}

		suite := startSuite(t, envconfig.Snapshot{"TEST_ENV": "ci", "BROWSER": "firefox"}, driver, publisher)
		defer suite.Close()

		assert.Equal(t, []envconfig.BrowserName{envconfig.Firefox}, driver.launched)
		require.NotNil(t, driver.opts[0].Headless)
		assert.True(t, *driver.opts[0].Headless)
		assert.Equal(t, envconfig.ProfileCI, suite.Config().Profile)
		assert.NotEmpty(t, suite.RunID())

		assert.Equal(t, []events.EventType{events.EventTypeSessionStarted}, publisher.types())
		started := publisher.events[0].payload
		assert.Equal(t, suite.RunID(), started.RunID)
		assert.Equal(t, "ci", started.Profile)
		assert.Equal(t, "firefox", started.LaunchedBrowser)
		assert.False(t, started.FallbackUsed)
	})

	t.Run("fallback publishes an extra event", func(t *testing.T) {
		driver := newFakeDriver()
		driver.failures[envconfig.WebKit] = errors.New("webkit is not installed")
		publisher := &recordingPublisher{}

		suite := startSuite(t, envconfig.Snapshot{"BROWSER": "webkit"}, driver, publisher)
		defer suite.Close()

		assert.Equal(t, []envconfig.BrowserName{envconfig.WebKit, envconfig.Chromium}, driver.launched)
		assert.True(t, suite.Outcome().FallbackUsed)
		assert.Equal(t,
			[]events.EventType{events.EventTypeSessionStarted, events.EventTypeLaunchFallback},
			publisher.types())

		fallback := publisher.events[1].payload
		assert.Equal(t, "webkit", fallback.RequestedBrowser)
		assert.Equal(t, "chromium", fallback.LaunchedBrowser)
		assert.Equal(t, "webkit is not installed", fallback.PrimaryError)
	})

	t.Run("invalid SLOW_MO fails before launching", func(t *testing.T) {
		driver := newFakeDriver()

		_, err := Start(WithEnv(envconfig.Snapshot{"SLOW_MO": "fast"}), WithDriver(driver), WithPublisher(&recordingPublisher{}))

		assert.ErrorIs(t, err, envconfig.ErrInvalidValue)
		assert.Empty(t, driver.launched)
	})

	t.Run("launch error is returned", func(t *testing.T) {
		driver := newFakeDriver()
		driver.failures[envconfig.Chromium] = errors.New("missing")
		driver.failures[envconfig.Firefox] = errors.New("missing")
		publisher := &recordingPublisher{}

		_, err := Start(WithEnv(envconfig.Snapshot{"BROWSER": "firefox"}), WithDriver(driver), WithPublisher(publisher))

		var launchErr *browser.LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, 1, driver.stopped)
		assert.Empty(t, publisher.types())
	})

	t.Run("publisher errors do not fail the run", func(t *testing.T) {
		publisher := &recordingPublisher{err: errors.New("outbox unavailable")}

		suite := startSuite(t, envconfig.Snapshot{}, newFakeDriver(), publisher)
		assert.NoError(t, suite.Close())
		assert.Len(t, publisher.types(), 2)
	})

	t.Run("no publisher and no database logs events", func(t *testing.T) {
		suite, err := Start(WithEnv(envconfig.Snapshot{}), WithDriver(newFakeDriver()))
		require.NoError(t, err)
		defer suite.Close()

		assert.IsType(t, &events.LogPublisher{}, suite.publisher)
	})

	t.Run("dotenv files fill unset variables", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), ".env.e2e")
		require.NoError(t, os.WriteFile(file, []byte("TEST_ENV=ci\nBROWSER=webkit\n"), 0o644))
		driver := newFakeDriver()

		suite, err := Start(
			WithEnv(envconfig.Snapshot{"BROWSER": "firefox"}),
			WithDotEnv(file),
			WithDriver(driver),
			WithPublisher(&recordingPublisher{}),
		)
		require.NoError(t, err)
		defer suite.Close()

		assert.Equal(t, envconfig.ProfileCI, suite.Config().Profile)
		assert.Equal(t, envconfig.Firefox, suite.Config().Browser)
	})
}

func TestSuite_Page(t *testing.T) {
	driver := newFakeDriver()
	suite := startSuite(t, envconfig.Snapshot{}, driver, &recordingPublisher{})
	defer suite.Close()

	t.Run("page", func(t *testing.T) {
		page := suite.Page(t)
		require.NotNil(t, page)

		ctx := driver.instance.contexts[0]
		assert.Equal(t, float64(30000), ctx.page.timeout)
		assert.Equal(t, float64(30000), ctx.page.navigationTimeout)
		require.NotNil(t, ctx.opts.Locale)
		assert.Equal(t, "en-US", *ctx.opts.Locale)
		assert.False(t, ctx.closed)
	})

	require.Len(t, driver.instance.contexts, 1)
	assert.True(t, driver.instance.contexts[0].closed, "context is released when the test ends")
}

func TestSuite_Close(t *testing.T) {
	t.Run("exactly once", func(t *testing.T) {
		driver := newFakeDriver()
		publisher := &recordingPublisher{}
		suite := startSuite(t, envconfig.Snapshot{}, driver, publisher)

		require.NoError(t, suite.Close())
		require.NoError(t, suite.Close())

		assert.Equal(t, 1, driver.instance.closed)
		assert.Equal(t, 1, driver.stopped)
		assert.Equal(t,
			[]events.EventType{events.EventTypeSessionStarted, events.EventTypeSessionClosed},
			publisher.types())
	})

	t.Run("close error is recorded", func(t *testing.T) {
		driver := newFakeDriver()
		driver.instance.closeErr = errors.New("target closed")
		publisher := &recordingPublisher{}
		suite := startSuite(t, envconfig.Snapshot{}, driver, publisher)

		err := suite.Close()
		require.Error(t, err)
		assert.Equal(t, err, suite.Close())

		closed := publisher.events[len(publisher.events)-1].payload
		assert.Contains(t, closed.CloseError, "target closed")
	})

	t.Run("no pages after close", func(t *testing.T) {
		suite := startSuite(t, envconfig.Snapshot{}, newFakeDriver(), &recordingPublisher{})
		require.NoError(t, suite.Close())

		_, err := suite.Session().NewPage()
		assert.ErrorIs(t, err, browser.ErrSessionClosed)
	})
}

func TestDocument(t *testing.T) {
	page := &fakePage{html: `<html><head><title>fixture</title></head><body><p id="greeting">hello</p></body></html>`}

	doc := Document(t, page)

	assert.Equal(t, "fixture", doc.Find("title").Text())
	assert.Equal(t, "hello", doc.Find("#greeting").Text())
}
