// Package browser launches playwright browsers for a test session and hands
// out configured pages.
package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/browserenv/internal/envconfig"
)

// Driver launches browsers and owns the automation runtime behind them.
type Driver interface {
	Launch(name envconfig.BrowserName, opts playwright.BrowserTypeLaunchOptions) (Instance, error)
	Stop() error
}

// Instance is a launched browser.
type Instance interface {
	NewContext(opts playwright.BrowserNewContextOptions) (Context, error)
	Close() error
}

// Context is an isolated browser context.
type Context interface {
	NewPage() (playwright.Page, error)
	Close() error
}

// PlaywrightDriver is the Driver backed by a running playwright process.
type PlaywrightDriver struct {
	pw *playwright.Playwright
}

// Start runs the playwright driver process.
func Start() (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	return &PlaywrightDriver{pw: pw}, nil
}

func (d *PlaywrightDriver) Launch(name envconfig.BrowserName, opts playwright.BrowserTypeLaunchOptions) (Instance, error) {
	b, err := d.browserType(name).Launch(opts)
	if err != nil {
		return nil, err
	}
	return &playwrightInstance{browser: b}, nil
}

func (d *PlaywrightDriver) Stop() error {
	return d.pw.Stop()
}

func (d *PlaywrightDriver) browserType(name envconfig.BrowserName) playwright.BrowserType {
	switch name {
	case envconfig.Firefox:
		return d.pw.Firefox
	case envconfig.WebKit:
		return d.pw.WebKit
	default:
		return d.pw.Chromium
	}
}

// Install downloads the playwright driver and the given browser families.
// Chromium is always included since it is the fallback.
func Install(names ...envconfig.BrowserName) error {
	if err := playwright.Install(&playwright.RunOptions{Browsers: InstallSet(names...)}); err != nil {
		return fmt.Errorf("failed to install playwright browsers: %w", err)
	}
	return nil
}

// InstallSet returns the de-duplicated browser list to install, chromium first.
func InstallSet(names ...envconfig.BrowserName) []string {
	set := []string{string(envconfig.Chromium)}
	seen := map[envconfig.BrowserName]bool{envconfig.Chromium: true}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		set = append(set, string(name))
	}
	return set
}

type playwrightInstance struct {
	browser playwright.Browser
}

func (i *playwrightInstance) NewContext(opts playwright.BrowserNewContextOptions) (Context, error) {
	c, err := i.browser.NewContext(opts)
	if err != nil {
		return nil, err
	}
	return &playwrightContext{context: c}, nil
}

func (i *playwrightInstance) Close() error {
	return i.browser.Close()
}

type playwrightContext struct {
	context playwright.BrowserContext
}

func (c *playwrightContext) NewPage() (playwright.Page, error) {
	return c.context.NewPage()
}

func (c *playwrightContext) Close() error {
	return c.context.Close()
}
