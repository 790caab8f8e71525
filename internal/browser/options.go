package browser

import (
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/browserenv/internal/envconfig"
)

// LaunchOptions maps a resolved launch config onto playwright launch options.
func LaunchOptions(cfg envconfig.LaunchConfig) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	}

	if cfg.SlowMo > 0 {
		opts.SlowMo = playwright.Float(float64(cfg.SlowMo))
	}
	if len(cfg.Args) > 0 {
		opts.Args = append([]string(nil), cfg.Args...)
	}
	if cfg.Channel != nil {
		opts.Channel = playwright.String(*cfg.Channel)
	}

	return opts
}

// ContextOptions maps a resolved context config onto playwright context options.
func ContextOptions(cfg envconfig.ContextConfig) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		JavaScriptEnabled: playwright.Bool(true),
	}

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		}
	}
	if cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(cfg.UserAgent)
	}
	if cfg.Locale != "" {
		opts.Locale = playwright.String(cfg.Locale)
	}
	if cfg.TimezoneID != "" {
		opts.TimezoneId = playwright.String(cfg.TimezoneID)
	}
	if len(cfg.Permissions) > 0 {
		opts.Permissions = append([]string(nil), cfg.Permissions...)
	}
	if len(cfg.ExtraHeaders) > 0 {
		headers := make(map[string]string, len(cfg.ExtraHeaders))
		for k, v := range cfg.ExtraHeaders {
			headers[k] = v
		}
		opts.ExtraHttpHeaders = headers
	}
	if cfg.RecordVideo != nil {
		opts.RecordVideo = &playwright.RecordVideo{
			Dir: cfg.RecordVideo.Dir,
			Size: &playwright.Size{
				Width:  cfg.RecordVideo.Width,
				Height: cfg.RecordVideo.Height,
			},
		}
	}

	return opts
}
