// Package envconfig resolves browser fixture settings from environment
// variables.
package envconfig

import (
	"fmt"
	"strings"
	"time"
)

// Environment variables read by Resolve.
const (
	EnvProfile  = "TEST_ENV"
	EnvBrowser  = "BROWSER"
	EnvChannel  = "BROWSER_CHANNEL"
	EnvHeadless = "HEADLESS"
	EnvSlowMo   = "SLOW_MO"
)

type Profile string

const (
	ProfileLocal Profile = "local"
	ProfileCI    Profile = "ci"
)

type BrowserName string

const (
	Chromium BrowserName = "chromium"
	Firefox  BrowserName = "firefox"
	WebKit   BrowserName = "webkit"
)

const (
	ViewportWidth  = 1920
	ViewportHeight = 1080

	VideoDir = "test-results/videos/"

	DefaultUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	DefaultLocale         = "en-US"
	DefaultTimezoneID     = "America/New_York"
	DefaultAcceptLanguage = "en-US,en;q=0.9"

	DefaultPageTimeout = 30 * time.Second

	localSlowMo = 100
)

// hardeningArgs are appended to every primary launch.
var hardeningArgs = []string{
	"--start-maximized",
	"--disable-web-security",
	"--disable-features=VizDisplayCompositor",
}

// LaunchConfig holds the options a browser is launched with.
type LaunchConfig struct {
	Headless bool     `json:"headless" yaml:"headless"`
	SlowMo   int      `json:"slow_mo_ms" yaml:"slow_mo_ms"`
	Args     []string `json:"args" yaml:"args"`
	Channel  *string  `json:"channel,omitempty" yaml:"channel,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate a resolved config.
func (l LaunchConfig) Clone() LaunchConfig {
	c := l
	if l.Args != nil {
		c.Args = append([]string(nil), l.Args...)
	}
	if l.Channel != nil {
		ch := *l.Channel
		c.Channel = &ch
	}
	return c
}

type VideoConfig struct {
	Dir    string `json:"dir" yaml:"dir"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// ContextConfig holds the per-context settings every test page is created with.
type ContextConfig struct {
	ViewportWidth  int               `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int               `json:"viewport_height" yaml:"viewport_height"`
	UserAgent      string            `json:"user_agent" yaml:"user_agent"`
	Locale         string            `json:"locale" yaml:"locale"`
	TimezoneID     string            `json:"timezone_id" yaml:"timezone_id"`
	Permissions    []string          `json:"permissions" yaml:"permissions"`
	ExtraHeaders   map[string]string `json:"extra_headers" yaml:"extra_headers"`
	RecordVideo    *VideoConfig      `json:"record_video,omitempty" yaml:"record_video,omitempty"`
}

// SessionConfig is everything a test session needs, resolved once at start.
type SessionConfig struct {
	Profile       Profile       `json:"profile" yaml:"profile"`
	Browser       BrowserName   `json:"browser" yaml:"browser"`
	Launch        LaunchConfig  `json:"launch" yaml:"launch"`
	Context       ContextConfig `json:"context" yaml:"context"`
	PageTimeoutMs int           `json:"page_timeout_ms" yaml:"page_timeout_ms"`
}

// PageTimeout returns the per-page default timeout.
func (c *SessionConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutMs) * time.Millisecond
}

// ParseProfile maps TEST_ENV to a profile. Only the exact value "ci" selects
// the CI profile.
func ParseProfile(value string) Profile {
	if value == string(ProfileCI) {
		return ProfileCI
	}
	return ProfileLocal
}

// ParseBrowserName maps BROWSER to a browser family. Matching is
// case-sensitive and anything unrecognised selects chromium.
func ParseBrowserName(value string) BrowserName {
	switch BrowserName(value) {
	case Firefox:
		return Firefox
	case WebKit:
		return WebKit
	default:
		return Chromium
	}
}

// Resolve builds the session configuration from env. Precedence, lowest
// first: built-in defaults, the TEST_ENV profile, then the HEADLESS and
// SLOW_MO overrides.
func Resolve(env Snapshot) (*SessionConfig, error) {
	profile := ParseProfile(env[EnvProfile])

	cfg := &SessionConfig{
		Profile:       profile,
		Browser:       ParseBrowserName(env[EnvBrowser]),
		Context:       defaultContext(),
		PageTimeoutMs: int(DefaultPageTimeout.Milliseconds()),
	}

	switch profile {
	case ProfileCI:
		cfg.Launch.Headless = true
		cfg.Context.RecordVideo = &VideoConfig{
			Dir:    VideoDir,
			Width:  ViewportWidth,
			Height: ViewportHeight,
		}
	default:
		cfg.Launch.Headless = false
		cfg.Launch.SlowMo = localSlowMo
	}

	if channel, ok := env.Lookup(EnvChannel); ok {
		cfg.Launch.Channel = &channel
	}

	if value, ok := env.Lookup(EnvHeadless); ok {
		cfg.Launch.Headless = strings.EqualFold(value, "true")
	}

	slowMo, err := env.getIntOrDefault(EnvSlowMo, cfg.Launch.SlowMo)
	if err != nil {
		return nil, err
	}
	if slowMo < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidValue, EnvSlowMo, slowMo)
	}
	cfg.Launch.SlowMo = slowMo

	cfg.Launch.Args = append([]string(nil), hardeningArgs...)

	return cfg, nil
}

// Fallback is the launch used after the primary launch failed: plain
// headed chromium without channel, slow-mo or extra arguments.
func Fallback() (BrowserName, LaunchConfig) {
	return Chromium, LaunchConfig{Headless: false}
}

func defaultContext() ContextConfig {
	return ContextConfig{
		ViewportWidth:  ViewportWidth,
		ViewportHeight: ViewportHeight,
		UserAgent:      DefaultUserAgent,
		Locale:         DefaultLocale,
		TimezoneID:     DefaultTimezoneID,
		Permissions:    []string{"geolocation"},
		ExtraHeaders: map[string]string{
			"Accept-Language": DefaultAcceptLanguage,
		},
	}
}
