package browser

import (
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/mock"

	"github.com/maltedev/browserenv/internal/envconfig"
)

type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Launch(name envconfig.BrowserName, opts playwright.BrowserTypeLaunchOptions) (Instance, error) {
	args := m.Called(name, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Instance), args.Error(1)
}

func (m *MockDriver) Stop() error {
	return m.Called().Error(0)
}

type MockInstance struct {
	mock.Mock
}

func (m *MockInstance) NewContext(opts playwright.BrowserNewContextOptions) (Context, error) {
	args := m.Called(opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Context), args.Error(1)
}

func (m *MockInstance) Close() error {
	return m.Called().Error(0)
}

type MockContext struct {
	mock.Mock
}

func (m *MockContext) NewPage() (playwright.Page, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(playwright.Page), args.Error(1)
}

func (m *MockContext) Close() error {
	return m.Called().Error(0)
}

// fakePage overrides only what the package calls; anything else panics on
// the nil embedded interface.
type fakePage struct {
	playwright.Page

	timeout    float64
	navTimeout float64

	gotoErrs []error
	gotoURLs []string
	response playwright.Response
}

func (p *fakePage) SetDefaultTimeout(timeout float64) {
	p.timeout = timeout
}

func (p *fakePage) SetDefaultNavigationTimeout(timeout float64) {
	p.navTimeout = timeout
}

func (p *fakePage) Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.gotoURLs = append(p.gotoURLs, url)
	if len(p.gotoErrs) > 0 {
		err := p.gotoErrs[0]
		p.gotoErrs = p.gotoErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.response, nil
}
