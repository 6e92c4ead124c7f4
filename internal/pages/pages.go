// internal/pages/pages.go
//
// Package pages models the careers site as page objects. Pages only speak
// the interaction vocabulary of a session; they never touch a browser client
// directly, so every lookup inherits the session's waits and retries.
package pages

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/session"
)

// Driver is the part of the interaction session the page objects use.
// *session.Session implements it.
type Driver interface {
	Exists(ctx context.Context, loc browser.Locator, opts ...session.OpOption) bool
	Count(ctx context.Context, loc browser.Locator) int
	Text(ctx context.Context, loc browser.Locator, opts ...session.OpOption) (string, error)
	Attribute(ctx context.Context, loc browser.Locator, name string, opts ...session.OpOption) (string, bool, error)

	Click(ctx context.Context, loc browser.Locator, opts ...session.OpOption) error
	ClickScript(ctx context.Context, loc browser.Locator, opts ...session.OpOption) error
	Hover(ctx context.Context, loc browser.Locator, opts ...session.OpOption) error
	ScrollIntoView(ctx context.Context, loc browser.Locator, opts ...session.OpOption) error
	SelectByText(ctx context.Context, loc browser.Locator, text string, opts ...session.OpOption) error

	WaitVisible(ctx context.Context, loc browser.Locator, opts ...session.OpOption) (browser.Handle, error)
	WaitForPageLoad(ctx context.Context, opts ...session.OpOption) error

	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	SwitchToNewWindow(ctx context.Context, opts ...session.OpOption) error
}

var _ Driver = (*session.Session)(nil)

// ErrVerification marks a page that loaded but does not look the way the
// workflow expects.
var ErrVerification = errors.New("page verification failed")

// Paths of the careers site, relative to the base URL.
const (
	CareersPath          = "careers/"
	QualityAssurancePath = "careers/quality-assurance/"
	OpenPositionsPath    = "careers/open-positions/"
)

// Short budgets for optional elements, so their absence costs little.
const (
	DefaultOptionalWait = 3 * time.Second
	DefaultMenuSettle   = time.Second
)

// Option adjusts the page objects built by New.
type Option func(*page)

// WithOptionalWait bounds the wait for elements that may legitimately be
// absent (the cookie banner, a menu entry, a new window).
func WithOptionalWait(d time.Duration) Option {
	return func(p *page) { p.optional = d }
}

// WithMenuSettle bounds the wait for a dropdown menu entry to become visible.
func WithMenuSettle(d time.Duration) Option {
	return func(p *page) { p.settle = d }
}

// page is what every page object carries.
type page struct {
	d        Driver
	base     *url.URL
	logger   *zap.Logger
	optional time.Duration
	settle   time.Duration
}

func (p page) url(path string) string {
	return p.base.ResolveReference(&url.URL{Path: path}).String()
}

// open navigates to path and waits for the document to load.
func (p page) open(ctx context.Context, path string) error {
	if err := p.d.Navigate(ctx, p.url(path)); err != nil {
		return err
	}
	return p.d.WaitForPageLoad(ctx)
}

// New returns the home page of the site at baseURL.
func New(d Driver, baseURL string, logger *zap.Logger, opts ...Option) (*Home, error) {
	if d == nil {
		return nil, errors.New("pages: a driver is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := page{
		d:        d,
		base:     base,
		logger:   logger.Named("pages"),
		optional: DefaultOptionalWait,
		settle:   DefaultMenuSettle,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &Home{p}, nil
}

// navigable reports whether a failed UI step may be replaced by a direct
// navigation: the element never showed up, never became ready, or stayed
// covered. Every other failure, cancellation included, propagates.
var navigable = browser.IsKind(browser.KindNotFound, browser.KindTimeout, browser.KindInterceptedAction)

// missing reports whether err only says an element is absent or not ready.
var missing = browser.IsKind(browser.KindNotFound, browser.KindTimeout)
