// internal/browser/pw/client.go
//
// Package pw implements browser.Client with Playwright. It is the client used
// for Firefox and WebKit, and for Chromium when the playwright engine is
// requested explicitly.
package pw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	installTimeout      = 5 * time.Minute
	shutdownGracePeriod = 15 * time.Second
	launchTimeoutMillis = 60000
	defaultActionWait   = 2 * time.Second
)

// Options shape the browser the client launches or connects to.
type Options struct {
	// Browser is one of "chromium", "firefox" or "webkit".
	Browser  string
	Headless bool
	// RemoteURL is a Playwright server websocket endpoint. When set no
	// browser is launched.
	RemoteURL    string
	ExecPath     string
	Args         []string
	WindowWidth  int
	WindowHeight int
	UserAgent    string
	// Install downloads the browser binaries before the first launch.
	Install bool
	// CommandTimeout becomes Playwright's default timeout for every call.
	CommandTimeout time.Duration
	// ActionTimeout bounds Playwright's own actionability checks on click
	// and hover, so an obscured element is reported instead of waited out.
	ActionTimeout time.Duration
}

// Client is a Playwright-backed browser.Client.
type Client struct {
	logger        *zap.Logger
	pw            *playwright.Playwright
	browser       playwright.Browser
	bctx          playwright.BrowserContext
	actionTimeout time.Duration

	mu sync.Mutex
	// pages[0] is the page the client started with; the last entry has focus.
	pages []playwright.Page

	closeOnce sync.Once
	closeErr  error
}

var (
	_ browser.Client        = (*Client)(nil)
	_ browser.Windows       = (*Client)(nil)
	_ browser.Screenshotter = (*Client)(nil)
)

// ensureInstallation downloads the browser binaries, giving up when ctx ends
// or the install timeout passes.
func ensureInstallation(ctx context.Context, logger *zap.Logger, name string) error {
	logger.Info("Verifying Playwright browser installation.", zap.String("browser", name))
	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{name}}); err != nil {
			done <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

// LaunchOptions builds the launch options for a local browser.
func LaunchOptions(opts Options) playwright.BrowserTypeLaunchOptions {
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Timeout:  playwright.Float(launchTimeoutMillis),
	}
	if opts.ExecPath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecPath)
	}
	args := append([]string(nil), opts.Args...)
	if opts.Browser == "chromium" {
		args = append([]string{"--disable-gpu", "--disable-dev-shm-usage", "--disable-popup-blocking"}, args...)
	}
	if len(args) > 0 {
		launch.Args = args
	}
	return launch
}

func contextOptions(opts Options) playwright.BrowserNewContextOptions {
	var co playwright.BrowserNewContextOptions
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		co.Viewport = &playwright.Size{Width: opts.WindowWidth, Height: opts.WindowHeight}
	}
	if opts.UserAgent != "" {
		co.UserAgent = playwright.String(opts.UserAgent)
	}
	return co
}

func browserType(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch name {
	case "chromium":
		return pw.Chromium, nil
	case "firefox":
		return pw.Firefox, nil
	case "webkit":
		return pw.WebKit, nil
	default:
		return nil, browser.Errorf(browser.KindUnsupportedConfiguration, "launch", name, "playwright has no browser named %q", name)
	}
}

// New starts the Playwright driver, launches (or connects to) the browser and
// opens the first page. ctx only bounds start-up.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("playwright").With(zap.String("browser", opts.Browser))

	if opts.Install {
		if err := ensureInstallation(ctx, logger, opts.Browser); err != nil {
			return nil, err
		}
	}

	type started struct {
		c   *Client
		err error
	}
	done := make(chan started, 1)
	go func() {
		c, err := launch(opts, logger)
		done <- started{c, err}
	}()

	select {
	case s := <-done:
		return s.c, s.err
	case <-ctx.Done():
		// The launch cannot be interrupted. Reap it in the background.
		go func() {
			if s := <-done; s.c != nil {
				_ = s.c.Close(context.Background())
			}
		}()
		return nil, fmt.Errorf("browser start-up aborted: %w", ctx.Err())
	}
}

func launch(opts Options, logger *zap.Logger) (*Client, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	bt, err := browserType(pw, opts.Browser)
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}

	var b playwright.Browser
	if opts.RemoteURL != "" {
		logger.Info("Connecting to remote browser.", zap.String("url", opts.RemoteURL))
		b, err = bt.Connect(opts.RemoteURL)
	} else {
		logger.Info("Launching local browser.", zap.Bool("headless", opts.Headless))
		b, err = bt.Launch(LaunchOptions(opts))
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}

	bctx, err := b.NewContext(contextOptions(opts))
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if opts.CommandTimeout > 0 {
		bctx.SetDefaultTimeout(float64(opts.CommandTimeout.Milliseconds()))
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	actionTimeout := opts.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = defaultActionWait
	}
	logger.Info("Browser ready.", zap.String("browser_version", b.Version()))
	return &Client{
		logger:        logger,
		pw:            pw,
		browser:       b,
		bctx:          bctx,
		actionTimeout: actionTimeout,
		pages:         []playwright.Page{page},
	}, nil
}

func (c *Client) page() playwright.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages[len(c.pages)-1]
}

// call runs a blocking Playwright call, returning early when ctx ends. The
// call itself is bounded by the context's default timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func do(ctx context.Context, fn func() error) error {
	_, err := call(ctx, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	c.logger.Debug("Navigating.", zap.String("url", url))
	p := c.page()
	_, err := call(ctx, func() (playwright.Response, error) { return p.Goto(url) })
	return classify("navigate", url, err)
}

func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	return c.page().URL(), ctx.Err()
}

func (c *Client) Title(ctx context.Context) (string, error) {
	p := c.page()
	t, err := call(ctx, p.Title)
	return t, classify("title", "", err)
}

// Evaluate runs src as a function body with args bound to arguments.
func (c *Client) Evaluate(ctx context.Context, src string, args []any, out any) error {
	if args == nil {
		args = []any{}
	}
	expr := fmt.Sprintf("(args) => (function(){%s\n}).apply(null, args) ?? null", src)
	p := c.page()
	v, err := call(ctx, func() (any, error) { return p.Evaluate(expr, args) })
	if err != nil {
		return classify("evaluate", "", err)
	}
	return decode(v, out)
}

// decode moves a Playwright result into out through its JSON form.
func decode(v any, out any) error {
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding script result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding script result %s: %w", raw, err)
	}
	return nil
}

func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	p := c.page()
	buf, err := call(ctx, func() ([]byte, error) { return p.Screenshot() })
	return buf, classify("screenshot", "", err)
}

// SwitchToNewest focuses the most recent page the client has not seen yet.
func (c *Client) SwitchToNewest(ctx context.Context) error {
	c.mu.Lock()
	known := make(map[playwright.Page]bool, len(c.pages))
	for _, p := range c.pages {
		known[p] = true
	}
	c.mu.Unlock()

	var newest playwright.Page
	for _, p := range c.bctx.Pages() {
		if !known[p] && !p.IsClosed() {
			newest = p
		}
	}
	if newest == nil {
		return browser.Errorf(browser.KindNotYetReady, "switch-window", "", "no new window is open")
	}
	if err := do(ctx, newest.BringToFront); err != nil {
		return fmt.Errorf("switch-window: %w", err)
	}
	c.mu.Lock()
	c.pages = append(c.pages, newest)
	c.mu.Unlock()
	c.logger.Debug("Switched to window.", zap.String("url", newest.URL()))
	return nil
}

// CloseCurrent closes the focused page and focuses the one that had focus
// before it.
func (c *Client) CloseCurrent(ctx context.Context) error {
	c.mu.Lock()
	if len(c.pages) < 2 {
		c.mu.Unlock()
		return errors.New("close-window: refusing to close the last window")
	}
	p := c.pages[len(c.pages)-1]
	c.pages = c.pages[:len(c.pages)-1]
	prev := c.pages[len(c.pages)-1]
	c.mu.Unlock()

	if err := do(ctx, func() error { return p.Close() }); err != nil {
		return fmt.Errorf("close-window: %w", err)
	}
	return do(ctx, prev.BringToFront)
}

// Close shuts down the browser context, the browser and the driver. It is
// safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.logger.Info("Shutting down browser.")
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGracePeriod)
		defer cancel()

		if err := do(cleanupCtx, func() error { return c.bctx.Close() }); err != nil {
			c.logger.Warn("Failed to close browser context.", zap.Error(err))
		}
		if err := do(cleanupCtx, func() error { return c.browser.Close() }); err != nil {
			c.logger.Error("Failed to close browser instance.", zap.Error(err))
			c.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		if err := do(cleanupCtx, c.pw.Stop); err != nil {
			c.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
			if c.closeErr == nil {
				c.closeErr = fmt.Errorf("failed to stop playwright driver: %w", err)
			}
		}
	})
	return c.closeErr
}
