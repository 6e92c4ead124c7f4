// internal/browser/cdp/client.go
//
// Package cdp implements browser.Client over the Chrome DevTools Protocol
// with chromedp. It drives a locally launched Chrome/Chromium or attaches to
// a remote DevTools endpoint.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/browser/session"
)

const shutdownTimeout = 10 * time.Second

// Options shape the browser the client launches or attaches to.
type Options struct {
	Headless bool
	// RemoteURL is a DevTools websocket (or http) endpoint. When set no
	// browser is launched.
	RemoteURL    string
	ExecPath     string
	WindowWidth  int
	WindowHeight int
	UserAgent    string
	// Args are extra switches, "name" or "name=value".
	Args []string
	// CommandTimeout bounds every protocol round trip.
	CommandTimeout time.Duration
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     target.ID
}

// Client is a chromedp-backed browser.Client.
type Client struct {
	logger  *zap.Logger
	timeout time.Duration

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu sync.Mutex
	// tabs[0] is the window the client started with; the last entry has focus.
	tabs []tab
}

var (
	_ browser.Client        = (*Client)(nil)
	_ browser.Windows       = (*Client)(nil)
	_ browser.Screenshotter = (*Client)(nil)
)

// ExecAllocatorOptions builds the launch flags for a local browser.
func ExecAllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-popup-blocking", true),
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	for _, arg := range opts.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			allocOpts = append(allocOpts, chromedp.Flag(key, value))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(key, true))
		}
	}
	return allocOpts
}

// New launches (or attaches to) a browser and opens the first tab. ctx only
// bounds start-up; the browser lives until Close.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cdp")

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		logger.Info("Attaching to remote browser.", zap.String("url", opts.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		logger.Info("Launching local browser.", zap.Bool("headless", opts.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), ExecAllocatorOptions(opts)...)
	}

	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf))

	c := &Client{
		logger:        logger,
		timeout:       opts.CommandTimeout,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	// The first Run starts the browser. It must run on browserCtx itself, or
	// chromedp would tie the browser's lifetime to the start-up deadline.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		<-started
		return nil, fmt.Errorf("browser start-up aborted: %w", ctx.Err())
	}

	first := chromedp.FromContext(browserCtx)
	var id target.ID
	if first != nil && first.Target != nil {
		id = first.Target.TargetID
	}
	c.tabs = []tab{{ctx: browserCtx, cancel: browserCancel, id: id}}
	return c, nil
}

func (c *Client) current() tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tabs[len(c.tabs)-1]
}

// run executes actions in the focused tab under ctx's cancellation and the
// per-command timeout.
func (c *Client) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	t := c.current()
	opCtx, cancel := session.CombineContext(t.ctx, ctx)
	defer cancel()
	if c.timeout > 0 {
		var tcancel context.CancelFunc
		opCtx, tcancel = context.WithTimeout(opCtx, c.timeout)
		defer tcancel()
	}

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if t.ctx.Err() != nil {
		return fmt.Errorf("%s: browser tab is gone: %w", op, t.ctx.Err())
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return &browser.Error{Kind: browser.KindTimeout, Op: op, Timeout: c.timeout, Err: err}
	}
	return err
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	c.logger.Debug("Navigating.", zap.String("url", url))
	return c.run(ctx, "navigate", chromedp.Navigate(url))
}

func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := c.run(ctx, "current-url", chromedp.Location(&u))
	return u, err
}

func (c *Client) Title(ctx context.Context) (string, error) {
	var t string
	err := c.run(ctx, "title", chromedp.Title(&t))
	return t, err
}

// Evaluate runs src as a function body with args bound to arguments.
func (c *Client) Evaluate(ctx context.Context, src string, args []any, out any) error {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("evaluate: encoding arguments: %w", err)
	}
	// chromedp rejects an undefined result, so a body without a return
	// value yields null instead.
	script := fmt.Sprintf("(function(){%s\n}).apply(null, %s) ?? null", src, encoded)

	var raw []byte
	if err := c.run(ctx, "evaluate", chromedp.Evaluate(script, &raw)); err != nil {
		return err
	}
	return decode(raw, out)
}

func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, "screenshot", chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// SwitchToNewest attaches to the most recent page target the client has not
// seen yet. It reports NotYetReady while no such window exists.
func (c *Client) SwitchToNewest(ctx context.Context) error {
	opCtx, cancel := session.CombineContext(c.browserCtx, ctx)
	defer cancel()
	infos, err := chromedp.Targets(opCtx)
	if err != nil {
		return fmt.Errorf("switch-window: listing targets: %w", err)
	}

	c.mu.Lock()
	known := make(map[target.ID]bool, len(c.tabs))
	for _, t := range c.tabs {
		known[t.id] = true
	}
	c.mu.Unlock()

	var newest *target.Info
	for _, info := range infos {
		if info.Type == "page" && !known[info.TargetID] {
			newest = info
		}
	}
	if newest == nil {
		return browser.Errorf(browser.KindNotYetReady, "switch-window", "", "no new window is open")
	}

	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(newest.TargetID))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return fmt.Errorf("switch-window: attaching to %s: %w", newest.TargetID, err)
	}
	c.mu.Lock()
	c.tabs = append(c.tabs, tab{ctx: tabCtx, cancel: tabCancel, id: newest.TargetID})
	c.mu.Unlock()
	c.logger.Debug("Switched to window.", zap.String("target_id", string(newest.TargetID)), zap.String("url", newest.URL))
	return nil
}

// CloseCurrent closes the focused window and focuses the one that had focus
// before it.
func (c *Client) CloseCurrent(ctx context.Context) error {
	c.mu.Lock()
	if len(c.tabs) < 2 {
		c.mu.Unlock()
		return errors.New("close-window: refusing to close the last window")
	}
	t := c.tabs[len(c.tabs)-1]
	c.tabs = c.tabs[:len(c.tabs)-1]
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(t.ctx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close-window: %w", err)
		}
		return nil
	case <-ctx.Done():
		t.cancel()
		return ctx.Err()
	}
}

// Close shuts down every tab and the browser (or detaches from a remote one).
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	tabs := c.tabs
	c.tabs = c.tabs[:1]
	c.mu.Unlock()
	for _, t := range tabs[1:] {
		t.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// chromedp.Cancel blocks until the browser exits, so it runs under our
	// own deadline.
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(c.browserCtx) }()

	var err error
	select {
	case err = <-done:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case <-shutdownCtx.Done():
		c.logger.Warn("Browser shutdown timed out, proceeding forcefully.", zap.Duration("timeout", shutdownTimeout))
		err = shutdownCtx.Err()
	}
	c.browserCancel()
	c.allocCancel()
	return err
}
