// internal/browser/session/session.go
//
// Package session implements the element interaction façade: the vocabulary
// page objects use to drive a browser. Every operation is a composition of a
// readiness wait and an action, retried as a unit when the failure is one
// the operation knows to be transient.
//
// A Session owns exactly one browser.Client for its whole lifetime. Calls are
// blocking and sequential; a Session must not be used from two goroutines at
// once. Independent sessions share nothing but the read-only Options.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/retry"
	"github.com/xkilldash9x/steady/internal/wait"
)

const closeTimeout = 15 * time.Second

// Options are the wait and retry budgets injected at construction.
type Options struct {
	// ExplicitWait is the default timeout of every readiness wait.
	ExplicitWait time.Duration
	// ImplicitWait bounds each single client command issued outside a wait
	// (actions, reads, navigation queries).
	ImplicitWait time.Duration
	PollInterval time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// OptionsFromConfig maps the configuration budgets onto session Options.
func OptionsFromConfig(cfg config.Interface) Options {
	return Options{
		ExplicitWait: cfg.Wait().Explicit,
		ImplicitWait: cfg.Wait().Implicit,
		PollInterval: cfg.Wait().PollInterval,
		MaxRetries:   cfg.Retry().MaxRetries,
		RetryDelay:   cfg.Retry().Delay,
	}
}

// Session is the interaction façade over one automation client.
type Session struct {
	id     string
	client browser.Client
	logger *zap.Logger
	opts   Options

	retries atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New wraps client in a session. The session takes ownership of the client
// and releases it in Close.
func New(client browser.Client, logger *zap.Logger, opts Options) (*Session, error) {
	if client == nil {
		return nil, errors.New("session: a browser client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = wait.DefaultInterval
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	id := uuid.New().String()
	s := &Session{
		id:     id,
		client: client,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		opts:   opts,
	}
	s.logger.Debug("Interaction session created.",
		zap.Duration("explicit_wait", opts.ExplicitWait),
		zap.Duration("implicit_wait", opts.ImplicitWait),
		zap.Int("max_retries", opts.MaxRetries))
	return s, nil
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string { return s.id }

// Retries returns how many re-executions this session's operations have
// needed so far. Action-level fallbacks are not retries.
func (s *Session) Retries() int64 { return s.retries.Load() }

// Close releases the client. It is safe to call more than once and runs
// even when ctx is already cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		cctx, cancel := context.WithTimeout(Detach(ctx), closeTimeout)
		defer cancel()
		s.closeErr = s.client.Close(cctx)
		if s.closeErr != nil {
			s.logger.Warn("Failed to close browser client cleanly.", zap.Error(s.closeErr))
			return
		}
		s.logger.Debug("Interaction session closed.", zap.Int64("retries", s.retries.Load()))
	})
	return s.closeErr
}

// -- Per-operation options --

type opSettings struct {
	timeout time.Duration
	keep    bool
}

// OpOption adjusts a single façade call.
type OpOption func(*opSettings)

// Within overrides the wait timeout for one call. A zero duration checks once.
func Within(d time.Duration) OpOption {
	return func(o *opSettings) { o.timeout = d }
}

// KeepExisting makes Type append to the current value instead of clearing it.
func KeepExisting() OpOption {
	return func(o *opSettings) { o.keep = true }
}

func (s *Session) settings(opts []OpOption) opSettings {
	o := opSettings{timeout: s.opts.ExplicitWait}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// -- Composition helpers --

// retrying runs op under the session budget, retrying only on kinds. When
// the budget runs out the final failure is wrapped with the attempt count.
func (s *Session) retrying(ctx context.Context, name string, op func(ctx context.Context) error, kinds ...browser.Kind) error {
	transient := browser.IsKind(kinds...)
	policy := retry.Policy{
		MaxRetries: s.opts.MaxRetries,
		Delay:      s.opts.RetryDelay,
		Transient:  transient,
	}
	err := retry.Run(ctx, policy, op,
		retry.WithName(name),
		retry.WithLogger(s.logger),
		retry.WithObserver(func(retry.Retry) { s.retries.Add(1) }))

	if err != nil && transient(err) && ctx.Err() == nil {
		return &browser.ExhaustedError{Op: name, Attempts: policy.Attempts(), Err: err}
	}
	return err
}

// await waits until loc resolves to a node satisfying r. A node that goes
// stale while being checked is "not yet": the next poll re-locates it.
func (s *Session) await(ctx context.Context, op string, loc browser.Locator, r browser.Readiness, timeout time.Duration) (browser.Handle, error) {
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	found := false
	desc := fmt.Sprintf("%s %s", r, loc)
	h, err := wait.Await(ctx, wait.Spec{Description: desc, Timeout: timeout, Interval: s.opts.PollInterval},
		func(ctx context.Context) (browser.Handle, bool, error) {
			h, ok, err := s.client.FindOne(ctx, loc)
			if err != nil || !ok {
				return nil, false, err
			}
			found = true
			if r == browser.Attached {
				return h, true, nil
			}
			ready, err := s.client.Ready(ctx, h, r)
			if err != nil {
				if browser.KindOf(err) == browser.KindStaleReference {
					return nil, false, nil
				}
				return nil, false, err
			}
			return h, ready, nil
		})
	if err == nil {
		return h, nil
	}
	if wait.IsTimeout(err) {
		kind := browser.KindTimeout
		if !found {
			kind = browser.KindNotFound
		}
		return nil, &browser.Error{Kind: kind, Op: op, Target: desc, Timeout: timeout, Err: err}
	}
	return nil, fmt.Errorf("%s %s: %w", op, loc, err)
}

// command bounds a single client call by the implicit wait. Expiry of that
// budget is reported as a Timeout.
func (s *Session) command(ctx context.Context, op, target string, fn func(ctx context.Context) error) error {
	if s.opts.ImplicitWait <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.ImplicitWait)
	defer cancel()
	err := fn(cctx)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) &&
		browser.KindOf(err) == browser.KindUnknown {
		return &browser.Error{Kind: browser.KindTimeout, Op: op, Target: target, Timeout: s.opts.ImplicitWait, Err: err}
	}
	return err
}

func (s *Session) perform(ctx context.Context, h browser.Handle, a browser.Action, payload string) error {
	return s.command(ctx, a.String(), h.String(), func(ctx context.Context) error {
		return s.client.Perform(ctx, h, a, payload)
	})
}

// -- Lookup --

// Find waits for loc to be attached and returns its handle. The handle is
// only valid until the DOM changes; prefer the action methods, which
// re-locate on every attempt.
func (s *Session) Find(ctx context.Context, loc browser.Locator, opts ...OpOption) (browser.Handle, error) {
	o := s.settings(opts)
	var h browser.Handle
	err := s.retrying(ctx, "find "+loc.String(), func(ctx context.Context) error {
		var err error
		h, err = s.await(ctx, "find", loc, browser.Attached, o.timeout)
		return err
	}, browser.KindStaleReference)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// FindAll returns every node currently matching loc without waiting. It
// never fails: a client error is logged and reported as no matches.
func (s *Session) FindAll(ctx context.Context, loc browser.Locator) []browser.Handle {
	var hs []browser.Handle
	err := s.command(ctx, "find-all", loc.String(), func(ctx context.Context) error {
		var err error
		hs, err = s.client.FindAll(ctx, loc)
		return err
	})
	if err != nil {
		s.logger.Warn("Lookup of all matches failed, treating as none.", zap.Stringer("locator", loc), zap.Error(err))
		return []browser.Handle{}
	}
	if hs == nil {
		return []browser.Handle{}
	}
	return hs
}

// Count is len(FindAll(ctx, loc)).
func (s *Session) Count(ctx context.Context, loc browser.Locator) int {
	return len(s.FindAll(ctx, loc))
}

// Exists reports whether loc becomes attached within the wait timeout (or
// the Within override). It never fails.
func (s *Session) Exists(ctx context.Context, loc browser.Locator, opts ...OpOption) bool {
	o := s.settings(opts)
	_, err := s.await(ctx, "exists", loc, browser.Attached, o.timeout)
	if err == nil {
		return true
	}
	switch browser.KindOf(err) {
	case browser.KindNotFound, browser.KindTimeout:
		s.logger.Debug("Element not present.", zap.Stringer("locator", loc), zap.Duration("timeout", o.timeout))
	default:
		s.logger.Warn("Existence check failed, reporting absent.", zap.Stringer("locator", loc), zap.Error(err))
	}
	return false
}

// -- Reads --

// Text returns the rendered text of loc.
func (s *Session) Text(ctx context.Context, loc browser.Locator, opts ...OpOption) (string, error) {
	v, _, err := s.read(ctx, "text", loc, browser.PropText, "", opts)
	return v, err
}

// Attribute returns the named attribute of loc and whether it is set.
func (s *Session) Attribute(ctx context.Context, loc browser.Locator, name string, opts ...OpOption) (string, bool, error) {
	return s.read(ctx, "attribute", loc, browser.PropAttribute, name, opts)
}

func (s *Session) read(ctx context.Context, op string, loc browser.Locator, p browser.Property, name string, opts []OpOption) (string, bool, error) {
	o := s.settings(opts)
	var (
		value string
		found bool
	)
	err := s.retrying(ctx, op+" "+loc.String(), func(ctx context.Context) error {
		h, err := s.await(ctx, op, loc, browser.Attached, o.timeout)
		if err != nil {
			return err
		}
		return s.command(ctx, op, h.String(), func(ctx context.Context) error {
			value, found, err = s.client.Read(ctx, h, p, name)
			return err
		})
	}, browser.KindStaleReference)
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// -- Actions --

// Click waits for loc to be clickable and clicks it. A stale node or an
// interception that the script-level fallback could not resolve restarts
// the whole operation, within the retry budget.
func (s *Session) Click(ctx context.Context, loc browser.Locator, opts ...OpOption) error {
	o := s.settings(opts)
	return s.retrying(ctx, "click "+loc.String(), func(ctx context.Context) error {
		return s.clickOnce(ctx, loc, o.timeout)
	}, browser.KindStaleReference, browser.KindInterceptedAction)
}

func (s *Session) clickOnce(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	h, err := s.await(ctx, "click", loc, browser.Clickable, timeout)
	if err != nil {
		return err
	}
	s.logger.Debug("Attempting to click element", zap.Stringer("locator", loc))
	err = s.perform(ctx, h, browser.ActionClick, "")
	if browser.KindOf(err) != browser.KindInterceptedAction {
		return err
	}

	s.logger.Warn("Native click intercepted, falling back to script click.",
		zap.Stringer("locator", loc), zap.Error(err))
	ferr := s.perform(ctx, h, browser.ActionScriptClick, "")
	if ferr == nil {
		return nil
	}
	kind := browser.KindInterceptedAction
	if browser.KindOf(ferr) == browser.KindStaleReference {
		kind = browser.KindStaleReference
	}
	return &browser.Error{Kind: kind, Op: "click", Target: loc.String(), Err: errors.Join(err, ferr)}
}

// ClickScript activates loc through a script-level click, bypassing
// whatever overlays it.
func (s *Session) ClickScript(ctx context.Context, loc browser.Locator, opts ...OpOption) error {
	o := s.settings(opts)
	h, err := s.await(ctx, "script-click", loc, browser.Attached, o.timeout)
	if err != nil {
		return err
	}
	return s.perform(ctx, h, browser.ActionScriptClick, "")
}

// Type waits for loc to be visible, clears it unless KeepExisting is given,
// and types text.
func (s *Session) Type(ctx context.Context, loc browser.Locator, text string, opts ...OpOption) error {
	o := s.settings(opts)
	return s.retrying(ctx, "type "+loc.String(), func(ctx context.Context) error {
		h, err := s.await(ctx, "type", loc, browser.Visible, o.timeout)
		if err != nil {
			return err
		}
		if !o.keep {
			if err := s.perform(ctx, h, browser.ActionClear, ""); err != nil {
				return err
			}
		}
		return s.perform(ctx, h, browser.ActionType, text)
	}, browser.KindStaleReference)
}

// Hover moves the pointer over loc.
func (s *Session) Hover(ctx context.Context, loc browser.Locator, opts ...OpOption) error {
	o := s.settings(opts)
	h, err := s.await(ctx, "hover", loc, browser.Attached, o.timeout)
	if err != nil {
		return err
	}
	return s.perform(ctx, h, browser.ActionHover, "")
}

// ScrollIntoView scrolls loc into the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, loc browser.Locator, opts ...OpOption) error {
	o := s.settings(opts)
	h, err := s.await(ctx, "scroll-into-view", loc, browser.Attached, o.timeout)
	if err != nil {
		return err
	}
	return s.perform(ctx, h, browser.ActionScrollIntoView, "")
}

// ErrNotSelect is returned by SelectByText when the element is not a native
// <select>, typically because the site renders a custom dropdown instead.
var ErrNotSelect = errors.New("element is not a native select")

// selectScript picks the option whose visible text is arguments[2] in the
// select addressed by arguments[0..1]. Options populated asynchronously are
// reported as "pending" until they appear.
const selectScript = `const [dialect, sel, text] = arguments;
const el = dialect === 'xpath'
	? document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
	: document.querySelector(sel);
if (!el) return 'pending';
if (el.tagName !== 'SELECT') return 'not-select';
const opt = Array.from(el.options).find(o => o.text.trim() === text.trim());
if (!opt) return 'pending';
if (el.value !== opt.value) {
	el.value = opt.value;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
}
return 'selected';`

// SelectByText chooses the option of the native select loc whose visible
// text is text, waiting for the option to be populated.
func (s *Session) SelectByText(ctx context.Context, loc browser.Locator, text string, opts ...OpOption) error {
	o := s.settings(opts)
	if _, err := s.await(ctx, "select", loc, browser.Attached, o.timeout); err != nil {
		return err
	}
	q := loc.Query()
	dialect := "css"
	if q.Dialect == browser.DialectXPath {
		dialect = "xpath"
	}
	desc := fmt.Sprintf("option %q in %s", text, loc)
	err := wait.Until(ctx, wait.Spec{Description: desc, Timeout: o.timeout, Interval: s.opts.PollInterval},
		func(ctx context.Context) (bool, error) {
			var state string
			err := s.command(ctx, "select", loc.String(), func(ctx context.Context) error {
				return s.client.Evaluate(ctx, selectScript, []any{dialect, q.Selector, text}, &state)
			})
			if err != nil {
				return false, err
			}
			switch state {
			case "selected":
				return true, nil
			case "not-select":
				return false, fmt.Errorf("select %s: %w", loc, ErrNotSelect)
			default:
				return false, nil
			}
		})
	if wait.IsTimeout(err) {
		return &browser.Error{Kind: browser.KindTimeout, Op: "select", Target: desc, Timeout: o.timeout, Err: err}
	}
	if err == nil {
		s.logger.Debug("Selected option.", zap.Stringer("locator", loc), zap.String("option", text))
	}
	return err
}

// -- Explicit waits --

// WaitVisible waits for loc to be visible and returns its handle.
func (s *Session) WaitVisible(ctx context.Context, loc browser.Locator, opts ...OpOption) (browser.Handle, error) {
	return s.await(ctx, "wait-visible", loc, browser.Visible, s.settings(opts).timeout)
}

// WaitClickable waits for loc to be clickable and returns its handle.
func (s *Session) WaitClickable(ctx context.Context, loc browser.Locator, opts ...OpOption) (browser.Handle, error) {
	return s.await(ctx, "wait-clickable", loc, browser.Clickable, s.settings(opts).timeout)
}

const readyStateScript = `return document.readyState;`

// WaitForPageLoad waits until the document has finished loading.
func (s *Session) WaitForPageLoad(ctx context.Context, opts ...OpOption) error {
	o := s.settings(opts)
	const desc = "document.readyState == complete"
	err := wait.Until(ctx, wait.Spec{Description: desc, Timeout: o.timeout, Interval: s.opts.PollInterval},
		func(ctx context.Context) (bool, error) {
			var state string
			if err := s.client.Evaluate(ctx, readyStateScript, nil, &state); err != nil {
				return false, err
			}
			return state == "complete", nil
		})
	if wait.IsTimeout(err) {
		return &browser.Error{Kind: browser.KindTimeout, Op: "wait-page-load", Target: desc, Timeout: o.timeout, Err: err}
	}
	return err
}

// -- Page-level operations --

// Navigate loads url in the current window.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating session.", zap.String("url", url))
	navTimeout := s.opts.ExplicitWait
	navCtx, cancel := ctx, context.CancelFunc(func() {})
	if navTimeout > 0 {
		navCtx, cancel = context.WithTimeout(ctx, navTimeout)
	}
	defer cancel()

	if err := s.client.Navigate(navCtx, url); err != nil {
		if ctx.Err() == nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return &browser.Error{Kind: browser.KindTimeout, Op: "navigate", Target: url, Timeout: navTimeout, Err: err}
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the location of the current window.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := s.command(ctx, "current-url", "", func(ctx context.Context) error {
		var err error
		u, err = s.client.CurrentURL(ctx)
		return err
	})
	return u, err
}

// Title returns the document title of the current window.
func (s *Session) Title(ctx context.Context) (string, error) {
	var t string
	err := s.command(ctx, "title", "", func(ctx context.Context) error {
		var err error
		t, err = s.client.Title(ctx)
		return err
	})
	return t, err
}

func (s *Session) windows(op string) (browser.Windows, error) {
	w, ok := s.client.(browser.Windows)
	if !ok {
		return nil, browser.Errorf(browser.KindUnsupportedConfiguration, op, fmt.Sprintf("%T", s.client),
			"client cannot switch windows")
	}
	return w, nil
}

// SwitchToNewWindow waits for a newly opened window and focuses it.
func (s *Session) SwitchToNewWindow(ctx context.Context, opts ...OpOption) error {
	w, err := s.windows("switch-window")
	if err != nil {
		return err
	}
	o := s.settings(opts)
	const desc = "a new window to open"
	err = wait.Until(ctx, wait.Spec{Description: desc, Timeout: o.timeout, Interval: s.opts.PollInterval},
		func(ctx context.Context) (bool, error) {
			err := s.command(ctx, "switch-window", "", w.SwitchToNewest)
			if browser.KindOf(err) == browser.KindNotYetReady {
				return false, nil
			}
			return err == nil, err
		})
	if wait.IsTimeout(err) {
		return &browser.Error{Kind: browser.KindTimeout, Op: "switch-window", Target: desc, Timeout: o.timeout, Err: err}
	}
	if err != nil {
		return err
	}
	s.logger.Debug("Switched to newest window.")
	return nil
}

// CloseWindowAndSwitchBack closes the focused window and returns to the
// window that had focus before it.
func (s *Session) CloseWindowAndSwitchBack(ctx context.Context) error {
	w, err := s.windows("close-window")
	if err != nil {
		return err
	}
	return s.command(ctx, "close-window", "", w.CloseCurrent)
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	sc, ok := s.client.(browser.Screenshotter)
	if !ok {
		return nil, browser.Errorf(browser.KindUnsupportedConfiguration, "screenshot", fmt.Sprintf("%T", s.client),
			"client cannot capture screenshots")
	}
	var png []byte
	err := s.command(ctx, "screenshot", "", func(ctx context.Context) error {
		var err error
		png, err = sc.Screenshot(ctx)
		return err
	})
	return png, err
}
