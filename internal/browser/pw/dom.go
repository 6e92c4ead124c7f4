// internal/browser/pw/dom.go
package pw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/steady/internal/browser"
)

type elementHandle struct {
	el    playwright.ElementHandle
	loc   browser.Locator
	index int
}

func (h *elementHandle) String() string { return fmt.Sprintf("%s#%d", h.loc, h.index) }

// selector renders a locator in Playwright's engine-prefixed syntax.
func selector(loc browser.Locator) string {
	q := loc.Query()
	if q.Dialect == browser.DialectXPath {
		return "xpath=" + q.Selector
	}
	return "css=" + q.Selector
}

// classify maps Playwright failures onto the interaction taxonomy.
func classify(op, target string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "intercepts pointer events"):
		return &browser.Error{Kind: browser.KindInterceptedAction, Op: op, Target: target, Err: err}
	case strings.Contains(msg, "not attached to the DOM"),
		strings.Contains(msg, "is disposed"),
		strings.Contains(msg, "Node is detached"):
		return &browser.Error{Kind: browser.KindStaleReference, Op: op, Target: target, Err: err}
	case strings.Contains(msg, "element is not visible"),
		strings.Contains(msg, "element is not enabled"),
		strings.Contains(msg, "element is not stable"):
		return &browser.Error{Kind: browser.KindNotYetReady, Op: op, Target: target, Err: err}
	case errors.Is(err, playwright.ErrTimeout):
		return &browser.Error{Kind: browser.KindTimeout, Op: op, Target: target, Err: err}
	}
	if target != "" {
		return fmt.Errorf("%s %s: %w", op, target, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Client) FindOne(ctx context.Context, loc browser.Locator) (browser.Handle, bool, error) {
	p := c.page()
	el, err := call(ctx, func() (playwright.ElementHandle, error) { return p.QuerySelector(selector(loc)) })
	if err != nil {
		return nil, false, classify("find", loc.String(), err)
	}
	if el == nil {
		return nil, false, nil
	}
	return &elementHandle{el: el, loc: loc}, true, nil
}

func (c *Client) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Handle, error) {
	p := c.page()
	els, err := call(ctx, func() ([]playwright.ElementHandle, error) { return p.QuerySelectorAll(selector(loc)) })
	if err != nil {
		return nil, classify("find-all", loc.String(), err)
	}
	hs := make([]browser.Handle, 0, len(els))
	for i, el := range els {
		hs = append(hs, &elementHandle{el: el, loc: loc, index: i})
	}
	return hs, nil
}

func asElement(op string, h browser.Handle) (*elementHandle, error) {
	eh, ok := h.(*elementHandle)
	if !ok {
		return nil, fmt.Errorf("%s: handle %T was not issued by this client", op, h)
	}
	return eh, nil
}

const staleMarker = "__stale__"

// evalOn runs fn(element, arg) in the page and decodes the result into out.
// A detached element reports the stale marker.
func (c *Client) evalOn(ctx context.Context, op string, h browser.Handle, fn string, out any, arg any) error {
	eh, err := asElement(op, h)
	if err != nil {
		return err
	}
	v, err := call(ctx, func() (any, error) { return eh.el.Evaluate(fn, arg) })
	if err != nil {
		return classify(op, eh.String(), err)
	}
	if s, ok := v.(string); ok && s == staleMarker {
		return &browser.Error{Kind: browser.KindStaleReference, Op: op, Target: eh.String(),
			Err: errors.New("element is no longer attached to the document")}
	}
	return decode(v, out)
}

const readinessScript = `(e, level) => {
	if (!e.isConnected) return "` + staleMarker + `";
	if (level === 0) return true;
	const rect = e.getBoundingClientRect();
	const style = window.getComputedStyle(e);
	const visible = rect.width > 0 && rect.height > 0 && style.display !== 'none' &&
		style.visibility !== 'hidden' && style.opacity !== '0';
	if (!visible) return false;
	if (level === 1) return true;
	return !e.disabled && e.getAttribute('aria-disabled') !== 'true' && style.pointerEvents !== 'none';
}`

func (c *Client) Ready(ctx context.Context, h browser.Handle, r browser.Readiness) (bool, error) {
	var ok bool
	err := c.evalOn(ctx, "ready", h, readinessScript, &ok, int(r))
	return ok, err
}

const (
	scriptClick = `(e) => {
	if (!e.isConnected) return "` + staleMarker + `";
	e.click();
	return true;
}`
	scriptFocus = `(e) => {
	if (!e.isConnected) return "` + staleMarker + `";
	e.focus();
	return true;
}`
	scriptScroll = `(e) => {
	if (!e.isConnected) return "` + staleMarker + `";
	e.scrollIntoView(true);
	return true;
}`
)

func (c *Client) Perform(ctx context.Context, h browser.Handle, a browser.Action, payload string) error {
	op := a.String()
	eh, err := asElement(op, h)
	if err != nil {
		return err
	}
	timeout := playwright.Float(float64(c.actionTimeout.Milliseconds()))

	switch a {
	case browser.ActionClick:
		err = do(ctx, func() error { return eh.el.Click(playwright.ElementHandleClickOptions{Timeout: timeout}) })
	case browser.ActionHover:
		err = do(ctx, func() error { return eh.el.Hover(playwright.ElementHandleHoverOptions{Timeout: timeout}) })
	case browser.ActionClear:
		err = do(ctx, func() error { return eh.el.Fill("", playwright.ElementHandleFillOptions{Timeout: timeout}) })
	case browser.ActionScriptClick:
		return c.evalOn(ctx, op, h, scriptClick, nil, nil)
	case browser.ActionScrollIntoView:
		return c.evalOn(ctx, op, h, scriptScroll, nil, nil)
	case browser.ActionType:
		if err := c.evalOn(ctx, op, h, scriptFocus, nil, nil); err != nil {
			return err
		}
		p := c.page()
		err = do(ctx, func() error { return p.Keyboard().Type(payload) })
	default:
		return fmt.Errorf("%s: unsupported action", op)
	}
	return classify(op, eh.String(), err)
}

const (
	textScript = `(e) => {
	if (!e.isConnected) return "` + staleMarker + `";
	return {ok: true, v: e.innerText || e.textContent || ''};
}`
	// A live property (href, value, checked) wins over the raw attribute.
	attributeScript = `(e, name) => {
	if (!e.isConnected) return "` + staleMarker + `";
	const prop = e[name];
	if (prop !== undefined && prop !== null && typeof prop !== 'object' && typeof prop !== 'function') {
		return {ok: true, v: String(prop)};
	}
	const attr = e.getAttribute(name);
	return attr === null ? {ok: false, v: ''} : {ok: true, v: attr};
}`
)

type readResult struct {
	OK    bool   `json:"ok"`
	Value string `json:"v"`
}

func (c *Client) Read(ctx context.Context, h browser.Handle, p browser.Property, name string) (string, bool, error) {
	var res readResult
	var err error
	if p == browser.PropText {
		err = c.evalOn(ctx, "text", h, textScript, &res, nil)
	} else {
		err = c.evalOn(ctx, "attribute", h, attributeScript, &res, name)
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(res.Value), res.OK, nil
}
