// internal/browser/cdp/dom.go
package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/steady/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// nodeHandle pins a DOM node by its protocol id. Ids are invalidated when
// the node leaves the document or the document is replaced.
type nodeHandle struct {
	id  cdp.NodeID
	loc browser.Locator
}

func (h *nodeHandle) String() string { return fmt.Sprintf("%s (node %d)", h.loc, h.id) }

func decode(raw []byte, out any) error {
	if out == nil {
		return nil
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding script result %q: %w", raw, err)
	}
	return nil
}

func queryOption(q browser.Query) chromedp.QueryOption {
	if q.Dialect == browser.DialectXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

func (c *Client) nodes(ctx context.Context, op string, loc browser.Locator) ([]*cdp.Node, error) {
	q := loc.Query()
	var nodes []*cdp.Node
	err := c.run(ctx, op, chromedp.Nodes(q.Selector, &nodes, queryOption(q), chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, loc, err)
	}
	return nodes, nil
}

func (c *Client) FindOne(ctx context.Context, loc browser.Locator) (browser.Handle, bool, error) {
	nodes, err := c.nodes(ctx, "find", loc)
	if err != nil || len(nodes) == 0 {
		return nil, false, err
	}
	return &nodeHandle{id: nodes[0].NodeID, loc: loc}, true, nil
}

func (c *Client) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Handle, error) {
	nodes, err := c.nodes(ctx, "find-all", loc)
	if err != nil {
		return nil, err
	}
	hs := make([]browser.Handle, 0, len(nodes))
	for _, n := range nodes {
		hs = append(hs, &nodeHandle{id: n.NodeID, loc: loc})
	}
	return hs, nil
}

func asNode(op string, h browser.Handle) (*nodeHandle, error) {
	nh, ok := h.(*nodeHandle)
	if !ok {
		return nil, fmt.Errorf("%s: handle %T was not issued by this client", op, h)
	}
	return nh, nil
}

const staleMarker = "__stale__"

// callOn runs fn with this bound to the node behind h and decodes its
// result into out. A node that can no longer be resolved, or that reports
// the stale marker, is a StaleReference.
func (c *Client) callOn(ctx context.Context, op string, h browser.Handle, fn string, out any, args ...any) error {
	nh, err := asNode(op, h)
	if err != nil {
		return err
	}
	var raw []byte
	err = c.run(ctx, op, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(nh.id).Do(ctx)
		if err != nil {
			return &browser.Error{Kind: browser.KindStaleReference, Op: op, Target: nh.String(), Err: err}
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
		return chromedp.CallFunctionOn(fn, &raw, func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}, args...).Do(ctx)
	}))
	if err != nil {
		return err
	}
	if string(raw) == `"`+staleMarker+`"` {
		return &browser.Error{Kind: browser.KindStaleReference, Op: op, Target: nh.String(),
			Err: fmt.Errorf("node is no longer attached to the document")}
	}
	return decode(raw, out)
}

const readinessScript = `function(level) {
	if (!this.isConnected) return "` + staleMarker + `";
	if (level === 0) return true;
	const rect = this.getBoundingClientRect();
	const style = window.getComputedStyle(this);
	const visible = rect.width > 0 && rect.height > 0 && style.display !== 'none' &&
		style.visibility !== 'hidden' && style.opacity !== '0';
	if (!visible) return false;
	if (level === 1) return true;
	return !this.disabled && this.getAttribute('aria-disabled') !== 'true' && style.pointerEvents !== 'none';
}`

func (c *Client) Ready(ctx context.Context, h browser.Handle, r browser.Readiness) (bool, error) {
	var ok bool
	err := c.callOn(ctx, "ready", h, readinessScript, &ok, int(r))
	return ok, err
}

// hitPoint centers the node in the viewport and reports whether a click at
// its center would land on it, and if not, what would receive it.
const hitPointScript = `function() {
	if (!this.isConnected) return "` + staleMarker + `";
	this.scrollIntoView({block: 'center', inline: 'center'});
	const r = this.getBoundingClientRect();
	const x = r.left + r.width / 2, y = r.top + r.height / 2;
	const top = document.elementFromPoint(x, y);
	const hit = top !== null && (top === this || this.contains(top));
	let by = '';
	if (!hit && top) {
		by = top.tagName.toLowerCase();
		if (top.id) by += '#' + top.id;
		if (typeof top.className === 'string' && top.className.trim()) {
			by += '.' + top.className.trim().split(/\s+/).join('.');
		}
	}
	return {x: x, y: y, hit: hit, by: by};
}`

type hitPoint struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Hit bool    `json:"hit"`
	By  string  `json:"by"`
}

func (c *Client) hitPoint(ctx context.Context, op string, h browser.Handle) (hitPoint, error) {
	var p hitPoint
	err := c.callOn(ctx, op, h, hitPointScript, &p)
	return p, err
}

const (
	scriptClick = `function() {
	if (!this.isConnected) return "` + staleMarker + `";
	this.click();
	return true;
}`
	scriptFocus = `function() {
	if (!this.isConnected) return "` + staleMarker + `";
	this.focus();
	return true;
}`
	scriptScroll = `function() {
	if (!this.isConnected) return "` + staleMarker + `";
	this.scrollIntoView(true);
	return true;
}`
	// Frameworks listen for input/change, so clearing dispatches both.
	scriptClear = `function() {
	if (!this.isConnected) return "` + staleMarker + `";
	if (this.disabled || this.readOnly) return false;
	if (this.isContentEditable) { this.textContent = ''; } else { this.value = ''; }
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
}`
)

func (c *Client) Perform(ctx context.Context, h browser.Handle, a browser.Action, payload string) error {
	op := a.String()
	switch a {
	case browser.ActionClick:
		p, err := c.hitPoint(ctx, op, h)
		if err != nil {
			return err
		}
		if !p.Hit {
			return &browser.Error{Kind: browser.KindInterceptedAction, Op: op, Target: h.String(),
				Err: fmt.Errorf("element %s would receive the click", p.By)}
		}
		return c.run(ctx, op,
			input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y),
			input.DispatchMouseEvent(input.MousePressed, p.X, p.Y).WithButton(input.Left).WithClickCount(1),
			input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).WithButton(input.Left).WithClickCount(1),
		)

	case browser.ActionHover:
		p, err := c.hitPoint(ctx, op, h)
		if err != nil {
			return err
		}
		return c.run(ctx, op, input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y))

	case browser.ActionScriptClick:
		return c.callOn(ctx, op, h, scriptClick, nil)

	case browser.ActionScrollIntoView:
		return c.callOn(ctx, op, h, scriptScroll, nil)

	case browser.ActionClear:
		var cleared bool
		if err := c.callOn(ctx, op, h, scriptClear, &cleared); err != nil {
			return err
		}
		if !cleared {
			return browser.Errorf(browser.KindNotYetReady, op, h.String(), "element is disabled or read-only")
		}
		return nil

	case browser.ActionType:
		if err := c.callOn(ctx, op, h, scriptFocus, nil); err != nil {
			return err
		}
		return c.run(ctx, op, chromedp.KeyEvent(payload))

	default:
		return fmt.Errorf("%s: unsupported action", op)
	}
}

const (
	textScript = `function() {
	if (!this.isConnected) return "` + staleMarker + `";
	return {ok: true, v: this.innerText || this.textContent || ''};
}`
	// A live property (href, value, checked) wins over the raw attribute.
	attributeScript = `function(name) {
	if (!this.isConnected) return "` + staleMarker + `";
	const prop = this[name];
	if (prop !== undefined && prop !== null && typeof prop !== 'object' && typeof prop !== 'function') {
		return {ok: true, v: String(prop)};
	}
	const attr = this.getAttribute(name);
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
		err = c.callOn(ctx, "text", h, textScript, &res)
	} else {
		err = c.callOn(ctx, "attribute", h, attributeScript, &res, name)
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(res.Value), res.OK, nil
}
