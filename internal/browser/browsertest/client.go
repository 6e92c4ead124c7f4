// Package browsertest provides a scripted, in-memory browser.Client for
// exercising the interaction session without a browser.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/steady/internal/browser"
)

// Element is one scripted DOM node. The zero value is an attached, visible,
// clickable node present from the moment it is added.
type Element struct {
	// AppearAfter delays attachment, measured from Add.
	AppearAfter time.Duration
	// VisibleAfter delays visibility, measured from Add.
	VisibleAfter time.Duration
	// Hidden keeps the node invisible (and therefore never clickable).
	Hidden bool
	// Disabled keeps the node from becoming clickable.
	Disabled bool

	Text  string
	Attrs map[string]string
	Value string
	// StaleReads makes that many reads fail as stale, replacing the node
	// each time.
	StaleReads int

	// OnPerform runs after every successful action on this node.
	OnPerform func(c *Client, a browser.Action, payload string)

	added      time.Time
	generation int
	failures   map[browser.Action][]error
	removed    bool
}

// Fail queues errs to be returned, one per call, by the next actions of
// kind a on this element.
func (e *Element) Fail(a browser.Action, errs ...error) *Element {
	if e.failures == nil {
		e.failures = make(map[browser.Action][]error)
	}
	e.failures[a] = append(e.failures[a], errs...)
	return e
}

type handle struct {
	loc        browser.Locator
	index      int
	el         *Element
	generation int
}

func (h *handle) String() string { return fmt.Sprintf("%s#%d", h.loc, h.index) }

// Client is a scripted browser.Client. It is safe for concurrent use, but
// the interaction session never calls it concurrently.
type Client struct {
	mu       sync.Mutex
	elements map[browser.Locator][]*Element
	calls    map[string]int
	actions  []string

	url     string
	title   string
	windows []string
	current int
	focus   []int
	closed  bool

	// EvaluateFunc answers Evaluate. The default reports a fully loaded
	// document.
	EvaluateFunc func(src string, args []any) (any, error)
	// Shot is returned by Screenshot.
	Shot []byte
}

// New returns an empty scripted client on about:blank.
func New() *Client {
	return &Client{
		elements: make(map[browser.Locator][]*Element),
		calls:    make(map[string]int),
		url:      "about:blank",
		windows:  []string{"about:blank"},
	}
}

var _ browser.Client = (*Client)(nil)
var _ browser.Windows = (*Client)(nil)
var _ browser.Screenshotter = (*Client)(nil)

// Add attaches el (a zero Element when nil) under loc and returns it.
func (c *Client) Add(loc browser.Locator, el *Element) *Element {
	if el == nil {
		el = &Element{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el.added = time.Now()
	c.elements[loc] = append(c.elements[loc], el)
	return el
}

// Replace swaps the node behind el for a fresh one, staling every handle
// issued so far.
func (c *Client) Replace(el *Element) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el.generation++
}

// Remove detaches every node under loc.
func (c *Client) Remove(loc browser.Locator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, el := range c.elements[loc] {
		el.removed = true
	}
	delete(c.elements, loc)
}

// SetPage sets the current URL and title.
func (c *Client) SetPage(url, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url, c.title = url, title
	c.windows[c.current] = url
}

// OpenWindow simulates a new window opened by the page.
func (c *Client) OpenWindow(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = append(c.windows, url)
}

// Calls returns how many times the named call was made. Names are
// "find:<locator>", "findall:<locator>", "<action>:<locator>",
// "read:<locator>", "ready:<readiness>:<locator>", "navigate" and "evaluate".
func (c *Client) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// Actions returns the performed actions in order as "<action>:<locator>".
func (c *Client) Actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.actions...)
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) present(el *Element) bool {
	return !el.removed && time.Since(el.added) >= el.AppearAfter
}

func (c *Client) visible(el *Element) bool {
	return c.present(el) && !el.Hidden && time.Since(el.added) >= el.VisibleAfter
}

func (c *Client) resolve(op string, h browser.Handle) (*handle, error) {
	hh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("%s: foreign handle %T", op, h)
	}
	if hh.el.removed || hh.el.generation != hh.generation {
		return nil, &browser.Error{Kind: browser.KindStaleReference, Op: op, Target: hh.String()}
	}
	return hh, nil
}

func (c *Client) FindOne(ctx context.Context, loc browser.Locator) (browser.Handle, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["find:"+loc.String()]++
	for i, el := range c.elements[loc] {
		if c.present(el) {
			return &handle{loc: loc, index: i, el: el, generation: el.generation}, true, nil
		}
	}
	return nil, false, nil
}

func (c *Client) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["findall:"+loc.String()]++
	var out []browser.Handle
	for i, el := range c.elements[loc] {
		if c.present(el) {
			out = append(out, &handle{loc: loc, index: i, el: el, generation: el.generation})
		}
	}
	return out, nil
}

func (c *Client) Ready(ctx context.Context, h browser.Handle, r browser.Readiness) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hh, err := c.resolve("ready", h)
	if err != nil {
		return false, err
	}
	c.calls[fmt.Sprintf("ready:%s:%s", r, hh.loc)]++
	switch r {
	case browser.Attached:
		return c.present(hh.el), nil
	case browser.Visible:
		return c.visible(hh.el), nil
	default:
		return c.visible(hh.el) && !hh.el.Disabled, nil
	}
}

func (c *Client) Perform(ctx context.Context, h browser.Handle, a browser.Action, payload string) error {
	c.mu.Lock()
	hh, err := c.resolve(a.String(), h)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	key := a.String() + ":" + hh.loc.String()
	c.calls[key]++
	if q := hh.el.failures[a]; len(q) > 0 {
		hh.el.failures[a] = q[1:]
		c.mu.Unlock()
		return q[0]
	}
	c.actions = append(c.actions, key)
	switch a {
	case browser.ActionClear:
		hh.el.Value = ""
	case browser.ActionType:
		hh.el.Value += payload
	}
	hook := hh.el.OnPerform
	c.mu.Unlock()

	if hook != nil {
		hook(c, a, payload)
	}
	return nil
}

func (c *Client) Read(ctx context.Context, h browser.Handle, p browser.Property, name string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hh, err := c.resolve("read", h)
	if err != nil {
		return "", false, err
	}
	c.calls["read:"+hh.loc.String()]++
	if hh.el.StaleReads > 0 {
		hh.el.StaleReads--
		hh.el.generation++
		return "", false, &browser.Error{Kind: browser.KindStaleReference, Op: "read", Target: hh.String()}
	}
	if p == browser.PropText {
		return hh.el.Text, true, nil
	}
	if name == "value" {
		return hh.el.Value, true, nil
	}
	v, ok := hh.el.Attrs[name]
	return v, ok, nil
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["navigate"]++
	c.url = url
	c.windows[c.current] = url
	return nil
}

func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url, nil
}

func (c *Client) Title(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title, nil
}

func (c *Client) Evaluate(ctx context.Context, src string, args []any, out any) error {
	c.mu.Lock()
	fn := c.EvaluateFunc
	c.calls["evaluate"]++
	c.mu.Unlock()

	var v any = "complete"
	if fn != nil {
		var err error
		if v, err = fn(src, args); err != nil {
			return err
		}
	}
	switch o := out.(type) {
	case nil:
	case *string:
		s, _ := v.(string)
		*o = s
	case *bool:
		b, _ := v.(bool)
		*o = b
	case *any:
		*o = v
	default:
		return fmt.Errorf("browsertest: unsupported Evaluate target %T", out)
	}
	return nil
}

func (c *Client) SwitchToNewest(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	newest := len(c.windows) - 1
	if newest == c.current {
		return browser.Errorf(browser.KindNotYetReady, "switch-window", "", "no new window is open")
	}
	c.focus = append(c.focus, c.current)
	c.current = newest
	c.url = c.windows[c.current]
	return nil
}

func (c *Client) CloseCurrent(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.focus) == 0 {
		return fmt.Errorf("cannot close the last window")
	}
	c.windows = append(c.windows[:c.current], c.windows[c.current+1:]...)
	c.current = c.focus[len(c.focus)-1]
	c.focus = c.focus[:len(c.focus)-1]
	c.url = c.windows[c.current]
	return nil
}

func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Shot == nil {
		return []byte("\x89PNG"), nil
	}
	return c.Shot, nil
}

func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Stale returns a StaleReference failure for scripted actions.
func Stale(target string) error {
	return &browser.Error{Kind: browser.KindStaleReference, Op: "perform", Target: target}
}

// Intercepted returns an InterceptedAction failure naming the obscuring node.
func Intercepted(target, by string) error {
	return &browser.Error{Kind: browser.KindInterceptedAction, Op: "click", Target: target,
		Err: fmt.Errorf("element would receive the click: %s", strings.TrimSpace(by))}
}
