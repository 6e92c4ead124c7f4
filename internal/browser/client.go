// internal/browser/client.go
package browser

import (
	"context"
)

// Handle is an opaque, client-issued reference to a single DOM node at a
// point in time. It becomes stale as soon as the node is removed or
// replaced, even if a node matching the same locator reappears. Handles are
// only meaningful to the client that issued them.
type Handle interface {
	// String describes the node for logs and error messages.
	String() string
}

// Readiness is one of the canonical readiness predicates. They are ordered
// by strictness: Attached ⊆ Visible ⊆ Clickable. A client evaluating a
// stricter predicate also checks every weaker one.
type Readiness int

const (
	// Attached: the node is connected to the document.
	Attached Readiness = iota
	// Visible: attached, rendered with a non-zero size and not hidden by style.
	Visible
	// Clickable: visible, enabled and accepting pointer events.
	Clickable
)

func (r Readiness) String() string {
	switch r {
	case Attached:
		return "attached"
	case Visible:
		return "visible"
	case Clickable:
		return "clickable"
	default:
		return "unknown"
	}
}

// Action is a side-effecting operation on a handle.
type Action int

const (
	// ActionClick is the native (input-event) click.
	ActionClick Action = iota
	// ActionScriptClick activates the node through HTMLElement.click().
	ActionScriptClick
	// ActionClear empties an editable node.
	ActionClear
	// ActionType types the payload into the node.
	ActionType
	// ActionHover moves the pointer over the node.
	ActionHover
	// ActionScrollIntoView scrolls the node into the viewport.
	ActionScrollIntoView
)

func (a Action) String() string {
	switch a {
	case ActionClick:
		return "click"
	case ActionScriptClick:
		return "script-click"
	case ActionClear:
		return "clear"
	case ActionType:
		return "type"
	case ActionHover:
		return "hover"
	case ActionScrollIntoView:
		return "scroll-into-view"
	default:
		return "unknown"
	}
}

// Property is a readable aspect of a node.
type Property int

const (
	// PropText is the rendered text (innerText).
	PropText Property = iota
	// PropAttribute is a named attribute.
	PropAttribute
)

// Client is the automation capability the interaction session drives. It
// makes no assumption about transport: implementations may launch a local
// browser, attach to a remote endpoint or run entirely in memory.
//
// Failures that belong to the interaction taxonomy must be returned as
// *Error with the matching Kind (a vanished node is KindStaleReference, an
// obscured click is KindInterceptedAction). A locator matching nothing is
// not a failure for FindOne or FindAll.
type Client interface {
	FindOne(ctx context.Context, loc Locator) (Handle, bool, error)
	FindAll(ctx context.Context, loc Locator) ([]Handle, error)
	Ready(ctx context.Context, h Handle, r Readiness) (bool, error)
	Perform(ctx context.Context, h Handle, a Action, payload string) error
	Read(ctx context.Context, h Handle, p Property, name string) (string, bool, error)

	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Evaluate runs src as a function body; the values in args are visible
	// to it as arguments[0..n]. The returned value is decoded into out when
	// out is non-nil.
	Evaluate(ctx context.Context, src string, args []any, out any) error

	// Close releases the underlying connection and any browser process.
	Close(ctx context.Context) error
}

// Windows is implemented by clients that can move between top-level
// browsing contexts (tabs or windows).
type Windows interface {
	// SwitchToNewest focuses the most recently opened window. It fails with
	// KindNotYetReady while no window has been opened since the last switch.
	SwitchToNewest(ctx context.Context) error
	// CloseCurrent closes the focused window and focuses the one that had
	// focus before it.
	CloseCurrent(ctx context.Context) error
}

// Screenshotter is implemented by clients that can capture the viewport.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}
