// internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/steady/internal/wait"
)

// Kind classifies interaction failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound: a presence wait expired without the locator matching.
	KindNotFound
	// KindTimeout: a readiness predicate other than presence never held.
	KindTimeout
	// KindStaleReference: the handle's node was removed or replaced between
	// lookup and action.
	KindStaleReference
	// KindInterceptedAction: another element (usually an overlay) received
	// the action.
	KindInterceptedAction
	// KindNotYetReady: the client refused the action because the node was
	// not ready, surfaced as a failure instead of being absorbed by a wait.
	KindNotYetReady
	// KindUnsupportedConfiguration: the requested client target cannot be
	// built. Fatal.
	KindUnsupportedConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindTimeout:
		return "timeout"
	case KindStaleReference:
		return "stale reference"
	case KindInterceptedAction:
		return "intercepted action"
	case KindNotYetReady:
		return "not yet ready"
	case KindUnsupportedConfiguration:
		return "unsupported configuration"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by clients and the interaction session.
type Error struct {
	Kind Kind
	// Op is the operation that failed (e.g. "click").
	Op string
	// Target describes what was acted on: a locator, a predicate, a browser name.
	Target string
	// Timeout is the wait budget that was exceeded, if any.
	Timeout time.Duration
	Err     error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotFound                 = &Error{Kind: KindNotFound}
	ErrTimeout                  = &Error{Kind: KindTimeout}
	ErrStaleReference           = &Error{Kind: KindStaleReference}
	ErrInterceptedAction        = &Error{Kind: KindInterceptedAction}
	ErrNotYetReady              = &Error{Kind: KindNotYetReady}
	ErrUnsupportedConfiguration = &Error{Kind: KindUnsupportedConfiguration}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Target != "" {
		fmt.Fprintf(&b, " [%s]", e.Target)
	}
	if e.Timeout > 0 {
		fmt.Fprintf(&b, " after %v", e.Timeout)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Target == "" && t.Err == nil && t.Kind == e.Kind
}

// ExhaustedError reports that a retry budget ran out on a transient
// failure. Err is the last failure, unchanged.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Errorf builds a kind-tagged error around a formatted cause.
func Errorf(kind Kind, op, target string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Target: target, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. An expired wait.Await is a Timeout; context
// errors and anything untyped are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	var te *wait.TimeoutError
	if errors.As(err, &te) {
		return KindTimeout
	}
	return KindUnknown
}

// IsKind returns a classifier that reports whether an error is one of kinds.
// It is the shape retry.Policy.Transient expects.
func IsKind(kinds ...Kind) func(error) bool {
	return func(err error) bool {
		k := KindOf(err)
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}
}
