// internal/browser/session/context_utils.go
package session

import (
	"context"
)

// CombineContext returns a context that carries the values of primary and
// is cancelled when either primary or secondary is. Browser clients keep
// their connection in primary (a chromedp target context) while the caller's
// deadline arrives in secondary.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context that keeps the values of ctx but none of its
// deadline or cancellation. Cleanup that must outlive the operation that
// triggered it (closing a browser after a failed run) runs under it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
