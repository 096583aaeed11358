// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from primary (which carries the CDP target
// information) that is additionally canceled when secondary is done. Every
// browser operation runs under such a combination: the session context keeps
// the connection alive, the operational context carries the deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext inherits values from its parent but drops the parent's
// deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

// Detach returns a context carrying the CDP values of ctx that survives ctx's
// cancellation. Used for cleanup work that must outlive a timed-out operation.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
