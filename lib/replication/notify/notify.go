// Package notify implements the durability.ClientNotifier used to wake a
// client blocked on a synchronous write once the ADM resolves it. It has
// the same register/wait/wake shape as store.IStore's synchronous call
// contract, generalized to an asynchronous wake-up keyed by an opaque
// durability.Cookie.
package notify

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dKV/lib/durability"
)

// Notifier is a registry of pending waiters, keyed by cookie. Register a
// cookie before handing it to durability.ActiveDurabilityMonitor.AddSyncWrite,
// then Wait for the result.
type Notifier struct {
	mu      sync.Mutex
	waiters map[uint64]chan durability.Result
	nextID  uint64
}

// NewNotifier constructs an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{waiters: make(map[uint64]chan durability.Result)}
}

// Register allocates a new cookie and its wait channel. The caller passes
// the returned cookie to AddSyncWrite, then blocks on Wait with the same
// cookie.
func (n *Notifier) Register() durability.Cookie {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.waiters[id] = make(chan durability.Result, 1)
	return id
}

// Notify implements durability.ClientNotifier. It is a no-op if cookie was
// never registered or has already been notified, which happens whenever a
// caller gave up waiting (ctx canceled) before the ADM resolved the write.
func (n *Notifier) Notify(cookie durability.Cookie, result durability.Result) {
	id, ok := cookie.(uint64)
	if !ok {
		return
	}

	n.mu.Lock()
	ch, ok := n.waiters[id]
	if ok {
		delete(n.waiters, id)
	}
	n.mu.Unlock()

	if ok {
		ch <- result
	}
}

// Wait blocks for cookie's result, or returns ctx.Err() if ctx is done
// first. On cancellation the waiter is unregistered so a later, racing
// Notify becomes a no-op instead of leaking.
func (n *Notifier) Wait(ctx context.Context, cookie durability.Cookie) (durability.Result, error) {
	id, ok := cookie.(uint64)
	if !ok {
		return durability.ResultAborted, context.Canceled
	}

	n.mu.Lock()
	ch, ok := n.waiters[id]
	n.mu.Unlock()
	if !ok {
		return durability.ResultAborted, context.Canceled
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.waiters, id)
		n.mu.Unlock()
		return durability.ResultAborted, ctx.Err()
	}
}
