package statesync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/hearth/pkg/entity"
)

// Notification is one push delivery: every record matched by a single
// subscription in a single dispatch cycle, delivered in one call.
type Notification struct {
	ID             string                `json:"id"`
	SubscriptionID string                `json:"subscription_id"`
	Records        []entity.ChangeRecord `json:"records"`
	Timestamp      time.Time             `json:"timestamp"`
}

// Notifier delivers push notifications. Implementations decide the
// transport; the engine has no compile-time dependency on any of them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// NoopNotifier discards every notification.
type NoopNotifier struct{}

// Notify does nothing.
func (NoopNotifier) Notify(context.Context, Notification) error { return nil }

// BufferedNotifier retains notifications in memory for later draining. It is
// safe for concurrent use.
type BufferedNotifier struct {
	mu      sync.Mutex
	pending []Notification
}

// Notify appends n to the buffer.
func (b *BufferedNotifier) Notify(_ context.Context, n Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, n)

	return nil
}

// Drain returns and clears all buffered notifications.
func (b *BufferedNotifier) Drain() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.pending
	b.pending = nil

	return out
}

// newNotification stamps a delivery envelope for one subscription's matched
// records.
func newNotification(subID string, records []entity.ChangeRecord, now time.Time) Notification {
	return Notification{
		ID:             uuid.NewString(),
		SubscriptionID: subID,
		Records:        records,
		Timestamp:      now,
	}
}

// CallbackRegistry maps callback ids to notifiers. Registrations live
// independently of subscriptions: a subscription references a callback id
// but does not own it. Safe for concurrent use.
type CallbackRegistry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewCallbackRegistry creates an empty CallbackRegistry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{notifiers: make(map[string]Notifier)}
}

// Register installs n under id, replacing any prior registration.
func (c *CallbackRegistry) Register(id string, n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifiers[id] = n
}

// Unregister removes the registration for id and reports whether it existed.
func (c *CallbackRegistry) Unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.notifiers[id]
	delete(c.notifiers, id)

	return ok
}

// Get returns the notifier registered under id.
func (c *CallbackRegistry) Get(id string) (Notifier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.notifiers[id]

	return n, ok
}
