package statesync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/germanamz/hearth/pkg/entity"
)

// EngineConfig holds Engine settings. Cache may be nil when no response
// cache is wired; Transport may be nil and can be bound later.
type EngineConfig struct {
	Cache         Cache
	EntityKey     func(id string) string
	CollectionKey string
	Transport     io.Closer
	Logger        *slog.Logger
	Now           func() time.Time
}

// Engine owns the live sync state: the snapshot store, the subscription and
// callback registries, the dispatcher, and the cache invalidator. All
// mutable state lives on the Engine instance; there are no package-level
// flags or singletons. Batches are processed strictly one at a time: a
// single mutex is held for the diffing and dispatch evaluation of one
// batch, and push callbacks are invoked only after it is released, so a
// callback that re-enters the engine (to unsubscribe itself, say) cannot
// deadlock.
type Engine struct {
	store       *Store
	registry    *Registry
	callbacks   *CallbackRegistry
	detector    *Detector
	dispatcher  *Dispatcher
	invalidator *Invalidator
	transport   io.Closer
	log         *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg EngineConfig) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	store := NewStore()
	registry := NewRegistry()
	callbacks := NewCallbackRegistry()

	return &Engine{
		store:       store,
		registry:    registry,
		callbacks:   callbacks,
		detector:    NewDetector(store, log),
		dispatcher:  NewDispatcher(store, registry, callbacks, log),
		invalidator: NewInvalidator(cfg.Cache, cfg.EntityKey, cfg.CollectionKey, log),
		transport:   cfg.Transport,
		log:         log,
		now:         now,
	}
}

// BindTransport attaches the push transport so Close can tear it down.
func (e *Engine) BindTransport(t io.Closer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.transport = t
}

// Store returns the engine's snapshot store.
func (e *Engine) Store() *Store { return e.store }

// HandleBatch processes one incoming state batch: purge expired
// subscriptions, diff against the prior generation, advance the store,
// evaluate subscriptions, invalidate affected cache keys, then deliver push
// notifications. Errors inside a batch never prevent later batches from
// being processed.
func (e *Engine) HandleBatch(batch []entity.Entity) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return
	}

	now := e.now()

	for _, id := range e.registry.PurgeExpired(now) {
		e.dispatcher.Forget(id)
		e.log.Debug("statesync: subscription expired", "subscription_id", id)
	}

	records := e.detector.Apply(batch)
	deliveries := e.dispatcher.Evaluate(records, now)

	e.mu.Unlock()

	e.invalidator.Apply(changedIDs(records))

	for _, dl := range deliveries {
		e.deliver(dl, now)
	}
}

// deliver invokes one subscription's push callback with its matched records
// for this cycle. The registration the records were evaluated under is
// re-checked first: an unregister or a replacement that happened between
// evaluation and delivery wins, so records matched by a superseded filter
// are never delivered. A callback error is logged and never affects other
// subscriptions.
func (e *Engine) deliver(dl delivery, now time.Time) {
	e.mu.Lock()
	sub, ok := e.registry.Get(dl.subID)
	live := ok && sub == dl.sub && !sub.Expired(now)
	e.mu.Unlock()

	if !live {
		return
	}

	n, ok := e.callbacks.Get(dl.callbackID)
	if !ok {
		return
	}

	if err := n.Notify(context.Background(), newNotification(dl.subID, dl.records, now)); err != nil {
		e.log.Warn("statesync: callback delivery failed",
			"subscription_id", dl.subID, "callback_id", dl.callbackID, "error", err)
	}
}

// SubscribeRequest names a subscription to create or replace.
type SubscribeRequest struct {
	ID         string
	EntityIDs  []string
	Filter     Filter
	TTL        time.Duration // zero means the subscription never expires
	CallbackID string
}

// Subscribe registers the subscription, atomically replacing any prior one
// with the same id, and reports whether a replacement happened.
func (e *Engine) Subscribe(req SubscribeRequest) (Subscription, bool, error) {
	if req.ID == "" {
		return Subscription{}, false, errors.New("statesync: subscription id is required")
	}
	if len(req.EntityIDs) == 0 {
		return Subscription{}, false, errors.New("statesync: at least one entity id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	sub := &Subscription{
		ID:          req.ID,
		EntityIDs:   append([]string(nil), req.EntityIDs...),
		Filter:      req.Filter,
		CallbackID:  req.CallbackID,
		LastChecked: now,
	}
	if req.TTL > 0 {
		sub.ExpiresAt = now.Add(req.TTL)
	}

	replaced := e.registry.Register(sub)
	if replaced {
		// The old registration's buffered results die with it.
		e.dispatcher.Forget(sub.ID)
	}

	return *sub, replaced, nil
}

// Unsubscribe removes the subscription and its buffered results. It reports
// whether the id was registered; a missing id is not an error.
func (e *Engine) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dispatcher.Forget(id)

	return e.registry.Unregister(id)
}

// Descriptor describes one live subscription for listings.
type Descriptor struct {
	ID           string    `json:"subscription_id"`
	EntityIDs    []string  `json:"entity_ids"`
	Filter       Filter    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	CallbackID   string    `json:"callback_id,omitempty"`
	CallbackLive bool      `json:"callback_live"`
	LastChecked  time.Time `json:"last_checked"`
}

// ListSubscriptions returns all non-expired subscriptions sorted by id.
func (e *Engine) ListSubscriptions() []Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := e.registry.Active(e.now())
	out := make([]Descriptor, 0, len(active))

	for _, sub := range active {
		_, live := e.callbacks.Get(sub.CallbackID)
		out = append(out, Descriptor{
			ID:           sub.ID,
			EntityIDs:    append([]string(nil), sub.EntityIDs...),
			Filter:       sub.Filter,
			ExpiresAt:    sub.ExpiresAt,
			CallbackID:   sub.CallbackID,
			CallbackLive: sub.CallbackID != "" && live,
			LastChecked:  sub.LastChecked,
		})
	}

	return out
}

// RecentChanges is the pull-delivery read described on Dispatcher. It may
// run concurrently with batch processing; the engine mutex serializes them.
func (e *Engine) RecentChanges(q RecentQuery) ([]entity.ChangeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.dispatcher.RecentChanges(q, e.now())
}

// RegisterCallback installs a push delivery function under id. The
// registration's lifetime is independent of any subscription referencing it.
func (e *Engine) RegisterCallback(id string, n Notifier) {
	e.callbacks.Register(id, n)
}

// UnregisterCallback removes the delivery function registered under id.
func (e *Engine) UnregisterCallback(id string) bool {
	return e.callbacks.Unregister(id)
}

// Close unsubscribes everything and closes the bound transport. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true

	now := e.now()
	for _, id := range e.registry.PurgeExpired(now) {
		e.dispatcher.Forget(id)
	}
	for _, sub := range e.registry.Active(now) {
		e.registry.Unregister(sub.ID)
		e.dispatcher.Forget(sub.ID)
	}

	t := e.transport
	e.mu.Unlock()

	if t != nil {
		return t.Close()
	}

	return nil
}

// changedIDs returns the sorted entity ids with at least one change record.
func changedIDs(records []entity.ChangeRecord) []string {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, cr := range records {
		if _, ok := seen[cr.EntityID]; ok {
			continue
		}
		seen[cr.EntityID] = struct{}{}
		ids = append(ids, cr.EntityID)
	}

	sort.Strings(ids)

	return ids
}
