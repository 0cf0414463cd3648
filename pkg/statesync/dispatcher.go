package statesync

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/germanamz/hearth/pkg/entity"
)

// ErrUnknownSubscription is returned by pull reads naming a subscription id
// that is not registered (or has expired).
var ErrUnknownSubscription = errors.New("statesync: unknown subscription")

// delivery is one subscription's matched records for one dispatch cycle,
// bound for a push callback. Callbacks are invoked after the engine lock is
// released, so the subscription's continued existence is re-checked at
// delivery time.
type delivery struct {
	subID      string
	callbackID string
	// sub pins the registration the records were evaluated under. A
	// replacement installs a new *Subscription, so identity distinguishes
	// re-registration from mere continued existence.
	sub     *Subscription
	records []entity.ChangeRecord
}

// Dispatcher evaluates every active subscription against a batch's change
// records, buffers pull-mode results, and tracks per-entity pending changes
// for unscoped reads. It is not synchronized; the Engine guards all calls
// with the batch mutex.
type Dispatcher struct {
	store     *Store
	registry  *Registry
	callbacks *CallbackRegistry
	log       *slog.Logger

	// buffers holds undelivered pull-mode records per subscription id.
	buffers map[string][]entity.ChangeRecord
	// pending holds the latest unread change per entity id, for reads not
	// scoped to a subscription.
	pending map[string]entity.ChangeRecord
	// pendingGlobal is the fast-path flag: false means nothing anywhere has
	// changed since the last global check.
	pendingGlobal bool
}

// NewDispatcher creates a Dispatcher over the given collaborators. A nil
// logger falls back to slog.Default().
func NewDispatcher(store *Store, registry *Registry, callbacks *CallbackRegistry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		store:     store,
		registry:  registry,
		callbacks: callbacks,
		log:       log,
		buffers:   make(map[string][]entity.ChangeRecord),
		pending:   make(map[string]entity.ChangeRecord),
	}
}

// Evaluate records the batch's changes and computes the per-subscription
// delivery sets. Subscriptions whose callback id has a live registration
// get a delivery returned for post-lock invocation; everything else is
// buffered for pull retrieval.
func (d *Dispatcher) Evaluate(records []entity.ChangeRecord, now time.Time) []delivery {
	for _, cr := range records {
		d.pending[cr.EntityID] = cr
		d.pendingGlobal = true
	}

	var out []delivery

	for _, sub := range d.registry.Active(now) {
		matched := d.match(sub, records, now)
		if len(matched) == 0 {
			continue
		}

		if sub.CallbackID != "" {
			if _, ok := d.callbacks.Get(sub.CallbackID); ok {
				out = append(out, delivery{subID: sub.ID, callbackID: sub.CallbackID, sub: sub, records: matched})
				continue
			}
		}

		d.buffers[sub.ID] = append(d.buffers[sub.ID], matched...)
	}

	return out
}

// match applies the subscription's filter to the batch's change records and
// returns the (possibly narrowed) records it should receive this cycle.
func (d *Dispatcher) match(sub *Subscription, records []entity.ChangeRecord, now time.Time) []entity.ChangeRecord {
	var matched []entity.ChangeRecord

	for _, cr := range records {
		if !sub.Watches(cr.EntityID) {
			continue
		}

		f := sub.Filter

		if f.StateChangeOnly && !cr.StateChanged {
			continue
		}

		if len(f.AttributeAllowlist) > 0 {
			narrowed := intersect(cr.ChangedAttributes, f.AttributeAllowlist)
			if len(narrowed) == 0 && !cr.StateChanged {
				continue
			}
			cr.ChangedAttributes = narrowed
		}

		if f.MinChangeInterval > 0 && now.Sub(cr.PreviousUpdated) < f.MinChangeInterval {
			continue
		}

		matched = append(matched, cr)
	}

	return matched
}

// Forget drops the pull buffer of a removed subscription.
func (d *Dispatcher) Forget(subID string) {
	delete(d.buffers, subID)
}

// RecentQuery selects what RecentChanges returns. With neither a
// subscription id nor entity ids it covers every known entity.
type RecentQuery struct {
	SubscriptionID   string
	EntityIDs        []string
	IncludeUnchanged bool
}

// RecentChanges is the pull-delivery read. For a subscription-scoped read
// with IncludeUnchanged false it drains that subscription's buffer and
// advances its LastChecked; with IncludeUnchanged true it reports the
// current snapshot of every watched entity and leaves the buffer and
// LastChecked untouched. Unscoped reads consume the per-entity pending set.
func (d *Dispatcher) RecentChanges(q RecentQuery, now time.Time) ([]entity.ChangeRecord, error) {
	if q.SubscriptionID != "" {
		return d.recentForSubscription(q, now)
	}

	if q.IncludeUnchanged {
		ids := q.EntityIDs
		if len(ids) == 0 {
			ids = d.store.IDs()
		}
		return d.snapshotRows(ids), nil
	}

	if !d.pendingGlobal {
		return []entity.ChangeRecord{}, nil
	}

	ids := q.EntityIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(d.pending))
		for id := range d.pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	var rows []entity.ChangeRecord

	for _, id := range ids {
		cr, ok := d.pending[id]
		if !ok {
			continue
		}
		rows = append(rows, cr)
		delete(d.pending, id)
	}

	if len(d.pending) == 0 {
		d.pendingGlobal = false
	}

	if rows == nil {
		rows = []entity.ChangeRecord{}
	}

	return rows, nil
}

func (d *Dispatcher) recentForSubscription(q RecentQuery, now time.Time) ([]entity.ChangeRecord, error) {
	sub, ok := d.registry.Get(q.SubscriptionID)
	if !ok || sub.Expired(now) {
		return nil, ErrUnknownSubscription
	}

	if q.IncludeUnchanged {
		return d.snapshotRows(sub.EntityIDs), nil
	}

	rows := d.buffers[sub.ID]
	delete(d.buffers, sub.ID)
	sub.LastChecked = now

	if rows == nil {
		rows = []entity.ChangeRecord{}
	}

	return rows, nil
}

// snapshotRows returns the current snapshot of every known id in ids,
// annotated with the pending changed-attribute names when available. It
// consumes nothing.
func (d *Dispatcher) snapshotRows(ids []string) []entity.ChangeRecord {
	rows := make([]entity.ChangeRecord, 0, len(ids))

	for _, id := range ids {
		curr, _, ok := d.store.Get(id)
		if !ok {
			continue
		}

		row := entity.ChangeRecord{
			EntityID:    curr.ID,
			State:       curr.State,
			Attributes:  curr.Attributes,
			LastChanged: curr.LastChanged,
			LastUpdated: curr.LastUpdated,
		}

		if cr, ok := d.pending[id]; ok {
			row.StateChanged = cr.StateChanged
			row.ChangedAttributes = cr.ChangedAttributes
		}

		rows = append(rows, row)
	}

	return rows
}

// intersect returns the members of changed that are also in allowlist,
// preserving changed's order.
func intersect(changed, allowlist []string) []string {
	var out []string

	for _, name := range changed {
		for _, allowed := range allowlist {
			if name == allowed {
				out = append(out, name)
				break
			}
		}
	}

	return out
}
