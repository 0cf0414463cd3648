package statesync

import (
	"sort"
	"time"
)

// Filter narrows which change records a subscription receives.
type Filter struct {
	// StateChangeOnly drops records whose only change is an attribute value.
	StateChangeOnly bool
	// AttributeAllowlist, when non-empty, drops records whose changed
	// attributes do not intersect it. Reported changed attributes are
	// narrowed to the intersection; state changes pass regardless.
	AttributeAllowlist []string
	// MinChangeInterval drops records whose previous generation was updated
	// less than this long ago.
	MinChangeInterval time.Duration
}

// IsZero reports whether no filter criteria are set.
func (f Filter) IsZero() bool {
	return !f.StateChangeOnly && len(f.AttributeAllowlist) == 0 && f.MinChangeInterval == 0
}

// Subscription is a named registration of interest in a set of entity ids.
type Subscription struct {
	ID          string
	EntityIDs   []string
	Filter      Filter
	ExpiresAt   time.Time // zero when the subscription never expires
	CallbackID  string    // empty when delivery is pull-only
	LastChecked time.Time // advanced by pull reads, never by dispatch
}

// Expired reports whether the subscription's expiry has passed.
func (s *Subscription) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Watches reports whether the subscription covers the given entity id.
func (s *Subscription) Watches(id string) bool {
	for _, want := range s.EntityIDs {
		if want == id {
			return true
		}
	}

	return false
}

// Registry holds all live subscriptions. It is deliberately not
// synchronized; the Engine guards it with the batch mutex so that
// registration changes and dispatch evaluation never interleave.
type Registry struct {
	subs map[string]*Subscription
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

// Register installs sub, atomically replacing any prior subscription with
// the same id. It reports whether a prior registration was replaced; the
// old filter, expiry, and callback no longer apply from this point on.
func (r *Registry) Register(sub *Subscription) (replaced bool) {
	_, replaced = r.subs[sub.ID]
	r.subs[sub.ID] = sub

	return replaced
}

// Unregister removes the subscription with the given id and reports whether
// it existed. A missing id is not an error.
func (r *Registry) Unregister(id string) bool {
	_, ok := r.subs[id]
	delete(r.subs, id)

	return ok
}

// Get returns the subscription with the given id.
func (r *Registry) Get(id string) (*Subscription, bool) {
	s, ok := r.subs[id]
	return s, ok
}

// Active returns all non-expired subscriptions sorted by id.
func (r *Registry) Active(now time.Time) []*Subscription {
	active := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if !s.Expired(now) {
			active = append(active, s)
		}
	}

	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	return active
}

// PurgeExpired removes every subscription whose expiry has passed and
// returns the removed ids. Called before each dispatch cycle so expired
// subscriptions never appear in deliveries.
func (r *Registry) PurgeExpired(now time.Time) []string {
	var purged []string

	for id, s := range r.subs {
		if s.Expired(now) {
			delete(r.subs, id)
			purged = append(purged, id)
		}
	}

	sort.Strings(purged)

	return purged
}

// Len returns the number of registered subscriptions, expired or not.
func (r *Registry) Len() int { return len(r.subs) }
