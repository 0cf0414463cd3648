// Package entity defines the remote state-object model shared by the REST
// client, the live sync engine, and the tool adapters. An Entity mirrors the
// wire shape of a Home Assistant state object: an opaque string id, a string
// state, and a free-form attributes map.
package entity

import (
	"time"
)

// Entity is one remotely-owned object at a point in time.
type Entity struct {
	ID          string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Clone returns a copy of e with its own attributes map. Attribute values
// are deep-copied for the aggregate types JSON decoding produces (maps and
// slices); scalar values are shared.
func (e Entity) Clone() Entity {
	cp := e
	cp.Attributes = cloneAttrs(e.Attributes)
	return cp
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}

	cp := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cp[k] = cloneValue(v)
	}

	return cp
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneAttrs(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	default:
		return v
	}
}

// ChangeRecord is the computed diff between two consecutive snapshots of the
// same entity. It carries the new snapshot's fields plus which attribute keys
// changed and whether the state string itself changed.
type ChangeRecord struct {
	EntityID          string         `json:"entity_id"`
	State             string         `json:"state"`
	Attributes        map[string]any `json:"attributes"`
	LastChanged       time.Time      `json:"last_changed"`
	LastUpdated       time.Time      `json:"last_updated"`
	StateChanged      bool           `json:"state_changed"`
	ChangedAttributes []string       `json:"changed_attribute_names"`

	// PreviousUpdated is the prior generation's LastUpdated, kept for
	// debounce-interval filtering. Not part of the wire shape.
	PreviousUpdated time.Time `json:"-"`
}

// HasChangedAttribute reports whether name is in ChangedAttributes.
func (cr ChangeRecord) HasChangedAttribute(name string) bool {
	for _, n := range cr.ChangedAttributes {
		if n == name {
			return true
		}
	}

	return false
}
