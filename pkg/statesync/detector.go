package statesync

import (
	"log/slog"

	"github.com/germanamz/hearth/pkg/entity"
)

// Detector diffs incoming batches against the store's previous generation
// and advances the store. It is not safe for concurrent use; the Engine
// serializes batch processing.
type Detector struct {
	store *Store
	log   *slog.Logger
}

// NewDetector creates a Detector writing snapshots into store. A nil logger
// falls back to slog.Default().
func NewDetector(store *Store, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}

	return &Detector{store: store, log: log}
}

// Apply processes one batch in order and returns a ChangeRecord for every
// entity whose state or attribute values differ from the prior generation.
// An entity's first observation installs a snapshot but yields no record.
// Malformed payloads (missing entity id) are logged and skipped; they never
// abort the rest of the batch.
func (d *Detector) Apply(batch []entity.Entity) []entity.ChangeRecord {
	var records []entity.ChangeRecord

	for _, e := range batch {
		if e.ID == "" {
			d.log.Warn("statesync: skipping malformed entity payload", "state", e.State)
			continue
		}

		prev, seen := d.previous(e.ID)

		d.store.Update(e.ID, e)

		if !seen {
			continue
		}

		stateChanged, changedAttrs := entity.Diff(prev, e)
		if !stateChanged && len(changedAttrs) == 0 {
			continue
		}

		records = append(records, entity.ChangeRecord{
			EntityID:          e.ID,
			State:             e.State,
			Attributes:        e.Clone().Attributes,
			LastChanged:       e.LastChanged,
			LastUpdated:       e.LastUpdated,
			StateChanged:      stateChanged,
			ChangedAttributes: changedAttrs,
			PreviousUpdated:   prev.LastUpdated,
		})
	}

	return records
}

// previous returns the generation the incoming batch will be compared
// against: the store's current snapshot, before Update shifts it.
func (d *Detector) previous(id string) (entity.Entity, bool) {
	curr, _, ok := d.store.Get(id)
	return curr, ok
}
