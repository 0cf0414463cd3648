package statesync

import (
	"log/slog"
)

// bulkInvalidateThreshold is the number of changed entities in one batch
// above which per-entity invalidation is skipped and only the collection
// key is dropped. Bulk updates (a full-state batch right after reconnect)
// would otherwise issue one invalidation per entity.
const bulkInvalidateThreshold = 10

// Cache is the slice of the response cache the engine needs: dropping keys.
// A key ending in '*' invalidates by prefix.
type Cache interface {
	Invalidate(keyOrPattern string) int
}

// Invalidator maps a batch's changed entity ids to response-cache keys.
type Invalidator struct {
	cache Cache
	log   *slog.Logger

	// entityKey renders the per-entity cache key; collectionKey is the
	// aggregate listing key. Both have defaults matching pkg/cache.
	entityKey     func(id string) string
	collectionKey string
}

// NewInvalidator creates an Invalidator over cache. entityKey and
// collectionKey may be zero to use the "entity:<id>" / "entities:all"
// defaults. A nil logger falls back to slog.Default().
func NewInvalidator(cache Cache, entityKey func(string) string, collectionKey string, log *slog.Logger) *Invalidator {
	if entityKey == nil {
		entityKey = func(id string) string { return "entity:" + id }
	}
	if collectionKey == "" {
		collectionKey = "entities:all"
	}
	if log == nil {
		log = slog.Default()
	}

	return &Invalidator{
		cache:         cache,
		log:           log,
		entityKey:     entityKey,
		collectionKey: collectionKey,
	}
}

// Apply invalidates the cache keys affected by the given changed entity
// ids: one key per entity plus the collection key, or only the collection
// key when the batch changed more than bulkInvalidateThreshold entities.
func (iv *Invalidator) Apply(changedIDs []string) {
	if iv.cache == nil || len(changedIDs) == 0 {
		return
	}

	if len(changedIDs) > bulkInvalidateThreshold {
		iv.cache.Invalidate(iv.collectionKey)
		iv.log.Debug("statesync: bulk cache invalidation", "changed", len(changedIDs))
		return
	}

	for _, id := range changedIDs {
		iv.cache.Invalidate(iv.entityKey(id))
	}

	iv.cache.Invalidate(iv.collectionKey)
}
