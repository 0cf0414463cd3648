package statesync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingCache struct {
	keys []string
}

func (c *recordingCache) Invalidate(key string) int {
	c.keys = append(c.keys, key)
	return 1
}

func TestInvalidatorPerEntityPlusCollection(t *testing.T) {
	cache := &recordingCache{}
	iv := NewInvalidator(cache, nil, "", nil)

	iv.Apply([]string{"light.a", "light.b", "light.c"})

	assert.Equal(t, []string{
		"entity:light.a",
		"entity:light.b",
		"entity:light.c",
		"entities:all",
	}, cache.keys)
}

func TestInvalidatorBulkThreshold(t *testing.T) {
	cache := &recordingCache{}
	iv := NewInvalidator(cache, nil, "", nil)

	ids := make([]string, bulkInvalidateThreshold+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("light.%d", i)
	}

	iv.Apply(ids)

	assert.Equal(t, []string{"entities:all"}, cache.keys,
		"above the threshold only the collection key is dropped")
}

func TestInvalidatorAtThresholdStillPerEntity(t *testing.T) {
	cache := &recordingCache{}
	iv := NewInvalidator(cache, nil, "", nil)

	ids := make([]string, bulkInvalidateThreshold)
	for i := range ids {
		ids[i] = fmt.Sprintf("light.%d", i)
	}

	iv.Apply(ids)

	assert.Len(t, cache.keys, bulkInvalidateThreshold+1)
}

func TestInvalidatorNoChangesNoCalls(t *testing.T) {
	cache := &recordingCache{}
	iv := NewInvalidator(cache, nil, "", nil)

	iv.Apply(nil)

	assert.Empty(t, cache.keys)
}

func TestInvalidatorNilCache(t *testing.T) {
	iv := NewInvalidator(nil, nil, "", nil)

	assert.NotPanics(t, func() { iv.Apply([]string{"light.a"}) })
}

func TestInvalidatorCustomKeys(t *testing.T) {
	cache := &recordingCache{}
	iv := NewInvalidator(cache, func(id string) string { return "ha/" + id }, "ha/index", nil)

	iv.Apply([]string{"light.a"})

	assert.Equal(t, []string{"ha/light.a", "ha/index"}, cache.keys)
}
