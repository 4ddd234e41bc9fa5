package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadingCache(t *testing.T) {
	cache := NewReadingCache(2, time.Minute)
	now := time.Now()

	cache.Store(Reading{SensorID: "a", Value: 1, ReceivedAt: now})
	cache.Store(Reading{SensorID: "a", Value: 0, ReceivedAt: now.Add(-time.Second)})
	got, ok := cache.Latest("a")
	assert.True(t, ok)
	assert.Equal(t, 1.0, got.Value, "older reading must not replace newer")

	cache.Store(Reading{SensorID: "a", Value: 2, ReceivedAt: now.Add(time.Second)})
	got, _ = cache.Latest("a")
	assert.Equal(t, 2.0, got.Value)

	cache.Store(Reading{SensorID: "stale", Value: 9, ReceivedAt: now.Add(-2 * time.Minute)})
	_, ok = cache.Latest("stale")
	assert.False(t, ok)

	cache.Store(Reading{SensorID: "b", Value: 3, ReceivedAt: now})
	cache.Store(Reading{SensorID: "c", Value: 4, ReceivedAt: now})
	assert.Equal(t, 2, cache.Len())

	cache.Forget("c")
	_, ok = cache.Latest("c")
	assert.False(t, ok)
}
