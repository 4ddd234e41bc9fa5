package controller

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ReadingCache keeps the most recent reading per sensor. Readings older
// than staleAfter are treated as absent.
type ReadingCache struct {
	latest     *lru.Cache[string, Reading]
	staleAfter time.Duration
}

func NewReadingCache(size int, staleAfter time.Duration) *ReadingCache {
	if size <= 0 {
		size = 1024
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	latest, _ := lru.New[string, Reading](size)
	return &ReadingCache{latest: latest, staleAfter: staleAfter}
}

// Store replaces the cached reading unless it is newer than reading
func (c *ReadingCache) Store(reading Reading) {
	if current, ok := c.latest.Peek(reading.SensorID); ok && current.ReceivedAt.After(reading.ReceivedAt) {
		return
	}
	c.latest.Add(reading.SensorID, reading)
}

// Latest returns the newest fresh reading for sensorID
func (c *ReadingCache) Latest(sensorID string) (Reading, bool) {
	reading, ok := c.latest.Get(sensorID)
	if !ok {
		return Reading{}, false
	}
	if time.Since(reading.ReceivedAt) > c.staleAfter {
		c.latest.Remove(sensorID)
		return Reading{}, false
	}
	return reading, true
}

func (c *ReadingCache) Forget(sensorID string) {
	c.latest.Remove(sensorID)
}

func (c *ReadingCache) Len() int {
	return c.latest.Len()
}
