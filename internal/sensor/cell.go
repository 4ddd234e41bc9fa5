package sensor

import "sync"

// SampleCell holds the latest unsent sample. Publishing overwrites any
// sample not yet taken and raises a single pending signal.
type SampleCell struct {
	mu      sync.Mutex
	value   float64
	pending bool
	last    float64
	hasLast bool
	signal  chan struct{}
}

func NewSampleCell() *SampleCell {
	return &SampleCell{signal: make(chan struct{}, 1)}
}

// Publish stores value as the newest sample
func (c *SampleCell) Publish(value float64) {
	c.mu.Lock()
	c.value = value
	c.pending = true
	c.last = value
	c.hasLast = true
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// C fires after at least one Publish since the last Take
func (c *SampleCell) C() <-chan struct{} {
	return c.signal
}

// Take returns the pending sample and clears it
func (c *SampleCell) Take() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return 0, false
	}
	c.pending = false
	return c.value, true
}

// Last returns the most recently published sample, sent or not
func (c *SampleCell) Last() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}
