package sensor

import (
	"context"
	"math"
	"math/rand"
	"time"

	"machinery/internal/network"
)

type valueRange struct {
	min, max float64
}

// Simulated ranges: degrees C, mm/s and PSI
var kindRanges = map[string]valueRange{
	network.KindTemperature: {20, 100},
	network.KindVibration:   {0, 20},
	network.KindPressure:    {10, 100},
}

// Sampler publishes a simulated reading to a cell at a fixed interval
type Sampler struct {
	kind     string
	interval time.Duration
	cell     *SampleCell
	rng      *rand.Rand
}

func NewSampler(kind string, interval time.Duration, cell *SampleCell) *Sampler {
	return &Sampler{
		kind:     kind,
		interval: interval,
		cell:     cell,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Sample draws one value for the sampler's kind, rounded to two decimals
func (s *Sampler) Sample() float64 {
	r, ok := kindRanges[s.kind]
	if !ok {
		return 0
	}
	v := r.min + s.rng.Float64()*(r.max-r.min)
	return math.Round(v*100) / 100
}

// Run publishes one sample immediately and then one per interval
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.cell.Publish(s.Sample())
	for {
		select {
		case <-ticker.C:
			s.cell.Publish(s.Sample())
		case <-ctx.Done():
			return
		}
	}
}
