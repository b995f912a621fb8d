// Package stats holds the counters the compositor exposes for
// instrumentation. Nothing in the compositor reads them back, so
// sampling them has no effect on behavior.
package stats

import "time"

// Counters are per-output frame statistics.
type Counters struct {
	Presented  uint64
	Dropped    uint64
	Skipped    uint64
	DamageArea uint64
	Last       time.Duration
	Avg        time.Duration
}

// ObservePresent records a successful present.
func (c *Counters) ObservePresent(damageArea int, latency time.Duration) {
	c.Presented++
	c.DamageArea += uint64(damageArea)
	c.Last = latency
	if c.Presented == 1 {
		c.Avg = latency
		return
	}
	// Exponential moving average over roughly the last 16 frames.
	c.Avg += (latency - c.Avg) / 16
}

func (c *Counters) ObserveDrop() {
	c.Dropped++
}

// ObserveSkip records a pulse that had nothing to draw.
func (c *Counters) ObserveSkip() {
	c.Skipped++
}

// Output is a snapshot of one output's state.
type Output struct {
	ID        uint64
	Name      string
	Make      string
	Model     string
	Width     int
	Height    int
	Refresh   int
	X         int
	Y         int
	Scale     int
	Transform string
	State     string
	Counters  Counters
}

// Snapshot is the compositor-wide set of statistics.
type Snapshot struct {
	Uptime   time.Duration
	Clients  int
	Surfaces int
	Buffers  int
	Outputs  []Output
}

// Totals sums the counters of every output.
func (s Snapshot) Totals() Counters {
	var total Counters
	for _, o := range s.Outputs {
		total.Presented += o.Counters.Presented
		total.Dropped += o.Counters.Dropped
		total.Skipped += o.Counters.Skipped
		total.DamageArea += o.Counters.DamageArea
		total.Last = max(total.Last, o.Counters.Last)
		total.Avg = max(total.Avg, o.Counters.Avg)
	}
	return total
}
