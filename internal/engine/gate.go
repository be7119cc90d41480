// Package engine orchestrates the two periodic cycles: event ingestion
// and order resolution. Each cycle runs behind a Gate so ticks never
// overlap a still-running pass.
package engine

import (
	"sync/atomic"
	"time"
)

const (
	gateIdle uint32 = iota
	gateRunning
)

// Gate is a compare-and-swap entry guard for a periodic cycle. A tick
// enters only when the previous pass has left and the minimum interval
// since the last entry has elapsed.
type Gate struct {
	state       atomic.Uint32
	lastEntered atomic.Int64
	minInterval time.Duration
	now         func() time.Time
}

// NewGate builds a gate. minInterval of zero disables throttling.
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{minInterval: minInterval, now: time.Now}
}

// TryEnter attempts to claim the gate. It returns false when a pass is
// still running or the minimum interval has not elapsed; the caller
// skips the tick.
func (g *Gate) TryEnter() bool {
	if g.minInterval > 0 {
		last := g.lastEntered.Load()
		if last != 0 && g.now().Sub(time.Unix(0, last)) < g.minInterval {
			return false
		}
	}
	if !g.state.CompareAndSwap(gateIdle, gateRunning) {
		return false
	}
	g.lastEntered.Store(g.now().UnixNano())
	return true
}

// Leave releases the gate. Callers pair it with a successful TryEnter,
// usually via defer.
func (g *Gate) Leave() {
	g.state.Store(gateIdle)
}
