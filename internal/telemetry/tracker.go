// Package telemetry tracks the latest radio duty-cycle sample and process
// uptime. Last value wins; there is no history and nothing is persisted.
package telemetry

import (
	"sync"
	"time"

	"github.com/jvasek/meshbot/internal/mesh"
)

// Snapshot is the current telemetry view rendered by the !air command.
type Snapshot struct {
	BotUptime      time.Duration
	TxAirtimePct   float64
	RxAirtimePct   float64
	ChannelUtilPct float64
	SampledAt      time.Time
	HasSample      bool
}

// Tracker accumulates per-session counters from transport statistics pushes.
type Tracker struct {
	mu        sync.Mutex
	startedAt time.Time
	last      mesh.Stats
	hasSample bool
	now       func() time.Time
}

// New creates a Tracker; uptime is measured from this call.
func New() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	return &Tracker{
		startedAt: now(),
		now:       now,
	}
}

// Update records a statistics sample, replacing any previous one.
func (t *Tracker) Update(s mesh.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = s
	t.hasSample = true
}

// Snapshot returns the most recent sample plus computed uptime.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		BotUptime:      t.now().Sub(t.startedAt),
		TxAirtimePct:   t.last.TxAirtimePct,
		RxAirtimePct:   t.last.RxAirtimePct,
		ChannelUtilPct: t.last.ChannelUtilPct,
		SampledAt:      t.last.SampledAt,
		HasSample:      t.hasSample,
	}
}
