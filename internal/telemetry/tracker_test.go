package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/jvasek/meshbot/internal/mesh"
)

func TestSnapshotBeforeFirstSample(t *testing.T) {
	tr := New()
	snap := tr.Snapshot()
	if snap.HasSample {
		t.Error("expected no sample before first Update")
	}
}

func TestLastValueWins(t *testing.T) {
	tr := New()
	tr.Update(mesh.Stats{TxAirtimePct: 1, RxAirtimePct: 2, ChannelUtilPct: 3})
	tr.Update(mesh.Stats{TxAirtimePct: 4, RxAirtimePct: 5, ChannelUtilPct: 6})

	snap := tr.Snapshot()
	if !snap.HasSample {
		t.Fatal("expected a sample")
	}
	if snap.TxAirtimePct != 4 || snap.RxAirtimePct != 5 || snap.ChannelUtilPct != 6 {
		t.Errorf("snapshot = %+v, want latest sample", snap)
	}
}

func TestUptime(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	tr := newTracker(func() time.Time { return clock })

	clock = base.Add(90 * time.Second)
	if got := tr.Snapshot().BotUptime; got != 90*time.Second {
		t.Errorf("uptime = %v", got)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tr.Update(mesh.Stats{TxAirtimePct: float64(n)})
			_ = tr.Snapshot()
		}(i)
	}
	wg.Wait()

	if !tr.Snapshot().HasSample {
		t.Error("expected a sample after concurrent updates")
	}
}
