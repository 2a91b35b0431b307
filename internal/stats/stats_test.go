package stats

import (
	"testing"
	"time"
)

func TestRecordValidUpdatesPoolAndWorkerTotals(t *testing.T) {
	c := NewCollector(time.Now())

	c.RecordConnect("worker1", 1)
	c.RecordValid("worker1", 2.5)
	c.RecordValid("worker1", 1.0)

	snap := c.Snapshot()
	if snap.Valid != 2 {
		t.Fatalf("pool valid total = %d, want 2", snap.Valid)
	}
	if len(snap.Workers) != 1 || snap.Workers[0].Valid != 2 {
		t.Fatalf("worker stats = %+v, want one worker with 2 valid shares", snap.Workers)
	}
}

func TestRecordInvalidAndStaleCounters(t *testing.T) {
	c := NewCollector(time.Now())

	c.RecordInvalid("worker1")
	c.RecordInvalid("worker1")
	c.RecordStale("worker1")

	snap := c.Snapshot()
	if snap.Invalid != 2 {
		t.Fatalf("pool invalid total = %d, want 2", snap.Invalid)
	}
	if snap.Stale != 1 {
		t.Fatalf("pool stale total = %d, want 1", snap.Stale)
	}
}

func TestRecordBlockIncrementsPoolAndWorker(t *testing.T) {
	c := NewCollector(time.Now())
	c.RecordBlock("worker1")

	snap := c.Snapshot()
	if snap.BlocksFound != 1 {
		t.Fatalf("blocks found = %d, want 1", snap.BlocksFound)
	}
	if snap.Workers[0].BlocksFound != 1 {
		t.Fatalf("worker blocks found = %d, want 1", snap.Workers[0].BlocksFound)
	}
}

func TestEstimateHashrateZeroWithNoShares(t *testing.T) {
	c := NewCollector(time.Now())
	if h := c.EstimateHashrate(); h != 0 {
		t.Fatalf("EstimateHashrate() with no shares = %v, want 0", h)
	}
}

func TestEstimateHashratePositiveAfterShares(t *testing.T) {
	c := NewCollector(time.Now())
	c.RecordValid("worker1", 100)
	c.RecordValid("worker1", 100)

	if h := c.EstimateHashrate(); h <= 0 {
		t.Fatalf("EstimateHashrate() after shares = %v, want > 0", h)
	}
}

func TestSampleHashrateAppendsToRing(t *testing.T) {
	c := NewCollector(time.Now())
	c.RecordValid("worker1", 50)

	c.SampleHashrate()
	c.SampleHashrate()

	snap := c.Snapshot()
	if len(snap.HashrateRing) != 2 {
		t.Fatalf("hashrate ring length = %d, want 2", len(snap.HashrateRing))
	}
}

func TestSampleHashrateRingBounded(t *testing.T) {
	c := NewCollector(time.Now())
	for i := 0; i < maxHashrateSamples+10; i++ {
		c.SampleHashrate()
	}
	snap := c.Snapshot()
	if len(snap.HashrateRing) != maxHashrateSamples {
		t.Fatalf("hashrate ring length = %d, want bounded at %d", len(snap.HashrateRing), maxHashrateSamples)
	}
}

func TestShareRecordRingBounded(t *testing.T) {
	c := NewCollector(time.Now())
	for i := 0; i < maxShareRecords+50; i++ {
		c.RecordValid("worker1", 1)
	}
	if len(c.shareRecords) != maxShareRecords {
		t.Fatalf("share record ring length = %d, want bounded at %d", len(c.shareRecords), maxShareRecords)
	}
}

func TestRecordMethodLogTracksDirection(t *testing.T) {
	c := NewCollector(time.Now())
	c.RecordMethodInbound("mining.submit")
	c.RecordMethodOutbound("mining.notify")

	calls := c.RecentMethods()
	if len(calls) != 2 {
		t.Fatalf("recent methods length = %d, want 2", len(calls))
	}
	if calls[0].Direction != "miner->pool" || calls[1].Direction != "pool->miner" {
		t.Fatalf("recent methods = %+v, want miner->pool then pool->miner", calls)
	}
}

func TestMethodLogBounded(t *testing.T) {
	c := NewCollector(time.Now())
	for i := 0; i < maxMethodLog+20; i++ {
		c.RecordMethodInbound("mining.submit")
	}
	if len(c.RecentMethods()) != maxMethodLog {
		t.Fatalf("recent methods length = %d, want bounded at %d", len(c.RecentMethods()), maxMethodLog)
	}
}

func TestRecordDisconnectMarksInactiveButKeepsHistory(t *testing.T) {
	c := NewCollector(time.Now())
	c.RecordConnect("worker1", 1)
	c.RecordValid("worker1", 1)
	c.RecordDisconnect("worker1")

	snap := c.Snapshot()
	if len(snap.Workers) != 1 {
		t.Fatalf("worker count after disconnect = %d, want 1 (retained)", len(snap.Workers))
	}
	if snap.Workers[0].Active {
		t.Fatalf("worker must be marked inactive after disconnect")
	}
	if snap.Workers[0].Valid != 1 {
		t.Fatalf("worker valid count after disconnect = %d, want 1 (preserved)", snap.Workers[0].Valid)
	}
}

func TestSetDifficultyUpdatesWorker(t *testing.T) {
	c := NewCollector(time.Now())
	c.RecordConnect("worker1", 1)
	c.SetDifficulty("worker1", 4)

	snap := c.Snapshot()
	if snap.Workers[0].Difficulty != 4 {
		t.Fatalf("worker difficulty = %v, want 4", snap.Workers[0].Difficulty)
	}
}

func TestStartEpochStamped(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCollector(now)
	if c.StartEpoch() != now.Unix() {
		t.Fatalf("StartEpoch() = %d, want %d", c.StartEpoch(), now.Unix())
	}
}
