// Package stats implements C8, the pool's statistics collector: pool
// totals, a per-worker table, a rolling share-record ring used to
// estimate hashrate, a once-a-minute pool-hashrate sample ring, and a
// bounded recent-method-call log. Grounded on the teacher's
// internal/miner/stats.go (StatsAggregator/RecordShare/EstimateHashrate),
// generalized from its dashboard-shaped DashboardStats/ResetRejected/
// LoadFromDB surface (persistence is out of scope here) down to exactly
// the fields spec §4.8 names.
package stats

import (
	"math"
	"sync"
	"time"
)

// maxShareRecords bounds the ring of (timestamp, difficulty) records used
// for hashrate estimation, per spec §4.8.
const maxShareRecords = 1000

// maxHashrateSamples bounds the once-a-minute pool hashrate ring.
const maxHashrateSamples = 100

// maxMethodLog bounds the recent Stratum method-call log kept for
// diagnostic display.
const maxMethodLog = 200

// hashrateWindow is the window W used for the pool-wide hashrate estimate.
const hashrateWindow = 10 * time.Minute

// Direction names which side originated a logged Stratum method call.
type Direction int

const (
	DirectionMinerToPool Direction = iota
	DirectionPoolToMiner
)

func (d Direction) String() string {
	if d == DirectionPoolToMiner {
		return "pool->miner"
	}
	return "miner->pool"
}

type shareRecord struct {
	timestamp  time.Time
	worker     string
	difficulty float64
}

type hashrateSample struct {
	timestamp time.Time
	hashrate  float64
}

type methodLogEntry struct {
	timestamp time.Time
	direction Direction
	method    string
}

// WorkerStats is the per-worker table entry spec §4.8 describes.
type WorkerStats struct {
	Name             string
	Valid            uint64
	Invalid          uint64
	Stale            uint64
	Difficulty       float64
	LastShareEpoch   int64
	ConnectionEpoch  int64
	Active           bool
	BlocksFound      uint64
}

// Collector is C8: the shared, mutex-guarded statistics service. One
// instance is owned by the pool and threaded into every session and the
// event loop, matching spec §5's shared-mutable-state policy (a single
// reentrant-style lock guards it; Go renders this as an ordinary mutex
// since nothing here recurses into itself while holding it).
type Collector struct {
	mu sync.Mutex

	startEpoch int64

	validTotal   uint64
	invalidTotal uint64
	staleTotal   uint64
	blocksFound  uint64

	shareRecords []shareRecord

	hashrateSamples []hashrateSample

	methodLog []methodLogEntry

	workers map[string]*WorkerStats
}

// NewCollector builds a Collector, stamping the process start epoch.
func NewCollector(now time.Time) *Collector {
	return &Collector{
		startEpoch: now.Unix(),
		workers:    make(map[string]*WorkerStats),
	}
}

// StartEpoch returns the process start time as a Unix epoch.
func (c *Collector) StartEpoch() int64 {
	return c.startEpoch
}

func (c *Collector) workerOf(name string) *WorkerStats {
	w, ok := c.workers[name]
	if !ok {
		w = &WorkerStats{Name: name}
		c.workers[name] = w
	}
	return w
}

// RecordConnect registers a newly authorized worker with its initial
// difficulty, marking it active.
func (c *Collector) RecordConnect(name string, difficulty float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.workerOf(name)
	w.ConnectionEpoch = time.Now().Unix()
	w.Difficulty = difficulty
	w.Active = true
}

// RecordDisconnect marks a worker inactive; its counters and history are
// kept so a reconnecting worker's totals aren't lost.
func (c *Collector) RecordDisconnect(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.workers[name]; ok {
		w.Active = false
	}
}

// RecordValid records an accepted share (valid-share or valid-block
// outcome) at the given implied difficulty, feeding both the pool total
// and the hashrate ring.
func (c *Collector) RecordValid(worker string, difficulty float64) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.validTotal++

	w := c.workerOf(worker)
	w.Valid++
	w.LastShareEpoch = now.Unix()
	w.Active = true

	c.shareRecords = append(c.shareRecords, shareRecord{timestamp: now, worker: worker, difficulty: difficulty})
	if len(c.shareRecords) > maxShareRecords {
		c.shareRecords = c.shareRecords[len(c.shareRecords)-maxShareRecords:]
	}
}

// RecordInvalid records a rejected share: malformed or below the session's
// target difficulty.
func (c *Collector) RecordInvalid(worker string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidTotal++
	if worker != "" {
		c.workerOf(worker).Invalid++
	}
}

// RecordStale records a share submitted against a job no longer in the
// registry.
func (c *Collector) RecordStale(worker string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.staleTotal++
	if worker != "" {
		c.workerOf(worker).Stale++
	}
}

// RecordBlock records a found block, both on the pool total and the
// worker that found it.
func (c *Collector) RecordBlock(worker string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocksFound++
	if worker != "" {
		c.workerOf(worker).BlocksFound++
	}
}

// SetDifficulty records a worker's current session difficulty after a
// vardiff or suggest_difficulty adjustment.
func (c *Collector) SetDifficulty(worker string, difficulty float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if worker == "" {
		return
	}
	c.workerOf(worker).Difficulty = difficulty
}

// RecordMethodInbound logs a miner->pool Stratum call for diagnostics.
func (c *Collector) RecordMethodInbound(method string) {
	c.recordMethod(DirectionMinerToPool, method)
}

// RecordMethodOutbound logs a pool->miner Stratum call for diagnostics.
func (c *Collector) RecordMethodOutbound(method string) {
	c.recordMethod(DirectionPoolToMiner, method)
}

func (c *Collector) recordMethod(dir Direction, method string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.methodLog = append(c.methodLog, methodLogEntry{timestamp: time.Now(), direction: dir, method: method})
	if len(c.methodLog) > maxMethodLog {
		c.methodLog = c.methodLog[len(c.methodLog)-maxMethodLog:]
	}
}

// SampleHashrate takes one pool-wide hashrate reading and appends it to
// the once-a-minute ring; the event loop's stats timer drives this.
func (c *Collector) SampleHashrate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.estimateHashrateLocked(hashrateWindow, "")
	c.hashrateSamples = append(c.hashrateSamples, hashrateSample{timestamp: time.Now(), hashrate: h})
	if len(c.hashrateSamples) > maxHashrateSamples {
		c.hashrateSamples = c.hashrateSamples[len(c.hashrateSamples)-maxHashrateSamples:]
	}
	return h
}

// EstimateHashrate returns the pool-wide hashrate over the standard
// window, per spec §4.8's H = (Σdiff)·2^32/W.
func (c *Collector) EstimateHashrate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimateHashrateLocked(hashrateWindow, "")
}

// EstimateWorkerHashrate returns one worker's hashrate over the standard
// window.
func (c *Collector) EstimateWorkerHashrate(worker string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimateHashrateLocked(hashrateWindow, worker)
}

func (c *Collector) estimateHashrateLocked(window time.Duration, worker string) float64 {
	now := time.Now()
	cutoff := now.Add(-window)

	var totalDiff float64
	var earliest time.Time

	for i := len(c.shareRecords) - 1; i >= 0; i-- {
		r := c.shareRecords[i]
		if r.timestamp.Before(cutoff) {
			break
		}
		if worker != "" && r.worker != worker {
			continue
		}
		totalDiff += r.difficulty
		earliest = r.timestamp
	}

	if totalDiff == 0 {
		return 0
	}

	windowSec := now.Sub(earliest).Seconds()
	if windowSec > window.Seconds() {
		windowSec = window.Seconds()
	}
	if windowSec < 30 {
		windowSec = 30
	}

	return totalDiff * math.Pow(2, 32) / windowSec
}

// Snapshot is a point-in-time read of the collector's public surfaces,
// the shape exposed over internal/webstats.
type Snapshot struct {
	StartEpoch   int64
	Valid        uint64
	Invalid      uint64
	Stale        uint64
	BlocksFound  uint64
	Hashrate     float64
	HashrateRing []HashrateSample
	Workers      []WorkerStats
}

// HashrateSample is one point in the pool-hashrate ring, in display form.
type HashrateSample struct {
	Epoch    int64
	Hashrate float64
}

// Snapshot returns a consistent copy of the collector's state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := make([]HashrateSample, len(c.hashrateSamples))
	for i, s := range c.hashrateSamples {
		ring[i] = HashrateSample{Epoch: s.timestamp.Unix(), Hashrate: s.hashrate}
	}

	workers := make([]WorkerStats, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, *w)
	}

	return Snapshot{
		StartEpoch:   c.startEpoch,
		Valid:        c.validTotal,
		Invalid:      c.invalidTotal,
		Stale:        c.staleTotal,
		BlocksFound:  c.blocksFound,
		Hashrate:     c.estimateHashrateLocked(hashrateWindow, ""),
		HashrateRing: ring,
		Workers:      workers,
	}
}

// RecentMethods returns a copy of the recent method-call log, most recent
// last.
func (c *Collector) RecentMethods() []MethodCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]MethodCall, len(c.methodLog))
	for i, e := range c.methodLog {
		out[i] = MethodCall{Epoch: e.timestamp.Unix(), Direction: e.direction.String(), Method: e.method}
	}
	return out
}

// MethodCall is one entry of the recent-method-call diagnostic log, in
// display form.
type MethodCall struct {
	Epoch     int64
	Direction string
	Method    string
}
