// Package engine implements C9: the event loop that ties the node client,
// job builder/registry, and Stratum server together. Grounded on the
// teacher's internal/node/monitor.go (ChainMonitor.pollLoop's ticker-
// driven refresh), simplified per spec §4.9's single 30-second refresh
// timer (no separate fast best-block-hash poll loop: every tick refreshes
// the template and broadcasts unconditionally with clean_jobs=true) and
// extended with the stats-sampling and vardiff-inactivity-sweep timers
// spec §4.8/§4.7 also run on this same cooperative loop. Lifecycle
// coordination uses golang.org/x/sync/errgroup, the pattern the rest of
// the retrieval pack's service-shaped repos use instead of a hand-rolled
// sync.WaitGroup+stop-channel pair.
package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/b-vibesonly/joule-pool/internal/bitcoin"
	"github.com/b-vibesonly/joule-pool/internal/job"
	"github.com/b-vibesonly/joule-pool/internal/logx"
	"github.com/b-vibesonly/joule-pool/internal/stats"
	"github.com/b-vibesonly/joule-pool/internal/stratum"
)

// refreshInterval is the template-refresh cadence spec §4.9 names.
const refreshInterval = 30 * time.Second

// statsInterval is the pool-hashrate sampling cadence spec §4.8 names.
const statsInterval = 60 * time.Second

// sweepInterval drives the vardiff inactivity sweep; it runs more often
// than the no-share timeout itself (30s) so a client crosses the
// threshold promptly rather than waiting up to a full extra period.
const sweepInterval = 10 * time.Second

// Engine is C9: the single cooperative loop coordinating the Stratum
// server's accept/session goroutines with the periodic node-refresh,
// stats-sampling, and vardiff-sweep timers. All of the state these timers
// touch (job registry, statistics, difficulty adjuster) is guarded by its
// own mutex per spec §5, so the timers and the per-session goroutines can
// run concurrently without an engine-level lock.
type Engine struct {
	node      *bitcoin.Client
	builder   *job.Builder
	registry  *job.Registry
	validator *stratum.Validator
	adjuster  *stratum.DifficultyAdjuster
	collector *stats.Collector
	server    *stratum.Server

	onStatsSample func(connected int)

	log *logx.Logger
}

// SetStatsSampleHook registers a callback invoked right after each
// stats-sampling tick, passing the current session count. main.go uses
// this to refresh internal/webstats's Prometheus gauges without the
// engine needing to know that package exists.
func (e *Engine) SetStatsSampleHook(fn func(connected int)) {
	e.onStatsSample = fn
}

// New builds an Engine from the pool's already-constructed services.
func New(node *bitcoin.Client, builder *job.Builder, registry *job.Registry, validator *stratum.Validator, adjuster *stratum.DifficultyAdjuster, collector *stats.Collector, server *stratum.Server) *Engine {
	return &Engine{
		node:      node,
		builder:   builder,
		registry:  registry,
		validator: validator,
		adjuster:  adjuster,
		collector: collector,
		server:    server,
		log:       logx.Component("engine"),
	}
}

// Run fetches an initial block template, starts the Stratum listener, and
// runs the refresh/stats/sweep timers until ctx is cancelled, then shuts
// the listener down gracefully. Returns a non-nil error only if the
// initial template fetch or the listener fails to start; timer errors
// are logged and retried on the next tick rather than ending the loop,
// since a single missed node RPC shouldn't take the pool down.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.refreshTemplate(ctx, true); err != nil {
		return fmt.Errorf("initial block template fetch: %w", err)
	}

	if err := e.server.Start(); err != nil {
		return fmt.Errorf("start stratum server: %w", err)
	}
	defer e.server.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { e.refreshLoop(gctx); return nil })
	g.Go(func() error { e.statsLoop(gctx); return nil })
	g.Go(func() error { e.sweepLoop(gctx); return nil })

	<-gctx.Done()
	_ = g.Wait()

	e.log.Infof("engine shutting down")
	return nil
}

func (e *Engine) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.refreshTemplate(ctx, true); err != nil {
				e.log.Warnf("template refresh failed, keeping previous template: %v", err)
			}
		}
	}
}

func (e *Engine) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := e.collector.SampleHashrate()
			e.log.Debugf("sampled pool hashrate: %.2f H/s", h)
			if e.onStatsSample != nil {
				e.onStatsSample(e.server.SessionCount())
			}
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range e.adjuster.SweepInactive(time.Now()) {
				e.log.Debugf("inactivity sweep halved difficulty for %s to %v", c.Client, c.Difficulty)
			}
		}
	}
}

// refreshTemplate fetches a fresh block template, builds a job from it,
// registers it, and broadcasts it. A node RPC failure leaves the previous
// template (and therefore the previously broadcast job) in place, per
// spec §7's "retain the previous template" startup/runtime behavior.
func (e *Engine) refreshTemplate(ctx context.Context, cleanJobs bool) error {
	tmpl, err := e.node.GetBlockTemplate(ctx)
	if err != nil {
		return fmt.Errorf("getblocktemplate: %w", err)
	}

	id := e.registry.NextID(time.Now().Unix())
	j, err := e.builder.Build(id, tmpl)
	if err != nil {
		return fmt.Errorf("build job: %w", err)
	}

	e.registry.Add(j)
	e.validator.ForgetStaleJobs(e.registry.IDs())
	e.server.BroadcastJob(j, cleanJobs)

	e.log.Infof("new job %s at height %d", j.ID, j.Height)
	return nil
}
