// Package webstats implements the optional JSON statistics HTTP endpoint
// (`web_stats`/`web_port`). Grounded on arejula27-p2pool-go's
// internal/metrics/metrics.go for the Prometheus gauge wiring
// (package-level collectors registered once via prometheus.MustRegister,
// served through promhttp.Handler), and on the gorilla/mux routing style
// named for this endpoint in the retrieval pack. Per spec §9's note that
// only the factory's `stats`, `jobs`, `pool_address`, and
// `difficulty_adjuster` read surfaces are worth keeping from the source's
// three dashboard copies, this exposes exactly those four as JSON with no
// HTML templating.
package webstats

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/b-vibesonly/joule-pool/internal/job"
	"github.com/b-vibesonly/joule-pool/internal/logx"
	"github.com/b-vibesonly/joule-pool/internal/stats"
	"github.com/b-vibesonly/joule-pool/internal/stratum"
)

// The pool's cumulative counters (valid/invalid/stale shares, blocks
// found) are owned by internal/stats.Collector, not by Prometheus; these
// are plain Gauges set from a Collector snapshot rather than
// prometheus.Counters, since Counter only exposes Add/Inc and the
// collector — not Prometheus's own bookkeeping — is the source of truth.
var (
	minersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulepool",
		Name:      "miners_connected",
		Help:      "Number of active stratum sessions.",
	})
	poolHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulepool",
		Name:      "pool_hashrate",
		Help:      "Estimated pool hashrate in H/s.",
	})
	sharesValid = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulepool",
		Name:      "shares_valid_total",
		Help:      "Total valid Stratum shares accepted.",
	})
	sharesInvalid = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulepool",
		Name:      "shares_invalid_total",
		Help:      "Total Stratum shares rejected.",
	})
	sharesStale = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulepool",
		Name:      "shares_stale_total",
		Help:      "Total Stratum shares rejected as stale.",
	})
	blocksFound = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "joulepool",
		Name:      "blocks_found_total",
		Help:      "Total Bitcoin blocks found by the pool.",
	})
)

func init() {
	prometheus.MustRegister(minersConnected, poolHashrate, sharesValid, sharesInvalid, sharesStale, blocksFound)
}

// Server is the optional JSON statistics HTTP endpoint.
type Server struct {
	httpServer  *http.Server
	collector   *stats.Collector
	registry    *job.Registry
	adjuster    *stratum.DifficultyAdjuster
	poolAddress string
	log         *logx.Logger
}

// New builds a Server bound to the pool's shared services. poolAddress is
// the payout address displayed at GET /pool_address.
func New(port int, poolAddress string, collector *stats.Collector, registry *job.Registry, adjuster *stratum.DifficultyAdjuster) *Server {
	s := &Server{
		collector:   collector,
		registry:    registry,
		adjuster:    adjuster,
		poolAddress: poolAddress,
		log:         logx.Component("webstats"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	router.HandleFunc("/pool_address", s.handlePoolAddress).Methods(http.MethodGet)
	router.HandleFunc("/difficulty_adjuster", s.handleDifficultyAdjuster).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", port),
		Handler: router,
	}
	return s
}

// Start launches the HTTP server in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("webstats server error: %v", err)
		}
	}()

	s.log.Infof("webstats server listening on %s", s.httpServer.Addr)
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// RefreshMetrics updates the Prometheus gauges from the current collector
// snapshot; the engine's stats timer calls this once per sample so
// /metrics stays current without a second polling loop.
func (s *Server) RefreshMetrics(connected int) {
	snap := s.collector.Snapshot()
	minersConnected.Set(float64(connected))
	poolHashrate.Set(snap.Hashrate)
	sharesValid.Set(float64(snap.Valid))
	sharesInvalid.Set(float64(snap.Invalid))
	sharesStale.Set(float64(snap.Stale))
	blocksFound.Set(float64(snap.BlocksFound))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collector.Snapshot())
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.IDs()
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	writeJSON(w, out)
}

func (s *Server) handlePoolAddress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"pool_address": s.poolAddress})
}

func (s *Server) handleDifficultyAdjuster(w http.ResponseWriter, r *http.Request) {
	min, max := s.adjuster.Bounds()
	writeJSON(w, map[string]float64{
		"min_difficulty":     min,
		"max_difficulty":     max,
		"initial_difficulty": s.adjuster.InitialDifficulty(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
