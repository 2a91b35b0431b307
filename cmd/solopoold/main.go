// Command solopoold runs the solo Bitcoin Stratum pool: it loads
// configuration, probes the configured node, then wires the job builder,
// registry, share validator, difficulty adjuster, statistics collector,
// Stratum server, optional JSON stats endpoint, and the C9 event loop
// together before handing control to it until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/b-vibesonly/joule-pool/internal/bitcoin"
	"github.com/b-vibesonly/joule-pool/internal/config"
	"github.com/b-vibesonly/joule-pool/internal/engine"
	"github.com/b-vibesonly/joule-pool/internal/job"
	"github.com/b-vibesonly/joule-pool/internal/logx"
	"github.com/b-vibesonly/joule-pool/internal/stats"
	"github.com/b-vibesonly/joule-pool/internal/stratum"
	"github.com/b-vibesonly/joule-pool/internal/webstats"
)

const extranonce1Size = 4
const extranonce2Size = 4

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logx.Init(cfg.Verbose)
	defer logx.Sync()
	log := logx.Component("main")

	node := bitcoin.New(bitcoin.Config{
		Host:     cfg.RPCHost,
		Port:     cfg.RPCPort,
		User:     cfg.RPCUser,
		Password: cfg.RPCPassword,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := node.Ping(startCtx); err != nil {
		log.Errorf("node liveness check failed: %v", err)
		return 1
	}
	log.Infof("connected to Bitcoin node at %s:%d", cfg.RPCHost, cfg.RPCPort)

	builder, err := job.NewBuilder(cfg.Address, cfg.CoinbaseMessage, extranonce1Size, extranonce2Size)
	if err != nil {
		log.Errorf("payout address: %v", err)
		return 1
	}

	registry := job.NewRegistry()
	validator := stratum.NewValidator(registry)
	vardiffCfg := stratum.DefaultVardiffConfig(cfg.Difficulty)
	adjuster := stratum.NewDifficultyAdjuster(vardiffCfg)
	collector := stats.NewCollector(time.Now())

	server := stratum.NewServer(cfg.Host, cfg.Port, registry, validator, adjuster, collector, node, extranonce2Size)

	e := engine.New(node, builder, registry, validator, adjuster, collector, server)

	var webServer *webstats.Server
	if cfg.WebStats {
		webServer = webstats.New(cfg.WebPort, cfg.Address, collector, registry, adjuster)
		if err := webServer.Start(); err != nil {
			log.Errorf("webstats: %v", err)
			return 1
		}
		e.SetStatsSampleHook(webServer.RefreshMetrics)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := e.Run(ctx)

	if webServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := webServer.Stop(shutdownCtx); err != nil {
			log.Warnf("webstats shutdown: %v", err)
		}
	}

	if runErr != nil {
		log.Errorf("engine: %v", runErr)
		return 1
	}
	return 0
}
