// Command poolsrv runs the connection pool as a standalone process,
// exposing its stats/health/metrics surface over HTTP. Wiring follows the
// teacher's cmd/dbbouncer: resolve configuration, build the collaborators,
// start the HTTP server, watch for config changes, and shut down cleanly on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hobansearch/tonsurance-dbpool/internal/api"
	"github.com/hobansearch/tonsurance-dbpool/internal/config"
	"github.com/hobansearch/tonsurance-dbpool/internal/endpoint"
	"github.com/hobansearch/tonsurance-dbpool/internal/metrics"
	"github.com/hobansearch/tonsurance-dbpool/internal/pool"
)

// gaugePollInterval is how often the slot-table gauges are refreshed from
// pool.Stats(). The gauges are a point-in-time snapshot, not an event
// counter, so they are polled rather than pushed from inside the pool.
const gaugePollInterval = 5 * time.Second

func main() {
	overridePath := flag.String("config", "", "optional path to a pool-tuning YAML override file")
	apiPort := flag.Int("api-port", 9090, "port for the stats/health/metrics HTTP server")
	flag.Parse()

	ep, err := endpoint.Resolve()
	if err != nil {
		slog.Error("resolving database endpoint", "err", err)
		os.Exit(1)
	}
	slog.Info("target endpoint", "endpoint", ep.Redacted())

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("loading pool config from environment", "err", err)
		os.Exit(1)
	}

	var watcher *config.Watcher
	ctx := context.Background()

	if *overridePath != "" {
		cfg, err = config.LoadOverrideFile(*overridePath, cfg)
		if err != nil {
			slog.Error("loading pool config override file", "err", err)
			os.Exit(1)
		}
	}

	m := metrics.New()

	p, err := pool.GetPool(ctx, ep, cfg)
	if err != nil {
		slog.Error("constructing pool", "err", err)
		os.Exit(1)
	}
	p.SetOnPoolExhausted(m.PoolExhausted)
	p.SetMetricsSink(m)

	gaugeStopCh := make(chan struct{})
	go pollSlotGauges(p, m, gaugeStopCh)

	if *overridePath != "" {
		watcher, err = config.NewWatcher(*overridePath, cfg, func(newCfg config.PoolConfig) {
			slog.Warn("pool config file changed; restart poolsrv to apply new values",
				"base_size", newCfg.BaseSize, "overflow", newCfg.Overflow)
		})
		if err != nil {
			slog.Warn("config hot-reload not available", "err", err)
		}
	}

	apiServer := api.NewServer(p, m)
	if err := apiServer.Start(*apiPort); err != nil {
		slog.Error("starting api server", "err", err)
		os.Exit(1)
	}

	slog.Info("poolsrv ready", "api_port", *apiPort, "max_total", cfg.MaxTotal())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	close(gaugeStopCh)
	if watcher != nil {
		watcher.Stop()
	}
	apiServer.Stop()
	pool.ShutdownSingleton(context.Background())

	slog.Info("poolsrv stopped")
}

// pollSlotGauges refreshes the Prometheus slot-table gauges from
// p.Stats() until stopCh closes.
func pollSlotGauges(p *pool.Coordinator, m *metrics.Collector, stopCh <-chan struct{}) {
	ticker := time.NewTicker(gaugePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st := p.Stats()
			m.UpdateSlotGauges(st.Active, st.Idle, st.Failed, st.Waiting)
		case <-stopCh:
			return
		}
	}
}
