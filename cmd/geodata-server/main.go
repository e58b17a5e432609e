package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/geodata-retrieval/internal/app"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/config"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/health"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/observability"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/server"
	"github.com/mohammed-shakir/geodata-retrieval/internal/logger"
	"github.com/mohammed-shakir/geodata-retrieval/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	// a missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load(*envFile)
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "geodata-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting geodata server",
		"addr", cfg.Addr,
		"version", Version,
		"datasets_file", cfg.DatasetsFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("setup failed", "err", err)
		return 1
	}
	defer a.Close()

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		p.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "geodata_catalog_datasets",
			Help: "Datasets loaded from the catalog.",
		}, func() float64 { return float64(len(a.Datasets)) }))
		metricsHandler = p.Handler()
	} else {
		metricsHandler = http.NotFoundHandler()
	}

	ready := map[string]health.Check{}
	if a.Redis != nil {
		ready["redis"] = a.Redis.Ping
	}

	h := server.Routes(appLog, server.Deps{
		Datasets: a.Datasets,
		Layers:   a.Layers,
		Fetcher:  a.Orchestrator,
		Metrics:  metricsHandler,
		Ready:    ready,
	})
	if err := server.Run(ctx, cfg.Addr, appLog, h); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
