// Package app assembles the retrieval pipeline from configuration. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/geodata-retrieval/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/geodata-retrieval/internal/cache"
	"github.com/mohammed-shakir/geodata-retrieval/internal/cache/layercache"
	"github.com/mohammed-shakir/geodata-retrieval/internal/cache/redisstore"
	"github.com/mohammed-shakir/geodata-retrieval/internal/capabilities"
	"github.com/mohammed-shakir/geodata-retrieval/internal/catalog"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/config"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/executor"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/httpclient"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/crs"
	"github.com/mohammed-shakir/geodata-retrieval/internal/crs/projtransform"
	"github.com/mohammed-shakir/geodata-retrieval/internal/events"
	"github.com/mohammed-shakir/geodata-retrieval/internal/export"
	"github.com/mohammed-shakir/geodata-retrieval/internal/features"
	"github.com/mohammed-shakir/geodata-retrieval/internal/retrieval"
)

type App struct {
	Datasets     []model.Dataset
	Resolver     *capabilities.Resolver
	Layers       *layercache.Cache
	Orchestrator *retrieval.Orchestrator
	// Redis is nil unless REDIS_ADDR is set and reachable
	Redis *redisstore.Client

	publisher *events.Publisher
	logger    *slog.Logger
}

// Build loads the catalog and wires every collaborator. Redis and Kafka are optional: when
// configured but unreachable the app logs a warning and runs without them.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	datasets, err := catalog.Load(cfg.DatasetsFile)
	if err != nil {
		return nil, fmt.Errorf("load datasets: %w", err)
	}

	exec := executor.New(logger, httpclient.NewOutbound(cfg.HTTPTimeout), cfg.UserAgent)
	exec.SetMaxBodyBytes(cfg.MaxBodyBytes)
	resolver := capabilities.NewResolver(exec, logger, cfg.CapabilitiesTimeout)

	a := &App{Datasets: datasets, Resolver: resolver, logger: logger}

	var remote cache.Remote
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, layer cache stays in process", "addr", cfg.RedisAddr, "err", err)
		} else {
			a.Redis = rc
			remote = rc
		}
	}
	a.Layers = layercache.New(resolver, remote, cfg.CapsCacheSize, cfg.CapsCacheTTL, logger)

	var sink events.Sink
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, 1024, logger)
		if err != nil {
			logger.Warn("kafka unavailable, layer events disabled", "brokers", cfg.Events.Brokers, "err", err)
		} else {
			a.publisher = pub
			sink = pub
		}
	}

	a.Orchestrator = retrieval.New(logger, retrieval.Deps{
		CRS:         resolver,
		Transformer: projtransform.NewTransformer(),
		Pages:       exec,
		Aggregator:  geojsonagg.New(false),
		Normalizer:  features.NewNormalizer(logger),
		Writer:      export.Writer{Dir: cfg.OutputDir},
		Events:      sink,
	}, retrieval.Options{
		PageSize:     cfg.WFSPageSize,
		MaxPages:     cfg.WFSMaxPages,
		PreferredCRS: crs.Code(cfg.PreferredEPSG),
	})

	logger.Info("pipeline ready",
		"datasets", len(datasets),
		"redis", a.Redis != nil,
		"events", a.publisher != nil,
		"preferred_crs", crs.Code(cfg.PreferredEPSG).EPSG())
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		a.logger.Warn("shutdown", "err", err)
	}
	return err
}
