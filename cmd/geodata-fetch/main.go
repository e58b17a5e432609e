package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/geodata-retrieval/internal/app"
	"github.com/mohammed-shakir/geodata-retrieval/internal/catalog"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/config"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/logger"
)

type summary struct {
	Type     model.ServiceType `json:"type"`
	Filename string            `json:"filename,omitempty"`
	Bytes    int               `json:"bytes,omitempty"`
	URL      string            `json:"url,omitempty"`
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	datasetsFile := flag.String("datasets", cfg.DatasetsFile, "dataset catalog (.json or .toml)")
	bboxFlag := flag.String("bbox", "", "minx,miny,maxx,maxy in EPSG:4326 (required)")
	selectFlag := flag.String("select", "", "comma separated dataset names (default: all)")
	layersFlag := flag.String("layers", "", "layer mapping ds=l1|l2;ds2=l3 (default: every advertised layer)")
	outDir := flag.String("out", cfg.OutputDir, "directory for the GeoJSON files (default: working directory)")
	flag.Parse()

	cfg.DatasetsFile = *datasetsFile
	cfg.OutputDir = *outDir

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Component: "geodata-fetch",
	}, os.Stderr)
	appLog := logger.NewSlog(&zl)

	bbox, err := parseBBox(*bboxFlag)
	if err != nil {
		appLog.Error("invalid -bbox", "err", err)
		flag.Usage()
		return 2
	}
	mapping, err := parseLayers(*layersFlag)
	if err != nil {
		appLog.Error("invalid -layers", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("setup failed", "err", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	selected := parseList(*selectFlag)
	if len(selected) == 0 {
		selected = catalog.Names(a.Datasets)
	}

	var unmapped []model.Dataset
	for _, name := range selected {
		if _, ok := mapping[name]; ok {
			continue
		}
		ds, ok := catalog.Lookup(a.Datasets, name)
		if !ok {
			appLog.Error("unknown dataset", "dataset", name)
			return 2
		}
		unmapped = append(unmapped, ds)
	}
	for name, layers := range a.Layers.LayersByDataset(ctx, unmapped) {
		mapping[name] = layers
	}

	rs, err := a.Orchestrator.Fetch(ctx, selected, mapping, a.Datasets, bbox)
	if err != nil {
		appLog.Error("fetch failed", "err", err)
		return 1
	}

	out := make(map[string]summary, len(rs))
	for layer, res := range rs {
		out[layer] = summary{Type: res.Type, Filename: res.Filename, Bytes: len(res.GeoJSON), URL: res.URL}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
