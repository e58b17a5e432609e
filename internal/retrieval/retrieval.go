// Package retrieval runs one geodata fetch: for every selected dataset it negotiates a working CRS,
// reprojects the caller's bbox when needed, pages through WFS GetFeature or builds WMS GetMap URLs,
// and persists cleaned WFS layers.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geodata-retrieval/internal/aggregate"
	"github.com/mohammed-shakir/geodata-retrieval/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/geodata-retrieval/internal/capabilities"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/observability"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/ogc"
	"github.com/mohammed-shakir/geodata-retrieval/internal/crs"
	"github.com/mohammed-shakir/geodata-retrieval/internal/events"
	"github.com/mohammed-shakir/geodata-retrieval/internal/export"
	"github.com/mohammed-shakir/geodata-retrieval/internal/features"
	"github.com/mohammed-shakir/geodata-retrieval/internal/logger"
)

const (
	DefaultPageSize = 1000
	DefaultMaxPages = 1000
)

type CRSNegotiator interface {
	SupportedCRS(ctx context.Context, wfsURL string) capabilities.CRSSet
}

type BBoxTransformer interface {
	Transform(b model.BBox, from, to crs.Code) (model.BBox, error)
}

type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, params url.Values) ([]byte, error)
}

type FeatureNormalizer interface {
	Normalize(ctx context.Context, merged []byte, requested crs.Code) (*geojson.FeatureCollection, features.Stats, error)
}

type Persister interface {
	Write(layer string, data []byte) (string, error)
}

// Deps are the collaborators of an Orchestrator. Events may be nil.
type Deps struct {
	CRS         CRSNegotiator
	Transformer BBoxTransformer
	Pages       PageFetcher
	Aggregator  aggregate.Interface
	Normalizer  FeatureNormalizer
	Writer      Persister
	Events      events.Sink
}

type Options struct {
	PageSize     int
	MaxPages     int
	PreferredCRS crs.Code
}

type Orchestrator struct {
	logger *slog.Logger
	deps   Deps
	opts   Options
	now    func() time.Time
}

func New(logger *slog.Logger, deps Deps, opts Options) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.PreferredCRS == 0 {
		opts.PreferredCRS = crs.RDNew
	}
	return &Orchestrator{logger: logger, deps: deps, opts: opts, now: time.Now}
}

// Fetch retrieves every layer of every selected dataset, in datasets order. bbox is in EPSG:4326
// and is never modified; each dataset derives its own working box from it.
// Capability failures only narrow the result. A failed bbox transform, an unreadable merged
// collection or a failed file write aborts the call.
func (o *Orchestrator) Fetch(ctx context.Context, selected []string, layersByDataset map[string][]string, datasets []model.Dataset, bbox model.BBox) (model.ResultSet, error) {
	want := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		want[s] = struct{}{}
	}

	runID := events.NewRunID()
	results := model.ResultSet{}
	o.logger.InfoContext(ctx, "retrieval started", "run_id", runID, "bbox", bbox.Extent(), "selected", selected)

	for _, ds := range datasets {
		if _, ok := want[ds.Name]; !ok {
			continue
		}
		dctx := logger.WithDataset(ctx, ds.Name)
		layers := layersByDataset[ds.Name]
		if len(layers) == 0 {
			o.logger.DebugContext(dctx, "dataset has no layers selected")
			continue
		}

		switch ds.Type {
		// WMS needs no negotiation: GetMap always takes the caller's EPSG:4326 box
		case model.WMS:
			for _, layer := range layers {
				u := ogc.GetMapURL(ds.URL, layer, bbox)
				results[layer] = model.WMSResult(u)
				o.emit(runID, ds, layer, results[layer], 0)
			}
		case model.WFS:
			if err := o.fetchWFS(dctx, runID, ds, layers, bbox, results); err != nil {
				return nil, err
			}
		default:
			o.logger.WarnContext(dctx, "unknown service type, dataset skipped", "type", ds.Type)
		}
	}

	o.logger.InfoContext(ctx, "retrieval finished", "run_id", runID, "layers", len(results))
	return results, nil
}

func (o *Orchestrator) fetchWFS(ctx context.Context, runID string, ds model.Dataset, layers []string, bbox model.BBox, results model.ResultSet) error {
	supported := o.deps.CRS.SupportedCRS(ctx, ds.URL)
	working := crs.Select(supported.Codes, o.opts.PreferredCRS, crs.WGS84)

	box := bbox
	if working != crs.WGS84 {
		projected, err := o.deps.Transformer.Transform(bbox, crs.WGS84, working)
		if err != nil {
			return fmt.Errorf("dataset %s: transform bbox to %s: %w", ds.Name, working, err)
		}
		box = projected
	}
	o.logger.DebugContext(ctx, "working crs selected", "crs", working.EPSG(), "bbox", box.Extent())

	for _, layer := range layers {
		lctx := logger.WithLayer(ctx, layer)

		pages := o.collectPages(lctx, ds.URL, layer, box, working)
		if len(pages) == 0 {
			o.logger.WarnContext(lctx, "no pages retrieved, layer skipped")
			continue
		}

		merged, err := o.deps.Aggregator.Merge(pages)
		if err != nil {
			return fmt.Errorf("dataset %s layer %s: merge pages: %w", ds.Name, layer, err)
		}
		fc, stats, err := o.deps.Normalizer.Normalize(lctx, merged, working)
		if err != nil {
			return fmt.Errorf("dataset %s layer %s: %w", ds.Name, layer, err)
		}
		data, err := json.Marshal(fc)
		if err != nil {
			return fmt.Errorf("dataset %s layer %s: encode: %w", ds.Name, layer, err)
		}
		path, err := o.deps.Writer.Write(layer, data)
		if err != nil {
			return fmt.Errorf("dataset %s layer %s: %w", ds.Name, layer, err)
		}

		res := model.WFSResult(string(data), export.Filename(layer))
		results[layer] = res
		o.logger.InfoContext(lctx, "layer retrieved",
			"pages", len(pages), "features", stats.Out, "path", path)
		o.emit(runID, ds, layer, res, stats.Out)
	}
	return nil
}

// collectPages requests STARTINDEX 0, PageSize, 2*PageSize, ... until a short page, a failed
// or unreadable page, or MaxPages. Pages gathered before a failure are kept.
func (o *Orchestrator) collectPages(ctx context.Context, endpoint, layer string, box model.BBox, working crs.Code) [][]byte {
	size := o.opts.PageSize
	var pages [][]byte
	for i := range o.opts.MaxPages {
		start := i * size
		params := ogc.BuildGetFeatureParams(layer, box, working, size, start)

		body, err := o.deps.Pages.FetchPage(ctx, endpoint, params)
		if err != nil {
			observability.IncWFSPage("failed")
			o.logger.WarnContext(ctx, "getfeature page failed, pagination stopped",
				"start_index", start, "pages_kept", len(pages), "err", err)
			return pages
		}
		n, err := geojsonagg.PageCount(body)
		if err != nil {
			observability.IncWFSPage("failed")
			o.logger.WarnContext(ctx, "getfeature page unreadable, pagination stopped",
				"start_index", start, "pages_kept", len(pages), "err", err)
			return pages
		}
		pages = append(pages, body)
		if n < size {
			observability.IncWFSPage("short")
			return pages
		}
		observability.IncWFSPage("full")
	}
	observability.IncWFSPage("capped")
	o.logger.WarnContext(ctx, "getfeature page limit reached", "max_pages", o.opts.MaxPages)
	return pages
}

func (o *Orchestrator) emit(runID string, ds model.Dataset, layer string, res model.LayerResult, n int) {
	if o.deps.Events == nil {
		return
	}
	o.deps.Events.Publish(events.LayerRetrieved{
		RunID:    runID,
		Dataset:  ds.Name,
		Layer:    layer,
		Type:     res.Type,
		Filename: res.Filename,
		URL:      res.URL,
		Features: n,
		TS:       o.now().UTC(),
	})
}
