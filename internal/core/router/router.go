// Package router turns HTTP requests into retrieval calls and writes their results.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geodata-retrieval/internal/catalog"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/observability"
	"github.com/mohammed-shakir/geodata-retrieval/internal/export"
)

const maxBodyBytes = 1 << 20

// Fetcher runs one retrieval
type Fetcher interface {
	Fetch(ctx context.Context, selected []string, layersByDataset map[string][]string, datasets []model.Dataset, bbox model.BBox) (model.ResultSet, error)
}

// LayerSource supplies the per-dataset layer lists, usually memoized
type LayerSource interface {
	LayersByDataset(ctx context.Context, datasets []model.Dataset) map[string][]string
}

// FetchRequest is the POST /fetch body. Layers is optional per dataset; datasets without an
// entry get every layer their service advertises.
type FetchRequest struct {
	Datasets []string            `json:"datasets"`
	Layers   map[string][]string `json:"layers,omitempty"`
	BBox     []float64           `json:"bbox"`
}

func HandleFetch(logger *slog.Logger, datasets []model.Dataset, layers LayerSource, f Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/fetch", sw.code, time.Since(start).Seconds())
		}()

		req, bbox, err := ParseFetchRequest(r, datasets)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		mapping := fillLayers(r.Context(), req, datasets, layers)
		rs, err := f.Fetch(r.Context(), req.Datasets, mapping, datasets, bbox)
		if err != nil {
			logger.ErrorContext(r.Context(), "fetch failed", "err", err)
			http.Error(sw, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(sw, http.StatusOK, rs)
	}
}

func HandleDatasets(datasets []model.Dataset) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writeJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
		observability.ObserveHTTP(r.Method, "/datasets", http.StatusOK, time.Since(start).Seconds())
	}
}

func HandleLayers(datasets []model.Dataset, layers LayerSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := chi.URLParam(r, "name")
		ds, ok := catalog.Lookup(datasets, name)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown dataset %q", name), http.StatusNotFound)
			observability.ObserveHTTP(r.Method, "/datasets/{name}/layers", http.StatusNotFound, time.Since(start).Seconds())
			return
		}
		names := layers.LayersByDataset(r.Context(), []model.Dataset{ds})[ds.Name]
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"dataset": ds.Name, "type": ds.Type, "layers": names})
		observability.ObserveHTTP(r.Method, "/datasets/{name}/layers", http.StatusOK, time.Since(start).Seconds())
	}
}

// ParseFetchRequest decodes and validates a fetch body. Every dataset must exist in the
// catalog and bbox must be a lon/lat extent.
func ParseFetchRequest(r *http.Request, datasets []model.Dataset) (FetchRequest, model.BBox, error) {
	var req FetchRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return FetchRequest{}, model.BBox{}, fmt.Errorf("invalid body: %w", err)
	}

	if len(req.Datasets) == 0 {
		return FetchRequest{}, model.BBox{}, errors.New("missing required field: datasets")
	}
	for i, name := range req.Datasets {
		name = strings.TrimSpace(name)
		if _, ok := catalog.Lookup(datasets, name); !ok {
			return FetchRequest{}, model.BBox{}, fmt.Errorf("unknown dataset %q", name)
		}
		req.Datasets[i] = name
	}

	// WFS layers become file names in the output directory
	for name, ls := range req.Layers {
		ds, ok := catalog.Lookup(datasets, name)
		if !ok || ds.Type != model.WFS {
			continue
		}
		for _, l := range ls {
			if err := export.CheckLayer(l); err != nil {
				return FetchRequest{}, model.BBox{}, fmt.Errorf("dataset %s: %w", name, err)
			}
		}
	}

	bbox, err := parseBBox(req.BBox)
	if err != nil {
		return FetchRequest{}, model.BBox{}, fmt.Errorf("invalid bbox: %w", err)
	}
	return req, bbox, nil
}

func parseBBox(v []float64) (model.BBox, error) {
	if len(v) != 4 {
		return model.BBox{}, errors.New("expected 4 numbers: minx,miny,maxx,maxy")
	}
	xMin, yMin, xMax, yMax := v[0], v[1], v[2], v[3]
	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax < xMin || yMax < yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>=x1 and y2>=y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: "EPSG:4326"}, nil
}

// fillLayers copies the requested mapping and adds discovered layers for selected datasets
// the request did not map
func fillLayers(ctx context.Context, req FetchRequest, datasets []model.Dataset, src LayerSource) map[string][]string {
	out := make(map[string][]string, len(req.Datasets))
	var missing []model.Dataset
	for _, name := range req.Datasets {
		if ls, ok := req.Layers[name]; ok {
			out[name] = ls
			continue
		}
		if ds, ok := catalog.Lookup(datasets, name); ok {
			missing = append(missing, ds)
		}
	}
	if len(missing) > 0 && src != nil {
		for name, ls := range src.LayersByDataset(ctx, missing) {
			out[name] = ls
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
