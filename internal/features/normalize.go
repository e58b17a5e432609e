// Package features cleans a merged GetFeature collection: it brings every geometry to EPSG:4326
// and drops rows whose geometry is missing or invalid.
package features

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/observability"
	"github.com/mohammed-shakir/geodata-retrieval/internal/crs"
	"github.com/mohammed-shakir/geodata-retrieval/internal/crs/projtransform"
)

// ProjectionFactory returns a point projection between two systems and its release func.
type ProjectionFactory func(from, to crs.Code) (orb.Projection, func(), error)

type Stats struct {
	In             int `json:"in"`
	DroppedNull    int `json:"dropped_null"`
	DroppedInvalid int `json:"dropped_invalid"`
	Out            int `json:"out"`
}

type Normalizer struct {
	Project  ProjectionFactory
	Validate func(orb.Geometry) bool
	logger   *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{
		Project:  projtransform.Projection,
		Validate: Valid,
		logger:   logger,
	}
}

// Normalize decodes merged, reprojects it to EPSG:4326 when it is in another system, and
// filters out null and invalid geometries. The crs member decides the source system; without
// one the features are taken to be in requested, the SRSNAME they were fetched with.
// The result carries no crs member.
func (n *Normalizer) Normalize(ctx context.Context, merged []byte, requested crs.Code) (*geojson.FeatureCollection, Stats, error) {
	fc, err := geojson.UnmarshalFeatureCollection(merged)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("decode feature collection: %w", err)
	}

	source, err := SourceCRS(fc, requested)
	if err != nil {
		return nil, Stats{}, err
	}
	delete(fc.ExtraMembers, "crs")

	proj := orb.Projection(nil)
	if source != crs.WGS84 {
		fn, release, err := n.Project(source, crs.WGS84)
		if err != nil {
			return nil, Stats{}, fmt.Errorf("reproject features %s->%s: %w", source, crs.WGS84, err)
		}
		defer release()
		proj = fn
	}

	st := Stats{In: len(fc.Features)}
	kept := make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			st.DroppedNull++
			continue
		}
		if proj != nil {
			f.Geometry = project.Geometry(f.Geometry, proj)
			f.BBox = nil
		}
		if !n.Validate(f.Geometry) {
			st.DroppedInvalid++
			continue
		}
		kept = append(kept, f)
	}
	fc.Features = kept
	fc.BBox = nil
	st.Out = len(kept)

	observability.AddFeatures("in", st.In)
	observability.AddFeatures("dropped_null", st.DroppedNull)
	observability.AddFeatures("dropped_invalid", st.DroppedInvalid)
	observability.AddFeatures("out", st.Out)

	n.logger.DebugContext(ctx, "features normalized",
		"source_crs", source.EPSG(),
		"in", st.In,
		"dropped_null", st.DroppedNull,
		"dropped_invalid", st.DroppedInvalid,
		"out", st.Out,
	)
	return fc, st, nil
}

// SourceCRS reads the legacy GeoJSON crs member. Both the named form
// ({"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::28992"}}) and the
// EPSG form ({"type":"EPSG","properties":{"code":28992}}) are understood. Without a member
// fallback is returned, or 4326 when fallback is zero.
func SourceCRS(fc *geojson.FeatureCollection, fallback crs.Code) (crs.Code, error) {
	raw, ok := fc.ExtraMembers["crs"]
	if !ok || raw == nil {
		if fallback == 0 {
			return crs.WGS84, nil
		}
		return fallback, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("%w: crs member is %T", crs.ErrUnsupported, raw)
	}
	props, _ := m["properties"].(map[string]any)
	if name, ok := props["name"].(string); ok {
		return crs.Parse(name)
	}
	switch code := props["code"].(type) {
	case float64:
		return crs.Code(int(code)), nil
	case json.Number:
		v, err := strconv.Atoi(code.String())
		if err == nil {
			return crs.Code(v), nil
		}
	case string:
		return crs.Parse("EPSG:" + code)
	}
	return 0, fmt.Errorf("%w: crs member %v", crs.ErrUnsupported, m)
}
