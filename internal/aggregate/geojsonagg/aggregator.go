// Package geojsonagg merges GetFeature pages (GeoJSON FeatureCollections) into one collection.
package geojsonagg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/geodata-retrieval/internal/aggregate"
)

type Aggregator struct {
	DeduplicateByID bool
}

var _ aggregate.Interface = (*Aggregator)(nil)

func New(dedup bool) *Aggregator {
	return &Aggregator{DeduplicateByID: dedup}
}

type page struct {
	features []json.RawMessage
	crs      json.RawMessage
}

// Merge concatenates the features of every page in order. The legacy "crs" member of the
// first page that has one is kept so the reader still knows the coordinates' system.
func (a *Aggregator) Merge(parts [][]byte) ([]byte, error) {
	out := struct {
		Type     string            `json:"type"`
		CRS      json.RawMessage   `json:"crs,omitempty"`
		Features []json.RawMessage `json:"features"`
	}{
		Type:     "FeatureCollection",
		Features: make([]json.RawMessage, 0, 128),
	}

	seen := map[string]struct{}{} // used for deduplication by id if enabled

	for i, p := range parts {
		pg, err := parsePage(p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		if out.CRS == nil && len(pg.crs) > 0 && !bytes.Equal(pg.crs, []byte("null")) {
			out.CRS = pg.crs
		}

		for j, fr := range pg.features {
			var fobj map[string]json.RawMessage
			if err := json.Unmarshal(fr, &fobj); err != nil {
				return nil, fmt.Errorf("part %d feature %d: not a JSON object: %w", i, j, err)
			}

			var ftype string
			if tr, ok := fobj["type"]; !ok {
				return nil, fmt.Errorf(`part %d feature %d: missing "type"`, i, j)
			} else if err := json.Unmarshal(tr, &ftype); err != nil {
				return nil, fmt.Errorf(`part %d feature %d: parse "type": %w`, i, j, err)
			} else if ftype != "Feature" {
				return nil, fmt.Errorf(`part %d feature %d: type is %q (want "Feature")`, i, j, ftype)
			}

			if a.DeduplicateByID {
				if idRaw, ok := fobj["id"]; ok && len(idRaw) > 0 {
					key, idErr := canonicalIDKey(idRaw)
					if idErr != nil {
						return nil, fmt.Errorf("part %d feature %d: invalid id: %w", i, j, idErr)
					}
					if key != "" {
						if _, dup := seen[key]; dup {
							continue
						}
						seen[key] = struct{}{}
					}
				}
			}

			out.Features = append(out.Features, fr)
		}
	}

	buf, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal merged FeatureCollection: %w", err)
	}
	return buf, nil
}

// PageCount returns how many features one GetFeature page holds
func PageCount(part []byte) (int, error) {
	pg, err := parsePage(part)
	if err != nil {
		return 0, err
	}
	return len(pg.features), nil
}

func parsePage(p []byte) (page, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(p, &root); err != nil {
		return page{}, fmt.Errorf("parse json: %w", err)
	}

	var typ string
	tRaw, ok := root["type"]
	if !ok {
		return page{}, fmt.Errorf(`missing required member "type"`)
	}
	if err := json.Unmarshal(tRaw, &typ); err != nil {
		return page{}, fmt.Errorf(`parse "type": %w`, err)
	}
	if typ != "FeatureCollection" {
		return page{}, fmt.Errorf(`type is %q (want "FeatureCollection")`, typ)
	}

	featuresRaw, ok := root["features"]
	if !ok {
		return page{}, fmt.Errorf(`missing required member "features"`)
	}
	var feats []json.RawMessage
	if err := json.Unmarshal(featuresRaw, &feats); err != nil {
		return page{}, fmt.Errorf(`"features" must be an array: %w`, err)
	}
	return page{features: feats, crs: root["crs"]}, nil
}

// parse id to allow both string and number types
func canonicalIDKey(idRaw json.RawMessage) (string, error) {
	trim := strings.TrimSpace(string(idRaw))
	if trim == "" || trim == "null" {
		return "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(idRaw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("parse id: %w", err)
	}
	switch t := v.(type) {
	case string:
		return "s:" + t, nil
	case json.Number:
		return "n:" + t.String(), nil
	default:
		return "", fmt.Errorf("id must be string or number (got %T)", v)
	}
}
