package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
)

// parseBBox reads "minx,miny,maxx,maxy" in lon/lat
func parseBBox(s string) (model.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("expected 4 comma-separated values: minx,miny,maxx,maxy")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		v[i] = f
	}
	b := model.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3], SRID: "EPSG:4326"}
	if !b.Valid() {
		return model.BBox{}, errors.New("coordinates must satisfy maxx>=minx and maxy>=miny")
	}
	return b, nil
}

// parseList splits a comma list, dropping blanks
func parseList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLayers reads "ds=l1|l2;ds2=l3". Datasets left out are resolved from capabilities.
func parseLayers(s string) (map[string][]string, error) {
	out := map[string][]string{}
	for entry := range strings.SplitSeq(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, list, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("layer mapping %q: want dataset=layer1|layer2", entry)
		}
		var layers []string
		for l := range strings.SplitSeq(list, "|") {
			if l = strings.TrimSpace(l); l != "" {
				layers = append(layers, l)
			}
		}
		out[name] = layers
	}
	return out, nil
}
