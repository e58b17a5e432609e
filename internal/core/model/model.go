// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
)

type ServiceType string

const (
	WFS ServiceType = "WFS"
	WMS ServiceType = "WMS"
)

// ParseServiceType accepts any casing of WFS or WMS
func ParseServiceType(s string) (ServiceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(WFS):
		return WFS, nil
	case string(WMS):
		return WMS, nil
	default:
		return "", fmt.Errorf("unknown service type %q (want WFS|WMS)", s)
	}
}

// Dataset is one remote OGC service; Name is its identity.
type Dataset struct {
	Name string      `json:"name"`
	URL  string      `json:"url"`
	Type ServiceType `json:"type"`
}

// BBox is an axis-aligned extent in the reference system named by SRID.
// It is passed by value so reprojection never touches the caller's copy.
type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%s,%s", b.Extent(), b.SRID)
}

// Extent renders the four numbers without the reference system
func (b BBox) Extent() string {
	return fmt.Sprintf("%s,%s,%s,%s", num(b.X1), num(b.Y1), num(b.X2), num(b.Y2))
}

func (b BBox) Valid() bool {
	return b.X1 <= b.X2 && b.Y1 <= b.Y2
}

func num(f float64) string {
	return fmt.Sprint(f)
}

// LayerResult is either a WFS download or a deferred WMS map URL, told apart by Type.
type LayerResult struct {
	Type     ServiceType `json:"type"`
	GeoJSON  string      `json:"geojson,omitempty"`
	Filename string      `json:"filename,omitempty"`
	URL      string      `json:"url,omitempty"`
}

func WFSResult(geojson, filename string) LayerResult {
	return LayerResult{Type: WFS, GeoJSON: geojson, Filename: filename}
}

func WMSResult(url string) LayerResult {
	return LayerResult{Type: WMS, URL: url}
}

// ResultSet maps layer name to its result; a later layer with the same name replaces an earlier one.
type ResultSet map[string]LayerResult
