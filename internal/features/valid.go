package features

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// Valid reports whether g is a valid OGC simple-features geometry according to GEOS.
// Non-finite coordinates, which a failed reprojection leaves behind, are never valid.
func Valid(g orb.Geometry) bool {
	if g == nil || !finiteGeometry(g) {
		return false
	}
	b, err := wkb.Marshal(g)
	if err != nil {
		return false
	}
	gg, err := geos.NewGeomFromWKB(b)
	if err != nil {
		// GEOS refuses unclosed rings and similar at construction time
		return false
	}
	defer gg.Destroy()
	return gg.IsValid()
}

func finiteGeometry(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.Point:
		return finitePoints(g)
	case orb.MultiPoint:
		return finitePoints(g...)
	case orb.LineString:
		return finitePoints(g...)
	case orb.Ring:
		return finitePoints(g...)
	case orb.MultiLineString:
		for _, ls := range g {
			if !finitePoints(ls...) {
				return false
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if !finitePoints(r...) {
				return false
			}
		}
	case orb.MultiPolygon:
		for _, p := range g {
			if !finiteGeometry(p) {
				return false
			}
		}
	case orb.Collection:
		for _, c := range g {
			if !finiteGeometry(c) {
				return false
			}
		}
	case orb.Bound:
		return finitePoints(g.Min, g.Max)
	}
	return true
}

func finitePoints(ps ...orb.Point) bool {
	for _, p := range ps {
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
