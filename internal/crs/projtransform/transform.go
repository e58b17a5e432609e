// Package projtransform reprojects extents and geometries through PROJ.
package projtransform

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v10"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/crs"
)

const defaultEdgePoints = 21

// Transformer reprojects extents through PROJ. Points are always handled in
// x=easting/longitude, y=northing/latitude order.
type Transformer struct {
	EdgePoints int
}

func NewTransformer() *Transformer {
	return &Transformer{EdgePoints: defaultEdgePoints}
}

// Transform returns the axis-aligned envelope of the reprojected rectangle. Every edge is
// densified before projecting since a projected rectangle is generally not a rectangle.
func (t *Transformer) Transform(b model.BBox, from, to crs.Code) (model.BBox, error) {
	if !b.Valid() {
		return model.BBox{}, fmt.Errorf("transform bbox %s: min exceeds max", b.Extent())
	}
	if from == to {
		b.SRID = to.EPSG()
		return b, nil
	}

	pj, err := newPJ(from, to)
	if err != nil {
		return model.BBox{}, err
	}
	defer pj.Destroy()

	n := t.EdgePoints
	if n < 2 {
		n = 2
	}
	out := model.BBox{
		X1: math.Inf(1), Y1: math.Inf(1),
		X2: math.Inf(-1), Y2: math.Inf(-1),
		SRID: to.EPSG(),
	}
	for _, p := range ringPoints(b, n) {
		c, err := pj.Forward(proj.NewCoord(p[0], p[1], 0, 0))
		if err != nil {
			return model.BBox{}, fmt.Errorf("transform point %v %s->%s: %w", p, from, to, err)
		}
		x, y := c.X(), c.Y()
		if !finite(x) || !finite(y) {
			return model.BBox{}, fmt.Errorf("transform point %v %s->%s: non-finite result", p, from, to)
		}
		out.X1 = math.Min(out.X1, x)
		out.Y1 = math.Min(out.Y1, y)
		out.X2 = math.Max(out.X2, x)
		out.Y2 = math.Max(out.Y2, y)
	}
	return out, nil
}

// Projection returns an orb projection for feature geometries and a release func that must be
// called once the projection is no longer used. Failed points come back as NaN.
func Projection(from, to crs.Code) (orb.Projection, func(), error) {
	pj, err := newPJ(from, to)
	if err != nil {
		return nil, func() {}, err
	}
	fn := func(p orb.Point) orb.Point {
		c, err := pj.Forward(proj.NewCoord(p[0], p[1], 0, 0))
		if err != nil {
			return orb.Point{math.NaN(), math.NaN()}
		}
		return orb.Point{c.X(), c.Y()}
	}
	return fn, pj.Destroy, nil
}

func newPJ(from, to crs.Code) (*proj.PJ, error) {
	raw, err := proj.NewCRSToCRS(from.EPSG(), to.EPSG(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s->%s: %v", crs.ErrUnsupported, from, to, err)
	}
	pj, err := raw.NormalizeForVisualization()
	raw.Destroy()
	if err != nil {
		return nil, fmt.Errorf("normalize axis order %s->%s: %w", from, to, err)
	}
	return pj, nil
}

// walks the rectangle boundary with n points per edge, corners included once
func ringPoints(b model.BBox, n int) [][2]float64 {
	corners := [5][2]float64{
		{b.X1, b.Y1}, {b.X2, b.Y1}, {b.X2, b.Y2}, {b.X1, b.Y2}, {b.X1, b.Y1},
	}
	pts := make([][2]float64, 0, 4*(n-1))
	for e := range 4 {
		a, z := corners[e], corners[e+1]
		for i := range n - 1 {
			f := float64(i) / float64(n-1)
			pts = append(pts, [2]float64{a[0] + (z[0]-a[0])*f, a[1] + (z[1]-a[1])*f})
		}
	}
	return pts
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
