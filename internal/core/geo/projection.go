package geo

import (
	"math"

	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
)

const (
	DefaultTileSize = 256
	// spherical mercator is undefined at the poles
	maxLatitude = 85.0511287798
)

// Projection maps coordinates to container pixels for a viewport whose
// top-left corner is the north-west corner of Bounds, using spherical
// mercator at the given zoom.
type Projection struct {
	Bounds   model.Bounds
	Zoom     int
	TileSize int

	originX, originY float64
}

var _ model.Projector = (*Projection)(nil)

func NewProjection(b model.Bounds, zoom int) *Projection {
	p := &Projection{Bounds: b, Zoom: zoom, TileSize: DefaultTileSize}
	p.originX, p.originY = p.world(b.NorthWest())
	return p
}

func (p *Projection) Project(pt model.Point) model.ScreenPoint {
	x, y := p.world(pt)
	return model.ScreenPoint{X: x - p.originX, Y: y - p.originY}
}

// Size returns the pixel dimensions the bounds span at this zoom.
func (p *Projection) Size() (w, h float64) {
	se := p.Project(p.Bounds.SouthEast())
	return se.X, se.Y
}

func (p *Projection) world(pt model.Point) (float64, float64) {
	ts := p.TileSize
	if ts <= 0 {
		ts = DefaultTileSize
	}
	scale := float64(ts) * math.Exp2(float64(p.Zoom))
	lat := math.Max(-maxLatitude, math.Min(maxLatitude, pt.Lat))
	sin := math.Sin(lat * math.Pi / 180)
	x := scale * (pt.Lng + 180) / 360
	y := scale * (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi))
	return x, y
}

// ScreenDistance is the euclidean pixel distance between a and b.
func ScreenDistance(a, b model.ScreenPoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
