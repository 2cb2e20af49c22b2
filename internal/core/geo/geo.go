// Package geo provides distance and projection helpers over model types.
package geo

import (
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
)

// RegionRes is the H3 resolution used to label a viewport center in logs,
// metrics and fetch events. Resolution 7 cells are roughly 5 km² which is
// about the area of a city viewport at the fetch zoom floor.
const RegionRes = 7

func toLatLng(p model.Point) h3.LatLng {
	return h3.NewLatLng(p.Lat, p.Lng)
}

// DistanceMeters is the great-circle distance between a and b.
func DistanceMeters(a, b model.Point) float64 {
	return h3.GreatCircleDistanceM(toLatLng(a), toLatLng(b))
}

// WidthMeters is the distance along the southern edge of b (south-west to
// south-east corner).
func WidthMeters(b model.Bounds) float64 {
	return DistanceMeters(b.SouthWest, b.SouthEast())
}

// CenterDistanceMeters is the distance between the centers of a and b.
func CenterDistanceMeters(a, b model.Bounds) float64 {
	return DistanceMeters(a.Center(), b.Center())
}

// RegionCell labels p with its H3 cell at RegionRes. Returns "" when p
// cannot be indexed.
func RegionCell(p model.Point) string {
	c, err := h3.LatLngToCell(toLatLng(p), RegionRes)
	if err != nil {
		return ""
	}
	return c.String()
}
