// Package declutter picks the points of interest that are shown: those
// allowed at the current zoom and not drawn on top of an earlier one.
package declutter

import (
	"github.com/mohammed-shakir/geonav-cache/internal/core/geo"
	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
)

// DefaultMinSeparationPx is the on-screen distance below which a marker is
// considered a duplicate of one already placed.
const DefaultMinSeparationPx = 60.0

type Options struct {
	MinSeparationPx float64
	Rules           model.ZoomRules
}

func DefaultOptions() Options {
	return Options{MinSeparationPx: DefaultMinSeparationPx, Rules: model.DefaultZoomRules()}
}

// Placed is an accepted point together with its screen position.
type Placed struct {
	model.POI
	Screen model.ScreenPoint `json:"screen"`
}

// Filter returns the visible subset of points, in input order.
func Filter(points []model.POI, zoom int, proj model.Projector, opts Options) []model.POI {
	placed := Place(points, zoom, proj, opts)
	out := make([]model.POI, len(placed))
	for i, p := range placed {
		out[i] = p.POI
	}
	return out
}

// Place is Filter that also reports where each accepted point lands on
// screen. Points are considered greedily in input order; a point is
// rejected when an already accepted point lies closer than
// MinSeparationPx. A nil projector measures separation in mercator world
// pixels at zoom, so Screen is then relative to the world origin rather
// than the viewport corner.
func Place(points []model.POI, zoom int, proj model.Projector, opts Options) []Placed {
	rules := opts.Rules
	if rules.MinZoom == nil && rules.Fallback == 0 {
		rules = model.DefaultZoomRules()
	}
	if proj == nil {
		proj = &geo.Projection{Zoom: zoom, TileSize: geo.DefaultTileSize}
	}

	accepted := make([]Placed, 0, len(points))
	zoomFiltered, suppressed := 0, 0
	for _, p := range points {
		if !rules.Visible(p.Category, zoom) {
			zoomFiltered++
			continue
		}

		pos := proj.Project(p.Point())
		crowded := false
		for _, a := range accepted {
			if geo.ScreenDistance(pos, a.Screen) < opts.MinSeparationPx {
				crowded = true
				break
			}
		}
		if crowded {
			suppressed++
			continue
		}
		accepted = append(accepted, Placed{POI: p, Screen: pos})
	}

	observability.AddDeclutter(len(accepted), zoomFiltered, suppressed)
	return accepted
}
