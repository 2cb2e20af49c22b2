package model

// DefaultFallbackMinZoom applies to categories without a configured minimum.
const DefaultFallbackMinZoom = 15

// ZoomRules maps each category to the lowest zoom at which it is shown.
type ZoomRules struct {
	MinZoom  map[Category]int
	Fallback int
}

func DefaultZoomRules() ZoomRules {
	return ZoomRules{
		MinZoom: map[Category]int{
			CategoryAirport:      13,
			CategoryStadium:      14,
			CategoryHospital:     14,
			CategoryMall:         15,
			CategoryGasStation:   16,
			CategoryBusStop:      16,
			CategoryTrafficLight: 17,
		},
		Fallback: DefaultFallbackMinZoom,
	}
}

func (r ZoomRules) MinZoomFor(c Category) int {
	if z, ok := r.MinZoom[c]; ok {
		return z
	}
	return r.Fallback
}

// Floor is the lowest configured category minimum. Below it no category can
// be shown, so nothing is fetched.
func (r ZoomRules) Floor() int {
	if len(r.MinZoom) == 0 {
		return r.Fallback
	}
	first := true
	floor := 0
	for _, z := range r.MinZoom {
		if first || z < floor {
			floor = z
			first = false
		}
	}
	return floor
}

// Visible reports whether a point of category c is shown at zoom.
func (r ZoomRules) Visible(c Category, zoom int) bool {
	return zoom >= r.MinZoomFor(c)
}
