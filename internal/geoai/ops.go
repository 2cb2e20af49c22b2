package geoai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mohammed-shakir/geonav-cache/internal/cache/keys"
	"github.com/mohammed-shakir/geonav-cache/internal/core/apperr"
	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
)

// MinSuggestionQuery is the shortest query worth suggesting for.
const MinSuggestionQuery = 3

const maxSuggestions = 5

type latLng struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (p latLng) point(op string) (model.Point, error) {
	if p.Lat == nil || p.Lng == nil {
		return model.Point{}, apperr.Malformed("%s: lat and lng are required", op)
	}
	pt := model.Point{Lat: *p.Lat, Lng: *p.Lng}
	if !pt.Valid() {
		return model.Point{}, apperr.Malformed("%s: coordinates out of range (%v,%v)", op, pt.Lat, pt.Lng)
	}
	return pt, nil
}

// Geocode resolves a place name to coordinates.
func (c *Client) Geocode(ctx context.Context, name string) (Result[model.Point], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result[model.Point]{}, apperr.Invalid("place name is empty")
	}
	rep, err := c.generate(ctx, opGeocode, generateRequest{
		Contents:         prompt(fmt.Sprintf("Find the precise latitude and longitude for: %q. %s", name, c.cfg.RegionHint)),
		GenerationConfig: jsonConfig(geocodeSchema),
	})
	if err != nil {
		return Result[model.Point]{}, fmt.Errorf("geocode %q: %w", name, err)
	}

	var ll latLng
	if err := decodeJSON(opGeocode, rep.text, &ll); err != nil {
		return Result[model.Point]{}, err
	}
	pt, err := ll.point(opGeocode)
	if err != nil {
		return Result[model.Point]{}, err
	}
	return Result[model.Point]{Value: pt, Offline: rep.offline}, nil
}

// Directions asks for a route. The returned polyline always starts at
// start and ends at end.
func (c *Client) Directions(ctx context.Context, start, end model.Point, mode model.TravelMode) (Result[model.Route], error) {
	if !mode.Valid() {
		return Result[model.Route]{}, apperr.Invalid("unknown travel mode %q", mode)
	}
	if !start.Valid() || !end.Valid() {
		return Result[model.Route]{}, apperr.Invalid("route endpoints out of range")
	}

	text := fmt.Sprintf("Provide a route for %s from %v,%v to %v,%v. "+
		"The response should be a JSON object containing the estimated time of arrival (eta) as a string (e.g., \"15 mins\"), "+
		"a simplified polyline of the route as an array of lat/lng points, and turn-by-turn steps. "+
		"Each step should include an instruction, a distance for that step, and the start/end points of the step.",
		mode, start.Lat, start.Lng, end.Lat, end.Lng)
	rep, err := c.generate(ctx, opDirections, generateRequest{
		Contents:         prompt(text),
		GenerationConfig: jsonConfig(routeSchema),
	})
	if err != nil {
		return Result[model.Route]{}, fmt.Errorf("directions: %w", err)
	}

	var wire struct {
		ETA      *string  `json:"eta"`
		Polyline []latLng `json:"polyline"`
		Steps    []struct {
			Instruction string   `json:"instruction"`
			Distance    string   `json:"distance"`
			Points      []latLng `json:"points"`
		} `json:"steps"`
	}
	if err := decodeJSON(opDirections, rep.text, &wire); err != nil {
		return Result[model.Route]{}, err
	}
	if wire.ETA == nil || wire.Polyline == nil || wire.Steps == nil {
		return Result[model.Route]{}, apperr.Malformed("directions: eta, polyline and steps are required")
	}

	route := model.Route{ETA: *wire.ETA, Polyline: make([]model.Point, 0, len(wire.Polyline)+2)}
	route.Polyline = append(route.Polyline, start)
	for _, ll := range wire.Polyline {
		pt, err := ll.point(opDirections)
		if err != nil {
			return Result[model.Route]{}, err
		}
		route.Polyline = append(route.Polyline, pt)
	}
	route.Polyline = append(route.Polyline, end)

	route.Steps = make([]model.Step, 0, len(wire.Steps))
	for _, s := range wire.Steps {
		st := model.Step{Instruction: s.Instruction, Distance: s.Distance}
		for _, ll := range s.Points {
			// step points are advisory; skip incomplete ones
			if pt, err := ll.point(opDirections); err == nil {
				st.Points = append(st.Points, pt)
			}
		}
		route.Steps = append(route.Steps, st)
	}
	return Result[model.Route]{Value: route, Offline: rep.offline}, nil
}

// Suggestions is best effort: short queries, a missing key and any failure
// all yield an empty list and no error.
func (c *Client) Suggestions(ctx context.Context, query string) Result[[]string] {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSuggestionQuery || c.cfg.APIKey == "" {
		return Result[[]string]{Value: []string{}}
	}

	gc := jsonConfig(suggestSchema)
	gc.ThinkingConfig = &thinkingConfig{ThinkingBudget: 0}
	text := fmt.Sprintf("Provide up to %d real-world location autocomplete suggestions for the search query: %q. "+
		"Respond ONLY with a JSON object containing a \"suggestions\" key with an array of strings. %s",
		maxSuggestions, query, c.cfg.RegionHint)
	rep, err := c.generate(ctx, opSuggest, generateRequest{Contents: prompt(text), GenerationConfig: gc})
	if err != nil {
		c.log.WarnContext(ctx, "suggestions failed", "err", err)
		return Result[[]string]{Value: []string{}}
	}

	var wire struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := decodeJSON(opSuggest, rep.text, &wire); err != nil {
		c.log.WarnContext(ctx, "suggestions malformed", "err", err)
		return Result[[]string]{Value: []string{}}
	}
	out := make([]string, 0, len(wire.Suggestions))
	for _, s := range wire.Suggestions {
		if s = strings.TrimSpace(s); s != "" && len(out) < maxSuggestions {
			out = append(out, s)
		}
	}
	return Result[[]string]{Value: out, Offline: rep.offline}
}

// Assistant answers a free-form navigation question. at is the user's
// position, if known.
func (c *Client) Assistant(ctx context.Context, query string, at *model.Point) (Result[string], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result[string]{}, apperr.Invalid("question is empty")
	}
	loc := "The user's location is not available."
	if at != nil {
		loc = fmt.Sprintf("The user's current location is latitude: %v, longitude: %v.", at.Lat, at.Lng)
	}
	rep, err := c.generate(ctx, opAssistant, generateRequest{
		Contents: prompt(fmt.Sprintf("You are a helpful and concise navigation assistant for a map application. %s Answer the user's question: %q", loc, query)),
		SystemInstruction: &content{Parts: []part{{
			Text: "Your answers should be brief and directly related to navigation, points of interest, or geography. " + c.cfg.RegionHint,
		}}},
	})
	if err != nil {
		return Result[string]{}, fmt.Errorf("assistant: %w", err)
	}
	return Result[string]{Value: rep.text, Offline: rep.offline}, nil
}

// FetchPOIs returns at most MaxPOIs points of interest inside b, in the
// order the model listed them.
func (c *Client) FetchPOIs(ctx context.Context, b model.Bounds) ([]model.POI, error) {
	if err := b.Validate(); err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	cats := make([]string, len(poiCategories))
	for i, cat := range poiCategories {
		cats[i] = string(cat)
	}
	text := fmt.Sprintf("Generate a list of common points of interest within the following geographical bounding box: "+
		"North-East corner (%v, %v), South-West corner (%v, %v). The points of interest should be of categories: %s. "+
		"For each POI, provide its name, category, and precise lat/lng coordinates. Provide a maximum of %d POIs to avoid clutter.",
		b.North(), b.East(), b.South(), b.West(), strings.Join(cats, ", "), c.cfg.MaxPOIs)

	rep, err := c.generate(ctx, opPOIs, generateRequest{
		Contents:         prompt(text),
		GenerationConfig: jsonConfig(poiSchema()),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pois: %w", err)
	}

	var wire struct {
		POIs []struct {
			Name     string `json:"name"`
			Category string `json:"category"`
			latLng
		} `json:"pois"`
	}
	if err := decodeJSON(opPOIs, rep.text, &wire); err != nil {
		return nil, err
	}
	if wire.POIs == nil {
		return nil, apperr.Malformed("fetch pois: pois is required")
	}

	out := make([]model.POI, 0, min(len(wire.POIs), c.cfg.MaxPOIs))
	for _, w := range wire.POIs {
		if len(out) == c.cfg.MaxPOIs {
			break
		}
		cat := model.Category(w.Category)
		if w.Name == "" || !cat.Known() {
			return nil, apperr.Malformed("fetch pois: bad entry name=%q category=%q", w.Name, w.Category)
		}
		pt, err := w.latLng.point(opPOIs)
		if err != nil {
			return nil, err
		}
		out = append(out, model.POI{
			ID:       keys.Short(fmt.Sprintf("%s|%s|%.6f|%.6f", w.Name, cat, pt.Lat, pt.Lng)),
			Name:     w.Name,
			Category: cat,
			Lat:      pt.Lat,
			Lng:      pt.Lng,
		})
	}
	return out, nil
}
