package geoai

import "github.com/mohammed-shakir/geonav-cache/internal/core/model"

// schema is the OpenAPI subset accepted as responseSchema.
type schema struct {
	Type       string             `json:"type"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Items      *schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Enum       []string           `json:"enum,omitempty"`
}

func str() *schema { return &schema{Type: "STRING"} }
func num() *schema { return &schema{Type: "NUMBER"} }

func array(items *schema) *schema { return &schema{Type: "ARRAY", Items: items} }

func object(props map[string]*schema, required ...string) *schema {
	return &schema{Type: "OBJECT", Properties: props, Required: required}
}

func pointSchema() *schema {
	return object(map[string]*schema{"lat": num(), "lng": num()}, "lat", "lng")
}

var (
	geocodeSchema = pointSchema()

	routeSchema = object(map[string]*schema{
		"eta":      str(),
		"polyline": array(pointSchema()),
		"steps": array(object(map[string]*schema{
			"instruction": str(),
			"distance":    str(),
			"points":      array(object(map[string]*schema{"lat": num(), "lng": num()})),
		})),
	}, "eta", "polyline", "steps")

	suggestSchema = object(map[string]*schema{"suggestions": array(str())}, "suggestions")
)

// poiCategories are the categories requested from the model. Traffic
// lights are display-only and never asked for.
var poiCategories = []model.Category{
	model.CategoryHospital,
	model.CategoryGasStation,
	model.CategoryAirport,
	model.CategoryMall,
	model.CategoryBusStop,
	model.CategoryStadium,
}

func poiSchema() *schema {
	enum := make([]string, len(poiCategories))
	for i, c := range poiCategories {
		enum[i] = string(c)
	}
	cat := str()
	cat.Enum = enum
	return object(map[string]*schema{
		"pois": array(object(map[string]*schema{
			"name":     str(),
			"category": cat,
			"lat":      num(),
			"lng":      num(),
		}, "name", "category", "lat", "lng")),
	}, "pois")
}
