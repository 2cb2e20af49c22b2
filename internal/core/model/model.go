// Package model defines core domain types shared across the engine.
package model

import (
	"errors"
	"fmt"
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Bounds is a geographic rectangle given by its south-west and north-east
// corners in EPSG:4326 degrees.
type Bounds struct {
	SouthWest Point `json:"south_west"`
	NorthEast Point `json:"north_east"`
}

func (b Bounds) South() float64 { return b.SouthWest.Lat }
func (b Bounds) West() float64  { return b.SouthWest.Lng }
func (b Bounds) North() float64 { return b.NorthEast.Lat }
func (b Bounds) East() float64  { return b.NorthEast.Lng }

func (b Bounds) NorthWest() Point { return Point{Lat: b.North(), Lng: b.West()} }
func (b Bounds) SouthEast() Point { return Point{Lat: b.South(), Lng: b.East()} }

func (b Bounds) Center() Point {
	return Point{
		Lat: (b.South() + b.North()) / 2,
		Lng: (b.West() + b.East()) / 2,
	}
}

func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.South() && p.Lat <= b.North() &&
		p.Lng >= b.West() && p.Lng <= b.East()
}

// String representation matching wfs/wms bbox order (west,south,east,north)
func (b Bounds) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.West(), b.South(), b.East(), b.North())
}

func (b Bounds) Validate() error {
	if !b.SouthWest.Valid() || !b.NorthEast.Valid() {
		return errors.New("bounds corners out of range")
	}
	if b.North() <= b.South() || b.East() <= b.West() {
		return errors.New("bounds must satisfy north>south and east>west")
	}
	return nil
}

// Category is the closed set of point-of-interest kinds.
type Category string

const (
	CategoryHospital     Category = "hospital"
	CategoryGasStation   Category = "gas-station"
	CategoryAirport      Category = "airport"
	CategoryMall         Category = "mall"
	CategoryBusStop      Category = "bus-stop"
	CategoryStadium      Category = "stadium"
	CategoryTrafficLight Category = "traffic-light"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategoryHospital,
	CategoryGasStation,
	CategoryAirport,
	CategoryMall,
	CategoryBusStop,
	CategoryStadium,
	CategoryTrafficLight,
}

func (c Category) Known() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

type POI struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
}

func (p POI) Point() Point { return Point{Lat: p.Lat, Lng: p.Lng} }

type TravelMode string

const (
	TravelDrive   TravelMode = "drive"
	TravelWalk    TravelMode = "walk"
	TravelBicycle TravelMode = "bicycle"
)

func (m TravelMode) Valid() bool {
	switch m {
	case TravelDrive, TravelWalk, TravelBicycle:
		return true
	}
	return false
}

type Step struct {
	Instruction string  `json:"instruction"`
	Distance    string  `json:"distance"`
	Points      []Point `json:"points"`
}

type Route struct {
	ETA      string  `json:"eta"`
	Polyline []Point `json:"polyline"`
	Steps    []Step  `json:"steps"`
}

// ScreenPoint is a pixel position relative to the map container's top-left.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Projector maps geographic coordinates to container pixels. A projector is
// valid only for the viewport it was produced with.
type Projector interface {
	Project(p Point) ScreenPoint
}

// ProjectorFunc adapts a plain function to Projector.
type ProjectorFunc func(Point) ScreenPoint

func (f ProjectorFunc) Project(p Point) ScreenPoint { return f(p) }

// Viewport is one immutable snapshot of what the map widget shows.
type Viewport struct {
	Bounds    Bounds
	Zoom      int
	Projector Projector
}
