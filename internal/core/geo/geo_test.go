package geo

import (
	"math"
	"testing"

	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
)

func TestDistanceMeters_OneDegreeLatitude(t *testing.T) {
	d := DistanceMeters(model.Point{Lat: 0, Lng: 0}, model.Point{Lat: 1, Lng: 0})
	// one degree of arc on a 6371 km sphere
	want := 6371007.180918475 * math.Pi / 180
	if math.Abs(d-want) > 2000 {
		t.Fatalf("distance=%.1f want ~%.1f", d, want)
	}
	if DistanceMeters(model.Point{Lat: 10, Lng: 10}, model.Point{Lat: 10, Lng: 10}) != 0 {
		t.Fatal("distance to self must be 0")
	}
}

func TestWidthMeters_UsesSouthernEdge(t *testing.T) {
	b := model.Bounds{
		SouthWest: model.Point{Lat: 0, Lng: 0},
		NorthEast: model.Point{Lat: 60, Lng: 1},
	}
	w := WidthMeters(b)
	equator := DistanceMeters(model.Point{Lat: 0, Lng: 0}, model.Point{Lat: 0, Lng: 1})
	if math.Abs(w-equator) > 1e-6 {
		t.Fatalf("width=%.3f want %.3f (southern edge)", w, equator)
	}
}

func TestRegionCell_NonEmpty(t *testing.T) {
	if c := RegionCell(model.Point{Lat: -15.3875, Lng: 28.3228}); c == "" {
		t.Fatal("expected a cell label for Lusaka")
	}
}

func TestProjection_CornersAndSize(t *testing.T) {
	b := model.Bounds{
		SouthWest: model.Point{Lat: -15.40, Lng: 28.30},
		NorthEast: model.Point{Lat: -15.38, Lng: 28.34},
	}
	p := NewProjection(b, 15)

	nw := p.Project(b.NorthWest())
	if math.Abs(nw.X) > 1e-9 || math.Abs(nw.Y) > 1e-9 {
		t.Fatalf("north-west should project to origin, got %+v", nw)
	}

	w, h := p.Size()
	if w <= 0 || h <= 0 {
		t.Fatalf("size=%vx%v must be positive", w, h)
	}
	// 0.04 degrees of longitude at z15: 256*2^15*0.04/360
	wantW := 256 * math.Exp2(15) * 0.04 / 360
	if math.Abs(w-wantW) > 1e-6 {
		t.Fatalf("width=%.4f want %.4f", w, wantW)
	}

	// one zoom level up doubles pixel distances
	p16 := NewProjection(b, 16)
	w16, _ := p16.Size()
	if math.Abs(w16-2*w) > 1e-6 {
		t.Fatalf("z16 width=%.4f want %.4f", w16, 2*w)
	}
}

func TestScreenDistance(t *testing.T) {
	if d := ScreenDistance(model.ScreenPoint{X: 0, Y: 0}, model.ScreenPoint{X: 3, Y: 4}); d != 5 {
		t.Fatalf("distance=%v want 5", d)
	}
}
