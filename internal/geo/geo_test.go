package geo

import (
	"errors"
	"math"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/watashi-museum/museum/pkg/core"
)

func TestPointFromVec3_RoundTrip(t *testing.T) {
	in := core.Vec3{X: -3.5, Y: 2, Z: 7.25}
	point, err := PointFromVec3(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if coords.X != -3.5 || coords.Y != 2 || coords.Z != 7.25 {
		t.Errorf("unexpected coordinates %+v", coords)
	}

	out := Vec3FromPoint(point)
	if out != in {
		t.Errorf("expected %+v, got %+v", in, out)
	}
}

func TestPointFromVec3_WKBRoundTrip(t *testing.T) {
	in := core.Vec3{X: 1, Y: 2, Z: 3}
	point, err := PointFromVec3(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, err := point.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var scanned geom.Point
	if err := scanned.Scan(value); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if got := Vec3FromPoint(scanned); got != in {
		t.Errorf("expected %+v, got %+v", in, got)
	}
}

func TestPointFromVec3_NonFinite(t *testing.T) {
	for _, in := range []core.Vec3{
		{X: math.NaN(), Y: 2, Z: 0},
		{X: 0, Y: math.Inf(1), Z: 0},
	} {
		if _, err := PointFromVec3(in); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("PointFromVec3(%+v): expected ErrInvalidCoordinates, got %v", in, err)
		}
	}
}

func TestVec3FromPoint_Empty(t *testing.T) {
	var empty geom.Point
	if got := Vec3FromPoint(empty); got != (core.Vec3{}) {
		t.Errorf("expected origin, got %+v", got)
	}
}

func TestParseVec3(t *testing.T) {
	tests := []struct {
		in   string
		want core.Vec3
	}{
		{"1,2,3", core.Vec3{X: 1, Y: 2, Z: 3}},
		{" -4.5 , 2 , 0.25 ", core.Vec3{X: -4.5, Y: 2, Z: 0.25}},
		{"4,-6", core.Vec3{X: 4, Z: -6}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVec3(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestParseVec3_Invalid(t *testing.T) {
	for _, in := range []string{"", "1", "1,2,3,4", "a,2", "1,b,3"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseVec3(in)
			if !errors.Is(err, ErrInvalidCoordinates) {
				t.Errorf("expected ErrInvalidCoordinates, got %v", err)
			}
		})
	}
}

