package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/watashi-museum/museum/pkg/core"
)

// Room positions are stored as XYZ points in the room's local Cartesian
// frame (no SRID). The WKB encoding lets SQLite and Postgres hold them as
// plain bytes and scan them back without spatial extensions.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// PointFromVec3 creates an XYZ point from a room position. Non-finite X or
// Y components are rejected with ErrInvalidCoordinates.
func PointFromVec3(v core.Vec3) (geom.Point, error) {
	point, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: v.X, Y: v.Y},
		Z:    v.Z,
		Type: geom.DimXYZ,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return point, nil
}

// Vec3FromPoint returns the room position of p. Empty points map to the
// origin.
func Vec3FromPoint(p geom.Point) core.Vec3 {
	c, ok := p.Coordinates()
	if !ok {
		return core.Vec3{}
	}
	return core.Vec3{X: c.XY.X, Y: c.XY.Y, Z: c.Z}
}

// ParseVec3 parses "x,z" or "x,y,z". With two components y is left at 0;
// the movement controller pins the camera height on its next update.
func ParseVec3(coords string) (core.Vec3, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Vec3{}, ErrInvalidCoordinates
	}

	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Vec3{}, ErrInvalidCoordinates
		}
		vals[i] = v
	}

	if len(vals) == 2 {
		return core.Vec3{X: vals[0], Z: vals[1]}, nil
	}
	return core.Vec3{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}
