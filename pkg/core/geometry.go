package core

import "math"

// Vec2 is a 2D vector, used for joystick and look deltas.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v+o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Length returns the euclidean length of v.
func (v Vec2) Length() float64 { return math.Hypot(v.X, v.Y) }

// IsZero reports whether both components are exactly zero.
func (v Vec2) IsZero() bool { return v.X == 0 && v.Y == 0 }

// Vec3 is a point or direction in room space. Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

func (v Vec3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Normalize returns v scaled to unit length. The zero vector is returned unchanged.
func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Lerp moves v toward o by fraction t.
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return v.Add(o.Sub(v).Scale(t))
}

// Array returns v as an [x, y, z] triple, the wire form of positions.
func (v Vec3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// Vec3FromArray is the inverse of Array.
func Vec3FromArray(a [3]float64) Vec3 { return Vec3{a[0], a[1], a[2]} }

// Euler is an orientation in radians applied in Y-X-Z order:
// Y is yaw (turn left/right), X is pitch.
type Euler struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (e Euler) Array() [3]float64 { return [3]float64{e.X, e.Y, e.Z} }

func EulerFromArray(a [3]float64) Euler { return Euler{a[0], a[1], a[2]} }

// Camera is the local viewer's first-person camera.
type Camera struct {
	Position Vec3
	Rotation Euler
	FOV      float64
}

// NewCamera returns the camera as placed when a viewer enters a space.
func NewCamera() Camera {
	return Camera{
		Position: Vec3{X: 0, Y: 2, Z: 8},
		FOV:      60,
	}
}

// Forward returns the horizontal unit vector the camera faces at its yaw.
// At yaw 0 the camera looks down -Z.
func (c Camera) Forward() Vec3 {
	return Vec3{X: -math.Sin(c.Rotation.Y), Z: -math.Cos(c.Rotation.Y)}
}

// WrapAngle maps an angle into (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
