package geom

import "math"

// Vec3 is a world-space point or direction in meters (Y up).
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Forward is the default viewer facing (negative Z, matching the AR scene).
var Forward = Vec3{Z: -1}

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func Uniform(s float64) Vec3 { return Vec3{X: s, Y: s, Z: s} }

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z} }

func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z} }

func (a Vec3) Scale(s float64) Vec3 { return Vec3{X: a.X * s, Y: a.Y * s, Z: a.Z * s} }

func (a Vec3) Dot(b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

func (a Vec3) Len() float64 { return math.Sqrt(a.Dot(a)) }

func (a Vec3) Horizontal() Vec3 { return Vec3{X: a.X, Z: a.Z} }

func (a Vec3) MaxComponent() float64 { return math.Max(a.X, math.Max(a.Y, a.Z)) }

func (a Vec3) IsZero() bool { return a.Len() < 1e-9 }

// Normalize returns a unit vector, or the zero vector when a has no length.
func (a Vec3) Normalize() Vec3 {
	l := a.Len()
	if l < 1e-9 {
		return Vec3{}
	}
	return a.Scale(1 / l)
}

func Dist(a, b Vec3) float64 { return a.Sub(b).Len() }

func Lerp(a, b Vec3, t float64) Vec3 {
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// Quat is a unit rotation quaternion.
type Quat struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
	W float64 `json:"w" yaml:"w"`
}

func Identity() Quat { return Quat{W: 1} }

// LookRotation returns the yaw-only rotation that turns Forward toward dir.
func LookRotation(dir Vec3) Quat {
	h := dir.Horizontal().Normalize()
	if h.IsZero() {
		return Identity()
	}
	yaw := math.Atan2(-h.X, -h.Z)
	return Quat{Y: math.Sin(yaw / 2), W: math.Cos(yaw / 2)}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{X: q.X, Y: q.Y, Z: q.Z}
	uv := cross(u, v)
	uuv := cross(u, uv)
	return v.Add(uv.Scale(2 * q.W)).Add(uuv.Scale(2))
}

func cross(a, b Vec3) Vec3 {
	return Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EaseInOut is the smoothstep curve on [0,1].
func EaseInOut(t float64) float64 {
	t = Clamp(t, 0, 1)
	return t * t * (3 - 2*t)
}

// RaySphere returns the distance along a normalized ray to the first
// intersection with the sphere, if any lies in front of the origin.
func RaySphere(origin, dir, center Vec3, radius float64) (float64, bool) {
	oc := origin.Sub(center)
	b := oc.Dot(dir)
	c := oc.Dot(oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}

// Pose is the viewer's head position and facing.
type Pose struct {
	Position Vec3 `json:"position"`
	Forward  Vec3 `json:"forward"`
}

// Facing returns the normalized forward direction, defaulting to Forward.
func (p Pose) Facing() Vec3 {
	f := p.Forward.Normalize()
	if f.IsZero() {
		return Forward
	}
	return f
}
