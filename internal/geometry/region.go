package geometry

import "robotcell/pkg/types"

// Region is a monitored zone. The set of variants is closed: Sphere, HalfSpace and
// AxisAlignedBox.
type Region interface {
	Contains(p types.Pose) bool
	region()
}

// Sphere contains poses within Radius of Center under the six-component metric.
type Sphere struct {
	Center types.Pose
	Radius float64
}

func (s Sphere) Contains(p types.Pose) bool { return InPosition(s.Center, p, s.Radius) }
func (Sphere) region()                      {}

// HalfSpace contains poses strictly below Threshold on Axis.
type HalfSpace struct {
	Axis      Axis
	Threshold float64
}

func (h HalfSpace) Contains(p types.Pose) bool { return h.Axis.Value(p) < h.Threshold }
func (HalfSpace) region()                      {}

// Extents are the side lengths of a box along x, y, z.
type Extents struct {
	X, Y, Z float64
}

// AxisAlignedBox spans Origin to Origin+Extents.
type AxisAlignedBox struct {
	Origin  types.Pose
	Extents Extents
}

func (b AxisAlignedBox) Contains(p types.Pose) bool {
	return InPrism(b.Origin, p, b.Extents.X, b.Extents.Y, b.Extents.Z)
}
func (AxisAlignedBox) region() {}

// SafeZone builds the one-sided boundary used by the high-priority loop: a pose is safe while
// its value on axis stays below boundary+delta.
func SafeZone(axis Axis, boundary types.Pose, delta float64) HalfSpace {
	return HalfSpace{Axis: axis, Threshold: axis.Value(boundary) + delta}
}

// Cube builds the ±delta box around origin used for obstruction checks.
func Cube(origin types.Pose, delta float64) AxisAlignedBox {
	return AxisAlignedBox{
		Origin:  origin.Translate(-delta, -delta, -delta),
		Extents: Extents{X: 2 * delta, Y: 2 * delta, Z: 2 * delta},
	}
}
