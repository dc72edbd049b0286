// Package geometry turns raw tool-center-point readings into boolean zone and position
// predicates. Everything here is pure arithmetic over types.Pose.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"robotcell/pkg/types"
)

// Axis selects one linear component of a pose.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// ParseAxis accepts "x", "y" or "z"; empty selects Y, the boundary axis of the cell.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return AxisX, nil
	case "", "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	default:
		return AxisY, fmt.Errorf("unknown axis %q", s)
	}
}

func (a Axis) String() string {
	return [...]string{"x", "y", "z"}[a]
}

// Value returns p's component on the axis.
func (a Axis) Value(p types.Pose) float64 {
	switch a {
	case AxisX:
		return p.X
	case AxisZ:
		return p.Z
	default:
		return p.Y
	}
}

// Set returns a copy of p with its component on the axis replaced by v.
func (a Axis) Set(p types.Pose, v float64) types.Pose {
	switch a {
	case AxisX:
		p.X = v
	case AxisZ:
		p.Z = v
	default:
		p.Y = v
	}
	return p
}

// Distance is the Euclidean norm over all six components. Linear (mm) and angular (deg)
// differences are summed unweighted.
func Distance(a, b types.Pose) float64 {
	ca, cb := a.Components(), b.Components()
	var sum float64
	for i := range ca {
		d := ca[i] - cb[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// InPosition reports whether current lies within delta of target.
func InPosition(target, current types.Pose, delta float64) bool {
	return Distance(target, current) <= delta
}

// AxisLessThan reports whether current is below target+delta on axis.
func AxisLessThan(axis Axis, target, current types.Pose, delta float64) bool {
	return axis.Value(current) < axis.Value(target)+delta
}

// InBox reports whether the three linear axes of current are within ±delta of origin.
func InBox(origin, current types.Pose, delta float64) bool {
	return math.Abs(current.X-origin.X) <= delta &&
		math.Abs(current.Y-origin.Y) <= delta &&
		math.Abs(current.Z-origin.Z) <= delta
}

// InPrism reports whether current lies in the prism spanning origin to
// origin+(length, width, height).
func InPrism(origin, current types.Pose, length, width, height float64) bool {
	return within(current.X, origin.X, length) &&
		within(current.Y, origin.Y, width) &&
		within(current.Z, origin.Z, height)
}

func within(v, start, extent float64) bool {
	lo, hi := start, start+extent
	if lo > hi {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

// Classifier binds one tolerance and one boundary axis. It holds no mutable state and may be
// shared between loops or rebuilt whenever tolerances change.
type Classifier struct {
	delta float64
	axis  Axis
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithAxis sets the axis used by AxisLessThan.
func WithAxis(axis Axis) Option {
	return func(c *Classifier) { c.axis = axis }
}

// NewClassifier 创建几何判定器
func NewClassifier(delta float64, opts ...Option) *Classifier {
	c := &Classifier{delta: math.Abs(delta), axis: AxisY}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Delta returns the bound tolerance.
func (c *Classifier) Delta() float64 { return c.delta }

func (c *Classifier) InPosition(target, current types.Pose) bool {
	return InPosition(target, current, c.delta)
}

func (c *Classifier) AxisLessThan(target, current types.Pose) bool {
	return AxisLessThan(c.axis, target, current, c.delta)
}

func (c *Classifier) InBox(origin, current types.Pose) bool {
	return InBox(origin, current, c.delta)
}

func (c *Classifier) InPrism(origin, current types.Pose, length, width, height float64) bool {
	return InPrism(origin, current, length, width, height)
}
