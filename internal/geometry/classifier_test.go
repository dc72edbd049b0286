package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotcell/pkg/types"
)

func pose(x, y, z, rx, ry, rz float64) types.Pose {
	return types.Pose{X: x, Y: y, Z: z, RX: rx, RY: ry, RZ: rz}
}

func TestInPositionScenario(t *testing.T) {
	target := pose(100, 100, 100, 0, 0, 0)
	current := pose(102, 101, 99, 0, 0, 0)

	assert.InDelta(t, math.Sqrt(6), Distance(target, current), 1e-9)
	assert.True(t, InPosition(target, current, 5))
	assert.False(t, InPosition(target, current, 2))
}

func TestInPositionReflexiveAndSymmetric(t *testing.T) {
	poses := []types.Pose{
		pose(0, 0, 0, 0, 0, 0),
		pose(-350.5, 812.25, 40, 180, 0, -90),
		pose(1e4, -1e4, 3, 0.1, 0.2, 0.3),
	}
	deltas := []float64{0, 0.5, 5, 300}

	for _, p := range poses {
		for _, d := range deltas {
			assert.True(t, InPosition(p, p, d), "reflexive for %v delta %v", p, d)
		}
	}
	for _, p := range poses {
		for _, q := range poses {
			for _, d := range deltas {
				assert.Equal(t, InPosition(p, q, d), InPosition(q, p, d))
			}
		}
	}
}

func TestInPositionCountsOrientation(t *testing.T) {
	// position identical, orientation 10 degrees away
	assert.False(t, InPosition(pose(0, 0, 0, 0, 0, 0), pose(0, 0, 0, 10, 0, 0), 5))
}

func TestAxisLessThan(t *testing.T) {
	boundary := pose(0, 1000, 0, 0, 0, 0)

	tests := []struct {
		name    string
		current float64
		want    bool
	}{
		{"inside", 1250, true},
		{"on boundary", 1300, false},
		{"outside", 1400, false},
		{"far inside", -200, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AxisLessThan(AxisY, boundary, pose(0, tt.current, 0, 0, 0, 0), 300))
		})
	}
}

func TestInBoxAndPrism(t *testing.T) {
	origin := pose(100, 100, 100, 0, 0, 0)

	assert.True(t, InBox(origin, pose(600, -400, 100, 90, 0, 0), 500))
	assert.False(t, InBox(origin, pose(601, 100, 100, 0, 0, 0), 500))

	assert.True(t, InPrism(origin, pose(150, 120, 100, 0, 0, 0), 100, 50, 10))
	assert.True(t, InPrism(origin, pose(200, 150, 110, 0, 0, 0), 100, 50, 10))
	assert.False(t, InPrism(origin, pose(99, 120, 105, 0, 0, 0), 100, 50, 10))
	assert.False(t, InPrism(origin, pose(150, 120, 111, 0, 0, 0), 100, 50, 10))
}

func TestClassifierBindsDeltaAndAxis(t *testing.T) {
	c := NewClassifier(300, WithAxis(AxisX))
	assert.Equal(t, 300.0, c.Delta())
	assert.True(t, c.AxisLessThan(pose(1000, 0, 0, 0, 0, 0), pose(1250, 5000, 0, 0, 0, 0)))
	assert.False(t, c.AxisLessThan(pose(1000, 0, 0, 0, 0, 0), pose(1300, 0, 0, 0, 0, 0)))

	inPos := NewClassifier(-5)
	assert.True(t, inPos.InPosition(pose(100, 100, 100, 0, 0, 0), pose(102, 101, 99, 0, 0, 0)))
}

func TestRegions(t *testing.T) {
	regions := []struct {
		name   string
		region Region
		in     types.Pose
		out    types.Pose
	}{
		{"sphere", Sphere{Center: pose(0, 0, 0, 0, 0, 0), Radius: 5}, pose(3, 4, 0, 0, 0, 0), pose(3, 4, 1, 0, 0, 0)},
		{"safe zone", SafeZone(AxisY, pose(0, 1000, 0, 0, 0, 0), 300), pose(0, 1250, 0, 0, 0, 0), pose(0, 1300, 0, 0, 0, 0)},
		{"cube", Cube(pose(0, 0, 0, 0, 0, 0), 500), pose(500, -500, 0, 0, 0, 0), pose(0, 0, 501, 0, 0, 0)},
		{"box", AxisAlignedBox{Origin: pose(10, 10, 10, 0, 0, 0), Extents: Extents{X: 5, Y: 5, Z: 5}}, pose(12, 15, 10, 0, 0, 0), pose(9, 12, 12, 0, 0, 0)},
	}
	for _, tt := range regions {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.region.Contains(tt.in))
			assert.False(t, tt.region.Contains(tt.out))
		})
	}
}

func TestParseAxis(t *testing.T) {
	a, err := ParseAxis("")
	require.NoError(t, err)
	assert.Equal(t, AxisY, a)

	a, err = ParseAxis("Z")
	require.NoError(t, err)
	assert.Equal(t, AxisZ, a)
	assert.Equal(t, "z", a.String())

	_, err = ParseAxis("w")
	assert.Error(t, err)
}
