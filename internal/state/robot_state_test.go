package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"robotcell/pkg/types"
)

func TestUpdatePoseKeepsPrevious(t *testing.T) {
	s := New()
	a := types.Pose{X: 1, Y: 2, Z: 3, RX: 4, RY: 5, RZ: 6}
	b := types.Pose{X: 7, Y: 8, Z: 9, RX: 10, RY: 11, RZ: 12}

	s.UpdatePose(a)
	prev := s.UpdatePose(b)

	cur, p := s.Poses()
	assert.Equal(t, a, prev)
	assert.Equal(t, a, p)
	assert.Equal(t, b, cur)
}

func TestPoseUpdatesAreNeverTorn(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			v := float64(i)
			s.UpdatePose(types.Pose{X: v, Y: v, Z: v, RX: v, RY: v, RZ: v})
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
			p := s.Pose()
			c := p.Components()
			for _, v := range c {
				assert.Equal(t, c[0], v)
			}
		}
	}
}

func TestSetTargetClearsInPosition(t *testing.T) {
	s := New()
	s.SetInPosition(true)
	s.SetTarget(types.Pose{X: 10})
	assert.False(t, s.InPosition())
	assert.Equal(t, 10.0, s.Target().X)
}

func TestReadyAndSnapshot(t *testing.T) {
	s := New()
	assert.False(t, s.Ready())

	s.SetConnected(true)
	assert.True(t, s.Ready())
	s.SetBlockingAlarm(true)
	assert.False(t, s.Ready())

	s.SetStep("main", 40)
	s.SetCycleRunning("main", true)
	snap := s.Snapshot()
	snap.Steps["main"] = 0
	assert.Equal(t, 40, s.Step("main"))
	assert.True(t, snap.Running["main"])
	assert.Equal(t, types.ModeUnknown, snap.Mode)
	assert.Equal(t, -1, snap.Collision)

	s.ResetSteps()
	assert.Equal(t, 0, s.Step("main"))
}

func TestStopped(t *testing.T) {
	s := New()
	assert.False(t, s.Stopped())
	s.SetStatus(types.RealTimeState{MotionState: types.MotionStopped, Enabled: true})
	assert.True(t, s.Stopped())
	assert.True(t, s.Enabled())
}

func TestInPositionForStaleTarget(t *testing.T) {
	s := New()
	a := types.Pose{X: 1, Y: 1, Z: 1, RX: 1, RY: 1, RZ: 1}
	b := a.Translate(100, 0, 0)

	s.SetTarget(a)
	assert.True(t, s.SetInPositionFor(a, true))
	assert.True(t, s.InPosition())

	s.SetTarget(b)
	assert.False(t, s.SetInPositionFor(a, true))
	assert.False(t, s.InPosition())
}
