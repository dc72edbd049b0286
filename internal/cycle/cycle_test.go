package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotcell/internal/alarm"
	"robotcell/internal/core"
	"robotcell/internal/events"
	"robotcell/internal/geometry"
	"robotcell/internal/plantio"
	"robotcell/internal/robot/sim"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

var (
	home     = types.Pose{X: 400, Y: 200, Z: 600, RX: 180, RY: 1, RZ: 90}
	safeZone = types.Pose{X: 400, Y: 1000, Z: 600, RX: 180, RY: 1, RZ: 90}
	pick     = types.Pose{X: 900, Y: -300, Z: 250, RX: 180, RY: 1, RZ: 90}
	transfer = types.Pose{X: 500, Y: 300, Z: 700, RX: 180, RY: 1, RZ: 90}
	place    = types.Pose{X: 700, Y: 600, Z: 400, RX: 180, RY: 1, RZ: 90}
)

type fakePoses struct {
	mu     sync.Mutex
	poses  map[string]types.Pose
	lookup []string
}

func (f *fakePoses) GetNamedPose(name string) (types.Pose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookup = append(f.lookup, name)
	p, ok := f.poses[name]
	if !ok {
		return types.Pose{}, fmt.Errorf("position %s not found", name)
	}
	return p, nil
}

type fakeDefaults struct{}

func (fakeDefaults) GetRobotDefaults() (types.RobotDefaults, error) {
	return types.RobotDefaults{Speed: 50, Velocity: 80, Acceleration: 60, Blend: -1}, nil
}

type fakeCatalog map[int]types.MotionCode

func (f fakeCatalog) DescribeMotion(code int) (types.MotionCode, bool) {
	c, ok := f[code]
	return c, ok
}

type cell struct {
	robot *sim.Robot
	state *state.RobotState
	hub   *alarm.Hub
	bus   *events.Bus
	plant *plantio.MemoryBus
	poses *fakePoses
	deps  Deps
}

func newCell(t *testing.T) *cell {
	t.Helper()
	c := &cell{
		robot: sim.New(sim.Options{
			MoveTime:      20 * time.Millisecond,
			FeedbackDelay: 10 * time.Millisecond,
			Links:         map[int]int{0: 0, 1: 1},
			Home:          home,
		}),
		state: state.New(),
		bus:   events.NewBus(),
		plant: plantio.NewMemoryBus(),
		poses: &fakePoses{poses: map[string]types.Pose{
			PoseHome:     home,
			PoseSafeZone: safeZone,
			PosePick:     pick,
			PoseTransfer: transfer,
			PosePlace:    place,
		}},
	}
	c.hub = alarm.NewHub(c.state, c.bus)

	_, err := c.robot.OpenChannel(context.Background(), "sim")
	require.NoError(t, err)
	c.state.SetConnected(true)
	c.state.UpdatePose(home)

	c.deps = Deps{
		Robot:    c.robot,
		State:    c.state,
		Alarms:   c.hub,
		Poses:    c.poses,
		Defaults: fakeDefaults{},
		Motion:   fakeCatalog{99: {Code: 99, Description: "Command not executed"}, 14: {Code: 14, Description: "Joint limit"}},
		Plant:    c.plant,
		Geometry: types.GeometryConfig{InPositionDelta: 5, SafeZoneAxis: "y"},
		Cycle: types.CycleConfig{
			Retract:               850,
			Approach:              400,
			PrePlace:              850,
			PostPlaceRetract:      300,
			ZPrePick:              40,
			ZPostPick:             40,
			ZPrePlace:             20,
			PlaceRXOffset:         3,
			PickVelocityScale:     0.9,
			PickAccelerationScale: 0.75,
			ApproachBlend:         -1,
			PickOutput:            0,
			PickFeedback:          0,
			PlaceOutput:           1,
			PlaceFeedback:         1,
			RetryCodes:            []int{99},
			FatalCodes:            []int{14},
		},
		Home: types.HomeConfig{Velocity: 30, Acceleration: 30, Speed: 20},
		Timing: types.TimingConfig{
			CyclePoll:      2 * time.Millisecond,
			HomePoll:       2 * time.Millisecond,
			FeedbackSettle: 5 * time.Millisecond,
		},
	}
	return c
}

// track plays the high-priority monitor: pose, status and in-position against the target.
func (c *cell) track(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.Cleanup(func() {
		cancel()
		<-done
	})
	go func() {
		defer close(done)
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
			target := c.state.Target()
			p, err := c.robot.GetTcpPose(ctx)
			if err != nil {
				continue
			}
			c.state.UpdatePose(p)
			if rt, err := c.robot.GetRealTimeState(ctx); err == nil {
				c.state.SetStatus(rt)
			}
			c.state.SetInPositionFor(target, geometry.InPosition(target, p, 5))
		}
	}()
}

func run(t *testing.T, e *Engine) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Run(ctx)
}

func (c *cell) tcp(t *testing.T) types.Pose {
	t.Helper()
	p, err := c.robot.GetTcpPose(context.Background())
	require.NoError(t, err)
	return p
}

func TestHomeFromInsideSafeZone(t *testing.T) {
	c := newCell(t)
	start := types.Pose{X: 600, Y: 500, Z: 500, RX: 180, RY: 1, RZ: 90}
	c.robot.Teleport(start)
	c.state.UpdatePose(start)
	c.track(t)

	e, err := NewHome(c.deps, c.bus)
	require.NoError(t, err)

	require.ErrorIs(t, run(t, e), core.ErrDone)
	assert.Equal(t, 1, c.robot.Calls("MoveLinear"))
	assert.Equal(t, 2, c.robot.Calls("SetSpeed"))
	assert.Equal(t, home, c.tcp(t))
	assert.Equal(t, StepHomeApproach, e.Current())
}

func TestHomeApproachesBoundaryFirst(t *testing.T) {
	c := newCell(t)
	start := types.Pose{X: 600, Y: 1400, Z: 500, RX: 180, RY: 1, RZ: 90}
	c.robot.Teleport(start)
	c.state.UpdatePose(start)
	c.track(t)

	var steps []string
	c.bus.Subscribe(func(ev events.Event) {
		steps = append(steps, ev.(*events.StepEvent).Name)
	}, events.TypeCycleStepChanged)

	e, err := NewHome(c.deps, c.bus)
	require.NoError(t, err)

	require.ErrorIs(t, run(t, e), core.ErrDone)
	assert.Equal(t, 2, c.robot.Calls("MoveLinear"))
	assert.Equal(t, home, c.tcp(t))
	assert.Equal(t, []string{"home_approach", "home_approach_wait", "home_move", "home_move_wait", "done", "home_approach"}, steps)
}

func TestPickPlacePassThenStop(t *testing.T) {
	c := newCell(t)
	c.plant.Set(plantio.TagCmdPick, 1)
	c.plant.Set(plantio.TagEnableToPick, 1)
	c.plant.Set(plantio.TagEnableToPlace, 1)
	c.track(t)

	var steps []string
	checks := 0
	c.bus.Subscribe(func(ev events.Event) {
		se := ev.(*events.StepEvent)
		if se.Cycle != NameMain {
			return
		}
		steps = append(steps, se.Name)
		if se.Name == StepCheckRequest.String() {
			checks++
			if checks == 2 {
				c.state.SetStopRequested(true)
			}
		}
	}, events.TypeCycleStepChanged)

	e, err := NewPickPlace(c.deps, c.bus)
	require.NoError(t, err)

	require.ErrorIs(t, run(t, e), core.ErrDone)
	assert.Equal(t, []string{
		"init", "check_request", "compute_points", "move_to_pick", "wait_pick_in_position",
		"wait_gripper_closed", "leave_pick", "wait_transfer", "move_to_place",
		"wait_place_in_position", "wait_gripper_opened", "leave_place", "check_request",
		"home_approach", "home_move", "home_move_wait", "done", "init",
	}, steps)

	assert.Equal(t, 7, c.robot.Calls("MoveLinear"))
	assert.Equal(t, 2, c.robot.Calls("MoveJoint"))
	// each gripper output raised then released on feedback
	assert.Equal(t, 4, c.robot.Calls("SetDigitalOutput"))
	assert.Equal(t, home, c.tcp(t))
	assert.False(t, c.state.StopRequested())
	assert.Empty(t, c.hub.Active())
}

func TestPickPlaceResumesAfterCancelMidPass(t *testing.T) {
	c := newCell(t)
	c.plant.Set(plantio.TagCmdPick, 1)
	c.plant.Set(plantio.TagEnableToPick, 1)
	c.plant.Set(plantio.TagEnableToPlace, 1)
	c.track(t)

	var (
		cancel context.CancelFunc
		steps  []string
	)
	stopAt := StepWaitTransfer.String()
	c.bus.Subscribe(func(ev events.Event) {
		se := ev.(*events.StepEvent)
		if se.Cycle != NameMain || cancel == nil {
			return
		}
		steps = append(steps, se.Name)
		if se.Name == stopAt {
			cancel()
		}
	}, events.TypeCycleStepChanged)

	e, err := NewPickPlace(c.deps, c.bus)
	require.NoError(t, err)

	runUntil := func() error {
		ctx, cc := context.WithTimeout(context.Background(), 5*time.Second)
		defer cc()
		cancel = cc
		return e.Run(ctx)
	}

	require.ErrorIs(t, runUntil(), context.Canceled)
	assert.Equal(t, StepWaitTransfer, e.Current())
	moves := c.robot.Calls("MoveLinear") + c.robot.Calls("MoveJoint")
	require.Equal(t, 5, moves)
	solved := c.robot.Calls("InverseKinematics")
	speeds := c.robot.Calls("SetSpeed")

	// the restart picks up at the transfer wait: only the place moves remain
	steps = nil
	stopAt = StepCheckRequest.String()
	require.ErrorIs(t, runUntil(), context.Canceled)
	assert.Equal(t, []string{
		"move_to_place", "wait_place_in_position", "wait_gripper_opened", "leave_place", "check_request",
	}, steps)
	assert.Equal(t, 3, c.robot.Calls("MoveLinear")+c.robot.Calls("MoveJoint")-moves)
	assert.Equal(t, solved, c.robot.Calls("InverseKinematics"))
	assert.Equal(t, speeds, c.robot.Calls("SetSpeed"))
	assert.Equal(t, place.Translate(-300, 0, 0), c.state.Target())
}

func TestPickPlaceSelectsFormatPose(t *testing.T) {
	c := newCell(t)
	c.plant.Set(plantio.TagCmdPick, 1)
	c.plant.Set(plantio.TagEnableToPick, 1)
	c.plant.Set(plantio.TagEnableToPlace, 1)
	c.plant.Set(plantio.TagSelectedFormat, 2)

	e, err := NewPickPlace(c.deps, c.bus)
	require.NoError(t, err)

	err = run(t, e)
	require.ErrorIs(t, err, ErrInvalidPose)
	assert.Contains(t, err.Error(), "pPick_2")
	assert.True(t, c.hub.IsSignaled(alarm.KeyConfiguration))
	assert.True(t, c.state.BlockingAlarm())
	assert.Equal(t, StepComputePoints, e.Current())
	assert.Zero(t, c.robot.Calls("MoveLinear"))
}

func TestPickPlaceWaitsForRequest(t *testing.T) {
	c := newCell(t)
	c.plant.Set(plantio.TagCmdPick, 1)
	c.plant.Set(plantio.TagEnableToPick, 1)
	// place consent missing

	e, err := NewPickPlace(c.deps, c.bus)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, StepCheckRequest, e.Current())
	assert.Zero(t, c.robot.Calls("InverseKinematics"))
	assert.False(t, c.state.CycleRunning(NameMain))

	// a stop on resume goes home without re-running init
	c.track(t)
	c.state.SetStopRequested(true)
	require.ErrorIs(t, run(t, e), core.ErrDone)
	assert.Equal(t, 3, c.robot.Calls("SetSpeed"))
}

func TestRetryCodeReissuesStep(t *testing.T) {
	c := newCell(t)
	start := types.Pose{X: 600, Y: 500, Z: 500, RX: 180, RY: 1, RZ: 90}
	c.robot.Teleport(start)
	c.state.UpdatePose(start)
	c.track(t)
	c.robot.FailNext(99)

	e, err := NewHome(c.deps, c.bus)
	require.NoError(t, err)

	require.ErrorIs(t, run(t, e), core.ErrDone)
	assert.Equal(t, 2, c.robot.Calls("MoveLinear"))
	assert.True(t, c.hub.IsSignaled(alarm.MotionKey(99)))
	assert.False(t, c.state.BlockingAlarm())
	assert.Equal(t, home, c.tcp(t))
}

func TestFatalCodeHaltsUntilCleared(t *testing.T) {
	c := newCell(t)
	start := types.Pose{X: 600, Y: 500, Z: 500, RX: 180, RY: 1, RZ: 90}
	c.robot.Teleport(start)
	c.state.UpdatePose(start)
	c.track(t)
	c.robot.FailNext(14)

	e, err := NewHome(c.deps, c.bus)
	require.NoError(t, err)

	require.ErrorIs(t, run(t, e), ErrMotion)
	assert.True(t, c.hub.IsSignaled(alarm.MotionKey(14)))
	assert.True(t, c.state.BlockingAlarm())
	assert.Equal(t, StepHomeMove, e.Current())

	require.ErrorIs(t, run(t, e), ErrHalted)

	c.hub.ClearAll()
	require.ErrorIs(t, run(t, e), core.ErrDone)
	assert.Equal(t, home, c.tcp(t))
}

func TestUntaughtPoseIsConfigurationFatal(t *testing.T) {
	c := newCell(t)
	c.poses.poses[PoseHome] = types.Pose{X: 400, Y: 200, Z: 0, RX: 180, RY: 1, RZ: 90}

	e, err := NewHome(c.deps, c.bus)
	require.NoError(t, err)

	require.ErrorIs(t, run(t, e), ErrInvalidPose)
	assert.True(t, c.hub.IsSignaled(alarm.KeyConfiguration))
	assert.Zero(t, c.robot.Calls("MoveLinear"))
}

func TestKinematicsFailureIsCommandFatal(t *testing.T) {
	c := newCell(t)
	c.robot.SetIKError(errors.New("singular configuration"))

	e, err := NewHome(c.deps, c.bus)
	require.NoError(t, err)

	require.ErrorIs(t, run(t, e), ErrKinematics)
	assert.True(t, c.hub.IsSignaled(alarm.KeyKinematics))
	assert.True(t, c.state.BlockingAlarm())
	assert.Zero(t, c.robot.Calls("MoveLinear"))
}

func TestMachineRejectsBadAxis(t *testing.T) {
	c := newCell(t)
	c.deps.Geometry.SafeZoneAxis = "w"
	_, err := NewHome(c.deps, c.bus)
	assert.Error(t, err)
}
