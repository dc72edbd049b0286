package cycle

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"robotcell/internal/alarm"
	"robotcell/internal/geometry"
	"robotcell/internal/logging"
	"robotcell/internal/metrics"
	"robotcell/internal/plantio"
	"robotcell/internal/robot"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

// Named poses the cycles depend on.
const (
	PoseHome     = "pHome"
	PoseSafeZone = "pSafeZone"
	PosePick     = "pPick"
	PoseTransfer = "pTransfer"
	PosePlace    = "pPlace"
)

// PoseSource resolves taught points.
type PoseSource interface {
	GetNamedPose(name string) (types.Pose, error)
}

// DefaultsSource provides the robot's default motion parameters.
type DefaultsSource interface {
	GetRobotDefaults() (types.RobotDefaults, error)
}

// MotionCatalog describes motion result codes.
type MotionCatalog interface {
	DescribeMotion(code int) (types.MotionCode, bool)
}

// Robot is the part of the motion API the cycles drive.
type Robot interface {
	robot.Mover
	robot.IO
}

// Deps 循环依赖
type Deps struct {
	Robot    Robot
	State    *state.RobotState
	Alarms   alarm.Raiser
	Poses    PoseSource
	Defaults DefaultsSource
	Motion   MotionCatalog
	Plant    plantio.PlantIO

	Geometry types.GeometryConfig
	Cycle    types.CycleConfig
	Home     types.HomeConfig
	Timing   types.TimingConfig
}

// Machine carries what every cycle step shares: motion issuing with result-code handling,
// pose resolution and I/O waits.
type Machine struct {
	deps     Deps
	safeAxis geometry.Axis
	joints   map[types.Pose]types.JointConfiguration
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewMachine 创建循环公共执行体
func NewMachine(deps Deps) (*Machine, error) {
	axis, err := geometry.ParseAxis(deps.Geometry.SafeZoneAxis)
	if err != nil {
		return nil, err
	}
	return &Machine{
		deps:     deps,
		safeAxis: axis,
		joints:   make(map[types.Pose]types.JointConfiguration),
		logger:   logging.GetLogger("cycle"),
		metrics:  metrics.Default(),
	}, nil
}

// move is one motion command of a step.
type move struct {
	name   string
	pose   types.Pose
	joint  bool
	vel    float64
	acc    float64
	blend  float64
	offset types.Pose
}

func (m *Machine) defaults() types.RobotDefaults {
	d, err := m.deps.Defaults.GetRobotDefaults()
	if err != nil {
		m.logger.Warn("Robot defaults unavailable", "error", err)
		return types.RobotDefaults{Speed: 100, Velocity: 100, Acceleration: 100, Blend: -1}
	}
	return d
}

// pose resolves a named pose. A missing or untaught pose is configuration-fatal.
func (m *Machine) pose(name string) (types.Pose, error) {
	p, err := m.deps.Poses.GetNamedPose(name)
	if err == nil && !p.Valid() {
		err = fmt.Errorf("pose %s not taught: %s", name, p)
	}
	if err != nil {
		m.deps.Alarms.Raise(alarm.KeyConfiguration, alarm.Details{
			ID:          "10",
			Description: "Invalid point " + name,
			Device:      alarm.DeviceCell,
			Severity:    alarm.Blocking,
		})
		return types.Pose{}, fmt.Errorf("%w: %s: %v", ErrInvalidPose, name, err)
	}
	return p, nil
}

// solve computes and caches the joint configuration of a point. Failure is command-fatal.
func (m *Machine) solve(ctx context.Context, name string, p types.Pose) (types.JointConfiguration, error) {
	if j, ok := m.joints[p]; ok {
		return j, nil
	}
	j, err := m.deps.Robot.InverseKinematics(context.WithoutCancel(ctx), p, m.deps.Cycle.IKConfig)
	if err != nil {
		m.deps.Alarms.Raise(alarm.KeyKinematics, alarm.Details{
			ID:          "11",
			Description: "Inverse kinematics failed for " + name,
			Device:      alarm.DeviceRobot,
			Severity:    alarm.Blocking,
		})
		return types.JointConfiguration{}, fmt.Errorf("%w: %s: %v", ErrKinematics, name, err)
	}
	m.joints[p] = j
	return j, nil
}

// run issues moves in order. A retryable result code makes the step run again; a fatal one
// halts the cycle.
func (m *Machine) run(ctx context.Context, moves ...move) (Event, error) {
	for _, mv := range moves {
		ev, err := m.issue(ctx, mv)
		if err != nil || ev != Advance {
			return ev, err
		}
	}
	return Advance, nil
}

func (m *Machine) issue(ctx context.Context, mv move) (Event, error) {
	joints, err := m.solve(ctx, mv.name, mv.pose)
	if err != nil {
		return Wait, err
	}

	d := m.defaults()
	cmd := types.MoveCommand{
		Joints:       joints,
		Pose:         mv.pose,
		Tool:         d.Tool,
		Frame:        d.Frame,
		Velocity:     mv.vel,
		Acceleration: mv.acc,
		Override:     100,
		Blend:        mv.blend,
		ExternalAxes: mv.pose.ExternalAxes,
		Offset:       mv.offset,
	}
	if cmd.Velocity == 0 {
		cmd.Velocity = d.Velocity
	}
	if cmd.Acceleration == 0 {
		cmd.Acceleration = d.Acceleration
	}
	if mv.offset != (types.Pose{}) {
		cmd.OffsetFlag = 1
	}

	// a motion command always runs to its result; cancellation is honoured between steps
	mctx := context.WithoutCancel(ctx)
	var code int
	if mv.joint {
		code, err = m.deps.Robot.MoveJoint(mctx, cmd)
	} else {
		code, err = m.deps.Robot.MoveLinear(mctx, cmd)
	}
	if err != nil {
		return Wait, fmt.Errorf("%w: %s: %v", ErrMotion, mv.name, err)
	}
	if code == 0 {
		m.logger.Debug("Motion issued", "point", mv.name, "pose", mv.pose, "joint", mv.joint)
		return Advance, nil
	}
	return m.handleResult(ctx, mv.name, code)
}

func (m *Machine) handleResult(ctx context.Context, point string, code int) (Event, error) {
	m.metrics.MotionErrorsTotal.WithLabelValues(strconv.Itoa(code)).Inc()

	desc := types.MotionCode{Code: code, Description: "Unknown motion result"}
	if d, ok := m.deps.Motion.DescribeMotion(code); ok {
		desc = d
	}
	fatal := desc.Fatal || slices.Contains(m.deps.Cycle.FatalCodes, code)
	retry := !fatal && slices.Contains(m.deps.Cycle.RetryCodes, code)

	severity := alarm.NonBlocking
	if fatal {
		severity = alarm.Blocking
	}
	m.deps.Alarms.Raise(alarm.MotionKey(code), alarm.Details{
		ID:          strconv.Itoa(code),
		Description: desc.Description,
		Device:      alarm.DeviceRobot,
		Severity:    severity,
	})
	m.logger.Warn("Motion result", "point", point, "code", code, "description", desc.Description,
		"processing", desc.Processing, "fatal", fatal, "retry", retry)

	switch {
	case fatal:
		return Wait, fmt.Errorf("%w: %s: code %d: %s", ErrMotion, point, code, desc.Description)
	case retry:
		if err := sleep(ctx, m.deps.Timing.MotionRetryDelay); err != nil {
			return Wait, err
		}
		return Wait, nil
	default:
		return Advance, nil
	}
}

// target records the end point of the motion just issued.
func (m *Machine) target(p types.Pose) {
	m.deps.State.SetTarget(p)
}

// arrived reports whether the robot reached the current target and stopped.
func (m *Machine) arrived() bool {
	return m.deps.State.InPosition() && m.deps.State.Stopped()
}

// setOutput drives a gripper output.
func (m *Machine) setOutput(ctx context.Context, index int, v bool) error {
	if err := m.deps.Robot.SetDigitalOutput(context.WithoutCancel(ctx), index, v); err != nil {
		return fmt.Errorf("%w: DO%d: %v", ErrMotion, index, err)
	}
	return nil
}

// feedback polls input index once. When it is high it waits the settle delay and releases
// the output that requested it.
func (m *Machine) feedback(ctx context.Context, input, output int) (Event, error) {
	on, err := m.deps.Robot.GetDigitalInput(ctx, input)
	if err != nil {
		return Wait, fmt.Errorf("%w: DI%d: %v", ErrMotion, input, err)
	}
	if !on {
		return Wait, nil
	}
	if err := sleep(ctx, m.deps.Timing.FeedbackSettle); err != nil {
		return Wait, err
	}
	if err := m.setOutput(ctx, output, false); err != nil {
		return Wait, err
	}
	return Advance, nil
}

func (m *Machine) setSpeed(ctx context.Context, percent int) error {
	if err := m.deps.Robot.SetSpeed(context.WithoutCancel(ctx), percent); err != nil {
		return fmt.Errorf("%w: speed %d: %v", ErrMotion, percent, err)
	}
	return nil
}

// pollInterval is the engine poll for a cycle kind.
func (m *Machine) pollInterval(home bool) time.Duration {
	if home {
		return m.deps.Timing.HomePoll
	}
	return m.deps.Timing.CyclePoll
}
