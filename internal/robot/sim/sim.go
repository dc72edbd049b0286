// Package sim provides a simulated six-axis controller implementing robot.MotionAPI and
// robot.Prober. The daemon runs against it with driver "sim"; tests use it for fault
// injection.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"robotcell/internal/logging"
	"robotcell/pkg/types"
)

var (
	ErrChannelClosed = errors.New("control channel closed")
	ErrUnreachable   = errors.New("controller unreachable")
	ErrIndex         = errors.New("digital I/O index out of range")
)

const ioCount = 16

// Options 仿真参数
type Options struct {
	// MoveTime is how long every motion takes; zero moves instantly.
	MoveTime time.Duration
	// FeedbackDelay is the delay between a linked output rising and its input following.
	FeedbackDelay time.Duration
	// Links maps digital outputs to the inputs that mirror them (gripper feedback).
	Links map[int]int
	Home  types.Pose
}

// Robot 仿真控制器
type Robot struct {
	mu   sync.Mutex
	opts Options

	open      bool
	reachable bool
	address   string

	from      types.Pose
	to        types.Pose
	moveStart time.Time
	moveEnd   time.Time

	enabled bool
	mode    types.OperatingMode
	speed   int
	tool    int
	frame   int

	do       [ioCount]bool
	di       [ioCount]bool
	diForced map[int]bool

	mainCode, subCode int
	nextResult        []int
	ikErr             error
	collisionResult   int
	collision         []float64

	calls  map[string]int
	logger *logging.Logger
}

// New 创建仿真控制器, 初始可达且通道关闭
func New(opts Options) *Robot {
	return &Robot{
		opts:      opts,
		reachable: true,
		from:      opts.Home,
		to:        opts.Home,
		mode:      types.ModeAuto,
		speed:     100,
		diForced:  make(map[int]bool),
		calls:     make(map[string]int),
		logger:    logging.GetLogger("sim_robot"),
	}
}

func (r *Robot) record(name string) {
	r.calls[name]++
}

// Calls returns how many times the named API method was invoked.
func (r *Robot) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

// SetReachable toggles liveness: an unreachable controller fails probes, reopen attempts and
// every command.
func (r *Robot) SetReachable(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reachable = v
}

// FailNext makes the next motion commands return the given result codes, in order.
func (r *Robot) FailNext(codes ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextResult = append(r.nextResult, codes...)
}

// SetIKError makes InverseKinematics fail with err; nil restores it.
func (r *Robot) SetIKError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ikErr = err
}

// SetCollisionResult sets the result code returned by SetCollisionProfile.
func (r *Robot) SetCollisionResult(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collisionResult = code
}

// SetErrorCode injects a controller fault.
func (r *Robot) SetErrorCode(main, sub int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mainCode, r.subCode = main, sub
}

// SetDigitalInput forces an input, overriding any output link.
func (r *Robot) SetDigitalInput(index int, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diForced[index] = v
}

// Teleport places the TCP at p with no motion in progress.
func (r *Robot) Teleport(p types.Pose) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.from, r.to = p, p
	r.moveStart, r.moveEnd = time.Time{}, time.Time{}
}

// CollisionLevels returns the levels last applied.
func (r *Robot) CollisionLevels() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.collision...)
}

func (r *Robot) ready() error {
	if !r.reachable {
		return ErrUnreachable
	}
	if !r.open {
		return ErrChannelClosed
	}
	return nil
}

// Probe 活性探测
func (r *Robot) Probe(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("Probe")
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.reachable {
		return ErrUnreachable
	}
	return nil
}

func (r *Robot) OpenChannel(ctx context.Context, address string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("OpenChannel")
	if !r.reachable {
		return -1, fmt.Errorf("open %s: %w", address, ErrUnreachable)
	}
	r.open = true
	r.address = address
	r.logger.Info("Simulated channel opened", "address", address)
	return 0, nil
}

func (r *Robot) CloseChannel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("CloseChannel")
	r.open = false
	return nil
}

func (r *Robot) move(ctx context.Context, name string, cmd types.MoveCommand) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(name)
	if err := r.ready(); err != nil {
		return -1, err
	}
	if len(r.nextResult) > 0 {
		code := r.nextResult[0]
		r.nextResult = r.nextResult[1:]
		if code != 0 {
			return code, nil
		}
	}

	now := time.Now()
	r.from = r.poseAt(now)
	r.to = cmd.Pose
	r.moveStart = now
	r.moveEnd = now.Add(r.opts.MoveTime)
	return 0, nil
}

func (r *Robot) MoveLinear(ctx context.Context, cmd types.MoveCommand) (int, error) {
	return r.move(ctx, "MoveLinear", cmd)
}

func (r *Robot) MoveJoint(ctx context.Context, cmd types.MoveCommand) (int, error) {
	return r.move(ctx, "MoveJoint", cmd)
}

func (r *Robot) InverseKinematics(ctx context.Context, pose types.Pose, config int) (types.JointConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("InverseKinematics")
	if err := r.ready(); err != nil {
		return types.JointConfiguration{}, err
	}
	if r.ikErr != nil {
		return types.JointConfiguration{}, r.ikErr
	}
	return types.JointConfiguration(pose.Components()), nil
}

func (r *Robot) StopMotion(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("StopMotion")
	if err := r.ready(); err != nil {
		return err
	}
	p := r.poseAt(time.Now())
	r.from, r.to = p, p
	r.moveStart, r.moveEnd = time.Time{}, time.Time{}
	return nil
}

func (r *Robot) SetSpeed(ctx context.Context, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("SetSpeed")
	if err := r.ready(); err != nil {
		return err
	}
	r.speed = percent
	return nil
}

// poseAt interpolates linearly between the last two targets.
func (r *Robot) poseAt(now time.Time) types.Pose {
	if r.moveEnd.IsZero() || !now.Before(r.moveEnd) {
		return r.to
	}
	total := r.moveEnd.Sub(r.moveStart).Seconds()
	f := now.Sub(r.moveStart).Seconds() / total
	a, b := r.from.Components(), r.to.Components()
	var c [6]float64
	for i := range c {
		c[i] = a[i] + (b[i]-a[i])*f
	}
	return types.Pose{X: c[0], Y: c[1], Z: c[2], RX: c[3], RY: c[4], RZ: c[5], ExternalAxes: r.to.ExternalAxes}
}

func (r *Robot) GetTcpPose(ctx context.Context) (types.Pose, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return types.Pose{}, err
	}
	return r.poseAt(time.Now()), nil
}

func (r *Robot) GetRealTimeState(ctx context.Context) (types.RealTimeState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return types.RealTimeState{}, err
	}
	motion := types.MotionStopped
	if !r.moveEnd.IsZero() && time.Now().Before(r.moveEnd) {
		motion = types.MotionRunning
	}
	return types.RealTimeState{Mode: int(r.mode), MotionState: motion, Enabled: r.enabled}, nil
}

func (r *Robot) GetToolFrame(ctx context.Context) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return 0, 0, err
	}
	return r.tool, r.frame, nil
}

func (r *Robot) GetErrorCode(ctx context.Context) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return 0, 0, err
	}
	return r.mainCode, r.subCode, nil
}

func (r *Robot) GetDigitalInput(ctx context.Context, index int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return false, err
	}
	if index < 0 || index >= ioCount {
		return false, ErrIndex
	}
	if v, forced := r.diForced[index]; forced {
		return v, nil
	}
	return r.di[index], nil
}

func (r *Robot) GetDigitalOutput(ctx context.Context, index int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return false, err
	}
	if index < 0 || index >= ioCount {
		return false, ErrIndex
	}
	return r.do[index], nil
}

func (r *Robot) SetDigitalOutput(ctx context.Context, index int, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("SetDigitalOutput")
	if err := r.ready(); err != nil {
		return err
	}
	if index < 0 || index >= ioCount {
		return ErrIndex
	}
	r.do[index] = value

	if in, linked := r.opts.Links[index]; linked {
		if r.opts.FeedbackDelay <= 0 {
			r.di[in] = value
		} else {
			time.AfterFunc(r.opts.FeedbackDelay, func() {
				r.mu.Lock()
				r.di[in] = r.do[index]
				r.mu.Unlock()
			})
		}
	}
	return nil
}

func (r *Robot) SetCollisionProfile(ctx context.Context, mode int, levels [6]float64, config int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("SetCollisionProfile")
	if err := r.ready(); err != nil {
		return -1, err
	}
	if r.collisionResult != 0 {
		return r.collisionResult, nil
	}
	r.collision = levels[:]
	return 0, nil
}

func (r *Robot) Enable(ctx context.Context, enable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("Enable")
	if err := r.ready(); err != nil {
		return err
	}
	r.enabled = enable
	return nil
}

func (r *Robot) SetOperatingMode(ctx context.Context, mode types.OperatingMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("SetOperatingMode")
	if err := r.ready(); err != nil {
		return err
	}
	r.mode = mode
	return nil
}

func (r *Robot) ResetErrors(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ResetErrors")
	if err := r.ready(); err != nil {
		return err
	}
	r.mainCode, r.subCode = 0, 0
	return nil
}
