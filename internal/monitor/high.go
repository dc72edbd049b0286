// Package monitor holds the periodic loops that keep RobotState current: the high-priority
// pose loop, the auxiliary I/O loop, the low-priority fault loop and the two PLC loops. Each is
// a core.Loop; a Tick never blocks past one command round trip and leaves reconnection to the
// watchdog.
package monitor

import (
	"context"
	"time"

	"robotcell/internal/events"
	"robotcell/internal/geometry"
	"robotcell/internal/logging"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

// Named poses the monitors classify against.
const (
	PoseHome     = "pHome"
	PoseSafeZone = "pSafeZone"
)

// PoseSource resolves taught points.
type PoseSource interface {
	GetNamedPose(name string) (types.Pose, error)
}

// PoseReader is what the high-priority loop polls.
type PoseReader interface {
	GetTcpPose(ctx context.Context) (types.Pose, error)
	GetRealTimeState(ctx context.Context) (types.RealTimeState, error)
}

// HighConfig 高优先级循环参数
type HighConfig struct {
	InPositionDelta float64
	SafeZoneDelta   float64
	SafeZoneAxis    geometry.Axis
	// MovingDebounce is how long the rounded pose must keep changing before the robot is
	// reported moving. Stopping is reported on the first unchanged reading.
	MovingDebounce time.Duration
}

// High reads the TCP pose and derives movement, safe-zone, in-position and in-home flags from
// it, in that order, then reads the controller status.
type High struct {
	robot PoseReader
	poses PoseSource
	st    *state.RobotState
	bus   events.Publisher

	cfg      HighConfig
	position *geometry.Classifier
	zone     *geometry.Classifier
	now      func() time.Time

	changingSince time.Time
	moving        bool
	homeKnown     bool
	inHome        bool

	logger *logging.Logger
}

// NewHigh 创建高优先级循环
func NewHigh(cfg HighConfig, r PoseReader, poses PoseSource, st *state.RobotState, bus events.Publisher) *High {
	return &High{
		robot:    r,
		poses:    poses,
		st:       st,
		bus:      bus,
		cfg:      cfg,
		position: geometry.NewClassifier(cfg.InPositionDelta),
		zone:     geometry.NewClassifier(cfg.SafeZoneDelta, geometry.WithAxis(cfg.SafeZoneAxis)),
		now:      time.Now,
		logger:   logging.GetLogger("monitor.high"),
	}
}

func (h *High) Name() string { return "monitor.high" }

func (h *High) Tick(ctx context.Context) error {
	if !h.st.Connected() {
		return ctx.Err()
	}

	// the target is read before the pose so a result computed against a replaced target is
	// dropped by SetInPositionFor
	target := h.st.Target()
	p, err := h.robot.GetTcpPose(ctx)
	if err != nil {
		h.logger.Debug("TCP pose read failed", "error", err)
		return ctx.Err()
	}
	prev := h.st.UpdatePose(p)

	h.classifyMovement(p, prev)
	h.classifySafeZone(p)
	h.st.SetInPositionFor(target, h.position.InPosition(target, p))
	h.classifyHome(p)

	rt, err := h.robot.GetRealTimeState(ctx)
	if err != nil {
		h.logger.Debug("Status read failed", "error", err)
		return ctx.Err()
	}
	h.st.SetStatus(rt)
	return ctx.Err()
}

func (h *High) classifyMovement(p, prev types.Pose) {
	now := h.now()
	if p.Rounded() != prev.Rounded() {
		if h.changingSince.IsZero() {
			h.changingSince = now
		}
		if !h.moving && now.Sub(h.changingSince) >= h.cfg.MovingDebounce {
			h.setMoving(true)
		}
		return
	}
	h.changingSince = time.Time{}
	if h.moving {
		h.setMoving(false)
	}
}

func (h *High) setMoving(v bool) {
	h.moving = v
	h.st.SetMoving(v)
	h.publish(events.NewRobotIsMoving(h.Name(), v))
}

func (h *High) classifySafeZone(p types.Pose) {
	boundary, err := h.poses.GetNamedPose(PoseSafeZone)
	if err != nil || !boundary.Valid() {
		h.st.SetInSafeZone(false)
		return
	}
	h.st.SetInSafeZone(h.zone.AxisLessThan(boundary, p))
}

func (h *High) classifyHome(p types.Pose) {
	home, err := h.poses.GetNamedPose(PoseHome)
	in := err == nil && home.Valid() && h.position.InPosition(home, p)
	if h.homeKnown && in == h.inHome {
		return
	}
	h.homeKnown, h.inHome = true, in
	h.st.SetInHome(in)
	h.publish(events.NewInHomePosition(h.Name(), in))
}

func (h *High) publish(e events.Event) {
	if h.bus != nil {
		h.bus.Publish(e)
	}
}
