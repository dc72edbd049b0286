// Package robot declares the motion API of the six-axis controller as consumed by the
// supervisor. Trajectory planning and kinematics live behind it.
package robot

import (
	"context"

	"robotcell/pkg/types"
)

// Mover issues motion commands. Result codes are the controller's; a non-nil error means the
// command never reached it.
type Mover interface {
	MoveLinear(ctx context.Context, cmd types.MoveCommand) (int, error)
	MoveJoint(ctx context.Context, cmd types.MoveCommand) (int, error)
	InverseKinematics(ctx context.Context, pose types.Pose, config int) (types.JointConfiguration, error)
	StopMotion(ctx context.Context) error
	SetSpeed(ctx context.Context, percent int) error
}

// IO is the controller's digital I/O.
type IO interface {
	GetDigitalInput(ctx context.Context, index int) (bool, error)
	GetDigitalOutput(ctx context.Context, index int) (bool, error)
	SetDigitalOutput(ctx context.Context, index int, value bool) error
}

// StatusReader exposes what the monitor loops poll.
type StatusReader interface {
	GetTcpPose(ctx context.Context) (types.Pose, error)
	GetRealTimeState(ctx context.Context) (types.RealTimeState, error)
	GetToolFrame(ctx context.Context) (tool, frame int, err error)
	GetErrorCode(ctx context.Context) (main, sub int, err error)
}

// CollisionApplier applies a collision sensitivity profile.
type CollisionApplier interface {
	SetCollisionProfile(ctx context.Context, mode int, levels [6]float64, config int) (int, error)
}

// Controller covers enable, mode and fault reset.
type Controller interface {
	Enable(ctx context.Context, enable bool) error
	SetOperatingMode(ctx context.Context, mode types.OperatingMode) error
	ResetErrors(ctx context.Context) error
}

// Channel is the control channel. Only the watchdog opens and closes it.
type Channel interface {
	OpenChannel(ctx context.Context, address string) (int, error)
	CloseChannel() error
}

// MotionAPI 机器人运动接口
type MotionAPI interface {
	Mover
	IO
	StatusReader
	CollisionApplier
	Controller
	Channel
}

// Prober checks liveness over a path independent of the motion channel.
type Prober interface {
	Probe(ctx context.Context) error
}
