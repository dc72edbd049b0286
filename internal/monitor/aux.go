package monitor

import (
	"context"
	"sync"
	"time"

	"robotcell/internal/events"
	"robotcell/internal/logging"
	"robotcell/internal/plantio"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

// AuxRobot is the part of the motion API the auxiliary loop drives.
type AuxRobot interface {
	Enable(ctx context.Context, enable bool) error
	SetOperatingMode(ctx context.Context, mode types.OperatingMode) error
	StopMotion(ctx context.Context) error
	GetToolFrame(ctx context.Context) (tool, frame int, err error)
	GetDigitalInput(ctx context.Context, index int) (bool, error)
}

// AuxConfig 辅助循环参数
type AuxConfig struct {
	// GripperInput is the digital input reporting the gripper closed.
	GripperInput int
	// ModeDebounce is how long a requested mode must hold before it is applied. Zero applies
	// it on the first reading.
	ModeDebounce time.Duration
}

// Aux follows the PLC enable and mode requests and tracks tool, frame and gripper state.
type Aux struct {
	robot AuxRobot
	plant plantio.PlantIO
	st    *state.RobotState
	bus   events.Publisher
	cfg   AuxConfig
	now   func() time.Time

	enabled bool

	// mode stability window, reset from other loops
	mu        sync.Mutex
	candidate types.OperatingMode
	since     time.Time
	applied   types.OperatingMode

	gripperKnown bool
	gripper      bool

	logger *logging.Logger
}

// NewAux 创建辅助循环
func NewAux(cfg AuxConfig, r AuxRobot, plant plantio.PlantIO, st *state.RobotState, bus events.Publisher) *Aux {
	return &Aux{
		robot:     r,
		plant:     plant,
		st:        st,
		bus:       bus,
		cfg:       cfg,
		now:       time.Now,
		candidate: types.ModeUnknown,
		applied:   types.ModeUnknown,
		logger:    logging.GetLogger("monitor.aux"),
	}
}

func (a *Aux) Name() string { return "monitor.aux" }

// ResetDebounce forgets the mode window and the last applied mode so the next reading is
// applied again. The watchdog calls it after a reconnection and the low-priority loop after
// the PLC link returns.
func (a *Aux) ResetDebounce() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candidate = types.ModeUnknown
	a.since = time.Time{}
	a.applied = types.ModeUnknown
	a.logger.Debug("Mode debounce reset")
}

func (a *Aux) Tick(ctx context.Context) error {
	if !a.st.Connected() {
		return ctx.Err()
	}
	if a.plant.Connected() {
		a.followEnable(ctx)
		a.followMode(ctx)
	}
	a.trackToolFrame(ctx)
	a.trackGripper(ctx)
	return ctx.Err()
}

// followEnable acts on edges of the PLC enable request: a rising edge enables the drives, a
// falling edge stops motion and disables them.
func (a *Aux) followEnable(ctx context.Context) {
	on, err := plantio.ReadBool(ctx, a.plant, plantio.TagEnable)
	if err != nil || on == a.enabled {
		return
	}

	if !on {
		if err := a.robot.StopMotion(ctx); err != nil {
			a.logger.Warn("Stop before disable failed", "error", err)
		}
	}
	if err := a.robot.Enable(ctx, on); err != nil {
		a.logger.Warn("Enable request failed", "enable", on, "error", err)
		return
	}
	a.enabled = on
	a.logger.Info("Robot enable changed", "enabled", on)
}

// RequestedMode maps the PLC Operating_Mode value onto a robot mode.
func RequestedMode(v int) types.OperatingMode {
	switch v {
	case plantio.PLCModeAuto:
		return types.ModeAuto
	case plantio.PLCModeManual:
		return types.ModeManual
	default:
		return types.ModeUnknown
	}
}

func (a *Aux) followMode(ctx context.Context) {
	v, err := a.plant.ReadTag(ctx, plantio.TagOperatingMode)
	if err != nil {
		return
	}
	want := RequestedMode(v)

	a.mu.Lock()
	now := a.now()
	if want != a.candidate {
		a.candidate, a.since = want, now
	}
	stable := now.Sub(a.since) >= a.cfg.ModeDebounce
	apply := stable && want != a.applied
	a.mu.Unlock()
	if !apply {
		return
	}

	if want != types.ModeUnknown {
		if err := a.robot.SetOperatingMode(ctx, want); err != nil {
			a.logger.Warn("Mode change failed", "mode", want, "error", err)
			return
		}
	}

	a.mu.Lock()
	a.applied = want
	a.mu.Unlock()
	a.st.SetMode(want)
	a.logger.Info("Robot mode changed", "mode", want)
	if a.bus != nil {
		a.bus.Publish(events.NewRobotModeChanged(a.Name(), want))
	}
}

func (a *Aux) trackToolFrame(ctx context.Context) {
	tool, frame, err := a.robot.GetToolFrame(ctx)
	if err != nil {
		a.logger.Debug("Tool/frame read failed", "error", err)
		return
	}
	a.st.SetToolFrame(tool, frame)
}

func (a *Aux) trackGripper(ctx context.Context) {
	closed, err := a.robot.GetDigitalInput(ctx, a.cfg.GripperInput)
	if err != nil {
		a.logger.Debug("Gripper input read failed", "error", err)
		return
	}
	if a.gripperKnown && closed == a.gripper {
		return
	}
	a.gripperKnown, a.gripper = true, closed
	a.st.SetGripperClosed(closed)
	if a.bus != nil {
		a.bus.Publish(events.NewGripperChanged(a.Name(), closed))
	}
}
