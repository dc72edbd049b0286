package monitor

import (
	"context"
	"strconv"

	"robotcell/internal/alarm"
	"robotcell/internal/logging"
	"robotcell/internal/plantio"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

// Fallback description of a controller error missing from the catalog.
const (
	GenericAlarmID          = "9999"
	GenericAlarmDescription = "Generic / not found"
)

// LowRobot is the part of the motion API the low-priority loop uses.
type LowRobot interface {
	GetErrorCode(ctx context.Context) (main, sub int, err error)
	ResetErrors(ctx context.Context) error
	StopMotion(ctx context.Context) error
}

// AlarmCatalog describes controller error codes.
type AlarmCatalog interface {
	DescribeAlarm(main, sub int) (types.AlarmCode, bool)
}

// Low supervises the PLC link and polls the controller error code.
type Low struct {
	robot   LowRobot
	plant   plantio.PlantIO
	st      *state.RobotState
	alarms  alarm.Raiser
	catalog AlarmCatalog

	plcKnown bool
	plcUp    bool
	restore  []func(ctx context.Context)

	logger *logging.Logger
}

// NewLow 创建低优先级循环
func NewLow(r LowRobot, plant plantio.PlantIO, st *state.RobotState, alarms alarm.Raiser, catalog AlarmCatalog) *Low {
	return &Low{
		robot:   r,
		plant:   plant,
		st:      st,
		alarms:  alarms,
		catalog: catalog,
		logger:  logging.GetLogger("monitor.low"),
	}
}

func (l *Low) Name() string { return "monitor.low" }

// OnPLCRestored registers fn to run when the PLC link comes back, after the controller has
// been reset and stopped. Register before the loop starts.
func (l *Low) OnPLCRestored(fn func(ctx context.Context)) {
	l.restore = append(l.restore, fn)
}

func (l *Low) Tick(ctx context.Context) error {
	l.supervisePLC(ctx)
	l.pollErrorCode(ctx)
	return ctx.Err()
}

func (l *Low) supervisePLC(ctx context.Context) {
	up := l.plant.Connected()
	l.st.SetPLCConnected(up)
	known, was := l.plcKnown, l.plcUp
	l.plcKnown, l.plcUp = true, up

	switch {
	case !up && (!known || was):
		l.alarms.Raise(alarm.KeyPLCDisconnected, alarm.Details{
			ID:          "2",
			Description: "PLC disconnected",
			Device:      alarm.DevicePLC,
			Severity:    alarm.NonBlocking,
		})
		l.logger.Warn("PLC link down")
	case up && known && !was:
		l.alarms.Resolve(alarm.KeyPLCDisconnected)
		l.logger.Info("PLC link restored")
		l.restored(ctx)
	}
}

// restored brings the cell back to a known state after a PLC outage: controller faults reset,
// motion stopped, cycle steps rewound.
func (l *Low) restored(ctx context.Context) {
	if l.st.Connected() {
		if err := l.robot.ResetErrors(ctx); err != nil {
			l.logger.Warn("Reset after PLC restore failed", "error", err)
		}
		if err := l.robot.StopMotion(ctx); err != nil {
			l.logger.Warn("Stop after PLC restore failed", "error", err)
		}
	}
	l.st.ResetSteps()
	for _, fn := range l.restore {
		fn(ctx)
	}
}

func (l *Low) pollErrorCode(ctx context.Context) {
	if !l.st.Connected() {
		return
	}
	main, sub, err := l.robot.GetErrorCode(ctx)
	if err != nil {
		l.logger.Debug("Error code read failed", "error", err)
		return
	}
	if main == 0 {
		return
	}

	code, ok := l.catalog.DescribeAlarm(main, sub)
	if !ok {
		code = types.AlarmCode{Main: main, Sub: sub, ID: GenericAlarmID, Description: GenericAlarmDescription}
	}
	if code.Device == "" {
		code.Device = alarm.DeviceRobot
	}
	if code.ID == "" {
		code.ID = strconv.Itoa(main*1000 + sub)
	}
	if _, created := l.alarms.Raise(alarm.RobotErrorKey(main, sub), alarm.Details{
		ID:          code.ID,
		Description: code.Description,
		Device:      code.Device,
		Severity:    alarm.Blocking,
	}); created {
		l.logger.Error("Controller error", "main", main, "sub", sub, "description", code.Description)
	}
}
