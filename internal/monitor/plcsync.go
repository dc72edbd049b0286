package monitor

import (
	"context"
	"math"

	"robotcell/internal/logging"
	"robotcell/internal/plantio"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

// Cycle names as published by the cycle engines.
const (
	CycleMain = "main"
	CycleHome = "home"
)

// AlarmView reports the signaled alarms.
type AlarmView interface {
	Active() []types.AlarmRecord
}

// Sync mirrors RobotState onto the PLC output tags.
type Sync struct {
	plant  plantio.PlantIO
	st     *state.RobotState
	alarms AlarmView
	logger *logging.Logger
}

// NewSync 创建PLC同步循环
func NewSync(plant plantio.PlantIO, st *state.RobotState, alarms AlarmView) *Sync {
	return &Sync{plant: plant, st: st, alarms: alarms, logger: logging.GetLogger("monitor.plcsync")}
}

func (s *Sync) Name() string { return "monitor.plcsync" }

// Tags returns the output tag values for a snapshot.
func Tags(snap state.Snapshot, alarmPresent bool) []TagValue {
	tcp := snap.TCP
	return []TagValue{
		{plantio.TagComActive, plantio.Bool(snap.Connected)},
		{plantio.TagStepMain, snap.Steps[CycleMain]},
		{plantio.TagStepHome, snap.Steps[CycleHome]},
		{plantio.TagCycleRunMain, plantio.Bool(snap.Running[CycleMain])},
		{plantio.TagCycleRunHome, plantio.Bool(snap.Running[CycleHome])},
		{plantio.TagTool, snap.Tool},
		{plantio.TagFrame, snap.Frame},
		{plantio.TagCollision, snap.Collision},
		{plantio.TagRobotEnable, plantio.Bool(snap.Enabled)},
		{plantio.TagRobotStatus, snap.MotionState},
		{plantio.TagRobotError, plantio.Bool(snap.BlockingAlarm)},
		{plantio.TagRobotMoving, plantio.Bool(snap.Moving)},
		{plantio.TagZoneHome, plantio.Bool(snap.InHome)},
		{plantio.TagZoneSafe, plantio.Bool(snap.InSafeZone)},
		{plantio.TagAlarmPresent, plantio.Bool(alarmPresent)},
		{plantio.TagGripperClosed, plantio.Bool(snap.GripperClosed)},
		{plantio.TagX, register(tcp.X)},
		{plantio.TagY, register(tcp.Y)},
		{plantio.TagZ, register(tcp.Z)},
		{plantio.TagRX, register(tcp.RX)},
		{plantio.TagRY, register(tcp.RY)},
		{plantio.TagRZ, register(tcp.RZ)},
	}
}

// TagValue is one tag write.
type TagValue struct {
	Name  string
	Value int
}

// register rounds a coordinate and clamps it to a signed 16-bit register.
func register(v float64) int {
	return int(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}

func (s *Sync) Tick(ctx context.Context) error {
	for _, tv := range Tags(s.st.Snapshot(), len(s.alarms.Active()) > 0) {
		if err := s.plant.WriteTag(ctx, tv.Name, tv.Value); err != nil {
			// the low-priority loop reports the link; retry on the next tick
			s.logger.Debug("PLC sync write failed", "tag", tv.Name, "error", err)
			break
		}
	}
	return ctx.Err()
}
