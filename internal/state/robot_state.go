// Package state holds RobotState, the shared context object handed to every loop and to the
// cycle engine. One coarse lock guards all fields; each field has exactly one writing loop.
package state

import (
	"sync"

	"robotcell/pkg/types"
)

// Snapshot is a consistent copy of RobotState.
type Snapshot struct {
	TCP            types.Pose          `json:"tcp"`
	PreviousTCP    types.Pose          `json:"previous_tcp"`
	Target         types.Pose          `json:"target"`
	Connected      bool                `json:"connected"`
	PLCConnected   bool                `json:"plc_connected"`
	Enabled        bool                `json:"enabled"`
	Mode           types.OperatingMode `json:"mode"`
	MotionState    int                 `json:"motion_state"`
	Tool           int                 `json:"tool"`
	Frame          int                 `json:"frame"`
	Collision      int                 `json:"collision"`
	InPosition     bool                `json:"in_position"`
	InSafeZone     bool                `json:"in_safe_zone"`
	InHome         bool                `json:"in_home"`
	Moving         bool                `json:"moving"`
	GripperClosed  bool                `json:"gripper_closed"`
	BlockingAlarm  bool                `json:"blocking_alarm"`
	StopRequested  bool                `json:"stop_requested"`
	PauseRequested bool                `json:"pause_requested"`
	Steps          map[string]int      `json:"steps"`
	Running        map[string]bool     `json:"running"`
}

// RobotState 机器人共享状态
type RobotState struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New 创建共享状态, 模式未知, 碰撞等级未设置
func New() *RobotState {
	return &RobotState{snap: Snapshot{
		Mode:      types.ModeUnknown,
		Collision: -1,
		Steps:     make(map[string]int),
		Running:   make(map[string]bool),
	}}
}

// Snapshot returns a copy safe to hold outside the lock.
func (s *RobotState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Steps = make(map[string]int, len(s.snap.Steps))
	for k, v := range s.snap.Steps {
		out.Steps[k] = v
	}
	out.Running = make(map[string]bool, len(s.snap.Running))
	for k, v := range s.snap.Running {
		out.Running[k] = v
	}
	return out
}

// UpdatePose stores a fresh TCP reading; the previous reading moves to PreviousTCP in the
// same critical section so readers never see a half-updated pair.
func (s *RobotState) UpdatePose(p types.Pose) (previous types.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.snap.TCP
	s.snap.PreviousTCP = previous
	s.snap.TCP = p
	return previous
}

func (s *RobotState) Pose() types.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.TCP
}

// Poses returns the current and previous readings together.
func (s *RobotState) Poses() (current, previous types.Pose) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.TCP, s.snap.PreviousTCP
}

// SetTarget records the end point of the motion just issued and drops the in-position flag
// until the high-priority loop confirms the new target.
func (s *RobotState) SetTarget(p types.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Target = p
	s.snap.InPosition = false
}

// SetInPositionFor stores an in-position result computed against target. A result for a
// target that has since been replaced is dropped.
func (s *RobotState) SetInPositionFor(target types.Pose, v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Target != target {
		return false
	}
	s.snap.InPosition = v
	return true
}

func (s *RobotState) Target() types.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Target
}

func (s *RobotState) SetInPosition(v bool)    { s.setBool(&s.snap.InPosition, v) }
func (s *RobotState) SetInSafeZone(v bool)    { s.setBool(&s.snap.InSafeZone, v) }
func (s *RobotState) SetInHome(v bool)        { s.setBool(&s.snap.InHome, v) }
func (s *RobotState) SetMoving(v bool)        { s.setBool(&s.snap.Moving, v) }
func (s *RobotState) SetConnected(v bool)     { s.setBool(&s.snap.Connected, v) }
func (s *RobotState) SetPLCConnected(v bool)  { s.setBool(&s.snap.PLCConnected, v) }
func (s *RobotState) SetEnabled(v bool)       { s.setBool(&s.snap.Enabled, v) }
func (s *RobotState) SetGripperClosed(v bool) { s.setBool(&s.snap.GripperClosed, v) }
func (s *RobotState) SetBlockingAlarm(v bool) { s.setBool(&s.snap.BlockingAlarm, v) }
func (s *RobotState) SetStopRequested(v bool) { s.setBool(&s.snap.StopRequested, v) }
func (s *RobotState) SetPauseRequested(v bool) {
	s.setBool(&s.snap.PauseRequested, v)
}

func (s *RobotState) InPosition() bool     { return s.getBool(&s.snap.InPosition) }
func (s *RobotState) InSafeZone() bool     { return s.getBool(&s.snap.InSafeZone) }
func (s *RobotState) InHome() bool         { return s.getBool(&s.snap.InHome) }
func (s *RobotState) Moving() bool         { return s.getBool(&s.snap.Moving) }
func (s *RobotState) Connected() bool      { return s.getBool(&s.snap.Connected) }
func (s *RobotState) PLCConnected() bool   { return s.getBool(&s.snap.PLCConnected) }
func (s *RobotState) Enabled() bool        { return s.getBool(&s.snap.Enabled) }
func (s *RobotState) GripperClosed() bool  { return s.getBool(&s.snap.GripperClosed) }
func (s *RobotState) BlockingAlarm() bool  { return s.getBool(&s.snap.BlockingAlarm) }
func (s *RobotState) StopRequested() bool  { return s.getBool(&s.snap.StopRequested) }
func (s *RobotState) PauseRequested() bool { return s.getBool(&s.snap.PauseRequested) }

func (s *RobotState) setBool(field *bool, v bool) {
	s.mu.Lock()
	*field = v
	s.mu.Unlock()
}

func (s *RobotState) getBool(field *bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *field
}

// SetStatus stores the controller's real-time state.
func (s *RobotState) SetStatus(rt types.RealTimeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.MotionState = rt.MotionState
	s.snap.Enabled = rt.Enabled
}

// Stopped reports whether the controller last reported no motion in progress.
func (s *RobotState) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.MotionState == types.MotionStopped
}

func (s *RobotState) SetMode(m types.OperatingMode) {
	s.mu.Lock()
	s.snap.Mode = m
	s.mu.Unlock()
}

func (s *RobotState) Mode() types.OperatingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Mode
}

func (s *RobotState) SetToolFrame(tool, frame int) {
	s.mu.Lock()
	s.snap.Tool, s.snap.Frame = tool, frame
	s.mu.Unlock()
}

func (s *RobotState) ToolFrame() (tool, frame int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Tool, s.snap.Frame
}

func (s *RobotState) SetCollision(id int) {
	s.mu.Lock()
	s.snap.Collision = id
	s.mu.Unlock()
}

func (s *RobotState) Collision() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Collision
}

// SetStep publishes the current step of a cycle.
func (s *RobotState) SetStep(cycle string, step int) {
	s.mu.Lock()
	s.snap.Steps[cycle] = step
	s.mu.Unlock()
}

func (s *RobotState) Step(cycle string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Steps[cycle]
}

// ResetSteps zeroes every published step.
func (s *RobotState) ResetSteps() {
	s.mu.Lock()
	for k := range s.snap.Steps {
		s.snap.Steps[k] = 0
	}
	s.mu.Unlock()
}

// SetCycleRunning publishes the running flag of a cycle.
func (s *RobotState) SetCycleRunning(cycle string, running bool) {
	s.mu.Lock()
	s.snap.Running[cycle] = running
	s.mu.Unlock()
}

func (s *RobotState) CycleRunning(cycle string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Running[cycle]
}

// Ready reports whether motion may be commanded: channel up and no blocking alarm latched.
func (s *RobotState) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Connected && !s.snap.BlockingAlarm
}
