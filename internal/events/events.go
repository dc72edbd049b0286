// Package events is the in-process publish/subscribe channel of the supervisor. Producers
// (alarm hub, monitor loops, cycle engine, watchdog) publish typed events; consumers (IPC
// broadcast, NATS bridge, alarm journal, metrics) subscribe to the types they need.
package events

import (
	"time"

	"robotcell/pkg/types"
)

// Type 事件类型
type Type string

const (
	TypeAlarmRaised       Type = "alarm_raised"
	TypeAlarmResolved     Type = "alarm_resolved"
	TypeAlarmsCleared     Type = "alarms_cleared"
	TypeRobotModeChanged  Type = "robot_mode_changed"
	TypeRobotIsMoving     Type = "robot_is_moving"
	TypeInHomePosition    Type = "in_home_position"
	TypeGripperChanged    Type = "gripper_changed"
	TypeConnectionChanged Type = "connection_changed"
	TypeCycleStepChanged  Type = "cycle_step_changed"
)

// Event 事件接口
type Event interface {
	Type() Type
	Source() string
	Timestamp() time.Time
	// Data is the wire form used by the IPC server and the NATS bridge.
	Data() map[string]interface{}
}

// BaseEvent 基础事件结构，其他事件嵌入
type BaseEvent struct {
	eventType Type
	source    string
	timestamp time.Time
}

func NewBaseEvent(eventType Type, source string) BaseEvent {
	return BaseEvent{eventType: eventType, source: source, timestamp: time.Now()}
}

func (be BaseEvent) Type() Type           { return be.eventType }
func (be BaseEvent) Source() string       { return be.source }
func (be BaseEvent) Timestamp() time.Time { return be.timestamp }

// AlarmEvent 报警产生或解除
type AlarmEvent struct {
	BaseEvent
	Record types.AlarmRecord
}

func NewAlarmRaised(source string, rec types.AlarmRecord) *AlarmEvent {
	return &AlarmEvent{BaseEvent: NewBaseEvent(TypeAlarmRaised, source), Record: rec}
}

func NewAlarmResolved(source string, rec types.AlarmRecord) *AlarmEvent {
	return &AlarmEvent{BaseEvent: NewBaseEvent(TypeAlarmResolved, source), Record: rec}
}

func (e *AlarmEvent) Data() map[string]interface{} {
	return map[string]interface{}{
		"instance":    e.Record.Instance,
		"key":         e.Record.Key,
		"id":          e.Record.ID,
		"description": e.Record.Description,
		"device":      e.Record.Device,
		"state":       string(e.Record.State),
		"blocking":    e.Record.Blocking,
		"timestamp":   e.Record.Timestamp,
	}
}

// ClearedEvent 报警全部复位
type ClearedEvent struct {
	BaseEvent
	Count int
}

func NewAlarmsCleared(source string, count int) *ClearedEvent {
	return &ClearedEvent{BaseEvent: NewBaseEvent(TypeAlarmsCleared, source), Count: count}
}

func (e *ClearedEvent) Data() map[string]interface{} {
	return map[string]interface{}{"count": e.Count}
}

// ModeEvent 运行模式变化
type ModeEvent struct {
	BaseEvent
	Mode types.OperatingMode
}

func NewRobotModeChanged(source string, mode types.OperatingMode) *ModeEvent {
	return &ModeEvent{BaseEvent: NewBaseEvent(TypeRobotModeChanged, source), Mode: mode}
}

func (e *ModeEvent) Data() map[string]interface{} {
	return map[string]interface{}{"mode": int(e.Mode), "name": e.Mode.String()}
}

// FlagEvent carries one boolean: moving, in-home, gripper closed.
type FlagEvent struct {
	BaseEvent
	Value bool
}

func NewRobotIsMoving(source string, moving bool) *FlagEvent {
	return &FlagEvent{BaseEvent: NewBaseEvent(TypeRobotIsMoving, source), Value: moving}
}

func NewInHomePosition(source string, inHome bool) *FlagEvent {
	return &FlagEvent{BaseEvent: NewBaseEvent(TypeInHomePosition, source), Value: inHome}
}

func NewGripperChanged(source string, closed bool) *FlagEvent {
	return &FlagEvent{BaseEvent: NewBaseEvent(TypeGripperChanged, source), Value: closed}
}

func (e *FlagEvent) Data() map[string]interface{} {
	return map[string]interface{}{"value": e.Value}
}

// ConnectionEvent 看门狗状态变化
type ConnectionEvent struct {
	BaseEvent
	From      string
	To        string
	Connected bool
}

func NewConnectionChanged(source, from, to string, connected bool) *ConnectionEvent {
	return &ConnectionEvent{
		BaseEvent: NewBaseEvent(TypeConnectionChanged, source),
		From:      from,
		To:        to,
		Connected: connected,
	}
}

func (e *ConnectionEvent) Data() map[string]interface{} {
	return map[string]interface{}{"from": e.From, "to": e.To, "connected": e.Connected}
}

// StepEvent 循环步骤变化
type StepEvent struct {
	BaseEvent
	Cycle string
	Step  int
	Name  string
}

func NewCycleStepChanged(source, cycle string, step int, name string) *StepEvent {
	return &StepEvent{BaseEvent: NewBaseEvent(TypeCycleStepChanged, source), Cycle: cycle, Step: step, Name: name}
}

func (e *StepEvent) Data() map[string]interface{} {
	return map[string]interface{}{"cycle": e.Cycle, "step": e.Step, "name": e.Name}
}
