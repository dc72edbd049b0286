// Package ipc is the operator surface of the cell: a TCP server speaking newline-delimited
// JSON IPCMessages, the matching client, and a bridge that republishes bus events on NATS.
package ipc

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"robotcell/internal/events"
	"robotcell/pkg/types"
)

// Message types.
const (
	MsgCommand  = "command"
	MsgStatus   = "status"
	MsgAlarms   = "alarms"
	MsgHistory  = "history"
	MsgConfig   = "config"
	MsgResponse = "response"
	MsgEvent    = "event"
)

// Command actions carried in Data["action"].
const (
	ActionStartCycle      = "start_cycle"
	ActionStartHome       = "start_home"
	ActionStop            = "stop"
	ActionPause           = "pause"
	ActionResume          = "resume"
	ActionClearAlarms     = "clear_alarms"
	ActionChangeCollision = "change_collision"
)

// Actions lists the command actions in the order the operator client shows them.
var Actions = []string{
	ActionStartCycle, ActionStartHome, ActionStop, ActionPause, ActionResume,
	ActionClearAlarms, ActionChangeCollision,
}

// NewMessage 创建带唯一ID的消息
func NewMessage(msgType string, data map[string]interface{}) types.IPCMessage {
	if data == nil {
		data = map[string]interface{}{}
	}
	return types.IPCMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        uuid.NewString(),
	}
}

// CommandMessage builds a command request.
func CommandMessage(action string, args map[string]interface{}) types.IPCMessage {
	data := map[string]interface{}{"action": action}
	for k, v := range args {
		data[k] = v
	}
	return NewMessage(MsgCommand, data)
}

// EventMessage converts a bus event to its wire form.
func EventMessage(e events.Event) types.IPCMessage {
	data := map[string]interface{}{"event": string(e.Type())}
	for k, v := range e.Data() {
		data[k] = v
	}
	msg := NewMessage(MsgEvent, data)
	msg.Source = e.Source()
	msg.Timestamp = e.Timestamp()
	return msg
}

// StringArg reads a string argument.
func StringArg(data map[string]interface{}, key string) (string, error) {
	v, ok := data[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: want string, got %T", key, v)
	}
	return s, nil
}

// IntArg reads an integer argument. JSON numbers arrive as float64.
func IntArg(data map[string]interface{}, key string) (int, error) {
	v, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("argument %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q: want number, got %T", key, v)
	}
}
