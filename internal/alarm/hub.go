// Package alarm deduplicates fault notifications. A fault key stays signaled from its first
// Raise until Resolve or ClearAll; repeated raises in between create nothing and emit nothing.
package alarm

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"robotcell/internal/events"
	"robotcell/internal/logging"
	"robotcell/internal/metrics"
	"robotcell/pkg/types"
)

// Severity 报警等级
type Severity int

const (
	NonBlocking Severity = iota
	Blocking
)

func (s Severity) String() string {
	if s == Blocking {
		return "blocking"
	}
	return "non_blocking"
}

// Source devices.
const (
	DeviceRobot = "Robot"
	DevicePLC   = "PLC"
	DeviceCell  = "Cell"
)

// Well-known fault keys.
const (
	KeyRobotDisconnected = "robot.disconnected"
	KeyPLCDisconnected   = "plc.disconnected"
	KeyCollisionChange   = "collision.change"
	KeyConfiguration     = "cycle.configuration"
	KeyKinematics        = "cycle.kinematics"
)

// RobotErrorKey is the key of a controller error code pair.
func RobotErrorKey(main, sub int) string {
	return fmt.Sprintf("robot.error.%d.%d", main, sub)
}

// MotionKey is the key of a non-zero motion result code.
func MotionKey(code int) string {
	return "motion." + strconv.Itoa(code)
}

// Details 报警描述
type Details struct {
	ID          string
	Description string
	Device      string
	Severity    Severity
}

// BlockingFlag receives the global blocking-alarm flag; RobotState implements it.
type BlockingFlag interface {
	SetBlockingAlarm(bool)
}

// Raiser is the write side of the hub used by components that signal faults.
type Raiser interface {
	Raise(key string, d Details) (types.AlarmRecord, bool)
	Resolve(key string) bool
}

// Hub 报警中心
type Hub struct {
	// emitMu serializes state change plus publication so subscribers see events in the
	// order the signaled set changed. Handlers must not call back into Raise/Resolve/ClearAll.
	emitMu   sync.Mutex
	mu       sync.RWMutex
	signaled map[string]types.AlarmRecord
	flag     BlockingFlag
	bus      events.Publisher
	now      func() time.Time
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewHub 创建报警中心
func NewHub(flag BlockingFlag, bus events.Publisher) *Hub {
	return &Hub{
		signaled: make(map[string]types.AlarmRecord),
		flag:     flag,
		bus:      bus,
		now:      time.Now,
		logger:   logging.GetLogger("alarm"),
		metrics:  metrics.Default(),
	}
}

// Raise signals key. It returns the record and true when a new record was created, or the
// existing record and false when key was already signaled.
func (h *Hub) Raise(key string, d Details) (types.AlarmRecord, bool) {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()

	h.mu.Lock()
	if rec, exists := h.signaled[key]; exists {
		h.mu.Unlock()
		return rec, false
	}

	id := d.ID
	if id == "" {
		id = key
	}
	device := d.Device
	if device == "" {
		device = DeviceCell
	}
	rec := types.AlarmRecord{
		Instance:    uuid.NewString(),
		Key:         key,
		ID:          id,
		Description: d.Description,
		Device:      device,
		State:       types.AlarmOn,
		Blocking:    d.Severity == Blocking,
		Timestamp:   h.now(),
	}
	h.signaled[key] = rec
	active := len(h.signaled)
	h.mu.Unlock()

	if rec.Blocking && h.flag != nil {
		h.flag.SetBlockingAlarm(true)
	}

	h.metrics.AlarmsRaisedTotal.WithLabelValues(rec.Device, strconv.FormatBool(rec.Blocking)).Inc()
	h.metrics.AlarmsActive.Set(float64(active))
	h.logger.Warn("Alarm raised", "key", key, "id", rec.ID, "device", rec.Device,
		"blocking", rec.Blocking, "description", rec.Description)

	if h.bus != nil {
		h.bus.Publish(events.NewAlarmRaised("alarm", rec))
	}
	return rec, true
}

// Resolve unsignals a single key and emits its OFF record. The blocking flag is recomputed
// from the keys still signaled.
func (h *Hub) Resolve(key string) bool {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()

	h.mu.Lock()
	rec, exists := h.signaled[key]
	if !exists {
		h.mu.Unlock()
		return false
	}
	delete(h.signaled, key)
	stillBlocking := h.blockingLocked()
	active := len(h.signaled)
	h.mu.Unlock()

	if h.flag != nil {
		h.flag.SetBlockingAlarm(stillBlocking)
	}
	h.metrics.AlarmsActive.Set(float64(active))

	rec.State = types.AlarmOff
	rec.Timestamp = h.now()
	h.logger.Info("Alarm resolved", "key", key, "id", rec.ID)

	if h.bus != nil {
		h.bus.Publish(events.NewAlarmResolved("alarm", rec))
	}
	return true
}

// ClearAll unsignals every key, drops the blocking flag and emits AlarmsCleared. The hardware
// fault itself is reset by the caller through the motion API.
func (h *Hub) ClearAll() int {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()

	h.mu.Lock()
	n := len(h.signaled)
	h.signaled = make(map[string]types.AlarmRecord)
	h.mu.Unlock()

	if h.flag != nil {
		h.flag.SetBlockingAlarm(false)
	}
	h.metrics.AlarmsActive.Set(0)
	h.logger.Info("Alarms cleared", "count", n)

	if h.bus != nil {
		h.bus.Publish(events.NewAlarmsCleared("alarm", n))
	}
	return n
}

// IsSignaled reports whether key is currently signaled.
func (h *Hub) IsSignaled(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.signaled[key]
	return ok
}

// Blocking reports whether any signaled key is blocking.
func (h *Hub) Blocking() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.blockingLocked()
}

func (h *Hub) blockingLocked() bool {
	for _, rec := range h.signaled {
		if rec.Blocking {
			return true
		}
	}
	return false
}

// Active returns the signaled records, oldest first.
func (h *Hub) Active() []types.AlarmRecord {
	h.mu.RLock()
	out := make([]types.AlarmRecord, 0, len(h.signaled))
	for _, rec := range h.signaled {
		out = append(out, rec)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
