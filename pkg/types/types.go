// Package types defines the data structures shared across the cell supervisor: poses and joint
// configurations, collision profiles, alarm records, motion commands, IPC messages and the
// configuration tree loaded from YAML.
package types

import (
	"fmt"
	"math"
	"time"
)

// Pose 工具中心点位姿 (mm / deg)
type Pose struct {
	X            float64    `yaml:"x" json:"x"`
	Y            float64    `yaml:"y" json:"y"`
	Z            float64    `yaml:"z" json:"z"`
	RX           float64    `yaml:"rx" json:"rx"`
	RY           float64    `yaml:"ry" json:"ry"`
	RZ           float64    `yaml:"rz" json:"rz"`
	ExternalAxes [4]float64 `yaml:"external_axes,omitempty" json:"external_axes,omitempty"`
}

// Components returns translation followed by orientation.
func (p Pose) Components() [6]float64 {
	return [6]float64{p.X, p.Y, p.Z, p.RX, p.RY, p.RZ}
}

// Valid reports whether every component is non-zero. Taught points with a zero component are
// treated as never taught.
func (p Pose) Valid() bool {
	for _, c := range p.Components() {
		if c == 0 {
			return false
		}
	}
	return true
}

// Translate returns a copy moved by the given linear offsets.
func (p Pose) Translate(dx, dy, dz float64) Pose {
	p.X += dx
	p.Y += dy
	p.Z += dz
	return p
}

// Rotate returns a copy with the given orientation offsets added.
func (p Pose) Rotate(drx, dry, drz float64) Pose {
	p.RX += drx
	p.RY += dry
	p.RZ += drz
	return p
}

// Rounded rounds every component to whole units.
func (p Pose) Rounded() Pose {
	p.X = math.Round(p.X)
	p.Y = math.Round(p.Y)
	p.Z = math.Round(p.Z)
	p.RX = math.Round(p.RX)
	p.RY = math.Round(p.RY)
	p.RZ = math.Round(p.RZ)
	return p
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f, %.2f, %.2f, %.2f)", p.X, p.Y, p.Z, p.RX, p.RY, p.RZ)
}

// JointConfiguration 六轴关节角
type JointConfiguration [6]float64

// CollisionProfile 碰撞灵敏度配置
type CollisionProfile struct {
	ID     int        `yaml:"id" json:"id" validate:"gte=0"`
	Mode   int        `yaml:"mode" json:"mode"`
	Levels [6]float64 `yaml:"levels" json:"levels"`
	Config int        `yaml:"config" json:"config"`
}

// AlarmState 报警状态
type AlarmState string

const (
	AlarmOn  AlarmState = "ON"
	AlarmOff AlarmState = "OFF"
)

// AlarmRecord 报警记录
type AlarmRecord struct {
	Instance    string     `json:"instance"`
	Key         string     `json:"key"`
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Device      string     `json:"device"`
	State       AlarmState `json:"state"`
	Blocking    bool       `json:"blocking"`
	Timestamp   time.Time  `json:"timestamp"`
}

// RobotDefaults 机器人默认运动参数
type RobotDefaults struct {
	Speed        int     `yaml:"speed" json:"speed" validate:"gte=0,lte=100"`
	Velocity     float64 `yaml:"velocity" json:"velocity" validate:"gte=0,lte=100"`
	Acceleration float64 `yaml:"acceleration" json:"acceleration" validate:"gte=0,lte=100"`
	Blend        float64 `yaml:"blend" json:"blend" validate:"gte=-1"`
	Tool         int     `yaml:"tool" json:"tool" validate:"gte=0"`
	Frame        int     `yaml:"frame" json:"frame" validate:"gte=0"`
	Payload      float64 `yaml:"payload" json:"payload" validate:"gte=0"`
}

// MoveCommand 运动指令参数
type MoveCommand struct {
	Joints       JointConfiguration
	Pose         Pose
	Tool         int
	Frame        int
	Velocity     float64
	Acceleration float64
	Override     float64
	Blend        float64
	ExternalAxes [4]float64
	Offset       Pose
	OffsetFlag   int
}

// Controller motion states reported by GetRealTimeState.
const (
	MotionStopped = 1
	MotionRunning = 2
	MotionPaused  = 3
	MotionDrag    = 4
)

// RealTimeState 控制器实时状态
type RealTimeState struct {
	Mode        int  `json:"mode"`
	MotionState int  `json:"motion_state"`
	Enabled     bool `json:"enabled"`
}

// OperatingMode 机器人运行模式
type OperatingMode int

const (
	ModeUnknown OperatingMode = -1
	ModeAuto    OperatingMode = 0
	ModeManual  OperatingMode = 1
)

func (m OperatingMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return "off"
	}
}

// IPCMessage 进程间消息
type IPCMessage struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id"`
}

// SystemConfig is the root of robotcell.yaml.
type SystemConfig struct {
	Robot       RobotConfig          `yaml:"robot" validate:"required"`
	Timing      TimingConfig         `yaml:"timing"`
	Geometry    GeometryConfig       `yaml:"geometry"`
	Cycle       CycleConfig          `yaml:"cycle"`
	Home        HomeConfig           `yaml:"home"`
	Defaults    RobotDefaults        `yaml:"robot_defaults"`
	Positions   map[string]Pose      `yaml:"positions"`
	Collision   CollisionConfig      `yaml:"collision"`
	Diagnostics DiagnosticsConfig    `yaml:"diagnostics"`
	PLC         PLCConfig            `yaml:"plc"`
	IPC         IPCConfig            `yaml:"ipc"`
	NATS        NATSConfig           `yaml:"nats"`
	Alarms      AlarmJournalConfig   `yaml:"alarms"`
	Metrics     MetricsConfig        `yaml:"metrics"`
	Logging     LogConfig            `yaml:"logging"`
}

// RobotConfig 机器人连接配置
type RobotConfig struct {
	Driver           string        `yaml:"driver" validate:"required,oneof=sim"`
	Address          string        `yaml:"address" validate:"required"`
	Probe            string        `yaml:"probe" validate:"omitempty,oneof=driver rpc"`
	ProbePort        int           `yaml:"probe_port" validate:"gt=0,lte=65535"`
	ProbePath        string        `yaml:"probe_path"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" validate:"gt=0"`
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=2"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout" validate:"gt=0"`
}

// TimingConfig 各循环周期
type TimingConfig struct {
	HighPriority      time.Duration `yaml:"high_priority" validate:"gt=0"`
	Auxiliary         time.Duration `yaml:"auxiliary" validate:"gt=0"`
	LowPriority       time.Duration `yaml:"low_priority" validate:"gt=0"`
	PLCSync           time.Duration `yaml:"plc_sync" validate:"gt=0"`
	PLCCommands       time.Duration `yaml:"plc_commands" validate:"gt=0"`
	Watchdog          time.Duration `yaml:"watchdog" validate:"gt=0"`
	CyclePoll         time.Duration `yaml:"cycle_poll" validate:"gt=0"`
	HomePoll          time.Duration `yaml:"home_poll" validate:"gt=0"`
	FeedbackSettle    time.Duration `yaml:"feedback_settle" validate:"gte=0"`
	MotionRetryDelay  time.Duration `yaml:"motion_retry_delay" validate:"gte=0"`
	MovingDebounce    time.Duration `yaml:"moving_debounce" validate:"gte=0"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" validate:"gte=0"`
	ModeDebounce      time.Duration `yaml:"mode_debounce" validate:"gte=0"`
}

// GeometryConfig 几何判定容差
type GeometryConfig struct {
	InPositionDelta  float64 `yaml:"in_position_delta" validate:"gte=0"`
	SafeZoneDelta    float64 `yaml:"safe_zone_delta" validate:"gte=0"`
	SafeZoneAxis     string  `yaml:"safe_zone_axis" validate:"omitempty,oneof=x y z"`
	ObstructionDelta float64 `yaml:"obstruction_delta" validate:"gte=0"`
}

// CycleConfig 取放循环参数
type CycleConfig struct {
	Retract               float64 `yaml:"retract"`
	Approach              float64 `yaml:"approach"`
	PrePlace              float64 `yaml:"pre_place"`
	PostPlaceRetract      float64 `yaml:"post_place_retract"`
	ZPrePick              float64 `yaml:"z_pre_pick"`
	ZPostPick             float64 `yaml:"z_post_pick"`
	ZPrePlace             float64 `yaml:"z_pre_place"`
	PlaceRXOffset         float64 `yaml:"place_rx_offset"`
	PickVelocityScale     float64 `yaml:"pick_velocity_scale" validate:"gte=0,lte=1"`
	PickAccelerationScale float64 `yaml:"pick_acceleration_scale" validate:"gte=0,lte=1"`
	ApproachBlend         float64 `yaml:"approach_blend" validate:"gte=-1"`
	PickOutput            int     `yaml:"pick_output" validate:"gte=0,lte=15"`
	PlaceOutput           int     `yaml:"place_output" validate:"gte=0,lte=15"`
	PickFeedback          int     `yaml:"pick_feedback" validate:"gte=0,lte=15"`
	PlaceFeedback         int     `yaml:"place_feedback" validate:"gte=0,lte=15"`
	IKConfig              int     `yaml:"ik_config"`
	RetryCodes            []int   `yaml:"retry_codes"`
	FatalCodes            []int   `yaml:"fatal_codes"`
}

// HomeConfig 回原点参数
type HomeConfig struct {
	Velocity     float64 `yaml:"velocity" validate:"gte=0,lte=100"`
	Acceleration float64 `yaml:"acceleration" validate:"gte=0,lte=100"`
	Speed        int     `yaml:"speed" validate:"gte=0,lte=100"`
}

// CollisionConfig 碰撞配置目录
type CollisionConfig struct {
	Default  int                `yaml:"default" validate:"gte=0"`
	Profiles []CollisionProfile `yaml:"profiles" validate:"dive"`
}

// AlarmCode 控制器报警码描述
type AlarmCode struct {
	Main        int    `yaml:"main"`
	Sub         int    `yaml:"sub"`
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Device      string `yaml:"device"`
}

// MotionCode 运动指令返回码描述
type MotionCode struct {
	Code        int    `yaml:"code"`
	Description string `yaml:"description"`
	Processing  string `yaml:"processing"`
	Fatal       bool   `yaml:"fatal"`
}

// DiagnosticsConfig 诊断目录
type DiagnosticsConfig struct {
	Alarms []AlarmCode  `yaml:"alarms"`
	Motion []MotionCode `yaml:"motion"`
}

// PLCConfig PLC标签总线配置
type PLCConfig struct {
	Driver        string         `yaml:"driver" validate:"oneof=modbus memory"`
	Address       string         `yaml:"address"`
	Port          int            `yaml:"port" validate:"gte=0,lte=65535"`
	SlaveID       byte           `yaml:"slave_id"`
	Timeout       time.Duration  `yaml:"timeout" validate:"gte=0"`
	RetryCount    int            `yaml:"retry_count" validate:"gte=0"`
	RetryInterval time.Duration  `yaml:"retry_interval" validate:"gte=0"`
	Tags          map[string]int `yaml:"tags"`
}

// IPCConfig IPC服务配置
type IPCConfig struct {
	Type       string        `yaml:"type"`
	Address    string        `yaml:"address"`
	Port       int           `yaml:"port" validate:"gte=0,lte=65535"`
	Timeout    time.Duration `yaml:"timeout"`
	BufferSize int           `yaml:"buffer_size" validate:"gte=0"`
}

// NATSConfig 事件桥配置，URL为空时不启用
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// AlarmJournalConfig 报警历史存储
type AlarmJournalConfig struct {
	JournalPath string `yaml:"journal_path"`
	InMemory    bool   `yaml:"in_memory"`
	HistorySize int    `yaml:"history_size" validate:"gte=0"`
}

// MetricsConfig 监控端点，为空时不启用
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	OutputPath string `yaml:"output_path"`
	AddSource  bool   `yaml:"add_source"`
}
