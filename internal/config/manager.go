// Package config provides YAML-based configuration for the cell supervisor with hot reload.
// It validates the configuration tree, fills production defaults, and serves taught points,
// collision profiles and diagnostic catalogs from the live configuration so that a file edit
// takes effect without a restart.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"robotcell/internal/logging"
	"robotcell/internal/plantio"
	"robotcell/pkg/types"
)

var validate = validator.New()

type ConfigManager struct {
	config       types.SystemConfig
	configPath   string
	configLock   sync.RWMutex
	watchers     []func(types.SystemConfig)
	watchersLock sync.RWMutex
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	watching     bool
	logger       *logging.Logger
}

func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
		watchers:   make([]func(types.SystemConfig), 0),
		logger:     logging.GetLogger("config_manager"),
	}
}

// Load 读取并校验配置文件
func Load(path string) (*ConfigManager, error) {
	cm := NewConfigManager(path)
	if err := cm.LoadConfig(""); err != nil {
		return nil, err
	}
	return cm, nil
}

func (cm *ConfigManager) LoadConfig(path string) error {
	cm.configLock.Lock()
	defer cm.configLock.Unlock()

	if path != "" {
		cm.configPath = path
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", cm.configPath, err)
	}

	cm.config = config
	cm.logger.Info("Configuration loaded", "config_path", cm.configPath, "positions", len(config.Positions))
	return nil
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (types.SystemConfig, error) {
	var config types.SystemConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return types.SystemConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return types.SystemConfig{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (cm *ConfigManager) Reload() error {
	return cm.LoadConfig("")
}

func (cm *ConfigManager) GetConfig() types.SystemConfig {
	cm.configLock.RLock()
	defer cm.configLock.RUnlock()
	return cm.config
}

func (cm *ConfigManager) GetConfigPath() string {
	cm.configLock.RLock()
	defer cm.configLock.RUnlock()
	return cm.configPath
}

func (cm *ConfigManager) SetConfig(config types.SystemConfig) error {
	if err := validateConfig(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	cm.configLock.Lock()
	if err := writeConfig(cm.configPath, config); err != nil {
		cm.configLock.Unlock()
		return err
	}
	cm.config = config
	cm.configLock.Unlock()

	cm.notifyWatchers()
	cm.logger.Info("Configuration updated and saved", "config_path", cm.configPath)
	return nil
}

func (cm *ConfigManager) WatchChanges(callback func(types.SystemConfig)) {
	cm.watchersLock.Lock()
	defer cm.watchersLock.Unlock()
	cm.watchers = append(cm.watchers, callback)
}

// StartWatching reloads the file whenever it is written or replaced. The parent directory is
// watched because editors commonly replace the file instead of writing it in place.
func (cm *ConfigManager) StartWatching(ctx context.Context) error {
	if cm.watching {
		return fmt.Errorf("config watcher is already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	path := cm.GetConfigPath()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	var watchCtx context.Context
	watchCtx, cm.cancel = context.WithCancel(ctx)
	cm.watching = true

	cm.wg.Add(1)
	go cm.watchFile(watchCtx, watcher, filepath.Clean(path))

	cm.logger.Info("Started watching config file", "config_path", path)
	return nil
}

func (cm *ConfigManager) StopWatching() error {
	if !cm.watching {
		return fmt.Errorf("config watcher is not running")
	}

	cm.cancel()
	cm.wg.Wait()
	cm.watching = false

	cm.logger.Info("Stopped watching config file")
	return nil
}

func (cm *ConfigManager) watchFile(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer cm.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cm.logger.Info("Config file modified, reloading...")
			if err := cm.Reload(); err != nil {
				// keep serving the last good configuration
				cm.logger.Error("Failed to reload config", "error", err)
				continue
			}
			cm.notifyWatchers()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			cm.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (cm *ConfigManager) notifyWatchers() {
	cm.watchersLock.RLock()
	watchers := make([]func(types.SystemConfig), len(cm.watchers))
	copy(watchers, cm.watchers)
	cm.watchersLock.RUnlock()

	config := cm.GetConfig()
	for _, watcher := range watchers {
		go watcher(config)
	}
}

// validateConfig fills defaults and checks the struct tags.
func validateConfig(config *types.SystemConfig) error {
	applyDefaults(config)
	if err := validate.Struct(config); err != nil {
		return err
	}
	for name, register := range config.PLC.Tags {
		if register < 0 || register > 0xFFFF {
			return fmt.Errorf("PLC tag %s: register %d out of range", name, register)
		}
	}
	return nil
}

func applyDefaults(c *types.SystemConfig) {
	setString(&c.Robot.Driver, "sim")
	setString(&c.Robot.Address, "192.168.2.70")
	setString(&c.Robot.Probe, "driver")
	setInt(&c.Robot.ProbePort, 20003)
	setString(&c.Robot.ProbePath, "/RPC2")
	setDuration(&c.Robot.ProbeTimeout, 400*time.Millisecond)
	setInt(&c.Robot.FailureThreshold, 2)
	setDuration(&c.Robot.ReconnectTimeout, 5*time.Second)

	t := &c.Timing
	setDuration(&t.HighPriority, 20*time.Millisecond)
	setDuration(&t.Auxiliary, 200*time.Millisecond)
	setDuration(&t.LowPriority, 200*time.Millisecond)
	setDuration(&t.PLCSync, 600*time.Millisecond)
	setDuration(&t.PLCCommands, 100*time.Millisecond)
	setDuration(&t.Watchdog, 500*time.Millisecond)
	setDuration(&t.CyclePoll, 40*time.Millisecond)
	setDuration(&t.HomePoll, 100*time.Millisecond)
	setDuration(&t.FeedbackSettle, 100*time.Millisecond)
	setDuration(&t.MotionRetryDelay, 500*time.Millisecond)
	setDuration(&t.MovingDebounce, 2*time.Second)
	setDuration(&t.ReconnectInterval, time.Second)

	g := &c.Geometry
	setFloat(&g.InPositionDelta, 5)
	setFloat(&g.SafeZoneDelta, 300)
	setString(&g.SafeZoneAxis, "y")
	setFloat(&g.ObstructionDelta, 500)

	cy := &c.Cycle
	setFloat(&cy.Retract, 850)
	setFloat(&cy.Approach, 400)
	setFloat(&cy.PrePlace, 850)
	setFloat(&cy.PostPlaceRetract, 300)
	setFloat(&cy.ZPrePick, 40)
	setFloat(&cy.ZPostPick, 40)
	setFloat(&cy.ZPrePlace, 20)
	setFloat(&cy.PlaceRXOffset, 3)
	setFloat(&cy.PickVelocityScale, 0.9)
	setFloat(&cy.PickAccelerationScale, 0.75)
	if cy.ApproachBlend == 0 {
		cy.ApproachBlend = -1
	}
	// pick gripper uses DO0/DI0 unless configured
	setInt(&cy.PlaceOutput, 1)
	setInt(&cy.PlaceFeedback, 1)
	if cy.RetryCodes == nil {
		cy.RetryCodes = []int{99}
	}
	if cy.FatalCodes == nil {
		cy.FatalCodes = []int{14, 34, 112}
	}

	setFloat(&c.Home.Velocity, 100)
	setFloat(&c.Home.Acceleration, 100)
	setInt(&c.Home.Speed, 2)

	d := &c.Defaults
	setInt(&d.Speed, 100)
	setFloat(&d.Velocity, 100)
	setFloat(&d.Acceleration, 100)
	if d.Blend == 0 {
		d.Blend = -1
	}

	if c.Positions == nil {
		c.Positions = make(map[string]types.Pose)
	}
	setInt(&c.Collision.Default, 1)

	setString(&c.PLC.Driver, "memory")
	setInt(&c.PLC.Port, 502)
	if c.PLC.SlaveID == 0 {
		c.PLC.SlaveID = 1
	}
	setDuration(&c.PLC.Timeout, time.Second)
	setDuration(&c.PLC.RetryInterval, time.Second)
	if c.PLC.Tags == nil {
		c.PLC.Tags = plantio.DefaultRegisterMap()
	}

	setString(&c.IPC.Type, "tcp")
	setString(&c.IPC.Address, "127.0.0.1")
	setInt(&c.IPC.Port, 8090)
	setDuration(&c.IPC.Timeout, 5*time.Second)
	setInt(&c.IPC.BufferSize, 1024)

	setString(&c.NATS.SubjectPrefix, "robotcell")
	if c.Alarms.JournalPath == "" && !c.Alarms.InMemory {
		c.Alarms.JournalPath = "data/alarms"
	}
	setInt(&c.Alarms.HistorySize, 200)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "text")
	setString(&c.Logging.Output, "stdout")
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

// DefaultConfig returns the production configuration with the cell's diagnostic catalog and
// collision profiles. Taught points are left zero and must be taught on site.
func DefaultConfig() types.SystemConfig {
	config := types.SystemConfig{
		Positions: map[string]types.Pose{
			"pHome":     {},
			"pSafeZone": {},
			"pPick":     {},
			"pPlace":    {},
			"pTransfer": {},
		},
		Collision: types.CollisionConfig{
			Default: 1,
			Profiles: []types.CollisionProfile{
				{ID: 1, Mode: 0, Levels: [6]float64{1, 1, 1, 1, 1, 1}},
				{ID: 5, Mode: 0, Levels: [6]float64{5, 5, 5, 4, 4, 4}},
			},
		},
		Diagnostics: types.DiagnosticsConfig{
			Alarms: []types.AlarmCode{
				{Main: 1, Sub: 0, ID: "1001", Description: "Driver fault", Device: "Robot"},
				{Main: 2, Sub: 0, ID: "2001", Description: "External emergency stop", Device: "Robot"},
				{Main: 3, Sub: 0, ID: "3001", Description: "Joint over soft limit", Device: "Robot"},
				{Main: 4, Sub: 0, ID: "4001", Description: "Collision detected", Device: "Robot"},
				{Main: 5, Sub: 0, ID: "5001", Description: "Singular pose", Device: "Robot"},
			},
			Motion: []types.MotionCode{
				{Code: 14, Description: "Command execution failed", Processing: "Check the controller log", Fatal: true},
				{Code: 34, Description: "Target out of workspace", Processing: "Reteach the point", Fatal: true},
				{Code: 99, Description: "Controller busy", Processing: "Command is reissued"},
				{Code: 112, Description: "Joint limit exceeded", Processing: "Reteach the point", Fatal: true},
			},
		},
	}
	_ = validateConfig(&config)
	return config
}

// CreateDefaultConfig writes the default configuration to path.
func CreateDefaultConfig(path string) error {
	return writeConfig(path, DefaultConfig())
}

func (cm *ConfigManager) ExportConfig(path string) error {
	return writeConfig(path, cm.GetConfig())
}

func writeConfig(path string, config types.SystemConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
