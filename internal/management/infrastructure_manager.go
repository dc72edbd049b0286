package management

import (
	"context"
	"fmt"
	"time"

	"robotcell/internal/alarm"
	"robotcell/internal/config"
	"robotcell/internal/events"
	"robotcell/internal/ipc"
	"robotcell/internal/logging"
	"robotcell/internal/plantio"
	"robotcell/internal/robot"
	"robotcell/internal/robot/sim"
	"robotcell/internal/watchdog"
	"robotcell/pkg/types"
)

// InfrastructureManager 管理基础设施层组件
type InfrastructureManager struct {
	configManager *config.ConfigManager
	bus           *events.Bus
	plant         plantio.PlantIO
	modbus        *plantio.ModbusBus
	journal       *alarm.Journal
	ipcServer     *ipc.IPCServer
	nats          *ipc.NATSBridge
	robot         robot.MotionAPI
	prober        robot.Prober
	logger        *logging.Logger
}

// NewInfrastructureManager builds the configuration-driven resources: PLC bus, alarm journal,
// IPC server, NATS bridge and the robot driver.
func NewInfrastructureManager(configManager *config.ConfigManager) (*InfrastructureManager, error) {
	cfg := configManager.GetConfig()
	im := &InfrastructureManager{
		configManager: configManager,
		bus:           events.NewBus(),
		logger:        logging.GetLogger("infrastructure"),
	}

	switch cfg.PLC.Driver {
	case "modbus":
		bus, err := plantio.NewModbusBus(cfg.PLC)
		if err != nil {
			return nil, fmt.Errorf("PLC bus: %w", err)
		}
		im.plant, im.modbus = bus, bus
	default:
		im.plant = plantio.NewMemoryBus()
	}

	journal, err := alarm.OpenJournal(cfg.Alarms)
	if err != nil {
		return nil, err
	}
	im.journal = journal

	im.robot, im.prober = newRobot(cfg)
	im.ipcServer = ipc.NewIPCServer(cfg.IPC)

	if cfg.NATS.URL != "" {
		bridge, err := ipc.DialNATS(cfg.NATS)
		if err != nil {
			_ = journal.Close()
			return nil, err
		}
		im.nats = bridge
	}
	return im, nil
}

// newRobot returns the motion API for the configured driver and the liveness prober the
// watchdog uses with it.
func newRobot(cfg types.SystemConfig) (robot.MotionAPI, robot.Prober) {
	r := sim.New(sim.Options{
		MoveTime:      800 * time.Millisecond,
		FeedbackDelay: 150 * time.Millisecond,
		Links: map[int]int{
			cfg.Cycle.PickOutput:  cfg.Cycle.PickFeedback,
			cfg.Cycle.PlaceOutput: cfg.Cycle.PlaceFeedback,
		},
		Home: cfg.Positions["pHome"],
	})
	if cfg.Robot.Probe == "rpc" {
		return r, watchdog.NewRPCProbe(cfg.Robot.Address, cfg.Robot.ProbePort, cfg.Robot.ProbePath, cfg.Robot.ProbeTimeout)
	}
	return r, r
}

// Components returns what NewCell needs.
func (im *InfrastructureManager) Components() Components {
	return Components{
		Config:  im.configManager,
		Robot:   im.robot,
		Prober:  im.prober,
		Plant:   im.plant,
		Journal: im.journal,
		Bus:     im.bus,
	}
}

// GetConfigManager 获取配置管理器
func (im *InfrastructureManager) GetConfigManager() *config.ConfigManager {
	return im.configManager
}

// GetIPCServer 获取IPC服务器
func (im *InfrastructureManager) GetIPCServer() *ipc.IPCServer {
	return im.ipcServer
}

// Start 启动基础设施层
func (im *InfrastructureManager) Start(ctx context.Context) error {
	im.logger.Info("Starting infrastructure layer")

	if im.modbus != nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := im.modbus.Connect(cctx); err != nil {
			im.logger.Warn("PLC not reachable at startup, operations reconnect lazily", "error", err)
		}
		cancel()
	}

	im.bus.Subscribe(im.ipcServer.Forward)
	if im.nats != nil {
		im.bus.Subscribe(im.nats.Handle)
	}
	if err := im.ipcServer.Start(); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	if err := im.configManager.StartWatching(ctx); err != nil {
		im.logger.Warn("Failed to start config watcher", "error", err)
	}

	im.logger.Info("Infrastructure layer started")
	return nil
}

// Stop 停止基础设施层, 与启动顺序相反
func (im *InfrastructureManager) Stop() error {
	im.logger.Info("Stopping infrastructure layer")

	var errs []error
	if err := im.configManager.StopWatching(); err != nil {
		im.logger.Debug("Config watcher stop", "error", err)
	}
	if err := im.ipcServer.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("IPC server stop error: %w", err))
	}
	if im.nats != nil {
		if err := im.nats.Close(); err != nil {
			errs = append(errs, fmt.Errorf("NATS bridge close error: %w", err))
		}
	}
	if im.modbus != nil {
		if err := im.modbus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PLC close error: %w", err))
		}
	}
	if err := im.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("alarm journal close error: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("infrastructure stop errors: %v", errs)
	}
	im.logger.Info("Infrastructure layer stopped")
	return nil
}

// WatchConfigChanges 监听配置变化
func (im *InfrastructureManager) WatchConfigChanges(callback func(types.SystemConfig)) {
	im.configManager.WatchChanges(func(cfg types.SystemConfig) {
		im.logger.Info("Configuration changed")
		callback(cfg)
	})
}
