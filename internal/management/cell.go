package management

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"robotcell/internal/alarm"
	"robotcell/internal/collision"
	"robotcell/internal/config"
	"robotcell/internal/core"
	"robotcell/internal/cycle"
	"robotcell/internal/events"
	"robotcell/internal/geometry"
	"robotcell/internal/logging"
	"robotcell/internal/monitor"
	"robotcell/internal/plantio"
	"robotcell/internal/robot"
	"robotcell/internal/state"
	"robotcell/internal/watchdog"
	"robotcell/pkg/types"
)

// Task names of the motion cycles.
const (
	TaskMainCycle = "cycle.main"
	TaskHomeCycle = "cycle.home"
)

var (
	ErrBusy       = errors.New("another cycle is running")
	ErrNotReady   = errors.New("robot not ready")
	ErrNoJournal  = errors.New("alarm journal disabled")
	ErrNotRunning = errors.New("cycle not running")
)

// Components are the outside resources a cell drives.
type Components struct {
	Config  config.Source
	Robot   robot.MotionAPI
	Prober  robot.Prober
	Plant   plantio.PlantIO
	Journal *alarm.Journal
	Bus     *events.Bus
}

// Cell wires the watchdog, monitor loops and motion cycles around one robot and one PLC, and
// exposes the operator actions.
type Cell struct {
	src     config.Source
	cfg     types.SystemConfig
	robot   robot.MotionAPI
	plant   plantio.PlantIO
	journal *alarm.Journal

	state     *state.RobotState
	bus       *events.Bus
	alarms    *alarm.Hub
	collision *collision.Manager
	watchdog  *watchdog.Watchdog
	aux       *monitor.Aux
	low       *monitor.Low
	main      *cycle.Engine
	home      *cycle.Engine
	sup       *core.Supervisor

	// serializes cycle starts so main and home never run together
	startMu sync.Mutex
	logger  *logging.Logger
}

// Status 单元状态快照
type Status struct {
	Robot     state.Snapshot      `json:"robot"`
	Watchdog  string              `json:"watchdog"`
	Collision int                 `json:"collision"`
	MainStep  string              `json:"main_step"`
	HomeStep  string              `json:"home_step"`
	Alarms    []types.AlarmRecord `json:"alarms"`
	Tasks     []core.Info         `json:"tasks"`
}

// NewCell builds every component and registers the tasks. Nothing runs until Start.
func NewCell(ctx context.Context, c Components) (*Cell, error) {
	cfg := c.Config.GetConfig()
	bus := c.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	cell := &Cell{
		src:     c.Config,
		cfg:     cfg,
		robot:   c.Robot,
		plant:   c.Plant,
		journal: c.Journal,
		state:   state.New(),
		bus:     bus,
		sup:     core.NewSupervisor(ctx),
		logger:  logging.GetLogger("cell"),
	}
	if c.Journal != nil {
		bus.Subscribe(c.Journal.Handle, events.TypeAlarmRaised, events.TypeAlarmResolved, events.TypeAlarmsCleared)
	}

	cell.alarms = alarm.NewHub(cell.state, bus)
	props := config.NewPropertiesStore(c.Config)
	poses := config.NewPositionStore(c.Config)
	diag := config.NewDiagnosticCatalog(c.Config)
	cell.collision = collision.NewManager(props, c.Robot, cell.alarms, cell.state)

	prober := c.Prober
	if prober == nil {
		prober = watchdog.NewRPCProbe(cfg.Robot.Address, cfg.Robot.ProbePort, cfg.Robot.ProbePath, cfg.Robot.ProbeTimeout)
	}
	cell.watchdog = watchdog.New(watchdog.Config{
		Address:           cfg.Robot.Address,
		FailureThreshold:  cfg.Robot.FailureThreshold,
		ProbeTimeout:      cfg.Robot.ProbeTimeout,
		ReconnectTimeout:  cfg.Robot.ReconnectTimeout,
		ReconnectInterval: cfg.Timing.ReconnectInterval,
	}, prober, c.Robot, cell.state, cell.alarms, bus)

	axis, err := geometry.ParseAxis(cfg.Geometry.SafeZoneAxis)
	if err != nil {
		return nil, err
	}
	high := monitor.NewHigh(monitor.HighConfig{
		InPositionDelta: cfg.Geometry.InPositionDelta,
		SafeZoneDelta:   cfg.Geometry.SafeZoneDelta,
		SafeZoneAxis:    axis,
		MovingDebounce:  cfg.Timing.MovingDebounce,
	}, c.Robot, poses, cell.state, bus)
	cell.aux = monitor.NewAux(monitor.AuxConfig{
		GripperInput: cfg.Cycle.PickFeedback,
		ModeDebounce: cfg.Timing.ModeDebounce,
	}, c.Robot, c.Plant, cell.state, bus)
	cell.low = monitor.NewLow(c.Robot, c.Plant, cell.state, cell.alarms, diag)
	plcSync := monitor.NewSync(c.Plant, cell.state, cell.alarms)
	commands := monitor.NewCommands(c.Plant, cell)

	deps := cycle.Deps{
		Robot:    c.Robot,
		State:    cell.state,
		Alarms:   cell.alarms,
		Poses:    poses,
		Defaults: props,
		Motion:   diag,
		Plant:    c.Plant,
		Geometry: cfg.Geometry,
		Cycle:    cfg.Cycle,
		Home:     cfg.Home,
		Timing:   cfg.Timing,
	}
	if cell.main, err = cycle.NewPickPlace(deps, bus); err != nil {
		return nil, fmt.Errorf("main cycle: %w", err)
	}
	if cell.home, err = cycle.NewHome(deps, bus); err != nil {
		return nil, fmt.Errorf("home cycle: %w", err)
	}

	cell.watchdog.AddHook("collision", cell.restoreCollision)
	cell.watchdog.AddHook("mode", func(context.Context) error {
		cell.aux.ResetDebounce()
		return nil
	})
	cell.low.OnPLCRestored(func(context.Context) {
		cell.aux.ResetDebounce()
		cell.rewindIdleCycles()
	})

	t := cfg.Timing
	for _, reg := range []struct {
		loop     core.Loop
		interval time.Duration
	}{
		{cell.watchdog, t.Watchdog},
		{high, t.HighPriority},
		{cell.aux, t.Auxiliary},
		{cell.low, t.LowPriority},
		{plcSync, t.PLCSync},
		{commands, t.PLCCommands},
	} {
		if err := core.RegisterLoop(cell.sup, reg.loop, reg.interval); err != nil {
			return nil, err
		}
	}
	if err := cell.sup.Register(TaskMainCycle, core.OneShot, cell.main.Run); err != nil {
		return nil, err
	}
	if err := cell.sup.Register(TaskHomeCycle, core.OneShot, cell.home.Run); err != nil {
		return nil, err
	}
	cell.sup.OnExit(func(in core.Info) {
		if in.Status == core.StatusFaulted.String() {
			cell.logger.Warn("Task exited with fault", "task", in.Name, "error", in.LastError)
		}
	})
	return cell, nil
}

var loopNames = []string{"watchdog", "monitor.high", "monitor.aux", "monitor.low", "monitor.plcsync", "monitor.commands"}

// Start connects to the robot and starts the watchdog and monitor loops. An unreachable robot
// is not fatal: the watchdog keeps retrying.
func (c *Cell) Start(ctx context.Context) error {
	if err := c.collision.Load(); err != nil {
		return err
	}
	if err := c.watchdog.Connect(ctx); err != nil {
		c.logger.Warn("Robot not reachable at startup, watchdog keeps retrying", "error", err)
	}
	for _, name := range loopNames {
		if err := c.sup.Start(name); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	c.logger.Info("Cell started", "robot", c.cfg.Robot.Address, "connected", c.state.Connected())
	return nil
}

// Stop cancels every task, then stops the robot and closes the control channel.
func (c *Cell) Stop(ctx context.Context) error {
	err := c.sup.Shutdown(ctx)
	if c.state.Connected() {
		if serr := c.robot.StopMotion(context.WithoutCancel(ctx)); serr != nil {
			c.logger.Warn("Stop motion at shutdown failed", "error", serr)
		}
		if cerr := c.robot.CloseChannel(); cerr != nil {
			c.logger.Warn("Close channel at shutdown failed", "error", cerr)
		}
		c.state.SetConnected(false)
	}
	c.logger.Info("Cell stopped")
	return err
}

// restoreCollision applies the configured default on the first connection and re-applies the
// active profile after a reconnection. Failures are alarmed by the collision manager and do
// not fail the reconnection.
func (c *Cell) restoreCollision(ctx context.Context) error {
	var err error
	if c.collision.Active() < 0 {
		err = c.collision.ChangeProfile(ctx, c.src.GetConfig().Collision.Default)
	} else {
		err = c.collision.Reload(ctx)
	}
	if err != nil {
		c.logger.Warn("Collision profile not restored", "error", err)
	}
	return nil
}

// rewindIdleCycles puts cycles that are not running back to their start step.
func (c *Cell) rewindIdleCycles() {
	if !c.sup.IsRunning(TaskMainCycle) {
		c.main.Reset()
	}
	if !c.sup.IsRunning(TaskHomeCycle) {
		c.home.Reset()
	}
}

// OnConfigChanged refreshes what the cell reads from the configuration at runtime. Named poses,
// robot defaults and diagnostics are read live; collision profiles are reloaded here.
func (c *Cell) OnConfigChanged(cfg types.SystemConfig) {
	if !c.state.Connected() {
		if err := c.collision.Load(); err != nil {
			c.logger.Warn("Collision catalog reload failed", "error", err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Robot.ReconnectTimeout)
	defer cancel()
	if err := c.collision.Reload(ctx); err != nil {
		c.logger.Warn("Collision profile re-apply failed", "error", err)
	}
	c.logger.Info("Configuration applied", "positions", len(cfg.Positions))
}

// StartCycle 启动取放循环
func (c *Cell) StartCycle() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.sup.IsRunning(TaskHomeCycle) {
		return fmt.Errorf("%w: home", ErrBusy)
	}
	if !c.state.Ready() {
		return ErrNotReady
	}
	if !c.sup.IsRunning(TaskMainCycle) {
		c.state.SetStopRequested(false)
		c.state.SetPauseRequested(false)
	}
	return c.sup.Start(TaskMainCycle)
}

// StartHome 启动回原点
func (c *Cell) StartHome() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.sup.IsRunning(TaskMainCycle) {
		return fmt.Errorf("%w: main", ErrBusy)
	}
	if !c.state.Ready() {
		return ErrNotReady
	}
	return c.sup.Start(TaskHomeCycle)
}

// RequestStop asks the main cycle to return home and finish at its next safe step.
func (c *Cell) RequestStop() {
	if !c.sup.IsRunning(TaskMainCycle) {
		c.logger.Debug("Stop requested with no cycle running")
		return
	}
	c.state.SetStopRequested(true)
	c.logger.Info("Stop requested")
}

// Pause holds the main cycle at its next safe step.
func (c *Cell) Pause() error {
	if !c.sup.IsRunning(TaskMainCycle) {
		return ErrNotRunning
	}
	c.state.SetPauseRequested(true)
	c.logger.Info("Pause requested")
	return nil
}

func (c *Cell) Resume() {
	c.state.SetPauseRequested(false)
	c.logger.Info("Resume requested")
}

// ClearAlarms resets the controller faults, then clears every signaled alarm.
func (c *Cell) ClearAlarms(ctx context.Context) error {
	if c.state.Connected() {
		if err := c.robot.ResetErrors(ctx); err != nil {
			return fmt.Errorf("reset controller errors: %w", err)
		}
	}
	n := c.alarms.ClearAll()
	c.logger.Info("Alarms cleared", "count", n)
	return nil
}

// ChangeCollision applies collision profile id.
func (c *Cell) ChangeCollision(ctx context.Context, id int) error {
	return c.collision.ChangeProfile(ctx, id)
}

func (c *Cell) Status() Status {
	return Status{
		Robot:     c.state.Snapshot(),
		Watchdog:  c.watchdog.State().String(),
		Collision: c.collision.Active(),
		MainStep:  c.main.Current().String(),
		HomeStep:  c.home.Current().String(),
		Alarms:    c.alarms.Active(),
		Tasks:     c.sup.Tasks(),
	}
}

// ActiveAlarms returns the signaled alarms.
func (c *Cell) ActiveAlarms() []types.AlarmRecord {
	return c.alarms.Active()
}

// History returns the latest n journal entries, newest first. n <= 0 uses the configured size.
func (c *Cell) History(n int) ([]alarm.Entry, error) {
	if c.journal == nil {
		return nil, ErrNoJournal
	}
	if n <= 0 {
		n = c.cfg.Alarms.HistorySize
	}
	return c.journal.Recent(n)
}

// Wait blocks until the named cycle task exits.
func (c *Cell) Wait(ctx context.Context, task string) (core.Status, error) {
	return c.sup.Wait(ctx, task)
}

func (c *Cell) State() *state.RobotState { return c.state }
func (c *Cell) Bus() *events.Bus         { return c.bus }
