package monitor

import (
	"context"

	"robotcell/internal/logging"
	"robotcell/internal/plantio"
)

// Operator is the set of operator actions the PLC can trigger.
type Operator interface {
	StartCycle() error
	StartHome() error
	RequestStop()
	ClearAlarms(ctx context.Context) error
}

// command binds a PLC command tag to an operator action.
type command struct {
	tag string
	run func(ctx context.Context, op Operator) error
}

// commands in evaluation order: stop before anything that starts motion
var commands = []command{
	{plantio.TagCmdStop, func(_ context.Context, op Operator) error { op.RequestStop(); return nil }},
	{plantio.TagCmdResetAlarms, func(ctx context.Context, op Operator) error { return op.ClearAlarms(ctx) }},
	{plantio.TagCmdHome, func(_ context.Context, op Operator) error { return op.StartHome() }},
	{plantio.TagCmdStart, func(_ context.Context, op Operator) error { return op.StartCycle() }},
}

// Commands runs operator actions on rising edges of the PLC command tags.
type Commands struct {
	plant  plantio.PlantIO
	op     Operator
	last   map[string]bool
	logger *logging.Logger
}

// NewCommands 创建PLC命令循环
func NewCommands(plant plantio.PlantIO, op Operator) *Commands {
	return &Commands{
		plant:  plant,
		op:     op,
		last:   make(map[string]bool, len(commands)),
		logger: logging.GetLogger("monitor.commands"),
	}
}

func (c *Commands) Name() string { return "monitor.commands" }

func (c *Commands) Tick(ctx context.Context) error {
	if !c.plant.Connected() {
		return ctx.Err()
	}
	for _, cmd := range commands {
		on, err := plantio.ReadBool(ctx, c.plant, cmd.tag)
		if err != nil {
			c.logger.Debug("PLC command read failed", "tag", cmd.tag, "error", err)
			return ctx.Err()
		}
		rising := on && !c.last[cmd.tag]
		c.last[cmd.tag] = on
		if !rising {
			continue
		}
		c.logger.Info("PLC command", "tag", cmd.tag)
		if err := cmd.run(ctx, c.op); err != nil {
			c.logger.Warn("PLC command rejected", "tag", cmd.tag, "error", err)
		}
	}
	return ctx.Err()
}
