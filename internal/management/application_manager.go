// Package management assembles the cell supervisor: the infrastructure layer (configuration,
// PLC bus, alarm journal, IPC, NATS) and the cell itself (watchdog, monitor loops, motion
// cycles), and starts and stops them in order.
package management

import (
	"context"
	"fmt"

	"robotcell/internal/config"
	"robotcell/internal/logging"
)

// ApplicationManager 管理基础设施层与单元的生命周期
type ApplicationManager struct {
	infrastructure *InfrastructureManager
	cell           *Cell
	handler        *CommandHandler
	logger         *logging.Logger
}

// NewApplicationManager builds every layer from the loaded configuration. ctx bounds the
// lifetime of the supervised tasks.
func NewApplicationManager(ctx context.Context, configManager *config.ConfigManager) (*ApplicationManager, error) {
	infra, err := NewInfrastructureManager(configManager)
	if err != nil {
		return nil, err
	}
	cell, err := NewCell(ctx, infra.Components())
	if err != nil {
		_ = infra.Stop()
		return nil, fmt.Errorf("build cell: %w", err)
	}

	am := &ApplicationManager{
		infrastructure: infra,
		cell:           cell,
		handler:        NewCommandHandler(cell, configManager),
		logger:         logging.GetLogger("application"),
	}
	am.handler.Register(infra.GetIPCServer())
	infra.WatchConfigChanges(cell.OnConfigChanged)
	return am, nil
}

// Cell returns the running cell.
func (am *ApplicationManager) Cell() *Cell {
	return am.cell
}

// Start 启动: 先基础设施, 后单元
func (am *ApplicationManager) Start(ctx context.Context) error {
	if err := am.infrastructure.Start(ctx); err != nil {
		return err
	}
	if err := am.cell.Start(ctx); err != nil {
		_ = am.infrastructure.Stop()
		return err
	}
	am.logger.Info("Application started")
	return nil
}

// Stop 停止: 先单元, 后基础设施
func (am *ApplicationManager) Stop(ctx context.Context) error {
	cellErr := am.cell.Stop(ctx)
	infraErr := am.infrastructure.Stop()
	if cellErr != nil {
		return cellErr
	}
	return infraErr
}
