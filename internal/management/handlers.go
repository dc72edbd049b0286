package management

import (
	"context"
	"fmt"
	"sort"

	"robotcell/internal/config"
	"robotcell/internal/ipc"
	"robotcell/internal/logging"
	"robotcell/pkg/types"
)

// CommandHandler serves the operator requests arriving over IPC.
type CommandHandler struct {
	cell   *Cell
	config config.Source
	logger *logging.Logger
}

// NewCommandHandler 创建IPC命令处理器
func NewCommandHandler(cell *Cell, src config.Source) *CommandHandler {
	return &CommandHandler{cell: cell, config: src, logger: logging.GetLogger("ipc_handler")}
}

// Register installs the handlers on server.
func (h *CommandHandler) Register(server *ipc.IPCServer) {
	server.RegisterHandler(ipc.MsgCommand, h.HandleCommand)
	server.RegisterHandler(ipc.MsgStatus, h.handleStatus)
	server.RegisterHandler(ipc.MsgAlarms, h.handleAlarms)
	server.RegisterHandler(ipc.MsgHistory, h.handleHistory)
	server.RegisterHandler(ipc.MsgConfig, h.handleConfig)
}

func (h *CommandHandler) HandleCommand(ctx context.Context, msg types.IPCMessage) (map[string]interface{}, error) {
	action, err := ipc.StringArg(msg.Data, "action")
	if err != nil {
		return nil, err
	}
	h.logger.Info("Operator command", "action", action, "client", msg.Source)

	switch action {
	case ipc.ActionStartCycle:
		err = h.cell.StartCycle()
	case ipc.ActionStartHome:
		err = h.cell.StartHome()
	case ipc.ActionStop:
		h.cell.RequestStop()
	case ipc.ActionPause:
		err = h.cell.Pause()
	case ipc.ActionResume:
		h.cell.Resume()
	case ipc.ActionClearAlarms:
		err = h.cell.ClearAlarms(ctx)
	case ipc.ActionChangeCollision:
		var id int
		if id, err = ipc.IntArg(msg.Data, "id"); err == nil {
			err = h.cell.ChangeCollision(ctx, id)
		}
	default:
		err = fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"action": action}, nil
}

func (h *CommandHandler) handleStatus(context.Context, types.IPCMessage) (map[string]interface{}, error) {
	return map[string]interface{}{"status": h.cell.Status()}, nil
}

func (h *CommandHandler) handleAlarms(context.Context, types.IPCMessage) (map[string]interface{}, error) {
	return map[string]interface{}{"alarms": h.cell.ActiveAlarms()}, nil
}

func (h *CommandHandler) handleHistory(_ context.Context, msg types.IPCMessage) (map[string]interface{}, error) {
	limit := 0
	if _, ok := msg.Data["limit"]; ok {
		n, err := ipc.IntArg(msg.Data, "limit")
		if err != nil {
			return nil, err
		}
		limit = n
	}
	entries, err := h.cell.History(limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"entries": entries}, nil
}

func (h *CommandHandler) handleConfig(context.Context, types.IPCMessage) (map[string]interface{}, error) {
	cfg := h.config.GetConfig()
	names := make([]string, 0, len(cfg.Positions))
	for name := range cfg.Positions {
		names = append(names, name)
	}
	sort.Strings(names)
	return map[string]interface{}{
		"robot":     cfg.Robot.Address,
		"positions": names,
		"collision": cfg.Collision.Profiles,
		"cycle":     cfg.Cycle,
	}, nil
}
