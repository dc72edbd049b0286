package plantio

import (
	"context"
	"fmt"
	"time"

	"robotcell/internal/hardware/comm"
	"robotcell/internal/hardware/protocols/modbus"
	"robotcell/internal/logging"
	"robotcell/internal/metrics"
	"robotcell/pkg/types"
)

// ModbusBus maps tags onto PLC holding registers. A failed operation drops the link; the next
// operation reconnects.
type ModbusBus struct {
	client    *modbus.Client
	registers map[string]uint16
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewModbusBus 创建Modbus标签总线
func NewModbusBus(cfg types.PLCConfig) (*ModbusBus, error) {
	tags := cfg.Tags
	if len(tags) == 0 {
		tags = DefaultRegisterMap()
	}
	registers := make(map[string]uint16, len(tags))
	for name, addr := range tags {
		if addr < 0 || addr > 0xFFFF {
			return nil, fmt.Errorf("tag %s: register %d out of range", name, addr)
		}
		registers[name] = uint16(addr)
	}

	client := modbus.NewClient(modbus.Config{
		ConnectionConfig: comm.ConnectionConfig{
			Timeout:       cfg.Timeout,
			RetryCount:    cfg.RetryCount,
			RetryInterval: cfg.RetryInterval,
		},
		Mode:    "tcp",
		Address: cfg.Address,
		Port:    cfg.Port,
		SlaveID: cfg.SlaveID,
	})

	b := &ModbusBus{
		client:    client,
		registers: registers,
		logger:    logging.GetLogger("plc"),
		metrics:   metrics.Default(),
	}
	client.AddListener(comm.ListenerFuncs{
		Connected:    func() { b.logger.Info("PLC link up", "endpoint", client.Endpoint()) },
		Disconnected: func() { b.logger.Warn("PLC link down", "endpoint", client.Endpoint()) },
	})
	return b, nil
}

// Connect opens the link eagerly; operations connect lazily otherwise.
func (b *ModbusBus) Connect(ctx context.Context) error {
	return b.client.Connect(ctx)
}

func (b *ModbusBus) Close() error {
	return b.client.Close()
}

func (b *ModbusBus) Connected() bool {
	return b.client.IsConnected()
}

func (b *ModbusBus) ensure(ctx context.Context) error {
	if b.client.IsConnected() {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.client.Connect(cctx)
}

func (b *ModbusBus) register(name string) (uint16, error) {
	addr, ok := b.registers[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTag, name)
	}
	return addr, nil
}

func (b *ModbusBus) WriteTag(ctx context.Context, name string, value int) error {
	addr, err := b.register(name)
	if err != nil {
		return err
	}
	if err := b.ensure(ctx); err != nil {
		b.metrics.PLCErrorsTotal.WithLabelValues("connect").Inc()
		return err
	}
	if err := b.client.WriteRegister(ctx, addr, uint16(int16(value))); err != nil {
		b.metrics.PLCErrorsTotal.WithLabelValues("write").Inc()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (b *ModbusBus) ReadTag(ctx context.Context, name string) (int, error) {
	addr, err := b.register(name)
	if err != nil {
		return 0, err
	}
	if err := b.ensure(ctx); err != nil {
		b.metrics.PLCErrorsTotal.WithLabelValues("connect").Inc()
		return 0, err
	}
	raw, err := b.client.ReadRegister(ctx, addr)
	if err != nil {
		b.metrics.PLCErrorsTotal.WithLabelValues("read").Inc()
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return int(int16(raw)), nil
}
