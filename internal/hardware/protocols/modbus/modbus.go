// Package modbus is the PLC link: single holding-register reads and writes over Modbus TCP or
// RTU.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"robotcell/internal/hardware/comm"
)

var ErrNotConnected = errors.New("modbus client not connected")

// Config Modbus配置
type Config struct {
	comm.ConnectionConfig `yaml:",inline"`

	Mode     string `yaml:"mode"`    // "tcp" or "rtu"
	Address  string `yaml:"address"` // host or serial device
	Port     int    `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
	SlaveID  byte   `yaml:"slave_id"`
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	io.Closer
}

// Client Modbus客户端
type Client struct {
	*comm.Base
	config Config

	mu      sync.Mutex
	handler handler
	client  modbus.Client
}

// NewClient 创建Modbus客户端
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = time.Second
	}
	return &Client{
		Base:   comm.NewBase(config.ConnectionConfig, "modbus"),
		config: config,
	}
}

// Endpoint returns the TCP address or serial device.
func (c *Client) Endpoint() string {
	if c.config.Mode == "rtu" {
		return c.config.Address
	}
	return net.JoinHostPort(c.config.Address, strconv.Itoa(c.config.Port))
}

// Connect opens the transport. Calling it on a connected client reopens it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	c.SetStatus(comm.StatusConnecting)

	var h handler
	switch c.config.Mode {
	case "", "tcp":
		th := modbus.NewTCPClientHandler(c.Endpoint())
		th.Timeout = c.config.Timeout
		th.SlaveId = c.config.SlaveID
		h = th
	case "rtu":
		rh := modbus.NewRTUClientHandler(c.config.Address)
		rh.BaudRate = c.config.BaudRate
		rh.DataBits = c.config.DataBits
		rh.StopBits = c.config.StopBits
		rh.Parity = c.config.Parity
		rh.SlaveId = c.config.SlaveID
		rh.Timeout = c.config.Timeout
		h = rh
	default:
		return c.Fail(fmt.Errorf("unsupported Modbus mode: %s", c.config.Mode))
	}

	if err := ctx.Err(); err != nil {
		return c.Fail(err)
	}
	if err := h.Connect(); err != nil {
		return c.Fail(fmt.Errorf("connect %s: %w", c.Endpoint(), err))
	}

	c.handler = h
	c.client = modbus.NewClient(h)
	c.SetStatus(comm.StatusConnected)
	return nil
}

// Close 断开连接
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.closeLocked()
	c.SetStatus(comm.StatusDisconnected)
	return err
}

func (c *Client) closeLocked() error {
	if c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler = nil
	c.client = nil
	return err
}

// ReadRegister reads one holding register.
func (c *Client) ReadRegister(ctx context.Context, address uint16) (uint16, error) {
	values, err := c.ReadRegisters(ctx, address, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// ReadRegisters reads quantity consecutive holding registers.
func (c *Client) ReadRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	var raw []byte
	err := c.do(ctx, func(client modbus.Client) error {
		var err error
		raw, err = client.ReadHoldingRegisters(address, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(raw) < int(quantity)*2 {
		return nil, c.Fail(fmt.Errorf("short read at %d: %d bytes", address, len(raw)))
	}
	return bytesToUint16(raw[:quantity*2]), nil
}

// WriteRegister writes one holding register.
func (c *Client) WriteRegister(ctx context.Context, address, value uint16) error {
	return c.do(ctx, func(client modbus.Client) error {
		_, err := client.WriteSingleRegister(address, value)
		return err
	})
}

func (c *Client) do(ctx context.Context, op func(modbus.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil || !c.IsConnected() {
		return ErrNotConnected
	}
	client := c.client
	err := c.RetryWithTimeout(ctx, func() error { return op(client) })
	if err == nil {
		return nil
	}

	var exc *modbus.ModbusError
	if errors.As(err, &exc) {
		// the slave answered; the link is fine
		return err
	}
	c.closeLocked()
	return c.Fail(err)
}

func bytesToUint16(data []byte) []uint16 {
	result := make([]uint16, len(data)/2)
	for i := range result {
		result[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	return result
}
