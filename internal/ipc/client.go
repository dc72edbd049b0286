package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"robotcell/internal/logging"
	"robotcell/pkg/types"
)

// ErrNotConnected is returned when the client has no live connection.
var ErrNotConnected = errors.New("not connected to server")

// RemoteError is a request the server answered with ok=false.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Type, e.Message)
}

type IPCClient struct {
	config       types.IPCConfig
	conn         net.Conn
	receiveChan  chan types.IPCMessage
	sendChan     chan []byte
	handlers     map[string]func(types.IPCMessage)
	handlersLock sync.RWMutex
	pending      map[string]chan types.IPCMessage
	pendingLock  sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	closeOnce    sync.Once
	logger       *logging.Logger
}

func NewIPCClient(config types.IPCConfig) *IPCClient {
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IPCClient{
		config:      config,
		receiveChan: make(chan types.IPCMessage, config.BufferSize),
		sendChan:    make(chan []byte, config.BufferSize),
		handlers:    make(map[string]func(types.IPCMessage)),
		pending:     make(map[string]chan types.IPCMessage),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logging.GetLogger("ipc_client"),
	}
}

func (c *IPCClient) Connect() error {
	address := net.JoinHostPort(c.config.Address, fmt.Sprintf("%d", c.config.Port))

	conn, err := net.DialTimeout("tcp", address, c.config.Timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to IPC server: %w", err)
	}
	c.conn = conn

	c.wg.Add(2)
	go c.receiveMessages()
	go c.sendMessages()

	c.logger.Info("Connected to IPC server", "address", address)
	return nil
}

// Done is closed when the connection ends.
func (c *IPCClient) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *IPCClient) Connected() bool {
	return c.conn != nil && c.ctx.Err() == nil
}

func (c *IPCClient) Disconnect() {
	c.shutdown()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Debug("Client disconnected")
	case <-time.After(3 * time.Second):
		c.logger.Warn("Client disconnect timeout, forcing shutdown")
	}
}

func (c *IPCClient) shutdown() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *IPCClient) Send(message types.IPCMessage) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	data, err := encode(message)
	if err != nil {
		return err
	}

	select {
	case c.sendChan <- data:
		return nil
	case <-c.ctx.Done():
		return ErrNotConnected
	case <-time.After(c.config.Timeout):
		return fmt.Errorf("send timeout")
	}
}

// Request sends message and waits for the response carrying its id. A response with ok=false
// is returned together with a *RemoteError.
func (c *IPCClient) Request(ctx context.Context, message types.IPCMessage) (types.IPCMessage, error) {
	reply := make(chan types.IPCMessage, 1)
	c.pendingLock.Lock()
	c.pending[message.ID] = reply
	c.pendingLock.Unlock()
	defer func() {
		c.pendingLock.Lock()
		delete(c.pending, message.ID)
		c.pendingLock.Unlock()
	}()

	if err := c.Send(message); err != nil {
		return types.IPCMessage{}, err
	}

	select {
	case resp := <-reply:
		if ok, _ := resp.Data["ok"].(bool); !ok {
			text, _ := resp.Data["error"].(string)
			return resp, &RemoteError{Type: message.Type, Message: text}
		}
		return resp, nil
	case <-ctx.Done():
		return types.IPCMessage{}, ctx.Err()
	case <-c.ctx.Done():
		return types.IPCMessage{}, ErrNotConnected
	}
}

// Receive delivers messages that are neither responses nor claimed by a handler.
func (c *IPCClient) Receive() <-chan types.IPCMessage {
	return c.receiveChan
}

func (c *IPCClient) RegisterHandler(messageType string, handler func(types.IPCMessage)) {
	c.handlersLock.Lock()
	defer c.handlersLock.Unlock()
	c.handlers[messageType] = handler
}

func (c *IPCClient) receiveMessages() {
	defer c.wg.Done()
	defer c.shutdown()

	decoder := json.NewDecoder(c.conn)
	for {
		var message types.IPCMessage
		if err := decoder.Decode(&message); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.logger.Info("Server disconnected")
			case errors.Is(err, net.ErrClosed), c.ctx.Err() != nil:
			default:
				c.logger.Error("Receive error", "error", err)
			}
			return
		}
		c.routeMessage(message)
	}
}

func (c *IPCClient) sendMessages() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.sendChan:
			if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.shutdown()
				return
			}
			if _, err := c.conn.Write(data); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					c.logger.Error("Send error", "error", err)
				}
				c.shutdown()
				return
			}
		}
	}
}

func (c *IPCClient) routeMessage(message types.IPCMessage) {
	if message.Type == MsgResponse {
		c.pendingLock.Lock()
		reply, ok := c.pending[message.ID]
		c.pendingLock.Unlock()
		if ok {
			select {
			case reply <- message:
			default:
			}
			return
		}
	}

	c.handlersLock.RLock()
	handler, exists := c.handlers[message.Type]
	c.handlersLock.RUnlock()

	if exists {
		handler(message)
		return
	}
	select {
	case c.receiveChan <- message:
	case <-c.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		c.logger.Warn("Receive channel full, dropping message", "message_type", message.Type)
	}
}
