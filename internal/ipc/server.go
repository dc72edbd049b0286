package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"robotcell/internal/events"
	"robotcell/internal/logging"
	"robotcell/pkg/types"
)

// Handler serves one request type. The returned data is merged into the response.
type Handler func(ctx context.Context, msg types.IPCMessage) (map[string]interface{}, error)

type Client struct {
	ID        string
	Conn      net.Conn
	Send      chan []byte
	active    atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *Client) Active() bool { return c.active.Load() }

type IPCServer struct {
	config       types.IPCConfig
	clients      map[string]*Client
	clientsLock  sync.RWMutex
	handlers     map[string]Handler
	handlersLock sync.RWMutex
	server       net.Listener
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *logging.Logger
}

func NewIPCServer(config types.IPCConfig) *IPCServer {
	ctx, cancel := context.WithCancel(context.Background())
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &IPCServer{
		config:   config,
		clients:  make(map[string]*Client),
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.GetLogger("ipc_server"),
	}
}

func (s *IPCServer) Start() error {
	var err error
	address := net.JoinHostPort(s.config.Address, fmt.Sprintf("%d", s.config.Port))

	s.server, err = net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	s.logger.Info("IPC server started", "address", s.server.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Addr is the bound listener address, useful when the configured port is 0.
func (s *IPCServer) Addr() net.Addr {
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

func (s *IPCServer) Stop() error {
	s.cancel()

	if s.server != nil {
		_ = s.server.Close()
	}

	s.clientsLock.Lock()
	for _, client := range s.clients {
		s.safeCloseClient(client)
	}
	s.clients = make(map[string]*Client)
	s.clientsLock.Unlock()

	s.wg.Wait()
	s.logger.Info("IPC server stopped")
	return nil
}

// Clients is the number of connected clients.
func (s *IPCServer) Clients() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

// safeCloseClient closes the connection once; the writer exits on the closed channel.
func (s *IPCServer) safeCloseClient(client *Client) {
	client.closeOnce.Do(func() {
		client.active.Store(false)
		close(client.closed)
		if client.Conn != nil {
			_ = client.Conn.Close()
		}
		s.logger.Debug("Client closed", "client", client.ID)
	})
}

func (s *IPCServer) removeClient(client *Client) {
	s.safeCloseClient(client)
	s.clientsLock.Lock()
	delete(s.clients, client.ID)
	s.clientsLock.Unlock()
}

func (s *IPCServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.server.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("Accept error", "error", err)
			continue
		}

		client := &Client{
			ID:     "client-" + uuid.NewString()[:8],
			Conn:   conn,
			Send:   make(chan []byte, s.config.BufferSize),
			closed: make(chan struct{}),
		}
		client.active.Store(true)

		s.clientsLock.Lock()
		s.clients[client.ID] = client
		s.clientsLock.Unlock()

		s.wg.Add(2)
		go s.handleClient(client)
		go s.sendToClient(client)

		s.logger.Info("Client connected", "client", client.ID, "remote", conn.RemoteAddr().String())
	}
}

func (s *IPCServer) handleClient(client *Client) {
	defer s.wg.Done()
	defer s.removeClient(client)

	decoder := json.NewDecoder(client.Conn)
	for {
		var message types.IPCMessage
		if err := decoder.Decode(&message); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Info("Client disconnected", "client", client.ID)
			case errors.Is(err, net.ErrClosed), s.ctx.Err() != nil:
			default:
				s.logger.Warn("Client decode error", "client", client.ID, "error", err)
			}
			return
		}

		message.Source = client.ID
		s.routeMessage(client, message)
	}
}

func (s *IPCServer) sendToClient(client *Client) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-client.closed:
			return
		case data := <-client.Send:
			if err := client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				s.safeCloseClient(client)
				return
			}
			if _, err := client.Conn.Write(data); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Warn("Send to client failed", "client", client.ID, "error", err)
				}
				s.safeCloseClient(client)
				return
			}
		}
	}
}

// routeMessage runs the handler for the message type and answers with a response carrying
// the request id.
func (s *IPCServer) routeMessage(client *Client, message types.IPCMessage) {
	s.handlersLock.RLock()
	handler, exists := s.handlers[message.Type]
	s.handlersLock.RUnlock()

	var (
		data map[string]interface{}
		err  error
	)
	if exists {
		ctx, cancel := context.WithTimeout(s.ctx, s.config.Timeout)
		data, err = s.invoke(ctx, handler, message)
		cancel()
	} else {
		err = fmt.Errorf("unknown message type %q", message.Type)
	}

	reply := types.IPCMessage{
		Type:      MsgResponse,
		Source:    "robotcell",
		Target:    client.ID,
		Data:      map[string]interface{}{},
		Timestamp: time.Now(),
		ID:        message.ID,
	}
	for k, v := range data {
		reply.Data[k] = v
	}
	reply.Data["ok"] = err == nil
	if err != nil {
		reply.Data["error"] = err.Error()
		s.logger.Debug("Request failed", "client", client.ID, "type", message.Type, "error", err)
	}
	if err := s.enqueue(client, reply); err != nil {
		s.logger.Warn("Response dropped", "client", client.ID, "error", err)
	}
}

func (s *IPCServer) invoke(ctx context.Context, h Handler, msg types.IPCMessage) (data map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("IPC handler panic", "type", msg.Type, "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return h(ctx, msg)
}

func encode(message types.IPCMessage) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return append(data, '\n'), nil
}

func (s *IPCServer) enqueue(client *Client, message types.IPCMessage) error {
	data, err := encode(message)
	if err != nil {
		return err
	}
	select {
	case client.Send <- data:
		return nil
	case <-client.closed:
		return fmt.Errorf("client closed: %s", client.ID)
	case <-time.After(s.config.Timeout):
		return fmt.Errorf("send timeout for client: %s", client.ID)
	}
}

// Broadcast queues message for every client without blocking; a client whose buffer is full
// misses it.
func (s *IPCServer) Broadcast(message types.IPCMessage) error {
	data, err := encode(message)
	if err != nil {
		return err
	}

	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()

	for _, client := range s.clients {
		if !client.Active() {
			continue
		}
		select {
		case client.Send <- data:
		default:
			s.logger.Warn("Client send buffer full", "client", client.ID)
		}
	}
	return nil
}

// Forward is a bus handler broadcasting every event to the connected clients.
func (s *IPCServer) Forward(e events.Event) {
	if err := s.Broadcast(EventMessage(e)); err != nil {
		s.logger.Warn("Event broadcast failed", "event", e.Type(), "error", err)
	}
}

func (s *IPCServer) SendToClient(clientID string, message types.IPCMessage) error {
	s.clientsLock.RLock()
	client, exists := s.clients[clientID]
	s.clientsLock.RUnlock()

	if !exists {
		return fmt.Errorf("client not found: %s", clientID)
	}
	if !client.Active() {
		return fmt.Errorf("client not active: %s", clientID)
	}
	return s.enqueue(client, message)
}

func (s *IPCServer) RegisterHandler(messageType string, handler Handler) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.handlers[messageType] = handler
}
