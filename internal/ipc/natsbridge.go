package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"robotcell/internal/events"
	"robotcell/internal/logging"
	"robotcell/pkg/types"
)

// Publisher publishes raw payloads on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBridge republishes bus events on <prefix>.<event type> for plant services.
type NATSBridge struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
	logger *logging.Logger
}

// NewNATSBridge 创建NATS事件桥
func NewNATSBridge(pub Publisher, prefix string) *NATSBridge {
	if prefix == "" {
		prefix = "robotcell"
	}
	return &NATSBridge{pub: pub, prefix: prefix, logger: logging.GetLogger("nats_bridge")}
}

// DialNATS connects to the configured server. The connection keeps retrying in the
// background, so an unreachable broker at startup is not fatal.
func DialNATS(cfg types.NATSConfig) (*NATSBridge, error) {
	logger := logging.GetLogger("nats_bridge")
	nc, err := nats.Connect(cfg.URL,
		nats.Name("robotcell"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS %s: %w", cfg.URL, err)
	}
	b := NewNATSBridge(nc, cfg.SubjectPrefix)
	b.conn = nc
	return b, nil
}

// Subject is the subject an event type is published on.
func (b *NATSBridge) Subject(t events.Type) string {
	return b.prefix + "." + string(t)
}

// Handle is a bus handler.
func (b *NATSBridge) Handle(e events.Event) {
	data, err := json.Marshal(EventMessage(e))
	if err != nil {
		b.logger.Warn("Event encode failed", "event", e.Type(), "error", err)
		return
	}
	if err := b.pub.Publish(b.Subject(e.Type()), data); err != nil {
		b.logger.Debug("NATS publish failed", "event", e.Type(), "error", err)
	}
}

// Close drains the connection opened by DialNATS.
func (b *NATSBridge) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
