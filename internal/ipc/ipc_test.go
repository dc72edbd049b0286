package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotcell/internal/events"
	"robotcell/pkg/types"
)

func startServer(t *testing.T) *IPCServer {
	t.Helper()
	s := NewIPCServer(types.IPCConfig{Address: "127.0.0.1", Port: 0, Timeout: time.Second, BufferSize: 16})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func connect(t *testing.T, s *IPCServer) *IPCClient {
	t.Helper()
	addr := s.Addr().(*net.TCPAddr)
	c := NewIPCClient(types.IPCConfig{Address: "127.0.0.1", Port: addr.Port, Timeout: time.Second, BufferSize: 16})
	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return c
}

func TestRequestResponse(t *testing.T) {
	s := startServer(t)
	s.RegisterHandler(MsgCommand, func(_ context.Context, msg types.IPCMessage) (map[string]interface{}, error) {
		action, err := StringArg(msg.Data, "action")
		if err != nil {
			return nil, err
		}
		if action != ActionChangeCollision {
			return nil, errors.New("cycle already running")
		}
		id, err := IntArg(msg.Data, "id")
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"active": id}, nil
	})
	c := connect(t, s)
	ctx := context.Background()

	resp, err := c.Request(ctx, CommandMessage(ActionChangeCollision, map[string]interface{}{"id": 5}))
	require.NoError(t, err)
	assert.Equal(t, MsgResponse, resp.Type)
	assert.Equal(t, 5.0, resp.Data["active"])

	_, err = c.Request(ctx, CommandMessage(ActionStartCycle, nil))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "cycle already running", remote.Message)

	_, err = c.Request(ctx, NewMessage("teach", nil))
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "unknown message type")
}

func TestHandlerPanicIsAnswered(t *testing.T) {
	s := startServer(t)
	s.RegisterHandler(MsgStatus, func(context.Context, types.IPCMessage) (map[string]interface{}, error) {
		panic("boom")
	})
	c := connect(t, s)

	_, err := c.Request(context.Background(), NewMessage(MsgStatus, nil))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "internal error")
}

func TestEventsAreBroadcast(t *testing.T) {
	s := startServer(t)
	c := connect(t, s)

	bus := events.NewBus()
	bus.Subscribe(s.Forward)
	bus.Publish(events.NewCycleStepChanged("cycle", "main", 3, "move_to_pick"))

	select {
	case msg := <-c.Receive():
		assert.Equal(t, MsgEvent, msg.Type)
		assert.Equal(t, string(events.TypeCycleStepChanged), msg.Data["event"])
		assert.Equal(t, "main", msg.Data["cycle"])
		assert.Equal(t, 3.0, msg.Data["step"])
		assert.Equal(t, "cycle", msg.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestClientDisconnectIsNoticed(t *testing.T) {
	s := startServer(t)
	c := connect(t, s)

	c.Disconnect()
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Send(NewMessage(MsgStatus, nil)), ErrNotConnected)
}

func TestIntArg(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]interface{}
		want    int
		wantErr bool
	}{
		{"json number", map[string]interface{}{"id": 4.0}, 4, false},
		{"int", map[string]interface{}{"id": 7}, 7, false},
		{"fraction", map[string]interface{}{"id": 1.5}, 0, true},
		{"string", map[string]interface{}{"id": "5"}, 0, true},
		{"missing", map[string]interface{}{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntArg(tt.data, "id")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type published struct {
	mu   sync.Mutex
	subj []string
	data [][]byte
}

func (p *published) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subj = append(p.subj, subject)
	p.data = append(p.data, data)
	return nil
}

func TestNATSBridgeSubjects(t *testing.T) {
	pub := &published{}
	bridge := NewNATSBridge(pub, "cell7")
	bus := events.NewBus()
	bus.Subscribe(bridge.Handle)

	bus.Publish(events.NewGripperChanged("monitor.aux", true))
	bus.Publish(events.NewConnectionChanged("watchdog", "connected", "suspected", true))

	require.Len(t, pub.subj, 2)
	assert.Equal(t, "cell7.gripper_changed", pub.subj[0])
	assert.Equal(t, "cell7.connection_changed", pub.subj[1])

	var msg types.IPCMessage
	require.NoError(t, json.Unmarshal(pub.data[0], &msg))
	assert.Equal(t, MsgEvent, msg.Type)
	assert.Equal(t, true, msg.Data["value"])
	assert.NoError(t, bridge.Close())
}
