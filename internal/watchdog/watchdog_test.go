package watchdog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/rpc"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotcell/internal/alarm"
	"robotcell/internal/events"
	"robotcell/internal/robot/sim"
	"robotcell/internal/state"
)

type fixture struct {
	robot    *sim.Robot
	state    *state.RobotState
	hub      *alarm.Hub
	recorder *events.Recorder
	wd       *Watchdog
	seen     []State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		robot:    sim.New(sim.Options{}),
		state:    state.New(),
		recorder: &events.Recorder{},
	}
	bus := events.NewBus()
	bus.Subscribe(f.recorder.Handle)
	f.hub = alarm.NewHub(f.state, bus)
	f.wd = New(Config{Address: "192.168.2.70", FailureThreshold: 2, ProbeTimeout: 100 * time.Millisecond},
		f.robot, f.robot, f.state, f.hub, bus)
	return f
}

func TestDisconnectAndRecover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.wd.Connect(ctx))
	require.Equal(t, Connected, f.wd.State())
	assert.True(t, f.state.Connected())

	f.wd.OnTransition(func(_, to State) { f.seen = append(f.seen, to) })

	f.robot.SetReachable(false)
	require.NoError(t, f.wd.Tick(ctx))
	assert.Equal(t, Suspected, f.wd.State())
	assert.False(t, f.hub.IsSignaled(alarm.KeyRobotDisconnected))

	require.NoError(t, f.wd.Tick(ctx))
	assert.Equal(t, Disconnected, f.wd.State())
	assert.True(t, f.hub.IsSignaled(alarm.KeyRobotDisconnected))
	assert.True(t, f.state.BlockingAlarm())
	assert.False(t, f.state.Connected())

	// further failures while disconnected raise nothing new
	require.NoError(t, f.wd.Tick(ctx))
	assert.Equal(t, Disconnected, f.wd.State())

	f.robot.SetReachable(true)
	require.NoError(t, f.wd.Tick(ctx))
	assert.Equal(t, Connected, f.wd.State())
	assert.True(t, f.state.Connected())
	assert.False(t, f.state.BlockingAlarm())

	assert.Equal(t, []State{Suspected, Disconnected, Reconnecting, Connected}, f.seen)
	assert.Equal(t, 1, f.recorder.Count(events.TypeAlarmRaised))
	assert.Equal(t, 1, f.recorder.Count(events.TypeAlarmResolved))
	assert.Equal(t, 2, f.robot.Calls("OpenChannel"))
}

func TestSuspectedRecoversWithoutReinit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.wd.Connect(ctx))

	f.robot.SetReachable(false)
	require.NoError(t, f.wd.Tick(ctx))
	f.robot.SetReachable(true)
	require.NoError(t, f.wd.Tick(ctx))

	assert.Equal(t, Connected, f.wd.State())
	assert.Equal(t, 0, f.wd.Failures())
	assert.Equal(t, 1, f.robot.Calls("OpenChannel"))
	assert.Equal(t, 0, f.recorder.Count(events.TypeAlarmRaised))
}

func TestHooksRunInOrderAndFailureRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var order []string
	fail := true
	f.wd.AddHook("collision", func(context.Context) error {
		order = append(order, "collision")
		if fail {
			return errors.New("apply failed")
		}
		return nil
	})
	f.wd.AddHook("mode", func(context.Context) error {
		order = append(order, "mode")
		return nil
	})

	require.Error(t, f.wd.Connect(ctx))
	assert.Equal(t, Disconnected, f.wd.State())
	assert.True(t, f.hub.IsSignaled(alarm.KeyRobotDisconnected))

	fail = false
	require.NoError(t, f.wd.Tick(ctx))
	assert.Equal(t, Connected, f.wd.State())
	assert.Equal(t, []string{"collision", "collision", "mode"}, order)
	assert.False(t, f.hub.IsSignaled(alarm.KeyRobotDisconnected))
}

type stuckProber struct{}

func (stuckProber) Probe(context.Context) error {
	time.Sleep(time.Second)
	return nil
}

func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	f.wd.prober = stuckProber{}

	start := time.Now()
	err := f.wd.probe(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTickStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.wd.Tick(ctx), context.Canceled)
}

func TestDisconnectAlarmReturnsAfterClearWhileDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.wd.Connect(ctx))

	f.robot.SetReachable(false)
	require.NoError(t, f.wd.Tick(ctx))
	require.NoError(t, f.wd.Tick(ctx))
	require.Equal(t, Disconnected, f.wd.State())

	// operator clears while the controller is still unreachable
	assert.Equal(t, 1, f.hub.ClearAll())
	assert.False(t, f.state.BlockingAlarm())

	require.NoError(t, f.wd.Tick(ctx))
	assert.Equal(t, Disconnected, f.wd.State())
	assert.True(t, f.hub.IsSignaled(alarm.KeyRobotDisconnected))
	assert.True(t, f.state.BlockingAlarm())
	assert.Equal(t, 2, f.recorder.Count(events.TypeAlarmRaised))

	// still signalled: no duplicate
	require.NoError(t, f.wd.Tick(ctx))
	assert.Equal(t, 2, f.recorder.Count(events.TypeAlarmRaised))
}

func TestRPCProbe(t *testing.T) {
	fault := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/RPC2", r.URL.Path)
		if fault {
			_, _ = w.Write([]byte(`<?xml version="1.0"?><methodResponse><fault><value><struct>` +
				`<member><name>faultCode</name><value><int>4</int></value></member>` +
				`<member><name>faultString</name><value><string>busy</string></value></member>` +
				`</struct></value></fault></methodResponse>`))
			return
		}
		_, _ = w.Write([]byte(`<?xml version="1.0"?><methodResponse><params><param><value><int>0</int></value></param></params></methodResponse>`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	p := NewRPCProbe(u.Hostname(), port, "", time.Second)
	assert.NoError(t, p.Probe(context.Background()))

	fault = true
	err = p.Probe(context.Background())
	var se rpc.ServerError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "busy")

	fault = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Probe(ctx), context.Canceled)

	srv.Close()
	assert.Error(t, p.Probe(context.Background()))
}
