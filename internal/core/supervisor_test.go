package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitStatus(t *testing.T, s *Supervisor, name string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := s.Wait(ctx, name)
	require.NoError(t, err)
	return st
}

func TestRegisterDuplicateName(t *testing.T) {
	s := NewSupervisor(context.Background())
	body := func(context.Context) error { return nil }

	require.NoError(t, s.Register("monitor", Recurring, body))
	err := s.Register("monitor", OneShot, body)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestUnknownTask(t *testing.T) {
	s := NewSupervisor(context.Background())
	assert.ErrorIs(t, s.Start("nope"), ErrUnknownTask)
	assert.ErrorIs(t, s.Stop("nope"), ErrUnknownTask)
	_, err := s.Status("nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestStartTwiceRunsOneInstance(t *testing.T) {
	s := NewSupervisor(context.Background())
	var instances, maxInstances int32

	body := func(ctx context.Context) error {
		n := atomic.AddInt32(&instances, 1)
		for {
			old := atomic.LoadInt32(&maxInstances)
			if n <= old || atomic.CompareAndSwapInt32(&maxInstances, old, n) {
				break
			}
		}
		<-ctx.Done()
		atomic.AddInt32(&instances, -1)
		return ctx.Err()
	}
	require.NoError(t, s.Register("cycle.main", OneShot, body))

	require.NoError(t, s.Start("cycle.main"))
	err := s.Start("cycle.main")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&instances) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning("cycle.main"))

	require.NoError(t, s.Stop("cycle.main"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInstances))
	assert.Equal(t, int32(0), atomic.LoadInt32(&instances))

	st, err := s.Status("cycle.main")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st)
}

func TestRecurringIteratesUntilStopped(t *testing.T) {
	s := NewSupervisor(context.Background())
	var ticks int32
	require.NoError(t, s.Register("monitor.high", Recurring, func(context.Context) error {
		atomic.AddInt32(&ticks, 1)
		return nil
	}, WithInterval(time.Millisecond)))

	require.NoError(t, s.Start("monitor.high"))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 5 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop("monitor.high"))
	require.NoError(t, s.Stop("monitor.high"))
	stopped := atomic.LoadInt32(&ticks)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&ticks))

	st, _ := s.Status("monitor.high")
	assert.Equal(t, StatusCancelled, st)
}

func TestTerminalStatuses(t *testing.T) {
	s := NewSupervisor(context.Background())
	boom := errors.New("boom")

	require.NoError(t, s.Register("ok", OneShot, func(context.Context) error { return nil }))
	require.NoError(t, s.Register("done", Recurring, func(context.Context) error { return ErrDone }))
	require.NoError(t, s.Register("fails", OneShot, func(context.Context) error { return boom }))
	require.NoError(t, s.Register("panics", Recurring, func(context.Context) error { panic("bad index") }))

	var sibling int32
	require.NoError(t, s.Register("sibling", Recurring, func(context.Context) error {
		atomic.AddInt32(&sibling, 1)
		return nil
	}, WithInterval(time.Millisecond)))
	require.NoError(t, s.Start("sibling"))

	for _, name := range []string{"ok", "done", "fails", "panics"} {
		require.NoError(t, s.Start(name))
	}

	assert.Equal(t, StatusCompleted, waitStatus(t, s, "ok"))
	assert.Equal(t, StatusCompleted, waitStatus(t, s, "done"))
	assert.Equal(t, StatusFaulted, waitStatus(t, s, "fails"))
	assert.Equal(t, StatusFaulted, waitStatus(t, s, "panics"))

	// the panic did not take the sibling down
	before := atomic.LoadInt32(&sibling)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&sibling) > before }, time.Second, time.Millisecond)
	assert.True(t, s.IsRunning("sibling"))

	var failsInfo Info
	for _, in := range s.Tasks() {
		if in.Name == "fails" {
			failsInfo = in
		}
	}
	assert.Equal(t, "boom", failsInfo.LastError)
	assert.Equal(t, "faulted", failsInfo.Status)
}

func TestRestartAfterExit(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs int32
	require.NoError(t, s.Register("home", OneShot, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))

	require.NoError(t, s.Start("home"))
	assert.Equal(t, StatusCompleted, waitStatus(t, s, "home"))
	require.NoError(t, s.Start("home"))
	assert.Equal(t, StatusCompleted, waitStatus(t, s, "home"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestOnExitHook(t *testing.T) {
	s := NewSupervisor(context.Background())
	exits := make(chan Info, 1)
	s.OnExit(func(in Info) { exits <- in })
	require.NoError(t, s.Register("plc.sync", OneShot, func(context.Context) error { return nil }))
	require.NoError(t, s.Start("plc.sync"))

	select {
	case in := <-exits:
		assert.Equal(t, "plc.sync", in.Name)
		assert.Equal(t, "completed", in.Status)
	case <-time.After(time.Second):
		t.Fatal("exit hook not called")
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	s := NewSupervisor(context.Background())
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Register(name, Recurring, func(context.Context) error { return nil }, WithInterval(time.Millisecond)))
		require.NoError(t, s.Start(name))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.False(t, s.IsRunning("a"))
	assert.ErrorIs(t, s.Start("a"), ErrClosed)
	assert.Empty(t, s.Tasks())
}
