// Package watchdog supervises the robot control channel. It probes liveness on its own short
// timeout, declares the channel dead after consecutive failures and drives re-initialization.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"robotcell/internal/alarm"
	"robotcell/internal/events"
	"robotcell/internal/logging"
	"robotcell/internal/metrics"
	"robotcell/internal/robot"
	"robotcell/internal/state"
)

// State 看门狗状态
type State int

const (
	Connected State = iota
	Suspected
	Disconnected
	Reconnecting
)

func (s State) String() string {
	return [...]string{"connected", "suspected", "disconnected", "reconnecting"}[s]
}

// Config 看门狗配置
type Config struct {
	Address           string
	FailureThreshold  int
	ProbeTimeout      time.Duration
	ReconnectTimeout  time.Duration
	ReconnectInterval time.Duration
}

// Hook re-initializes one dependent component after the channel is reopened.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// Watchdog 连接看门狗
type Watchdog struct {
	cfg     Config
	prober  robot.Prober
	channel robot.Channel
	robot   *state.RobotState
	alarms  alarm.Raiser
	bus     events.Publisher
	limiter *rate.Limiter

	mu          sync.RWMutex
	current     State
	failures    int
	channelOpen bool
	needsReinit bool
	hooks       []namedHook
	listeners   []func(from, to State)

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New 创建看门狗. The channel starts closed; Connect or the first successful tick opens it.
func New(cfg Config, prober robot.Prober, channel robot.Channel, st *state.RobotState, alarms alarm.Raiser, bus events.Publisher) *Watchdog {
	if cfg.FailureThreshold < 2 {
		cfg.FailureThreshold = 2
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 400 * time.Millisecond
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.ReconnectInterval > 0 {
		limit = rate.Every(cfg.ReconnectInterval)
	}

	w := &Watchdog{
		cfg:         cfg,
		prober:      prober,
		channel:     channel,
		robot:       st,
		alarms:      alarms,
		bus:         bus,
		limiter:     rate.NewLimiter(limit, 1),
		current:     Disconnected,
		needsReinit: true,
		logger:      logging.GetLogger("watchdog"),
		metrics:     metrics.Default(),
	}
	w.metrics.WatchdogState.Set(float64(Disconnected))
	return w
}

func (w *Watchdog) Name() string { return "watchdog" }

// AddHook registers a re-initialization step, run in registration order after the channel
// is reopened.
func (w *Watchdog) AddHook(name string, fn Hook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, namedHook{name: name, fn: fn})
}

// OnTransition registers a listener called on every state change.
func (w *Watchdog) OnTransition(fn func(from, to State)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// State returns the current state.
func (w *Watchdog) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Failures returns the consecutive probe failure count.
func (w *Watchdog) Failures() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.failures
}

// Connect performs the startup connection. On failure the channel is marked disconnected
// and later ticks keep retrying.
func (w *Watchdog) Connect(ctx context.Context) error {
	if err := w.probe(ctx); err != nil {
		w.disconnect(err)
		return fmt.Errorf("initial probe: %w", err)
	}
	if !w.reconnect(ctx) {
		w.disconnect(nil)
		return fmt.Errorf("initial connection to %s failed", w.cfg.Address)
	}
	return nil
}

// Tick runs one probe and at most one transition chain. It only returns an error when ctx
// is done.
func (w *Watchdog) Tick(ctx context.Context) error {
	err := w.probe(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.mu.Lock()
	cur := w.current
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	failures := w.failures
	needsReinit := w.needsReinit
	w.mu.Unlock()

	if err != nil {
		w.metrics.ProbeFailuresTotal.Inc()
		w.logger.Warn("Liveness probe failed", "failures", failures, "threshold", w.cfg.FailureThreshold, "error", err)
		switch {
		case cur == Disconnected:
			// 断线期间告警可能已被清除
			w.raiseDisconnected()
		case failures >= w.cfg.FailureThreshold:
			w.disconnect(err)
		case cur == Connected:
			w.setState(Suspected)
		}
		return nil
	}

	switch cur {
	case Suspected:
		if needsReinit {
			w.reconnect(ctx)
		} else {
			w.setState(Connected)
		}
	case Disconnected:
		w.reconnect(ctx)
	}
	return nil
}

// probe bounds the prober by ProbeTimeout even if it ignores its context.
func (w *Watchdog) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- w.prober.Probe(pctx) }()

	select {
	case err := <-result:
		return err
	case <-pctx.Done():
		return fmt.Errorf("liveness probe: %w", pctx.Err())
	}
}

func (w *Watchdog) disconnect(cause error) {
	w.setState(Disconnected)

	w.mu.Lock()
	wasOpen := w.channelOpen
	w.channelOpen = false
	w.needsReinit = true
	w.mu.Unlock()

	if wasOpen {
		if err := w.channel.CloseChannel(); err != nil {
			w.logger.Warn("Failed to close control channel", "error", err)
		}
	}
	w.robot.SetConnected(false)

	w.raiseDisconnected()
	w.logger.Error("Robot control channel declared dead", "address", w.cfg.Address, "cause", cause)
}

// raiseDisconnected keeps the blocking disconnect alarm signalled while the link is down. The
// hub deduplicates by key, so repeated calls raise it once.
func (w *Watchdog) raiseDisconnected() {
	w.alarms.Raise(alarm.KeyRobotDisconnected, alarm.Details{
		ID:          "1",
		Description: "Robot disconnected",
		Device:      alarm.DeviceRobot,
		Severity:    alarm.Blocking,
	})
}

// reconnect walks Reconnecting to Connected or back to Suspected. Attempts are paced by the
// reconnect limiter; a denied attempt leaves the state untouched.
func (w *Watchdog) reconnect(ctx context.Context) bool {
	if !w.limiter.Allow() {
		return false
	}
	w.setState(Reconnecting)

	rctx, cancel := context.WithTimeout(ctx, w.cfg.ReconnectTimeout)
	defer cancel()

	if err := w.reinitialize(rctx); err != nil {
		w.metrics.ReconnectsTotal.WithLabelValues("failed").Inc()
		w.logger.Error("Re-initialization failed", "error", err)
		w.mu.Lock()
		w.failures = 1
		w.mu.Unlock()
		w.setState(Suspected)
		return false
	}

	w.mu.Lock()
	w.failures = 0
	w.needsReinit = false
	w.mu.Unlock()

	w.robot.SetConnected(true)
	w.alarms.Resolve(alarm.KeyRobotDisconnected)
	w.metrics.ReconnectsTotal.WithLabelValues("ok").Inc()
	w.setState(Connected)
	return true
}

func (w *Watchdog) reinitialize(ctx context.Context) error {
	w.mu.Lock()
	wasOpen := w.channelOpen
	w.channelOpen = false
	hooks := append([]namedHook(nil), w.hooks...)
	w.mu.Unlock()

	if wasOpen {
		_ = w.channel.CloseChannel()
	}

	code, err := w.channel.OpenChannel(ctx, w.cfg.Address)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("open channel: result code %d", code)
	}
	w.mu.Lock()
	w.channelOpen = true
	w.mu.Unlock()

	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.fn(ctx); err != nil {
			return fmt.Errorf("reinit %s: %w", h.name, err)
		}
	}
	return nil
}

func (w *Watchdog) setState(to State) {
	w.mu.Lock()
	from := w.current
	if from == to {
		w.mu.Unlock()
		return
	}
	w.current = to
	listeners := append([]func(from, to State){}, w.listeners...)
	w.mu.Unlock()

	w.metrics.WatchdogState.Set(float64(to))
	w.logger.Info("Watchdog state changed", "from", from, "to", to)
	if w.bus != nil {
		w.bus.Publish(events.NewConnectionChanged("watchdog", from.String(), to.String(), to == Connected))
	}
	for _, fn := range listeners {
		fn(from, to)
	}
}
