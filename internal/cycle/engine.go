// Package cycle runs motion cycles as explicit finite state machines. A Definition holds the
// steps and the (step, event) transition table; an Engine executes one definition, keeping its
// current step across runs so an interrupted cycle resumes where it stopped.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"robotcell/internal/core"
	"robotcell/internal/events"
	"robotcell/internal/logging"
	"robotcell/internal/metrics"
	"robotcell/internal/state"
)

var (
	ErrHalted            = errors.New("cycle halted")
	ErrIllegalTransition = errors.New("illegal cycle transition")
	ErrInvalidPose       = errors.New("invalid named pose")
	ErrKinematics        = errors.New("inverse kinematics failed")
	ErrMotion            = errors.New("motion command failed")
)

// Action performs one step. Errors halt the cycle at the failing step.
type Action func(ctx context.Context) (Event, error)

// StepSpec 步骤定义
type StepSpec struct {
	Action Action
	// Interruptible steps are where stop and pause requests are honoured. Never set it on a
	// step that leaves a motion or the gripper half done.
	Interruptible bool
}

type transition struct {
	from Step
	on   Event
}

// Definition 循环定义
type Definition struct {
	name     string
	start    Step
	terminal Step
	steps    map[Step]StepSpec
	table    map[transition]Step
}

// NewDefinition 创建循环定义
func NewDefinition(name string, start, terminal Step) *Definition {
	return &Definition{
		name:     name,
		start:    start,
		terminal: terminal,
		steps:    make(map[Step]StepSpec),
		table:    make(map[transition]Step),
	}
}

func (d *Definition) Name() string   { return d.name }
func (d *Definition) Start() Step    { return d.start }
func (d *Definition) Terminal() Step { return d.terminal }

// Define registers the action of step s.
func (d *Definition) Define(s Step, spec StepSpec) *Definition {
	d.steps[s] = spec
	return d
}

// On adds the transition from --ev--> to.
func (d *Definition) On(from Step, ev Event, to Step) *Definition {
	d.table[transition{from, ev}] = to
	return d
}

// Next resolves a transition. Wait always stays on the current step.
func (d *Definition) Next(from Step, ev Event) (Step, error) {
	if ev == Wait {
		return from, nil
	}
	to, ok := d.table[transition{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s in %s", ErrIllegalTransition, from, ev, d.name)
	}
	return to, nil
}

// Validate checks that every step reachable through the table has an action and every
// defined step can advance.
func (d *Definition) Validate() error {
	if _, ok := d.steps[d.start]; !ok {
		return fmt.Errorf("cycle %s: start step %s has no action", d.name, d.start)
	}
	for tr, to := range d.table {
		if _, ok := d.steps[tr.from]; !ok {
			return fmt.Errorf("cycle %s: transition from undefined step %s", d.name, tr.from)
		}
		if _, ok := d.steps[to]; !ok && to != d.terminal {
			return fmt.Errorf("cycle %s: transition to undefined step %s", d.name, to)
		}
	}
	for s, spec := range d.steps {
		if spec.Action == nil {
			return fmt.Errorf("cycle %s: step %s has no action", d.name, s)
		}
		if _, ok := d.table[transition{s, Advance}]; !ok {
			if _, skip := d.table[transition{s, Skip}]; !skip {
				return fmt.Errorf("cycle %s: step %s never advances", d.name, s)
			}
		}
		if spec.Interruptible {
			if _, ok := d.table[transition{s, Stop}]; !ok {
				return fmt.Errorf("cycle %s: interruptible step %s has no stop route", d.name, s)
			}
		}
	}
	return nil
}

// Engine 循环执行器
type Engine struct {
	def   *Definition
	poll  time.Duration
	state *state.RobotState
	bus   events.Publisher

	mu      sync.Mutex
	current Step

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewEngine validates def and returns an engine positioned at its start step.
func NewEngine(def *Definition, poll time.Duration, st *state.RobotState, bus events.Publisher) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if poll <= 0 {
		poll = 40 * time.Millisecond
	}
	e := &Engine{
		def:     def,
		poll:    poll,
		state:   st,
		bus:     bus,
		current: def.start,
		logger:  logging.GetLogger("cycle." + def.name),
		metrics: metrics.Default(),
	}
	e.publish(def.start)
	return e, nil
}

func (e *Engine) Name() string { return e.def.name }

// Current returns the step the next Run starts from.
func (e *Engine) Current() Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Reset rewinds the engine to the start step and republishes it, since the published step may
// have been zeroed without the engine moving.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.current = e.def.start
	e.mu.Unlock()
	e.publish(e.def.start)
}

func (e *Engine) setStep(s Step) {
	e.mu.Lock()
	prev := e.current
	e.current = s
	e.mu.Unlock()
	if prev != s {
		e.publish(s)
	}
}

func (e *Engine) publish(s Step) {
	e.state.SetStep(e.def.name, s.Code())
	e.metrics.CycleStep.WithLabelValues(e.def.name).Set(float64(s.Code()))
	if e.bus != nil {
		e.bus.Publish(events.NewCycleStepChanged("cycle", e.def.name, s.Code(), s.String()))
	}
}

// Run executes steps until the terminal step (core.ErrDone), cancellation (ctx.Err()) or a
// halting fault. The current step is kept on every exit except completion.
func (e *Engine) Run(ctx context.Context) error {
	if reason := e.notReady(); reason != "" {
		return fmt.Errorf("%w: %s", ErrHalted, reason)
	}

	e.state.SetCycleRunning(e.def.name, true)
	defer e.state.SetCycleRunning(e.def.name, false)
	e.logger.Info("Cycle running", "step", e.Current())

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("Cycle cancelled", "step", e.Current())
			return err
		}
		if reason := e.notReady(); reason != "" {
			e.logger.Warn("Cycle halted", "step", e.Current(), "reason", reason)
			return fmt.Errorf("%w: %s", ErrHalted, reason)
		}

		step := e.Current()
		if step == e.def.terminal {
			e.setStep(e.def.start)
			e.state.SetStopRequested(false)
			e.logger.Info("Cycle completed")
			return core.ErrDone
		}

		spec := e.def.steps[step]
		var (
			ev  Event
			err error
		)
		switch {
		case spec.Interruptible && e.state.StopRequested():
			ev = Stop
		case spec.Interruptible && e.state.PauseRequested():
			ev = Wait
		default:
			ev, err = spec.Action(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("Cycle step failed", "step", step, "error", err)
			return err
		}

		next, err := e.def.Next(step, ev)
		if err != nil {
			return err
		}
		if next == step {
			if err := sleep(ctx, e.poll); err != nil {
				return err
			}
			continue
		}
		e.logger.Debug("Cycle step", "from", step, "event", ev, "to", next)
		e.setStep(next)
	}
}

func (e *Engine) notReady() string {
	switch {
	case !e.state.Connected():
		return "robot disconnected"
	case e.state.BlockingAlarm():
		return "blocking alarm present"
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
