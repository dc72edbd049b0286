// Package core implements the task supervisor: a registry of named, cancellable loops that
// hosts the watchdog, the monitor loops and the motion cycles.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"robotcell/internal/logging"
	"robotcell/internal/metrics"
)

var (
	ErrDuplicateName  = errors.New("task name already registered")
	ErrUnknownTask    = errors.New("unknown task")
	ErrAlreadyRunning = errors.New("task already running")
	ErrClosed         = errors.New("supervisor is shut down")
	// ErrDone ends a recurring task with status Completed.
	ErrDone = errors.New("task done")
)

// Kind 任务类型
type Kind int

const (
	Recurring Kind = iota
	OneShot
)

func (k Kind) String() string {
	if k == OneShot {
		return "oneshot"
	}
	return "recurring"
}

// Status 任务状态
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
	StatusCancelled
	StatusFaulted
)

func (s Status) String() string {
	return [...]string{"idle", "running", "completed", "cancelled", "faulted"}[s]
}

// Terminal reports whether s is an exit status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFaulted
}

// Func is a task body. A recurring body is one iteration; a one-shot body runs to the end
// and checks ctx at each suspension point.
type Func func(ctx context.Context) error

// Info 任务信息快照
type Info struct {
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	Status    string        `json:"status"`
	Running   bool          `json:"running"`
	Runs      int           `json:"runs"`
	Interval  time.Duration `json:"interval"`
	LastError string        `json:"last_error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt time.Time     `json:"stopped_at"`
}

type descriptor struct {
	name     string
	kind     Kind
	body     Func
	interval time.Duration

	running   bool
	status    Status
	err       error
	runs      int
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	stoppedAt time.Time
}

func (d *descriptor) info() Info {
	in := Info{
		Name:      d.name,
		Kind:      d.kind.String(),
		Status:    d.status.String(),
		Running:   d.running,
		Runs:      d.runs,
		Interval:  d.interval,
		StartedAt: d.startedAt,
		StoppedAt: d.stoppedAt,
	}
	if d.err != nil {
		in.LastError = d.err.Error()
	}
	return in
}

// TaskOption 任务注册选项
type TaskOption func(*descriptor)

// WithInterval sets the delay between iterations of a recurring task.
func WithInterval(d time.Duration) TaskOption {
	return func(t *descriptor) { t.interval = d }
}

// Supervisor 任务监督器
type Supervisor struct {
	mu      sync.Mutex
	tasks   map[string]*descriptor
	order   []string
	onExit  []func(Info)
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewSupervisor creates a supervisor whose tasks all derive from parent.
func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		tasks:   make(map[string]*descriptor),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.GetLogger("supervisor"),
		metrics: metrics.Default(),
	}
}

// Register adds a task. Names are unique for the life of the supervisor.
func (s *Supervisor) Register(name string, kind Kind, body Func, opts ...TaskOption) error {
	if body == nil {
		return fmt.Errorf("task %s: nil body", name)
	}

	d := &descriptor{name: name, kind: kind, body: body, interval: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	s.tasks[name] = d
	s.order = append(s.order, name)

	s.logger.Debug("Task registered", "task", name, "kind", kind, "interval", d.interval)
	return nil
}

// OnExit registers a callback invoked after every task exit.
func (s *Supervisor) OnExit(fn func(Info)) {
	s.mu.Lock()
	s.onExit = append(s.onExit, fn)
	s.mu.Unlock()
}

// Start launches a registered task. A task already running is never started twice.
func (s *Supervisor) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	d, exists := s.tasks[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if d.running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	d.running = true
	d.status = StatusRunning
	d.err = nil
	d.runs++
	d.cancel = cancel
	d.done = done
	d.startedAt = time.Now()

	s.metrics.TasksRunning.Inc()
	go s.run(ctx, d, done)

	s.logger.Info("Task started", "task", name, "kind", d.kind)
	return nil
}

// Stop cancels a running task and waits for it to exit. Stopping a stopped task is a no-op.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	d, exists := s.tasks[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if !d.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := d.cancel, d.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Wait blocks until the named task is not running or ctx ends, and returns its status.
func (s *Supervisor) Wait(ctx context.Context, name string) (Status, error) {
	s.mu.Lock()
	d, exists := s.tasks[name]
	if !exists {
		s.mu.Unlock()
		return StatusIdle, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	done := d.done
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return StatusRunning, ctx.Err()
		}
	}
	return s.Status(name)
}

// Status returns the current status of a task.
func (s *Supervisor) Status(name string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, exists := s.tasks[name]
	if !exists {
		return StatusIdle, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return d.status, nil
}

// IsRunning reports whether the named task is running.
func (s *Supervisor) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, exists := s.tasks[name]
	return exists && d.running
}

// Tasks returns a snapshot of every task in registration order.
func (s *Supervisor) Tasks() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tasks[name].info())
	}
	return out
}

// Shutdown stops every running task in parallel and refuses further starts. Descriptors are
// released once all tasks have exited.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	names := make([]string, 0, len(s.tasks))
	for _, name := range s.order {
		if s.tasks[name].running {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error { return s.Stop(name) })
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	select {
	case err := <-waitErr:
		s.cancel()
		s.mu.Lock()
		s.tasks = make(map[string]*descriptor)
		s.order = nil
		s.mu.Unlock()
		s.logger.Info("Supervisor shut down", "stopped", len(names))
		return err
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}

func (s *Supervisor) run(ctx context.Context, d *descriptor, done chan struct{}) {
	defer close(done)

	status, err := s.invoke(ctx, d)

	s.mu.Lock()
	d.running = false
	d.status = status
	d.err = err
	d.stoppedAt = time.Now()
	d.cancel()
	info := d.info()
	hooks := append([]func(Info){}, s.onExit...)
	s.mu.Unlock()

	s.metrics.TasksRunning.Dec()
	s.metrics.TaskExitsTotal.WithLabelValues(d.name, status.String()).Inc()

	switch status {
	case StatusFaulted:
		s.logger.Error("Task faulted", "task", d.name, "error", err)
	default:
		s.logger.Info("Task exited", "task", d.name, "status", status)
	}

	for _, hook := range hooks {
		hook(info)
	}
}

// invoke runs the body and maps its outcome onto a terminal status. A panic faults only this
// task.
func (s *Supervisor) invoke(ctx context.Context, d *descriptor) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = StatusFaulted, fmt.Errorf("panic: %v", r)
		}
	}()

	if d.kind == OneShot {
		return classify(ctx, d.body(ctx))
	}

	timer := time.NewTimer(d.interval)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return StatusCancelled, nil
		}
		if err := d.body(ctx); err != nil {
			return classify(ctx, err)
		}
		timer.Reset(d.interval)
		select {
		case <-ctx.Done():
			return StatusCancelled, nil
		case <-timer.C:
		}
	}
}

func classify(ctx context.Context, err error) (Status, error) {
	switch {
	case err == nil, errors.Is(err, ErrDone):
		return StatusCompleted, nil
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return StatusCancelled, nil
	default:
		return StatusFaulted, err
	}
}
