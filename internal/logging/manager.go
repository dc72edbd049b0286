package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// 全局日志管理器实例
	defaultManager *Manager
	once           sync.Once
)

// Manager 日志管理器，按模块名缓存日志器
type Manager struct {
	mu      sync.RWMutex
	output  *switchHandler
	root    *Logger
	loggers map[string]*Logger
}

// NewManager 创建新的日志管理器
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	w, err := openOutput(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create default logger: %w", err)
	}
	level := new(slog.LevelVar)
	level.Set(parseLevel(config.Level))
	out := newSwitchHandler(newHandler(w, config, level))
	return &Manager{
		output:  out,
		root:    &Logger{Logger: slog.New(out), level: level},
		loggers: make(map[string]*Logger),
	}, nil
}

// GetManager 获取全局日志管理器实例
func GetManager() *Manager {
	once.Do(func() {
		defaultManager, _ = NewManager(DefaultConfig())
	})
	return defaultManager
}

// Configure points every logger of the manager, including those handed out earlier, at a new
// output, format and level.
func (m *Manager) Configure(config *Config) error {
	if config == nil {
		config = DefaultConfig()
	}
	w, err := openOutput(config)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root.level.Set(parseLevel(config.Level))
	m.output.swap(newHandler(w, config, m.root.level))
	return nil
}

// Configure 配置全局日志管理器
func Configure(config *Config) error {
	return GetManager().Configure(config)
}

// Logger 获取指定名称的日志器
func (m *Manager) Logger(name string) *Logger {
	m.mu.RLock()
	logger, exists := m.loggers[name]
	m.mu.RUnlock()
	if exists {
		return logger
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if logger, exists := m.loggers[name]; exists {
		return logger
	}
	logger = m.root.With("module", name)
	m.loggers[name] = logger
	return logger
}

// SetLevel 更新所有日志器的级别
func (m *Manager) SetLevel(level string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.root.SetLevel(level)
}

// Names 获取所有日志器名称
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.loggers))
	for name := range m.loggers {
		names = append(names, name)
	}
	return names
}

// GetLogger 使用全局管理器获取日志器
func GetLogger(name string) *Logger {
	return GetManager().Logger(name)
}

// Default 获取默认日志器
func Default() *Logger {
	m := GetManager()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// switchHandler forwards records to a root handler that Configure can replace. Attributes and
// groups added through With are replayed on the current root and cached until the next swap.
type switchHandler struct {
	root   *atomic.Pointer[handlerBox]
	derive func(slog.Handler) slog.Handler
	cache  atomic.Pointer[derived]
}

type handlerBox struct{ h slog.Handler }

type derived struct {
	root *handlerBox
	h    slog.Handler
}

func newSwitchHandler(h slog.Handler) *switchHandler {
	root := new(atomic.Pointer[handlerBox])
	root.Store(&handlerBox{h: h})
	return &switchHandler{root: root}
}

func (s *switchHandler) swap(h slog.Handler) {
	s.root.Store(&handlerBox{h: h})
}

func (s *switchHandler) current() slog.Handler {
	box := s.root.Load()
	if s.derive == nil {
		return box.h
	}
	if d := s.cache.Load(); d != nil && d.root == box {
		return d.h
	}
	h := s.derive(box.h)
	s.cache.Store(&derived{root: box, h: h})
	return h
}

func (s *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.current().Enabled(ctx, level)
}

func (s *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

func (s *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.chain(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *switchHandler) WithGroup(name string) slog.Handler {
	return s.chain(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *switchHandler) chain(step func(slog.Handler) slog.Handler) slog.Handler {
	prev := s.derive
	return &switchHandler{
		root: s.root,
		derive: func(h slog.Handler) slog.Handler {
			if prev != nil {
				h = prev(h)
			}
			return step(h)
		},
	}
}
