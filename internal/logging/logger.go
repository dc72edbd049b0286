// Package logging provides named structured loggers on top of log/slog. Every supervisor loop
// takes its own logger so records carry the emitting module.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"robotcell/pkg/types"
)

// Config 日志配置结构
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, text
	Output     string `yaml:"output"`      // stdout, stderr, file
	OutputPath string `yaml:"output_path"` // 文件输出路径
	AddSource  bool   `yaml:"add_source"`
}

// Logger 封装的结构化日志器
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
}

// FromTypes converts the logging section of robotcell.yaml.
func FromTypes(c types.LogConfig) *Config {
	cfg := DefaultConfig()
	if c.Level != "" {
		cfg.Level = c.Level
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	if c.Output != "" {
		cfg.Output = c.Output
	}
	cfg.OutputPath = c.OutputPath
	cfg.AddSource = c.AddSource
	return cfg
}

// NewLogger 创建新的日志器实例
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	writer, err := openOutput(config)
	if err != nil {
		return nil, err
	}
	return newLogger(writer, config), nil
}

func newLogger(w io.Writer, config *Config) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(config.Level))
	return &Logger{Logger: slog.New(newHandler(w, config, level)), level: level}
}

func newHandler(w io.Writer, config *Config, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}
	if strings.ToLower(config.Format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Discard 返回丢弃所有输出的日志器，测试使用
func Discard() *Logger {
	return newLogger(io.Discard, DefaultConfig())
}

// parseLevel 解析日志级别
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(config *Config) (io.Writer, error) {
	switch strings.ToLower(config.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		if config.OutputPath == "" {
			config.OutputPath = "logs/robotcell.log"
		}
		if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}

// With 返回带有额外字段的日志器
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// SetLevel 动态更新日志级别, 同一输出上派生的日志器共享级别
func (l *Logger) SetLevel(level string) {
	l.level.Set(parseLevel(level))
}
