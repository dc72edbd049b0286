// Package comm holds what field-bus clients share: link status, listener fan-out and
// bounded retries.
package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"robotcell/internal/logging"
)

// Base 基础通信实现
type Base struct {
	config    ConnectionConfig
	status    ConnectionStatus
	lastError error
	listeners []Listener
	mutex     sync.RWMutex
	logger    *logging.Logger
}

// NewBase 创建基础通信实例
func NewBase(config ConnectionConfig, name string) *Base {
	return &Base{
		config: config,
		status: StatusDisconnected,
		logger: logging.GetLogger(name),
	}
}

// Status 获取连接状态
func (b *Base) Status() ConnectionStatus {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.status
}

// LastError 获取最后错误
func (b *Base) LastError() error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.lastError
}

// IsConnected 检查是否连接
func (b *Base) IsConnected() bool {
	return b.Status() == StatusConnected
}

// AddListener 添加状态监听器
func (b *Base) AddListener(l Listener) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.listeners = append(b.listeners, l)
}

// SetStatus changes the link status and notifies listeners on connect and disconnect edges.
func (b *Base) SetStatus(status ConnectionStatus) {
	b.mutex.Lock()
	prev := b.status
	b.status = status
	b.mutex.Unlock()

	if prev == status {
		return
	}
	switch {
	case status == StatusConnected:
		b.emit(func(l Listener) { l.OnConnected() })
	case prev == StatusConnected:
		b.emit(func(l Listener) { l.OnDisconnected() })
	}
}

// Fail records err, drops the link to StatusError and notifies listeners.
func (b *Base) Fail(err error) error {
	b.mutex.Lock()
	b.lastError = err
	b.mutex.Unlock()

	b.SetStatus(StatusError)
	b.emit(func(l Listener) { l.OnError(err) })
	return err
}

func (b *Base) emit(callback func(Listener)) {
	b.mutex.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mutex.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Listener panic", "panic", r)
				}
			}()
			callback(l)
		}()
	}
}

// RetryWithTimeout runs operation up to RetryCount+1 times. Only network and timeout errors
// are retried; protocol exceptions return at once.
func (b *Base) RetryWithTimeout(ctx context.Context, operation func() error) error {
	var lastErr error

	for i := 0; i <= b.config.RetryCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) || i == b.config.RetryCount {
			break
		}

		select {
		case <-time.After(b.config.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
		b.logger.Warn("Retry after error", "attempt", i+1, "max_attempts", b.config.RetryCount, "error", err)
	}

	if b.config.RetryCount == 0 {
		return lastErr
	}
	return fmt.Errorf("operation failed after %d retries, last error: %w", b.config.RetryCount, lastErr)
}

// Retryable reports whether err is a transport-level failure worth another attempt.
func Retryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
