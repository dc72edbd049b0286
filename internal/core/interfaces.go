package core

import (
	"context"
	"time"
)

// Loop is a periodic unit hosted by the supervisor: the watchdog and every monitor loop.
type Loop interface {
	Name() string
	Tick(ctx context.Context) error
}

// RegisterLoop registers l as a recurring task ticking every interval.
func RegisterLoop(s *Supervisor, l Loop, interval time.Duration) error {
	return s.Register(l.Name(), Recurring, l.Tick, WithInterval(interval))
}
