package channel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Lifecycle tracks the connection state of one channel instance. Adapters
// embed it to get serialized connect/disconnect and idempotent teardown.
type Lifecycle struct {
	name      string
	logger    *slog.Logger
	mu        sync.Mutex
	connected atomic.Bool
	stop      func(ctx context.Context) error
}

// NewLifecycle creates a Lifecycle for the named channel.
func NewLifecycle(name string, log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{
		name:   name,
		logger: log,
	}
}

// Open runs open under the lifecycle lock and marks the channel connected on
// success. open returns the teardown function used by Close. Opening an
// already connected channel is a no-op.
func (l *Lifecycle) Open(ctx context.Context, open func(ctx context.Context) (func(context.Context) error, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected.Load() {
		return nil
	}
	stop, err := open(ctx)
	if err != nil {
		return err
	}
	l.stop = stop
	l.connected.Store(true)
	l.logger.Info("channel connected", slog.String("channel", l.name))
	return nil
}

// Close tears the connection down once. Later calls, and calls on a channel
// that never connected, return nil.
func (l *Lifecycle) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected.Store(false)
	stop := l.stop
	l.stop = nil
	if stop == nil {
		return nil
	}
	l.logger.Info("channel disconnected", slog.String("channel", l.name))
	return stop(ctx)
}

// MarkLost records that the platform dropped the connection without a Close.
func (l *Lifecycle) MarkLost() {
	if l.connected.Swap(false) {
		l.logger.Warn("channel connection lost", slog.String("channel", l.name))
	}
}

// IsConnected reports current liveness.
func (l *Lifecycle) IsConnected() bool {
	return l.connected.Load()
}

// Ready reports whether op may proceed. When the channel is not connected it
// logs ErrChannelNotReady and returns false so the caller can no-op.
func (l *Lifecycle) Ready(op string, jid string) bool {
	if l.connected.Load() {
		return true
	}
	l.logger.Warn("operation skipped",
		slog.String("channel", l.name),
		slog.String("op", op),
		slog.String("jid", jid),
		slog.Any("error", ErrChannelNotReady),
	)
	return false
}
