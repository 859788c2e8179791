package channel

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ConnectionStatus is the last known connection state of one channel.
type ConnectionStatus struct {
	Channel   string    `json:"channel"`
	Running   bool      `json:"running"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager connects and disconnects the channels of a Registry and records
// their connection status.
type Manager struct {
	logger   *slog.Logger
	registry *Registry

	mu       sync.Mutex
	statuses map[string]ConnectionStatus
}

// NewManager creates a Manager over registry.
func NewManager(log *slog.Logger, registry *Registry) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		logger:   log.With(slog.String("component", "channel_manager")),
		registry: registry,
		statuses: map[string]ConnectionStatus{},
	}
}

// Start connects every registered channel concurrently and waits for each
// attempt to finish. A failing channel is logged and recorded; it does not
// prevent the others from connecting.
func (m *Manager) Start(ctx context.Context) {
	// Decouple long-lived connections from the caller's start context.
	connectCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, ch := range m.registry.Channels() {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			m.logger.Info("channel start", slog.String("channel", ch.Name()))
			err := ch.Connect(connectCtx)
			if err != nil {
				m.logger.Error("channel start failed", slog.String("channel", ch.Name()), slog.Any("error", err))
			}
			m.setStatus(ch.Name(), err == nil && ch.IsConnected(), err)
		}(ch)
	}
	wg.Wait()
}

// Shutdown disconnects every registered channel.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, ch := range m.registry.Channels() {
		m.logger.Info("channel stop", slog.String("channel", ch.Name()))
		err := ch.Disconnect(ctx)
		if err != nil {
			m.logger.Warn("channel stop failed", slog.String("channel", ch.Name()), slog.Any("error", err))
			errs = append(errs, err)
		}
		m.setStatus(ch.Name(), false, err)
	}
	return errors.Join(errs...)
}

// Statuses returns the status of every registered channel, ordered by name.
// Liveness is read from the channel at call time.
func (m *Manager) Statuses() []ConnectionStatus {
	channels := m.registry.Channels()
	m.mu.Lock()
	out := make([]ConnectionStatus, 0, len(channels))
	for _, ch := range channels {
		status, ok := m.statuses[ch.Name()]
		if !ok {
			status = ConnectionStatus{Channel: ch.Name()}
		}
		status.Running = ch.IsConnected()
		out = append(out, status)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (m *Manager) setStatus(name string, running bool, checkErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := ConnectionStatus{
		Channel:   name,
		Running:   running,
		UpdatedAt: time.Now().UTC(),
	}
	if checkErr != nil {
		status.LastError = checkErr.Error()
	}
	m.statuses[name] = status
}
