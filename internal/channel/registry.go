package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry holds the ordered set of live channels. It must be created via
// NewRegistry and passed explicitly to the components that dispatch through it.
// Registration order is dispatch order.
type Registry struct {
	mu       sync.RWMutex
	channels []Channel
	names    map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		names: map[string]struct{}{},
	}
}

// Register appends a channel to the registry.
func (r *Registry) Register(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("channel is nil")
	}
	name := normalizeChannelName(ch.Name())
	if name == "" {
		return fmt.Errorf("channel name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[name]; exists {
		return fmt.Errorf("channel already registered: %s", name)
	}
	r.names[name] = struct{}{}
	r.channels = append(r.channels, ch)
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(ch Channel) {
	if err := r.Register(ch); err != nil {
		panic(err)
	}
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (Channel, bool) {
	name = normalizeChannelName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.channels {
		if normalizeChannelName(ch.Name()) == name {
			return ch, true
		}
	}
	return nil, false
}

// Channels returns a snapshot of the registered channels in registration order.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Find returns the channel owning jid regardless of liveness.
func (r *Registry) Find(jid string) (Channel, bool) {
	return FindChannel(r.Channels(), jid)
}

// GetFileSender returns the FileSender owning jid, or false if unsupported.
func (r *Registry) GetFileSender(jid string) (FileSender, bool) {
	ch, ok := r.Find(jid)
	if !ok {
		return nil, false
	}
	sender, ok := ch.(FileSender)
	return sender, ok
}

// GetComponentSender returns the ComponentSender owning jid, or false if unsupported.
func (r *Registry) GetComponentSender(jid string) (ComponentSender, bool) {
	ch, ok := r.Find(jid)
	if !ok {
		return nil, false
	}
	sender, ok := ch.(ComponentSender)
	return sender, ok
}

// RouteOutbound dispatches text using the registry's current channel set.
func (r *Registry) RouteOutbound(ctx context.Context, jid string, text string) error {
	return RouteOutbound(ctx, r.Channels(), jid, text)
}

// RouteFile dispatches a file using the registry's current channel set.
func (r *Registry) RouteFile(ctx context.Context, jid string, path string, caption string) error {
	return RouteFile(ctx, r.Channels(), jid, path, caption)
}

// RouteComponents dispatches action rows using the registry's current channel set.
func (r *Registry) RouteComponents(ctx context.Context, jid string, text string, rows []ActionRow) (string, error) {
	return RouteComponents(ctx, r.Channels(), jid, text, rows)
}

// RouteComponentUpdate dispatches a component edit using the registry's current channel set.
func (r *Registry) RouteComponentUpdate(ctx context.Context, jid string, messageID string, update ComponentUpdate) error {
	return RouteComponentUpdate(ctx, r.Channels(), jid, messageID, update)
}

// RouteTyping toggles typing using the registry's current channel set.
func (r *Registry) RouteTyping(ctx context.Context, jid string, typing bool) error {
	return RouteTyping(ctx, r.Channels(), jid, typing)
}

// SendAgentReply sanitizes raw agent output and sends what remains.
// It reports false without error when nothing is left to send.
func (r *Registry) SendAgentReply(ctx context.Context, jid string, raw string) (bool, error) {
	text := FormatOutbound(raw)
	if text == "" {
		return false, nil
	}
	if err := r.RouteOutbound(ctx, jid, text); err != nil {
		return false, err
	}
	return true, nil
}

func normalizeChannelName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
