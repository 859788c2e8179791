package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeChannel struct {
	name      string
	prefix    string
	connected bool

	mu   sync.Mutex
	sent []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Connect(context.Context) error {
	c.connected = true
	return nil
}

func (c *fakeChannel) IsConnected() bool { return c.connected }

func (c *fakeChannel) OwnsJID(jid string) bool { return strings.HasPrefix(jid, c.prefix) }

func (c *fakeChannel) Disconnect(context.Context) error {
	c.connected = false
	return nil
}

func (c *fakeChannel) SendMessage(_ context.Context, jid, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, jid+"|"+text)
	return nil
}

func (c *fakeChannel) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeFileChannel struct {
	fakeChannel
	files []string
}

func (c *fakeFileChannel) SendFile(_ context.Context, jid, path, caption string) error {
	c.files = append(c.files, jid+"|"+path+"|"+caption)
	return nil
}

type fakeComponentChannel struct {
	fakeChannel
	rows    [][]ActionRow
	updates []ComponentUpdate
	typing  []bool
}

func (c *fakeComponentChannel) SendComponents(_ context.Context, _ string, _ string, rows []ActionRow) (string, error) {
	c.rows = append(c.rows, rows)
	return "msg-1", nil
}

func (c *fakeComponentChannel) UpdateComponents(_ context.Context, _ string, _ string, update ComponentUpdate) error {
	c.updates = append(c.updates, update)
	return nil
}

func (c *fakeComponentChannel) SetTyping(_ context.Context, _ string, typing bool) error {
	c.typing = append(c.typing, typing)
	return nil
}

func TestRouteOutboundNoOwningChannel(t *testing.T) {
	t.Parallel()

	channels := []Channel{&fakeChannel{name: "telegram", prefix: "tg:", connected: true}}
	err := RouteOutbound(context.Background(), channels, "dc:123", "hello")
	if !errors.Is(err, ErrNoChannelForAddress) {
		t.Fatalf("expected ErrNoChannelForAddress, got %v", err)
	}
	if err := RouteOutbound(context.Background(), nil, "dc:123", "hello"); !errors.Is(err, ErrNoChannelForAddress) {
		t.Fatalf("expected ErrNoChannelForAddress for empty set, got %v", err)
	}
}

func TestRouteOutboundOwnerDisconnected(t *testing.T) {
	t.Parallel()

	owner := &fakeChannel{name: "discord", prefix: "dc:"}
	err := RouteOutbound(context.Background(), []Channel{owner}, "dc:123", "hello")
	if !errors.Is(err, ErrNoChannelForAddress) {
		t.Fatalf("expected ErrNoChannelForAddress, got %v", err)
	}
	if len(owner.messages()) != 0 {
		t.Fatalf("disconnected channel must not receive sends")
	}
}

func TestRouteOutboundFirstLiveOwnerWins(t *testing.T) {
	t.Parallel()

	down := &fakeChannel{name: "discord-a", prefix: "dc:"}
	first := &fakeChannel{name: "discord-b", prefix: "dc:", connected: true}
	second := &fakeChannel{name: "discord-c", prefix: "dc:", connected: true}
	if err := RouteOutbound(context.Background(), []Channel{down, first, second}, "dc:1", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := first.messages(); len(got) != 1 || got[0] != "dc:1|hi" {
		t.Fatalf("unexpected sends on first: %v", got)
	}
	if len(second.messages()) != 0 {
		t.Fatalf("second channel should not be used")
	}
}

func TestRouteFileCapabilityUnsupported(t *testing.T) {
	t.Parallel()

	plain := &fakeChannel{name: "discord", prefix: "dc:", connected: true}
	err := RouteFile(context.Background(), []Channel{plain}, "dc:1", "/tmp/a.png", "caption")
	if !errors.Is(err, ErrCapabilityUnsupported) {
		t.Fatalf("expected ErrCapabilityUnsupported, got %v", err)
	}
	if len(plain.messages()) != 0 {
		t.Fatalf("file routing must not fall back to text, got %v", plain.messages())
	}
}

func TestRouteFileDelegates(t *testing.T) {
	t.Parallel()

	ch := &fakeFileChannel{fakeChannel: fakeChannel{name: "discord", prefix: "dc:", connected: true}}
	if err := RouteFile(context.Background(), []Channel{ch}, "dc:1", "/tmp/a.png", "look"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.files) != 1 || ch.files[0] != "dc:1|/tmp/a.png|look" {
		t.Fatalf("unexpected files: %v", ch.files)
	}
}

func TestRouteComponents(t *testing.T) {
	t.Parallel()

	rows := []ActionRow{{Type: RowTypeActionRow, Components: []Component{{Type: ComponentButton, CustomID: "ok", Label: "OK"}}}}

	plain := &fakeChannel{name: "telegram", prefix: "tg:", connected: true}
	if _, err := RouteComponents(context.Background(), []Channel{plain}, "tg:1", "pick", rows); !errors.Is(err, ErrCapabilityUnsupported) {
		t.Fatalf("expected ErrCapabilityUnsupported, got %v", err)
	}

	ch := &fakeComponentChannel{fakeChannel: fakeChannel{name: "discord", prefix: "dc:", connected: true}}
	id, err := RouteComponents(context.Background(), []Channel{ch}, "dc:1", "pick", rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("unexpected message id %q", id)
	}

	_, err = RouteComponents(context.Background(), []Channel{ch}, "dc:1", "pick", []ActionRow{{Components: []Component{{Type: ComponentButton, CustomID: "x"}}}})
	if !errors.Is(err, ErrInvalidComponents) {
		t.Fatalf("expected ErrInvalidComponents for unlabeled button, got %v", err)
	}
}

func TestRouteComponentUpdateSkipsEmptyUpdate(t *testing.T) {
	t.Parallel()

	ch := &fakeComponentChannel{fakeChannel: fakeChannel{name: "discord", prefix: "dc:", connected: true}}
	if err := RouteComponentUpdate(context.Background(), []Channel{ch}, "dc:1", "m1", ComponentUpdate{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.updates) != 0 {
		t.Fatalf("empty update should not reach the channel")
	}
	text := "done"
	if err := RouteComponentUpdate(context.Background(), []Channel{ch}, "dc:1", "m1", ComponentUpdate{Text: &text}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.updates) != 1 || ch.updates[0].Rows != nil {
		t.Fatalf("unexpected updates: %+v", ch.updates)
	}
}

func TestRouteTypingWithoutCapabilityIsNoop(t *testing.T) {
	t.Parallel()

	plain := &fakeChannel{name: "telegram", prefix: "tg:", connected: true}
	if err := RouteTyping(context.Background(), []Channel{plain}, "tg:1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ch := &fakeComponentChannel{fakeChannel: fakeChannel{name: "discord", prefix: "dc:", connected: true}}
	if err := RouteTyping(context.Background(), []Channel{ch}, "dc:1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.typing) != 1 || !ch.typing[0] {
		t.Fatalf("unexpected typing calls: %v", ch.typing)
	}
}

func TestFindChannelIgnoresLiveness(t *testing.T) {
	t.Parallel()

	owner := &fakeChannel{name: "discord", prefix: "dc:"}
	got, ok := FindChannel([]Channel{&fakeChannel{name: "telegram", prefix: "tg:"}, owner}, "dc:9")
	if !ok || got != owner {
		t.Fatalf("expected disconnected owner to be found")
	}
	if _, ok := FindChannel([]Channel{owner}, "fs:1"); ok {
		t.Fatalf("expected no owner for fs address")
	}
}
