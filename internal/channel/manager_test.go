package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingChannel struct {
	fakeChannel
	err error
}

func (c *failingChannel) Connect(context.Context) error { return c.err }

func TestManagerStartAndShutdown(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	ok := &fakeChannel{name: "discord", prefix: "dc:"}
	bad := &failingChannel{fakeChannel: fakeChannel{name: "telegram", prefix: "tg:"}, err: errors.New("bad token")}
	reg.MustRegister(ok)
	reg.MustRegister(bad)

	m := NewManager(newTestLogger(), reg)
	m.Start(context.Background())

	statuses := m.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Channel != "discord" || !statuses[0].Running {
		t.Fatalf("unexpected discord status: %+v", statuses[0])
	}
	if statuses[1].Channel != "telegram" || statuses[1].Running || statuses[1].LastError != "bad token" {
		t.Fatalf("unexpected telegram status: %+v", statuses[1])
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if ok.IsConnected() {
		t.Fatalf("channel should be disconnected after shutdown")
	}
}

func TestLifecycleOpenCloseIdempotent(t *testing.T) {
	t.Parallel()

	lc := NewLifecycle("discord", newTestLogger())
	if lc.IsConnected() {
		t.Fatalf("new lifecycle must not be connected")
	}
	if err := lc.Close(context.Background()); err != nil {
		t.Fatalf("close before open should be a no-op, got %v", err)
	}

	var opens, stops atomic.Int32
	open := func(context.Context) (func(context.Context) error, error) {
		opens.Add(1)
		return func(context.Context) error {
			stops.Add(1)
			return nil
		}, nil
	}
	if err := lc.Open(context.Background(), open); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if err := lc.Open(context.Background(), open); err != nil {
		t.Fatalf("unexpected second open error: %v", err)
	}
	if opens.Load() != 1 || !lc.IsConnected() {
		t.Fatalf("expected exactly one open, got %d", opens.Load())
	}
	if !lc.Ready("send", "dc:1") {
		t.Fatalf("connected lifecycle should be ready")
	}

	_ = lc.Close(context.Background())
	_ = lc.Close(context.Background())
	if stops.Load() != 1 {
		t.Fatalf("expected exactly one stop, got %d", stops.Load())
	}
	if lc.Ready("send", "dc:1") {
		t.Fatalf("closed lifecycle must not be ready")
	}
}

func TestLifecycleOpenFailureLeavesDisconnected(t *testing.T) {
	t.Parallel()

	lc := NewLifecycle("telegram", newTestLogger())
	err := lc.Open(context.Background(), func(context.Context) (func(context.Context) error, error) {
		return nil, errors.New("unauthorized")
	})
	if err == nil || lc.IsConnected() {
		t.Fatalf("expected failed open to leave lifecycle disconnected")
	}
	lc.MarkLost()
	if lc.IsConnected() {
		t.Fatalf("mark lost must keep lifecycle disconnected")
	}
}
