package channelchecker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/memohai/chatbridge/internal/channel"
)

type fakeConnectionObserver struct {
	items []channel.ConnectionStatus
}

func (f *fakeConnectionObserver) Statuses() []channel.ConnectionStatus {
	return f.items
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	checker := NewChecker(newTestLogger(), &fakeConnectionObserver{
		items: []channel.ConnectionStatus{
			{
				Channel:   "discord",
				Running:   true,
				UpdatedAt: now,
			},
			{
				Channel:   "feishu",
				Running:   false,
				LastError: "connect timeout",
				UpdatedAt: now,
			},
			{
				Channel: "telegram",
			},
		},
	})

	items := checker.ListChecks(context.Background())
	if len(items) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(items))
	}
	if items[0].ID != "channel.connection.discord" || items[0].Status != "ok" {
		t.Fatalf("unexpected discord check: %+v", items[0])
	}
	if items[1].Status != "error" || items[1].Detail != "connect timeout" {
		t.Fatalf("unexpected feishu check: %+v", items[1])
	}
	if items[2].Summary != "Channel telegram connection is down." {
		t.Fatalf("unexpected telegram summary: %s", items[2].Summary)
	}
	if _, ok := items[2].Metadata["updated_at"]; ok {
		t.Fatalf("zero timestamp should not be reported")
	}
}

func TestCheckerNilObserver(t *testing.T) {
	t.Parallel()

	checker := NewChecker(newTestLogger(), nil)
	items := checker.ListChecks(context.Background())
	if len(items) != 1 || items[0].Status != "warn" {
		t.Fatalf("expected single warn check, got %+v", items)
	}
}

func TestCheckerCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := NewChecker(newTestLogger(), &fakeConnectionObserver{items: []channel.ConnectionStatus{{Channel: "discord"}}})
	if items := checker.ListChecks(ctx); len(items) != 0 {
		t.Fatalf("expected no checks for canceled context, got %d", len(items))
	}
}
