package mountchecker

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/mount"
)

type staticGroups []channel.RegisteredGroup

func (g staticGroups) List() []channel.RegisteredGroup { return g }

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	groups := staticGroups{
		{JID: "dc:1", Folder: "main", IsPrimary: true, Container: &channel.ContainerConfig{
			AdditionalMounts: []channel.MountSpec{{HostPath: filepath.Join(root, "repo")}},
		}},
		{JID: "dc:2", Folder: "plain"},
		{JID: "tg:3", Folder: "team", Container: &channel.ContainerConfig{
			AdditionalMounts: []channel.MountSpec{{HostPath: "/etc"}},
		}},
	}
	list := &mount.Allowlist{Roots: []mount.Root{{Path: root}}}
	checker := NewChecker(slog.New(slog.NewTextHandler(io.Discard, nil)), list, groups)

	items := checker.ListChecks(context.Background())
	if len(items) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(items))
	}
	if items[0].ID != "mount.group.main" || items[0].Status != "ok" {
		t.Fatalf("unexpected main check: %+v", items[0])
	}
	if items[1].ID != "mount.group.team" || items[1].Status != "error" || items[1].Detail == "" {
		t.Fatalf("unexpected team check: %+v", items[1])
	}
}

func TestCheckerWithoutAllowlist(t *testing.T) {
	t.Parallel()

	groups := staticGroups{{JID: "dc:1", Folder: "main", Container: &channel.ContainerConfig{
		AdditionalMounts: []channel.MountSpec{{HostPath: "/srv"}},
	}}}
	items := NewChecker(nil, nil, groups).ListChecks(context.Background())
	if len(items) != 1 || items[0].Status != "warn" {
		t.Fatalf("expected warn check, got %+v", items)
	}
}
