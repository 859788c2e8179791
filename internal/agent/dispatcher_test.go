package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/channel/inbound"
	"github.com/memohai/chatbridge/internal/mount"
	"github.com/memohai/chatbridge/internal/schedule"
)

type sentFile struct {
	jid, path, caption string
}

type sentUpdate struct {
	jid, messageID string
	update         channel.ComponentUpdate
}

type fakeOutbound struct {
	mu         sync.Mutex
	replies    []string
	files      []sentFile
	components []string
	updates    []sentUpdate
	typing     []bool
	filesErr   error
}

func (f *fakeOutbound) SendAgentReply(_ context.Context, _ string, raw string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, raw)
	return channel.FormatOutbound(raw) != "", nil
}

func (f *fakeOutbound) RouteFile(_ context.Context, jid string, path string, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filesErr != nil {
		return f.filesErr
	}
	f.files = append(f.files, sentFile{jid: jid, path: path, caption: caption})
	return nil
}

func (f *fakeOutbound) RouteComponents(_ context.Context, _ string, text string, _ []channel.ActionRow) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.components = append(f.components, text)
	return "msg-1", nil
}

func (f *fakeOutbound) RouteComponentUpdate(_ context.Context, jid string, messageID string, update channel.ComponentUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, sentUpdate{jid: jid, messageID: messageID, update: update})
	return nil
}

func (f *fakeOutbound) RouteTyping(_ context.Context, _ string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
	return nil
}

func newTestGroups(t *testing.T, groups ...channel.RegisteredGroup) *channel.GroupRegistry {
	t.Helper()
	reg, err := channel.NewGroupRegistry(groups...)
	if err != nil {
		t.Fatalf("group registry: %v", err)
	}
	return reg
}

func newTestDispatcher(t *testing.T, groups channel.GroupLookup, out Outbound, backend Backend, allowlist *mount.Allowlist) *Dispatcher {
	t.Helper()
	if allowlist == nil {
		allowlist = &mount.Allowlist{}
	}
	d, err := NewDispatcher(Options{
		Groups:       groups,
		Outbound:     out,
		Backend:      backend,
		Allowlist:    allowlist,
		Trigger:      inbound.NewTrigger("Andy"),
		WorkspaceDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })
	return d
}

func testMessage(jid, id, content string) channel.Message {
	return channel.Message{
		ID:         id,
		ChatJID:    jid,
		Sender:     "u1",
		SenderName: "Alice",
		Content:    content,
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func waitRequest(t *testing.T, runs <-chan Request) Request {
	t.Helper()
	select {
	case req := <-runs:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("backend was not called")
		return Request{}
	}
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	t.Parallel()

	groups := newTestGroups(t)
	backend := BackendFunc(func(context.Context, Request) (Reply, error) { return Reply{}, nil })
	cases := []Options{
		{Outbound: &fakeOutbound{}, Backend: backend, Allowlist: &mount.Allowlist{}, WorkspaceDir: "groups"},
		{Groups: groups, Backend: backend, Allowlist: &mount.Allowlist{}, WorkspaceDir: "groups"},
		{Groups: groups, Outbound: &fakeOutbound{}, Allowlist: &mount.Allowlist{}, WorkspaceDir: "groups"},
		{Groups: groups, Outbound: &fakeOutbound{}, Backend: backend, WorkspaceDir: "groups"},
		{Groups: groups, Outbound: &fakeOutbound{}, Backend: backend, Allowlist: &mount.Allowlist{}},
	}
	for i, opts := range cases {
		if _, err := NewDispatcher(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestDispatcherBatchesUntilTriggered(t *testing.T) {
	t.Parallel()

	jid := "tg:100"
	groups := newTestGroups(t, channel.RegisteredGroup{JID: jid, Folder: "team", RequiresTrigger: true})
	runs := make(chan Request, 4)
	backend := BackendFunc(func(_ context.Context, req Request) (Reply, error) {
		runs <- req
		return Reply{Text: "hello <internal>plan</internal>"}, nil
	})
	out := &fakeOutbound{}
	d := newTestDispatcher(t, groups, out, backend, nil)

	first := testMessage(jid, "1", "lunch at noon?")
	first.Attachments = []channel.Attachment{{Name: "menu.png", Path: "inbox/1-menu.png", IsImage: true}}
	d.OnMessage(context.Background(), jid, first)

	d.mu.Lock()
	conv := d.conversations[jid]
	if conv.running || len(conv.pending) != 1 {
		d.mu.Unlock()
		t.Fatalf("untriggered message must only accumulate: running=%v pending=%d", conv.running, len(conv.pending))
	}
	d.mu.Unlock()

	d.OnMessage(context.Background(), jid, testMessage(jid, "2", "@Andy what do you think?"))
	req := waitRequest(t, runs)

	if req.ChatJID != jid || req.Group.Folder != "team" {
		t.Fatalf("unexpected request target: %+v", req)
	}
	if !strings.Contains(req.Input, "lunch at noon?") || !strings.Contains(req.Input, "@Andy what do you think?") {
		t.Fatalf("input must carry the whole batch: %q", req.Input)
	}
	if !strings.HasPrefix(req.Input, "<messages>") {
		t.Fatalf("input must use the message envelope: %q", req.Input)
	}
	if len(req.Attachments) != 1 || req.Attachments[0].Path != "inbox/1-menu.png" {
		t.Fatalf("attachments not collected: %+v", req.Attachments)
	}
	if req.Mounts != nil {
		t.Fatalf("group without mounts must not get any: %+v", req.Mounts)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.replies) != 1 || out.replies[0] != "hello <internal>plan</internal>" {
		t.Fatalf("reply must be routed raw for sanitizing: %v", out.replies)
	}
	if len(out.typing) != 2 || !out.typing[0] || out.typing[1] {
		t.Fatalf("typing must be switched on then off: %v", out.typing)
	}
	if got := d.History(jid); len(got) != 2 {
		t.Fatalf("history length = %d, want 2", len(got))
	}
}

func TestDispatcherRunsEveryMessageWithoutTrigger(t *testing.T) {
	t.Parallel()

	jid := "dc:7"
	groups := newTestGroups(t, channel.RegisteredGroup{JID: jid, Folder: "main", IsPrimary: true})
	runs := make(chan Request, 4)
	backend := BackendFunc(func(_ context.Context, req Request) (Reply, error) {
		runs <- req
		return Reply{}, nil
	})
	d := newTestDispatcher(t, groups, &fakeOutbound{}, backend, nil)

	d.OnMessage(context.Background(), jid, testMessage(jid, "1", "status?"))
	req := waitRequest(t, runs)
	if !strings.Contains(req.Input, "status?") {
		t.Fatalf("unexpected input: %q", req.Input)
	}
}

func TestDispatcherIgnoresUnregisteredConversations(t *testing.T) {
	t.Parallel()

	backend := BackendFunc(func(context.Context, Request) (Reply, error) {
		t.Errorf("backend must not run for unregistered conversations")
		return Reply{}, nil
	})
	d := newTestDispatcher(t, newTestGroups(t), &fakeOutbound{}, backend, nil)
	d.OnMessage(context.Background(), "tg:404", testMessage("tg:404", "1", "@Andy hi"))
	if got := d.History("tg:404"); got != nil {
		t.Fatalf("unregistered conversation must not be tracked: %v", got)
	}
}

func TestDispatcherDeliversEveryReplyPart(t *testing.T) {
	t.Parallel()

	jid := "dc:7"
	groups := newTestGroups(t, channel.RegisteredGroup{JID: jid, Folder: "main", IsPrimary: true})
	edited := "  done <internal>x</internal>"
	backend := BackendFunc(func(context.Context, Request) (Reply, error) {
		return Reply{
			Text: "report ready",
			Files: []FileReply{
				{Path: "out/report.pdf", Caption: "<internal>n</internal>Q3 report"},
				{Path: "../other/secret.txt"},
				{Path: "/etc/passwd"},
			},
			Components: []ComponentReply{{
				Text: "Approve?",
				Rows: []channel.ActionRow{{Components: []channel.Component{{Type: channel.ComponentButton, CustomID: "ok", Label: "OK"}}}},
			}},
			Edits: []ComponentEdit{{MessageID: "msg-0", Update: channel.ComponentUpdate{Text: &edited, ClearRows: true}}},
		}, nil
	})
	out := &fakeOutbound{}
	d := newTestDispatcher(t, groups, out, backend, nil)

	result, err := d.RunTask(context.Background(), schedule.Task{ID: "t1", ChatJID: jid, Prompt: "send the report", ContextMode: schedule.ContextIsolated})
	if err != nil {
		t.Fatalf("run task: %v", err)
	}
	if result != "report ready" {
		t.Fatalf("result = %q", result)
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	want := filepath.Join(d.workspaceDir, "main", "out", "report.pdf")
	if len(out.files) != 1 || out.files[0].path != want || out.files[0].caption != "Q3 report" {
		t.Fatalf("only the workspace file must be sent, with a sanitized caption: %+v", out.files)
	}
	if len(out.components) != 1 || out.components[0] != "Approve?" {
		t.Fatalf("components not routed: %v", out.components)
	}
	if len(out.updates) != 1 || out.updates[0].messageID != "msg-0" || *out.updates[0].update.Text != "done" || !out.updates[0].update.ClearRows {
		t.Fatalf("edit not routed: %+v", out.updates)
	}
}

func TestDispatcherFileFailureDoesNotDropOtherParts(t *testing.T) {
	t.Parallel()

	jid := "dc:7"
	groups := newTestGroups(t, channel.RegisteredGroup{JID: jid, Folder: "main"})
	backend := BackendFunc(func(context.Context, Request) (Reply, error) {
		return Reply{
			Text:       "see attached",
			Files:      []FileReply{{Path: "a.txt"}},
			Components: []ComponentReply{{Text: "more?"}},
		}, nil
	})
	out := &fakeOutbound{filesErr: channel.ErrCapabilityUnsupported}
	d := newTestDispatcher(t, groups, out, backend, nil)

	if _, err := d.RunTask(context.Background(), schedule.Task{ID: "t1", ChatJID: jid, Prompt: "go"}); err != nil {
		t.Fatalf("run task: %v", err)
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.replies) != 1 || len(out.components) != 1 {
		t.Fatalf("reply and components must still be sent: %v %v", out.replies, out.components)
	}
}

func TestDispatcherRejectsRunOnMountViolation(t *testing.T) {
	t.Parallel()

	jid := "tg:1"
	outside := t.TempDir()
	groups := newTestGroups(t, channel.RegisteredGroup{
		JID:       jid,
		Folder:    "team",
		Container: &channel.ContainerConfig{AdditionalMounts: []channel.MountSpec{{HostPath: outside}}},
	})
	backend := BackendFunc(func(context.Context, Request) (Reply, error) {
		t.Errorf("backend must not run when a mount is rejected")
		return Reply{}, nil
	})
	out := &fakeOutbound{}
	d := newTestDispatcher(t, groups, out, backend, &mount.Allowlist{Roots: []mount.Root{{Path: t.TempDir()}}})

	_, err := d.RunTask(context.Background(), schedule.Task{ID: "t1", ChatJID: jid, Prompt: "go"})
	if !errors.Is(err, mount.ErrMountViolation) {
		t.Fatalf("expected mount violation, got %v", err)
	}
	if len(out.replies) != 0 {
		t.Fatalf("nothing may be sent after a rejected run: %v", out.replies)
	}
}

func TestDispatcherPassesValidatedMounts(t *testing.T) {
	t.Parallel()

	jid := "tg:1"
	root := t.TempDir()
	data := filepath.Join(root, "data")
	groups := newTestGroups(t, channel.RegisteredGroup{
		JID:       jid,
		Folder:    "team",
		Container: &channel.ContainerConfig{AdditionalMounts: []channel.MountSpec{{HostPath: data, ReadWrite: true}}},
	})
	var got Request
	backend := BackendFunc(func(_ context.Context, req Request) (Reply, error) {
		got = req
		return Reply{}, nil
	})
	allowlist := &mount.Allowlist{Roots: []mount.Root{{Path: root, AllowReadWrite: true}}, NonPrimaryReadOnly: true}
	d := newTestDispatcher(t, groups, &fakeOutbound{}, backend, allowlist)

	if _, err := d.RunTask(context.Background(), schedule.Task{ID: "t1", ChatJID: jid, Prompt: "go"}); err != nil {
		t.Fatalf("run task: %v", err)
	}
	if len(got.Mounts) != 1 {
		t.Fatalf("mounts = %+v", got.Mounts)
	}
	m := got.Mounts[0]
	if m.Destination != mount.ExtraMountRoot+"/data" || m.Type != "bind" {
		t.Fatalf("unexpected mount: %+v", m)
	}
	if m.Options[len(m.Options)-1] != "ro" {
		t.Fatalf("non-primary group must mount read-only: %v", m.Options)
	}
}

func TestDispatcherRunTaskUsesConversationHistory(t *testing.T) {
	t.Parallel()

	jid := "tg:100"
	groups := newTestGroups(t, channel.RegisteredGroup{JID: jid, Folder: "team", RequiresTrigger: true})
	var got Request
	backend := BackendFunc(func(_ context.Context, req Request) (Reply, error) {
		got = req
		return Reply{Text: "<internal>only thoughts</internal>"}, nil
	})
	d := newTestDispatcher(t, groups, &fakeOutbound{}, backend, nil)
	d.OnMessage(context.Background(), jid, testMessage(jid, "1", "standup moved to 10"))

	result, err := d.RunTask(context.Background(), schedule.Task{
		ID:          "daily",
		ChatJID:     jid,
		Prompt:      "summarize the day",
		ContextMode: schedule.ContextGroup,
	})
	if err != nil {
		t.Fatalf("run task: %v", err)
	}
	if result != "" {
		t.Fatalf("internal-only reply must yield an empty result, got %q", result)
	}
	if got.TaskID != "daily" {
		t.Fatalf("task id = %q", got.TaskID)
	}
	if !strings.Contains(got.Input, "standup moved to 10") || !strings.HasSuffix(got.Input, "summarize the day") {
		t.Fatalf("group task input must include history then prompt: %q", got.Input)
	}

	if _, err := d.RunTask(context.Background(), schedule.Task{ID: "x", ChatJID: "tg:404", Prompt: "p"}); !errors.Is(err, ErrGroupNotRegistered) {
		t.Fatalf("expected ErrGroupNotRegistered, got %v", err)
	}
}

func TestDispatcherBackendErrorSendsNothing(t *testing.T) {
	t.Parallel()

	jid := "dc:7"
	groups := newTestGroups(t, channel.RegisteredGroup{JID: jid, Folder: "main"})
	backend := BackendFunc(func(context.Context, Request) (Reply, error) {
		return Reply{}, errors.New("runner down")
	})
	out := &fakeOutbound{}
	d := newTestDispatcher(t, groups, out, backend, nil)

	if _, err := d.RunTask(context.Background(), schedule.Task{ID: "t1", ChatJID: jid, Prompt: "go"}); err == nil {
		t.Fatalf("expected backend error")
	}
	if len(out.replies) != 0 {
		t.Fatalf("no reply may be sent on backend failure: %v", out.replies)
	}
}

func TestDispatcherHistoryIsBounded(t *testing.T) {
	t.Parallel()

	jid := "tg:100"
	groups := newTestGroups(t, channel.RegisteredGroup{JID: jid, Folder: "team", RequiresTrigger: true})
	backend := BackendFunc(func(context.Context, Request) (Reply, error) { return Reply{}, nil })
	d, err := NewDispatcher(Options{
		Groups:       groups,
		Outbound:     &fakeOutbound{},
		Backend:      backend,
		Allowlist:    &mount.Allowlist{},
		WorkspaceDir: t.TempDir(),
		HistoryLimit: 3,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	for i := 0; i < 5; i++ {
		d.OnMessage(context.Background(), jid, testMessage(jid, string(rune('a'+i)), "chatter"))
	}
	got := d.History(jid)
	if len(got) != 3 || got[0].ID != "c" || got[2].ID != "e" {
		t.Fatalf("unexpected history: %+v", got)
	}
}
