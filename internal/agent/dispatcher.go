package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/channel/inbound"
	"github.com/memohai/chatbridge/internal/metrics"
	"github.com/memohai/chatbridge/internal/mount"
	"github.com/memohai/chatbridge/internal/schedule"
)

const defaultHistoryLimit = 50

// Metric source labels.
const (
	sourceMessage = "message"
	sourceTask    = "task"
)

var (
	_ channel.InboundHandler = (*Dispatcher)(nil)
	_ Outbound               = (*channel.Registry)(nil)
)

// ErrGroupNotRegistered is returned when a task targets an unregistered conversation.
var ErrGroupNotRegistered = errors.New("conversation is not a registered group")

// Outbound is the routing surface replies are delivered through.
// *channel.Registry satisfies it.
type Outbound interface {
	SendAgentReply(ctx context.Context, jid string, raw string) (bool, error)
	RouteFile(ctx context.Context, jid string, path string, caption string) error
	RouteComponents(ctx context.Context, jid string, text string, rows []channel.ActionRow) (string, error)
	RouteComponentUpdate(ctx context.Context, jid string, messageID string, update channel.ComponentUpdate) error
	RouteTyping(ctx context.Context, jid string, typing bool) error
}

// Options configures a Dispatcher.
type Options struct {
	Groups   channel.GroupLookup
	Outbound Outbound
	Backend  Backend
	// Allowlist validates each group's additional mounts before a run.
	Allowlist *mount.Allowlist
	Trigger   inbound.Trigger
	// WorkspaceDir is the host directory holding one workspace per group folder.
	WorkspaceDir string
	HistoryLimit int
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type conversation struct {
	history   []channel.Message
	pending   []channel.Message
	triggered bool
	running   bool
}

// Dispatcher receives canonical messages, batches them per conversation and
// runs the backend when a batch addresses the assistant. Runs for one
// conversation never overlap; different conversations run concurrently.
type Dispatcher struct {
	logger       *slog.Logger
	groups       channel.GroupLookup
	out          Outbound
	backend      Backend
	allowlist    *mount.Allowlist
	trigger      inbound.Trigger
	workspaceDir string
	historyLimit int
	metrics      *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	conversations map[string]*conversation
}

// NewDispatcher validates opts and builds a Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Groups == nil {
		return nil, fmt.Errorf("group lookup is required")
	}
	if opts.Outbound == nil {
		return nil, fmt.Errorf("outbound router is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("agent backend is required")
	}
	if opts.Allowlist == nil {
		return nil, fmt.Errorf("mount allowlist is required")
	}
	workspace, err := filepath.Abs(strings.TrimSpace(opts.WorkspaceDir))
	if err != nil || strings.TrimSpace(opts.WorkspaceDir) == "" {
		return nil, fmt.Errorf("workspace dir is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	trigger := opts.Trigger
	if trigger.Phrase() == "" {
		trigger = inbound.NewTrigger("")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger:        log.With(slog.String("component", "agent")),
		groups:        opts.Groups,
		out:           opts.Outbound,
		backend:       opts.Backend,
		allowlist:     opts.Allowlist,
		trigger:       trigger,
		workspaceDir:  workspace,
		historyLimit:  limit,
		metrics:       opts.Metrics,
		ctx:           ctx,
		cancel:        cancel,
		conversations: make(map[string]*conversation),
	}, nil
}

// OnMessage implements channel.InboundHandler. The message joins the
// conversation's pending batch; a run starts when the group does not require
// the trigger or the message carries it.
func (d *Dispatcher) OnMessage(_ context.Context, jid string, msg channel.Message) {
	group, ok := d.groups.Group(jid)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return
	}
	conv := d.conversation(jid)
	conv.history = appendBounded(conv.history, msg, d.historyLimit)
	conv.pending = append(conv.pending, msg)
	if !group.RequiresTrigger || d.trigger.Matches(msg.Content) {
		conv.triggered = true
	}
	if conv.triggered && !conv.running {
		conv.running = true
		d.wg.Add(1)
		go d.drain(jid)
	}
}

// OnChatMetadata implements channel.InboundHandler.
func (d *Dispatcher) OnChatMetadata(_ context.Context, jid string, timestamp time.Time, label string) {
	d.logger.Debug("chat metadata",
		slog.String("jid", jid),
		slog.String("label", label),
		slog.Time("timestamp", timestamp),
	)
}

// History returns the recent messages delivered for jid, oldest first.
func (d *Dispatcher) History(jid string) []channel.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.conversations[jid]
	if !ok {
		return nil
	}
	return append([]channel.Message(nil), conv.history...)
}

// Shutdown stops accepting messages and waits for in-flight runs.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunTask runs a scheduled task against its group and delivers the reply.
// It returns the sanitized reply text for the task's run log.
func (d *Dispatcher) RunTask(ctx context.Context, task schedule.Task) (string, error) {
	group, ok := d.groups.Group(task.ChatJID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrGroupNotRegistered, task.ChatJID)
	}
	input := schedule.BuildAgentInput(task, d.History(task.ChatJID))
	reply, err := d.run(ctx, sourceTask, Request{
		Group:   group,
		ChatJID: task.ChatJID,
		Input:   input,
		TaskID:  task.ID,
	})
	if err != nil {
		return "", err
	}
	d.deliver(ctx, group, task.ChatJID, reply)
	return channel.FormatOutbound(reply.Text), nil
}

func (d *Dispatcher) conversation(jid string) *conversation {
	conv, ok := d.conversations[jid]
	if !ok {
		conv = &conversation{}
		d.conversations[jid] = conv
	}
	return conv
}

// drain runs the backend until the conversation has no triggered batch left.
func (d *Dispatcher) drain(jid string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		conv := d.conversation(jid)
		if !conv.triggered || d.ctx.Err() != nil {
			conv.running = false
			d.mu.Unlock()
			return
		}
		batch := conv.pending
		conv.pending = nil
		conv.triggered = false
		d.mu.Unlock()

		d.process(d.ctx, jid, batch)
	}
}

func (d *Dispatcher) process(ctx context.Context, jid string, batch []channel.Message) {
	group, ok := d.groups.Group(jid)
	if !ok {
		return
	}
	if err := d.out.RouteTyping(ctx, jid, true); err != nil {
		d.logger.Debug("typing on failed", slog.String("jid", jid), slog.Any("error", err))
	}
	defer func() {
		if err := d.out.RouteTyping(context.WithoutCancel(ctx), jid, false); err != nil {
			d.logger.Debug("typing off failed", slog.String("jid", jid), slog.Any("error", err))
		}
	}()

	reply, err := d.run(ctx, sourceMessage, Request{
		Group:       group,
		ChatJID:     jid,
		Input:       channel.FormatMessages(batch),
		Attachments: channel.CollectAttachments(batch),
	})
	if err != nil {
		d.logger.Error("agent run failed", slog.String("jid", jid), slog.Any("error", err))
		return
	}
	d.deliver(ctx, group, jid, reply)
}

// run validates the group's mounts and calls the backend. A mount violation
// rejects the whole run.
func (d *Dispatcher) run(ctx context.Context, source string, req Request) (Reply, error) {
	mounts, err := d.mountsFor(req.Group)
	if err != nil {
		d.metrics.AgentRun(source, metrics.AgentRunRejected)
		return Reply{}, err
	}
	req.Mounts = mounts
	reply, err := d.backend.Run(ctx, req)
	if err != nil {
		d.metrics.AgentRun(source, metrics.AgentRunFailed)
		return Reply{}, err
	}
	d.metrics.AgentRun(source, metrics.AgentRunOK)
	return reply, nil
}

func (d *Dispatcher) mountsFor(group channel.RegisteredGroup) ([]specs.Mount, error) {
	reqs := mount.RequestsForGroup(group)
	if len(reqs) == 0 {
		return nil, nil
	}
	validated, err := d.allowlist.ValidateAll(reqs, group.IsPrimary)
	if err != nil {
		return nil, fmt.Errorf("group %s mounts: %w", group.Folder, err)
	}
	return mount.ToOCI(validated), nil
}

// deliver routes every part of a reply. Failures are logged per part so one
// rejected part does not drop the rest.
func (d *Dispatcher) deliver(ctx context.Context, group channel.RegisteredGroup, jid string, reply Reply) {
	if _, err := d.out.SendAgentReply(ctx, jid, reply.Text); err != nil {
		d.logger.Error("send reply failed", slog.String("jid", jid), slog.Any("error", err))
	}
	for _, file := range reply.Files {
		path, err := d.workspacePath(group.Folder, file.Path)
		if err != nil {
			d.logger.Error("reply file rejected", slog.String("jid", jid), slog.String("path", file.Path), slog.Any("error", err))
			continue
		}
		if err := d.out.RouteFile(ctx, jid, path, channel.FormatOutbound(file.Caption)); err != nil {
			d.logger.Error("send file failed", slog.String("jid", jid), slog.String("path", file.Path), slog.Any("error", err))
		}
	}
	for _, comp := range reply.Components {
		id, err := d.out.RouteComponents(ctx, jid, channel.FormatOutbound(comp.Text), comp.Rows)
		if err != nil {
			d.logger.Error("send components failed", slog.String("jid", jid), slog.Any("error", err))
			continue
		}
		d.logger.Info("components sent", slog.String("jid", jid), slog.String("message_id", id))
	}
	for _, edit := range reply.Edits {
		update := edit.Update
		if update.Text != nil {
			text := channel.FormatOutbound(*update.Text)
			update.Text = &text
		}
		if err := d.out.RouteComponentUpdate(ctx, jid, edit.MessageID, update); err != nil {
			d.logger.Error("update components failed", slog.String("jid", jid), slog.String("message_id", edit.MessageID), slog.Any("error", err))
		}
	}
}

// workspacePath resolves a workspace-relative path on the host and refuses
// anything that escapes the group workspace.
func (d *Dispatcher) workspacePath(folder, rel string) (string, error) {
	if err := channel.ValidateGroupFolder(folder); err != nil {
		return "", err
	}
	rel = strings.TrimSpace(rel)
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative to the workspace")
	}
	root := filepath.Join(d.workspaceDir, folder)
	full := filepath.Join(root, filepath.Clean(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace")
	}
	return full, nil
}

func appendBounded(history []channel.Message, msg channel.Message, limit int) []channel.Message {
	history = append(history, msg)
	if len(history) > limit {
		history = append([]channel.Message(nil), history[len(history)-limit:]...)
	}
	return history
}
