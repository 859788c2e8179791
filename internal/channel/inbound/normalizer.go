package inbound

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/inbox"
	"github.com/memohai/chatbridge/internal/metrics"
)

// AttachmentStore persists fetched attachments into a group workspace.
type AttachmentStore interface {
	Save(ctx context.Context, folder, name string, reader io.Reader) (inbox.Saved, error)
	MaxBytes() int64
}

// Options configures a Normalizer.
type Options struct {
	AssistantName string
	Groups        channel.GroupLookup
	Handler       channel.InboundHandler
	// Store may be nil, in which case attachments become placeholders.
	Store   AttachmentStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Normalizer is the shared inbound pipeline.
type Normalizer struct {
	logger  *slog.Logger
	trigger Trigger
	groups  channel.GroupLookup
	handler channel.InboundHandler
	store   AttachmentStore
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// NewNormalizer validates opts and builds a Normalizer.
func NewNormalizer(opts Options) (*Normalizer, error) {
	if opts.Groups == nil {
		return nil, fmt.Errorf("group lookup is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("inbound handler is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		logger:  log.With(slog.String("component", "inbound")),
		trigger: NewTrigger(opts.AssistantName),
		groups:  opts.Groups,
		handler: opts.Handler,
		store:   opts.Store,
		metrics: opts.Metrics,
		now:     time.Now,
		newID:   func() string { return "interaction-" + uuid.NewString() },
	}, nil
}

// Trigger returns the canonical trigger used by this pipeline.
func (n *Normalizer) Trigger() Trigger {
	return n.trigger
}

// Handle normalizes one platform event. Chat metadata is always reported;
// the full message is delivered only for registered groups. It reports
// whether a message was delivered.
func (n *Normalizer) Handle(ctx context.Context, ev Event) bool {
	if ev.FromSelf || ev.FromBot {
		n.metrics.Inbound(metrics.InboundSkipped)
		return false
	}
	if strings.TrimSpace(ev.JID) == "" {
		n.logger.Warn("inbound event without address", slog.String("message_id", ev.MessageID))
		n.metrics.Inbound(metrics.InboundSkipped)
		return false
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = n.now()
	}
	label := strings.TrimSpace(ev.ChatLabel)
	if label == "" {
		label = ev.SenderName
	}
	n.handler.OnChatMetadata(ctx, ev.JID, ts, label)

	group, ok := n.groups.Group(ev.JID)
	if !ok {
		n.metrics.Inbound(metrics.InboundMetadataOnly)
		return false
	}

	content := n.trigger.Apply(ev.Text, ev.MentionTokens)
	if ev.ReplyAuthor != nil {
		author, err := ev.ReplyAuthor(ctx)
		if err != nil {
			n.logger.Debug("reply author lookup failed",
				slog.String("jid", ev.JID),
				slog.String("message_id", ev.MessageID),
				slog.Any("error", err),
			)
		} else {
			content = n.trigger.InsertReply(content, author)
		}
	}

	refs, saved := n.downloadAttachments(ctx, group.Folder, ev.Attachments)
	if len(refs) > 0 {
		parts := make([]string, 0, len(refs)+1)
		if content != "" {
			parts = append(parts, content)
		}
		content = strings.Join(append(parts, refs...), "\n")
	}
	if content == "" && len(saved) == 0 {
		n.metrics.Inbound(metrics.InboundSkipped)
		return false
	}

	n.handler.OnMessage(ctx, ev.JID, channel.Message{
		ID:          ev.MessageID,
		ChatJID:     ev.JID,
		Sender:      ev.SenderID,
		SenderName:  ev.SenderName,
		Content:     content,
		Timestamp:   ts,
		Attachments: saved,
	})
	n.metrics.Inbound(metrics.InboundDelivered)
	return true
}
