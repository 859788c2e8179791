package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/chatbridge/internal/channel"
)

// HandleInteraction converts a component interaction into a synthetic
// trigger message. Platform acknowledgement is the adapter's job and must
// happen before this call. Only registered groups receive the message; it
// reports whether one was delivered.
func (n *Normalizer) HandleInteraction(ctx context.Context, in Interaction) bool {
	if _, ok := n.groups.Group(in.JID); !ok {
		n.logger.Debug("interaction from unregistered chat dropped",
			slog.String("jid", in.JID),
			slog.String("custom_id", in.CustomID),
		)
		n.metrics.Interaction(string(in.Kind), false)
		return false
	}
	content, err := n.interactionContent(in)
	if err != nil {
		n.logger.Warn("interaction dropped", slog.String("jid", in.JID), slog.Any("error", err))
		n.metrics.Interaction(string(in.Kind), false)
		return false
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = n.now()
	}
	n.handler.OnMessage(ctx, in.JID, channel.Message{
		ID:         n.newID(),
		ChatJID:    in.JID,
		Sender:     in.UserID,
		SenderName: interactionUser(in),
		Content:    content,
		Timestamp:  ts,
	})
	n.metrics.Interaction(string(in.Kind), true)
	return true
}

func (n *Normalizer) interactionContent(in Interaction) (string, error) {
	user := interactionUser(in)
	switch in.Kind {
	case InteractionButton:
		return fmt.Sprintf("%s [Button clicked] id=%s label=%q by %s on message %s",
			n.trigger.Phrase(), in.CustomID, in.Label, user, in.MessageID), nil
	case InteractionSelect:
		return fmt.Sprintf("%s [Option selected] id=%s values=%s by %s on message %s",
			n.trigger.Phrase(), in.CustomID, strings.Join(in.Values, ","), user, in.MessageID), nil
	default:
		return "", fmt.Errorf("unknown interaction kind %q", in.Kind)
	}
}

func interactionUser(in Interaction) string {
	if name := strings.TrimSpace(in.UserName); name != "" {
		return name
	}
	return in.UserID
}
