package discord

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/chatbridge/internal/channel/inbound"
)

func (a *Adapter) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if a.isDuplicateInbound(m.ID) {
		return
	}
	ctx := context.Background()
	a.sink.Handle(ctx, a.toEvent(ctx, m.Message))
}

func (a *Adapter) toEvent(ctx context.Context, msg *discordgo.Message) inbound.Event {
	a.mu.RLock()
	botID := a.botID
	a.mu.RUnlock()

	ev := inbound.Event{
		JID:         JIDPrefix + msg.ChannelID,
		MessageID:   msg.ID,
		SenderID:    msg.Author.ID,
		SenderName:  displayName(msg.Author, msg.Member),
		Text:        msg.Content,
		Timestamp:   msg.Timestamp,
		FromSelf:    botID != "" && msg.Author.ID == botID,
		FromBot:     msg.Author.Bot,
		Attachments: a.collectAttachments(msg),
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.ChatLabel = a.chatLabel(ctx, msg, ev.SenderName)
	if isBotMentioned(msg, botID) {
		ev.MentionTokens = []string{"<@" + botID + ">", "<@!" + botID + ">"}
	}
	ev.ReplyAuthor = a.replyAuthor(msg)
	return ev
}

// chatLabel returns "Guild #channel" for guild channels and the sender name
// for direct messages. Lookups are cached per channel.
func (a *Adapter) chatLabel(ctx context.Context, msg *discordgo.Message, senderName string) string {
	if msg.GuildID == "" {
		return senderName
	}
	a.mu.RLock()
	label, ok := a.labels[msg.ChannelID]
	a.mu.RUnlock()
	if ok {
		return label
	}
	s := a.currentSession()
	if s == nil {
		return senderName
	}
	ch, err := s.Channel(msg.ChannelID, discordgo.WithContext(ctx))
	if err != nil || ch == nil {
		a.logger.Debug("discord channel lookup failed", slog.String("channel_id", msg.ChannelID), slog.Any("error", err))
		return senderName
	}
	guildName := msg.GuildID
	if g, err := s.Guild(msg.GuildID, discordgo.WithContext(ctx)); err == nil && g != nil && g.Name != "" {
		guildName = g.Name
	}
	label = guildName + " #" + ch.Name
	a.mu.Lock()
	a.labels[msg.ChannelID] = label
	a.mu.Unlock()
	return label
}

func (a *Adapter) replyAuthor(msg *discordgo.Message) func(ctx context.Context) (string, error) {
	if ref := msg.ReferencedMessage; ref != nil && ref.Author != nil {
		name := displayName(ref.Author, ref.Member)
		return func(context.Context) (string, error) { return name, nil }
	}
	if msg.MessageReference == nil || msg.MessageReference.MessageID == "" {
		return nil
	}
	channelID := msg.MessageReference.ChannelID
	if channelID == "" {
		channelID = msg.ChannelID
	}
	messageID := msg.MessageReference.MessageID
	return func(ctx context.Context) (string, error) {
		s := a.currentSession()
		if s == nil {
			return "", errors.New("discord session closed")
		}
		ref, err := s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
		if err != nil {
			return "", err
		}
		if ref.Author == nil {
			return "", errors.New("referenced message has no author")
		}
		return displayName(ref.Author, ref.Member), nil
	}
}

func (a *Adapter) collectAttachments(msg *discordgo.Message) []inbound.Attachment {
	if len(msg.Attachments) == 0 {
		return nil
	}
	out := make([]inbound.Attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		if att == nil || att.URL == "" {
			continue
		}
		out = append(out, inbound.Attachment{
			Name:      att.Filename,
			MediaType: att.ContentType,
			Size:      int64(att.Size),
			Fetch:     inbound.HTTPFetch(a.httpClient, att.URL, nil),
		})
	}
	return out
}

func isBotMentioned(msg *discordgo.Message, botID string) bool {
	if botID == "" {
		return false
	}
	for _, u := range msg.Mentions {
		if u != nil && u.ID == botID {
			return true
		}
	}
	return strings.Contains(msg.Content, "<@"+botID+">") || strings.Contains(msg.Content, "<@!"+botID+">")
}

func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (a *Adapter) isDuplicateInbound(messageID string) bool {
	if strings.TrimSpace(messageID) == "" {
		return false
	}
	now := time.Now()
	expireBefore := now.Add(-inboundDedupTTL)

	a.mu.Lock()
	defer a.mu.Unlock()
	for key, seenAt := range a.seenMessages {
		if seenAt.Before(expireBefore) {
			delete(a.seenMessages, key)
		}
	}
	if _, ok := a.seenMessages[messageID]; ok {
		return true
	}
	a.seenMessages[messageID] = now
	return false
}

func (a *Adapter) onInteractionCreate(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic == nil || ic.Interaction == nil || ic.Type != discordgo.InteractionMessageComponent {
		return
	}
	ctx := context.Background()
	// Acknowledge first so Discord does not show "interaction failed".
	if s := a.currentSession(); s != nil {
		resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
		if err := s.InteractionRespond(ic.Interaction, resp, discordgo.WithContext(ctx)); err != nil {
			a.logger.Warn("discord interaction ack failed", slog.String("interaction_id", ic.ID), slog.Any("error", err))
		}
	}
	in, ok := toInteraction(ic.Interaction)
	if !ok {
		return
	}
	a.sink.HandleInteraction(ctx, in)
}

func toInteraction(i *discordgo.Interaction) (inbound.Interaction, bool) {
	data := i.MessageComponentData()
	in := inbound.Interaction{
		JID:       JIDPrefix + i.ChannelID,
		CustomID:  data.CustomID,
		Values:    data.Values,
		Timestamp: time.Now(),
	}
	if i.Message != nil {
		in.MessageID = i.Message.ID
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user != nil {
		in.UserID = user.ID
		in.UserName = displayName(user, i.Member)
	}
	switch data.ComponentType {
	case discordgo.ButtonComponent:
		in.Kind = inbound.InteractionButton
		if i.Message != nil {
			in.Label = buttonLabel(i.Message.Components, data.CustomID)
		}
	case discordgo.SelectMenuComponent:
		in.Kind = inbound.InteractionSelect
	default:
		return inbound.Interaction{}, false
	}
	return in, true
}
