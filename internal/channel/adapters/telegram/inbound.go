package telegram

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/chatbridge/internal/channel/inbound"
)

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		a.sink.Handle(ctx, a.toEvent(update.Message))
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, update.CallbackQuery)
	}
}

func (a *Adapter) toEvent(msg *tgbotapi.Message) inbound.Event {
	self := a.selfUser()
	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	ev := inbound.Event{
		MessageID:   strconv.Itoa(msg.MessageID),
		Text:        text,
		Timestamp:   time.Unix(int64(msg.Date), 0).UTC(),
		Attachments: a.collectAttachments(msg),
	}
	if msg.Chat != nil {
		ev.JID = JIDPrefix + strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		ev.SenderID = strconv.FormatInt(msg.From.ID, 10)
		ev.SenderName = userName(msg.From)
		ev.FromSelf = self.ID != 0 && msg.From.ID == self.ID
		ev.FromBot = msg.From.IsBot
	}
	ev.ChatLabel = ev.SenderName
	if msg.Chat != nil && !msg.Chat.IsPrivate() && strings.TrimSpace(msg.Chat.Title) != "" {
		ev.ChatLabel = strings.TrimSpace(msg.Chat.Title)
	}
	if token := mentionToken(text, entities, self.UserName); token != "" {
		ev.MentionTokens = []string{token}
	}
	if reply := msg.ReplyToMessage; reply != nil && reply.From != nil {
		author := userName(reply.From)
		ev.ReplyAuthor = func(context.Context) (string, error) { return author, nil }
	}
	return ev
}

// mentionToken returns the "@username" mention entity that addresses the
// bot, as written in text. Entity offsets count UTF-16 code units.
func mentionToken(text string, entities []tgbotapi.MessageEntity, username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" || len(entities) == 0 {
		return ""
	}
	units := utf16.Encode([]rune(text))
	for _, e := range entities {
		if !e.IsMention() || e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
			continue
		}
		token := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		if strings.EqualFold(token, "@"+username) {
			return token
		}
	}
	return ""
}

func userName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return u.UserName
	}
	return strconv.FormatInt(u.ID, 10)
}

func (a *Adapter) collectAttachments(msg *tgbotapi.Message) []inbound.Attachment {
	var out []inbound.Attachment
	if len(msg.Photo) > 0 {
		photo := largestPhoto(msg.Photo)
		out = append(out, a.attachment(photo.FileID, "photo.jpg", "image/jpeg", photo.FileSize))
	}
	if d := msg.Document; d != nil {
		out = append(out, a.attachment(d.FileID, d.FileName, d.MimeType, d.FileSize))
	}
	if v := msg.Video; v != nil {
		out = append(out, a.attachment(v.FileID, nameOr(v.FileName, "video.mp4"), nameOr(v.MimeType, "video/mp4"), v.FileSize))
	}
	if au := msg.Audio; au != nil {
		out = append(out, a.attachment(au.FileID, nameOr(au.FileName, "audio.mp3"), nameOr(au.MimeType, "audio/mpeg"), au.FileSize))
	}
	if v := msg.Voice; v != nil {
		out = append(out, a.attachment(v.FileID, "voice.ogg", nameOr(v.MimeType, "audio/ogg"), v.FileSize))
	}
	return out
}

func (a *Adapter) attachment(fileID, name, mediaType string, size int) inbound.Attachment {
	if strings.TrimSpace(name) == "" {
		name = "file"
	}
	return inbound.Attachment{
		Name:      name,
		MediaType: mediaType,
		Size:      int64(size),
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			bot := a.currentBot()
			if bot == nil {
				return nil, errBotClosed
			}
			url, err := bot.GetFileDirectURL(fileID)
			if err != nil {
				return nil, err
			}
			return inbound.HTTPFetch(a.httpClient, url, nil)(ctx)
		},
	}
}

func nameOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func largestPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

func (a *Adapter) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if bot := a.currentBot(); bot != nil {
		if _, err := bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			a.logger.Warn("telegram callback ack failed", slog.String("callback_id", cq.ID), slog.Any("error", err))
		}
	}
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	in := inbound.Interaction{
		JID:       JIDPrefix + strconv.FormatInt(cq.Message.Chat.ID, 10),
		MessageID: strconv.Itoa(cq.Message.MessageID),
		Kind:      inbound.InteractionButton,
		CustomID:  cq.Data,
		Label:     callbackLabel(cq.Message.ReplyMarkup, cq.Data),
		Timestamp: time.Now(),
	}
	if cq.From != nil {
		in.UserID = strconv.FormatInt(cq.From.ID, 10)
		in.UserName = userName(cq.From)
	}
	a.sink.HandleInteraction(ctx, in)
}

func callbackLabel(markup *tgbotapi.InlineKeyboardMarkup, data string) string {
	if markup == nil {
		return ""
	}
	for _, row := range markup.InlineKeyboard {
		for _, button := range row {
			if button.CallbackData != nil && *button.CallbackData == data {
				return button.Text
			}
		}
	}
	return ""
}
