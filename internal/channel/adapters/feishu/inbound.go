package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/memohai/chatbridge/internal/channel/inbound"
)

const (
	resourceImage = "image"
	resourceFile  = "file"
)

// toEvent converts a receive event into an inbound.Event. Mentions of other
// users are rendered as "@Name"; mentions of the bot become mention tokens.
func (a *Adapter) toEvent(ctx context.Context, event *larkim.P2MessageReceiveV1) (inbound.Event, bool) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return inbound.Event{}, false
	}
	message := event.Event.Message
	chatID := ptrStr(message.ChatId)
	if chatID == "" {
		return inbound.Event{}, false
	}
	botOpenID := a.currentBotOpenID()
	messageID := ptrStr(message.MessageId)

	ev := inbound.Event{
		JID:       JIDPrefix + chatID,
		MessageID: messageID,
		Timestamp: parseCreateTime(ptrStr(message.CreateTime)),
	}
	if sender := event.Event.Sender; sender != nil {
		if sender.SenderId != nil {
			ev.SenderID = ptrStr(sender.SenderId.OpenId)
			if ev.SenderID == "" {
				ev.SenderID = ptrStr(sender.SenderId.UserId)
			}
		}
		ev.FromBot = ptrStr(sender.SenderType) == "app"
		ev.FromSelf = botOpenID != "" && ev.SenderID == botOpenID
	}

	var content map[string]any
	if raw := ptrStr(message.Content); raw != "" {
		if err := json.Unmarshal([]byte(raw), &content); err != nil {
			a.logger.Warn("feishu inbound: unmarshal content failed", slog.String("message_id", messageID), slog.Any("error", err))
		}
	}
	switch ptrStr(message.MessageType) {
	case larkim.MsgTypeText:
		ev.Text = stringValue(content["text"])
	case larkim.MsgTypePost:
		var tokens []string
		ev.Text, tokens = extractPostText(content, botOpenID)
		ev.MentionTokens = append(ev.MentionTokens, tokens...)
	}
	var tokens []string
	ev.Text, tokens = resolveMentions(ev.Text, message.Mentions, botOpenID)
	ev.MentionTokens = append(ev.MentionTokens, tokens...)
	ev.Attachments = a.collectAttachments(messageID, ptrStr(message.MessageType), content)

	if ev.SenderID != "" {
		ev.SenderName = a.cachedName(a.userNames, ev.SenderID, func() (string, error) {
			return a.api.UserName(ctx, ev.SenderID)
		})
	}
	if ev.SenderName == "" {
		ev.SenderName = ev.SenderID
	}
	ev.ChatLabel = ev.SenderName
	if ptrStr(message.ChatType) != "p2p" {
		if name := a.cachedName(a.chatNames, chatID, func() (string, error) { return a.api.ChatName(ctx, chatID) }); name != "" {
			ev.ChatLabel = name
		}
	}
	if parentID := ptrStr(message.ParentId); parentID != "" {
		ev.ReplyAuthor = func(ctx context.Context) (string, error) {
			return a.api.MessageSender(ctx, parentID)
		}
	}
	return ev, true
}

// mentionPlaceholder matches a whole "@_user_N" placeholder; the digit run
// is greedy so "@_user_1" never matches inside "@_user_10".
var mentionPlaceholder = regexp.MustCompile(`@_user_[0-9]+`)

// resolveMentions replaces "@_user_N" placeholders. Placeholders that
// address the bot are kept and returned as tokens. Without a known bot
// identity every mention counts as addressing the bot.
func resolveMentions(text string, mentions []*larkim.MentionEvent, botOpenID string) (string, []string) {
	var tokens []string
	names := make(map[string]string, len(mentions))
	for _, m := range mentions {
		if m == nil {
			continue
		}
		key := ptrStr(m.Key)
		if key == "" {
			continue
		}
		openID := ""
		if m.Id != nil {
			openID = ptrStr(m.Id.OpenId)
		}
		if botOpenID == "" || openID == botOpenID {
			tokens = append(tokens, key)
			continue
		}
		name := ptrStr(m.Name)
		if name == "" {
			name = openID
		}
		names[key] = "@" + name
	}
	text = mentionPlaceholder.ReplaceAllStringFunc(text, func(key string) string {
		if name, ok := names[key]; ok {
			return name
		}
		return key
	})
	return text, tokens
}

// extractPostText flattens a rich-text post. The root "content" holds lines
// of tagged parts.
func extractPostText(content map[string]any, botOpenID string) (string, []string) {
	lines, _ := content["content"].([]any)
	var (
		out    []string
		tokens []string
	)
	for _, rawLine := range lines {
		line, ok := rawLine.([]any)
		if !ok {
			continue
		}
		parts := make([]string, 0, len(line))
		for _, rawPart := range line {
			part, ok := rawPart.(map[string]any)
			if !ok {
				continue
			}
			switch strings.ToLower(stringValue(part["tag"])) {
			case "at":
				name := stringValue(part["user_name"])
				if name == "" {
					name = stringValue(part["text"])
				}
				mention := "@" + strings.TrimPrefix(name, "@")
				uid := stringValue(part["user_id"])
				if uid == "" {
					uid = stringValue(part["open_id"])
				}
				if botOpenID == "" || uid == botOpenID {
					tokens = append(tokens, mention)
				}
				parts = append(parts, mention)
			case "img", "media":
			default:
				if text := stringValue(part["text"]); text != "" {
					parts = append(parts, text)
				}
			}
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, " "))
		}
	}
	if title := stringValue(content["title"]); title != "" {
		out = append([]string{title}, out...)
	}
	return strings.Join(out, "\n"), tokens
}

func (a *Adapter) collectAttachments(messageID, msgType string, content map[string]any) []inbound.Attachment {
	var out []inbound.Attachment
	switch msgType {
	case larkim.MsgTypeImage:
		if key := stringValue(content["image_key"]); key != "" {
			out = append(out, a.attachment(messageID, key, resourceImage, "image.png", "image/png"))
		}
	case larkim.MsgTypeFile:
		if key := stringValue(content["file_key"]); key != "" {
			out = append(out, a.attachment(messageID, key, resourceFile, nameOr(stringValue(content["file_name"]), "file"), ""))
		}
	case larkim.MsgTypeAudio:
		if key := stringValue(content["file_key"]); key != "" {
			out = append(out, a.attachment(messageID, key, resourceFile, "audio.opus", "audio/opus"))
		}
	case larkim.MsgTypeMedia:
		if key := stringValue(content["file_key"]); key != "" {
			out = append(out, a.attachment(messageID, key, resourceFile, nameOr(stringValue(content["file_name"]), "video.mp4"), "video/mp4"))
		}
	case larkim.MsgTypePost:
		lines, _ := content["content"].([]any)
		for _, rawLine := range lines {
			line, _ := rawLine.([]any)
			for _, rawPart := range line {
				part, ok := rawPart.(map[string]any)
				if !ok {
					continue
				}
				if strings.EqualFold(stringValue(part["tag"]), "img") {
					if key := stringValue(part["image_key"]); key != "" {
						out = append(out, a.attachment(messageID, key, resourceImage, "image.png", "image/png"))
					}
				}
			}
		}
	}
	return out
}

// attachment builds a descriptor whose size is unknown until download.
func (a *Adapter) attachment(messageID, key, kind, name, mediaType string) inbound.Attachment {
	return inbound.Attachment{
		Name:      name,
		MediaType: mediaType,
		Fetch: func(ctx context.Context) (io.ReadCloser, error) {
			return a.api.Download(ctx, messageID, key, kind)
		},
	}
}

func parseCreateTime(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func nameOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func stringValue(raw any) string {
	if raw == nil {
		return ""
	}
	if value, ok := raw.(string); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(fmt.Sprint(raw))
}
