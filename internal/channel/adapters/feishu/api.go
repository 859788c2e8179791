package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// messenger is the Open API surface used by the adapter.
type messenger interface {
	BotOpenID(ctx context.Context) (string, error)
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID string, image io.Reader) error
	SendFile(ctx context.Context, chatID, name string, file io.Reader) error
	Download(ctx context.Context, messageID, key, kind string) (io.ReadCloser, error)
	ChatName(ctx context.Context, chatID string) (string, error)
	UserName(ctx context.Context, openID string) (string, error)
	MessageSender(ctx context.Context, messageID string) (string, error)
}

type larkMessenger struct {
	client *lark.Client
}

func newLarkMessenger(cfg Config, log *slog.Logger) *larkMessenger {
	return &larkMessenger{
		client: lark.NewClient(cfg.AppID, cfg.AppSecret,
			lark.WithOpenBaseUrl(cfg.openBaseURL()),
			lark.WithLogger(newLarkSlogLogger(log)),
		),
	}
}

// BotOpenID retrieves the bot's own open_id. It also proves the app
// credentials are valid.
func (m *larkMessenger) BotOpenID(ctx context.Context) (string, error) {
	resp, err := m.client.Get(ctx, "/open-apis/bot/v3/info", nil, larkcore.AccessTokenTypeTenant)
	if err != nil {
		return "", fmt.Errorf("feishu bot info: %w", err)
	}
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID string `json:"open_id"`
		} `json:"bot"`
	}
	if err := json.Unmarshal(resp.RawBody, &body); err != nil {
		return "", fmt.Errorf("feishu bot info: parse response: %w", err)
	}
	if body.Code != 0 {
		return "", fmt.Errorf("feishu bot info: %s (code: %d)", body.Msg, body.Code)
	}
	openID := strings.TrimSpace(body.Bot.OpenID)
	if openID == "" {
		return "", errors.New("feishu bot info: empty open_id")
	}
	return openID, nil
}

func (m *larkMessenger) SendText(ctx context.Context, chatID, text string) error {
	return m.create(ctx, chatID, larkim.MsgTypeText, map[string]string{"text": text})
}

func (m *larkMessenger) SendImage(ctx context.Context, chatID string, image io.Reader) error {
	req := larkim.NewCreateImageReqBuilder().
		Body(larkim.NewCreateImageReqBodyBuilder().
			ImageType(larkim.ImageTypeMessage).
			Image(image).
			Build()).
		Build()
	resp, err := m.client.Im.V1.Image.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	if !resp.Success() || resp.Data == nil || resp.Data.ImageKey == nil {
		return fmt.Errorf("failed to upload image: %s (code: %d)", resp.Msg, resp.Code)
	}
	return m.create(ctx, chatID, larkim.MsgTypeImage, map[string]string{"image_key": *resp.Data.ImageKey})
}

func (m *larkMessenger) SendFile(ctx context.Context, chatID, name string, file io.Reader) error {
	req := larkim.NewCreateFileReqBuilder().
		Body(larkim.NewCreateFileReqBodyBuilder().
			FileType(fileType(name)).
			FileName(name).
			File(file).
			Build()).
		Build()
	resp, err := m.client.Im.V1.File.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	if !resp.Success() || resp.Data == nil || resp.Data.FileKey == nil {
		return fmt.Errorf("failed to upload file: %s (code: %d)", resp.Msg, resp.Code)
	}
	return m.create(ctx, chatID, larkim.MsgTypeFile, map[string]string{"file_key": *resp.Data.FileKey})
}

func (m *larkMessenger) create(ctx context.Context, chatID, msgType string, content map[string]string) error {
	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(string(payload)).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := m.client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("feishu send failed: %s (code: %d)", resp.Msg, resp.Code)
	}
	return nil
}

func (m *larkMessenger) Download(ctx context.Context, messageID, key, kind string) (io.ReadCloser, error) {
	req := larkim.NewGetMessageResourceReqBuilder().
		MessageId(messageID).
		FileKey(key).
		Type(kind).
		Build()
	resp, err := m.client.Im.V1.MessageResource.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("download feishu resource: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("download feishu resource: %s (code: %d)", resp.Msg, resp.Code)
	}
	if resp.File == nil {
		return nil, errors.New("download feishu resource: empty payload")
	}
	return io.NopCloser(resp.File), nil
}

func (m *larkMessenger) ChatName(ctx context.Context, chatID string) (string, error) {
	req := larkim.NewGetChatReqBuilder().
		ChatId(chatID).
		Build()
	resp, err := m.client.Im.V1.Chat.Get(ctx, req)
	if err != nil {
		return "", fmt.Errorf("feishu get chat: %w", err)
	}
	if !resp.Success() || resp.Data == nil {
		return "", fmt.Errorf("feishu get chat: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return ptrStr(resp.Data.Name), nil
}

func (m *larkMessenger) UserName(ctx context.Context, openID string) (string, error) {
	req := larkcontact.NewGetUserReqBuilder().
		UserIdType(larkcontact.UserIdTypeOpenId).
		UserId(openID).
		Build()
	resp, err := m.client.Contact.User.Get(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.Success() {
		return "", fmt.Errorf("feishu get user failed: code=%d msg=%s", resp.Code, strings.TrimSpace(resp.Msg))
	}
	if resp.Data == nil || resp.Data.User == nil {
		return "", errors.New("feishu get user returned empty user")
	}
	return ptrStr(resp.Data.User.Name), nil
}

// MessageSender returns the display name of a message's sender, falling
// back to the raw sender id when the contact lookup is not permitted.
func (m *larkMessenger) MessageSender(ctx context.Context, messageID string) (string, error) {
	req := larkim.NewGetMessageReqBuilder().
		MessageId(messageID).
		Build()
	resp, err := m.client.Im.V1.Message.Get(ctx, req)
	if err != nil {
		return "", fmt.Errorf("feishu get message: %w", err)
	}
	if !resp.Success() || resp.Data == nil || len(resp.Data.Items) == 0 || resp.Data.Items[0].Sender == nil {
		return "", fmt.Errorf("feishu get message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	sender := resp.Data.Items[0].Sender
	id := ptrStr(sender.Id)
	if ptrStr(sender.IdType) != larkcontact.UserIdTypeOpenId {
		return id, nil
	}
	if name, err := m.UserName(ctx, id); err == nil && name != "" {
		return name, nil
	}
	return id, nil
}

func ptrStr(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// fileType maps a filename to a Feishu upload file type.
func fileType(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasSuffix(lower, ".mp4"):
		return larkim.FileTypeMp4
	case strings.HasSuffix(lower, ".pdf"):
		return larkim.FileTypePdf
	case strings.HasSuffix(lower, ".doc"), strings.HasSuffix(lower, ".docx"):
		return larkim.FileTypeDoc
	case strings.HasSuffix(lower, ".xls"), strings.HasSuffix(lower, ".xlsx"):
		return larkim.FileTypeXls
	case strings.HasSuffix(lower, ".ppt"), strings.HasSuffix(lower, ".pptx"):
		return larkim.FileTypePpt
	default:
		return larkim.FileTypeStream
	}
}
