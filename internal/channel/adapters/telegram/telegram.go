// Package telegram implements the Telegram channel using Bot API long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/channel/inbound"
	"github.com/memohai/chatbridge/internal/metrics"
)

const (
	// Name is the registry name of the Telegram channel.
	Name = "telegram"
	// JIDPrefix marks conversation addresses owned by Telegram.
	JIDPrefix = "tg:"

	maxMessageLength = 4096
	pollTimeout      = 30

	keyboardCacheTTL  = 48 * time.Hour
	keyboardCacheSize = 1024
)

var errBotClosed = errors.New("telegram bot closed")

// botAPI is the subset of *tgbotapi.BotAPI used by the adapter.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

// Options configures the Telegram adapter.
type Options struct {
	Token      string
	Sink       inbound.Sink
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Adapter is the Telegram channel.
type Adapter struct {
	*channel.Lifecycle

	logger     *slog.Logger
	token      string
	sink       inbound.Sink
	metrics    *metrics.Metrics
	httpClient *http.Client
	newBot     func(token string) (botAPI, tgbotapi.User, error)

	mu       sync.RWMutex
	bot      botAPI
	self     tgbotapi.User
	keyboard map[string]cachedKeyboard
	now      func() time.Time
}

// cachedKeyboard is the last keyboard this process set on a message. An
// empty markup records that the message has no keyboard.
type cachedKeyboard struct {
	markup   tgbotapi.InlineKeyboardMarkup
	storedAt time.Time
}

// New creates a Telegram adapter. Connect starts polling.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("telegram inbound sink is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("adapter", Name))
	_ = tgbotapi.SetLogger(&slogBotLogger{log: log})
	return &Adapter{
		Lifecycle:  channel.NewLifecycle(Name, log),
		logger:     log,
		token:      opts.Token,
		sink:       opts.Sink,
		metrics:    opts.Metrics,
		httpClient: opts.HTTPClient,
		newBot:     openBot,
		keyboard:   make(map[string]cachedKeyboard),
		now:        time.Now,
	}, nil
}

func openBot(token string) (botAPI, tgbotapi.User, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, tgbotapi.User{}, err
	}
	return bot, bot.Self, nil
}

// Name implements channel.Channel.
func (a *Adapter) Name() string { return Name }

// OwnsJID implements channel.Channel.
func (a *Adapter) OwnsJID(jid string) bool {
	return strings.HasPrefix(jid, JIDPrefix)
}

// Connect authenticates the bot and starts long polling. Updates are
// processed in arrival order on a single goroutine.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Open(ctx, func(ctx context.Context) (func(context.Context) error, error) {
		bot, self, err := a.newBot(a.token)
		if err != nil {
			return nil, fmt.Errorf("telegram create bot: %w", err)
		}
		a.mu.Lock()
		a.bot = bot
		a.self = self
		a.mu.Unlock()
		a.logger.Info("telegram bot authorized", slog.String("username", self.UserName))

		updateConfig := tgbotapi.NewUpdate(0)
		updateConfig.Timeout = pollTimeout
		updates := bot.GetUpdatesChan(updateConfig)
		pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})

		go func() {
			defer close(done)
			for {
				select {
				case <-pollCtx.Done():
					return
				case update, ok := <-updates:
					if !ok {
						a.MarkLost()
						return
					}
					a.handleUpdate(pollCtx, update)
				}
			}
		}()

		return func(context.Context) error {
			bot.StopReceivingUpdates()
			cancel()
			<-done
			// Drain so the library's polling goroutine can exit before a new
			// connection reuses the same token.
			for range updates {
			}
			a.mu.Lock()
			a.bot = nil
			a.mu.Unlock()
			return nil
		}, nil
	})
}

// Disconnect stops polling. It is safe to call more than once.
func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.Close(ctx)
}

func (a *Adapter) currentBot() botAPI {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bot
}

func (a *Adapter) selfUser() tgbotapi.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.self
}

// SendMessage posts text in chunks Telegram accepts. Failures are logged
// and counted but not returned.
func (a *Adapter) SendMessage(_ context.Context, jid string, text string) error {
	if !a.Ready("send_message", jid) {
		return nil
	}
	bot := a.currentBot()
	if bot == nil {
		return nil
	}
	chatID, err := chatIDFromJID(jid)
	if err != nil {
		a.sendFailed("message", jid, err)
		return nil
	}
	for _, chunk := range channel.ChunkText(text, maxMessageLength) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			a.sendFailed("message", jid, err)
			return nil
		}
	}
	return nil
}

// SetTyping sends the typing chat action. Telegram clears it on its own,
// so typing=false is a no-op.
func (a *Adapter) SetTyping(_ context.Context, jid string, typing bool) error {
	if !typing || !a.Ready("set_typing", jid) {
		return nil
	}
	bot := a.currentBot()
	if bot == nil {
		return nil
	}
	chatID, err := chatIDFromJID(jid)
	if err != nil {
		return nil
	}
	if _, err := bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		a.logger.Debug("telegram typing failed", slog.String("jid", jid), slog.Any("error", err))
	}
	return nil
}

// SendFile uploads a local file as a photo or a document.
func (a *Adapter) SendFile(_ context.Context, jid string, path string, caption string) error {
	if !a.Ready("send_file", jid) {
		return nil
	}
	bot := a.currentBot()
	if bot == nil {
		return nil
	}
	chatID, err := chatIDFromJID(jid)
	if err != nil {
		a.sendFailed("file", jid, err)
		return nil
	}
	if _, err := bot.Send(buildUpload(chatID, path, strings.TrimSpace(caption))); err != nil {
		a.sendFailed("file", jid, err)
	}
	return nil
}

func buildUpload(chatID int64, path, caption string) tgbotapi.Chattable {
	file := tgbotapi.FilePath(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		return photo
	default:
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption = caption
		return document
	}
}

// SendComponents posts text with an inline keyboard. Only buttons are
// supported.
func (a *Adapter) SendComponents(_ context.Context, jid string, text string, rows []channel.ActionRow) (string, error) {
	markup, err := toKeyboard(rows)
	if err != nil {
		return "", err
	}
	if !a.Ready("send_components", jid) {
		return "", channel.ErrChannelNotReady
	}
	bot := a.currentBot()
	if bot == nil {
		return "", channel.ErrChannelNotReady
	}
	chatID, err := chatIDFromJID(jid)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	sent, err := bot.Send(msg)
	if err != nil {
		a.sendFailed("components", jid, err)
		return "", fmt.Errorf("telegram send components: %w", err)
	}
	messageID := strconv.Itoa(sent.MessageID)
	a.rememberKeyboard(jid, messageID, markup)
	return messageID, nil
}

// UpdateComponents edits text and/or the inline keyboard of a message.
// Telegram drops the keyboard on a text edit, so the last known keyboard is
// sent again when rows are kept. A text-only edit of a message whose keyboard
// is not known fails with channel.ErrCapabilityUnsupported.
func (a *Adapter) UpdateComponents(_ context.Context, jid string, messageID string, update channel.ComponentUpdate) error {
	if update.Empty() {
		return nil
	}
	var (
		markup    tgbotapi.InlineKeyboardMarkup
		hasMarkup bool
	)
	switch {
	case update.ClearRows, update.Rows != nil && len(update.Rows) == 0:
		markup = tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
		hasMarkup = true
	case update.Rows != nil:
		var err error
		if markup, err = toKeyboard(update.Rows); err != nil {
			return err
		}
		hasMarkup = true
	default:
		markup, hasMarkup = a.knownKeyboard(jid, messageID)
		if !hasMarkup {
			return fmt.Errorf("telegram text edit of message %s with unknown keyboard: %w", messageID, channel.ErrCapabilityUnsupported)
		}
	}
	if !a.Ready("update_components", jid) {
		return channel.ErrChannelNotReady
	}
	bot := a.currentBot()
	if bot == nil {
		return channel.ErrChannelNotReady
	}
	chatID, err := chatIDFromJID(jid)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram message id %q: %w", messageID, err)
	}

	var edit tgbotapi.Chattable
	if update.Text != nil {
		textEdit := tgbotapi.NewEditMessageText(chatID, msgID, *update.Text)
		if len(markup.InlineKeyboard) > 0 {
			textEdit.ReplyMarkup = &markup
		}
		edit = textEdit
	} else {
		edit = tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, markup)
	}
	if _, err := bot.Request(edit); err != nil {
		a.sendFailed("components_update", jid, err)
		return fmt.Errorf("telegram update components: %w", err)
	}
	a.rememberKeyboard(jid, messageID, markup)
	return nil
}

func (a *Adapter) rememberKeyboard(jid, messageID string, markup tgbotapi.InlineKeyboardMarkup) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneKeyboards(now)
	a.keyboard[jid+"/"+messageID] = cachedKeyboard{markup: markup, storedAt: now}
}

// pruneKeyboards drops expired entries and, when the cache is still full,
// the oldest one. Callers hold a.mu.
func (a *Adapter) pruneKeyboards(now time.Time) {
	expireBefore := now.Add(-keyboardCacheTTL)
	oldestKey := ""
	var oldest time.Time
	for key, entry := range a.keyboard {
		if entry.storedAt.Before(expireBefore) {
			delete(a.keyboard, key)
			continue
		}
		if oldestKey == "" || entry.storedAt.Before(oldest) {
			oldestKey, oldest = key, entry.storedAt
		}
	}
	if len(a.keyboard) >= keyboardCacheSize && oldestKey != "" {
		delete(a.keyboard, oldestKey)
	}
}

func (a *Adapter) knownKeyboard(jid, messageID string) (tgbotapi.InlineKeyboardMarkup, bool) {
	now := a.now()
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.keyboard[jid+"/"+messageID]
	if !ok || entry.storedAt.Before(now.Add(-keyboardCacheTTL)) {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return entry.markup, true
}

// toKeyboard maps action rows to an inline keyboard in row order.
func toKeyboard(rows []channel.ActionRow) (tgbotapi.InlineKeyboardMarkup, error) {
	if err := channel.ValidateRows(rows); err != nil {
		return tgbotapi.InlineKeyboardMarkup{}, err
	}
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row.Components))
		for _, c := range row.Components {
			if c.Type != channel.ComponentButton {
				return tgbotapi.InlineKeyboardMarkup{}, fmt.Errorf("telegram %s component: %w", c.Type, channel.ErrCapabilityUnsupported)
			}
			if c.Disabled {
				return tgbotapi.InlineKeyboardMarkup{}, fmt.Errorf("telegram disabled button %q: %w", c.CustomID, channel.ErrCapabilityUnsupported)
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.CustomID))
		}
		keyboard = append(keyboard, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...), nil
}

func (a *Adapter) sendFailed(kind, jid string, err error) {
	a.metrics.OutboundFailed(Name, kind)
	a.logger.Error("telegram send failed",
		slog.String("kind", kind),
		slog.String("jid", jid),
		slog.Any("error", err),
	)
}

func chatIDFromJID(jid string) (int64, error) {
	raw := strings.TrimPrefix(jid, JIDPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram chat id %q: %w", raw, err)
	}
	return id, nil
}

type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
