// Package feishu implements the Feishu/Lark channel. Inbound events arrive
// over the SDK websocket client or, in webhook mode, through WebhookHandler.
package feishu

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/channel/inbound"
	"github.com/memohai/chatbridge/internal/metrics"
)

const (
	// Name is the registry name of the Feishu channel.
	Name = "feishu"
	// JIDPrefix marks conversation addresses owned by Feishu.
	JIDPrefix = "fs:"

	maxMessageLength = 4000
	reconnectDelay   = 3 * time.Second
)

type wsClient interface {
	Start(ctx context.Context) error
}

// Options configures the Feishu adapter.
type Options struct {
	Config  Config
	Sink    inbound.Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Adapter is the Feishu channel.
type Adapter struct {
	*channel.Lifecycle

	logger      *slog.Logger
	cfg         Config
	sink        inbound.Sink
	metrics     *metrics.Metrics
	api         messenger
	newWSClient func(handler *dispatcher.EventDispatcher) wsClient

	mu        sync.RWMutex
	botOpenID string
	chatNames map[string]string
	userNames map[string]string
}

// New creates a Feishu adapter.
func New(opts Options) (*Adapter, error) {
	cfg, err := opts.Config.Normalize()
	if err != nil {
		return nil, err
	}
	if opts.Sink == nil {
		return nil, errors.New("feishu inbound sink is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("adapter", Name))
	a := &Adapter{
		Lifecycle: channel.NewLifecycle(Name, log),
		logger:    log,
		cfg:       cfg,
		sink:      opts.Sink,
		metrics:   opts.Metrics,
		api:       newLarkMessenger(cfg, log),
		chatNames: make(map[string]string),
		userNames: make(map[string]string),
	}
	a.newWSClient = func(handler *dispatcher.EventDispatcher) wsClient {
		return larkws.NewClient(
			cfg.AppID,
			cfg.AppSecret,
			larkws.WithEventHandler(handler),
			larkws.WithDomain(cfg.openBaseURL()),
			larkws.WithLogger(newLarkSlogLogger(log)),
			larkws.WithLogLevel(larkcore.LogLevelInfo),
		)
	}
	return a, nil
}

// Name implements channel.Channel.
func (a *Adapter) Name() string { return Name }

// OwnsJID implements channel.Channel.
func (a *Adapter) OwnsJID(jid string) bool {
	return strings.HasPrefix(jid, JIDPrefix)
}

// WebhookMode reports whether inbound events arrive through WebhookHandler.
func (a *Adapter) WebhookMode() bool {
	return a.cfg.InboundMode == InboundModeWebhook
}

// Connect resolves the bot identity, which also validates the credentials,
// and starts the websocket client unless webhook mode is configured.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Open(ctx, func(ctx context.Context) (func(context.Context) error, error) {
		openID, err := a.api.BotOpenID(ctx)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.botOpenID = openID
		a.mu.Unlock()
		a.logger.Info("bot identity", slog.String("bot_open_id", openID))

		if a.WebhookMode() {
			a.logger.Info("webhook mode enabled; websocket connect skipped")
			return func(context.Context) error { return nil }, nil
		}
		connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		go a.runWebsocket(connCtx)
		return func(context.Context) error {
			cancel()
			return nil
		}, nil
	})
}

// Disconnect stops the websocket client. It is safe to call more than once.
func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.Close(ctx)
}

func (a *Adapter) runWebsocket(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := a.newWSClient(a.eventDispatcher(ctx)).Start(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.Error("client start failed", slog.Any("error", err))
		} else {
			a.logger.Warn("client exited without error; reconnecting")
		}
		timer := time.NewTimer(reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// eventDispatcher builds the SDK dispatcher shared by websocket and webhook
// delivery.
func (a *Adapter) eventDispatcher(ctx context.Context) *dispatcher.EventDispatcher {
	d := dispatcher.NewEventDispatcher(a.cfg.VerificationToken, a.cfg.EncryptKey)
	d.OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
		if ctx.Err() != nil {
			return nil
		}
		if ev, ok := a.toEvent(ctx, event); ok {
			a.sink.Handle(ctx, ev)
		}
		return nil
	})
	d.OnP2MessageReadV1(func(_ context.Context, _ *larkim.P2MessageReadV1) error {
		return nil
	})
	return d
}

// SendMessage posts text in chunks. Failures are logged and counted but not
// returned.
func (a *Adapter) SendMessage(ctx context.Context, jid string, text string) error {
	if !a.Ready("send_message", jid) {
		return nil
	}
	chatID := chatIDFromJID(jid)
	for _, chunk := range channel.ChunkText(text, maxMessageLength) {
		if err := a.api.SendText(ctx, chatID, chunk); err != nil {
			a.sendFailed("message", jid, err)
			return nil
		}
	}
	return nil
}

// SendFile uploads a local file as an image or a file message. A caption is
// sent as a follow-up text message.
func (a *Adapter) SendFile(ctx context.Context, jid string, path string, caption string) error {
	if !a.Ready("send_file", jid) {
		return nil
	}
	if err := a.upload(ctx, chatIDFromJID(jid), path); err != nil {
		a.sendFailed("file", jid, err)
		return nil
	}
	if caption = strings.TrimSpace(caption); caption != "" {
		if err := a.api.SendText(ctx, chatIDFromJID(jid), caption); err != nil {
			a.sendFailed("message", jid, err)
		}
	}
	return nil
}

func (a *Adapter) upload(ctx context.Context, chatID, path string) error {
	f, err := os.Open(path) //nolint:gosec // path is produced by the host agent
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	name := filepath.Base(path)
	if isImageName(name) {
		return a.api.SendImage(ctx, chatID, f)
	}
	return a.api.SendFile(ctx, chatID, name, f)
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return true
	default:
		return false
	}
}

func (a *Adapter) sendFailed(kind, jid string, err error) {
	a.metrics.OutboundFailed(Name, kind)
	a.logger.Error("feishu send failed",
		slog.String("kind", kind),
		slog.String("jid", jid),
		slog.Any("error", err),
	)
}

func chatIDFromJID(jid string) string {
	return strings.TrimPrefix(jid, JIDPrefix)
}

func (a *Adapter) currentBotOpenID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botOpenID
}

func (a *Adapter) cachedName(cache map[string]string, key string, lookup func() (string, error)) string {
	a.mu.RLock()
	name, ok := cache[key]
	a.mu.RUnlock()
	if ok {
		return name
	}
	name, err := lookup()
	if err != nil || name == "" {
		a.logger.Debug("feishu name lookup failed", slog.String("key", key), slog.Any("error", err))
		return ""
	}
	a.mu.Lock()
	cache[key] = name
	a.mu.Unlock()
	return name
}
