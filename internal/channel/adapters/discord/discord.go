// Package discord implements the Discord channel on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/channel/inbound"
	"github.com/memohai/chatbridge/internal/metrics"
)

const (
	// Name is the registry name of the Discord channel.
	Name = "discord"
	// JIDPrefix marks conversation addresses owned by Discord.
	JIDPrefix = "dc:"

	maxMessageLength = 2000
	inboundDedupTTL  = time.Minute
)

// session is the subset of *discordgo.Session used by the adapter.
type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Options configures the Discord adapter.
type Options struct {
	Token      string
	Sink       inbound.Sink
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Adapter is the Discord channel.
type Adapter struct {
	*channel.Lifecycle

	logger     *slog.Logger
	token      string
	sink       inbound.Sink
	metrics    *metrics.Metrics
	httpClient *http.Client
	newSession func(token string) (session, error)

	mu           sync.RWMutex
	session      session
	botID        string
	labels       map[string]string
	seenMessages map[string]time.Time
}

// New creates a Discord adapter. Connect opens the gateway.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("discord token is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("discord inbound sink is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("adapter", Name))
	return &Adapter{
		Lifecycle:    channel.NewLifecycle(Name, log),
		logger:       log,
		token:        opts.Token,
		sink:         opts.Sink,
		metrics:      opts.Metrics,
		httpClient:   opts.HTTPClient,
		newSession:   openGatewaySession,
		labels:       make(map[string]string),
		seenMessages: make(map[string]time.Time),
	}, nil
}

func openGatewaySession(token string) (session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return s, nil
}

// Name implements channel.Channel.
func (a *Adapter) Name() string { return Name }

// OwnsJID implements channel.Channel.
func (a *Adapter) OwnsJID(jid string) bool {
	return strings.HasPrefix(jid, JIDPrefix)
}

// Connect opens the gateway and blocks until it is live or fails.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Open(ctx, func(context.Context) (func(context.Context) error, error) {
		s, err := a.newSession(a.token)
		if err != nil {
			return nil, fmt.Errorf("discord create session: %w", err)
		}
		removers := []func(){
			s.AddHandler(a.onReady),
			s.AddHandler(a.onDisconnect),
			s.AddHandler(a.onMessageCreate),
			s.AddHandler(a.onInteractionCreate),
		}
		a.mu.Lock()
		a.session = s
		a.mu.Unlock()
		if err := s.Open(); err != nil {
			for _, remove := range removers {
				remove()
			}
			a.clearSession()
			return nil, fmt.Errorf("discord open connection: %w", err)
		}
		return func(context.Context) error {
			for _, remove := range removers {
				remove()
			}
			a.clearSession()
			if err := s.Close(); err != nil {
				return fmt.Errorf("discord close connection: %w", err)
			}
			return nil
		}, nil
	})
}

// Disconnect closes the gateway. It is safe to call more than once.
func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.Close(ctx)
}

func (a *Adapter) clearSession() {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
}

func (a *Adapter) currentSession() session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	a.mu.Lock()
	a.botID = r.User.ID
	a.mu.Unlock()
	a.logger.Info("discord gateway ready", slog.String("bot_id", r.User.ID))
}

func (a *Adapter) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	a.MarkLost()
}

// SendMessage posts text, split into chunks Discord accepts. Delivery
// failures are logged and counted but not returned.
func (a *Adapter) SendMessage(ctx context.Context, jid string, text string) error {
	if !a.Ready("send_message", jid) {
		return nil
	}
	s := a.currentSession()
	if s == nil {
		return nil
	}
	channelID := channelIDFromJID(jid)
	for _, chunk := range channel.ChunkText(text, maxMessageLength) {
		if _, err := s.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			a.sendFailed("message", jid, err)
			return nil
		}
	}
	return nil
}

// SetTyping triggers the typing indicator. Discord clears it on its own,
// so typing=false is a no-op.
func (a *Adapter) SetTyping(ctx context.Context, jid string, typing bool) error {
	if !typing || !a.Ready("set_typing", jid) {
		return nil
	}
	s := a.currentSession()
	if s == nil {
		return nil
	}
	if err := s.ChannelTyping(channelIDFromJID(jid), discordgo.WithContext(ctx)); err != nil {
		a.logger.Debug("discord typing failed", slog.String("jid", jid), slog.Any("error", err))
	}
	return nil
}

// SendFile uploads a local file with an optional caption.
func (a *Adapter) SendFile(ctx context.Context, jid string, path string, caption string) error {
	if !a.Ready("send_file", jid) {
		return nil
	}
	s := a.currentSession()
	if s == nil {
		return nil
	}
	f, err := os.Open(path) //nolint:gosec // path is produced by the host agent
	if err != nil {
		a.sendFailed("file", jid, err)
		return nil
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(path)
	data := &discordgo.MessageSend{
		Content: strings.TrimSpace(caption),
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: mime.TypeByExtension(filepath.Ext(name)),
			Reader:      f,
		}},
	}
	if _, err := s.ChannelMessageSendComplex(channelIDFromJID(jid), data, discordgo.WithContext(ctx)); err != nil {
		a.sendFailed("file", jid, err)
	}
	return nil
}

// SendComponents posts text with buttons and selects and returns the message id.
func (a *Adapter) SendComponents(ctx context.Context, jid string, text string, rows []channel.ActionRow) (string, error) {
	if err := channel.ValidateRows(rows); err != nil {
		return "", err
	}
	if !a.Ready("send_components", jid) {
		return "", channel.ErrChannelNotReady
	}
	s := a.currentSession()
	if s == nil {
		return "", channel.ErrChannelNotReady
	}
	data := &discordgo.MessageSend{
		Content:    text,
		Components: toComponents(rows),
	}
	msg, err := s.ChannelMessageSendComplex(channelIDFromJID(jid), data, discordgo.WithContext(ctx))
	if err != nil {
		a.sendFailed("components", jid, err)
		return "", fmt.Errorf("discord send components: %w", err)
	}
	return msg.ID, nil
}

// UpdateComponents edits the text and/or rows of a component message.
func (a *Adapter) UpdateComponents(ctx context.Context, jid string, messageID string, update channel.ComponentUpdate) error {
	if update.Empty() {
		return nil
	}
	if len(update.Rows) > 0 {
		if err := channel.ValidateRows(update.Rows); err != nil {
			return err
		}
	}
	if !a.Ready("update_components", jid) {
		return channel.ErrChannelNotReady
	}
	s := a.currentSession()
	if s == nil {
		return channel.ErrChannelNotReady
	}
	if _, err := s.ChannelMessageEditComplex(buildEdit(channelIDFromJID(jid), messageID, update), discordgo.WithContext(ctx)); err != nil {
		a.sendFailed("components_update", jid, err)
		return fmt.Errorf("discord update components: %w", err)
	}
	return nil
}

func buildEdit(channelID, messageID string, update channel.ComponentUpdate) *discordgo.MessageEdit {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	if update.Text != nil {
		edit.SetContent(*update.Text)
	}
	switch {
	case update.ClearRows:
		components := []discordgo.MessageComponent{}
		edit.Components = &components
	case update.Rows != nil:
		components := toComponents(update.Rows)
		edit.Components = &components
	}
	return edit
}

func (a *Adapter) sendFailed(kind, jid string, err error) {
	a.metrics.OutboundFailed(Name, kind)
	a.logger.Error("discord send failed",
		slog.String("kind", kind),
		slog.String("jid", jid),
		slog.Any("error", err),
	)
}

func channelIDFromJID(jid string) string {
	return strings.TrimPrefix(jid, JIDPrefix)
}
