package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/chatbridge/internal/agent"
	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/channel/adapters/discord"
	"github.com/memohai/chatbridge/internal/channel/adapters/feishu"
	"github.com/memohai/chatbridge/internal/channel/adapters/telegram"
	"github.com/memohai/chatbridge/internal/channel/inbound"
	"github.com/memohai/chatbridge/internal/config"
	"github.com/memohai/chatbridge/internal/handlers"
	channelchecker "github.com/memohai/chatbridge/internal/healthcheck/checkers/channel"
	mountchecker "github.com/memohai/chatbridge/internal/healthcheck/checkers/mount"
	"github.com/memohai/chatbridge/internal/inbox"
	"github.com/memohai/chatbridge/internal/logger"
	"github.com/memohai/chatbridge/internal/media"
	"github.com/memohai/chatbridge/internal/metrics"
	"github.com/memohai/chatbridge/internal/mount"
	"github.com/memohai/chatbridge/internal/schedule"
	"github.com/memohai/chatbridge/internal/server"
)

func runServe(configPath string) error {
	app := fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(configPath) },
			provideLogger,
			metrics.New,
			provideGroupRegistry,
			provideInbox,
			provideAllowlist,
			channel.NewRegistry,
			provideBackend,
			provideDispatcher,
			provideNormalizer,
			provideFeishuAdapter,
			provideChannelManager,
			provideScheduler,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(feishu.NewWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			registerChannels,
			startChannelManager,
			startDispatcher,
			startScheduler,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideGroupRegistry(cfg config.Config) (*channel.GroupRegistry, error) {
	groups, err := channel.NewGroupRegistry(cfg.Groups...)
	if err != nil {
		return nil, fmt.Errorf("registered groups: %w", err)
	}
	return groups, nil
}

func provideInbox(cfg config.Config) (*inbox.Store, error) {
	return inbox.New(cfg.Storage.GroupsDir, media.MaxAttachmentBytes(cfg.Storage.MaxAttachmentMB))
}

func provideBackend(cfg config.Config) (agent.Backend, error) {
	timeout := time.Duration(cfg.Agent.TimeoutSeconds) * time.Second
	return agent.NewHTTPBackend(cfg.Agent.URL, cfg.Agent.Token, timeout, nil)
}

func provideDispatcher(log *slog.Logger, cfg config.Config, groups *channel.GroupRegistry, registry *channel.Registry, backend agent.Backend, allowlist *mount.Allowlist, m *metrics.Metrics) (*agent.Dispatcher, error) {
	return agent.NewDispatcher(agent.Options{
		Groups:       groups,
		Outbound:     registry,
		Backend:      backend,
		Allowlist:    allowlist,
		Trigger:      inbound.NewTrigger(cfg.Assistant.Name),
		WorkspaceDir: cfg.Storage.GroupsDir,
		HistoryLimit: cfg.Agent.HistoryLimit,
		Metrics:      m,
		Logger:       log,
	})
}

// provideNormalizer builds the shared inbound pipeline. Canonical messages
// go to the dispatcher.
func provideNormalizer(log *slog.Logger, cfg config.Config, groups *channel.GroupRegistry, store *inbox.Store, m *metrics.Metrics, dispatcher *agent.Dispatcher) (*inbound.Normalizer, error) {
	return inbound.NewNormalizer(inbound.Options{
		AssistantName: cfg.Assistant.Name,
		Groups:        groups,
		Store:         store,
		Metrics:       m,
		Logger:        log,
		Handler:       dispatcher,
	})
}

// provideFeishuAdapter returns nil when Feishu is not configured. The webhook
// handler answers 404 in that case.
func provideFeishuAdapter(log *slog.Logger, cfg config.Config, normalizer *inbound.Normalizer, m *metrics.Metrics) (*feishu.Adapter, error) {
	if !cfg.Feishu.Enabled() {
		return nil, nil
	}
	return feishu.New(feishu.Options{
		Config: feishu.Config{
			AppID:             cfg.Feishu.AppID,
			AppSecret:         cfg.Feishu.AppSecret,
			EncryptKey:        cfg.Feishu.EncryptKey,
			VerificationToken: cfg.Feishu.VerificationToken,
			Region:            cfg.Feishu.Region,
			InboundMode:       cfg.Feishu.InboundMode,
		},
		Sink:    normalizer,
		Metrics: m,
		Logger:  log,
	})
}

// registerChannels adds the configured adapters to the registry. The
// registry is built empty so the dispatcher can route through it before the
// adapters, which feed the dispatcher, exist.
func registerChannels(log *slog.Logger, cfg config.Config, registry *channel.Registry, normalizer *inbound.Normalizer, m *metrics.Metrics, feishuAdapter *feishu.Adapter) error {
	if cfg.Discord.Enabled() {
		adapter, err := discord.New(discord.Options{Token: cfg.Discord.Token, Sink: normalizer, Metrics: m, Logger: log})
		if err != nil {
			return err
		}
		if err := registry.Register(adapter); err != nil {
			return err
		}
	}
	if cfg.Telegram.Enabled() {
		adapter, err := telegram.New(telegram.Options{Token: cfg.Telegram.Token, Sink: normalizer, Metrics: m, Logger: log})
		if err != nil {
			return err
		}
		if err := registry.Register(adapter); err != nil {
			return err
		}
	}
	if feishuAdapter != nil {
		if err := registry.Register(feishuAdapter); err != nil {
			return err
		}
	}
	if len(registry.Channels()) == 0 {
		log.Warn("no channel credentials configured")
	}
	return nil
}

func provideChannelManager(log *slog.Logger, registry *channel.Registry) *channel.Manager {
	return channel.NewManager(log, registry)
}

func provideAllowlist(log *slog.Logger, cfg config.Config) (*mount.Allowlist, error) {
	allowlist, err := mount.LoadAllowlist(cfg.Mounts.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("mount allowlist: %w", err)
	}
	if len(allowlist.Roots) == 0 {
		log.Warn("mount allowlist has no roots; additional mounts will be rejected", slog.String("path", cfg.Mounts.AllowlistPath))
	}
	return allowlist, nil
}

func provideHealthHandler(log *slog.Logger, manager *channel.Manager, allowlist *mount.Allowlist, groups *channel.GroupRegistry) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log,
		channelchecker.NewChecker(log, manager),
		mountchecker.NewChecker(log, allowlist, groups),
	)
}

func provideScheduler(log *slog.Logger, cfg config.Config, groups *channel.GroupRegistry, dispatcher *agent.Dispatcher) (*schedule.Runner, error) {
	tasks := make([]schedule.Task, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		group, _ := groups.Group(tc.ChatJID)
		tasks = append(tasks, schedule.Task{
			ID:          tc.ID,
			GroupFolder: group.Folder,
			ChatJID:     tc.ChatJID,
			Prompt:      tc.Prompt,
			Kind:        schedule.Kind(tc.ScheduleType),
			Value:       tc.ScheduleValue,
			ContextMode: schedule.ContextMode(tc.ContextMode),
		})
	}
	runner, err := schedule.NewRunner(log, tasks, dispatcher.RunTask)
	if err != nil {
		return nil, fmt.Errorf("scheduled tasks: %w", err)
	}
	return runner, nil
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startChannelManager(lc fx.Lifecycle, channelManager *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go channelManager.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return channelManager.Shutdown(stopCtx)
		},
	})
}

func startDispatcher(lc fx.Lifecycle, dispatcher *agent.Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return dispatcher.Shutdown(ctx)
		},
	})
}

func startScheduler(lc fx.Lifecycle, runner *schedule.Runner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return runner.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return runner.Stop(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	logger.Info("starting chatbridge", slog.String("version", Version), slog.String("addr", srv.Addr()))
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
