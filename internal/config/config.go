package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/memohai/chatbridge/internal/channel"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultAssistantName   = "Andy"
	DefaultGroupsDir       = "groups"
	DefaultMaxAttachmentMB = 25
	DefaultAllowlistPath   = "~/.config/chatbridge/mount-allowlist.yaml"
	DefaultFeishuRegion    = "feishu"
	DefaultFeishuInbound   = "websocket"
	DefaultAgentURL        = "http://127.0.0.1:8090/run"
	DefaultAgentTimeout    = 300
	DefaultHistoryLimit    = 50
)

type Config struct {
	Log       LogConfig                 `toml:"log"`
	Server    ServerConfig              `toml:"server"`
	Assistant AssistantConfig           `toml:"assistant"`
	Storage   StorageConfig             `toml:"storage"`
	Mounts    MountsConfig              `toml:"mounts"`
	Discord   DiscordConfig             `toml:"discord"`
	Telegram  TelegramConfig            `toml:"telegram"`
	Feishu    FeishuConfig              `toml:"feishu"`
	Agent     AgentConfig               `toml:"agent"`
	Groups    []channel.RegisteredGroup `toml:"groups"`
	Tasks     []TaskConfig              `toml:"tasks"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AssistantConfig struct {
	Name string `toml:"name"`
}

type StorageConfig struct {
	GroupsDir       string `toml:"groups_dir"`
	MaxAttachmentMB int    `toml:"max_attachment_mb"`
}

type MountsConfig struct {
	AllowlistPath string `toml:"allowlist_path"`
}

type DiscordConfig struct {
	Token string `toml:"token"`
}

// Enabled reports whether credentials are present.
func (c DiscordConfig) Enabled() bool { return strings.TrimSpace(c.Token) != "" }

type TelegramConfig struct {
	Token string `toml:"token"`
}

// Enabled reports whether credentials are present.
func (c TelegramConfig) Enabled() bool { return strings.TrimSpace(c.Token) != "" }

type FeishuConfig struct {
	AppID             string `toml:"app_id"`
	AppSecret         string `toml:"app_secret"`
	Region            string `toml:"region"`
	VerificationToken string `toml:"verification_token"`
	EncryptKey        string `toml:"encrypt_key"`
	InboundMode       string `toml:"inbound_mode"`
}

// Enabled reports whether credentials are present.
func (c FeishuConfig) Enabled() bool {
	return strings.TrimSpace(c.AppID) != "" && strings.TrimSpace(c.AppSecret) != ""
}

type AgentConfig struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	HistoryLimit   int    `toml:"history_limit"`
}

// TaskConfig is a scheduled prompt for one registered group.
type TaskConfig struct {
	ID            string `toml:"id"`
	ChatJID       string `toml:"chat_jid"`
	Prompt        string `toml:"prompt"`
	ScheduleType  string `toml:"schedule_type"`
	ScheduleValue string `toml:"schedule_value"`
	ContextMode   string `toml:"context_mode"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Assistant: AssistantConfig{
			Name: DefaultAssistantName,
		},
		Storage: StorageConfig{
			GroupsDir:       DefaultGroupsDir,
			MaxAttachmentMB: DefaultMaxAttachmentMB,
		},
		Mounts: MountsConfig{
			AllowlistPath: DefaultAllowlistPath,
		},
		Feishu: FeishuConfig{
			Region:      DefaultFeishuRegion,
			InboundMode: DefaultFeishuInbound,
		},
		Agent: AgentConfig{
			URL:            DefaultAgentURL,
			TimeoutSeconds: DefaultAgentTimeout,
			HistoryLimit:   DefaultHistoryLimit,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks values a TOML decode cannot.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Assistant.Name) == "" {
		return fmt.Errorf("assistant.name must not be empty")
	}
	if c.Storage.MaxAttachmentMB < 0 {
		return fmt.Errorf("storage.max_attachment_mb must not be negative")
	}
	seen := map[string]struct{}{}
	for i, g := range c.Groups {
		if strings.TrimSpace(g.JID) == "" {
			return fmt.Errorf("groups[%d]: jid is required", i)
		}
		if err := channel.ValidateGroupFolder(g.Folder); err != nil {
			return fmt.Errorf("groups[%d]: %w", i, err)
		}
		if _, dup := seen[g.JID]; dup {
			return fmt.Errorf("groups[%d]: duplicate jid %s", i, g.JID)
		}
		seen[g.JID] = struct{}{}
	}
	if strings.TrimSpace(c.Agent.URL) == "" {
		return fmt.Errorf("agent.url must not be empty")
	}
	if c.Agent.TimeoutSeconds < 0 {
		return fmt.Errorf("agent.timeout_seconds must not be negative")
	}
	for i, task := range c.Tasks {
		if _, ok := seen[task.ChatJID]; !ok {
			return fmt.Errorf("tasks[%d]: chat_jid %q is not a registered group", i, task.ChatJID)
		}
	}
	return nil
}
