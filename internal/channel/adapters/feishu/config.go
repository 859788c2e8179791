package feishu

import (
	"errors"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
)

const (
	RegionFeishu = "feishu"
	RegionLark   = "lark"

	InboundModeWebsocket = "websocket"
	InboundModeWebhook   = "webhook"
)

// Config holds the Feishu app credentials.
type Config struct {
	AppID             string
	AppSecret         string
	EncryptKey        string
	VerificationToken string
	Region            string
	InboundMode       string
}

// Normalize trims credentials and resolves region and inbound mode aliases.
func (c Config) Normalize() (Config, error) {
	out := Config{
		AppID:             strings.TrimSpace(c.AppID),
		AppSecret:         strings.TrimSpace(c.AppSecret),
		EncryptKey:        strings.TrimSpace(c.EncryptKey),
		VerificationToken: strings.TrimSpace(c.VerificationToken),
	}
	if out.AppID == "" || out.AppSecret == "" {
		return Config{}, errors.New("feishu app_id and app_secret are required")
	}
	region, err := normalizeRegion(c.Region)
	if err != nil {
		return Config{}, err
	}
	mode, err := normalizeInboundMode(c.InboundMode)
	if err != nil {
		return Config{}, err
	}
	out.Region = region
	out.InboundMode = mode
	return out, nil
}

func normalizeRegion(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", RegionFeishu, "cn", "china":
		return RegionFeishu, nil
	case RegionLark, "global", "intl", "international":
		return RegionLark, nil
	default:
		return "", fmt.Errorf("feishu region must be feishu or lark")
	}
}

func normalizeInboundMode(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", InboundModeWebsocket:
		return InboundModeWebsocket, nil
	case InboundModeWebhook:
		return InboundModeWebhook, nil
	default:
		return "", fmt.Errorf("feishu inbound_mode must be websocket or webhook")
	}
}

func (c Config) openBaseURL() string {
	if c.Region == RegionLark {
		return lark.LarkBaseUrl
	}
	return lark.FeishuBaseUrl
}
