package feishu

import (
	"testing"

	lark "github.com/larksuite/oapi-sdk-go/v3"
)

func TestNormalizeConfigDefaults(t *testing.T) {
	t.Parallel()

	got, err := Config{AppID: " app ", AppSecret: "secret", VerificationToken: " verify "}.Normalize()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.AppID != "app" || got.VerificationToken != "verify" {
		t.Fatalf("unexpected feishu config: %#v", got)
	}
	if got.Region != RegionFeishu {
		t.Fatalf("unexpected default region: %q", got.Region)
	}
	if got.InboundMode != InboundModeWebsocket {
		t.Fatalf("unexpected default inbound mode: %q", got.InboundMode)
	}
	if got.openBaseURL() != lark.FeishuBaseUrl {
		t.Fatalf("unexpected base url: %q", got.openBaseURL())
	}
}

func TestNormalizeConfigRequiresApp(t *testing.T) {
	t.Parallel()

	if _, err := (Config{AppID: "app"}).Normalize(); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestNormalizeConfigSupportsLarkAndWebhook(t *testing.T) {
	t.Parallel()

	got, err := Config{AppID: "app", AppSecret: "secret", Region: "global", InboundMode: "WEBHOOK"}.Normalize()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Region != RegionLark || got.InboundMode != InboundModeWebhook {
		t.Fatalf("unexpected config: %#v", got)
	}
	if got.openBaseURL() != lark.LarkBaseUrl {
		t.Fatalf("unexpected base url: %q", got.openBaseURL())
	}
}

func TestNormalizeConfigRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	if _, err := (Config{AppID: "a", AppSecret: "s", Region: "mars"}).Normalize(); err == nil {
		t.Fatalf("expected invalid region error")
	}
	if _, err := (Config{AppID: "a", AppSecret: "s", InboundMode: "poll"}).Normalize(); err == nil {
		t.Fatalf("expected invalid inbound mode error")
	}
}
