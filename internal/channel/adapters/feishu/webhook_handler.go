package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// WebhookHandler receives Feishu/Lark event-subscription callbacks when the
// adapter runs in webhook mode.
type WebhookHandler struct {
	logger  *slog.Logger
	adapter *Adapter
}

// NewWebhookHandler creates the webhook handler. A nil adapter makes every
// callback answer 404.
func NewWebhookHandler(log *slog.Logger, adapter *Adapter) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:  log.With(slog.String("handler", "feishu_webhook")),
		adapter: adapter,
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/channels/feishu/webhook", h.HandleReachability)
	e.POST("/channels/feishu/webhook", h.Handle)
}

// HandleReachability answers GET reachability checks on the webhook URL.
func (h *WebhookHandler) HandleReachability(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Handle processes event-subscription webhook requests.
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.adapter == nil || !h.adapter.WebhookMode() {
		return echo.NewHTTPError(http.StatusNotFound, "feishu webhook mode is not enabled")
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	if err := validateWebhookCallbackAuth(payload, h.adapter.cfg); err != nil {
		return err
	}

	ctx := context.WithoutCancel(c.Request().Context())
	resp := h.adapter.eventDispatcher(ctx).Handle(ctx, &larkevent.EventReq{
		Header:     c.Request().Header,
		Body:       payload,
		RequestURI: c.Request().RequestURI,
	})
	if resp == nil {
		return c.NoContent(http.StatusOK)
	}
	for key, values := range resp.Header {
		for _, value := range values {
			c.Response().Header().Add(key, value)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}
	_, err = c.Response().Write(resp.Body)
	return err
}

func validateWebhookCallbackAuth(payload []byte, cfg Config) error {
	if strings.TrimSpace(cfg.EncryptKey) != "" {
		// The SDK verifies signatures itself when an encrypt key is set.
		return nil
	}
	var fuzzy larkevent.EventFuzzy
	if err := json.Unmarshal(payload, &fuzzy); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid feishu webhook payload: %v", err))
	}
	if larkevent.ReqType(strings.TrimSpace(fuzzy.Type)) == larkevent.ReqTypeChallenge {
		return nil
	}
	expectedToken := strings.TrimSpace(cfg.VerificationToken)
	if expectedToken == "" {
		return echo.NewHTTPError(http.StatusForbidden, "feishu webhook requires verification_token when encrypt_key is empty")
	}
	requestToken := strings.TrimSpace(fuzzy.Token)
	if fuzzy.Header != nil && strings.TrimSpace(fuzzy.Header.Token) != "" {
		requestToken = strings.TrimSpace(fuzzy.Header.Token)
	}
	if requestToken == "" || requestToken != expectedToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid feishu webhook token")
	}
	return nil
}
