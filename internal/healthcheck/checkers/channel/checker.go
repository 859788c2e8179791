package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/healthcheck"
)

const checkTypeChannelConnection = "channel.connection"

// ConnectionObserver reads runtime channel connection statuses.
type ConnectionObserver interface {
	Statuses() []channel.ConnectionStatus
}

// Checker evaluates channel connection health checks.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
}

// NewChecker creates a channel health checker.
func NewChecker(log *slog.Logger, observer ConnectionObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		observer: observer,
	}
}

// ListChecks reports one check per registered channel.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn("channel healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{
			{
				ID:      checkTypeChannelConnection + ".service",
				Type:    checkTypeChannelConnection,
				Status:  healthcheck.StatusWarn,
				Summary: "Channel checker service is not available.",
				Detail:  "connection observer is nil",
			},
		}
	}

	statuses := c.observer.Statuses()
	checks := make([]healthcheck.CheckResult, 0, len(statuses))
	for idx, status := range statuses {
		name := strings.TrimSpace(status.Channel)
		if name == "" {
			name = fmt.Sprintf("unknown_%d", idx+1)
		}
		item := healthcheck.CheckResult{
			ID:       checkTypeChannelConnection + "." + name,
			Type:     checkTypeChannelConnection,
			Subtitle: name,
			Status:   healthcheck.StatusError,
			Summary:  fmt.Sprintf("Channel %s connection is down.", name),
			Metadata: map[string]any{
				"channel": name,
				"running": status.Running,
			},
		}
		if status.UpdatedAt.Unix() > 0 {
			item.Metadata["updated_at"] = status.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		if status.Running {
			item.Status = healthcheck.StatusOK
			item.Summary = fmt.Sprintf("Channel %s is connected.", name)
		} else if strings.TrimSpace(status.LastError) != "" {
			item.Summary = fmt.Sprintf("Channel %s connection failed.", name)
			item.Detail = strings.TrimSpace(status.LastError)
		}
		checks = append(checks, item)
	}
	return checks
}
