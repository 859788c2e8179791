package mountchecker

import (
	"context"
	"log/slog"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/healthcheck"
	"github.com/memohai/chatbridge/internal/mount"
)

const checkTypeGroupMounts = "mount.group"

// GroupLister lists the registered groups.
type GroupLister interface {
	List() []channel.RegisteredGroup
}

// Checker validates every group's additional mounts against the allowlist.
type Checker struct {
	logger    *slog.Logger
	allowlist *mount.Allowlist
	groups    GroupLister
}

// NewChecker creates a mount policy checker.
func NewChecker(log *slog.Logger, allowlist *mount.Allowlist, groups GroupLister) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:    log.With(slog.String("checker", "healthcheck_mount")),
		allowlist: allowlist,
		groups:    groups,
	}
}

// ListChecks reports one check per group that requests additional mounts.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil || c.groups == nil {
		return []healthcheck.CheckResult{}
	}
	checks := []healthcheck.CheckResult{}
	for _, group := range c.groups.List() {
		reqs := mount.RequestsForGroup(group)
		if len(reqs) == 0 {
			continue
		}
		item := healthcheck.CheckResult{
			ID:       checkTypeGroupMounts + "." + group.Folder,
			Type:     checkTypeGroupMounts,
			Subtitle: group.Folder,
			Status:   healthcheck.StatusOK,
			Summary:  "Additional mounts are allowed.",
			Metadata: map[string]any{"jid": group.JID, "requested": len(reqs)},
		}
		if c.allowlist == nil {
			item.Status = healthcheck.StatusWarn
			item.Summary = "Mount allowlist is not loaded."
			checks = append(checks, item)
			continue
		}
		if _, err := c.allowlist.ValidateAll(reqs, group.IsPrimary); err != nil {
			c.logger.Warn("group mount rejected", slog.String("folder", group.Folder), slog.Any("error", err))
			item.Status = healthcheck.StatusError
			item.Summary = "Additional mounts are rejected."
			item.Detail = err.Error()
		}
		checks = append(checks, item)
	}
	return checks
}
