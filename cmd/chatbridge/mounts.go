package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/config"
	"github.com/memohai/chatbridge/internal/mount"
)

func newMountsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mounts",
		Short: "Inspect additional container mounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate every group's additional mounts against the allowlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			allowlist, err := mount.LoadAllowlist(cfg.Mounts.AllowlistPath)
			if err != nil {
				return err
			}
			return checkMounts(cmd.OutOrStdout(), allowlist, cfg.Groups)
		},
	})
	return cmd
}

// checkMounts prints one line per validated mount and fails if any group
// requests a mount the allowlist rejects.
func checkMounts(w io.Writer, allowlist *mount.Allowlist, groups []channel.RegisteredGroup) error {
	failed := 0
	for _, g := range groups {
		reqs := mount.RequestsForGroup(g)
		if len(reqs) == 0 {
			continue
		}
		mounts, err := allowlist.ValidateAll(reqs, g.IsPrimary)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "%s (%s): %v\n", g.Folder, g.JID, err)
			continue
		}
		for _, m := range mounts {
			mode := "ro"
			if m.ReadWrite {
				mode = "rw"
			}
			_, _ = fmt.Fprintf(w, "%s (%s): %s -> %s [%s]\n", g.Folder, g.JID, m.HostPath, m.ContainerPath, mode)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d group(s) request disallowed mounts", failed)
	}
	return nil
}
