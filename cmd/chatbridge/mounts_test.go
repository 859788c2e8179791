package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/mount"
)

func TestCheckMounts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".ssh"), 0o755))
	allowlist, err := mount.LoadAllowlist(writeAllowlist(t, root))
	require.NoError(t, err)

	groups := []channel.RegisteredGroup{
		{JID: "dc:1", Folder: "main", IsPrimary: true, Container: &channel.ContainerConfig{
			AdditionalMounts: []channel.MountSpec{{HostPath: filepath.Join(root, "app"), ReadWrite: true}},
		}},
		{JID: "tg:2", Folder: "team"},
	}
	var out bytes.Buffer
	require.NoError(t, checkMounts(&out, allowlist, groups))
	assert.Contains(t, out.String(), "main (dc:1)")
	assert.Contains(t, out.String(), "[rw]")
	assert.NotContains(t, out.String(), "team", "groups without mounts are skipped")

	groups = append(groups, channel.RegisteredGroup{JID: "tg:3", Folder: "ops", Container: &channel.ContainerConfig{
		AdditionalMounts: []channel.MountSpec{{HostPath: filepath.Join(root, ".ssh")}},
	}})
	out.Reset()
	err = checkMounts(&out, allowlist, groups)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 group(s)")
	assert.True(t, strings.Contains(out.String(), "ops (tg:3)"))
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "chatbridge dev\n", out.String())
}

func writeAllowlist(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	doc := "allowed_roots:\n  - path: " + root + "\n    allow_read_write: true\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}
