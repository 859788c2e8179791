// Package mount validates additional host directories requested for a
// group's container against an operator-maintained allowlist.
package mount

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/memohai/chatbridge/internal/channel"
)

// ErrMountViolation is returned for any request the allowlist rejects.
var ErrMountViolation = errors.New("mount violation")

// DefaultBlockedPatterns are always blocked, in addition to the allowlist's own patterns.
var DefaultBlockedPatterns = []string{
	".ssh",
	".gnupg",
	".aws",
	".env",
	"id_rsa*",
	"*.pem",
	"credentials*",
}

// Root is a host directory under which mounts may be requested.
type Root struct {
	Path           string `yaml:"path" json:"path"`
	AllowReadWrite bool   `yaml:"allow_read_write" json:"allow_read_write"`
	Description    string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Allowlist is the mount security policy. The file it is loaded from lives
// outside every group workspace and is never mounted itself.
type Allowlist struct {
	Roots              []Root   `yaml:"allowed_roots" json:"allowed_roots"`
	BlockedPatterns    []string `yaml:"blocked_patterns" json:"blocked_patterns"`
	NonPrimaryReadOnly bool     `yaml:"non_main_read_only" json:"non_main_read_only"`

	// source is the resolved path the allowlist was loaded from.
	source string
}

// Request asks for HostPath to appear in the container. ContainerPath is the
// name under the extra-mount directory and defaults to the base name.
type Request struct {
	HostPath      string
	ContainerPath string
	ReadWrite     bool
}

// Mount is a validated request.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadWrite     bool
	Root          string
}

// LoadAllowlist reads the allowlist from a YAML (or JSON) file. A missing
// file yields an allowlist with no roots, which rejects every request.
func LoadAllowlist(file string) (*Allowlist, error) {
	list := &Allowlist{}
	if strings.TrimSpace(file) == "" {
		list.mergeDefaults()
		return list, nil
	}
	source, err := resolvePath(file)
	if err != nil {
		return nil, fmt.Errorf("resolve allowlist path: %w", err)
	}
	list.source = source
	data, err := os.ReadFile(expandHome(file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			list.mergeDefaults()
			return list, nil
		}
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	if err := yaml.Unmarshal(data, list); err != nil {
		return nil, fmt.Errorf("parse allowlist: %w", err)
	}
	for i, root := range list.Roots {
		if strings.TrimSpace(root.Path) == "" {
			return nil, fmt.Errorf("allowed_roots[%d]: path is required", i)
		}
	}
	list.mergeDefaults()
	return list, nil
}

func (a *Allowlist) mergeDefaults() {
	seen := make(map[string]struct{}, len(a.BlockedPatterns)+len(DefaultBlockedPatterns))
	merged := make([]string, 0, len(a.BlockedPatterns)+len(DefaultBlockedPatterns))
	for _, p := range append(append([]string{}, DefaultBlockedPatterns...), a.BlockedPatterns...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	a.BlockedPatterns = merged
}

// Validate checks one request. primary reports whether the requesting group
// is the primary group. Violations wrap ErrMountViolation.
func (a *Allowlist) Validate(req Request, primary bool) (Mount, error) {
	host := strings.TrimSpace(req.HostPath)
	if host == "" {
		return Mount{}, fmt.Errorf("%w: host path is required", ErrMountViolation)
	}
	resolved, err := resolvePath(host)
	if err != nil {
		return Mount{}, fmt.Errorf("%w: %v", ErrMountViolation, err)
	}

	root, ok := a.containingRoot(resolved)
	if !ok {
		return Mount{}, fmt.Errorf("%w: %s is not under an allowed root", ErrMountViolation, resolved)
	}
	if pattern, blocked := a.blockedBy(resolved); blocked {
		return Mount{}, fmt.Errorf("%w: %s matches blocked pattern %q", ErrMountViolation, resolved, pattern)
	}
	if a.exposesSource(resolved) {
		return Mount{}, fmt.Errorf("%w: %s would expose the mount allowlist", ErrMountViolation, resolved)
	}
	name, err := containerName(req.ContainerPath, resolved)
	if err != nil {
		return Mount{}, fmt.Errorf("%w: %v", ErrMountViolation, err)
	}

	readWrite := req.ReadWrite && root.AllowReadWrite && !(a.NonPrimaryReadOnly && !primary)
	return Mount{
		HostPath:      resolved,
		ContainerPath: name,
		ReadWrite:     readWrite,
		Root:          root.Path,
	}, nil
}

// ValidateAll validates every request and stops at the first violation.
func (a *Allowlist) ValidateAll(reqs []Request, primary bool) ([]Mount, error) {
	out := make([]Mount, 0, len(reqs))
	for _, req := range reqs {
		m, err := a.Validate(req, primary)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RequestsForGroup converts a group's configured additional mounts into requests.
func RequestsForGroup(group channel.RegisteredGroup) []Request {
	if group.Container == nil {
		return nil
	}
	reqs := make([]Request, 0, len(group.Container.AdditionalMounts))
	for _, spec := range group.Container.AdditionalMounts {
		reqs = append(reqs, Request{
			HostPath:      spec.HostPath,
			ContainerPath: spec.ContainerPath,
			ReadWrite:     spec.ReadWrite,
		})
	}
	return reqs
}

func (a *Allowlist) containingRoot(resolved string) (Root, bool) {
	for _, root := range a.Roots {
		rootPath, err := resolvePath(root.Path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootPath, resolved)
		if err != nil || filepath.IsAbs(rel) {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		root.Path = rootPath
		return root, true
	}
	return Root{}, false
}

// exposesSource reports whether mounting resolved would make the allowlist
// file visible, either directly or through a parent directory.
func (a *Allowlist) exposesSource(resolved string) bool {
	if a.source == "" {
		return false
	}
	rel, err := filepath.Rel(resolved, a.source)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (a *Allowlist) blockedBy(resolved string) (string, bool) {
	components := strings.Split(filepath.ToSlash(resolved), "/")
	for _, pattern := range a.BlockedPatterns {
		if ok, _ := filepath.Match(pattern, resolved); ok {
			return pattern, true
		}
		for _, part := range components {
			if part == "" {
				continue
			}
			if part == pattern {
				return pattern, true
			}
			if ok, _ := filepath.Match(pattern, part); ok {
				return pattern, true
			}
		}
	}
	return "", false
}

func containerName(requested, resolved string) (string, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = filepath.Base(resolved)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("container path %q must be relative", name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return "", fmt.Errorf("container path %q must not contain ..", name)
		}
	}
	name = path.Clean(filepath.ToSlash(name))
	if name == "." || name == "" {
		return "", fmt.Errorf("container path is empty")
	}
	return name, nil
}

// resolvePath expands a leading ~, makes the path absolute and clean, and
// resolves symlinks. For a path that does not exist yet, the nearest existing
// parent is resolved and the remainder appended.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(expandHome(p))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	abs = filepath.Clean(abs)
	rest := ""
	dir := abs
	for {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Clean(filepath.Join(real, rest)), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}
