// Package inbox persists inbound attachments under each group's workspace.
// Writing to <groupsDir>/<folder>/inbox/<name> on the host makes the file
// available to the agent at inbox/<name> relative to its workspace.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/chatbridge/internal/media"
)

const (
	inboxDirName = "inbox"
	// maxNameAttempts bounds the suffixes tried when a name is already taken.
	maxNameAttempts = 1000
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Saved describes a persisted attachment.
type Saved struct {
	// Path is relative to the group workspace, e.g. inbox/1700000000000-photo.png.
	Path string
	// HostPath is the absolute location on the host.
	HostPath string
	Size     int64
}

// Store writes attachments into per-group inbox directories.
type Store struct {
	groupsDir string
	maxBytes  int64
	now       func() time.Time
}

// New creates a Store rooted at groupsDir. maxBytes caps every write; a
// non-positive value uses media.DefaultMaxAttachmentBytes.
func New(groupsDir string, maxBytes int64) (*Store, error) {
	if strings.TrimSpace(groupsDir) == "" {
		return nil, fmt.Errorf("groups dir is required")
	}
	abs, err := filepath.Abs(groupsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve groups dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = media.DefaultMaxAttachmentBytes
	}
	return &Store{groupsDir: abs, maxBytes: maxBytes, now: time.Now}, nil
}

// MaxBytes returns the per-attachment size cap.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Dir returns the host inbox directory for a group folder.
func (s *Store) Dir(folder string) (string, error) {
	clean := filepath.Clean(strings.TrimSpace(folder))
	if clean == "" || clean == "." || clean == ".." || strings.ContainsRune(clean, filepath.Separator) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: group folder %q", media.ErrPathTraversal, folder)
	}
	return filepath.Join(s.groupsDir, clean, inboxDirName), nil
}

// Save streams reader into the group's inbox as <unix-millis>-<sanitized name>.
// When that name is taken, <unix-millis>-<n>-<sanitized name> is used instead;
// an existing file is never overwritten. Streams larger than the cap fail with
// media.ErrAssetTooLarge and leave no file behind.
func (s *Store) Save(ctx context.Context, folder, name string, reader io.Reader) (Saved, error) {
	if err := ctx.Err(); err != nil {
		return Saved{}, err
	}
	dir, err := s.Dir(folder)
	if err != nil {
		return Saved{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Saved{}, fmt.Errorf("create inbox dir: %w", err)
	}
	filename, f, err := createUnique(dir, strconv.FormatInt(s.now().UnixMilli(), 10), SanitizeFilename(name))
	if err != nil {
		return Saved{}, err
	}
	dest := filepath.Join(dir, filename)
	n, copyErr := media.CopyWithLimit(f, reader, s.maxBytes)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dest)
		if copyErr != nil {
			return Saved{}, fmt.Errorf("write file: %w", copyErr)
		}
		return Saved{}, fmt.Errorf("close file: %w", closeErr)
	}
	return Saved{
		Path:     inboxDirName + "/" + filename,
		HostPath: dest,
		Size:     n,
	}, nil
}

func createUnique(dir, stamp, name string) (string, *os.File, error) {
	for i := 0; i < maxNameAttempts; i++ {
		filename := stamp + "-" + name
		if i > 0 {
			filename = stamp + "-" + strconv.Itoa(i) + "-" + name
		}
		f, err := os.OpenFile(filepath.Join(dir, filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return filename, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, fmt.Errorf("create file: %w", err)
		}
	}
	return "", nil, fmt.Errorf("create file: no free name for %s-%s", stamp, name)
}

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with an
// underscore. An empty name becomes "file".
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "file"
	}
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}
