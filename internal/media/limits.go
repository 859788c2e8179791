// Package media holds the size policy shared by inbound attachment downloads.
package media

import (
	"fmt"
	"io"
	"math"
)

const (
	// DefaultMaxAttachmentBytes is the download cap used when none is configured.
	DefaultMaxAttachmentBytes int64 = 25 * 1024 * 1024

	bytesPerMB = 1024 * 1024
)

// MaxAttachmentBytes converts a configured megabyte limit into bytes.
// Non-positive values fall back to DefaultMaxAttachmentBytes.
func MaxAttachmentBytes(mb int) int64 {
	if mb <= 0 {
		return DefaultMaxAttachmentBytes
	}
	return int64(mb) * bytesPerMB
}

// ExceedsLimit reports whether an advertised size is over maxBytes.
// Unknown sizes (<= 0) never exceed.
func ExceedsLimit(size, maxBytes int64) bool {
	return size > 0 && maxBytes > 0 && size > maxBytes
}

// RoundedMB returns size in megabytes rounded to the nearest whole number.
func RoundedMB(size int64) int64 {
	return int64(math.Round(float64(size) / bytesPerMB))
}

// ReadAllWithLimit reads from reader and rejects payloads larger than maxBytes.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be greater than 0")
	}
	data, err := io.ReadAll(&io.LimitedReader{R: reader, N: maxBytes + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	return data, nil
}

// CopyWithLimit streams reader into dst and fails with ErrAssetTooLarge once
// more than maxBytes have been read. dst may hold a partial write on failure.
func CopyWithLimit(dst io.Writer, reader io.Reader, maxBytes int64) (int64, error) {
	if reader == nil {
		return 0, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return 0, fmt.Errorf("max bytes must be greater than 0")
	}
	n, err := io.Copy(dst, &io.LimitedReader{R: reader, N: maxBytes + 1})
	if err != nil {
		return n, err
	}
	if n > maxBytes {
		return n, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	return n, nil
}
