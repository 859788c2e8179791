package media

import "errors"

var (
	// ErrAssetTooLarge indicates the payload exceeds the configured max attachment size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrPathTraversal indicates a file name or key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)
