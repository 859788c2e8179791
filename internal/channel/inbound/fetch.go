package inbound

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPFetch returns a Fetch function that downloads url with client.
// header is copied onto the request when non-nil.
func HTTPFetch(client *http.Client, url string, header http.Header) func(ctx context.Context) (io.ReadCloser, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build download request: %w", err)
		}
		for k, values := range header {
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
		resp, err := client.Do(req) //nolint:gosec // url comes from the platform API
		if err != nil {
			return nil, fmt.Errorf("download attachment: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("download attachment: unexpected status %d", resp.StatusCode)
		}
		return resp.Body, nil
	}
}
