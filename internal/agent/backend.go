// Package agent drives the assistant backend: it turns delivered messages and
// scheduled tasks into backend runs and routes the replies back out through
// the owning channels.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/memohai/chatbridge/internal/channel"
)

// Request is one backend run for a registered group.
type Request struct {
	Group       channel.RegisteredGroup `json:"group"`
	ChatJID     string                  `json:"chat_jid"`
	Input       string                  `json:"input"`
	Attachments []channel.Attachment    `json:"attachments,omitempty"`
	Mounts      []specs.Mount           `json:"mounts,omitempty"`
	TaskID      string                  `json:"task_id,omitempty"`
}

// FileReply is a file the agent wrote into the group workspace. Path is
// relative to the workspace root.
type FileReply struct {
	Path    string `json:"path"`
	Caption string `json:"caption,omitempty"`
}

// ComponentReply is a message carrying action rows.
type ComponentReply struct {
	Text string              `json:"text"`
	Rows []channel.ActionRow `json:"rows"`
}

// ComponentEdit updates a component message sent earlier.
type ComponentEdit struct {
	MessageID string                  `json:"message_id"`
	Update    channel.ComponentUpdate `json:"update"`
}

// Reply is what the agent produced. Text is raw and is sanitized before it
// is sent.
type Reply struct {
	Text       string           `json:"text"`
	Files      []FileReply      `json:"files,omitempty"`
	Components []ComponentReply `json:"components,omitempty"`
	Edits      []ComponentEdit  `json:"edits,omitempty"`
}

// Backend runs the assistant for one request.
type Backend interface {
	Run(ctx context.Context, req Request) (Reply, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (Reply, error)

// Run calls f.
func (f BackendFunc) Run(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}

const maxReplyBytes = 4 << 20

// HTTPBackend posts each request as JSON to an agent runner and decodes the
// reply from the response body.
type HTTPBackend struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPBackend creates an HTTPBackend. A nil client uses http.DefaultClient;
// a non-positive timeout leaves the deadline to ctx.
func NewHTTPBackend(url, token string, timeout time.Duration, client *http.Client) (*HTTPBackend, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("agent url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{url: url, token: strings.TrimSpace(token), timeout: timeout, client: client}, nil
}

// Run implements Backend.
func (b *HTTPBackend) Run(ctx context.Context, req Request) (Reply, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode agent request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("call agent: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("read agent reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var reply Reply
	if len(bytes.TrimSpace(payload)) == 0 {
		return reply, nil
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode agent reply: %w", err)
	}
	return reply, nil
}
