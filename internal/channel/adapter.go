package channel

import (
	"context"
	"time"
)

// Channel is the contract every platform adapter must satisfy.
//
// Connect must not return until the channel is live or has failed. IsConnected
// and OwnsJID never perform I/O. Disconnect is idempotent and safe to call on a
// channel that never connected.
type Channel interface {
	Name() string
	Connect(ctx context.Context) error
	IsConnected() bool
	OwnsJID(jid string) bool
	SendMessage(ctx context.Context, jid string, text string) error
	Disconnect(ctx context.Context) error
}

// Typer shows or clears a typing indicator.
type Typer interface {
	SetTyping(ctx context.Context, jid string, typing bool) error
}

// FileSender uploads a local file to a conversation.
type FileSender interface {
	SendFile(ctx context.Context, jid string, path string, caption string) error
}

// ComponentSender posts a message carrying interactive action rows and returns
// the platform message id needed for later updates.
type ComponentSender interface {
	SendComponents(ctx context.Context, jid string, text string, rows []ActionRow) (string, error)
}

// ComponentUpdater edits a message previously sent by a ComponentSender.
type ComponentUpdater interface {
	UpdateComponents(ctx context.Context, jid string, messageID string, update ComponentUpdate) error
}

// InboundHandler receives normalized traffic from the inbound pipeline.
type InboundHandler interface {
	OnMessage(ctx context.Context, jid string, msg Message)
	OnChatMetadata(ctx context.Context, jid string, timestamp time.Time, label string)
}

// GroupLookup resolves the registered group for a conversation address.
type GroupLookup interface {
	Group(jid string) (RegisteredGroup, bool)
}

// InboundHandlerFuncs adapts plain functions to InboundHandler. Nil fields are ignored.
type InboundHandlerFuncs struct {
	Message  func(ctx context.Context, jid string, msg Message)
	Metadata func(ctx context.Context, jid string, timestamp time.Time, label string)
}

// OnMessage calls Message when set.
func (f InboundHandlerFuncs) OnMessage(ctx context.Context, jid string, msg Message) {
	if f.Message != nil {
		f.Message(ctx, jid, msg)
	}
}

// OnChatMetadata calls Metadata when set.
func (f InboundHandlerFuncs) OnChatMetadata(ctx context.Context, jid string, timestamp time.Time, label string) {
	if f.Metadata != nil {
		f.Metadata(ctx, jid, timestamp, label)
	}
}
