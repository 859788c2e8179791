// Package inbound turns platform events into canonical channel messages.
// Every adapter builds an Event and hands it to a Normalizer, which applies
// trigger translation, reply context, attachment download and the
// registered-group gate in the same way for all platforms.
package inbound

import (
	"context"
	"io"
	"time"
)

// Event is a platform message after the adapter has extracted the fields it
// knows about. Text is the raw body, still carrying platform mention syntax.
type Event struct {
	JID        string
	MessageID  string
	SenderID   string
	SenderName string
	// ChatLabel is the human readable conversation name reported as metadata.
	ChatLabel string
	Text      string
	Timestamp time.Time

	FromSelf bool
	FromBot  bool

	// MentionTokens are the raw strings in Text that address the bot,
	// e.g. "<@123>" on Discord or "@my_bot" on Telegram.
	MentionTokens []string

	// ReplyAuthor resolves the author of the message being replied to.
	// Nil when the event is not a reply.
	ReplyAuthor func(ctx context.Context) (string, error)

	Attachments []Attachment
}

// Attachment is a remote file advertised by the platform.
type Attachment struct {
	Name      string
	MediaType string
	// Size is the advertised size in bytes; zero when unknown.
	Size  int64
	Fetch func(ctx context.Context) (io.ReadCloser, error)
}

// InteractionKind identifies the component that produced an interaction.
type InteractionKind string

const (
	InteractionButton InteractionKind = "button"
	InteractionSelect InteractionKind = "select"
)

// Interaction is a button click or select submission on a component message.
type Interaction struct {
	JID       string
	MessageID string
	UserID    string
	UserName  string
	Kind      InteractionKind
	CustomID  string
	Label     string
	Values    []string
	Timestamp time.Time
}

// Sink is the part of the Normalizer adapters depend on.
type Sink interface {
	Handle(ctx context.Context, ev Event) bool
	HandleInteraction(ctx context.Context, in Interaction) bool
}
