package channel

import (
	"regexp"
	"strings"
	"time"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// EscapeXML replaces the four XML-significant characters in s with entities.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// FormatMessages serializes messages, in the given order, into the context
// envelope handed to the agent.
func FormatMessages(messages []Message) string {
	var sb strings.Builder
	sb.WriteString("<messages>\n")
	for _, m := range messages {
		sb.WriteString(`<message sender="`)
		sb.WriteString(EscapeXML(m.SenderName))
		sb.WriteString(`" time="`)
		sb.WriteString(m.Timestamp.UTC().Format(time.RFC3339))
		sb.WriteString(`">`)
		sb.WriteString(EscapeXML(m.Content))
		sb.WriteString("</message>\n")
	}
	sb.WriteString("</messages>")
	return sb.String()
}

// internalSpan matches the shortest <internal>...</internal> span, across lines.
// Nested markers resolve leftmost-shortest: the first close tag ends the span.
var internalSpan = regexp.MustCompile(`(?s)<internal>.*?</internal>`)

// StripInternalTags removes every internal span including its content.
func StripInternalTags(text string) string {
	return internalSpan.ReplaceAllString(text, "")
}

// FormatOutbound prepares agent output for a channel. An empty result means
// there is nothing to send.
func FormatOutbound(raw string) string {
	return strings.TrimSpace(StripInternalTags(raw))
}
