package schedule

import (
	"strings"

	"github.com/memohai/chatbridge/internal/channel"
)

// BuildAgentInput assembles the agent input for a run. In group mode the
// recent conversation is included ahead of the prompt; isolated runs get
// the prompt alone.
func BuildAgentInput(t Task, history []channel.Message) string {
	prompt := strings.TrimSpace(t.Prompt)
	if t.ContextMode != ContextGroup || len(history) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(channel.FormatMessages(history))
	b.WriteString("\n\n[Scheduled task]\n")
	b.WriteString(prompt)
	return b.String()
}
