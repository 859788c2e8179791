package inbound

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultAssistantName is used when no assistant name is configured.
const DefaultAssistantName = "Andy"

// Trigger is the canonical activation phrase, "@<assistant name>".
type Trigger struct {
	phrase  string
	pattern *regexp.Regexp
}

// NewTrigger builds the trigger for an assistant name.
func NewTrigger(name string) Trigger {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultAssistantName
	}
	return Trigger{
		phrase:  "@" + name,
		pattern: regexp.MustCompile(`(?i)^@` + regexp.QuoteMeta(name) + `\b`),
	}
}

// Phrase returns the canonical trigger text.
func (t Trigger) Phrase() string {
	return t.phrase
}

// Matches reports whether text starts with the trigger, ignoring case.
func (t Trigger) Matches(text string) bool {
	return t.pattern.MatchString(strings.TrimSpace(text))
}

// Apply strips platform mention tokens from text and, when the bot was
// mentioned, makes sure the result starts with the trigger phrase. Longer
// tokens are stripped first.
func (t Trigger) Apply(text string, mentions []string) string {
	text = strings.TrimSpace(text)
	mentioned := false
	ordered := append([]string(nil), mentions...)
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	for _, token := range ordered {
		var found bool
		if text, found = ReplaceMention(text, token, ""); found {
			mentioned = true
		}
	}
	text = strings.TrimSpace(text)
	if !mentioned || t.pattern.MatchString(text) {
		return text
	}
	if text == "" {
		return t.phrase
	}
	return t.phrase + " " + text
}

// InsertReply adds a "[Reply to <author>]" marker after a leading trigger
// phrase, or at the front when there is none.
func (t Trigger) InsertReply(text, author string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		return text
	}
	marker := "[Reply to " + author + "]"
	text = strings.TrimSpace(text)
	if loc := t.pattern.FindStringIndex(text); loc != nil {
		rest := strings.TrimSpace(text[loc[1]:])
		if rest == "" {
			return text[:loc[1]] + " " + marker
		}
		return text[:loc[1]] + " " + marker + " " + rest
	}
	if text == "" {
		return marker
	}
	return marker + " " + text
}

// ReplaceMention replaces every whole occurrence of token in text with repl.
// When token ends in a word character, an occurrence followed by another
// word character is part of a longer token and is left alone, so "@_user_1"
// never matches inside "@_user_10".
func ReplaceMention(text, token, repl string) (string, bool) {
	if token == "" {
		return text, false
	}
	last, _ := utf8.DecodeLastRuneInString(token)
	bounded := isWordRune(last)
	var (
		b     strings.Builder
		found bool
	)
	for {
		i := strings.Index(text, token)
		if i < 0 {
			b.WriteString(text)
			break
		}
		end := i + len(token)
		next, _ := utf8.DecodeRuneInString(text[end:])
		if bounded && end < len(text) && isWordRune(next) {
			b.WriteString(text[:end])
			text = text[end:]
			continue
		}
		found = true
		b.WriteString(text[:i])
		b.WriteString(repl)
		text = text[end:]
	}
	return b.String(), found
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
