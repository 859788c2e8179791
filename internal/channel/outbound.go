package channel

import (
	"strings"
	"unicode/utf8"
)

// ChunkText splits text into pieces of at most limit runes, preferring line
// boundaries. Lines longer than limit are cut by rune count.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(trimmed) <= limit {
		return []string{trimmed}
	}
	var chunks []string
	var buf strings.Builder
	bufLen := 0
	flush := func() {
		if bufLen > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}
	for _, line := range strings.Split(trimmed, "\n") {
		lineLen := utf8.RuneCountInString(line)
		sep := 0
		if bufLen > 0 {
			sep = 1
		}
		if bufLen+sep+lineLen <= limit {
			if sep == 1 {
				buf.WriteByte('\n')
			}
			buf.WriteString(line)
			bufLen += sep + lineLen
			continue
		}
		flush()
		if lineLen <= limit {
			buf.WriteString(line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitRunes(line, limit)...)
	}
	flush()
	return chunks
}

func splitRunes(line string, limit int) []string {
	runes := []rune(line)
	var out []string
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		if segment := strings.TrimSpace(string(runes[start:end])); segment != "" {
			out = append(out, segment)
		}
	}
	return out
}
