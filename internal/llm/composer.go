package llm

import (
	"context"
	"strings"
	"unicode"

	"outreach/pipeline/internal/pipeline"
)

// DefaultMaxMessageChars fits a connection note.
const DefaultMaxMessageChars = 300

const composerSystem = `You write short, personal LinkedIn messages to existing connections.
Reference one concrete detail from their profile. No greetings beyond the first name, no emojis, no links.
Reply with the message text only.`

// Composer writes outreach messages with a language model.
type Composer struct {
	LLM          Completer
	Instructions string
	SenderName   string
	MaxChars     int
}

func (c *Composer) Compose(ctx context.Context, cand pipeline.Candidate) (string, error) {
	var b strings.Builder
	if c.Instructions != "" {
		b.WriteString("Guidance:\n" + c.Instructions + "\n\n")
	}
	if c.SenderName != "" {
		b.WriteString("Sign off as: " + c.SenderName + "\n\n")
	}
	b.WriteString("Recipient:\n" + describeProfile(cand))

	reply, err := c.LLM.Complete(ctx, composerSystem, b.String())
	if err != nil {
		return "", err
	}
	msg := cleanMessage(reply)
	if msg == "" {
		return "", ErrEmptyResponse
	}
	limit := c.MaxChars
	if limit <= 0 {
		limit = DefaultMaxMessageChars
	}
	return truncateWords(msg, limit), nil
}

// cleanMessage strips whitespace and one pair of wrapping quotes.
func cleanMessage(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// truncateWords cuts s to at most limit runes, backing up to the last space
// when one exists in the kept part.
func truncateWords(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	cut := rs[:limit]
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':'
	})
}
