package mailprovider

import (
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
)

var (
	reWhitespace = regexp.MustCompile(`[\r\t\n]+`)
	reLongSpace  = regexp.MustCompile(` {2,}`)
	reNonASCII   = regexp.MustCompile(`[^\x20-\x7E]`)
	reHTTPLink   = regexp.MustCompile(`https?://(www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_+.~#?&/=]*)`)
)

// cleanText applies rules 1-3 (collapse whitespace, collapse runs of
// spaces, strip non-ASCII) to a single text field. Idempotent: running
// it twice yields the same result as running it once.
func cleanText(s string) string {
	s = reWhitespace.ReplaceAllString(s, " ")
	s = reLongSpace.ReplaceAllString(s, " ")
	s = reNonASCII.ReplaceAllString(s, "")
	return s
}

// Sanitize converts a RawMessage into the EmailMessage the rest of the
// pipeline operates on, applying the ordered sanitisation rules: collapse
// whitespace, collapse long space runs, strip non-ASCII, replace links
// with [LINK] (body only), convert HTML to text before the above (body
// only).
func Sanitize(raw RawMessage, from, subject, bodyHTML string) EmailMessage {
	body := bodyHTML
	if body != "" {
		if text, err := html2text.FromString(body, html2text.Options{PrettyTables: false}); err == nil {
			body = text
		}
		body = cleanText(body)
		body = reHTTPLink.ReplaceAllString(body, "[LINK]")
	}

	return EmailMessage{
		ID:         raw.ID,
		ThreadID:   raw.ThreadID,
		LabelIDs:   raw.LabelIDs,
		HistoryID:  raw.HistoryID,
		InternalMS: raw.InternalMS,
		From:       strings.TrimSpace(from),
		Subject:    cleanText(subject),
		Snippet:    cleanText(raw.Snippet),
		Body:       body,
	}
}
