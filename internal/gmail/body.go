package gmail

import (
	"html"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const maxBodyChars = 4000

var (
	strict     = bluemonday.StrictPolicy()
	mailOrigin = &url.URL{Scheme: "https", Host: "mail.google.com"}
)

func looksLikeHTML(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "<html") || strings.Contains(l, "<body") ||
		strings.Contains(l, "<div") || strings.Contains(l, "<p>") || strings.Contains(l, "<br")
}

// CleanBody turns an email body into plain text: HTML goes through
// readability, tags are stripped, whitespace collapsed and the result
// capped at maxBodyChars.
func CleanBody(body string) string {
	text := body
	if looksLikeHTML(body) {
		article, err := readability.FromReader(strings.NewReader(body), mailOrigin)
		if err == nil && strings.TrimSpace(article.TextContent) != "" {
			text = article.TextContent
		}
	}
	// strict policy escapes entities; the model wants plain text
	text = html.UnescapeString(strict.Sanitize(text))
	text = strings.Join(strings.Fields(text), " ")

	if r := []rune(text); len(r) > maxBodyChars {
		text = string(r[:maxBodyChars]) + "... (truncated)"
	}
	return text
}
