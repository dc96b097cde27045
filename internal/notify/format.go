// ABOUTME: Renders notification text into an outbound message activity
// ABOUTME: Markdown is converted to HTML with goldmark and sanitized with bluemonday when enabled

package notify

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/2389/coven-notifier/internal/transport"
)

// Formatter builds outbound message activities.
type Formatter struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewFormatter returns a Formatter. With renderMarkdown unset, text is sent as-is.
func NewFormatter(renderMarkdown bool) *Formatter {
	f := &Formatter{}
	if renderMarkdown {
		f.markdown = goldmark.New()
		f.policy = messagePolicy()
	}
	return f
}

// Format returns a message activity carrying text. Rendered messages use the
// xml text format with the original text as the summary shown in previews.
func (f *Formatter) Format(text string) *transport.Activity {
	if f.markdown == nil {
		return transport.NewMessage(text)
	}

	var buf bytes.Buffer
	if err := f.markdown.Convert([]byte(text), &buf); err != nil {
		return transport.NewMessage(text)
	}

	a := transport.NewMessage(strings.TrimSpace(f.policy.SanitizeReader(&buf).String()))
	a.TextFormat = transport.TextFormatXML
	a.Summary = text
	return a
}

// messagePolicy allows the subset of HTML chat clients render in messages.
// Links must be absolute http(s) or mailto URLs.
func messagePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i", "del",
		"h1", "h2", "h3", "hr",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(false)
	p.RequireNoReferrerOnLinks(true)
	return p
}
