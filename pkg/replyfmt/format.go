// Mendbot - conversational medication companion
// License: MIT

package replyfmt

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mendhq/mendbot/pkg/logger"
)

// MaxChunkLen is the hard per-message size limit of the chat channel.
const MaxChunkLen = 4096

// partMarkerReserve leaves room for the "Part i of n" suffix when a
// reply has to be split.
const partMarkerReserve = 24

// Chunk is one wire-ready piece of a reply. ParseMode is "HTML" for
// rich chunks and empty for plain text.
type Chunk struct {
	Text      string
	ParseMode string
}

var (
	codeBlockRe = regexp.MustCompile("(?s)```(.*?)```")
	inlineRe    = regexp.MustCompile("`([^`]*)`")
	boldRe      = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe    = regexp.MustCompile(`\*(.*?)\*`)
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	brRe        = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
)

// FormatReply turns free-form agent output into ordered wire chunks,
// each at most limit bytes. Rich formatting is attempted per chunk and
// falls back to plain text, which cannot fail.
func FormatReply(text string, limit int) []Chunk {
	if limit <= 0 {
		limit = MaxChunkLen
	}

	// Upstream processing sometimes leaves entity-escaped text and
	// literal <br> markers behind; neutralize both before splitting.
	text = html.UnescapeString(text)
	text = brRe.ReplaceAllString(text, "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	budget := limit - partMarkerReserve
	parts := splitMessage(text, budget)

	chunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		if len(parts) > 1 {
			part = fmt.Sprintf("%s\n\nPart %d of %d", part, i+1, len(parts))
		}
		chunks = append(chunks, renderChunk(part, limit))
	}
	return chunks
}

// renderChunk tries rich mode first and falls back to plain whenever
// the rich rendering cannot be validated against the limit.
func renderChunk(part string, limit int) (chunk Chunk) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("replyfmt", "Rich formatting panicked, falling back to plain", map[string]interface{}{
				"panic": fmt.Sprintf("%v", rec),
			})
			chunk = plainChunk(part, limit)
		}
	}()

	rich := renderHTML(part)
	if len(rich) <= limit {
		return Chunk{Text: rich, ParseMode: "HTML"}
	}
	return plainChunk(part, limit)
}

func plainChunk(part string, limit int) Chunk {
	plain := StripMarkup(part)
	if len(plain) > limit {
		// Cut on byte length, backing up to a rune boundary.
		cut := limit
		for cut > 0 && !utf8.RuneStart(plain[cut]) {
			cut--
		}
		plain = plain[:cut]
	}
	return Chunk{Text: plain}
}

// renderHTML converts the small markdown subset the agent emits into
// Telegram-flavored HTML. Literal angle brackets and ampersands are
// escaped first so only our own tags survive.
func renderHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")

	text = codeBlockRe.ReplaceAllString(text, "<pre><code>$1</code></pre>")
	text = inlineRe.ReplaceAllString(text, "<code>$1</code>")
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "<i>$1</i>")
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)

	return text
}

// StripMarkup removes every piece of markup the rich mode understands,
// leaving plain text. Used for the fallback mode and by channels that
// cannot render formatting at all.
func StripMarkup(text string) string {
	text = codeBlockRe.ReplaceAllString(text, "$1")
	text = inlineRe.ReplaceAllString(text, "$1")
	text = boldRe.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(html.UnescapeString(text))
}
