package replyfmt

import "strings"

// splitMessage breaks text into pieces of at most max bytes, preferring
// the coarsest natural boundary available: paragraphs, then lines, then
// sentences, then words, then a hard cut. Every returned piece is
// re-verified and re-split at the next finer level if needed.
func splitMessage(text string, max int) []string {
	if max <= 0 {
		return []string{text}
	}
	return splitAtLevel(text, max, 0)
}

const (
	levelParagraph = iota
	levelLine
	levelSentence
	levelWord
	levelHard
)

func splitAtLevel(text string, max int, level int) []string {
	if len(text) <= max {
		return []string{text}
	}
	if level >= levelHard {
		return hardCut(text, max)
	}

	tokens, sep := tokenize(text, level)
	if len(tokens) <= 1 {
		return splitAtLevel(text, max, level+1)
	}

	var parts []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, token := range tokens {
		if len(token) > max {
			// The token alone is oversized; finer boundaries inside it.
			flush()
			parts = append(parts, splitAtLevel(token, max, level+1)...)
			continue
		}

		candidate := current.Len() + len(sep) + len(token)
		if current.Len() > 0 && candidate > max {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(token)
	}
	flush()

	return parts
}

func tokenize(text string, level int) ([]string, string) {
	switch level {
	case levelParagraph:
		return nonEmpty(strings.Split(text, "\n\n")), "\n\n"
	case levelLine:
		return nonEmpty(strings.Split(text, "\n")), "\n"
	case levelSentence:
		return splitSentencesKeepPunct(text), " "
	default:
		return strings.Fields(text), " "
	}
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitSentencesKeepPunct(text string) []string {
	var sentences []string
	var b strings.Builder

	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// hardCut is the last resort: fixed-size slices on rune boundaries.
func hardCut(text string, max int) []string {
	var parts []string
	runes := []rune(text)

	var current strings.Builder
	for _, r := range runes {
		if current.Len()+len(string(r)) > max {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
