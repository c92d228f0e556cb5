// Mendbot - conversational medication companion
// License: MIT

package history

import (
	"fmt"
	"strings"

	"github.com/mendhq/mendbot/pkg/providers"
	"github.com/mendhq/mendbot/pkg/utils"
)

// SummaryPrefix marks the synthetic system message the compactor
// prepends. It must never be echoed back to the channel.
const SummaryPrefix = "Previous conversation summary: "

// tailMessages is how many evicted messages are quoted verbatim in the
// summary, and tailCharCap how long each quote may be.
const (
	tailMessages = 5
	tailCharCap  = 100
)

// Compactor bounds a transcript to a message count and token budget by
// replacing everything but the most recent KeepRecent messages with a
// single synthetic summary message.
type Compactor struct {
	MaxMessages      int
	TokenBudget      int
	KeepRecent       int
	SummaryMaxLength int
}

// Compact returns the transcript unchanged when it is within budget;
// otherwise it returns [summary] + the retained tail. Running it twice
// in a row yields the same result as running it once. Retained messages
// are never modified, however large a single one may be.
func (c Compactor) Compact(messages []providers.Message) []providers.Message {
	if !c.shouldCompact(messages) {
		return messages
	}

	keep := c.KeepRecent
	if keep <= 0 || keep >= len(messages) {
		return messages
	}

	evicted := messages[:len(messages)-keep]
	retained := messages[len(messages)-keep:]

	// A prior compaction already reduced everything evictable to one
	// summary; re-summarizing the summary would churn it forever.
	if len(evicted) == 1 && evicted[0].Role == "system" && strings.HasPrefix(evicted[0].Content, SummaryPrefix) {
		return messages
	}

	summary := providers.Message{
		Role:    "system",
		Content: SummaryPrefix + c.buildSummary(evicted),
	}

	result := make([]providers.Message, 0, 1+len(retained))
	result = append(result, summary)
	result = append(result, retained...)
	return result
}

func (c Compactor) shouldCompact(messages []providers.Message) bool {
	if c.MaxMessages > 0 && len(messages) > c.MaxMessages {
		return true
	}
	if c.TokenBudget > 0 && EstimateHistoryTokens(messages) > c.TokenBudget {
		return true
	}
	return false
}

var (
	medicationKeywords = []string{"medication", "prescription", "pill", "tablet", "capsule", "dose", "dosage"}
	timezoneKeywords   = []string{"timezone", "time zone", "est", "pst", "gmt", "utc", "sgt", "jst"}
	preferenceKeywords = []string{"prefer", "like", "dislike", "usually", "always", "never"}
	actionKeywords     = []string{"need to", "should", "must", "have to", "will", "going to"}
)

type keyFacts struct {
	medications []string
	timezones   []string
	preferences int
	actionItems int
}

// buildSummary distills evicted messages into a capped plain-text
// summary: extracted facts first, then a short verbatim tail.
func (c Compactor) buildSummary(evicted []providers.Message) string {
	facts := extractKeyFacts(evicted)

	parts := []string{fmt.Sprintf("Previous conversation had %d messages.", len(evicted))}

	if len(facts.medications) > 0 {
		meds := facts.medications
		if len(meds) > 5 {
			meds = meds[:5]
		}
		parts = append(parts, "Discussed medications: "+strings.Join(meds, ", "))
	}
	if len(facts.timezones) > 0 {
		parts = append(parts, "Timezone context: "+strings.Join(facts.timezones, ", "))
	}
	if facts.preferences > 0 {
		parts = append(parts, fmt.Sprintf("User preferences mentioned: %d items", facts.preferences))
	}
	if facts.actionItems > 0 {
		parts = append(parts, fmt.Sprintf("Action items discussed: %d items", facts.actionItems))
	}

	parts = append(parts, "Recent conversation context:")
	parts = append(parts, verbatimTail(evicted)...)

	summary := strings.Join(parts, "\n")
	if len(summary) > c.SummaryMaxLength {
		summary = summary[:c.SummaryMaxLength] + "..."
	}
	return summary
}

// verbatimTail quotes the last few evicted user/assistant messages,
// each truncated. Tool and system noise is left out.
func verbatimTail(evicted []providers.Message) []string {
	var conversational []providers.Message
	for _, m := range evicted {
		if m.Role == "user" || m.Role == "assistant" {
			conversational = append(conversational, m)
		}
	}
	if len(conversational) > tailMessages {
		conversational = conversational[len(conversational)-tailMessages:]
	}

	lines := make([]string, 0, len(conversational))
	for _, m := range conversational {
		label := "Assistant"
		if m.Role == "user" {
			label = "User"
		}
		lines = append(lines, label+": "+utils.Truncate(m.Content, tailCharCap))
	}
	return lines
}

func extractKeyFacts(messages []providers.Message) keyFacts {
	var facts keyFacts
	seenMeds := map[string]bool{}
	seenTZ := map[string]bool{}
	seenPrefs := map[string]bool{}
	seenActions := map[string]bool{}

	for _, m := range messages {
		lower := strings.ToLower(m.Content)

		for _, keyword := range medicationKeywords {
			if !strings.Contains(lower, keyword) {
				continue
			}
			// Medication names tend to show up capitalized right after
			// words like "prescription" or "dose".
			words := strings.Fields(m.Content)
			for i, word := range words {
				if strings.Contains(strings.ToLower(word), keyword) && i+1 < len(words) {
					next := strings.Trim(words[i+1], ".,!?:;")
					if len(next) > 2 && next[0] >= 'A' && next[0] <= 'Z' && !seenMeds[next] {
						seenMeds[next] = true
						facts.medications = append(facts.medications, next)
					}
				}
			}
		}

		for _, keyword := range timezoneKeywords {
			if strings.Contains(lower, keyword) {
				tz := strings.ToUpper(keyword)
				if !seenTZ[tz] {
					seenTZ[tz] = true
					facts.timezones = append(facts.timezones, tz)
				}
			}
		}

		for _, keyword := range preferenceKeywords {
			if strings.Contains(lower, keyword) {
				for _, sentence := range utils.SplitSentences(m.Content) {
					if strings.Contains(strings.ToLower(sentence), keyword) && !seenPrefs[sentence] {
						seenPrefs[sentence] = true
						facts.preferences++
					}
				}
			}
		}

		for _, keyword := range actionKeywords {
			if strings.Contains(lower, keyword) {
				for _, sentence := range utils.SplitSentences(m.Content) {
					if strings.Contains(strings.ToLower(sentence), keyword) && !seenActions[sentence] {
						seenActions[sentence] = true
						facts.actionItems++
					}
				}
			}
		}
	}

	return facts
}
