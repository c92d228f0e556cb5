package history

import "github.com/mendhq/mendbot/pkg/providers"

// bytesPerToken is the usual rough heuristic for English text.
const bytesPerToken = 4

// messageOverhead accounts for per-message structure the wire format
// adds around role and content.
const messageOverhead = 10

// EstimateTokens gives a cheap token estimate for a piece of text.
func EstimateTokens(text string) int {
	return len(text) / bytesPerToken
}

// EstimateHistoryTokens estimates the context cost of a transcript:
// role label plus content per message, plus fixed overhead.
func EstimateHistoryTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens("role: " + m.Role)
		total += EstimateTokens(m.Content)
		total += messageOverhead
	}
	return total
}
