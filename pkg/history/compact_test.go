package history

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/mendhq/mendbot/pkg/providers"
)

var defaultCompactor = Compactor{
	MaxMessages:      50,
	TokenBudget:      8000,
	KeepRecent:       10,
	SummaryMaxLength: 1000,
}

func conversation(n int) []providers.Message {
	messages := make([]providers.Message, 0, n)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, providers.Message{
			Role:    role,
			Content: fmt.Sprintf("message %d", i),
		})
	}
	return messages
}

func TestCompact_NoopWithinBudget(t *testing.T) {
	messages := conversation(10)
	got := defaultCompactor.Compact(messages)

	if !reflect.DeepEqual(got, messages) {
		t.Fatal("Compact() modified a transcript that was within budget")
	}
}

func TestCompact_ReducesOversizedHistory(t *testing.T) {
	messages := conversation(120)
	got := defaultCompactor.Compact(messages)

	if len(got) != 11 {
		t.Fatalf("len(Compact()) = %d, want 11 (summary + 10 retained)", len(got))
	}

	summary := got[0]
	if summary.Role != "system" {
		t.Fatalf("summary role = %q, want system", summary.Role)
	}
	if !strings.HasPrefix(summary.Content, SummaryPrefix) {
		t.Fatalf("summary does not start with %q: %q", SummaryPrefix, summary.Content)
	}
	if !strings.Contains(summary.Content, "Previous conversation had 110 messages.") {
		t.Fatalf("summary does not name the evicted count: %q", summary.Content)
	}

	if !reflect.DeepEqual(got[1:], messages[110:]) {
		t.Fatal("retained tail differs from the last 10 original messages")
	}
}

func TestCompact_Idempotent(t *testing.T) {
	messages := conversation(120)

	once := defaultCompactor.Compact(messages)
	twice := defaultCompactor.Compact(once)

	if !reflect.DeepEqual(once, twice) {
		t.Fatal("Compact(Compact(x)) != Compact(x)")
	}
}

func TestCompact_IdempotentWhenStillOverBudget(t *testing.T) {
	// The compacted result (summary + 3 retained) still exceeds the
	// 3-message threshold; the guard must stop it from re-summarizing
	// its own summary.
	c := Compactor{MaxMessages: 3, KeepRecent: 3, SummaryMaxLength: 500}
	messages := conversation(10)

	once := c.Compact(messages)
	if len(once) != 4 {
		t.Fatalf("len(Compact()) = %d, want 4", len(once))
	}

	twice := c.Compact(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatal("compactor churned an already-compacted transcript")
	}
}

func TestCompact_RetainedMessagesNeverTruncated(t *testing.T) {
	huge := strings.Repeat("a", 50000)
	c := Compactor{MaxMessages: 0, TokenBudget: 100, KeepRecent: 2, SummaryMaxLength: 500}

	messages := conversation(5)
	messages = append(messages, providers.Message{Role: "user", Content: huge})

	got := c.Compact(messages)
	if len(got) != 3 {
		t.Fatalf("len(Compact()) = %d, want 3", len(got))
	}
	if got[2].Content != huge {
		t.Fatal("retained oversized message was modified")
	}

	// Still over budget after compaction; result must be stable anyway.
	again := c.Compact(got)
	if !reflect.DeepEqual(got, again) {
		t.Fatal("second pass modified the transcript")
	}
}

func TestCompact_SummaryMentionsMedications(t *testing.T) {
	messages := conversation(60)
	messages[0] = providers.Message{
		Role:    "user",
		Content: "I have a prescription Metformin for my diabetes.",
	}

	got := defaultCompactor.Compact(messages)
	if !strings.Contains(got[0].Content, "Discussed medications: Metformin") {
		t.Fatalf("summary missing medication fact: %q", got[0].Content)
	}
}

func TestCompact_SummaryQuotesRecentTail(t *testing.T) {
	messages := conversation(60)
	got := defaultCompactor.Compact(messages)

	summary := got[0].Content
	if !strings.Contains(summary, "Recent conversation context:") {
		t.Fatalf("summary missing tail header: %q", summary)
	}
	// Last evicted message is index 49.
	if !strings.Contains(summary, "message 49") {
		t.Fatalf("summary missing most recent evicted message: %q", summary)
	}
}

func TestCompact_SummaryLengthCapped(t *testing.T) {
	c := Compactor{MaxMessages: 10, KeepRecent: 5, SummaryMaxLength: 100}

	messages := make([]providers.Message, 0, 30)
	for i := 0; i < 30; i++ {
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: strings.Repeat("long talk about everything ", 10),
		})
	}

	got := c.Compact(messages)
	content := strings.TrimPrefix(got[0].Content, SummaryPrefix)
	if len(content) > 103 { // cap plus the "..." marker
		t.Fatalf("summary length = %d, want <= 103", len(content))
	}
	if !strings.HasSuffix(content, "...") {
		t.Fatalf("capped summary should end with ellipsis: %q", content)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := map[string]struct {
		text string
		want int
	}{
		"empty":      {"", 0},
		"four_bytes": {"abcd", 1},
		"sentence":   {strings.Repeat("x", 40), 10},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := EstimateTokens(tc.text); got != tc.want {
				t.Fatalf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}

func TestEstimateHistoryTokens(t *testing.T) {
	messages := []providers.Message{
		{Role: "user", Content: strings.Repeat("x", 40)},
	}
	// "role: user" is 10 bytes -> 2 tokens, content 40 bytes -> 10
	// tokens, plus 10 overhead.
	if got := EstimateHistoryTokens(messages); got != 22 {
		t.Fatalf("EstimateHistoryTokens() = %d, want 22", got)
	}
}
