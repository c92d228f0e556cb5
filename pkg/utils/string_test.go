package utils

import (
	"reflect"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := map[string]struct {
		input  string
		maxLen int
		want   string
	}{
		"short":        {"hello", 10, "hello"},
		"exact":        {"hello", 5, "hello"},
		"truncated":    {"hello world", 8, "hello..."},
		"tiny_max":     {"hello", 3, "hel"},
		"empty":        {"", 5, ""},
		"multibyte":    {"日本語のテキスト", 5, "日本..."},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := Truncate(tc.input, tc.maxLen)
			if got != tc.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := map[string]struct {
		input string
		want  []string
	}{
		"two_sentences": {"I take aspirin. It helps!", []string{"I take aspirin.", "It helps!"}},
		"no_terminator": {"just a fragment", []string{"just a fragment"}},
		"question":      {"Did it work? Yes.", []string{"Did it work?", "Yes."}},
		"empty":         {"", nil},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := SplitSentences(tc.input)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SplitSentences(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}
