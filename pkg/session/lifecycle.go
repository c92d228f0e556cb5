package session

import (
	"fmt"
	"time"

	"github.com/mendhq/mendbot/pkg/history"
)

// Decision says whether an inbound message continues an existing session
// or starts a fresh one, and why.
type Decision struct {
	Continue bool
	Reason   string
}

// Limits are the bounds a session must stay within to be continued.
type Limits struct {
	Timeout     time.Duration
	MaxMessages int
	TokenBudget int
}

// Decide is pure decision logic: it inspects the prior session (possibly
// nil) and returns whether to keep it. The inactivity boundary is
// inclusive: a session idle for exactly Timeout is expired.
func Decide(s *Session, now time.Time, limits Limits) Decision {
	if s == nil {
		return Decision{Continue: false, Reason: "no existing session"}
	}

	if elapsed := now.Sub(s.LastActivity); elapsed >= limits.Timeout {
		minutes := int(elapsed.Minutes())
		return Decision{
			Continue: false,
			Reason:   fmt.Sprintf("session expired after %d minutes of inactivity", minutes),
		}
	}

	// The hard cap is independent of the compaction threshold: a session
	// the compactor keeps failing to shrink still gets replaced.
	if len(s.Messages) > limits.MaxMessages*2 {
		return Decision{
			Continue: false,
			Reason:   fmt.Sprintf("history too large (%d messages)", len(s.Messages)),
		}
	}

	if limits.TokenBudget > 0 {
		tokens := history.EstimateHistoryTokens(s.Messages)
		pct := tokens * 100 / limits.TokenBudget
		if pct > 150 {
			return Decision{
				Continue: false,
				Reason:   fmt.Sprintf("token usage too high (%d%% of budget)", pct),
			}
		}
	}

	return Decision{Continue: true, Reason: "session active"}
}
