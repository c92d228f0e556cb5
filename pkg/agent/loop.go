// Mendbot - conversational medication companion
// License: MIT

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mendhq/mendbot/pkg/bus"
	"github.com/mendhq/mendbot/pkg/config"
	"github.com/mendhq/mendbot/pkg/history"
	"github.com/mendhq/mendbot/pkg/logger"
	"github.com/mendhq/mendbot/pkg/providers"
	"github.com/mendhq/mendbot/pkg/session"
	"github.com/mendhq/mendbot/pkg/tools"
	"github.com/mendhq/mendbot/pkg/utils"
)

const (
	// thinkingClose delimits internal reasoning some models emit; only
	// content after the final delimiter is user-facing.
	thinkingClose = "</thinking>"

	// fallbackApology replaces replies that end up empty after
	// stripping internal markup.
	fallbackApology = "I'm sorry, I had trouble putting together a reply. Could you say that again?"

	// runawayReply is sent when the tool-call round cap is exceeded.
	runawayReply = "I got stuck working on that and had to stop. Could you try asking in a different way?"

	// turnFailureReply is the generic apology for turn-level failures
	// (provider down, persistence failing after retries).
	turnFailureReply = "Something went wrong on my end. Please try again in a moment."
)

// Loop is the dispatch engine: it owns the turn state machine that
// takes one inbound message to exactly one outbound reply, executing
// any tool calls the model requests along the way.
type Loop struct {
	bus           *bus.MessageBus
	provider      providers.LLMProvider
	model         string
	maxTokens     int
	temperature   float64
	maxToolRounds int
	sessions      *session.Manager
	compactor     history.Compactor
	tools         *tools.Registry
}

func NewLoop(cfg *config.Config, msgBus *bus.MessageBus, provider providers.LLMProvider, sessions *session.Manager, registry *tools.Registry) *Loop {
	maxRounds := cfg.Agents.Defaults.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}

	return &Loop{
		bus:           msgBus,
		provider:      provider,
		model:         cfg.Agents.Defaults.Model,
		maxTokens:     cfg.Agents.Defaults.MaxTokens,
		temperature:   cfg.Agents.Defaults.Temperature,
		maxToolRounds: maxRounds,
		sessions:      sessions,
		compactor: history.Compactor{
			MaxMessages:      cfg.Session.MaxMessages,
			TokenBudget:      cfg.Session.TokenBudget,
			KeepRecent:       cfg.Session.KeepRecent,
			SummaryMaxLength: cfg.Session.SummaryMaxLength,
		},
		tools: registry,
	}
}

// Run consumes inbound messages until ctx is cancelled. Each message
// gets exactly one outbound reply, a generic apology if the turn
// failed outright. Turns run in their own goroutines so one user's
// slow turn never stalls another's; Dispatch's per-user lock keeps
// turns for the same user serialized.
func (al *Loop) Run(ctx context.Context) error {
	for {
		msg, ok := al.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}

		go func(msg bus.InboundMessage) {
			reply, err := al.Dispatch(ctx, msg)
			if err != nil {
				logger.ErrorCF("agent", "Turn failed", map[string]interface{}{
					"channel": msg.Channel,
					"user":    msg.SenderID,
					"error":   err.Error(),
				})
				reply = turnFailureReply
			}

			if reply != "" {
				al.bus.PublishOutbound(bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: reply,
				})
			}
		}(msg)
	}
}

// ProcessDirect runs one turn outside a channel (CLI, reminder jobs).
func (al *Loop) ProcessDirect(ctx context.Context, content, userID, channel, chatID string) (string, error) {
	return al.Dispatch(ctx, bus.InboundMessage{
		Channel:    channel,
		SenderID:   userID,
		ChatID:     chatID,
		Content:    content,
		SessionKey: userID,
	})
}

// Dispatch is one full turn: session begin, compaction, the bounded
// agent/tool round loop, and the persisted assistant reply. Turns for
// the same user are serialized; the per-user lock spans the session
// read through the save so no concurrent turn can drop messages.
func (al *Loop) Dispatch(ctx context.Context, msg bus.InboundMessage) (string, error) {
	userID := msg.SessionKey
	if userID == "" {
		userID = msg.SenderID
	}

	preview := utils.Truncate(msg.Content, 80)
	logger.InfoCF("agent", fmt.Sprintf("Processing message: %s", preview), map[string]interface{}{
		"channel": msg.Channel,
		"user":    userID,
	})

	unlock := al.sessions.LockUser(userID)
	defer unlock()

	now := time.Now()
	sess, decision, err := al.sessions.Begin(userID, now)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if !decision.Continue {
		logger.DebugCF("agent", "Session replaced", map[string]interface{}{
			"user":   userID,
			"reason": decision.Reason,
		})
	}

	sess.Messages = al.compactor.Compact(sess.Messages)
	sess.AddMessage("user", msg.Content)

	final, rounds, err := al.runRounds(ctx, sess, msg)
	if err != nil {
		return "", err
	}

	sess.AddMessage("assistant", final)
	sess.PurgeEphemeralState()
	sess.Touch(time.Now())

	if err := al.sessions.Save(sess); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}

	logger.InfoCF("agent", "Turn completed", map[string]interface{}{
		"user":         userID,
		"rounds":       rounds,
		"final_length": len(final),
	})
	return final, nil
}

// runRounds drives the AWAITING_AGENT / EXECUTING_TOOLS cycle as an
// explicit bounded loop. It returns the cleaned terminal reply.
func (al *Loop) runRounds(ctx context.Context, sess *session.Session, msg bus.InboundMessage) (string, int, error) {
	toolDefs := al.tools.GetDefinitions()

	for round := 1; round <= al.maxToolRounds; round++ {
		messages := al.buildMessages(sess)

		resp, err := al.provider.Chat(ctx, messages, toolDefs, al.model, map[string]interface{}{
			"max_tokens":  al.maxTokens,
			"temperature": al.temperature,
		})
		if err != nil {
			return "", round, fmt.Errorf("agent call failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			logger.DebugCF("agent", "Terminal reply", map[string]interface{}{
				"round":         round,
				"content_chars": len(resp.Content),
			})
			return cleanReply(resp.Content), round, nil
		}

		toolNames := make([]string, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			toolNames = append(toolNames, call.Name)
		}
		logger.InfoCF("agent", "Tool calls requested", map[string]interface{}{
			"round": round,
			"tools": toolNames,
		})

		sess.AddFullMessage(assistantToolCallMessage(resp))

		// Tool calls are independent by contract; run the batch
		// concurrently but block until every result is in.
		results := make([]providers.Message, len(resp.ToolCalls))
		var wg sync.WaitGroup
		for i, call := range resp.ToolCalls {
			wg.Add(1)
			go func(i int, call providers.ParsedToolCall) {
				defer wg.Done()
				results[i] = al.tools.ExecuteCall(ctx, call, msg.Channel, msg.ChatID)
			}(i, call)
		}
		wg.Wait()

		for _, result := range results {
			sess.AddFullMessage(result)
		}
	}

	logger.WarnCF("agent", "Tool round cap exceeded", map[string]interface{}{
		"max_rounds": al.maxToolRounds,
	})
	return runawayReply, al.maxToolRounds, nil
}

func (al *Loop) buildMessages(sess *session.Session) []providers.Message {
	messages := make([]providers.Message, 0, 1+len(sess.Messages))
	messages = append(messages, providers.Message{
		Role:    "system",
		Content: al.systemPrompt(),
	})
	messages = append(messages, sess.Messages...)
	return messages
}

func (al *Loop) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are mendbot, a caring medication companion. ")
	b.WriteString("You help people keep track of their prescriptions, schedule dose reminders, and answer questions about their routine. ")
	b.WriteString("Be warm and concise. Never give medical advice beyond the prescribed instructions; suggest talking to a doctor or pharmacist instead.\n\n")
	b.WriteString("Wrap private reasoning in <thinking></thinking> tags; everything after the closing tag is shown to the user.\n\n")
	b.WriteString("Current time: " + time.Now().Format(time.RFC1123) + "\n")

	if names := al.tools.List(); len(names) > 0 {
		b.WriteString("Available tools: " + strings.Join(names, ", ") + "\n")
	}
	return b.String()
}

func assistantToolCallMessage(resp *providers.Response) providers.Message {
	msg := providers.Message{
		Role:    "assistant",
		Content: resp.Content,
	}
	for _, call := range resp.ToolCalls {
		argsJSON, _ := json.Marshal(call.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: &providers.FunctionCall{
				Name:      call.Name,
				Arguments: string(argsJSON),
			},
		})
	}
	return msg
}

// cleanReply strips internal reasoning and guarantees a non-empty,
// user-facing reply.
func cleanReply(content string) string {
	if idx := strings.LastIndex(content, thinkingClose); idx >= 0 {
		content = content[idx+len(thinkingClose):]
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return fallbackApology
	}
	return content
}
