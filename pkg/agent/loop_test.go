package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mendhq/mendbot/pkg/bus"
	"github.com/mendhq/mendbot/pkg/config"
	"github.com/mendhq/mendbot/pkg/providers"
	"github.com/mendhq/mendbot/pkg/session"
	"github.com/mendhq/mendbot/pkg/tools"
)

// scriptedProvider replays canned responses. The last response repeats
// if the loop asks for more.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.Response
	err       error
	calls     [][]providers.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, append([]providers.Message(nil), messages...))
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &providers.Response{Content: "unscripted"}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes its text argument back." }
func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	text, _ := args["text"].(string)
	return fmt.Sprintf(`{"status":"success","echo":%q}`, text), nil
}

func newTestLoop(t *testing.T, provider providers.LLMProvider, registry *tools.Registry) (*Loop, *session.Manager, *bus.MessageBus) {
	t.Helper()

	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	cfg := config.DefaultConfig()
	sessions := session.NewManager(store, session.Limits{
		Timeout:     time.Duration(cfg.Session.TimeoutMinutes) * time.Minute,
		MaxMessages: cfg.Session.MaxMessages,
		TokenBudget: cfg.Session.TokenBudget,
	})

	if registry == nil {
		registry = tools.NewRegistry()
	}

	msgBus := bus.NewMessageBus()
	return NewLoop(cfg, msgBus, provider, sessions, registry), sessions, msgBus
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "telegram",
		SenderID:   "u1",
		ChatID:     "c1",
		Content:    content,
		SessionKey: "u1",
	}
}

func TestDispatch_SimpleReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.Response{
		{Content: "Take it with food."},
	}}
	loop, sessions, _ := newTestLoop(t, provider, nil)

	reply, err := loop.Dispatch(context.Background(), inbound("how should I take metformin?"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if reply != "Take it with food." {
		t.Fatalf("reply = %q, want %q", reply, "Take it with food.")
	}

	// The persisted transcript ends user -> assistant.
	sess, decision, err := sessions.Begin("u1", time.Now())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if !decision.Continue {
		t.Fatalf("session did not persist: %q", decision.Reason)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(sess.Messages))
	}
	if sess.Messages[1].Role != "assistant" || sess.Messages[1].Content != "Take it with food." {
		t.Fatalf("last message = %+v, want the assistant reply", sess.Messages[1])
	}
}

func TestDispatch_StripsThinking(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.Response{
		{Content: "<thinking>dose math</thinking>Your next dose is at 8pm."},
	}}
	loop, _, _ := newTestLoop(t, provider, nil)

	reply, err := loop.Dispatch(context.Background(), inbound("when is my next dose?"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if reply != "Your next dose is at 8pm." {
		t.Fatalf("reply = %q, want thinking stripped", reply)
	}
}

func TestDispatch_ThinkingOnlyBecomesApology(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.Response{
		{Content: "<thinking>nothing to say</thinking>"},
	}}
	loop, _, _ := newTestLoop(t, provider, nil)

	reply, err := loop.Dispatch(context.Background(), inbound("hello"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if reply != fallbackApology {
		t.Fatalf("reply = %q, want the fallback apology", reply)
	}
}

func TestDispatch_ToolCallRoundTrip(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	provider := &scriptedProvider{responses: []*providers.Response{
		{ToolCalls: []providers.ParsedToolCall{
			{ID: "call_1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}},
		}},
		{Content: "The tool said hi."},
	}}
	loop, sessions, _ := newTestLoop(t, provider, registry)

	reply, err := loop.Dispatch(context.Background(), inbound("use the echo tool"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if reply != "The tool said hi." {
		t.Fatalf("reply = %q, want %q", reply, "The tool said hi.")
	}
	if provider.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.callCount())
	}

	// Second request must include the tool result, correlated by ID.
	second := provider.calls[1]
	var toolMsg *providers.Message
	for i := range second {
		if second[i].Role == "tool" {
			toolMsg = &second[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in the second provider request")
	}
	if toolMsg.ToolCallID != "call_1" {
		t.Fatalf("ToolCallID = %q, want call_1", toolMsg.ToolCallID)
	}
	if !strings.Contains(toolMsg.Content, `"echo":"hi"`) {
		t.Fatalf("tool result content = %q, want the echo payload", toolMsg.Content)
	}

	// Persisted transcript: user, assistant w/ tool calls, tool, assistant.
	sess, _, err := sessions.Begin("u1", time.Now())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	roles := make([]string, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		roles = append(roles, m.Role)
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
}

func TestDispatch_UnknownToolBecomesErrorResult(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.Response{
		{ToolCalls: []providers.ParsedToolCall{
			{ID: "call_7", Name: "no_such_tool", Arguments: map[string]interface{}{}},
		}},
		{Content: "Sorry, I could not do that."},
	}}
	loop, _, _ := newTestLoop(t, provider, nil)

	reply, err := loop.Dispatch(context.Background(), inbound("do something odd"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil (tool errors stay in-band)", err)
	}
	if reply != "Sorry, I could not do that." {
		t.Fatalf("reply = %q", reply)
	}

	second := provider.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "call_7" {
		t.Fatalf("last message = %+v, want the tool error result for call_7", last)
	}
	if !strings.Contains(last.Content, "unknown tool: no_such_tool") {
		t.Fatalf("tool result = %q, want an unknown-tool error payload", last.Content)
	}
}

func TestDispatch_ConcurrentToolBatchCorrelatesByID(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	provider := &scriptedProvider{responses: []*providers.Response{
		{ToolCalls: []providers.ParsedToolCall{
			{ID: "call_a", Name: "echo", Arguments: map[string]interface{}{"text": "first"}},
			{ID: "call_b", Name: "echo", Arguments: map[string]interface{}{"text": "second"}},
		}},
		{Content: "done"},
	}}
	loop, _, _ := newTestLoop(t, provider, registry)

	if _, err := loop.Dispatch(context.Background(), inbound("echo twice")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	second := provider.calls[1]
	results := map[string]string{}
	for _, m := range second {
		if m.Role == "tool" {
			results[m.ToolCallID] = m.Content
		}
	}
	if len(results) != 2 {
		t.Fatalf("tool results = %d, want 2", len(results))
	}
	if !strings.Contains(results["call_a"], `"echo":"first"`) {
		t.Fatalf("call_a result = %q, want the 'first' echo", results["call_a"])
	}
	if !strings.Contains(results["call_b"], `"echo":"second"`) {
		t.Fatalf("call_b result = %q, want the 'second' echo", results["call_b"])
	}
}

func TestDispatch_RoundCapYieldsFallback(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(echoTool{})

	// Always asks for another tool call; the loop must cut it off.
	provider := &scriptedProvider{responses: []*providers.Response{
		{ToolCalls: []providers.ParsedToolCall{
			{ID: "call_x", Name: "echo", Arguments: map[string]interface{}{"text": "again"}},
		}},
	}}
	loop, _, _ := newTestLoop(t, provider, registry)

	reply, err := loop.Dispatch(context.Background(), inbound("loop forever"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if reply != runawayReply {
		t.Fatalf("reply = %q, want the runaway fallback", reply)
	}
	if provider.callCount() != 5 {
		t.Fatalf("provider calls = %d, want 5 (the round cap)", provider.callCount())
	}
}

func TestRun_ProviderFailureYieldsApology(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream down")}
	loop, _, msgBus := newTestLoop(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	msgBus.PublishInbound(inbound("hello"))

	outCtx, outCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer outCancel()
	out, ok := msgBus.SubscribeOutbound(outCtx)
	if !ok {
		t.Fatal("no outbound message produced")
	}
	if out.Content != turnFailureReply {
		t.Fatalf("outbound = %q, want the turn failure apology", out.Content)
	}
	if out.Channel != "telegram" || out.ChatID != "c1" {
		t.Fatalf("outbound addressed to %s/%s, want telegram/c1", out.Channel, out.ChatID)
	}
}

// gatedProvider blocks turns whose user message mentions "slow" until
// released; every other turn answers immediately.
type gatedProvider struct {
	release chan struct{}
}

func (p *gatedProvider) Chat(ctx context.Context, messages []providers.Message, _ []providers.ToolDefinition, _ string, _ map[string]interface{}) (*providers.Response, error) {
	last := messages[len(messages)-1].Content
	if strings.Contains(last, "slow") {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &providers.Response{Content: "reply to " + last}, nil
}

func TestRun_TurnsForDifferentUsersRunInParallel(t *testing.T) {
	provider := &gatedProvider{release: make(chan struct{})}
	loop, _, msgBus := newTestLoop(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	msgBus.PublishInbound(bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1",
		Content: "slow question", SessionKey: "u1",
	})
	msgBus.PublishInbound(bus.InboundMessage{
		Channel: "telegram", SenderID: "u2", ChatID: "c2",
		Content: "quick question", SessionKey: "u2",
	})

	outCtx, outCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer outCancel()

	// u2's turn must not wait behind u1's blocked one.
	first, ok := msgBus.SubscribeOutbound(outCtx)
	if !ok {
		t.Fatal("no outbound message produced")
	}
	if first.ChatID != "c2" {
		t.Fatalf("first outbound went to %s, want c2 (the unblocked user)", first.ChatID)
	}

	close(provider.release)
	second, ok := msgBus.SubscribeOutbound(outCtx)
	if !ok {
		t.Fatal("released turn never completed")
	}
	if second.ChatID != "c1" {
		t.Fatalf("second outbound went to %s, want c1", second.ChatID)
	}
}

func TestCleanReply(t *testing.T) {
	tests := map[string]struct {
		input string
		want  string
	}{
		"plain":             {"hello", "hello"},
		"strip_single":      {"<thinking>x</thinking>answer", "answer"},
		"strip_to_last_tag": {"<thinking>a</thinking>mid<thinking>b</thinking>final", "final"},
		"whitespace_only":   {"   \n\t  ", fallbackApology},
		"thinking_only":     {"<thinking>x</thinking>", fallbackApology},
		"empty":             {"", fallbackApology},
		"trimmed":           {"<thinking>x</thinking>  answer  ", "answer"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := cleanReply(tc.input); got != tc.want {
				t.Fatalf("cleanReply(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
