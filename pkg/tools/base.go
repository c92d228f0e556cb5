package tools

import "context"

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// CallContext identifies the channel and chat a tool call came from.
// It travels on the call's context so concurrent turns cannot see each
// other's delivery targets.
type CallContext struct {
	Channel string
	ChatID  string
}

type callContextKey struct{}

func WithCallContext(ctx context.Context, channel, chatID string) context.Context {
	return context.WithValue(ctx, callContextKey{}, CallContext{Channel: channel, ChatID: chatID})
}

// CallContextFrom returns the call's channel/chat, zero when the call
// did not come from a channel (CLI use).
func CallContextFrom(ctx context.Context) CallContext {
	cc, _ := ctx.Value(callContextKey{}).(CallContext)
	return cc
}

func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
