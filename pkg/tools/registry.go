package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mendhq/mendbot/pkg/logger"
	"github.com/mendhq/mendbot/pkg/providers"
)

// callTimeout bounds a single tool invocation so one stuck tool cannot
// hang the whole turn.
const callTimeout = 30 * time.Second

type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// ExecuteCall resolves and runs one tool call, always producing a tool
// message that carries the original call ID. Unknown names and tool
// failures become error payloads, never propagated errors, so one bad
// call cannot abort the rest of its batch.
func (r *Registry) ExecuteCall(ctx context.Context, call providers.ParsedToolCall, channel, chatID string) providers.Message {
	return providers.Message{
		Role:       "tool",
		Content:    r.executePayload(ctx, call, channel, chatID),
		ToolCallID: call.ID,
	}
}

func (r *Registry) executePayload(ctx context.Context, call providers.ParsedToolCall, channel, chatID string) (payload string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("tool", "Tool panicked", map[string]interface{}{
				"tool":  call.Name,
				"panic": fmt.Sprintf("%v", rec),
			})
			payload = errorPayload(fmt.Sprintf("tool %q failed unexpectedly", call.Name))
		}
	}()

	tool, ok := r.Get(call.Name)
	if !ok {
		logger.WarnCF("tool", "Unknown tool requested", map[string]interface{}{
			"tool": call.Name,
		})
		return errorPayload(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	if channel != "" && chatID != "" {
		ctx = WithCallContext(ctx, channel, chatID)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Execute(callCtx, call.Arguments)
	duration := time.Since(start)

	if err != nil {
		logger.ErrorCF("tool", "Tool execution failed", map[string]interface{}{
			"tool":        call.Name,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
		return errorPayload(err.Error())
	}

	logger.InfoCF("tool", "Tool execution completed", map[string]interface{}{
		"tool":          call.Name,
		"duration_ms":   duration.Milliseconds(),
		"result_length": len(result),
	})
	return result
}

func errorPayload(message string) string {
	data, err := json.Marshal(map[string]string{
		"status":  "error",
		"message": message,
	})
	if err != nil {
		return `{"status":"error","message":"internal error"}`
	}
	return string(data)
}

// GetDefinitions returns the schema for every registered tool, sorted by
// name so prompts stay stable across runs.
func (r *Registry) GetDefinitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
