package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mendhq/mendbot/pkg/logger"
	"github.com/mendhq/mendbot/pkg/utils"
)

const defaultAPIBase = "https://openrouter.ai/api/v1"

// OpenAICompatProvider speaks the OpenAI chat-completions dialect, which
// OpenRouter, OpenAI and most self-hosted gateways accept.
type OpenAICompatProvider struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

func NewOpenAICompatProvider(apiKey, apiBase string) *OpenAICompatProvider {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &OpenAICompatProvider{
		apiKey:  apiKey,
		apiBase: apiBase,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAICompatProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*Response, error) {
	req := chatRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
	}
	if v, ok := options["max_tokens"].(int); ok {
		req.MaxTokens = v
	}
	if v, ok := options["temperature"].(float64); ok {
		req.Temperature = v
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	var parsed chatResponse
	err = utils.Retry(ctx, 3, 500*time.Millisecond, func() error {
		return p.doRequest(ctx, body, &parsed)
	})
	if err != nil {
		return nil, err
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	msg := parsed.Choices[0].Message
	resp := &Response{Content: msg.Content}

	for _, tc := range msg.ToolCalls {
		if tc.Function == nil {
			continue
		}
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				logger.WarnCF("provider", "Unparseable tool arguments", map[string]interface{}{
					"tool":  tc.Function.Name,
					"error": err.Error(),
				})
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ParsedToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return resp, nil
}

func (p *OpenAICompatProvider) doRequest(ctx context.Context, body []byte, out *chatResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, preview(data))
	}
	if resp.StatusCode != http.StatusOK {
		// Client errors will not improve on retry; hand the decoded error
		// body back so Chat can surface the provider's message.
		var parsed chatResponse
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil {
			*out = parsed
			return nil
		}
		return utils.Permanent(fmt.Errorf("provider returned %d: %s", resp.StatusCode, preview(data)))
	}

	return json.Unmarshal(data, out)
}

func preview(data []byte) string {
	return utils.Truncate(string(data), 200)
}
