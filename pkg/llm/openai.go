package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gudagent/pkg/clients"
)

type OpenAIProvider struct {
	name   string
	http   *clients.HTTPClient
	apiKey string
	apiURL string
	model  string
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:   "openai",
		http:   newHTTPClient("openai"),
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		model:  cfg.Model,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (Stream, error) {
	if p.model == "" {
		return nil, fmt.Errorf("%s: %w", p.name, errModelRequired)
	}
	reqBody := openAIRequest{
		Model:    p.model,
		Messages: openAIMessagesFrom(messages),
		Stream:   true,
	}
	for _, tool := range tools {
		reqBody.Tools = append(reqBody.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	resp, err := doWithRetry(ctx, p.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: unexpected status %s: %s", p.name, resp.Status, strings.TrimSpace(string(body)))
	}

	state := &openAIToolState{ids: map[int]string{}, names: map[string]string{}, args: map[string]string{}}
	return newSSEStream(resp, state.decode), nil
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// openAIMessagesFrom maps messages onto the chat-completions shape. Assistant
// turns that only call tools send a null content.
func openAIMessagesFrom(messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		msg := openAIMessage{
			Role:       m.Role,
			Content:    &content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == RoleTool {
			msg.Name = ""
		}
		if len(m.ToolCalls) > 0 {
			if content == "" {
				msg.Content = nil
			}
			for _, call := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
					ID:   call.ID,
					Type: "function",
					Function: openAIFunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

// openAIToolState accumulates tool-call fragments. Only the first delta of a
// call carries its id and name; later deltas reference it by index.
type openAIToolState struct {
	ids   map[int]string
	names map[string]string
	args  map[string]string
}

func (s *openAIToolState) decode(data []byte) (Chunk, error) {
	var payload openAIStreamResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return Chunk{}, fmt.Errorf("openai: decode chunk: %w", err)
	}
	if len(payload.Choices) == 0 {
		return Chunk{}, nil
	}
	delta := payload.Choices[0].Delta
	chunk := Chunk{Content: delta.Content}
	for i, call := range delta.ToolCalls {
		index := i
		if call.Index != nil {
			index = *call.Index
		}
		id := call.ID
		if id != "" {
			s.ids[index] = id
		} else {
			id = s.ids[index]
		}
		if id == "" {
			id = fmt.Sprintf("call_%d", index)
			s.ids[index] = id
		}
		if call.Function.Name != "" {
			s.names[id] = call.Function.Name
		}
		s.args[id] += call.Function.Arguments
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCall{
			ID:        id,
			Name:      s.names[id],
			Arguments: s.args[id],
		})
	}
	return chunk, nil
}
