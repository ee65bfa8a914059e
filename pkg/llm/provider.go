package llm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Provider streams a chat completion, optionally offering tools to the model.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (Stream, error)
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Chunk is one streamed delta. ToolCalls carry the cumulative arguments seen
// so far for each call ID, so a later chunk for the same ID supersedes earlier ones.
type Chunk struct {
	Content   string
	ToolCalls []ToolCall
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

var errModelRequired = errors.New("model is required")

type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
	decode func([]byte) (Chunk, error)
}

func newSSEStream(resp *http.Response, decode func([]byte) (Chunk, error)) *sseStream {
	return &sseStream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		decode: decode,
	}
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

func (s *sseStream) Recv() (Chunk, error) {
	for {
		data, err := s.readEvent()
		if err != nil {
			return Chunk{}, err
		}
		payload := strings.TrimSpace(string(data))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return Chunk{}, io.EOF
		}
		chunk, err := s.decode(data)
		if err != nil {
			return Chunk{}, err
		}
		if chunk.Content == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		return chunk, nil
	}
}

// readEvent returns the joined data: lines of the next SSE event.
func (s *sseStream) readEvent() ([]byte, error) {
	var dataLines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		atEOF := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if line == "" || atEOF {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			if atEOF {
				return nil, io.EOF
			}
		}
	}
}

// Drain reads a stream to completion, concatenating content and keeping the
// latest version of each tool call in first-seen order.
func Drain(stream Stream) (string, []ToolCall, error) {
	defer stream.Close()
	var content strings.Builder
	var calls []ToolCall
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return content.String(), calls, nil
		}
		if err != nil {
			return content.String(), calls, err
		}
		content.WriteString(chunk.Content)
		calls = MergeToolCalls(calls, chunk.ToolCalls)
	}
}

// MergeToolCalls folds streamed tool-call deltas into existing, matching by ID.
func MergeToolCalls(existing, incoming []ToolCall) []ToolCall {
	for _, call := range incoming {
		merged := false
		for i := range existing {
			if call.ID != "" && existing[i].ID == call.ID {
				if call.Name != "" {
					existing[i].Name = call.Name
				}
				existing[i].Arguments = call.Arguments
				merged = true
				break
			}
		}
		if !merged {
			existing = append(existing, call)
		}
	}
	return existing
}
