package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gudagent/pkg/llm"
	"gudagent/pkg/logging"
)

const (
	defaultMaxToolRounds = 5
	maxConcurrentTools   = 3
)

// ErrEmptyResponse is returned when the model never produced reply text.
var ErrEmptyResponse = errors.New("model returned no reply text")

// ToolRunner is satisfied by *Toolbox.
type ToolRunner interface {
	Definitions() []llm.Tool
	Execute(ctx context.Context, call llm.ToolCall) (string, error)
}

type OrchestratorConfig struct {
	LLMProvider llm.Provider
	Tools       ToolRunner
	Logger      logging.Logger
	MaxRounds   int
}

type Orchestrator struct {
	llmProvider llm.Provider
	runner      ToolRunner
	tools       []llm.Tool
	logger      logging.Logger
	maxRounds   int
}

type ToolCallRecord struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type Result struct {
	Content   string
	ToolCalls []ToolCallRecord
	Rounds    int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	var tools []llm.Tool
	if cfg.Tools != nil {
		tools = cfg.Tools.Definitions()
	}
	return &Orchestrator{
		llmProvider: cfg.LLMProvider,
		runner:      cfg.Tools,
		tools:       tools,
		logger:      logger,
		maxRounds:   maxRounds,
	}
}

// Run drives the model until it answers without requesting tools or the
// round budget is spent. The reply is the text of the round that requested
// no tools; a spent budget yields ErrEmptyResponse.
func (o *Orchestrator) Run(ctx context.Context, messages []llm.Message) (Result, error) {
	if o == nil || o.llmProvider == nil {
		return Result{}, errors.New("llm provider is required")
	}

	var result Result
	var response string
	for round := 0; round < o.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		result.Rounds = round + 1

		content, pending, err := o.complete(ctx, messages)
		if err != nil {
			return Result{}, err
		}
		if len(pending) == 0 {
			response = content
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content,
			ToolCalls: pending,
		})
		records, toolMessages := o.runTools(ctx, pending)
		result.ToolCalls = append(result.ToolCalls, records...)
		messages = append(messages, toolMessages...)
	}

	result.Content = strings.TrimSpace(response)
	if result.Content == "" {
		return result, ErrEmptyResponse
	}
	return result, nil
}

func (o *Orchestrator) complete(ctx context.Context, messages []llm.Message) (string, []llm.ToolCall, error) {
	start := time.Now()
	stream, err := o.llmProvider.Complete(ctx, messages, o.tools)
	if err != nil {
		llmCallsTotal.WithLabelValues("error").Inc()
		llmDuration.Observe(time.Since(start).Seconds())
		return "", nil, err
	}
	defer stream.Close()

	var content strings.Builder
	var pending []llm.ToolCall
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			llmCallsTotal.WithLabelValues("error").Inc()
			llmDuration.Observe(time.Since(start).Seconds())
			return "", nil, err
		}
		content.WriteString(chunk.Content)
		if len(chunk.ToolCalls) > 0 {
			pending = llm.MergeToolCalls(pending, chunk.ToolCalls)
		}
	}
	llmCallsTotal.WithLabelValues("success").Inc()
	llmDuration.Observe(time.Since(start).Seconds())
	return content.String(), pending, nil
}

// runTools executes calls with bounded concurrency and returns the tool
// messages in the order the model issued the calls.
func (o *Orchestrator) runTools(ctx context.Context, calls []llm.ToolCall) ([]ToolCallRecord, []llm.Message) {
	records := make([]ToolCallRecord, len(calls))
	outputs := make([]string, len(calls))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentTools)
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			record := ToolCallRecord{Name: c.Name}
			if json.Valid([]byte(c.Arguments)) {
				record.Arguments = json.RawMessage(c.Arguments)
			}
			out, err := o.execute(ctx, c)
			if err != nil {
				o.logger.WithError(err).WithField("tool", c.Name).Warn("Tool execution failed")
				record.Error = err.Error()
				encoded, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("Tool %s failed: %v", c.Name, err)})
				out = string(encoded)
			}
			records[idx] = record
			outputs[idx] = out
		}(i, call)
	}
	wg.Wait()

	messages := make([]llm.Message, len(calls))
	for i, call := range calls {
		messages[i] = llm.Message{
			Role:       llm.RoleTool,
			Content:    outputs[i],
			Name:       call.Name,
			ToolCallID: call.ID,
		}
	}
	return records, messages
}

func (o *Orchestrator) execute(ctx context.Context, call llm.ToolCall) (string, error) {
	if o.runner == nil {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	return o.runner.Execute(ctx, call)
}
