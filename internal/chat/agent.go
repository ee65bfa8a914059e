package chat

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"gudagent/internal/guddesk"
	"gudagent/pkg/llm"
	"gudagent/pkg/logging"
)

const (
	FallbackReply = "I'm sorry, I ran into an issue processing your request. Let me connect you with a human agent who can help."

	fallbackTimeout = 15 * time.Second
	replyPreviewLen = 100
	lockStripes     = 64
)

// Replier is satisfied by *guddesk.Client.
type Replier interface {
	Reply(ctx context.Context, conversationID, body, senderName string) (guddesk.ReplyResult, error)
}

type AgentConfig struct {
	Orchestrator *Orchestrator
	History      HistoryStore
	Replier      Replier
	Logger       logging.Logger
	SystemPrompt string
	SenderName   string
}

// Agent answers visitor messages. Messages for the same conversation are
// processed one at a time so history updates do not interleave.
type Agent struct {
	orchestrator *Orchestrator
	history      HistoryStore
	replier      Replier
	logger       logging.Logger
	systemPrompt string
	senderName   string
	locks        [lockStripes]sync.Mutex
}

func NewAgent(cfg AgentConfig) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	history := cfg.History
	if history == nil {
		history = NewMemoryHistory()
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = SystemPrompt
	}
	sender := cfg.SenderName
	if sender == "" {
		sender = guddesk.DefaultSenderName
	}
	return &Agent{
		orchestrator: cfg.Orchestrator,
		history:      history,
		replier:      cfg.Replier,
		logger:       logger,
		systemPrompt: prompt,
		senderName:   sender,
	}
}

func (a *Agent) lockFor(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &a.locks[h.Sum32()%lockStripes]
}

// ProcessMessage runs one visitor turn and posts the reply to GudDesk. When
// the model or the reply fails, a fallback handing off to a human is sent
// instead and the original error is returned.
func (a *Agent) ProcessMessage(ctx context.Context, conversationID, body string) error {
	mu := a.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	log := a.logger.WithField("conversation_id", conversationID)

	turns, err := a.history.Load(ctx, conversationID)
	if err != nil {
		historyErrorsTotal.WithLabelValues("load").Inc()
		log.WithError(err).Warn("Failed to load conversation history; starting fresh")
		turns = nil
	}
	turns = append(turns, llm.Message{Role: llm.RoleUser, Content: body})

	messages := make([]llm.Message, 0, len(turns)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt})
	messages = append(messages, turns...)

	result, err := a.orchestrator.Run(ctx, messages)
	if err != nil {
		a.saveHistory(ctx, log, conversationID, turns)
		log.WithError(err).Error("Error processing message")
		a.sendFallback(ctx, log, conversationID)
		return fmt.Errorf("process message: %w", err)
	}

	turns = append(turns, llm.Message{Role: llm.RoleAssistant, Content: result.Content})
	a.saveHistory(ctx, log, conversationID, turns)

	if _, err := a.replier.Reply(ctx, conversationID, result.Content, a.senderName); err != nil {
		log.WithError(err).Error("Failed to send reply")
		a.sendFallback(ctx, log, conversationID)
		return fmt.Errorf("send reply: %w", err)
	}

	messagesProcessedTotal.WithLabelValues("replied").Inc()
	log.WithFields(logging.Fields{
		"tool_calls": len(result.ToolCalls),
		"rounds":     result.Rounds,
	}).Infof("Replied: %s", preview(result.Content, replyPreviewLen))
	return nil
}

// Reset forgets a conversation's history.
func (a *Agent) Reset(ctx context.Context, conversationID string) error {
	return a.history.Reset(ctx, conversationID)
}

func (a *Agent) saveHistory(ctx context.Context, log logging.Entry, conversationID string, turns []llm.Message) {
	if err := a.history.Save(context.WithoutCancel(ctx), conversationID, turns); err != nil {
		historyErrorsTotal.WithLabelValues("save").Inc()
		log.WithError(err).Warn("Failed to save conversation history")
	}
}

func (a *Agent) sendFallback(ctx context.Context, log logging.Entry, conversationID string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
	defer cancel()
	if _, err := a.replier.Reply(fctx, conversationID, FallbackReply, a.senderName); err != nil {
		messagesProcessedTotal.WithLabelValues("failed").Inc()
		log.WithError(err).Error("Failed to send fallback reply")
		return
	}
	messagesProcessedTotal.WithLabelValues("fallback").Inc()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
