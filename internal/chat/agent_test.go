package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gudagent/internal/guddesk"
	"gudagent/pkg/llm"
)

type sentReply struct {
	conversationID, body, sender string
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []sentReply
	failN   int
}

func (f *fakeReplier) Reply(_ context.Context, conversationID, body, sender string) (guddesk.ReplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return guddesk.ReplyResult{}, errors.New("guddesk unavailable")
	}
	f.replies = append(f.replies, sentReply{conversationID, body, sender})
	return guddesk.ReplyResult{MessageID: "m1", ConversationID: conversationID}, nil
}

func newTestAgent(provider llm.Provider, replier Replier, history HistoryStore) *Agent {
	return NewAgent(AgentConfig{
		Orchestrator: NewOrchestrator(OrchestratorConfig{LLMProvider: provider, Tools: NewToolbox(ToolboxConfig{})}),
		History:      history,
		Replier:      replier,
	})
}

func TestProcessMessageReplies(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]llm.Chunk{textRound("Hi! ", "How can I help?")}}
	replier := &fakeReplier{}
	history := NewMemoryHistory()
	agent := newTestAgent(provider, replier, history)
	ctx := context.Background()

	if err := agent.ProcessMessage(ctx, "conv-1", "Hello"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if len(replier.replies) != 1 {
		t.Fatalf("expected one reply, got %d", len(replier.replies))
	}
	got := replier.replies[0]
	if got.conversationID != "conv-1" || got.body != "Hi! How can I help?" || got.sender != "AI Agent" {
		t.Fatalf("unexpected reply %+v", got)
	}

	first := provider.calls[0]
	if first[0].Role != llm.RoleSystem || first[0].Content != SystemPrompt || first[1].Content != "Hello" {
		t.Fatalf("unexpected prompt %+v", first)
	}

	if err := agent.ProcessMessage(ctx, "conv-1", "Pricing?"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	second := provider.calls[1]
	if len(second) != 4 || second[2].Role != llm.RoleAssistant || second[3].Content != "Pricing?" {
		t.Fatalf("expected prior turns in prompt, got %+v", second)
	}

	turns, _ := history.Load(ctx, "conv-1")
	if len(turns) != 4 {
		t.Fatalf("expected 4 stored turns, got %d", len(turns))
	}
}

func TestProcessMessageSendsFallbackOnModelError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	replier := &fakeReplier{}
	history := NewMemoryHistory()
	agent := newTestAgent(provider, replier, history)

	err := agent.ProcessMessage(context.Background(), "conv-2", "Hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(replier.replies) != 1 || replier.replies[0].body != FallbackReply {
		t.Fatalf("expected fallback reply, got %+v", replier.replies)
	}
	turns, _ := history.Load(context.Background(), "conv-2")
	if len(turns) != 1 || turns[0].Role != llm.RoleUser {
		t.Fatalf("expected user turn kept, got %+v", turns)
	}
}

func TestProcessMessageFallbackWhenReplyFails(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]llm.Chunk{textRound("Sure.")}}
	replier := &fakeReplier{failN: 1}
	agent := newTestAgent(provider, replier, nil)

	if err := agent.ProcessMessage(context.Background(), "conv-3", "Hello"); err == nil {
		t.Fatal("expected reply error")
	}
	if len(replier.replies) != 1 || replier.replies[0].body != FallbackReply {
		t.Fatalf("expected fallback after failed reply, got %+v", replier.replies)
	}
}

func TestProcessMessageEmptyModelReply(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]llm.Chunk{textRound("   ")}}
	replier := &fakeReplier{}
	agent := newTestAgent(provider, replier, nil)

	err := agent.ProcessMessage(context.Background(), "conv-4", "Hello")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if len(replier.replies) != 1 || replier.replies[0].body != FallbackReply {
		t.Fatalf("expected fallback reply, got %+v", replier.replies)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("héllo world", 5); got != "héllo..." {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := preview("short", 10); got != "short" {
		t.Fatalf("unexpected preview %q", got)
	}
}
