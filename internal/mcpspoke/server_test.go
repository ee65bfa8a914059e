package mcpspoke

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"gudagent/internal/knowledge"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeIndex struct {
	queries []string
	resp    knowledge.SearchResponse
	health  *knowledge.HealthTracker
}

func (f *fakeIndex) Search(_ context.Context, query string) knowledge.SearchResponse {
	f.queries = append(f.queries, query)
	return f.resp
}

func (f *fakeIndex) SectionCount() int                { return 12 }
func (f *fakeIndex) Source() string                   { return "remote" }
func (f *fakeIndex) Health() *knowledge.HealthTracker { return f.health }

func spokeTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(Handler(NewServer(cfg)))
	t.Cleanup(ts.Close)
	return ts
}

func spokeClient(t *testing.T, url string) *mcp.ClientSession {
	t.Helper()
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: url}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestSpoke_ListTools(t *testing.T) {
	session := spokeClient(t, spokeTestServer(t, Config{}).URL)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	if !names["search_kb"] || !names["knowledge_status"] || len(result.Tools) != 2 {
		t.Fatalf("unexpected tools %v", names)
	}
}

func TestSpoke_SearchKB(t *testing.T) {
	index := &fakeIndex{resp: knowledge.SearchResponse{
		Found:   true,
		Results: []knowledge.SearchResult{{Heading: "Pricing", Content: "Plans start at $10.", Relevance: 4}},
	}}
	session := spokeClient(t, spokeTestServer(t, Config{Index: index}).URL)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "search_kb",
		Arguments: map[string]any{"query": " pricing "},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result.Content)
	}

	var resp knowledge.SearchResponse
	if err := json.Unmarshal([]byte(extractText(result)), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.Found || len(resp.Results) != 1 || resp.Results[0].Heading != "Pricing" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(index.queries) != 1 || index.queries[0] != "pricing" {
		t.Fatalf("unexpected queries %v", index.queries)
	}
}

func TestSpoke_SearchKBErrors(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		query string
		want  string
	}{
		{"no index", Config{}, "pricing", "knowledge base unavailable"},
		{"blank query", Config{Index: &fakeIndex{}}, "   ", "query is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := spokeClient(t, spokeTestServer(t, tt.cfg).URL)
			result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
				Name:      "search_kb",
				Arguments: map[string]any{"query": tt.query},
			})
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if !result.IsError || extractText(result) != tt.want {
				t.Fatalf("expected tool error %q, got %+v", tt.want, result.Content)
			}
		})
	}
}

func TestSpoke_KnowledgeStatus(t *testing.T) {
	health := knowledge.NewHealthTracker()
	health.RecordSuccess("remote", 12)
	health.RecordFailure("local", errors.New("open knowledge/base.md: no such file"))
	session := spokeClient(t, spokeTestServer(t, Config{Index: &fakeIndex{health: health}}).URL)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "knowledge_status", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var status knowledgeStatus
	if err := json.Unmarshal([]byte(extractText(result)), &status); err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if status.Source != "remote" || status.Sections != 12 || len(status.Sources) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func extractText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
