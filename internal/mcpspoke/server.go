package mcpspoke

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gudagent/internal/knowledge"
	"gudagent/pkg/logging"
	"gudagent/pkg/version"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// KnowledgeIndex is satisfied by *knowledge.Index.
type KnowledgeIndex interface {
	Search(ctx context.Context, query string) knowledge.SearchResponse
	SectionCount() int
	Source() string
	Health() *knowledge.HealthTracker
}

type Config struct {
	Index  KnowledgeIndex
	Logger logging.Logger
}

// NewServer creates an MCP server exposing the knowledge base to external
// agents.
func NewServer(cfg Config) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "gud-agent",
		Version: version.Version,
	}, nil)

	registerSearchKB(srv, cfg)
	registerKnowledgeStatus(srv, cfg)
	return srv
}

// Handler serves srv over stateless streamable HTTP.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return srv },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
}

type searchKBInput struct {
	Query string `json:"query" jsonschema:"What the customer is asking about"`
}

func registerSearchKB(srv *mcp.Server, cfg Config) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "search_kb",
			Description: "Search the knowledge base for information about the company, products, pricing, or features. Returns up to three matching sections.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, args searchKBInput) (*mcp.CallToolResult, any, error) {
			return handleSearchKB(ctx, args, cfg)
		},
	)
}

func handleSearchKB(ctx context.Context, args searchKBInput, cfg Config) (*mcp.CallToolResult, any, error) {
	if cfg.Index == nil {
		spokeCallsTotal.WithLabelValues("search_kb", "unavailable").Inc()
		return spokeError("knowledge base unavailable")
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		spokeCallsTotal.WithLabelValues("search_kb", "invalid").Inc()
		return spokeError("query is required")
	}

	start := time.Now()
	resp := cfg.Index.Search(ctx, query)
	spokeSearchDuration.Observe(time.Since(start).Seconds())
	spokeCallsTotal.WithLabelValues("search_kb", "ok").Inc()

	if cfg.Logger != nil {
		cfg.Logger.WithFields(logging.Fields{
			"query":   query,
			"found":   resp.Found,
			"results": len(resp.Results),
		}).Debug("Spoke knowledge search")
	}
	return spokeSuccess(resp)
}

type knowledgeStatus struct {
	Source   string                   `json:"source"`
	Sections int                      `json:"sections"`
	Sources  []knowledge.SourceHealth `json:"sources"`
}

func registerKnowledgeStatus(srv *mcp.Server, cfg Config) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "knowledge_status",
			Description: "Report which knowledge source is loaded, how many sections it holds, and per-source refresh health.",
		},
		func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			if cfg.Index == nil {
				spokeCallsTotal.WithLabelValues("knowledge_status", "unavailable").Inc()
				return spokeError("knowledge base unavailable")
			}
			spokeCallsTotal.WithLabelValues("knowledge_status", "ok").Inc()
			status := knowledgeStatus{
				Source:   cfg.Index.Source(),
				Sections: cfg.Index.SectionCount(),
			}
			if h := cfg.Index.Health(); h != nil {
				status.Sources = h.Snapshot()
			}
			return spokeSuccess(status)
		},
	)
}

func spokeError(message string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}, nil, nil
}

func spokeSuccess(result any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return spokeError(fmt.Sprintf("failed to format result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
