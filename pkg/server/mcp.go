package server

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type DeepResearchInput struct {
	Topic            string `json:"topic" jsonschema:"the topic to research"`
	Iterations       int    `json:"iterations,omitempty" jsonschema:"maximum number of research iterations, defaults to the server setting"`
	ResultsPerSearch int    `json:"results_per_search,omitempty" jsonschema:"search results fetched per query, defaults to the server setting"`
}

type DeepResearchOutput struct {
	JobID  string `json:"job_id"`
	Report string `json:"report"`
}

// NewMCPServer exposes the research loop as the deep_research tool. Each call
// is recorded as a job and runs to completion before the tool returns.
func NewMCPServer(s *Service) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "deep-research", Version: "1.0.0"}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "deep_research",
		Description: "Research a topic on the web over several search iterations and return a report with numbered references.",
	}, s.deepResearchTool)
	return srv
}

func NewMCPHandler(s *Service) http.Handler {
	srv := NewMCPServer(s)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func (s *Service) deepResearchTool(ctx context.Context, _ *mcp.CallToolRequest, in DeepResearchInput) (*mcp.CallToolResult, DeepResearchOutput, error) {
	job, report, err := s.RunJob(ctx, CreateJobRequest{
		Topic:            in.Topic,
		Iterations:       in.Iterations,
		ResultsPerSearch: in.ResultsPerSearch,
	})
	if err != nil {
		return nil, DeepResearchOutput{}, err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: report}},
	}, DeepResearchOutput{JobID: job.ID.String(), Report: report}, nil
}
