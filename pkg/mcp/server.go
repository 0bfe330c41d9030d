package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pulseworks/readycheck/pkg/client"
)

// Server adapts readycheck-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"readycheck",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// readycheck://pools
	s.mcpServer.AddResource(mcp.NewResource(
		"readycheck://pools",
		"Live Pool States",
		mcp.WithResourceDescription("Current value, capacity, suppression state and learned regen rates for every tracked pool"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadPools)

	// readycheck://events
	s.mcpServer.AddResource(mcp.NewResource(
		"readycheck://events",
		"Readycheck Event Journal",
		mcp.WithResourceDescription("Recent journal events showing samples, spends, regen ticks and predictions"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadEvents)
}

// --- Tools ---

func (s *Server) registerTools() {
	// time_until_affordable
	s.mcpServer.AddTool(mcp.NewTool(
		"time_until_affordable",
		mcp.WithDescription("Ask how many seconds until an ability's resource cost is covered. Returns a conservative countdown."),
		mcp.WithString("ability", mcp.Required(), mcp.Description("The catalog ability id (e.g., 'sinister_strike')")),
		mcp.WithNumber("current", mcp.Description("Optional fresher pool reading the daemon may not have sampled yet")),
		mcp.WithNumber("max", mcp.Description("Pool capacity for the fresher reading, if known")),
	), s.handleTimeUntilAffordable)

	// cast_notice
	s.mcpServer.AddTool(mcp.NewTool(
		"cast_notice",
		mcp.WithDescription("Tell the daemon an ability was just used so it samples the pool immediately."),
		mcp.WithString("ability", mcp.Required(), mcp.Description("The catalog ability id that was used")),
	), s.handleCastNotice)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"readycheck-aware",
		mcp.WithPromptDescription("Provides context about Readycheck concepts (Pools, Abilities, Countdowns)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadPools(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	pools, err := s.apiClient.Pools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pools: %w", err)
	}

	data, err := json.MarshalIndent(pools, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pools: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadEvents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	events, err := s.apiClient.Events(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleTimeUntilAffordable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ability := mcp.ParseString(request, "ability", "")
	// Pools never go negative, so -1 marks "no reading given".
	current := mcp.ParseFloat64(request, "current", -1)

	ask := client.Ask{AbilityID: ability}
	if current >= 0 {
		ask.Reading = &client.Reading{
			Current: current,
			Max:     mcp.ParseFloat64(request, "max", 0),
		}
	}

	pred, err := s.apiClient.Ask(ctx, ask)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	// Format result
	resultMsg := fmt.Sprintf("Affordable: %t\nWait: %.1fs\nBasis: %s\nPool: %s",
		pred.Affordable, pred.WaitSeconds, pred.Basis, pred.PoolID)
	return mcp.NewToolResultText(resultMsg), nil
}

func (s *Server) handleCastNotice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ability := mcp.ParseString(request, "ability", "")

	if err := s.apiClient.CastNotice(ctx, ability); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Noticed: %s", ability)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "readycheck-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with Readycheck, a local daemon that watches a
character's resource pools and predicts when abilities become affordable.

Concepts:
- Pool: A regenerating resource (e.g., 'energy', 'mana', 'rage').
- Ability: An action with a fixed resource cost drawn from one pool.
- Countdown: A conservative "seconds until affordable" estimate. It may be
  late but never early; re-ask when it elapses.
- Suppression: For five seconds after any spend, some pools regenerate at a
  different (usually lower) rate. Countdowns already account for this.
- Basis: How a countdown was computed. 'tick' and 'learned' are trustworthy;
  'heuristic' is a rough guess; 'none' means no estimate is possible
  (event-driven pools like rage only grow from combat events).

When the user plans an action, use the 'time_until_affordable' tool. If the
answer is not affordable, wait out the countdown before acting. After the
action succeeds, call 'cast_notice' so the daemon re-samples immediately.
`

	return mcp.NewGetPromptResult(
		"readycheck-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
