// Package mcpserver exposes the engine to MCP-speaking agent runtimes over
// stdio. Every tool answers with JSON; a policy denial is a governance
// answer, so it comes back as a normal tool result rather than a protocol
// error.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/autonomy"
	"github.com/warden-project/warden/internal/engine"
)

// DefaultActor tags submissions that arrive without an explicit actor.
const DefaultActor = "mcp-agent"

const instructions = `warden governs what an autonomous agent may do. Request
actions with request_action; approved mutating actions are snapshotted before
execution and rolled back on failure. Trust grows with successful actions and
shrinks with failures, widening or narrowing what gets approved.`

// Server wires engine operations into MCP tools.
type Server struct {
	eng     *engine.Engine
	logger  *zap.Logger
	version string
	mcp     *server.MCPServer
}

// New builds the MCP server over a running engine.
func New(eng *engine.Engine, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{eng: eng, logger: logger, version: version}

	m := server.NewMCPServer("warden", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.register(m)
	s.mcp = m
	return s
}

// Serve speaks MCP on the given streams until ctx ends or stdin closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	return stdio.Listen(ctx, in, out)
}

// ServeStdio serves on the process's own stdin/stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) register(m *server.MCPServer) {
	m.AddTool(mcp.NewTool("request_action",
		mcp.WithDescription("Submit an action for governance evaluation. Returns the action with its approval or rejection."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Action type, e.g. file_write or system_command.")),
		mcp.WithString("resource", mcp.Required(), mcp.Description("The resource the action touches, e.g. a path or endpoint.")),
		mcp.WithObject("params", mcp.Description("Type-specific parameters, e.g. {\"path\": ..., \"content\": ...} for file_write.")),
		mcp.WithString("description", mcp.Description("Human-readable intent.")),
		mcp.WithString("actor", mcp.Description("Who is asking. Defaults to mcp-agent.")),
		mcp.WithBoolean("skip_confirmation", mcp.Description("Waive the interactive confirmation step.")),
		mcp.WithBoolean("auto_rollback", mcp.Description("Restore the pre-action snapshot if execution fails.")),
	), s.requestAction)

	m.AddTool(mcp.NewTool("execute_action",
		mcp.WithDescription("Execute a previously approved action by id."),
		mcp.WithString("action_id", mcp.Required(), mcp.Description("Id returned by request_action.")),
	), s.executeAction)

	m.AddTool(mcp.NewTool("action_status",
		mcp.WithDescription("Fetch the current state of an action."),
		mcp.WithString("action_id", mcp.Required()),
	), s.actionStatus)

	m.AddTool(mcp.NewTool("trust_status",
		mcp.WithDescription("Report the current trust score, tier, and tier table."),
	), s.trustStatus)

	m.AddTool(mcp.NewTool("take_the_wheel",
		mcp.WithDescription("Run a batch of proposed actions autonomously. Each action passes the same gates as request_action; trust moves after every one."),
		mcp.WithArray("proposals", mcp.Required(), mcp.Description("Array of {type, resource, description?, params?} objects, executed in order.")),
		mcp.WithString("actor", mcp.Description("Who is driving. Defaults to warden-autonomy.")),
	), s.takeTheWheel)

	m.AddTool(mcp.NewTool("audit_recent",
		mcp.WithDescription("Return the most recent audit entries, newest first."),
		mcp.WithNumber("n", mcp.Description("How many entries. Defaults to 20.")),
	), s.auditRecent)
}

func (s *Server) requestAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, _ := req.GetArguments()["params"].(map[string]any)
	params, err := action.DecodeParams(typ, raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	act, err := s.eng.Submit(ctx, action.Request{
		Type:             typ,
		Resource:         resource,
		Description:      req.GetString("description", ""),
		Params:           params,
		Actor:            req.GetString("actor", DefaultActor),
		Source:           action.SourceAutonomous,
		SkipConfirmation: req.GetBool("skip_confirmation", false),
		AutoRollback:     req.GetBool("auto_rollback", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(act)
}

func (s *Server) executeAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("action_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	act, err := s.eng.Execute(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(act)
}

func (s *Server) actionStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("action_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	act, err := s.eng.Get(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(act)
}

func (s *Server) trustStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.eng.Trust())
}

func (s *Server) takeTheWheel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawList, ok := req.GetArguments()["proposals"].([]any)
	if !ok || len(rawList) == 0 {
		return mcp.NewToolResultError("proposals must be a non-empty array"), nil
	}

	proposals := make([]autonomy.Proposal, 0, len(rawList))
	for i, item := range rawList {
		obj, ok := item.(map[string]any)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("proposal %d: expected an object", i)), nil
		}
		p := autonomy.Proposal{
			Type:        str(obj["type"]),
			Resource:    str(obj["resource"]),
			Description: str(obj["description"]),
		}
		if rawParams, ok := obj["params"].(map[string]any); ok {
			params, err := action.DecodeParams(p.Type, rawParams)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("proposal %d: %v", i, err)), nil
			}
			p.Params = params
		}
		proposals = append(proposals, p)
	}

	report, err := s.eng.TakeTheWheel(ctx, proposals, autonomy.Options{
		Actor: req.GetString("actor", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (s *Server) auditRecent(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := req.GetInt("n", 20)
	if n <= 0 {
		n = 20
	}
	return jsonResult(s.eng.AuditRecent(n))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
