package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"dataplane-signaling/backend/internal/services"
	"dataplane-signaling/backend/pkg/models"
)

const defaultListLimit = 50

// Server exposes operator tools over the signaling service.
type Server struct {
	mcpServer *server.MCPServer
	signaling *services.SignalingService
}

func NewServer(signaling *services.SignalingService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Data Plane Signaling",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		signaling: signaling,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_dataflow_state",
			mcp.WithDescription("Get a data flow and its current state"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the data flow")),
		),
		s.handleGetState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_dataflows",
			mcp.WithDescription("List data flows in the given states, least recently updated first"),
			mcp.WithArray("states",
				mcp.Description("States to match, e.g. STARTED or SUSPENDED; all states when omitted"),
				mcp.Items(map[string]any{"type": "string"}),
			),
			mcp.WithNumber("limit", mcp.Description("Maximum number of flows to return (default 50)")),
		),
		s.handleList,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"suspend_dataflow",
			mcp.WithDescription("Suspend a started data flow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the data flow")),
			mcp.WithString("reason", mcp.Description("Why the flow is suspended")),
		),
		s.handleSuspend,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"terminate_dataflow",
			mcp.WithDescription("Terminate a data flow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the data flow")),
			mcp.WithString("reason", mcp.Description("Why the flow is terminated")),
		),
		s.handleTerminate,
	)
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	flow, err := s.signaling.GetDataFlow(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get data flow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(flow)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok && request.Params.Arguments != nil {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	states := models.AllStates
	if raw, ok := args["states"].([]interface{}); ok && len(raw) > 0 {
		states = make([]models.DataFlowState, 0, len(raw))
		for _, v := range raw {
			name, _ := v.(string)
			st, err := models.ParseDataFlowState(name)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Invalid parameter states: %v", err)), nil
			}
			states = append(states, st)
		}
	}

	limit := defaultListLimit
	if n, ok := args["limit"].(float64); ok {
		if n < 1 {
			return mcp.NewToolResultError("Invalid parameter limit: must be at least 1"), nil
		}
		limit = int(n)
	}

	flows, err := s.signaling.ListByState(ctx, states, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list data flows: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(flows)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSuspend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, reason, errResult := idAndReason(request)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.signaling.Suspend(ctx, id, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to suspend: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Data flow %s suspended", id)), nil
}

func (s *Server) handleTerminate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, reason, errResult := idAndReason(request)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.signaling.Terminate(ctx, id, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to terminate: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Data flow %s terminated", id)), nil
}

func idAndReason(request mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", "", mcp.NewToolResultError("Invalid arguments type")
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return "", "", mcp.NewToolResultError("Missing required parameter: id")
	}
	reason, _ := args["reason"].(string)
	return id, reason, nil
}

// MountHTTPHandlers serves the SSE transport at /mcp/sse and /mcp/message.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
