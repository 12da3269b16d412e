package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"dataplane-signaling/backend/internal/repository"
	"dataplane-signaling/backend/internal/services"
	"dataplane-signaling/backend/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *services.SignalingService, *clocktesting.FakeClock) {
	t.Helper()
	fc := clocktesting.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := repository.NewMemoryFlowStore(repository.LeaseConfig{Duration: time.Minute, Clock: fc})
	svc, err := services.NewSignalingService(store, services.WithClock(fc))
	require.NoError(t, err)
	return NewServer(svc), svc, fc
}

func startFlow(t *testing.T, svc *services.SignalingService, id string) {
	t.Helper()
	_, err := svc.Start(context.Background(), &models.StartMessage{
		ProcessID:     id,
		ParticipantID: "provider-1",
		TransferType:  models.TransferType{DestinationType: "HttpData", FlowType: models.FlowTypePush},
	})
	require.NoError(t, err)
}

func callTool(name string, args any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestGetDataflowState(t *testing.T) {
	s, svc, _ := newTestServer(t)
	ctx := context.Background()
	startFlow(t, svc, "flow-1")

	res, err := s.handleGetState(ctx, callTool("get_dataflow_state", map[string]interface{}{"id": "flow-1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var flow models.DataFlow
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &flow))
	assert.Equal(t, "flow-1", flow.ID)
	assert.Equal(t, models.StateStarted, flow.State)

	res, err = s.handleGetState(ctx, callTool("get_dataflow_state", map[string]interface{}{"id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "NotFound")

	res, err = s.handleGetState(ctx, callTool("get_dataflow_state", map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleGetState(ctx, callTool("get_dataflow_state", "flow-1"))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListDataflows(t *testing.T) {
	s, svc, fc := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"flow-a", "flow-b", "flow-c"} {
		startFlow(t, svc, id)
		fc.Step(time.Second)
	}
	require.NoError(t, svc.Suspend(ctx, "flow-b", "paused"))

	list := func(args map[string]interface{}) []models.DataFlow {
		t.Helper()
		res, err := s.handleList(ctx, callTool("list_dataflows", args))
		require.NoError(t, err)
		require.False(t, res.IsError, resultText(t, res))
		var flows []models.DataFlow
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &flows))
		return flows
	}
	ids := func(flows []models.DataFlow) []string {
		out := make([]string, 0, len(flows))
		for _, f := range flows {
			out = append(out, f.ID)
		}
		return out
	}

	assert.Equal(t, []string{"flow-a", "flow-c", "flow-b"}, ids(list(nil)))
	assert.Equal(t, []string{"flow-a", "flow-c"}, ids(list(map[string]interface{}{"states": []interface{}{"started"}})))
	assert.Equal(t, []string{"flow-b"}, ids(list(map[string]interface{}{"states": []interface{}{"SUSPENDED"}})))
	assert.Equal(t, []string{"flow-a"}, ids(list(map[string]interface{}{"limit": float64(1)})))

	res, err := s.handleList(ctx, callTool("list_dataflows", map[string]interface{}{"states": []interface{}{"RUNNING"}}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleList(ctx, callTool("list_dataflows", map[string]interface{}{"limit": float64(0)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSuspendAndTerminate(t *testing.T) {
	s, svc, _ := newTestServer(t)
	ctx := context.Background()
	startFlow(t, svc, "flow-1")

	res, err := s.handleSuspend(ctx, callTool("suspend_dataflow", map[string]interface{}{"id": "flow-1", "reason": "operator"}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, "Data flow flow-1 suspended", resultText(t, res))

	flow, err := svc.GetDataFlow(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSuspended, flow.State)
	assert.Equal(t, "operator", flow.ErrorDetail)

	res, err = s.handleTerminate(ctx, callTool("terminate_dataflow", map[string]interface{}{"id": "flow-1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))

	state, err := svc.GetTransferState(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateTerminated, state)

	res, err = s.handleSuspend(ctx, callTool("suspend_dataflow", map[string]interface{}{"id": "flow-1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleTerminate(ctx, callTool("terminate_dataflow", map[string]interface{}{"reason": "no id"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "id")
}

func TestMountHTTPHandlers(t *testing.T) {
	s, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	MountHTTPHandlers(mux, s.GetMCPServer())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A message without a session is rejected by the SSE transport.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp/message", nil))
	assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
}
