package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataplane-signaling/backend/internal/repository"
	"dataplane-signaling/backend/internal/services"
	"dataplane-signaling/backend/pkg/models"
)

func writeConfig(t *testing.T, driver, sqlitePath string) string {
	t.Helper()
	body := "environment: DEV\ndev_mode_bypass: true\nlog:\n  level: error\nstore:\n  driver: " + driver + "\n"
	if sqlitePath != "" {
		body += "  sqlite_path: " + sqlitePath + "\n"
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseStates(t *testing.T) {
	states, err := parseStates(nil)
	require.NoError(t, err)
	assert.Equal(t, models.AllStates, states)

	states, err = parseStates([]string{"started", "SUSPENDED"})
	require.NoError(t, err)
	assert.Equal(t, []models.DataFlowState{models.StateStarted, models.StateSuspended}, states)

	_, err = parseStates([]string{"RUNNING"})
	assert.Error(t, err)
}

func TestMigrateAndListFlows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flows.db")
	cfgPath := writeConfig(t, "sqlite", dbPath)

	_, err := run(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)

	db, err := repository.OpenSQLite(dbPath)
	require.NoError(t, err)
	store := repository.NewSQLiteFlowStore(db, repository.LeaseConfig{})
	svc, err := services.NewSignalingService(store)
	require.NoError(t, err)
	for _, id := range []string{"flow-1", "flow-2"} {
		_, err := svc.Start(context.Background(), &models.StartMessage{
			ProcessID:     id,
			ParticipantID: "provider-1",
			TransferType:  models.TransferType{DestinationType: "HttpData", FlowType: models.FlowTypePush},
		})
		require.NoError(t, err)
	}
	require.NoError(t, svc.Suspend(context.Background(), "flow-2", "paused"))
	require.NoError(t, store.Close())

	out, err := run(t, "flows", "list", "--state", "started", "--config", cfgPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1, out)
	var flow models.DataFlow
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &flow))
	assert.Equal(t, "flow-1", flow.ID)
	assert.Equal(t, models.StateStarted, flow.State)

	out, err = run(t, "flows", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestMigrate_MemoryStore(t *testing.T) {
	_, err := run(t, "migrate", "--config", writeConfig(t, "memory", ""))
	assert.Error(t, err)
}

func TestFlowsList_InvalidState(t *testing.T) {
	_, err := run(t, "flows", "list", "--state", "RUNNING", "--config", writeConfig(t, "memory", ""))
	assert.Error(t, err)
}

type controlAPICall struct {
	method string
	path   string
	body   map[string]any
}

func newControlAPI(t *testing.T) (*httptest.Server, <-chan controlAPICall) {
	t.Helper()
	calls := make(chan controlAPICall, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		calls <- controlAPICall{method: r.Method, path: r.URL.Path, body: body}
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"@id":"dp-1"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func writeRegistrationConfig(t *testing.T, controlAPI string) string {
	t.Helper()
	body := `environment: DEV
dev_mode_bypass: true
log:
  level: error
runtime:
  dataplane_id: dp-1
controlplane:
  control_api_url: ` + controlAPI + `
registration:
  url: https://dp.example.com/api/v1
  allowed_source_types: [HttpData]
  allowed_transfer_types: [HttpData-PUSH]
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDataplanesRegister(t *testing.T) {
	srv, calls := newControlAPI(t)
	cfgPath := writeRegistrationConfig(t, srv.URL+"/control")

	out, err := run(t, "dataplanes", "register", "--config", cfgPath, "--transfer-type", "HttpData-PULL")
	require.NoError(t, err)

	var resp models.IDResponse
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &resp))
	assert.Equal(t, "dp-1", resp.ID)

	call := <-calls
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/control/v1/dataplanes", call.path)
	assert.Equal(t, "dp-1", call.body["@id"])
	const ns = "https://w3id.org/edc/v0.0.1/ns/"
	assert.Equal(t, []any{"HttpData"}, call.body[ns+"allowedSourceTypes"])
	assert.Equal(t, []any{"HttpData-PULL"}, call.body[ns+"allowedTransferTypes"])
	assert.Equal(t, "https://dp.example.com/api/v1", call.body[ns+"url"])
}

func TestDataplanesUnregisterAndDelete(t *testing.T) {
	srv, calls := newControlAPI(t)
	cfgPath := writeRegistrationConfig(t, srv.URL)

	_, err := run(t, "dataplanes", "unregister", "--config", cfgPath)
	require.NoError(t, err)
	call := <-calls
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/v1/dataplanes/dp-1/unregister", call.path)

	_, err = run(t, "dataplanes", "delete", "dp-2", "--config", cfgPath)
	require.NoError(t, err)
	call = <-calls
	assert.Equal(t, http.MethodDelete, call.method)
	assert.Equal(t, "/v1/dataplanes/dp-2", call.path)
}

func TestDataplanesRegister_RequiresTypes(t *testing.T) {
	srv, calls := newControlAPI(t)
	cfgPath := writeRegistrationConfig(t, srv.URL)

	_, err := run(t, "dataplanes", "register", "--config", cfgPath, "--source-type", "")
	assert.Error(t, err)
	assert.Empty(t, calls)
}
