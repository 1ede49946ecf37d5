package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/browseragent/taskqueue/internal/app"
	"github.com/browseragent/taskqueue/internal/config"
	"github.com/browseragent/taskqueue/internal/logger"
	"github.com/browseragent/taskqueue/internal/router"
)

func testRuntime(t *testing.T) *app.Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	rt, err := app.New(context.Background(), cfg, logger.New())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestCreateTask_And_GetTask(t *testing.T) {
	rt := testRuntime(t)
	srv := httptest.NewServer(NewServer(rt))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{"instruction": "navigate to example.com"})
	resp, err := http.Post(srv.URL+"/tasks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	getResp, err := http.Get(srv.URL + "/tasks/" + id)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestCreateTask_MissingInstructionRejected(t *testing.T) {
	rt := testRuntime(t)
	srv := httptest.NewServer(NewServer(rt))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{})
	resp, err := http.Post(srv.URL+"/tasks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTask_NotFound(t *testing.T) {
	rt := testRuntime(t)
	srv := httptest.NewServer(NewServer(rt))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tasks/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListTasks_ReturnsCreated(t *testing.T) {
	rt := testRuntime(t)
	srv := httptest.NewServer(NewServer(rt))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{"instruction": "a task"})
	_, err := http.Post(srv.URL+"/tasks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	tasks, _ := out["tasks"].([]interface{})
	require.Len(t, tasks, 1)
}

func TestHealth(t *testing.T) {
	rt := testRuntime(t)
	srv := httptest.NewServer(NewServer(rt))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouterSetAndGetOverride(t *testing.T) {
	rt := testRuntime(t)
	srv := httptest.NewServer(NewServer(rt))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"provider": "openai", "model": "gpt-4o", "reason": "manual"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/router/config/browser.navigate", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	routeResp, err := http.Get(srv.URL + "/router/route/browser.navigate")
	require.NoError(t, err)
	defer routeResp.Body.Close()
	require.Equal(t, http.StatusOK, routeResp.StatusCode)

	var decision map[string]interface{}
	require.NoError(t, json.NewDecoder(routeResp.Body).Decode(&decision))
	require.Equal(t, "openai", decision["provider"])
}

func TestRouterGetConfig_ReturnsOutboundCallConfig(t *testing.T) {
	rt := testRuntime(t)
	rt.RegisterProvider("openai", router.WithAPIKey("sk-test"))
	srv := httptest.NewServer(NewServer(rt))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"provider": "openai", "model": "gpt-4o"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/router/config/browser.click", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	cfgResp, err := http.Get(srv.URL + "/router/config/browser.click")
	require.NoError(t, err)
	defer cfgResp.Body.Close()
	require.Equal(t, http.StatusOK, cfgResp.StatusCode)

	var cfg map[string]interface{}
	require.NoError(t, json.NewDecoder(cfgResp.Body).Decode(&cfg))
	require.Equal(t, "openai", cfg["provider"])
	require.Equal(t, "gpt-4o", cfg["model"])
	require.Equal(t, "sk-test", cfg["apiKey"])
}

func TestRouterGetConfig_NoCredentialsReturnsNotFound(t *testing.T) {
	rt := testRuntime(t)
	srv := httptest.NewServer(NewServer(rt))
	defer srv.Close()

	// fallback provider is configured but never has credentials registered
	// in this runtime, so resolving a config for it must fail with 404
	// rather than attaching an empty/invalid outbound call config.
	resp, err := http.Get(srv.URL + "/router/config/unmapped.tool")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
