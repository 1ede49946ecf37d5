package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/browseragent/taskqueue/internal/app"
)

// RouterHandlers groups the /router route handlers.
type RouterHandlers struct {
	rt *app.Runtime
}

// NewRouterHandlers builds handlers bound to rt.
func NewRouterHandlers(rt *app.Runtime) *RouterHandlers {
	return &RouterHandlers{rt: rt}
}

// ListOverrides handles GET /router.
func (h *RouterHandlers) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.rt.Table.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"overrides": overrides})
}

// Metrics handles GET /router/metrics.
func (h *RouterHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	tool := r.URL.Query().Get("tool")
	aggs, err := h.rt.Metrics.Aggregate(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"metrics": aggs})
}

// Route handles GET /router/route/{tool}, resolving the provider/model a
// task with that instruction would currently be routed to.
func (h *RouterHandlers) Route(w http.ResponseWriter, r *http.Request) {
	tool := r.PathValue("tool")
	decision, err := h.rt.Table.Resolve(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// GetConfig handles GET /router/config/{tool}: resolves the route a task
// with that instruction would take and returns the full outbound call
// config (provider, model, credentials) the Executor would attach to its
// chat request, or 404 if no provider is available for it.
func (h *RouterHandlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	tool := r.PathValue("tool")
	decision, err := h.rt.Table.Resolve(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}
	if decision.Provider == "" {
		writeNotFound(w, "no provider available for tool")
		return
	}
	cfg, err := h.rt.Providers.BuildLLMConfig(decision)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// overrideRequest is the PUT /router/config/{tool} body.
type overrideRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Reason   string `json:"reason,omitempty"`
}

// SetOverride handles PUT /router/config/{tool}.
func (h *RouterHandlers) SetOverride(w http.ResponseWriter, r *http.Request) {
	tool := r.PathValue("tool")
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body")
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeValidationError(w, "provider and model are required")
		return
	}
	if err := h.rt.Table.SetOverride(r.Context(), tool, req.Provider, req.Model, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteOverride handles DELETE /router/config/{tool}.
func (h *RouterHandlers) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	tool := r.PathValue("tool")
	if err := h.rt.Table.ClearOverride(r.Context(), tool); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
