package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/browseragent/taskqueue/internal/app"
	"github.com/browseragent/taskqueue/internal/store"
)

// CreateTaskRequest is the POST /tasks body, field names matching spec.md
// §3's wire format exactly.
type CreateTaskRequest struct {
	Instruction string                 `json:"instruction"`
	Priority    string                 `json:"priority,omitempty"`
	DependsOn   []string               `json:"dependsOn,omitempty"`
	RetryPolicy *store.RetryPolicy     `json:"retryPolicy,omitempty"`
	Timeout     int                    `json:"timeout,omitempty"`
	WebhookURL  string                 `json:"webhookUrl,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	LLMConfig   map[string]interface{} `json:"llmConfig,omitempty"`
	BatchID     string                 `json:"batchId,omitempty"`
}

func (req CreateTaskRequest) validate() string {
	if req.Instruction == "" {
		return "instruction is required"
	}
	if req.Priority != "" && !store.Priority(req.Priority).Valid() {
		return "priority must be one of critical, high, normal, low"
	}
	return ""
}

func (req CreateTaskRequest) toDef(id string) store.TaskDef {
	priority := store.Priority(req.Priority)
	if priority == "" {
		priority = store.PriorityNormal
	}
	return store.TaskDef{
		ID:          id,
		Instruction: req.Instruction,
		Priority:    priority,
		DependsOn:   req.DependsOn,
		RetryPolicy: req.RetryPolicy,
		TimeoutMs:   req.Timeout,
		WebhookURL:  req.WebhookURL,
		Metadata:    req.Metadata,
		LLMConfig:   req.LLMConfig,
		BatchID:     req.BatchID,
	}
}

// TaskHandlers groups the /tasks route handlers.
type TaskHandlers struct {
	rt *app.Runtime
}

// NewTaskHandlers builds handlers bound to rt.
func NewTaskHandlers(rt *app.Runtime) *TaskHandlers {
	return &TaskHandlers{rt: rt}
}

// CreateTask handles POST /tasks.
func (h *TaskHandlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeValidationError(w, msg)
		return
	}

	task, err := h.rt.Store.CreateTask(r.Context(), req.toDef(uuid.NewString()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// CreateBatchRequest is the POST /tasks/batch body.
type CreateBatchRequest struct {
	Tasks       []CreateTaskRequest `json:"tasks"`
	WebhookURL  string              `json:"webhookUrl,omitempty"`
	Parallelism int                 `json:"parallelism,omitempty"`
}

// CreateBatch handles POST /tasks/batch.
func (h *TaskHandlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body")
		return
	}
	if len(req.Tasks) == 0 {
		writeValidationError(w, "tasks must be a non-empty array")
		return
	}
	for _, t := range req.Tasks {
		if msg := t.validate(); msg != "" {
			writeValidationError(w, msg)
			return
		}
	}

	batchID := uuid.NewString()
	batch, err := h.rt.Store.CreateBatch(r.Context(), batchID, req.WebhookURL, req.Parallelism)
	if err != nil {
		writeError(w, err)
		return
	}

	tasks := make([]*store.Task, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		t.BatchID = batchID
		if t.WebhookURL == "" {
			t.WebhookURL = req.WebhookURL
		}
		task, err := h.rt.Store.CreateTask(r.Context(), t.toDef(uuid.NewString()))
		if err != nil {
			writeError(w, err)
			return
		}
		tasks = append(tasks, task)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"batch": batch,
		"tasks": tasks,
	})
}

// ListTasks handles GET /tasks.
func (h *TaskHandlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		State:    store.State(q.Get("state")),
		Priority: store.Priority(q.Get("priority")),
		BatchID:  q.Get("batchId"),
	}
	if limit := q.Get("limit"); limit != "" {
		filter.Limit = atoiOrZero(limit)
	}
	if offset := q.Get("offset"); offset != "" {
		filter.Offset = atoiOrZero(offset)
	}

	tasks, err := h.rt.Store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// Stats handles GET /tasks/stats.
func (h *TaskHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.rt.Store.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := h.rt.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "task not found", Kind: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GetResult handles GET /tasks/{id}/result.
func (h *TaskHandlers) GetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := h.rt.Store.GetResult(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "result not available", Kind: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelTask handles DELETE /tasks/{id}.
func (h *TaskHandlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.rt.Scheduler.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryTask handles POST /tasks/{id}/retry: it resets a failed or
// cancelled task back to pending, leaving its retry count unchanged, for an
// operator-initiated retry outside the automatic backoff path.
func (h *TaskHandlers) RetryTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := h.rt.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "task not found", Kind: "not_found"})
		return
	}
	if task.State != store.StateFailed && task.State != store.StateCancelled {
		writeValidationError(w, "task must be failed or cancelled to retry")
		return
	}
	if err := h.rt.Store.UpdateState(r.Context(), id, store.StatePending); err != nil {
		writeError(w, err)
		return
	}
	task, err = h.rt.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
