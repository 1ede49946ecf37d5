package httpapi

import (
	"net/http"

	"github.com/browseragent/taskqueue/internal/app"
)

// NewServer builds the full route table as an http.Handler wrapping rt.
func NewServer(rt *app.Runtime) http.Handler {
	mux := http.NewServeMux()

	tasks := NewTaskHandlers(rt)
	mux.HandleFunc("POST /tasks", tasks.CreateTask)
	mux.HandleFunc("POST /tasks/batch", tasks.CreateBatch)
	mux.HandleFunc("GET /tasks", tasks.ListTasks)
	mux.HandleFunc("GET /tasks/stats", tasks.Stats)
	mux.HandleFunc("GET /tasks/{id}", tasks.GetTask)
	mux.HandleFunc("DELETE /tasks/{id}", tasks.CancelTask)
	mux.HandleFunc("POST /tasks/{id}/retry", tasks.RetryTask)
	mux.HandleFunc("GET /tasks/{id}/result", tasks.GetResult)

	routerH := NewRouterHandlers(rt)
	mux.HandleFunc("GET /router", routerH.ListOverrides)
	mux.HandleFunc("GET /router/metrics", routerH.Metrics)
	mux.HandleFunc("GET /router/route/{tool}", routerH.Route)
	mux.HandleFunc("GET /router/config/{tool}", routerH.GetConfig)
	mux.HandleFunc("PUT /router/config/{tool}", routerH.SetOverride)
	mux.HandleFunc("DELETE /router/config/{tool}", routerH.DeleteOverride)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return CORSMiddleware(LoggingMiddleware(rt.Logger, mux))
}
