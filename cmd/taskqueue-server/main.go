// Command taskqueue-server runs the browser-automation task queue control
// plane: the HTTP API, the task scheduler, the LLM self-learning router,
// and the adaptive memory optimizer, all sharing one SQLite-backed Runtime.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/browseragent/taskqueue/internal/app"
	"github.com/browseragent/taskqueue/internal/config"
	"github.com/browseragent/taskqueue/internal/httpapi"
	"github.com/browseragent/taskqueue/internal/logger"
	"github.com/browseragent/taskqueue/internal/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "taskqueue-server:", err)
		os.Exit(1)
	}
}

func run() error {
	log := logger.New()
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		log.SetLevel(lvl)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()

	registerProvidersFromEnv(rt)

	rt.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           httpapi.NewServer(rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serveErr:
		return err
	}
}

// registerProvidersFromEnv wires any provider credentials supplied via
// environment variables. Only ANTHROPIC_API_KEY and OPENAI_API_KEY are
// read directly; a production deployment would extend this per provider.
func registerProvidersFromEnv(rt *app.Runtime) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		rt.RegisterProvider("anthropic", router.WithAPIKey(key))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		rt.RegisterProvider("openai", router.WithAPIKey(key))
	}
}
