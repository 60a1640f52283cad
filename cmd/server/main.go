/*
main.go - Reporting engine entry point

PURPOSE:
  Initializes and starts the congregation reporting engine. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Build the logger
  3. Create the records-service client
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  COLLABORATOR_URL     records service base URL (required)
  COLLABORATOR_TOKEN   bearer token for the records service
  PORT                 HTTP server port (default: 8080)
  LOOKUP_CONCURRENCY   report lookup fan-out bound (default: 4)
  LOG_LEVEL            zap level (default: info)
  ENVIRONMENT          development|production (default: development)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Exit

EXAMPLES:
  # Against a local stub records service
  COLLABORATOR_URL=http://localhost:3000 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - cmd/stub/main.go: local records service
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/congregation-engine/api"
	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	client := collaborator.New(cfg.CollaboratorURL,
		collaborator.WithToken(cfg.CollaboratorToken),
		collaborator.WithLogger(logger))

	handler := api.NewHandler(client, logger, cfg.LookupConcurrency)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // document generation can be slow
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("reporting engine starting",
			zap.Int("port", cfg.Port),
			zap.String("collaborator", cfg.CollaboratorURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
