/*
main.go - Local records service

PURPOSE:
  Runs the bundled stand-in for the congregation records service:
  the same wire protocol over a local SQLite database, optionally
  seeded with a demo congregation. Point the reporting engine's
  COLLABORATOR_URL at this for local development.

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 3000)
  -db      SQLite database path (default: records.db)
           Use ":memory:" for an in-memory database
  -seed    Populate a demo congregation on startup

EXAMPLES:
  # Fresh in-memory service with demo data
  ./stub -db=":memory:" -seed

SEE ALSO:
  - collaborator/stub: protocol implementation
  - store/sqlite: persistence
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/congregation-engine/collaborator/stub"
	"github.com/warp/congregation-engine/serviceyear"
	"github.com/warp/congregation-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 3000, "HTTP server port")
	dbPath := flag.String("db", "records.db", "SQLite database path")
	seed := flag.Bool("seed", false, "populate a demo congregation")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	if *seed {
		anchor := serviceyear.MonthOf(time.Now()).Prev()
		if err := stub.Seed(context.Background(), store, anchor); err != nil {
			logger.Fatal("failed to seed demo data", zap.Error(err))
		}
		logger.Info("demo congregation seeded", zap.String("anchor", anchor.String()))
	}

	srv := stub.New(store, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("records service starting", zap.Int("port", *port), zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down records service")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("records service stopped")
}
