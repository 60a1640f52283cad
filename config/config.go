// Package config loads service configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// AppConfig holds all configuration for the reporting engine.
type AppConfig struct {
	Port              int
	CollaboratorURL   string
	CollaboratorToken string
	LookupConcurrency int
	LogLevel          string
	Environment       string
}

// Load reads configuration from environment variables and a .env file
// when present. godotenv never overrides variables already set.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.CollaboratorURL = os.Getenv("COLLABORATOR_URL")
	if cfg.CollaboratorURL == "" {
		return nil, fmt.Errorf("COLLABORATOR_URL is not set")
	}
	cfg.CollaboratorToken = os.Getenv("COLLABORATOR_TOKEN")

	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	cfg.Port = port

	concStr := os.Getenv("LOOKUP_CONCURRENCY")
	if concStr == "" {
		concStr = "4"
	}
	conc, err := strconv.Atoi(concStr)
	if err != nil || conc < 1 {
		return nil, fmt.Errorf("invalid LOOKUP_CONCURRENCY: %q", concStr)
	}
	cfg.LookupConcurrency = conc

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	return cfg, nil
}

// NewLogger builds the process logger: human-readable in development,
// JSON in anything else.
func NewLogger(cfg *AppConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	var zcfg zap.Config
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
