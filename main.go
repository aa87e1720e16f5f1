package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schema-proxy/config"
	"schema-proxy/correction"
	"schema-proxy/decisionlog"
	"schema-proxy/logger"
	"schema-proxy/pipeline"
	"schema-proxy/proxy"
	"schema-proxy/types"
)

func main() {
	// Print version information
	fmt.Println(GetBuildInfo())
	fmt.Println()

	// Load configuration with .env support
	cfg, err := config.LoadConfigWithEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured JSONL logging
	obsLogger, err := logger.NewObservabilityLogger(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to initialize observability logger: %v", err)
	}
	defer obsLogger.Close()

	// Load endpoint schemas
	schemas, err := types.LoadSchemaFile(cfg.SchemaFile)
	if err != nil {
		log.Fatalf("Failed to load schemas: %v", err)
	}

	// Open the decision log (survives restarts)
	decisions, err := decisionlog.Open(cfg.DecisionLogFile)
	if err != nil {
		log.Fatalf("Failed to open decision log: %v", err)
	}

	obsLogger.Info(logger.ComponentConfig, logger.CategoryRequest, "", "Schema proxy configuration loaded", map[string]interface{}{
		"port":               cfg.Port,
		"backend_url":        cfg.BackendURL,
		"correction_enabled": cfg.CorrectionEnabled,
		"correction_model":   cfg.CorrectionModel,
		"correction_endpoints": len(cfg.CorrectionEndpoints),
		"max_retries":        cfg.CorrectionMaxRetries,
		"schema_endpoints":   len(schemas.ListEndpoints()),
	})

	// Wire the correction pipeline
	var client correction.Client
	if cfg.CorrectionEnabled {
		client = correction.NewService(cfg)
	}
	pipe := pipeline.New(
		schemas,
		types.NewStandardBodyValidator(),
		client,
		decisions,
		cfg.CorrectionEnabled,
		cfg.CorrectionMaxRetries,
		cfg.CorrectionTimeout,
	)

	// Create proxy handler
	forwarder := proxy.NewBackendForwarder(cfg.BackendURL)
	handler := proxy.NewHandler(pipe, forwarder, decisions, obsLogger)

	// Setup HTTP routes; /health, /metrics and /log shadow same-named
	// backend paths, everything else is intercepted
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/log", handler.HandleLogSnapshot)
	mux.HandleFunc("/log/view", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "dashboard/log_show.html")
	})
	mux.HandleFunc("/", handler.HandleRequest)

	// Setup HTTP server with reasonable timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Correction attempts can take a while
		IdleTimeout:  60 * time.Second,
	}

	obsLogger.Info(logger.ComponentProxy, logger.CategoryRequest, "", "Schema proxy started", map[string]interface{}{
		"address":  fmt.Sprintf("http://localhost:%s", cfg.Port),
		"backend":  cfg.BackendURL,
		"version":  GetVersionInfo(),
	})
	log.Printf("🚀 Schema proxy listening on :%s, forwarding to %s", cfg.Port, cfg.BackendURL)

	// Start server
	if err := server.ListenAndServe(); err != nil {
		obsLogger.Error(logger.ComponentProxy, logger.CategoryError, "", "Server failed", map[string]interface{}{"error": err.Error()})
		log.Fatalf("Server failed to start: %v", err)
	}
}

// handleHealth provides a simple health check endpoint
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
	"status": "ok",
	"timestamp": "%s"
}`, time.Now().UTC().Format(time.RFC3339))
}
