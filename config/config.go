package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// EndpointHealth tracks the health status of a correction endpoint
type EndpointHealth struct {
	URL             string    `json:"url"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	CircuitOpen     bool      `json:"circuit_open"`
	NextRetryTime   time.Time `json:"next_retry_time"`
}

// CircuitBreakerConfig controls circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold   int           `json:"failure_threshold"`    // Number of failures before opening circuit
	BackoffDuration    time.Duration `json:"backoff_duration"`     // How long to wait before retrying failed endpoint
	MaxBackoffDuration time.Duration `json:"max_backoff_duration"` // Maximum backoff time
}

// DefaultCircuitBreakerConfig returns sensible defaults for circuit breaker
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:   2,                // Open circuit after 2 consecutive failures
		BackoffDuration:    30 * time.Second, // Initial 30s backoff
		MaxBackoffDuration: 5 * time.Minute,  // Max 5min backoff
	}
}

// Config represents the proxy configuration - all settings from the environment
type Config struct {
	Port string `json:"port"`

	// Backend the proxy forwards to
	BackendURL string `json:"backend_url"`

	// Schema and decision log files
	SchemaFile      string `json:"schema_file"`
	DecisionLogFile string `json:"decision_log_file"`
	LogDir          string `json:"log_dir"`

	// Correction settings
	CorrectionEnabled    bool     `json:"correction_enabled"`
	CorrectionEndpoints  []string `json:"correction_endpoints"` // OpenAI-compatible endpoints (comma-separated)
	CorrectionAPIKey     string   `json:"correction_api_key"`
	CorrectionModel      string   `json:"correction_model"`
	CorrectionMaxRetries int      `json:"correction_max_retries"` // Additional attempts after the first failure
	CorrectionTimeout    time.Duration `json:"correction_timeout"` // Per-attempt provider timeout

	// Endpoint rotation state (not serialized)
	correctionIndex int        `json:"-"`
	mutex           sync.Mutex `json:"-"`

	// Circuit breaker configuration and health tracking
	CircuitBreaker    CircuitBreakerConfig       `json:"circuit_breaker"`
	EndpointHealthMap map[string]*EndpointHealth `json:"-"`
	healthMutex       sync.RWMutex               `json:"-"`
}

// GetDefaultConfig returns a default configuration for testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Port:                 "8091",
		BackendURL:           "http://localhost:5100",
		SchemaFile:           "schemas.yaml",
		DecisionLogFile:      "log/decision_log.json",
		LogDir:               "log",
		CorrectionEnabled:    true,
		CorrectionEndpoints:  []string{},
		CorrectionMaxRetries: 1,
		CorrectionTimeout:    30 * time.Second,
		CircuitBreaker:       DefaultCircuitBreakerConfig(),
	}
	cfg.InitializeEndpointHealthMap()
	return cfg
}

// LoadConfigWithEnv loads configuration from the environment, with .env
// support via godotenv. A missing .env file is fine; missing required
// variables are not.
func LoadConfigWithEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %v", err)
	}

	cfg := &Config{
		Port:                 "8091",
		SchemaFile:           "schemas.yaml",
		DecisionLogFile:      "log/decision_log.json",
		LogDir:               "log",
		CorrectionEnabled:    true,
		CorrectionMaxRetries: 1,
		CorrectionTimeout:    30 * time.Second,
		CircuitBreaker:       DefaultCircuitBreakerConfig(),
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if backendURL := os.Getenv("BACKEND_URL"); backendURL != "" {
		cfg.BackendURL = strings.TrimRight(backendURL, "/")
		log.Printf("🔧 Configured BACKEND_URL: %s", cfg.BackendURL)
	} else {
		return nil, fmt.Errorf("BACKEND_URL must be set")
	}

	if schemaFile := os.Getenv("SCHEMA_FILE"); schemaFile != "" {
		cfg.SchemaFile = schemaFile
	}
	if logFile := os.Getenv("DECISION_LOG_FILE"); logFile != "" {
		cfg.DecisionLogFile = logFile
	}
	if logDir := os.Getenv("LOG_DIR"); logDir != "" {
		cfg.LogDir = logDir
	}

	// Parse CORRECTION_ENABLED (optional, defaults to true)
	if enabled := os.Getenv("CORRECTION_ENABLED"); enabled != "" {
		if enabled == "false" || enabled == "0" {
			cfg.CorrectionEnabled = false
			log.Printf("🔇 Configured CORRECTION_ENABLED: disabled (invalid requests forward uncorrected)")
		} else {
			log.Printf("🔊 Configured CORRECTION_ENABLED: enabled")
		}
	}

	// Parse CORRECTION_ENDPOINT (comma-separated list); required when
	// correction is enabled
	if endpoints := os.Getenv("CORRECTION_ENDPOINT"); endpoints != "" {
		parts := strings.Split(endpoints, ",")
		filtered := make([]string, 0, len(parts))
		for _, endpoint := range parts {
			endpoint = strings.TrimSpace(endpoint)
			if endpoint != "" {
				filtered = append(filtered, endpoint)
			}
		}
		cfg.CorrectionEndpoints = filtered
		log.Printf("🔧 Configured CORRECTION_ENDPOINT: %v (%d endpoints)", cfg.CorrectionEndpoints, len(cfg.CorrectionEndpoints))
	} else if cfg.CorrectionEnabled {
		return nil, fmt.Errorf("CORRECTION_ENDPOINT must be set when correction is enabled")
	}

	if model := os.Getenv("CORRECTION_MODEL"); model != "" {
		cfg.CorrectionModel = model
		log.Printf("🔧 Configured CORRECTION_MODEL: %s", model)
	} else if cfg.CorrectionEnabled {
		return nil, fmt.Errorf("CORRECTION_MODEL must be set when correction is enabled")
	}

	// API key is optional: local providers often run without one
	if apiKey := os.Getenv("CORRECTION_API_KEY"); apiKey != "" {
		cfg.CorrectionAPIKey = apiKey
		log.Printf("🔧 Configured CORRECTION_API_KEY: %s", maskAPIKey(apiKey))
	}

	if raw := os.Getenv("CORRECTION_MAX_RETRIES"); raw != "" {
		retries, err := strconv.Atoi(raw)
		if err != nil || retries < 0 {
			return nil, fmt.Errorf("CORRECTION_MAX_RETRIES must be a non-negative integer, got %q", raw)
		}
		cfg.CorrectionMaxRetries = retries
		log.Printf("🔧 Configured CORRECTION_MAX_RETRIES: %d", retries)
	}

	if raw := os.Getenv("CORRECTION_TIMEOUT"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("CORRECTION_TIMEOUT must be a positive number of seconds, got %q", raw)
		}
		cfg.CorrectionTimeout = time.Duration(seconds) * time.Second
		log.Printf("🔧 Configured CORRECTION_TIMEOUT: %v", cfg.CorrectionTimeout)
	}

	// Initialize circuit breaker health tracking
	cfg.InitializeEndpointHealthMap()

	return cfg, nil
}

// maskAPIKey masks an API key for safe logging
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

// InitializeEndpointHealthMap initializes health tracking for all correction endpoints
func (c *Config) InitializeEndpointHealthMap() {
	c.healthMutex.Lock()
	defer c.healthMutex.Unlock()

	if c.EndpointHealthMap == nil {
		c.EndpointHealthMap = make(map[string]*EndpointHealth)
	}

	for _, endpoint := range c.CorrectionEndpoints {
		if _, exists := c.EndpointHealthMap[endpoint]; !exists {
			c.EndpointHealthMap[endpoint] = &EndpointHealth{
				URL:          endpoint,
				FailureCount: 0,
				CircuitOpen:  false,
			}
		}
	}
}

// IsEndpointHealthy checks if an endpoint is available (circuit closed)
func (c *Config) IsEndpointHealthy(endpoint string) bool {
	c.healthMutex.RLock()
	defer c.healthMutex.RUnlock()

	health, exists := c.EndpointHealthMap[endpoint]
	if !exists {
		return true // Unknown endpoints are assumed healthy
	}

	// If circuit is open, check if it's time to retry
	if health.CircuitOpen {
		if time.Now().After(health.NextRetryTime) {
			return true // Time to test the endpoint again
		}
		return false // Still in backoff period
	}

	return true
}

// RecordEndpointFailure marks an endpoint as failed and potentially opens its circuit
func (c *Config) RecordEndpointFailure(endpoint string) {
	c.healthMutex.Lock()
	defer c.healthMutex.Unlock()

	health, exists := c.EndpointHealthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		c.EndpointHealthMap[endpoint] = health
	}

	health.FailureCount++
	health.LastFailureTime = time.Now()

	// Open circuit if failure threshold exceeded
	if health.FailureCount >= c.CircuitBreaker.FailureThreshold {
		health.CircuitOpen = true

		// Exponential backoff capped at max; hitting the threshold means
		// at least 1x backoff
		failuresOverThreshold := health.FailureCount - c.CircuitBreaker.FailureThreshold + 1
		if failuresOverThreshold < 1 {
			failuresOverThreshold = 1
		}
		backoff := time.Duration(int64(c.CircuitBreaker.BackoffDuration) * int64(failuresOverThreshold))
		if backoff > c.CircuitBreaker.MaxBackoffDuration {
			backoff = c.CircuitBreaker.MaxBackoffDuration
		}

		health.NextRetryTime = time.Now().Add(backoff)

		log.Printf("🚨 Circuit breaker opened for endpoint %s (failures: %d, retry in: %v)",
			endpoint, health.FailureCount, backoff)
	} else {
		log.Printf("⚠️ Endpoint failure recorded: %s (failures: %d/%d)",
			endpoint, health.FailureCount, c.CircuitBreaker.FailureThreshold)
	}
}

// RecordEndpointSuccess marks an endpoint as successful and potentially closes its circuit
func (c *Config) RecordEndpointSuccess(endpoint string) {
	c.healthMutex.Lock()
	defer c.healthMutex.Unlock()

	health, exists := c.EndpointHealthMap[endpoint]
	if !exists {
		health = &EndpointHealth{URL: endpoint}
		c.EndpointHealthMap[endpoint] = health
	}

	if health.CircuitOpen {
		health.CircuitOpen = false
		health.FailureCount = 0
		health.NextRetryTime = time.Time{}
		log.Printf("✅ Circuit breaker closed for endpoint %s (recovered)", endpoint)
	} else if health.FailureCount > 0 {
		health.FailureCount = 0
		log.Printf("✅ Endpoint recovered: %s (failure count reset)", endpoint)
	}
}

// GetHealthyCorrectionEndpoint returns the next healthy correction endpoint
// with round-robin rotation, skipping endpoints whose circuit is open
func (c *Config) GetHealthyCorrectionEndpoint() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.CorrectionEndpoints) == 0 {
		return ""
	}

	startIndex := c.correctionIndex
	for i := 0; i < len(c.CorrectionEndpoints); i++ {
		endpoint := c.CorrectionEndpoints[c.correctionIndex]
		c.correctionIndex = (c.correctionIndex + 1) % len(c.CorrectionEndpoints)

		if c.IsEndpointHealthy(endpoint) {
			return endpoint
		}

		if c.correctionIndex == startIndex {
			break
		}
	}

	// All endpoints unhealthy: return the next one anyway as a last resort
	endpoint := c.CorrectionEndpoints[c.correctionIndex]
	c.correctionIndex = (c.correctionIndex + 1) % len(c.CorrectionEndpoints)
	return endpoint
}
