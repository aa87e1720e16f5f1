// Package decisionlog keeps the latest terminal decision per endpoint and
// persists it as the JSON file the log dashboard reads. The log is keyed by
// endpoint path, not by request: repeated failures on the same endpoint
// overwrite rather than accumulate, which is what the viewer expects.
package decisionlog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"schema-proxy/types"
)

// ErrorDetail is the error triple exposed to the dashboard
type ErrorDetail struct {
	Message     string `json:"message"`
	Description string `json:"description"`
	Cause       string `json:"cause"`
}

// DecisionRecord is the immutable record of one terminal rejection.
// The JSON shape is a viewer contract and must not change.
type DecisionRecord struct {
	StatusCode int         `json:"status_code"`
	Error      ErrorDetail `json:"error"`
	Method     string      `json:"method,omitempty"`
}

// Store is the append-only (latest-per-endpoint) decision log.
// Upserts are atomic under one whole-log mutex; only per-key atomicity is
// needed and contention here is tiny.
type Store struct {
	mu       sync.Mutex
	filePath string
	records  map[string]DecisionRecord
}

// Open creates a store backed by the given file, loading any existing
// records so the dashboard survives restarts. An empty filePath keeps the
// store memory-only (used in tests).
func Open(filePath string) (*Store, error) {
	s := &Store{
		filePath: filePath,
		records:  make(map[string]DecisionRecord),
	}

	if filePath == "" {
		return s, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read decision log %s: %v", filePath, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse decision log %s: %v", filePath, err)
	}

	log.Printf("📝 Loaded %d decision log entries from %s", len(s.records), filePath)
	return s, nil
}

// Record upserts the latest decision for an endpoint and flushes to disk
func (s *Store) Record(key types.EndpointKey, record DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key.Path] = record
	return s.flushLocked()
}

// Snapshot returns a deep copy of the current path → record mapping
func (s *Store) Snapshot() map[string]DecisionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]DecisionRecord, len(s.records))
	for path, record := range s.records {
		snapshot[path] = record
	}
	return snapshot
}

// flushLocked writes the log atomically: temp file in the same directory,
// then rename, so the viewer never sees a partial file. Caller holds mu.
func (s *Store) flushLocked() error {
	if s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal decision log: %v", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create decision log directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, ".decision_log-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp decision log: %v", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write decision log: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close decision log: %v", err)
	}

	if err := os.Rename(tmpName, s.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace decision log: %v", err)
	}

	return nil
}
