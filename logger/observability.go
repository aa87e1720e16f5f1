package logger

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ObservabilityLogger provides structured JSONL logging using logrus,
// suitable for ingestion by a log aggregator
type ObservabilityLogger struct {
	logger *logrus.Logger
	file   *os.File
}

// Component constants for consistent labeling
const (
	ComponentProxy       = "proxy_core"
	ComponentPipeline    = "correction_pipeline"
	ComponentValidator   = "validator"
	ComponentCorrection  = "correction_client"
	ComponentDecisionLog = "decision_log"
	ComponentForwarder   = "forwarder"
	ComponentConfig      = "configuration"
)

// Category constants for log classification
const (
	CategoryRequest    = "request"
	CategoryValidation = "validation"
	CategoryCorrection = "correction"
	CategorySuccess    = "success"
	CategoryWarning    = "warning"
	CategoryError      = "error"
	CategoryRejection  = "rejection"
	CategoryHealth     = "health"
)

// NewObservabilityLogger creates a new structured logger writing JSONL to logDir
func NewObservabilityLogger(logDir string) (*ObservabilityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	logPath := filepath.Join(logDir, "schema-proxy.jsonl")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(logrus.InfoLevel)

	return &ObservabilityLogger{
		logger: logger,
		file:   file,
	}, nil
}

// entry builds a logrus entry with the standard labels
func (o *ObservabilityLogger) entry(component, category, requestID string, fields map[string]interface{}) *logrus.Entry {
	entry := o.logger.WithFields(logrus.Fields{
		"service":   "schema-proxy",
		"component": component,
		"category":  category,
	})
	if requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	return entry
}

// Info logs an info-level structured event
func (o *ObservabilityLogger) Info(component, category, requestID, message string, fields map[string]interface{}) {
	o.entry(component, category, requestID, fields).Info(message)
}

// Warn logs a warning-level structured event
func (o *ObservabilityLogger) Warn(component, category, requestID, message string, fields map[string]interface{}) {
	o.entry(component, category, requestID, fields).Warn(message)
}

// Error logs an error-level structured event
func (o *ObservabilityLogger) Error(component, category, requestID, message string, fields map[string]interface{}) {
	o.entry(component, category, requestID, fields).Error(message)
}

// Close flushes and closes the underlying log file
func (o *ObservabilityLogger) Close() error {
	if o.file != nil {
		return o.file.Close()
	}
	return nil
}
