package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"schema-proxy/decisionlog"
	"schema-proxy/logger"
	"schema-proxy/pipeline"
	"schema-proxy/types"
)

// Handler intercepts every inbound request, runs it through the correction
// pipeline, and relays the final payload to the backend.
type Handler struct {
	pipeline  *pipeline.Pipeline
	forwarder Forwarder
	decisions *decisionlog.Store
	obs       *logger.ObservabilityLogger
}

// NewHandler creates a new intercepting proxy handler. obs may be nil,
// which disables structured event logging (used in tests).
func NewHandler(p *pipeline.Pipeline, forwarder Forwarder, decisions *decisionlog.Store, obs *logger.ObservabilityLogger) *Handler {
	return &Handler{
		pipeline:  p,
		forwarder: forwarder,
		decisions: decisions,
		obs:       obs,
	}
}

// HandleRequest is the catch-all intercept route
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()
	ctx := withRequestID(r.Context(), requestID)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("❌[%s] Failed to read request body: %v", requestID, err)
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	log.Printf("📨[%s] %s %s (%d bytes)", requestID, r.Method, r.URL.Path, len(body))

	// Bodyless requests have nothing to validate
	if len(body) == 0 {
		h.relay(ctx, w, r, body)
		return
	}

	value, err := types.DecodeValue(body)
	if err != nil || value.Kind != types.KindObject {
		// The validator only speaks dotted-path JSON object trees; anything
		// else passes through and the backend stays the authority on it
		log.Printf("⚠️[%s] Body is not a JSON object, forwarding unchanged", requestID)
		h.relay(ctx, w, r, body)
		return
	}

	key := types.EndpointKey{Method: r.Method, Path: r.URL.Path}
	result := h.pipeline.Run(ctx, key, value)

	switch {
	case result.Outcome.Forwarded():
		payload := body
		if result.Outcome == pipeline.OutcomeForwardedCorrected {
			payload, err = json.Marshal(result.Payload)
			if err != nil {
				log.Printf("❌[%s] Failed to encode corrected payload: %v", requestID, err)
				http.Error(w, "Internal proxy error", http.StatusInternalServerError)
				return
			}
			log.Printf("🔧[%s] Forwarding corrected payload for %s", requestID, key)
			if h.obs != nil {
				h.obs.Info(logger.ComponentPipeline, logger.CategoryCorrection, requestID,
					"Forwarding corrected payload", map[string]interface{}{
						"endpoint": key.String(),
						"attempts": result.Attempts,
					})
			}
		}
		h.relay(ctx, w, r, payload)

	case result.Outcome == pipeline.OutcomeRejected:
		log.Printf("🚫[%s] Rejected %s after %d attempts: %s",
			requestID, key, result.Attempts, result.Record.Error.Description)
		if h.obs != nil {
			h.obs.Warn(logger.ComponentPipeline, logger.CategoryRejection, requestID,
				"Request rejected", map[string]interface{}{
					"endpoint":    key.String(),
					"attempts":    result.Attempts,
					"description": result.Record.Error.Description,
					"cause":       result.Record.Error.Cause,
				})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.Record.StatusCode)
		if err := json.NewEncoder(w).Encode(result.Record); err != nil {
			log.Printf("❌[%s] Failed to encode rejection response: %v", requestID, err)
		}

	case result.Outcome == pipeline.OutcomeAbandoned:
		// Client is gone; nothing left to deliver
	}
}

// relay forwards the final payload and copies the backend response through
func (h *Handler) relay(ctx context.Context, w http.ResponseWriter, r *http.Request, body []byte) {
	requestID := GetRequestID(ctx)

	pathAndQuery := r.URL.Path
	if r.URL.RawQuery != "" {
		pathAndQuery += "?" + r.URL.RawQuery
	}

	resp, err := h.forwarder.Forward(ctx, r.Method, pathAndQuery, body, r.Header)
	if err != nil {
		log.Printf("❌[%s] Forwarding failed: %v", requestID, err)
		http.Error(w, "Backend unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if isHopByHop(name) {
			continue
		}
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("⚠️[%s] Failed to copy backend response: %v", requestID, err)
	}
}

// HandleLogSnapshot serves the decision log snapshot the dashboard reads
func (h *Handler) HandleLogSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(h.decisions.Snapshot()); err != nil {
		log.Printf("❌ Failed to encode decision log snapshot: %v", err)
	}
}
