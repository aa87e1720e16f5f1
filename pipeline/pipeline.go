// Package pipeline drives the intercept-validate-correct-forward state
// machine: Received → Validating → Valid | Invalid → Correcting ⇄
// Revalidating → Forwarding | Rejected. Each request gets its own run;
// the only shared state is the read-mostly schema store and the decision
// log, and no lock is held while a correction call is in flight.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"schema-proxy/correction"
	"schema-proxy/decisionlog"
	"schema-proxy/internal"
	"schema-proxy/types"
)

// Outcome is the terminal state of one request's run
type Outcome int

const (
	// OutcomeForwardedValid: body conformed, forwarded untouched
	OutcomeForwardedValid Outcome = iota
	// OutcomeForwardedCorrected: an LLM candidate passed revalidation
	OutcomeForwardedCorrected
	// OutcomeForwardedUnknownSchema: endpoint has no schema, forwarded
	// untouched (cannot correct what is not described)
	OutcomeForwardedUnknownSchema
	// OutcomeForwardedUncorrected: body was invalid but correction is
	// disabled, forwarded untouched for the backend to judge
	OutcomeForwardedUncorrected
	// OutcomeRejected: correction failed or did not converge; a decision
	// record was written and the caller gets a 400
	OutcomeRejected
	// OutcomeAbandoned: the inbound client went away mid-correction;
	// nothing forwarded, nothing logged
	OutcomeAbandoned
)

// String returns the string representation of an outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeForwardedValid:
		return "forwarded_valid"
	case OutcomeForwardedCorrected:
		return "forwarded_corrected"
	case OutcomeForwardedUnknownSchema:
		return "forwarded_unknown_schema"
	case OutcomeForwardedUncorrected:
		return "forwarded_uncorrected"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Forwarded reports whether the outcome hands a payload to the forwarder
func (o Outcome) Forwarded() bool {
	switch o {
	case OutcomeForwardedValid, OutcomeForwardedCorrected, OutcomeForwardedUnknownSchema, OutcomeForwardedUncorrected:
		return true
	}
	return false
}

// Result is what one pipeline run produces: the terminal outcome, the
// payload to forward (original or corrected), and on rejection the record
// that was written.
type Result struct {
	Outcome  Outcome
	Payload  types.Value
	Record   *decisionlog.DecisionRecord
	Attempts int
	LastDiff types.ValidationDiff
}

// Pipeline orchestrates validator, correction client, and decision log
type Pipeline struct {
	schemas    types.SchemaStore
	validator  types.BodyValidator
	client     correction.Client
	decisions  *decisionlog.Store
	enabled    bool
	maxRetries int
	timeout    time.Duration
}

// New creates a correction pipeline. maxRetries is the number of additional
// attempts after the first failed one (default policy 1, so two correction
// calls total); timeout bounds each provider round-trip.
func New(schemas types.SchemaStore, validator types.BodyValidator, client correction.Client,
	decisions *decisionlog.Store, enabled bool, maxRetries int, timeout time.Duration) *Pipeline {
	return &Pipeline{
		schemas:    schemas,
		validator:  validator,
		client:     client,
		decisions:  decisions,
		enabled:    enabled,
		maxRetries: maxRetries,
		timeout:    timeout,
	}
}

// Run takes an inbound request through the state machine to exactly one
// terminal outcome. On rejection exactly one decision record is written for
// the endpoint key.
func (p *Pipeline) Run(ctx context.Context, key types.EndpointKey, body types.Value) Result {
	requestID := internal.GetRequestID(ctx)

	entry, known := p.schemas.Lookup(key)
	if !known {
		log.Printf("📨[%s] No schema for %s, forwarding unchanged", requestID, key)
		requestsTotal.WithLabelValues(OutcomeForwardedUnknownSchema.String()).Inc()
		return Result{Outcome: OutcomeForwardedUnknownSchema, Payload: body}
	}

	diff := p.validator.Validate(entry, body)
	if diff.Empty() {
		log.Printf("✅[%s] Body valid for %s", requestID, key)
		requestsTotal.WithLabelValues(OutcomeForwardedValid.String()).Inc()
		return Result{Outcome: OutcomeForwardedValid, Payload: body}
	}

	log.Printf("❌[%s] Validation failed for %s (missing: %v, unexpected: %v, mismatched: %d)",
		requestID, key, diff.Missing, diff.Unexpected, len(diff.Mismatched))

	if !p.enabled || p.client == nil {
		// Correction disabled: observe-only mode, the backend stays the
		// authority on invalid bodies
		log.Printf("🔇[%s] Correction disabled, forwarding %s uncorrected", requestID, key)
		requestsTotal.WithLabelValues(OutcomeForwardedUncorrected.String()).Inc()
		return Result{Outcome: OutcomeForwardedUncorrected, Payload: body, LastDiff: diff}
	}

	payload := body
	attempts := 0

	for {
		if ctx.Err() != nil {
			log.Printf("🚪[%s] Client gone, abandoning correction of %s", requestID, key)
			requestsTotal.WithLabelValues(OutcomeAbandoned.String()).Inc()
			return Result{Outcome: OutcomeAbandoned, Attempts: attempts, LastDiff: diff}
		}

		// Correcting: one bounded provider round-trip
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		candidate, err := p.client.Propose(attemptCtx, key, payload, diff)
		cancel()
		correctionDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				// The inbound request died, not the provider
				log.Printf("🚪[%s] Client gone during correction of %s", requestID, key)
				requestsTotal.WithLabelValues(OutcomeAbandoned.String()).Inc()
				return Result{Outcome: OutcomeAbandoned, Attempts: attempts + 1, LastDiff: diff}
			}

			kind := correction.KindOf(err)
			correctionAttempts.WithLabelValues(kind.String()).Inc()
			attempts++
			log.Printf("⚠️[%s] Correction attempt %d failed for %s: %v", requestID, attempts, key, err)

			if attempts > p.maxRetries {
				return p.reject(key, diff, attempts,
					fmt.Sprintf("correction provider failed after %d attempts (%s)", attempts, kind))
			}
			continue // same diff, next attempt
		}

		correctionAttempts.WithLabelValues("success").Inc()

		// Revalidating: the candidate may have introduced different defects
		payload = candidate
		diff = p.validator.Validate(entry, payload)
		if diff.Empty() {
			log.Printf("✅[%s] Correction converged for %s after %d retries", requestID, key, attempts)
			requestsTotal.WithLabelValues(OutcomeForwardedCorrected.String()).Inc()
			return Result{Outcome: OutcomeForwardedCorrected, Payload: payload, Attempts: attempts}
		}

		attempts++
		log.Printf("🔄[%s] Candidate for %s still invalid (missing: %v, unexpected: %v)",
			requestID, key, diff.Missing, diff.Unexpected)

		if attempts > p.maxRetries {
			return p.reject(key, diff, attempts,
				fmt.Sprintf("correction did not converge after %d attempts", attempts))
		}
	}
}

// reject builds the decision record for a terminal rejection, writes it,
// and returns the rejected result. The cause enumerates the last diff's
// missing paths before its unexpected paths, comma-joined; that exact text
// is what the dashboard displays.
func (p *Pipeline) reject(key types.EndpointKey, diff types.ValidationDiff, attempts int, description string) Result {
	record := decisionlog.DecisionRecord{
		StatusCode: 400,
		Error: decisionlog.ErrorDetail{
			Message:     "Bad Request",
			Description: description,
			Cause:       diff.Enumerate(),
		},
		Method: key.Method,
	}

	if p.decisions != nil {
		if err := p.decisions.Record(key, record); err != nil {
			log.Printf("❌ Failed to persist decision record for %s: %v", key, err)
		}
	}

	requestsTotal.WithLabelValues(OutcomeRejected.String()).Inc()
	return Result{
		Outcome:  OutcomeRejected,
		Record:   &record,
		Attempts: attempts,
		LastDiff: diff,
	}
}
