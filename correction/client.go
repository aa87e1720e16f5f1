package correction

import (
	"context"
	"errors"
	"fmt"

	"schema-proxy/types"
)

// FailureKind classifies how a correction attempt failed. Provider-side
// problems are always converted into one of these, never surfaced as raw
// transport faults.
type FailureKind int

const (
	// ProviderUnreachable means the provider could not be contacted at all
	ProviderUnreachable FailureKind = iota
	// ProviderTimeout means the caller-supplied deadline expired mid-attempt
	ProviderTimeout
	// ProviderRejected means the provider answered with a non-success status
	ProviderRejected
	// MalformedResponse means the provider answered but the reply could not
	// be parsed into a corrected body
	MalformedResponse
)

// String returns the string representation of a failure kind
func (k FailureKind) String() string {
	switch k {
	case ProviderUnreachable:
		return "provider_unreachable"
	case ProviderTimeout:
		return "provider_timeout"
	case ProviderRejected:
		return "provider_rejected"
	case MalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Failure is a typed correction error carrying its classification
type Failure struct {
	Kind FailureKind
	Err  error
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

// Unwrap exposes the underlying error for errors.Is/As chains
func (f *Failure) Unwrap() error {
	return f.Err
}

// newFailure wraps an underlying error with its classification
func newFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from an error returned by a Client.
// Unclassified errors count as unreachable: the caller got nothing usable.
func KindOf(err error) FailureKind {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return ProviderUnreachable
}

// Client proposes corrected payloads for bodies that failed validation.
// Implementations are stateless adapters over an LLM provider: they never
// touch the schema store or the decision log, and they honor the caller's
// context deadline as the per-attempt timeout.
type Client interface {
	// Propose returns a candidate corrected payload for an invalid body,
	// or a *Failure describing why no candidate could be produced
	Propose(ctx context.Context, key types.EndpointKey, body types.Value, diff types.ValidationDiff) (types.Value, error)
}
