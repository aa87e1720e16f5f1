package types

import (
	"fmt"
	"sort"
	"strings"
)

// BodyValidator interface for request body validation
// Extracted from the correction pipeline to enable better testing and reusability
type BodyValidator interface {
	// Validate compares a body against an endpoint schema and returns the diff
	Validate(entry *SchemaEntry, body Value) ValidationDiff
}

// TypeMismatch records a path whose runtime kind differs from the schema type
type TypeMismatch struct {
	Path     string
	Expected FieldType
	Actual   Kind
}

// ValidationDiff represents how a payload deviates from its schema.
// All three sets empty means the payload is valid. Slices are sorted so
// identical diffs always render identically.
type ValidationDiff struct {
	Missing    []string
	Unexpected []string
	Mismatched []TypeMismatch
}

// Empty reports whether the body conforms to the schema
func (d ValidationDiff) Empty() bool {
	return len(d.Missing) == 0 && len(d.Unexpected) == 0 && len(d.Mismatched) == 0
}

// Enumerate renders the diff as the cause string the decision log exposes:
// missing paths first, then unexpected paths, each a literal dotted path,
// then type mismatches, comma-joined. The ordering is part of the dashboard
// contract and must stay byte-stable for identical diffs.
func (d ValidationDiff) Enumerate() string {
	parts := make([]string, 0, len(d.Missing)+len(d.Unexpected)+len(d.Mismatched))
	parts = append(parts, d.Missing...)
	parts = append(parts, d.Unexpected...)
	for _, m := range d.Mismatched {
		parts = append(parts, fmt.Sprintf("%s (expected %s, got %s)", m.Path, m.Expected, m.Actual))
	}
	return strings.Join(parts, ", ")
}

// StandardBodyValidator is the default implementation of BodyValidator
type StandardBodyValidator struct{}

// NewStandardBodyValidator creates a new StandardBodyValidator
func NewStandardBodyValidator() *StandardBodyValidator {
	return &StandardBodyValidator{}
}

// Validate walks the body's flattened leaf paths and the schema's declared
// paths in parallel. Pure function: no I/O, no mutation of the body,
// deterministic for identical inputs.
func (v *StandardBodyValidator) Validate(entry *SchemaEntry, body Value) ValidationDiff {
	diff := ValidationDiff{
		Missing:    []string{},
		Unexpected: []string{},
		Mismatched: []TypeMismatch{},
	}
	if entry == nil {
		return diff
	}

	leaves := body.Flatten()

	// Required paths absent from the body, and declared paths with the
	// wrong runtime type
	for path, desc := range entry.Fields {
		kind, present := leaves[path]
		if !present {
			if desc.Required {
				diff.Missing = append(diff.Missing, path)
			}
			continue
		}
		if !desc.Type.Matches(kind) {
			diff.Mismatched = append(diff.Mismatched, TypeMismatch{
				Path:     path,
				Expected: desc.Type,
				Actual:   kind,
			})
		}
	}

	// Body paths the schema never declared
	for path := range leaves {
		if _, declared := entry.Fields[path]; !declared {
			diff.Unexpected = append(diff.Unexpected, path)
		}
	}

	sort.Strings(diff.Missing)
	sort.Strings(diff.Unexpected)
	sort.Slice(diff.Mismatched, func(i, j int) bool {
		return diff.Mismatched[i].Path < diff.Mismatched[j].Path
	})

	return diff
}
