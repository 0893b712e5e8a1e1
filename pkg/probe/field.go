package probe

import "encoding/json"

// Reason explains why a field has no value. The distinction is not
// part of the serialized record (unknown is null either way) but is
// kept so callers that want richer diagnostics can ask the field.
type Reason uint8

const (
	// ReasonNone: the field holds an observed value.
	ReasonNone Reason = iota

	// ReasonUnset: nothing has been recorded yet, or the query
	// returned an empty result for this field.
	ReasonUnset

	// ReasonQueryFailed: the query that would have populated the
	// field failed.
	ReasonQueryFailed

	// ReasonNotApplicable: the feature is absent from the target or
	// the target class does not expose it.
	ReasonNotApplicable
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnset:
		return "unset"
	case ReasonQueryFailed:
		return "query-failed"
	case ReasonNotApplicable:
		return "not-applicable"
	}
	return "unknown"
}

// Field is one optional record value. The zero value is unknown with
// ReasonUnset, so a Record starts out all-unknown and only confirmed
// observations flip fields to known. Absence of data is therefore
// always distinguishable from a confirmed negative.
type Field[T any] struct {
	val    T
	known  bool
	reason Reason
}

// Known wraps an observed value.
func Known[T any](v T) Field[T] {
	return Field[T]{val: v, known: true}
}

// Unknown creates an absent field carrying the given reason.
func Unknown[T any](reason Reason) Field[T] {
	return Field[T]{reason: reason}
}

// Value returns the observed value and whether one is present.
func (f Field[T]) Value() (T, bool) {
	return f.val, f.known
}

// IsKnown reports whether the field holds an observed value.
func (f Field[T]) IsKnown() bool { return f.known }

// Reason returns why the field is unknown; ReasonNone when known.
func (f Field[T]) Reason() Reason {
	if f.known {
		return ReasonNone
	}
	if f.reason == ReasonNone {
		return ReasonUnset
	}
	return f.reason
}

// MarshalJSON writes the observed value, or null when unknown.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.known {
		return []byte("null"), nil
	}
	return json.Marshal(f.val)
}
