/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package reportcore // import "github.com/elastic/otel-profiling-report/reportcore"

import "errors"

// Kind classifies an error the report engine returns, per spec.md
// section 7. The CLI prefixes its error log line with the kind. Output
// errors can occur after part of a report was written; Configuration,
// Input and Symbolization errors occur before any report output.
type Kind int

const (
	// KindConfiguration covers bad option values, unknown sort keys, a
	// branch key used without -b, or off-CPU mode declared without a
	// sched-switch attribute present.
	KindConfiguration Kind = iota
	// KindInput covers a missing/unreadable record file or a decode
	// failure on a record.
	KindInput
	// KindSymbolization covers an unreadable kernel symbols file or bad
	// symfs directory.
	KindSymbolization
	// KindOutput covers report-file open/write/flush failures.
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInput:
		return "input"
	case KindSymbolization:
		return "symbolization"
	case KindOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind, so callers can branch on
// spec.md's error taxonomy without string matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with kind. Returns nil if err is nil.
func NewError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
