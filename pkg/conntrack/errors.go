// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

import "fmt"

// ErrorKind classifies a TrackerError the way the original collector's
// CollectorException carried a plain message: here callers that need to
// distinguish failure classes can do so with errors.As instead of matching
// on message text.
type ErrorKind uint8

const (
	// KindInvalidArgument covers a negative or over-width timestamp, or an
	// address of unknown family (spec.md §7, "Input validation").
	KindInvalidArgument ErrorKind = iota
	// KindConfigRejected covers an IPNet whose family doesn't match the
	// map it was declared under, a prefix length exceeding the address
	// width, or any other malformed configuration replacement (spec.md §7,
	// "Configuration replacement"). Rejected
	// configuration is never partially applied.
	KindConfigRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConfigRejected:
		return "config_rejected"
	default:
		return "unknown"
	}
}

// TrackerError is the error type returned by every tracker operation that
// can fail validation. The store is never mutated when a TrackerError is
// returned.
type TrackerError struct {
	Kind ErrorKind
	msg  string
}

func newTrackerError(kind ErrorKind, format string, args ...interface{}) *TrackerError {
	return &TrackerError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}
