package couchkit

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for a 404 response on an operation that has
	// no null-if-404 fallback (database absent, design doc absent, ...).
	ErrNotFound = errors.New("not_found")
	// ErrConflict is returned for a 409 response: the revision supplied
	// no longer matches the document stored on the server.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized is returned for a 401 response.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrReplicatorAbsent is returned when the _replicator database could
	// not be found or created.
	ErrReplicatorAbsent = errors.New("replicator_absent")
	// ErrCancelled names caller cancellation as distinct from a transport
	// or protocol error. No function in this package returns it: a stream
	// whose context is cancelled closes its channel without an error
	// event, and the change feed subscriber then stops without
	// resubscribing.
	ErrCancelled = errors.New("cancelled")
	// ErrViewResult marks a row or top-level error surfaced inside an
	// otherwise-successful view/all_docs HTTP response.
	ErrViewResult = errors.New("view_result_error")
	// ErrMangoResult marks a server-reported error/reason pair in a
	// _find response.
	ErrMangoResult = errors.New("mango_result_error")
	// ErrDeserialization marks a row or document that failed to
	// materialize into its requested Go type; fatal to the stream.
	ErrDeserialization = errors.New("deserialization_error")
)

// HTTPError wraps a non-2xx, non-well-known status code together with a
// bounded snippet of the response body, per the Response Gate contract.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ViewResultError carries a server-reported error encountered while
// streaming a view or _all_docs response. Key is nil when the error was
// reported at the top level rather than against a specific row.
type ViewResultError struct {
	Key     interface{}
	Message string
}

func (e *ViewResultError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("%s: %s", ErrViewResult, e.Message)
	}
	return fmt.Sprintf("%s: %s (key=%v)", ErrViewResult, e.Message, e.Key)
}

func (e *ViewResultError) Unwrap() error { return ErrViewResult }

// MangoResultError carries a server-reported error/reason pair from a
// Mango _find response.
type MangoResultError struct {
	ErrorCode string
	Reason    string
}

func (e *MangoResultError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMangoResult, e.ErrorCode, e.Reason)
}

func (e *MangoResultError) Unwrap() error { return ErrMangoResult }

// DeserializationError names the row/document id that failed to decode,
// per spec.md's "deserialization failures carry the row id" rule.
type DeserializationError struct {
	RowID string
	Err   error
}

func (e *DeserializationError) Error() string {
	if e.RowID == "" {
		return fmt.Sprintf("%s: %s", ErrDeserialization, e.Err)
	}
	return fmt.Sprintf("%s: row %q: %s", ErrDeserialization, e.RowID, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDeserialization) match, alongside the
// wrapped cause reached through Unwrap.
func (e *DeserializationError) Is(target error) bool { return target == ErrDeserialization }
