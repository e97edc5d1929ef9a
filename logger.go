package couchkit

// Logger is the ambient logging seam. Within this package only Errorf is
// called, when a Reconciler's design-document PUT fails (a conflict
// included); Debugf is never called, and the change feed does not log
// its reconnects or backoff. A nil Logger passed to WithLogger
// falls back to noopLogger, matching the teacher's "logging is always
// present, never fatal" posture.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Errorf(string, ...interface{}) {}
