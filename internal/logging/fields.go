package logging

import "log/slog"

// Common field names for consistent logging across pipeline components.
const (
	FieldEventID   = "event_id"
	FieldStatus    = "status"
	FieldErrorKind = "error_kind"
	FieldAttempts  = "attempts"
	FieldError     = "error"
	FieldCursor    = "cursor"
	FieldSubject   = "subject"
)

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// Status returns a slog attribute for a masking status.
func Status(status string) slog.Attr {
	return slog.String(FieldStatus, status)
}

// ErrorKind returns a slog attribute for a failure classification.
func ErrorKind(kind string) slog.Attr {
	return slog.String(FieldErrorKind, kind)
}

// Attempts returns a slog attribute for a retry attempt count.
func Attempts(n int) slog.Attr {
	return slog.Int(FieldAttempts, n)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Cursor returns a slog attribute for a backfill cursor position.
func Cursor(key string) slog.Attr {
	return slog.String(FieldCursor, key)
}

// Subject returns a slog attribute for a messaging subject.
func Subject(s string) slog.Attr {
	return slog.String(FieldSubject, s)
}
