package domain

import "time"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// LogEntry is a transient toast.
type LogEntry struct {
	ID        int64
	Message   string
	Severity  Severity
	CreatedAt time.Time
}
