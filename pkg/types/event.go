// Package types provides core data types for Errata.
package types

// EventType categorizes an event record.
type EventType string

const (
	EventTypeSpan   EventType = "span"
	EventTypeLog    EventType = "log"
	EventTypeMetric EventType = "metric"
	EventTypeError  EventType = "error"
	EventTypeCrash  EventType = "crash"
)

// EventTypes lists every valid event type in a stable order.
var EventTypes = []EventType{EventTypeSpan, EventTypeLog, EventTypeMetric, EventTypeError, EventTypeCrash}

// IsValid reports whether t is one of the known event types.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeSpan, EventTypeLog, EventTypeMetric, EventTypeError, EventTypeCrash:
		return true
	}
	return false
}

// Mandatory column names. Every record carries these after normalization.
const (
	ColEventID        = "event_id"
	ColTimestamp      = "timestamp"
	ColOrganizationID = "organization_id"
	ColProjectID      = "project_id"
	ColEventType      = "event_type"
)

// Common optional columns.
const (
	ColMessage       = "message"
	ColSeverity      = "severity"
	ColExceptionType = "exception_type"
	ColMetricName    = "metric_name"
	ColMetricValue   = "metric_value"
	ColMetricUnit    = "metric_unit"
	ColTraceID       = "trace_id"
	ColSpanID        = "span_id"
	ColParentSpanID  = "parent_span_id"
	ColDurationMS    = "duration_ms"
	ColTags          = "tags"
	ColContext       = "context"
)

// UnknownValue is the sentinel substituted for missing partition-key columns.
// It is part of the partitioning contract: the Writer and every component
// deriving partition paths must apply it identically.
const UnknownValue = "unknown"

// EventRecord is a flat, wide mapping from column name to value.
// Values are scalars or JSON-ish nested maps (tags, context).
type EventRecord map[string]interface{}

// Clone returns a shallow copy of the record.
func (r EventRecord) Clone() EventRecord {
	out := make(EventRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the named column coerced to a string.
// Missing, nil, or non-string values yield "".
func (r EventRecord) String(col string) string {
	if v, ok := r[col]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Int64 returns the named column coerced to an int64. JSON decoding
// delivers numbers as float64, so both representations are accepted.
func (r EventRecord) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// EventID returns the record's event_id column.
func (r EventRecord) EventID() string { return r.String(ColEventID) }

// Timestamp returns the record's timestamp column in epoch milliseconds.
func (r EventRecord) Timestamp() int64 { return r.Int64(ColTimestamp) }

// OrganizationID returns the record's organization_id column.
func (r EventRecord) OrganizationID() string { return r.String(ColOrganizationID) }

// ProjectID returns the record's project_id column.
func (r EventRecord) ProjectID() string { return r.String(ColProjectID) }

// Type returns the record's event_type column.
func (r EventRecord) Type() EventType { return EventType(r.String(ColEventType)) }
