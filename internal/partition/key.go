// Package partition centralizes partition-key derivation and the on-disk
// path encoding shared by the writer, reader, and compaction pipeline.
package partition

import (
	"fmt"
	"time"

	"github.com/cedricziel/errata/pkg/types"
	"github.com/google/uuid"
)

// Key is the 4-tuple identifying one partition. Every event record belongs
// to exactly one partition, determined purely by its own column values.
type Key struct {
	OrganizationID string
	ProjectID      string
	EventType      string
	Date           string // UTC calendar date, YYYY-MM-DD
}

// Normalize fills the mandatory columns of a record in place and returns it.
// Missing partition-key columns become the "unknown" sentinel, a missing
// event_id is generated, and a missing timestamp becomes the ingestion time.
// The Writer and every component deriving partition paths apply this
// identically; it is part of the partitioning contract.
func Normalize(r types.EventRecord, now time.Time) types.EventRecord {
	if r.EventID() == "" {
		r[types.ColEventID] = uuid.New().String()
	}
	if r.Timestamp() == 0 {
		r[types.ColTimestamp] = now.UnixMilli()
	}
	for _, col := range []string{types.ColOrganizationID, types.ColProjectID, types.ColEventType} {
		if r.String(col) == "" {
			r[col] = types.UnknownValue
		}
	}
	return r
}

// KeyFor derives the partition key from a normalized record.
func KeyFor(r types.EventRecord) Key {
	return Key{
		OrganizationID: r.OrganizationID(),
		ProjectID:      r.ProjectID(),
		EventType:      string(r.Type()),
		Date:           DateOf(r.Timestamp()),
	}
}

// DateOf returns the UTC calendar date of an epoch-millisecond timestamp.
func DateOf(timestampMS int64) string {
	return time.UnixMilli(timestampMS).UTC().Format("2006-01-02")
}

// Validate checks that every component of the key is populated, safe to
// embed in a storage path, and that the date is a well-formed calendar
// date. Key components become path segments verbatim, so anything outside
// the safe charset (or a dot-only component) would escape the partition
// hierarchy or break path round-tripping.
func (k Key) Validate() error {
	if k.OrganizationID == "" || k.ProjectID == "" || k.EventType == "" || k.Date == "" {
		return fmt.Errorf("partition: incomplete key %+v", k)
	}
	for _, component := range []string{k.OrganizationID, k.ProjectID, k.EventType} {
		if !validComponent(component) {
			return fmt.Errorf("partition: unsafe key component %q", component)
		}
	}
	if _, err := time.Parse("2006-01-02", k.Date); err != nil {
		return fmt.Errorf("partition: invalid date %q: %w", k.Date, err)
	}
	return nil
}

// validComponent reports whether s can serve as a single path segment:
// letters, digits, '-', '_', '.', with at least one non-dot character.
func validComponent(s string) bool {
	dots := 0
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		case c == '.':
			dots++
		default:
			return false
		}
	}
	return dots < len(s)
}

// String returns the directory path for the key, without trailing separator.
func (k Key) String() string {
	return k.Path()
}
