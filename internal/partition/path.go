package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// On-disk layout constants. The hierarchy is bit-compatible with existing
// data, so none of these may change.
const (
	orgSegment     = "organization_id="
	projectSegment = "project_id="
	typeSegment    = "event_type="
	dateSegment    = "dt="

	// RawFilePrefix marks single-write-batch output files.
	RawFilePrefix = "events_"

	// BlockFilePrefix marks compacted block files.
	BlockFilePrefix = "block_"

	// FileExt is the columnar file extension.
	FileExt = ".col"
)

// Path returns the partition directory path encoding the key in fixed order:
// organization_id=…/project_id=…/event_type=…/dt=…
func (k Key) Path() string {
	return orgSegment + k.OrganizationID + "/" +
		projectSegment + k.ProjectID + "/" +
		typeSegment + k.EventType + "/" +
		dateSegment + k.Date
}

// ParsePath parses a partition directory path (or a file path inside one)
// back into a Key. It is the inverse of Path.
func ParsePath(path string) (Key, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 4 {
		return Key{}, fmt.Errorf("partition: path %q has %d segments, want at least 4", path, len(segments))
	}

	var k Key
	var ok bool
	if k.OrganizationID, ok = strings.CutPrefix(segments[0], orgSegment); !ok {
		return Key{}, fmt.Errorf("partition: path %q: segment %q is not an organization segment", path, segments[0])
	}
	if k.ProjectID, ok = strings.CutPrefix(segments[1], projectSegment); !ok {
		return Key{}, fmt.Errorf("partition: path %q: segment %q is not a project segment", path, segments[1])
	}
	if k.EventType, ok = strings.CutPrefix(segments[2], typeSegment); !ok {
		return Key{}, fmt.Errorf("partition: path %q: segment %q is not an event type segment", path, segments[2])
	}
	if k.Date, ok = strings.CutPrefix(segments[3], dateSegment); !ok {
		return Key{}, fmt.Errorf("partition: path %q: segment %q is not a date segment", path, segments[3])
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Prefix builds the longest literal path prefix implied by possibly-partial
// selectors, stopping at the first omitted field. An omitted field means
// "all values of that field"; callers filter the remainder after parsing.
func Prefix(orgID, projectID, eventType, date string) string {
	var b strings.Builder
	if orgID == "" {
		return ""
	}
	b.WriteString(orgSegment + orgID + "/")
	if projectID == "" {
		return b.String()
	}
	b.WriteString(projectSegment + projectID + "/")
	if eventType == "" {
		return b.String()
	}
	b.WriteString(typeSegment + eventType + "/")
	if date == "" {
		return b.String()
	}
	b.WriteString(dateSegment + date + "/")
	return b.String()
}

// NewRawFileName returns a fresh raw file name: events_<HHMMSS>_<suffix>.col.
// The wall-clock component plus the opaque suffix keeps concurrent writers
// collision-free; filename ordering carries no event-ordering meaning.
func NewRawFileName(now time.Time) string {
	return fmt.Sprintf("%s%s_%s%s", RawFilePrefix, now.UTC().Format("150405"), uuid.New().String()[:8], FileExt)
}

// NewBlockFileName returns a fresh compacted block file name: block_<suffix>.col.
func NewBlockFileName() string {
	return fmt.Sprintf("%s%s%s", BlockFilePrefix, uuid.New().String()[:8], FileExt)
}

// IsRawFile reports whether a file name (not path) is a raw write-batch file.
func IsRawFile(name string) bool {
	return strings.HasPrefix(name, RawFilePrefix) && strings.HasSuffix(name, FileExt)
}

// IsBlockFile reports whether a file name (not path) is a compacted block file.
func IsBlockFile(name string) bool {
	return strings.HasPrefix(name, BlockFilePrefix) && strings.HasSuffix(name, FileExt)
}

// BaseName returns the final segment of an object path.
func BaseName(objectPath string) string {
	if i := strings.LastIndex(objectPath, "/"); i >= 0 {
		return objectPath[i+1:]
	}
	return objectPath
}

// DirOf returns the partition directory portion of a file object path.
func DirOf(objectPath string) string {
	if i := strings.LastIndex(objectPath, "/"); i >= 0 {
		return objectPath[:i]
	}
	return ""
}

// DaysBetween enumerates each UTC calendar day from fromMS to toMS inclusive,
// formatted YYYY-MM-DD. Enumerating days individually keeps file listing
// bounded and enables per-day skip on multi-day ranges.
func DaysBetween(fromMS, toMS int64) []string {
	from := time.UnixMilli(fromMS).UTC().Truncate(24 * time.Hour)
	to := time.UnixMilli(toMS).UTC().Truncate(24 * time.Hour)
	var days []string
	for d := from; !d.After(to); d = d.Add(24 * time.Hour) {
		days = append(days, d.Format("2006-01-02"))
	}
	return days
}
