// Package query implements the read path above the columnar store: the
// filter model shared by the executor and facet workers, synchronous facet
// counting, and the asynchronous query orchestrator.
package query

import (
	"fmt"

	"github.com/cedricziel/errata/internal/store"
	"github.com/cedricziel/errata/pkg/types"
)

// Filter is the internal representation of a query's active constraints.
// Partition-level fields prune which files are scanned; Attributes and the
// time bounds are evaluated per record.
type Filter struct {
	OrganizationID string
	ProjectID      string
	EventType      types.EventType
	From           int64
	To             int64
	Attributes     map[string]string
}

// FilterFrom builds the filter for a request.
func FilterFrom(req types.QueryRequest) Filter {
	return Filter{
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
		EventType:      req.EventType,
		From:           req.From,
		To:             req.To,
		Attributes:     req.Attributes,
	}
}

// Selector translates the filter into a storage scan selector projecting
// the given columns. The filter's own attribute columns are always added
// so Matches can evaluate them on projected records; an equality filter on
// event_id or trace_id doubles as a file-level bloom probe.
func (f Filter) Selector(columns []string) store.Selector {
	sel := store.Selector{
		OrganizationID: f.OrganizationID,
		ProjectID:      f.ProjectID,
		EventType:      f.EventType,
		From:           f.From,
		To:             f.To,
	}

	if len(columns) > 0 {
		seen := make(map[string]bool, len(columns)+len(f.Attributes)+1)
		add := func(col string) {
			if col != "" && !seen[col] {
				seen[col] = true
				sel.Columns = append(sel.Columns, col)
			}
		}
		for _, col := range columns {
			add(col)
		}
		add(types.ColTimestamp)
		for col := range f.Attributes {
			add(col)
		}
	}

	if probe, ok := f.Attributes[types.ColEventID]; ok {
		sel.ValueProbe = probe
	} else if probe, ok := f.Attributes[types.ColTraceID]; ok {
		sel.ValueProbe = probe
	}
	return sel
}

// Matches evaluates the record-level constraints: the millisecond time
// bounds and every attribute equality filter. Attribute values compare by
// string form, so numeric columns round-trip through JSON decoding.
func (f Filter) Matches(r types.EventRecord) bool {
	ts := r.Timestamp()
	if f.From > 0 && ts < f.From {
		return false
	}
	if f.To > 0 && ts > f.To {
		return false
	}

	for col, want := range f.Attributes {
		v, ok := r[col]
		if !ok || v == nil {
			return false
		}
		if stringify(v) != want {
			return false
		}
	}
	return true
}

// stringify renders a record value the way filters compare it. JSON
// decoding yields float64 for all numbers, so integral floats print
// without the fraction.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
