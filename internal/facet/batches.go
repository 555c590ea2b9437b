// Package facet owns the deferred facet machinery: the static batch
// configuration, the dispatcher that fans batches out as async tasks, and
// the worker that computes one batch's facet counts.
package facet

import "github.com/cedricziel/errata/pkg/types"

// Batch is one named, non-overlapping group of deferred facet attributes.
// All batches of a query run independently; a failed batch never blocks
// its siblings.
type Batch struct {
	ID         string
	Attributes []string
}

// batches is the static batch table. Order here is the dispatch order.
var batches = []Batch{
	{ID: "device", Attributes: []string{
		"device.model", "device.os_name", "device.os_version", "device.manufacturer",
	}},
	{ID: "app", Attributes: []string{
		"app.version", "app.build", "release", "environment",
	}},
	{ID: "trace", Attributes: []string{
		"span.op", "span.status", "transaction",
	}},
	{ID: "user", Attributes: []string{
		"user.id", "user.geo_country", "user.locale",
	}},
}

// priorityAttributes are the facets computed synchronously during the main
// query scan, not deferred to any batch.
var priorityAttributes = []string{
	types.ColEventType,
	types.ColSeverity,
	"environment",
}

// Batches returns a copy of the static batch table.
func Batches() []Batch {
	out := make([]Batch, len(batches))
	copy(out, batches)
	return out
}

// BatchIDs returns every batch id in dispatch order.
func BatchIDs() []string {
	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	return ids
}

// AttributesFor returns a batch's attribute list, or nil for an unknown id.
func AttributesFor(batchID string) []string {
	for _, b := range batches {
		if b.ID == batchID {
			out := make([]string, len(b.Attributes))
			copy(out, b.Attributes)
			return out
		}
	}
	return nil
}

// DeferredAttributes returns every deferred attribute across all batches.
func DeferredAttributes() []string {
	var attrs []string
	for _, b := range batches {
		attrs = append(attrs, b.Attributes...)
	}
	return attrs
}

// PriorityAttributes returns the synchronously computed facet attributes.
func PriorityAttributes() []string {
	out := make([]string, len(priorityAttributes))
	copy(out, priorityAttributes)
	return out
}
