package query

import (
	"sort"
	"strings"

	"github.com/cedricziel/errata/pkg/types"
)

// facetLabels maps well-known attribute names to their display labels.
// Anything else gets a generated label.
var facetLabels = map[string]string{
	types.ColEventType:    "Event Type",
	types.ColSeverity:     "Severity",
	"environment":         "Environment",
	"release":             "Release",
	"transaction":         "Transaction",
	"device.model":        "Device Model",
	"device.os_name":      "OS Name",
	"device.os_version":   "OS Version",
	"device.manufacturer": "Manufacturer",
	"app.version":         "App Version",
	"app.build":           "App Build",
	"span.op":             "Span Operation",
	"span.status":         "Span Status",
	"user.id":             "User",
	"user.geo_country":    "Country",
	"user.locale":         "Locale",
}

// FacetCounter accumulates per-attribute value occurrence counts over a
// scan and renders them as facets.
type FacetCounter struct {
	order  []string
	counts map[string]map[string]int64
}

// NewFacetCounter creates a counter for the given attributes; Facets
// returns them in this order.
func NewFacetCounter(attributes []string) *FacetCounter {
	c := &FacetCounter{
		order:  attributes,
		counts: make(map[string]map[string]int64, len(attributes)),
	}
	for _, attr := range attributes {
		c.counts[attr] = make(map[string]int64)
	}
	return c
}

// Observe counts the record's value for every tracked attribute. Null and
// empty values are skipped.
func (c *FacetCounter) Observe(r types.EventRecord) {
	for attr, values := range c.counts {
		v, ok := r[attr]
		if !ok || v == nil {
			continue
		}
		s := stringify(v)
		if s == "" {
			continue
		}
		values[s]++
	}
}

// Facets renders the accumulated counts. Values sort by descending count,
// ties by value; a value equal to an active filter is marked selected.
// Attributes that never saw a value are omitted.
func (c *FacetCounter) Facets(activeFilters map[string]string) []types.Facet {
	var facets []types.Facet
	for _, attr := range c.order {
		values := c.counts[attr]
		if len(values) == 0 {
			continue
		}

		fv := make([]types.FacetValue, 0, len(values))
		for value, count := range values {
			fv = append(fv, types.FacetValue{
				Value:    value,
				Count:    count,
				Selected: activeFilters[attr] == value,
			})
		}
		sort.Slice(fv, func(i, j int) bool {
			if fv[i].Count != fv[j].Count {
				return fv[i].Count > fv[j].Count
			}
			return fv[i].Value < fv[j].Value
		})

		facets = append(facets, types.Facet{
			Attribute: attr,
			Label:     LabelFor(attr),
			Values:    fv,
		})
	}
	return facets
}

// LabelFor returns the display label of an attribute.
func LabelFor(attribute string) string {
	if label, ok := facetLabels[attribute]; ok {
		return label
	}
	words := strings.FieldsFunc(attribute, func(r rune) bool {
		return r == '.' || r == '_'
	})
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
