package partition

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// identifier generates path-safe id strings for key components.
func identifier() gopter.Gen {
	return gen.RegexMatch(`[a-z0-9][a-z0-9_-]{0,15}`)
}

// TestProperty_PathRoundTrip validates construct->parse->construct idempotence
// for the partition path encoding.
func TestProperty_PathRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ParsePath(k.Path()) == k", prop.ForAll(
		func(org, project, eventType string, dayOffset int) bool {
			date := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).
				AddDate(0, 0, dayOffset).Format("2006-01-02")
			k := Key{
				OrganizationID: org,
				ProjectID:      project,
				EventType:      eventType,
				Date:           date,
			}
			parsed, err := ParsePath(k.Path())
			if err != nil {
				return false
			}
			return parsed == k && parsed.Path() == k.Path()
		},
		identifier(),
		identifier(),
		identifier(),
		gen.IntRange(0, 5000),
	))

	properties.Property("file paths parse to the owning partition key", prop.ForAll(
		func(org string, dayOffset int) bool {
			date := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).
				AddDate(0, 0, dayOffset).Format("2006-01-02")
			k := Key{OrganizationID: org, ProjectID: "p", EventType: "span", Date: date}
			filePath := k.Path() + "/" + NewRawFileName(time.Now())
			parsed, err := ParsePath(filePath)
			return err == nil && parsed == k
		},
		identifier(),
		gen.IntRange(0, 5000),
	))

	properties.TestingRun(t)
}
