package store

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cedricziel/errata/internal/columnar"
	"github.com/cedricziel/errata/internal/partition"
	"github.com/cedricziel/errata/pkg/types"
)

func day(t *testing.T, s string) int64 {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad day %q: %v", s, err)
	}
	return d.UTC().Add(12 * time.Hour).UnixMilli()
}

func TestReader_OrganizationIsolation(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	ts := day(t, "2026-08-27")
	_, err := w.WriteAll(ctx, []types.EventRecord{
		event("org-a", "p1", types.EventTypeLog, ts),
		event("org-a", "p2", types.EventTypeLog, ts),
		event("org-b", "p1", types.EventTypeLog, ts),
	})
	assert.NoError(t, err)

	records, err := NewReader(store).Read(ctx, Selector{OrganizationID: "org-a"})
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "org-a", r.OrganizationID(),
			"selector (org=A) must never return another organization's record")
	}
}

func TestReader_OmittedFieldMeansAllValues(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	ts := day(t, "2026-08-27")
	_, err := w.WriteAll(ctx, []types.EventRecord{
		event("org-a", "p1", types.EventTypeLog, ts),
		event("org-a", "p1", types.EventTypeSpan, ts),
		event("org-a", "p2", types.EventTypeError, ts),
	})
	assert.NoError(t, err)

	records, err := NewReader(store).Read(ctx, Selector{OrganizationID: "org-a"})
	assert.NoError(t, err)

	seenTypes := map[string]bool{}
	for _, r := range records {
		seenTypes[string(r.Type())] = true
	}
	assert.Len(t, records, 3)
	assert.True(t, seenTypes["log"] && seenTypes["span"] && seenTypes["error"],
		"omitting event_type must return every stored type")
}

func TestReader_DateRangeEnumeratesDays(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	for _, d := range []string{"2026-08-25", "2026-08-26", "2026-08-27", "2026-08-28"} {
		_, err := w.Write(ctx, []types.EventRecord{
			event("org-a", "p1", types.EventTypeLog, day(t, d)),
		})
		assert.NoError(t, err)
	}

	records, err := NewReader(store).Read(ctx, Selector{
		OrganizationID: "org-a",
		ProjectID:      "p1",
		EventType:      types.EventTypeLog,
		From:           day(t, "2026-08-26"),
		To:             day(t, "2026-08-27"),
	})
	assert.NoError(t, err)
	assert.Len(t, records, 2)

	var dates []string
	for _, r := range records {
		dates = append(dates, time.UnixMilli(r.Timestamp()).UTC().Format("2006-01-02"))
	}
	sort.Strings(dates)
	assert.Equal(t, []string{"2026-08-26", "2026-08-27"}, dates)
}

func TestReader_NoMatchesIsEmptyNotError(t *testing.T) {
	store := newTestStore(t)
	r := NewReader(store)

	records, err := r.Read(context.Background(), Selector{OrganizationID: "nobody"})
	assert.NoError(t, err)
	assert.Empty(t, records)
}

func TestReader_ColumnProjection(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	rec := event("org-a", "p1", types.EventTypeLog, day(t, "2026-08-27"))
	rec[types.ColMessage] = "projected away"
	rec[types.ColSeverity] = "warn"
	_, err := w.Write(ctx, []types.EventRecord{rec})
	assert.NoError(t, err)

	records, err := NewReader(store).Read(ctx, Selector{
		OrganizationID: "org-a",
		Columns:        []string{types.ColSeverity, types.ColTimestamp},
	})
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "warn", records[0].String(types.ColSeverity))
	_, hasMessage := records[0][types.ColMessage]
	assert.False(t, hasMessage)
}

func TestReader_ValueProbeSkipsFiles(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	ts := day(t, "2026-08-27")
	withTrace := event("org-a", "p1", types.EventTypeSpan, ts)
	withTrace[types.ColTraceID] = "trace-wanted"
	_, err := w.Write(ctx, []types.EventRecord{withTrace})
	assert.NoError(t, err)
	_, err = w.Write(ctx, []types.EventRecord{event("org-a", "p1", types.EventTypeSpan, ts)})
	assert.NoError(t, err)

	records, err := NewReader(store).Read(ctx, Selector{
		OrganizationID: "org-a",
		ValueProbe:     "trace-wanted",
	})
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "trace-wanted", records[0].String(types.ColTraceID))
}

func TestReader_MidCompactionWindowCountsEventsOnce(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	ts := day(t, "2026-08-28")
	first := event("org-a", "p1", types.EventTypeLog, ts)
	second := event("org-a", "p1", types.EventTypeLog, ts+1)
	_, err := w.Write(ctx, []types.EventRecord{first})
	assert.NoError(t, err)
	_, err = w.Write(ctx, []types.EventRecord{second})
	assert.NoError(t, err)

	r := NewReader(store)
	stored, err := r.Read(ctx, Selector{OrganizationID: "org-a"})
	assert.NoError(t, err)
	assert.Len(t, stored, 2)

	// Compaction writes the block before deleting its source raws. Recreate
	// that intermediate layout: block and raws coexist, holding the same
	// two events.
	blockData, err := columnar.Encode(stored)
	assert.NoError(t, err)
	dir := partition.Key{
		OrganizationID: "org-a", ProjectID: "p1", EventType: "log", Date: "2026-08-28",
	}.Path()
	assert.NoError(t, store.Put(ctx, dir+"/"+partition.NewBlockFileName(), blockData))

	records, err := r.Read(ctx, Selector{OrganizationID: "org-a"})
	assert.NoError(t, err)
	assert.Len(t, records, 2, "block plus its source raws must not double-count")

	ids := map[string]bool{}
	for _, rec := range records {
		ids[rec.EventID()] = true
	}
	assert.Len(t, ids, 2)

	// Column projection still dedupes: event_id is consulted even when the
	// caller did not project it.
	projected, err := r.Read(ctx, Selector{
		OrganizationID: "org-a",
		Columns:        []string{types.ColTimestamp},
	})
	assert.NoError(t, err)
	assert.Len(t, projected, 2)
}

func TestReader_BlockPlusFreshRawKeepsBoth(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	ts := day(t, "2026-08-28")
	_, err := w.Write(ctx, []types.EventRecord{event("org-a", "p1", types.EventTypeLog, ts)})
	assert.NoError(t, err)

	r := NewReader(store)
	stored, err := r.Read(ctx, Selector{OrganizationID: "org-a"})
	assert.NoError(t, err)

	// Steady state after compaction: one block, then a fresh raw write with
	// a distinct event. The raw's event must not be mistaken for a duplicate.
	blockData, err := columnar.Encode(stored)
	assert.NoError(t, err)
	dir := partition.Key{
		OrganizationID: "org-a", ProjectID: "p1", EventType: "log", Date: "2026-08-28",
	}.Path()
	assert.NoError(t, store.Put(ctx, dir+"/"+partition.NewBlockFileName(), blockData))
	objects, err := store.List(ctx, dir+"/")
	assert.NoError(t, err)
	for _, obj := range objects {
		if partition.IsRawFile(partition.BaseName(obj)) {
			assert.NoError(t, store.Delete(ctx, obj))
		}
	}

	_, err = w.Write(ctx, []types.EventRecord{event("org-a", "p1", types.EventTypeLog, ts+5)})
	assert.NoError(t, err)

	records, err := r.Read(ctx, Selector{OrganizationID: "org-a"})
	assert.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestReader_ScanStopsEarly(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	ts := day(t, "2026-08-27")
	var batch []types.EventRecord
	for i := 0; i < 10; i++ {
		batch = append(batch, event("org-a", "p1", types.EventTypeLog, ts+int64(i)))
	}
	_, err := w.Write(ctx, batch)
	assert.NoError(t, err)

	seen := 0
	err = NewReader(store).Scan(ctx, Selector{OrganizationID: "org-a"}, func(types.EventRecord) error {
		seen++
		if seen == 3 {
			return ErrStop
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, seen)
}

func TestReader_Restartable(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store)
	ctx := context.Background()

	_, err := w.Write(ctx, []types.EventRecord{
		event("org-a", "p1", types.EventTypeLog, day(t, "2026-08-27")),
	})
	assert.NoError(t, err)

	r := NewReader(store)
	sel := Selector{OrganizationID: "org-a"}

	first, err := r.Read(ctx, sel)
	assert.NoError(t, err)
	second, err := r.Read(ctx, sel)
	assert.NoError(t, err)
	assert.Equal(t, len(first), len(second), "a fresh call re-scans identically")
}
