package columnar

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/pkg/types"
)

func sampleRecords(n int) []types.EventRecord {
	records := make([]types.EventRecord, n)
	for i := range records {
		records[i] = types.EventRecord{
			types.ColEventID:        fmt.Sprintf("evt-%d", i),
			types.ColTimestamp:      int64(1700000000000 + i),
			types.ColOrganizationID: "org-1",
			types.ColProjectID:      "proj-1",
			types.ColEventType:      "log",
			types.ColMessage:        fmt.Sprintf("message %d", i),
			types.ColSeverity:       "info",
		}
	}
	return records
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	records := sampleRecords(10)
	records[3][types.ColTraceID] = "trace-abc"
	records[3][types.ColTags] = map[string]interface{}{"region": "eu"}

	data, err := Encode(records)
	assert.NoError(t, err)

	decoded, err := Decode(data, nil)
	assert.NoError(t, err)
	assert.Len(t, decoded, 10)

	assert.Equal(t, "evt-3", decoded[3].EventID())
	assert.Equal(t, int64(1700000000003), decoded[3].Timestamp())
	assert.Equal(t, "trace-abc", decoded[3].String(types.ColTraceID))
	assert.Equal(t, "message 7", decoded[7].String(types.ColMessage))

	// Sparse column: rows without trace_id must not materialize it.
	_, hasTrace := decoded[0][types.ColTraceID]
	assert.False(t, hasTrace)

	tags, ok := decoded[3][types.ColTags].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "eu", tags["region"])
}

func TestEncode_EmptyBatch(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
	assert.Equal(t, errs.CodeEmptyBatch, errs.GetCode(err))
}

func TestDecode_Projection(t *testing.T) {
	data, err := Encode(sampleRecords(5))
	assert.NoError(t, err)

	decoded, err := Decode(data, []string{types.ColEventID, types.ColSeverity})
	assert.NoError(t, err)
	assert.Len(t, decoded, 5)

	assert.Equal(t, "evt-0", decoded[0].EventID())
	assert.Equal(t, "info", decoded[0].String(types.ColSeverity))
	_, hasMessage := decoded[0][types.ColMessage]
	assert.False(t, hasMessage, "unprojected column must not be materialized")
}

func TestRowCount(t *testing.T) {
	data, err := Encode(sampleRecords(42))
	assert.NoError(t, err)

	n, err := RowCount(data)
	assert.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestMightContain(t *testing.T) {
	records := sampleRecords(20)
	records[5][types.ColTraceID] = "trace-present"

	data, err := Encode(records)
	assert.NoError(t, err)

	ok, err := MightContain(data, "evt-5")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = MightContain(data, "trace-present")
	assert.NoError(t, err)
	assert.True(t, ok)

	// A value never written is almost certainly excluded; the filter
	// guarantees no false negatives for present values, so only the
	// positive direction is asserted strictly above.
	misses := 0
	for i := 0; i < 100; i++ {
		ok, err := MightContain(data, fmt.Sprintf("absent-%d", i))
		assert.NoError(t, err)
		if !ok {
			misses++
		}
	}
	assert.Greater(t, misses, 90, "bloom filter should exclude most absent values")
}

func TestDecode_Corrupt(t *testing.T) {
	data, err := Encode(sampleRecords(3))
	assert.NoError(t, err)

	// Flip a byte inside a column block.
	data[len(data)/2] ^= 0xFF
	_, err = Decode(data, nil)
	assert.Error(t, err)

	var ee *errs.Error
	assert.True(t, errors.As(err, &ee))
	assert.Equal(t, errs.CodeCorruptFile, ee.Code)

	_, err = Decode([]byte("not a columnar file"), nil)
	assert.Error(t, err)

	_, err = Decode(data[:8], nil)
	assert.Error(t, err)
}
