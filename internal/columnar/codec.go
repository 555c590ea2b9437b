// Package columnar implements the binary columnar file format for event
// partitions. Values are stored per column in snappy-compressed blocks with
// xxhash64 checksums, so a projected read decodes only the requested columns.
//
// File layout (all integers little-endian):
//
//	magic "ECF1"
//	uint32 row count
//	uint32 column count
//	per column:
//	  uint16 name length, name bytes
//	  uint32 compressed block length
//	  uint64 xxhash64 of the compressed block
//	  block: snappy-compressed JSON array of row-count values
//	uint32 bloom section length (0 when absent)
//	bloom filter over event_id and trace_id values
package columnar

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"

	"github.com/cedricziel/errata/internal/bloom"
	errs "github.com/cedricziel/errata/internal/errors"
	"github.com/cedricziel/errata/pkg/types"
)

var magic = [4]byte{'E', 'C', 'F', '1'}

const headerSize = 4 + 4 + 4

// Encode serializes records into the columnar file format. The column set is
// the sorted union of all record columns; rows missing a column store null.
func Encode(records []types.EventRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errs.NewValidationError(errs.CodeEmptyBatch, "cannot encode zero records")
	}

	colSet := make(map[string]struct{})
	for _, r := range records {
		for col := range r {
			colSet[col] = struct{}{}
		}
	}
	columns := make([]string, 0, len(colSet))
	for col := range colSet {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	filter := bloom.New(2*len(records), 0.01)
	for _, r := range records {
		if id := r.EventID(); id != "" {
			filter.AddString(id)
		}
		if tid := r.String(types.ColTraceID); tid != "" {
			filter.AddString(tid)
		}
	}

	buf := make([]byte, headerSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(records)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(columns)))

	for _, col := range columns {
		values := make([]interface{}, len(records))
		for i, r := range records {
			values[i] = r[col]
		}
		raw, err := json.Marshal(values)
		if err != nil {
			return nil, errs.NewStorageError(errs.CodeWriteFailed,
				fmt.Sprintf("encode column %q", col), err)
		}
		block := snappy.Encode(nil, raw)

		var hdr [2]byte
		binary.LittleEndian.PutUint16(hdr[:], uint16(len(col)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, col...)

		var lenSum [12]byte
		binary.LittleEndian.PutUint32(lenSum[0:4], uint32(len(block)))
		binary.LittleEndian.PutUint64(lenSum[4:12], xxhash.Sum64(block))
		buf = append(buf, lenSum[:]...)
		buf = append(buf, block...)
	}

	bloomData := filter.Serialize()
	var bloomLen [4]byte
	binary.LittleEndian.PutUint32(bloomLen[:], uint32(len(bloomData)))
	buf = append(buf, bloomLen[:]...)
	buf = append(buf, bloomData...)

	return buf, nil
}

// Decode deserializes a columnar file back into records. When projection is
// non-empty, only the named columns are decompressed and materialized; other
// column blocks are skipped without being read.
func Decode(data []byte, projection []string) ([]types.EventRecord, error) {
	d, err := newDecoder(data)
	if err != nil {
		return nil, err
	}

	var want map[string]struct{}
	if len(projection) > 0 {
		want = make(map[string]struct{}, len(projection))
		for _, col := range projection {
			want[col] = struct{}{}
		}
	}

	records := make([]types.EventRecord, d.rowCount)
	for i := range records {
		records[i] = make(types.EventRecord)
	}

	for i := 0; i < d.colCount; i++ {
		name, block, err := d.nextColumn()
		if err != nil {
			return nil, err
		}
		if want != nil {
			if _, ok := want[name]; !ok {
				continue
			}
		}

		raw, err := snappy.Decode(nil, block)
		if err != nil {
			return nil, corrupt(fmt.Sprintf("decompress column %q", name), err)
		}
		var values []interface{}
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, corrupt(fmt.Sprintf("decode column %q", name), err)
		}
		if len(values) != d.rowCount {
			return nil, corrupt(fmt.Sprintf("column %q has %d values, want %d", name, len(values), d.rowCount), nil)
		}

		for row, v := range values {
			if v != nil {
				records[row][name] = v
			}
		}
	}

	return records, nil
}

// RowCount reads the record count from the file header without decoding.
func RowCount(data []byte) (int, error) {
	d, err := newDecoder(data)
	if err != nil {
		return 0, err
	}
	return d.rowCount, nil
}

// MightContain consults the file's bloom section for an event_id or trace_id
// value. True means the file may hold the value; false means it cannot.
// Files without a bloom section always report true.
func MightContain(data []byte, value string) (bool, error) {
	d, err := newDecoder(data)
	if err != nil {
		return false, err
	}

	// Skip past every column block to reach the bloom section.
	for i := 0; i < d.colCount; i++ {
		if _, _, err := d.skipColumn(); err != nil {
			return false, err
		}
	}

	filter, err := d.bloomSection()
	if err != nil {
		return false, err
	}
	if filter == nil {
		return true, nil
	}
	return filter.ContainsString(value), nil
}

// decoder walks a columnar file sequentially.
type decoder struct {
	data     []byte
	off      int
	rowCount int
	colCount int
}

func newDecoder(data []byte) (*decoder, error) {
	if len(data) < headerSize {
		return nil, corrupt(fmt.Sprintf("file too short (%d bytes)", len(data)), nil)
	}
	if [4]byte(data[0:4]) != magic {
		return nil, corrupt("bad magic", nil)
	}
	return &decoder{
		data:     data,
		off:      headerSize,
		rowCount: int(binary.LittleEndian.Uint32(data[4:8])),
		colCount: int(binary.LittleEndian.Uint32(data[8:12])),
	}, nil
}

// nextColumn reads the next column header and returns its name and
// checksum-verified compressed block.
func (d *decoder) nextColumn() (string, []byte, error) {
	name, block, err := d.readColumn(true)
	return name, block, err
}

// skipColumn advances past the next column without verifying its block.
func (d *decoder) skipColumn() (string, []byte, error) {
	return d.readColumn(false)
}

func (d *decoder) readColumn(verify bool) (string, []byte, error) {
	if d.off+2 > len(d.data) {
		return "", nil, corrupt("truncated column header", nil)
	}
	nameLen := int(binary.LittleEndian.Uint16(d.data[d.off:]))
	d.off += 2

	if d.off+nameLen+12 > len(d.data) {
		return "", nil, corrupt("truncated column header", nil)
	}
	name := string(d.data[d.off : d.off+nameLen])
	d.off += nameLen

	blockLen := int(binary.LittleEndian.Uint32(d.data[d.off:]))
	sum := binary.LittleEndian.Uint64(d.data[d.off+4:])
	d.off += 12

	if d.off+blockLen > len(d.data) {
		return "", nil, corrupt(fmt.Sprintf("truncated block for column %q", name), nil)
	}
	block := d.data[d.off : d.off+blockLen]
	d.off += blockLen

	if verify && xxhash.Sum64(block) != sum {
		return "", nil, corrupt(fmt.Sprintf("checksum mismatch in column %q", name), nil)
	}
	return name, block, nil
}

// bloomSection reads the trailing bloom filter, or nil when absent.
func (d *decoder) bloomSection() (*bloom.Filter, error) {
	if d.off+4 > len(d.data) {
		return nil, corrupt("truncated bloom section", nil)
	}
	bloomLen := int(binary.LittleEndian.Uint32(d.data[d.off:]))
	d.off += 4
	if bloomLen == 0 {
		return nil, nil
	}
	if d.off+bloomLen > len(d.data) {
		return nil, corrupt("truncated bloom section", nil)
	}
	filter, err := bloom.Deserialize(d.data[d.off : d.off+bloomLen])
	if err != nil {
		return nil, corrupt("bloom section", err)
	}
	return filter, nil
}

func corrupt(msg string, cause error) error {
	return errs.NewStorageError(errs.CodeCorruptFile, "columnar: "+msg, cause)
}
