package columnar

import (
	"encoding/binary"
	"fmt"

	"github.com/soltixdb/rollup/internal/arena"
	"github.com/soltixdb/rollup/internal/codec"
	"github.com/soltixdb/rollup/internal/schema"
)

// RawPartData is one raw partition as read from the long-term store:
// an opaque blob holding the partition key and its chunk list.
type RawPartData struct {
	Bytes []byte
}

// ChunkInfo is one decoded chunk: a contiguous, time-ordered run of rows
// with one decoded vector per schema column. Vectors[0] is always the
// timestamp column.
type ChunkInfo struct {
	StartTime int64
	EndTime   int64
	NumRows   int
	Vectors   []ColumnVector
}

// TimeVector returns the chunk's timestamp column
func (c ChunkInfo) TimeVector() *LongVector {
	return c.Vectors[0].(*LongVector)
}

// MakePartitionKey prefixes a schema id (big-endian) onto key fields
func MakePartitionKey(schemaID int32, fields []byte) []byte {
	key := make([]byte, 4+len(fields))
	binary.BigEndian.PutUint32(key, uint32(schemaID))
	copy(key[4:], fields)
	return key
}

// SchemaIDFromKey reads the schema id prefix of a partition key
func SchemaIDFromKey(key []byte) int32 {
	return int32(binary.BigEndian.Uint32(key))
}

// PeekSchemaID extracts the schema id from a raw partition blob without
// decoding the rest of it
func PeekSchemaID(raw RawPartData) (int32, error) {
	data := raw.Bytes
	if len(data) < 2 {
		return 0, fmt.Errorf("truncated key length")
	}
	keyLen := int(binary.LittleEndian.Uint16(data))
	if keyLen < 4 || 2+keyLen > len(data) {
		return 0, fmt.Errorf("partition key too short for schema id: %d bytes", keyLen)
	}
	return SchemaIDFromKey(data[2:]), nil
}

// PagedRawPartition adapts a RawPartData blob into a readable columnar
// partition. All decoded vectors live in buffers drawn from the arena
// allocator; Free returns every buffer in one pass.
type PagedRawPartition struct {
	schema *schema.RawSchema
	key    []byte
	chunks []ChunkInfo

	alloc *arena.NativeAllocator
	bufs  [][]byte
	freed bool
}

// NewPagedRawPartition decodes a raw partition blob against its schema.
// Malformed input (bad schema id, truncated chunk, column/schema
// mismatch, out-of-order chunks) is reported as an error; any buffers
// allocated before the failure are returned to the allocator.
func NewPagedRawPartition(sch *schema.RawSchema, raw RawPartData, alloc *arena.NativeAllocator) (*PagedRawPartition, error) {
	key, encChunks, err := parsePartition(raw.Bytes)
	if err != nil {
		return nil, err
	}
	if id := SchemaIDFromKey(key); id != sch.ID {
		return nil, fmt.Errorf("partition key schema id %d does not match schema %s (%d)", id, sch.Name, sch.ID)
	}

	p := &PagedRawPartition{
		schema: sch,
		key:    key,
		alloc:  alloc,
		chunks: make([]ChunkInfo, 0, len(encChunks)),
	}

	prevEnd := int64(0)
	for ci, enc := range encChunks {
		if enc.NumRows < 1 {
			p.Free()
			return nil, fmt.Errorf("chunk %d has no rows", ci)
		}
		if enc.StartTime > enc.EndTime {
			p.Free()
			return nil, fmt.Errorf("chunk %d start %d after end %d", ci, enc.StartTime, enc.EndTime)
		}
		if ci > 0 && enc.StartTime <= prevEnd {
			p.Free()
			return nil, fmt.Errorf("chunk %d overlaps previous chunk", ci)
		}
		prevEnd = enc.EndTime

		if len(enc.Vectors) != len(sch.Columns) {
			p.Free()
			return nil, fmt.Errorf("chunk %d has %d columns, schema %s declares %d",
				ci, len(enc.Vectors), sch.Name, len(sch.Columns))
		}

		info := ChunkInfo{
			StartTime: enc.StartTime,
			EndTime:   enc.EndTime,
			NumRows:   enc.NumRows,
			Vectors:   make([]ColumnVector, len(enc.Vectors)),
		}
		for vi, ev := range enc.Vectors {
			vec, err := p.decodeVector(sch.Columns[vi].Type, ev)
			if err != nil {
				p.Free()
				return nil, fmt.Errorf("chunk %d column %q: %w", ci, sch.Columns[vi].Name, err)
			}
			info.Vectors[vi] = vec
		}

		ts := info.TimeVector()
		if ts.At(0) != enc.StartTime || ts.At(enc.NumRows-1) != enc.EndTime {
			p.Free()
			return nil, fmt.Errorf("chunk %d timestamp bounds do not match chunk header", ci)
		}
		for row := 1; row < enc.NumRows; row++ {
			if ts.At(row) <= ts.At(row-1) {
				p.Free()
				return nil, fmt.Errorf("chunk %d timestamps not strictly increasing at row %d", ci, row)
			}
		}

		p.chunks = append(p.chunks, info)
	}

	return p, nil
}

func (p *PagedRawPartition) decodeVector(colType schema.ColumnType, ev EncodedVector) (ColumnVector, error) {
	switch colType {
	case schema.ColumnTimestamp:
		if ev.Kind != VectorLong {
			return nil, fmt.Errorf("expected long vector, got kind %d", ev.Kind)
		}
		buf := p.page(ev.Rows * 8)
		if err := codec.DecodeDeltaInt64(ev.Payload, ev.Rows, buf); err != nil {
			return nil, err
		}
		return NewLongVector(buf, ev.Rows), nil

	case schema.ColumnFloat64:
		if ev.Kind != VectorDouble {
			return nil, fmt.Errorf("expected double vector, got kind %d", ev.Kind)
		}
		buf := p.page(ev.Rows * 8)
		if err := codec.DecodeGorillaFloat64(ev.Payload, ev.Rows, buf); err != nil {
			return nil, err
		}
		return NewDoubleVector(buf, ev.Rows), nil

	case schema.ColumnHistogram:
		if ev.Kind != VectorHistogram {
			return nil, fmt.Errorf("expected histogram vector, got kind %d", ev.Kind)
		}
		size, err := codec.DecodedBlobLen(ev.Payload)
		if err != nil {
			return nil, err
		}
		buf, offsets, err := codec.DecodeBlobs(ev.Payload, ev.Rows, p.page(size))
		if err != nil {
			return nil, err
		}
		return NewHistogramVector(buf, offsets), nil

	default:
		return nil, fmt.Errorf("unsupported column type %s", colType)
	}
}

// page draws a buffer from the allocator and records it for Free
func (p *PagedRawPartition) page(n int) []byte {
	buf := p.alloc.Alloc(n)
	p.bufs = append(p.bufs, buf)
	return buf
}

// PartitionKey returns the partition key (schema id prefix included)
func (p *PagedRawPartition) PartitionKey() []byte { return p.key }

// SchemaID returns the schema id from the key prefix
func (p *PagedRawPartition) SchemaID() int32 { return SchemaIDFromKey(p.key) }

// Schema returns the raw schema this partition was decoded against
func (p *PagedRawPartition) Schema() *schema.RawSchema { return p.schema }

// ChunkInfos returns the decoded chunks in StartTime order
func (p *PagedRawPartition) ChunkInfos() []ChunkInfo { return p.chunks }

// Free returns every decoded vector buffer to the allocator. Idempotent.
// The partition must not be read after Free.
func (p *PagedRawPartition) Free() {
	if p.freed {
		return
	}
	p.freed = true
	for _, buf := range p.bufs {
		p.alloc.Free(buf)
	}
	p.bufs = nil
	p.chunks = nil
}
