package arena

import (
	"github.com/soltixdb/rollup/internal/schema"
)

// WriteBuffer accumulates one column of pending downsample rows before
// they are encoded into an immutable chunk vector. Only the slice
// matching the column type is populated.
type WriteBuffer struct {
	Type    schema.ColumnType
	Longs   []int64
	Doubles []float64
	Blobs   [][]byte

	blobBytes []byte // backing storage for Blobs entries
}

// Reset empties the buffer, keeping capacity
func (b *WriteBuffer) Reset() {
	b.Longs = b.Longs[:0]
	b.Doubles = b.Doubles[:0]
	b.Blobs = b.Blobs[:0]
	b.blobBytes = b.blobBytes[:0]
}

// AppendLong appends an int64 value
func (b *WriteBuffer) AppendLong(v int64) {
	b.Longs = append(b.Longs, v)
}

// AppendDouble appends a float64 value
func (b *WriteBuffer) AppendDouble(v float64) {
	b.Doubles = append(b.Doubles, v)
}

// AppendBlob appends a copy of the blob. Sources often alias raw
// partition memory that is freed before the buffer is, so the buffer
// owns its bytes.
func (b *WriteBuffer) AppendBlob(v []byte) {
	start := len(b.blobBytes)
	b.blobBytes = append(b.blobBytes, v...)
	b.Blobs = append(b.Blobs, b.blobBytes[start:len(b.blobBytes):len(b.blobBytes)])
}

// WriteBufferSet is one write buffer per downsample column
type WriteBufferSet struct {
	Columns []WriteBuffer
}

// Reset empties every column buffer
func (s *WriteBufferSet) Reset() {
	for i := range s.Columns {
		s.Columns[i].Reset()
	}
}

// BufferPool recycles write buffer sets for one raw schema id. Sized so
// the expected number of concurrently open downsample partitions of the
// schema can hold buffers simultaneously; demand beyond that allocates
// rather than blocks.
//
// Thread-affine: one pool per worker arena, no internal locking.
type BufferPool struct {
	schemaID int32
	ds       *schema.DownsampleSchema
	maxRows  int
	free     []*WriteBufferSet
}

// NewBufferPool creates a pool pre-populated with expected sets
func NewBufferPool(schemaID int32, ds *schema.DownsampleSchema, expected int) *BufferPool {
	p := &BufferPool{
		schemaID: schemaID,
		ds:       ds,
		maxRows:  ds.MaxRowsPerChunk,
		free:     make([]*WriteBufferSet, 0, expected),
	}
	for i := 0; i < expected; i++ {
		p.free = append(p.free, p.newSet())
	}
	return p
}

func (p *BufferPool) newSet() *WriteBufferSet {
	set := &WriteBufferSet{Columns: make([]WriteBuffer, len(p.ds.Columns))}
	for i, col := range p.ds.Columns {
		set.Columns[i].Type = col.Type
		switch col.Type {
		case schema.ColumnTimestamp:
			set.Columns[i].Longs = make([]int64, 0, p.maxRows)
		case schema.ColumnFloat64:
			set.Columns[i].Doubles = make([]float64, 0, p.maxRows)
		case schema.ColumnHistogram:
			set.Columns[i].Blobs = make([][]byte, 0, p.maxRows)
		}
	}
	return set
}

// SchemaID returns the raw schema id this pool serves
func (p *BufferPool) SchemaID() int32 { return p.schemaID }

// MaxRows returns the chunk row limit for buffers from this pool
func (p *BufferPool) MaxRows() int { return p.maxRows }

// Get returns a write buffer set, creating one if the pool is empty
func (p *BufferPool) Get() *WriteBufferSet {
	if len(p.free) > 0 {
		set := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		return set
	}
	return p.newSet()
}

// Put returns a set to the pool. The set is reset here so stale rows can
// never leak into the next partition's chunks.
func (p *BufferPool) Put(set *WriteBufferSet) {
	if set == nil {
		return
	}
	set.Reset()
	p.free = append(p.free, set)
}

// Available reports sets currently in the pool
func (p *BufferPool) Available() int { return len(p.free) }
