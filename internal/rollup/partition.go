package rollup

import (
	"fmt"

	"github.com/soltixdb/rollup/internal/arena"
	"github.com/soltixdb/rollup/internal/codec"
	"github.com/soltixdb/rollup/internal/columnar"
	"github.com/soltixdb/rollup/internal/schema"
)

// DownsamplePartition accepts aggregate rows for one (partition key,
// resolution) pair and chunks them into the on-disk columnar format.
// Rows land in write buffers from the schema's pool; a full buffer set
// is encoded into an immutable chunk backed by arena blocks and the
// buffers are reused for the next chunk.
//
// Lifecycle: Ingest* -> SwitchBuffers -> MakeFlushChunks -> Shutdown.
// The driver owns the partition and always calls Shutdown, even when the
// batch fails before flushing.
type DownsamplePartition struct {
	key    []byte
	sch    *schema.DownsampleSchema
	pool   *arena.BufferPool
	blocks *arena.BlockFactory

	bufs    *arena.WriteBufferSet
	rows    int
	maxRows int

	ingestionTime    int64
	haveIngestedRows bool
	lastRowTime      int64

	sealed []ChunkSet

	// frozen by SwitchBuffers, encoded on demand by the flush iterator
	frozen     *arena.WriteBufferSet
	frozenRows int
	switched   bool
	shutdown   bool

	encScratch []byte
}

// NewDownsamplePartition opens a downsample partition for a raw
// partition's key, drawing write buffers from the schema's pool.
func NewDownsamplePartition(
	sch *schema.DownsampleSchema,
	partitionKey []byte,
	pool *arena.BufferPool,
	blocks *arena.BlockFactory,
) *DownsamplePartition {
	key := make([]byte, len(partitionKey))
	copy(key, partitionKey)

	return &DownsamplePartition{
		key:     key,
		sch:     sch,
		pool:    pool,
		blocks:  blocks,
		bufs:    pool.Get(),
		maxRows: pool.MaxRows(),
	}
}

// PartitionKey returns the partition key
func (p *DownsamplePartition) PartitionKey() []byte { return p.key }

// NumRows returns the total rows ingested so far
func (p *DownsamplePartition) NumRows() int {
	n := p.rows + p.frozenRows
	for _, cs := range p.sealed {
		n += cs.NumRows
	}
	return n
}

// Ingest appends one aggregate row. Row timestamps (row[0]) must be
// strictly increasing within the partition; ingestionTime is the same
// for every row of a batch and is carried into the emitted chunk sets.
func (p *DownsamplePartition) Ingest(ingestionTime int64, row Row) error {
	if p.shutdown {
		return fmt.Errorf("ingest after shutdown")
	}
	if p.switched {
		return fmt.Errorf("ingest after switchBuffers")
	}
	if len(row) != len(p.sch.Columns) {
		return fmt.Errorf("row has %d values, schema has %d columns", len(row), len(p.sch.Columns))
	}
	if row[0].Type != schema.ColumnTimestamp {
		return fmt.Errorf("row[0] is %s, expected timestamp", row[0].Type)
	}

	ts := row[0].Long
	if p.haveIngestedRows && ts <= p.lastRowTime {
		return fmt.Errorf("out-of-order ingest: %d after %d", ts, p.lastRowTime)
	}
	if !p.haveIngestedRows {
		p.ingestionTime = ingestionTime
		p.haveIngestedRows = true
	}
	p.lastRowTime = ts

	for i := range row {
		buf := &p.bufs.Columns[i]
		if row[i].Type != buf.Type {
			return fmt.Errorf("column %d: row value is %s, schema column is %s", i, row[i].Type, buf.Type)
		}
		switch buf.Type {
		case schema.ColumnTimestamp:
			buf.AppendLong(row[i].Long)
		case schema.ColumnFloat64:
			buf.AppendDouble(row[i].Double)
		case schema.ColumnHistogram:
			buf.AppendBlob(row[i].Blob)
		}
	}
	p.rows++

	if p.rows >= p.maxRows {
		p.sealed = append(p.sealed, p.encode(p.bufs, p.rows))
		p.bufs.Reset()
		p.rows = 0
	}
	return nil
}

// encode freezes rows pending in set into an immutable chunk set whose
// vector payloads live in blocks from the factory
func (p *DownsamplePartition) encode(set *arena.WriteBufferSet, rows int) ChunkSet {
	times := set.Columns[0].Longs
	cs := ChunkSet{
		PartitionKey:  p.key,
		IngestionTime: p.ingestionTime,
		StartTime:     times[0],
		EndTime:       times[rows-1],
		NumRows:       rows,
		Vectors:       make([]columnar.EncodedVector, len(set.Columns)),
	}

	for i := range set.Columns {
		buf := &set.Columns[i]
		enc := p.encScratch[:0]
		var kind columnar.VectorType
		switch buf.Type {
		case schema.ColumnTimestamp:
			enc = codec.AppendDeltaInt64(enc, buf.Longs)
			kind = columnar.VectorLong
		case schema.ColumnFloat64:
			enc = codec.AppendGorillaFloat64(enc, buf.Doubles)
			kind = columnar.VectorDouble
		case schema.ColumnHistogram:
			enc = codec.AppendBlobs(enc, buf.Blobs)
			kind = columnar.VectorHistogram
		}
		p.encScratch = enc[:0]

		block := p.blocks.Get(len(enc))
		copy(block, enc)
		cs.Vectors[i] = columnar.EncodedVector{Kind: kind, Rows: rows, Payload: block[:len(enc)]}
	}
	return cs
}

// SwitchBuffers atomically freezes the current write buffers for
// flushing. Required before MakeFlushChunks; the partition accepts no
// further ingests afterward. With forceFlush every pending row is
// flushed, even a partially filled buffer set.
func (p *DownsamplePartition) SwitchBuffers(blocks *arena.BlockFactory, forceFlush bool) error {
	if p.shutdown {
		return fmt.Errorf("switchBuffers after shutdown")
	}
	if p.switched {
		return fmt.Errorf("switchBuffers called twice")
	}
	p.switched = true
	p.blocks = blocks

	if p.rows > 0 && forceFlush {
		p.frozen = p.bufs
		p.frozenRows = p.rows
	} else {
		p.pool.Put(p.bufs)
	}
	p.bufs = nil
	p.rows = 0
	return nil
}

// flushIterator yields sealed chunks, then encodes the frozen buffer set
// on demand as the final chunk
type flushIterator struct {
	p *DownsamplePartition
	i int
}

func (it *flushIterator) Next() (ChunkSet, bool) {
	p := it.p
	if it.i < len(p.sealed) {
		cs := p.sealed[it.i]
		it.i++
		return cs, true
	}
	if p.frozen != nil {
		cs := p.encode(p.frozen, p.frozenRows)
		p.pool.Put(p.frozen)
		p.frozen = nil
		p.frozenRows = 0
		return cs, true
	}
	return ChunkSet{}, false
}

// MakeFlushChunks returns a lazy iterator over the partition's chunk
// sets. SwitchBuffers must have been called; still-pending write buffers
// are encoded as the iterator reaches them and returned to the pool once
// consumed.
func (p *DownsamplePartition) MakeFlushChunks(blocks *arena.BlockFactory) (ChunkSetIterator, error) {
	if p.shutdown {
		return nil, fmt.Errorf("makeFlushChunks after shutdown")
	}
	if !p.switched {
		return nil, fmt.Errorf("makeFlushChunks before switchBuffers")
	}
	p.blocks = blocks
	return &flushIterator{p: p}, nil
}

// Shutdown releases write buffers back to the pool and drops chunk
// references; the backing blocks become reclaimable at the next
// MarkUsedBlocksReclaimable. Idempotent.
func (p *DownsamplePartition) Shutdown() {
	if p.shutdown {
		return
	}
	p.shutdown = true
	if p.bufs != nil {
		p.pool.Put(p.bufs)
		p.bufs = nil
	}
	if p.frozen != nil {
		p.pool.Put(p.frozen)
		p.frozen = nil
	}
	p.sealed = nil
	p.rows = 0
	p.frozenRows = 0
}
