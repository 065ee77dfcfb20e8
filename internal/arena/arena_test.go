package arena

import (
	"testing"

	"github.com/soltixdb/rollup/internal/schema"
)

// =============================================================================
// NativeAllocator
// =============================================================================

func TestAllocator_AllocFree(t *testing.T) {
	a := NewNativeAllocator()

	buf := a.Alloc(100)
	if len(buf) != 100 {
		t.Errorf("Expected len 100, got %d", len(buf))
	}
	if a.Outstanding() != 1 {
		t.Errorf("Expected 1 outstanding, got %d", a.Outstanding())
	}

	a.Free(buf)
	if a.Outstanding() != 0 {
		t.Errorf("Expected 0 outstanding, got %d", a.Outstanding())
	}
}

func TestAllocator_ReusesFreedBuffer(t *testing.T) {
	a := NewNativeAllocator()

	buf := a.Alloc(100)
	buf[0] = 0xAA
	a.Free(buf)

	// Same size class comes back off the free list
	buf2 := a.Alloc(90)
	if cap(buf2) != cap(buf) {
		t.Errorf("Expected recycled buffer, got cap %d vs %d", cap(buf2), cap(buf))
	}
	if len(buf2) != 90 {
		t.Errorf("Expected len 90, got %d", len(buf2))
	}
}

func TestAllocator_SizeClasses(t *testing.T) {
	a := NewNativeAllocator()

	small := a.Alloc(10)
	if cap(small) != 64 {
		t.Errorf("Expected minimum class 64, got %d", cap(small))
	}

	exact := a.Alloc(128)
	if cap(exact) != 128 {
		t.Errorf("Expected class 128, got %d", cap(exact))
	}

	above := a.Alloc(129)
	if cap(above) != 256 {
		t.Errorf("Expected class 256, got %d", cap(above))
	}
}

func TestAllocator_FreeNil(t *testing.T) {
	a := NewNativeAllocator()
	a.Free(nil)
	if a.Outstanding() != 0 {
		t.Errorf("Free(nil) changed outstanding count: %d", a.Outstanding())
	}
}

// =============================================================================
// BlockFactory
// =============================================================================

func TestBlockFactory_GetAndReclaim(t *testing.T) {
	f := NewBlockFactory(1024)

	b1 := f.Get(100)
	b2 := f.Get(1024)
	if len(b1) != 100 || len(b2) != 1024 {
		t.Errorf("Unexpected block lengths: %d, %d", len(b1), len(b2))
	}
	if f.UsedBlocks() != 2 {
		t.Errorf("Expected 2 used blocks, got %d", f.UsedBlocks())
	}

	f.MarkUsedBlocksReclaimable()
	if f.UsedBlocks() != 0 {
		t.Errorf("Expected 0 used blocks after mark, got %d", f.UsedBlocks())
	}
	if f.FreeBlocks() != 2 {
		t.Errorf("Expected 2 free blocks after mark, got %d", f.FreeBlocks())
	}

	// Next batch draws from the free list
	_ = f.Get(50)
	if f.FreeBlocks() != 1 {
		t.Errorf("Expected reuse from free list, got %d free", f.FreeBlocks())
	}
}

func TestBlockFactory_Oversized(t *testing.T) {
	f := NewBlockFactory(64)

	big := f.Get(1000)
	if len(big) != 1000 {
		t.Errorf("Expected oversized block of len 1000, got %d", len(big))
	}

	// Oversized one-offs are dropped at the mark, not recycled
	f.MarkUsedBlocksReclaimable()
	if f.FreeBlocks() != 0 {
		t.Errorf("Oversized block should not join the free list, got %d free", f.FreeBlocks())
	}
}

func TestBlockFactory_MarkTwice(t *testing.T) {
	f := NewBlockFactory(64)
	_ = f.Get(10)
	f.MarkUsedBlocksReclaimable()
	f.MarkUsedBlocksReclaimable()
	if f.FreeBlocks() != 1 {
		t.Errorf("Double mark duplicated blocks: %d free", f.FreeBlocks())
	}
}

// =============================================================================
// BufferPool / Arena
// =============================================================================

func testDownsampleSchema() *schema.DownsampleSchema {
	return &schema.DownsampleSchema{
		Columns: []schema.ColumnDef{
			{Name: "timestamp", Type: schema.ColumnTimestamp},
			{Name: "sum", Type: schema.ColumnFloat64},
			{Name: "hist", Type: schema.ColumnHistogram},
		},
		MaxRowsPerChunk: 100,
	}
}

func TestBufferPool_GetPut(t *testing.T) {
	pool := NewBufferPool(1, testDownsampleSchema(), 2)
	if pool.Available() != 2 {
		t.Fatalf("Expected 2 pre-populated sets, got %d", pool.Available())
	}

	set := pool.Get()
	if len(set.Columns) != 3 {
		t.Fatalf("Expected 3 column buffers, got %d", len(set.Columns))
	}
	if set.Columns[0].Type != schema.ColumnTimestamp {
		t.Errorf("Column 0 type mismatch")
	}

	set.Columns[0].AppendLong(1000)
	set.Columns[1].AppendDouble(1.5)
	set.Columns[2].AppendBlob([]byte{1, 2})

	pool.Put(set)
	if pool.Available() != 2 {
		t.Errorf("Expected 2 available after put, got %d", pool.Available())
	}

	// Returned sets come back empty
	set2 := pool.Get()
	if len(set2.Columns[0].Longs) != 0 || len(set2.Columns[1].Doubles) != 0 || len(set2.Columns[2].Blobs) != 0 {
		t.Errorf("Recycled set was not reset")
	}
}

func TestBufferPool_GrowsBeyondExpected(t *testing.T) {
	pool := NewBufferPool(1, testDownsampleSchema(), 1)

	s1 := pool.Get()
	s2 := pool.Get() // beyond the pre-populated size
	if s1 == nil || s2 == nil || s1 == s2 {
		t.Fatalf("Expected two distinct sets")
	}
}

func TestWriteBuffer_AppendBlobCopies(t *testing.T) {
	var b WriteBuffer
	b.Type = schema.ColumnHistogram

	src := []byte{1, 2, 3}
	b.AppendBlob(src)
	src[0] = 0xFF

	if b.Blobs[0][0] != 1 {
		t.Errorf("AppendBlob aliased caller memory")
	}
}

func TestArena_New(t *testing.T) {
	raw := &schema.RawSchema{
		ID:   1,
		Name: "gauge",
		Columns: []schema.ColumnDef{
			{Name: "timestamp", Type: schema.ColumnTimestamp},
			{Name: "value", Type: schema.ColumnFloat64},
		},
		Downsample: &schema.DownsampleSchema{
			Columns: []schema.ColumnDef{
				{Name: "timestamp", Type: schema.ColumnTimestamp},
				{Name: "sum", Type: schema.ColumnFloat64},
			},
			MaxRowsPerChunk: 100,
		},
		Aggregators: []schema.AggregatorDescriptor{
			{Kind: schema.AggTime, Column: 0},
			{Kind: schema.AggSum, Column: 1},
		},
	}
	reg, err := schema.NewRegistry([]*schema.RawSchema{raw})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	ar := New(reg, 4)
	if ar.Allocator == nil || ar.Blocks == nil {
		t.Fatalf("Arena is missing components")
	}

	// Block size carries the safety factor over the largest meta estimate
	if ar.Blocks.BlockSize() != 2*raw.Downsample.BlockMetaSize() {
		t.Errorf("Expected block size %d, got %d", 2*raw.Downsample.BlockMetaSize(), ar.Blocks.BlockSize())
	}

	pool, ok := ar.Pool(1)
	if !ok {
		t.Fatalf("Expected pool for schema 1")
	}
	if pool.MaxRows() != 100 {
		t.Errorf("Expected max rows 100, got %d", pool.MaxRows())
	}

	if _, ok := ar.Pool(99); ok {
		t.Errorf("Unexpected pool for unknown schema")
	}
}
