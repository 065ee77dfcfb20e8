package columnar

import (
	"math"
	"testing"

	"github.com/soltixdb/rollup/internal/arena"
	"github.com/soltixdb/rollup/internal/schema"
)

func gaugeSchema() *schema.RawSchema {
	return &schema.RawSchema{
		ID:   1,
		Name: "gauge",
		Columns: []schema.ColumnDef{
			{Name: "timestamp", Type: schema.ColumnTimestamp},
			{Name: "value", Type: schema.ColumnFloat64},
		},
	}
}

// buildGaugePart encodes one raw partition with one chunk per (times, values) pair
func buildGaugePart(t *testing.T, key []byte, chunks ...[2]interface{}) RawPartData {
	t.Helper()
	encoded := make([]EncodedChunk, 0, len(chunks))
	for _, c := range chunks {
		times := c[0].([]int64)
		values := c[1].([]float64)
		if len(times) != len(values) {
			t.Fatalf("times/values length mismatch")
		}
		encoded = append(encoded, EncodedChunk{
			StartTime: times[0],
			EndTime:   times[len(times)-1],
			NumRows:   len(times),
			Vectors: []EncodedVector{
				EncodeLongColumn(times),
				EncodeDoubleColumn(values),
			},
		})
	}
	return MarshalPartition(key, encoded)
}

func TestPagedRawPartition_RoundTrip(t *testing.T) {
	alloc := arena.NewNativeAllocator()
	sch := gaugeSchema()
	key := MakePartitionKey(1, []byte("sensor-42"))

	raw := buildGaugePart(t, key,
		[2]interface{}{[]int64{1000, 2000, 3000}, []float64{1.5, math.NaN(), 3.5}},
		[2]interface{}{[]int64{5000, 6000}, []float64{4.0, 5.0}},
	)

	part, err := NewPagedRawPartition(sch, raw, alloc)
	if err != nil {
		t.Fatalf("NewPagedRawPartition failed: %v", err)
	}

	if part.SchemaID() != 1 {
		t.Errorf("Expected schema id 1, got %d", part.SchemaID())
	}
	if string(part.PartitionKey()) != string(key) {
		t.Errorf("Partition key mismatch")
	}

	chunks := part.ChunkInfos()
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}

	c0 := chunks[0]
	if c0.StartTime != 1000 || c0.EndTime != 3000 || c0.NumRows != 3 {
		t.Errorf("Chunk 0 header mismatch: %+v", c0)
	}
	ts := c0.TimeVector()
	if ts.At(0) != 1000 || ts.At(2) != 3000 {
		t.Errorf("Chunk 0 timestamps mismatch")
	}
	vals := c0.Vectors[1].(*DoubleVector)
	if vals.At(0) != 1.5 || !math.IsNaN(vals.At(1)) || vals.At(2) != 3.5 {
		t.Errorf("Chunk 0 values mismatch: %v %v %v", vals.At(0), vals.At(1), vals.At(2))
	}

	part.Free()
	if alloc.Outstanding() != 0 {
		t.Errorf("Expected 0 outstanding allocations after Free, got %d", alloc.Outstanding())
	}

	// Free is idempotent
	part.Free()
	if alloc.Outstanding() != 0 {
		t.Errorf("Double free changed outstanding count: %d", alloc.Outstanding())
	}
}

func TestPagedRawPartition_SchemaIDMismatch(t *testing.T) {
	alloc := arena.NewNativeAllocator()
	raw := buildGaugePart(t, MakePartitionKey(9, []byte("x")),
		[2]interface{}{[]int64{1000}, []float64{1.0}})

	if _, err := NewPagedRawPartition(gaugeSchema(), raw, alloc); err == nil {
		t.Errorf("Expected error for mismatched schema id")
	}
	if alloc.Outstanding() != 0 {
		t.Errorf("Failed construction leaked %d allocations", alloc.Outstanding())
	}
}

func TestPagedRawPartition_Truncated(t *testing.T) {
	alloc := arena.NewNativeAllocator()
	raw := buildGaugePart(t, MakePartitionKey(1, []byte("x")),
		[2]interface{}{[]int64{1000, 2000}, []float64{1.0, 2.0}})
	raw.Bytes = raw.Bytes[:len(raw.Bytes)-3]

	if _, err := NewPagedRawPartition(gaugeSchema(), raw, alloc); err == nil {
		t.Errorf("Expected error for truncated partition")
	}
	if alloc.Outstanding() != 0 {
		t.Errorf("Failed construction leaked %d allocations", alloc.Outstanding())
	}
}

func TestPagedRawPartition_OutOfOrderChunks(t *testing.T) {
	alloc := arena.NewNativeAllocator()
	raw := buildGaugePart(t, MakePartitionKey(1, []byte("x")),
		[2]interface{}{[]int64{5000, 6000}, []float64{1.0, 2.0}},
		[2]interface{}{[]int64{1000, 2000}, []float64{3.0, 4.0}},
	)

	if _, err := NewPagedRawPartition(gaugeSchema(), raw, alloc); err == nil {
		t.Errorf("Expected error for out-of-order chunks")
	}
	if alloc.Outstanding() != 0 {
		t.Errorf("Failed construction leaked %d allocations", alloc.Outstanding())
	}
}

func TestPagedRawPartition_ColumnCountMismatch(t *testing.T) {
	alloc := arena.NewNativeAllocator()
	key := MakePartitionKey(1, []byte("x"))
	raw := MarshalPartition(key, []EncodedChunk{{
		StartTime: 1000,
		EndTime:   1000,
		NumRows:   1,
		Vectors:   []EncodedVector{EncodeLongColumn([]int64{1000})},
	}})

	if _, err := NewPagedRawPartition(gaugeSchema(), raw, alloc); err == nil {
		t.Errorf("Expected error for column count mismatch")
	}
}

func TestPeekSchemaID(t *testing.T) {
	raw := buildGaugePart(t, MakePartitionKey(7, []byte("dev")),
		[2]interface{}{[]int64{1}, []float64{1}})

	id, err := PeekSchemaID(raw)
	if err != nil {
		t.Fatalf("PeekSchemaID failed: %v", err)
	}
	if id != 7 {
		t.Errorf("Expected schema id 7, got %d", id)
	}

	if _, err := PeekSchemaID(RawPartData{Bytes: []byte{0x01}}); err == nil {
		t.Errorf("Expected error for truncated blob")
	}
	if _, err := PeekSchemaID(RawPartData{Bytes: []byte{0x02, 0x00, 0xAA, 0xBB}}); err == nil {
		t.Errorf("Expected error for key shorter than schema id prefix")
	}
}

func TestPagedRawPartition_HistogramColumn(t *testing.T) {
	alloc := arena.NewNativeAllocator()
	sch := &schema.RawSchema{
		ID:   2,
		Name: "latency",
		Columns: []schema.ColumnDef{
			{Name: "timestamp", Type: schema.ColumnTimestamp},
			{Name: "latency", Type: schema.ColumnHistogram},
		},
	}
	blobs := [][]byte{
		{1, 2, 3, 4},
		{5, 6},
	}
	key := MakePartitionKey(2, []byte("svc"))
	raw := MarshalPartition(key, []EncodedChunk{{
		StartTime: 1000,
		EndTime:   2000,
		NumRows:   2,
		Vectors: []EncodedVector{
			EncodeLongColumn([]int64{1000, 2000}),
			EncodeHistogramColumn(blobs),
		},
	}})

	part, err := NewPagedRawPartition(sch, raw, alloc)
	if err != nil {
		t.Fatalf("NewPagedRawPartition failed: %v", err)
	}
	defer part.Free()

	hv := part.ChunkInfos()[0].Vectors[1].(*HistogramVector)
	if hv.NumRows() != 2 {
		t.Fatalf("Expected 2 rows, got %d", hv.NumRows())
	}
	if string(hv.At(0)) != string(blobs[0]) || string(hv.At(1)) != string(blobs[1]) {
		t.Errorf("Histogram blobs mismatch")
	}
}
