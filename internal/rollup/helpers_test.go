package rollup

import (
	"math"
	"testing"
	"time"

	"github.com/soltixdb/rollup/internal/arena"
	"github.com/soltixdb/rollup/internal/columnar"
	"github.com/soltixdb/rollup/internal/schema"
)

// Shared fixtures: a float64 gauge schema and a histogram schema, plus
// builders for paged raw partitions over them.

func gaugeSchema() *schema.RawSchema {
	return &schema.RawSchema{
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
				{Name: "max", Type: schema.ColumnFloat64},
				{Name: "count", Type: schema.ColumnFloat64},
				{Name: "avg", Type: schema.ColumnFloat64},
			},
			MaxRowsPerChunk: 1000,
		},
		Aggregators: []schema.AggregatorDescriptor{
			{Kind: schema.AggTime, Column: 0},
			{Kind: schema.AggSum, Column: 1},
			{Kind: schema.AggMax, Column: 1},
			{Kind: schema.AggCount, Column: 1},
			{Kind: schema.AggAvg, Column: 1},
		},
	}
}

func histSchema() *schema.RawSchema {
	return &schema.RawSchema{
		ID:   2,
		Name: "latency",
		Columns: []schema.ColumnDef{
			{Name: "timestamp", Type: schema.ColumnTimestamp},
			{Name: "latency", Type: schema.ColumnHistogram},
		},
		Downsample: &schema.DownsampleSchema{
			Columns: []schema.ColumnDef{
				{Name: "timestamp", Type: schema.ColumnTimestamp},
				{Name: "latency", Type: schema.ColumnHistogram},
			},
			MaxRowsPerChunk: 1000,
		},
		Aggregators: []schema.AggregatorDescriptor{
			{Kind: schema.AggTime, Column: 0},
			{Kind: schema.AggHistSum, Column: 1},
		},
	}
}

type rawChunk struct {
	times  []int64
	values []float64
	blobs  [][]byte
}

func buildPart(t *testing.T, sch *schema.RawSchema, alloc *arena.NativeAllocator, chunks ...rawChunk) *columnar.PagedRawPartition {
	t.Helper()

	encoded := make([]columnar.EncodedChunk, 0, len(chunks))
	for _, c := range chunks {
		vectors := []columnar.EncodedVector{columnar.EncodeLongColumn(c.times)}
		if c.blobs != nil {
			vectors = append(vectors, columnar.EncodeHistogramColumn(c.blobs))
		} else {
			vectors = append(vectors, columnar.EncodeDoubleColumn(c.values))
		}
		encoded = append(encoded, columnar.EncodedChunk{
			StartTime: c.times[0],
			EndTime:   c.times[len(c.times)-1],
			NumRows:   len(c.times),
			Vectors:   vectors,
		})
	}

	raw := columnar.MarshalPartition(columnar.MakePartitionKey(sch.ID, []byte("part-under-test")), encoded)
	part, err := columnar.NewPagedRawPartition(sch, raw, alloc)
	if err != nil {
		t.Fatalf("Failed to build paged partition: %v", err)
	}
	return part
}

func newTestArena(t *testing.T, schemas ...*schema.RawSchema) *arena.Arena {
	t.Helper()
	reg, err := schema.NewRegistry(schemas)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return arena.New(reg, 4)
}

// collect drains an iterator
func collect(t *testing.T, iter ChunkSetIterator) []ChunkSet {
	t.Helper()
	var out []ChunkSet
	for {
		cs, ok := iter.Next()
		if !ok {
			return out
		}
		out = append(out, cs)
	}
}

// decodeRows decodes a chunk set's vectors back into comparable rows
func decodeRows(t *testing.T, cs ChunkSet, ds *schema.DownsampleSchema) (times []int64, doubles [][]float64) {
	t.Helper()

	alloc := arena.NewNativeAllocator()
	raw := columnar.MarshalPartition(cs.PartitionKey, []columnar.EncodedChunk{{
		StartTime: cs.StartTime,
		EndTime:   cs.EndTime,
		NumRows:   cs.NumRows,
		Vectors:   cs.Vectors,
	}})
	rawSchema := &schema.RawSchema{
		ID:      columnar.SchemaIDFromKey(cs.PartitionKey),
		Name:    "decoded",
		Columns: ds.Columns,
	}
	part, err := columnar.NewPagedRawPartition(rawSchema, raw, alloc)
	if err != nil {
		t.Fatalf("Failed to decode chunk set: %v", err)
	}
	defer part.Free()

	chunk := part.ChunkInfos()[0]
	tsVec := chunk.TimeVector()
	for i := 0; i < chunk.NumRows; i++ {
		times = append(times, tsVec.At(i))
	}
	for col := 1; col < len(ds.Columns); col++ {
		if ds.Columns[col].Type != schema.ColumnFloat64 {
			continue
		}
		vec := chunk.Vectors[col].(*columnar.DoubleVector)
		vals := make([]float64, chunk.NumRows)
		for i := range vals {
			vals[i] = vec.At(i)
		}
		doubles = append(doubles, vals)
	}
	return times, doubles
}

func msAt(hour, min, sec, ms int) int64 {
	return time.Date(2024, 1, 15, hour, min, sec, ms*int(time.Millisecond), time.UTC).UnixMilli()
}

func floatsEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}
