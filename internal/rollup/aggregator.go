package rollup

import (
	"fmt"
	"math"

	"github.com/soltixdb/rollup/internal/columnar"
	"github.com/soltixdb/rollup/internal/schema"
)

// Value is one output cell of an aggregate row. Type selects which field
// is meaningful.
type Value struct {
	Type   schema.ColumnType
	Long   int64
	Double float64
	Blob   []byte
}

// Row is one aggregate output row, one Value per downsample column
type Row []Value

// Aggregator reduces a [startRow, endRow] inclusive window of one chunk
// column to a single value. Aggregators hold only decode scratch, no
// partition-scoped state, so one list per schema serves every partition.
type Aggregator struct {
	desc schema.AggregatorDescriptor

	// histogram decode/merge scratch, reused across windows
	acc     Histogram
	scratch *Histogram
}

// NewAggregators builds the aggregator list for a descriptor list
func NewAggregators(descs []schema.AggregatorDescriptor) []Aggregator {
	aggs := make([]Aggregator, len(descs))
	for i, d := range descs {
		aggs[i] = Aggregator{desc: d}
	}
	return aggs
}

// Kind returns the aggregator kind
func (a *Aggregator) Kind() schema.AggKind { return a.desc.Kind }

// Reduce evaluates the aggregator over rows [sRow, eRow] of chunk c and
// writes the result into out. pEnd is the period end timestamp; only the
// time aggregator reads it. The double reductions branch once on the
// kind and then run a tight loop over the vector, no per-row allocation.
func (a *Aggregator) Reduce(c columnar.ChunkInfo, sRow, eRow int, pEnd int64, out *Value) error {
	switch a.desc.Kind {
	case schema.AggTime:
		out.Type = schema.ColumnTimestamp
		out.Long = pEnd
		return nil

	case schema.AggMin, schema.AggMax, schema.AggSum, schema.AggCount, schema.AggAvg, schema.AggLast:
		vec, ok := c.Vectors[a.desc.Column].(*columnar.DoubleVector)
		if !ok {
			return fmt.Errorf("aggregator %s: column %d is not a double vector", a.desc.Kind, a.desc.Column)
		}
		out.Type = schema.ColumnFloat64
		out.Double = a.reduceDouble(vec, sRow, eRow)
		return nil

	case schema.AggHistSum, schema.AggHistLast:
		vec, ok := c.Vectors[a.desc.Column].(*columnar.HistogramVector)
		if !ok {
			return fmt.Errorf("aggregator %s: column %d is not a histogram vector", a.desc.Kind, a.desc.Column)
		}
		return a.reduceHistogram(vec, sRow, eRow, out)

	default:
		return fmt.Errorf("unknown aggregator kind %d", a.desc.Kind)
	}
}

// reduceDouble computes the numeric reductions. NaN rows are skipped;
// min/max come out NaN only when the whole window is NaN, avg comes out
// NaN when count is zero.
func (a *Aggregator) reduceDouble(vec *columnar.DoubleVector, sRow, eRow int) float64 {
	switch a.desc.Kind {
	case schema.AggLast:
		return vec.At(eRow)

	case schema.AggMin:
		min := math.NaN()
		for i := sRow; i <= eRow; i++ {
			v := vec.At(i)
			if math.IsNaN(v) {
				continue
			}
			if math.IsNaN(min) || v < min {
				min = v
			}
		}
		return min

	case schema.AggMax:
		max := math.NaN()
		for i := sRow; i <= eRow; i++ {
			v := vec.At(i)
			if math.IsNaN(v) {
				continue
			}
			if math.IsNaN(max) || v > max {
				max = v
			}
		}
		return max

	case schema.AggSum:
		sum := 0.0
		for i := sRow; i <= eRow; i++ {
			if v := vec.At(i); !math.IsNaN(v) {
				sum += v
			}
		}
		return sum

	case schema.AggCount:
		count := 0
		for i := sRow; i <= eRow; i++ {
			if !math.IsNaN(vec.At(i)) {
				count++
			}
		}
		return float64(count)

	case schema.AggAvg:
		sum := 0.0
		count := 0
		for i := sRow; i <= eRow; i++ {
			if v := vec.At(i); !math.IsNaN(v) {
				sum += v
				count++
			}
		}
		if count == 0 {
			return math.NaN()
		}
		return sum / float64(count)
	}
	return math.NaN()
}

func (a *Aggregator) reduceHistogram(vec *columnar.HistogramVector, sRow, eRow int, out *Value) error {
	out.Type = schema.ColumnHistogram

	if a.desc.Kind == schema.AggHistLast {
		// The blob is already in wire form; hand it through. The ingest
		// path copies it before the raw partition is freed.
		out.Blob = vec.At(eRow)
		return nil
	}

	// Element-wise bucket sum across the window
	if _, err := deserializeHistogramInto(&a.acc, vec.At(sRow)); err != nil {
		return fmt.Errorf("histogram decode at row %d: %w", sRow, err)
	}
	for i := sRow + 1; i <= eRow; i++ {
		h, err := deserializeHistogramInto(a.scratch, vec.At(i))
		if err != nil {
			return fmt.Errorf("histogram decode at row %d: %w", i, err)
		}
		a.scratch = h
		if err := a.acc.Merge(h); err != nil {
			return fmt.Errorf("histogram merge at row %d: %w", i, err)
		}
	}
	out.Blob = a.acc.AppendSerialized(out.Blob[:0])
	return nil
}
