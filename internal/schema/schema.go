package schema

import (
	"fmt"
	"strings"
)

// ColumnType identifies the physical type of a column vector
type ColumnType uint8

const (
	// ColumnTimestamp is an int64 epoch-millisecond timestamp column
	ColumnTimestamp ColumnType = iota + 1
	// ColumnFloat64 is a 64-bit IEEE 754 floating point column
	ColumnFloat64
	// ColumnHistogram is a serialized fixed-bucket histogram column
	ColumnHistogram
)

// String returns the config-facing name of the column type
func (t ColumnType) String() string {
	switch t {
	case ColumnTimestamp:
		return "timestamp"
	case ColumnFloat64:
		return "float64"
	case ColumnHistogram:
		return "histogram"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseColumnType parses a config-facing column type name
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(s) {
	case "timestamp", "ts":
		return ColumnTimestamp, nil
	case "float64", "double":
		return ColumnFloat64, nil
	case "histogram", "hist":
		return ColumnHistogram, nil
	default:
		return 0, fmt.Errorf("unknown column type: %q", s)
	}
}

// ColumnDef describes one column of a schema
type ColumnDef struct {
	Name string
	Type ColumnType
}

// AggKind identifies an aggregator variant
type AggKind uint8

const (
	// AggTime emits the period end timestamp
	AggTime AggKind = iota + 1
	// AggMin emits the minimum non-NaN value over the window
	AggMin
	// AggMax emits the maximum non-NaN value over the window
	AggMax
	// AggSum emits the sum of non-NaN values over the window
	AggSum
	// AggCount emits the number of non-NaN values over the window
	AggCount
	// AggAvg emits sum/count over the window (NaN if the window holds only NaNs)
	AggAvg
	// AggLast emits the value at the last row of the window
	AggLast
	// AggHistSum emits the element-wise bucket sum of histograms over the window
	AggHistSum
	// AggHistLast emits the histogram at the last row of the window
	AggHistLast
)

// String returns the config-facing name of the aggregator kind
func (k AggKind) String() string {
	switch k {
	case AggTime:
		return "time"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggSum:
		return "sum"
	case AggCount:
		return "count"
	case AggAvg:
		return "avg"
	case AggLast:
		return "last"
	case AggHistSum:
		return "hist_sum"
	case AggHistLast:
		return "hist_last"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseAggKind parses a config-facing aggregator kind name
func ParseAggKind(s string) (AggKind, error) {
	switch strings.ToLower(s) {
	case "time":
		return AggTime, nil
	case "min":
		return AggMin, nil
	case "max":
		return AggMax, nil
	case "sum":
		return AggSum, nil
	case "count":
		return AggCount, nil
	case "avg", "average":
		return AggAvg, nil
	case "last":
		return AggLast, nil
	case "hist_sum", "histsum":
		return AggHistSum, nil
	case "hist_last", "histlast":
		return AggHistLast, nil
	default:
		return 0, fmt.Errorf("unknown aggregator kind: %q", s)
	}
}

// OutputType returns the column type an aggregator of this kind produces
func (k AggKind) OutputType() ColumnType {
	switch k {
	case AggTime:
		return ColumnTimestamp
	case AggHistSum, AggHistLast:
		return ColumnHistogram
	default:
		return ColumnFloat64
	}
}

// SourceType returns the raw column type an aggregator of this kind consumes
func (k AggKind) SourceType() ColumnType {
	switch k {
	case AggTime:
		return ColumnTimestamp
	case AggHistSum, AggHistLast:
		return ColumnHistogram
	default:
		return ColumnFloat64
	}
}

// AggregatorDescriptor binds an aggregator kind to a raw column index.
// Descriptors are fixed per (raw schema, downsample schema) pair and
// shared across all partitions of that schema.
type AggregatorDescriptor struct {
	Kind   AggKind
	Column int
}

// DownsampleSchema is the schema under which aggregate rows are ingested
// and chunked. It is a valid columnar schema in its own right: the first
// column is always the period-end timestamp.
type DownsampleSchema struct {
	Columns         []ColumnDef
	MaxRowsPerChunk int
}

// Per-row worst-case encoded sizes used for block sizing. The histogram
// estimate assumes the largest histogram a raw schema ships today; the
// factor-of-two safety margin applied by the arena covers undercounts.
const (
	maxTimestampBytesPerRow = 10 // varint-encoded zigzag delta
	maxFloatBytesPerRow     = 10 // gorilla worst case is 78 bits
	maxHistogramBytesPerRow = 256
	chunkRecordHeaderBytes  = 64
)

// BlockMetaSize estimates the largest encoded per-chunk record this schema
// can produce at full chunk occupancy. The arena's block size is derived
// from the maximum of this value across all registered downsample schemas.
func (s *DownsampleSchema) BlockMetaSize() int {
	size := chunkRecordHeaderBytes
	for _, col := range s.Columns {
		switch col.Type {
		case ColumnTimestamp:
			size += maxTimestampBytesPerRow * s.MaxRowsPerChunk
		case ColumnFloat64:
			size += maxFloatBytesPerRow * s.MaxRowsPerChunk
		case ColumnHistogram:
			size += maxHistogramBytesPerRow * s.MaxRowsPerChunk
		}
	}
	return size
}

// Validate checks downsample schema shape
func (s *DownsampleSchema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("downsample schema has no columns")
	}
	if s.Columns[0].Type != ColumnTimestamp {
		return fmt.Errorf("downsample schema first column must be a timestamp, got %s", s.Columns[0].Type)
	}
	if s.MaxRowsPerChunk < 1 {
		return fmt.Errorf("max_rows_per_chunk must be at least 1, got %d", s.MaxRowsPerChunk)
	}
	return nil
}

// RawSchema describes a raw ingestion schema: its partition key layout,
// its data columns, and optionally the downsample schema plus the ordered
// aggregator descriptor list (one per downsample column).
type RawSchema struct {
	ID         int32
	Name       string
	KeyColumns []string
	Columns    []ColumnDef

	Downsample  *DownsampleSchema
	Aggregators []AggregatorDescriptor
}

// Validate checks raw schema shape and the aggregator/downsample pairing
func (s *RawSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema %s has no columns", s.Name)
	}
	if s.Columns[0].Type != ColumnTimestamp {
		return fmt.Errorf("schema %s first column must be a timestamp, got %s", s.Name, s.Columns[0].Type)
	}

	if s.Downsample == nil {
		if len(s.Aggregators) > 0 {
			return fmt.Errorf("schema %s declares aggregators but no downsample schema", s.Name)
		}
		return nil
	}

	if err := s.Downsample.Validate(); err != nil {
		return fmt.Errorf("schema %s: %w", s.Name, err)
	}
	if len(s.Aggregators) != len(s.Downsample.Columns) {
		return fmt.Errorf("schema %s: %d aggregators for %d downsample columns",
			s.Name, len(s.Aggregators), len(s.Downsample.Columns))
	}
	if s.Aggregators[0].Kind != AggTime {
		return fmt.Errorf("schema %s: first aggregator must be time, got %s", s.Name, s.Aggregators[0].Kind)
	}

	for i, agg := range s.Aggregators {
		if agg.Column < 0 || agg.Column >= len(s.Columns) {
			return fmt.Errorf("schema %s: aggregator %d references column %d out of range", s.Name, i, agg.Column)
		}
		src := s.Columns[agg.Column].Type
		if src != agg.Kind.SourceType() {
			return fmt.Errorf("schema %s: aggregator %s cannot read %s column %q",
				s.Name, agg.Kind, src, s.Columns[agg.Column].Name)
		}
		out := s.Downsample.Columns[i].Type
		if out != agg.Kind.OutputType() {
			return fmt.Errorf("schema %s: aggregator %s produces %s but downsample column %q is %s",
				s.Name, agg.Kind, agg.Kind.OutputType(), s.Downsample.Columns[i].Name, out)
		}
	}
	return nil
}
