package schema

import (
	"fmt"
)

// Spec is the serialized (YAML/JSON) form of a raw schema as it appears
// in schema files and under the etcd schema prefix. Column and aggregator
// types are strings so operators can edit specs by hand; Compile turns a
// Spec into a validated RawSchema.
type Spec struct {
	ID         int32        `mapstructure:"id" json:"id"`
	Name       string       `mapstructure:"name" json:"name"`
	KeyColumns []string     `mapstructure:"key_columns" json:"key_columns"`
	Columns    []ColumnSpec `mapstructure:"columns" json:"columns"`

	Downsample *DownsampleSpec `mapstructure:"downsample" json:"downsample,omitempty"`
}

// ColumnSpec is the serialized form of a column definition
type ColumnSpec struct {
	Name string `mapstructure:"name" json:"name"`
	Type string `mapstructure:"type" json:"type"`
}

// DownsampleSpec is the serialized form of a downsample schema plus its
// aggregator descriptors
type DownsampleSpec struct {
	Columns         []ColumnSpec     `mapstructure:"columns" json:"columns"`
	Aggregators     []AggregatorSpec `mapstructure:"aggregators" json:"aggregators"`
	MaxRowsPerChunk int              `mapstructure:"max_rows_per_chunk" json:"max_rows_per_chunk"`
}

// AggregatorSpec is the serialized form of an aggregator descriptor
type AggregatorSpec struct {
	Kind   string `mapstructure:"kind" json:"kind"`
	Column int    `mapstructure:"column" json:"column"`
}

// DefaultMaxRowsPerChunk is applied when a downsample spec leaves the
// chunk row limit unset
const DefaultMaxRowsPerChunk = 10000

// Compile parses and validates a Spec into a RawSchema
func (sp *Spec) Compile() (*RawSchema, error) {
	cols, err := compileColumns(sp.Columns)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", sp.Name, err)
	}

	s := &RawSchema{
		ID:         sp.ID,
		Name:       sp.Name,
		KeyColumns: sp.KeyColumns,
		Columns:    cols,
	}

	if sp.Downsample != nil {
		dsCols, err := compileColumns(sp.Downsample.Columns)
		if err != nil {
			return nil, fmt.Errorf("schema %s downsample: %w", sp.Name, err)
		}
		maxRows := sp.Downsample.MaxRowsPerChunk
		if maxRows == 0 {
			maxRows = DefaultMaxRowsPerChunk
		}
		s.Downsample = &DownsampleSchema{
			Columns:         dsCols,
			MaxRowsPerChunk: maxRows,
		}
		for _, agg := range sp.Downsample.Aggregators {
			kind, err := ParseAggKind(agg.Kind)
			if err != nil {
				return nil, fmt.Errorf("schema %s: %w", sp.Name, err)
			}
			s.Aggregators = append(s.Aggregators, AggregatorDescriptor{
				Kind:   kind,
				Column: agg.Column,
			})
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func compileColumns(specs []ColumnSpec) ([]ColumnDef, error) {
	cols := make([]ColumnDef, 0, len(specs))
	for _, cs := range specs {
		t, err := ParseColumnType(cs.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", cs.Name, err)
		}
		cols = append(cols, ColumnDef{Name: cs.Name, Type: t})
	}
	return cols, nil
}
