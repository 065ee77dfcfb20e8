package rollup

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Histogram is a fixed-bucket cumulative-count histogram: Counts[i] holds
// the number of observations <= Bounds[i]. The last bound is typically
// +Inf. Two histograms merge only if their bucket layouts match exactly.
//
// Serialized layout:
//
//	[bucketCount: 2 bytes LE]
//	[bounds: bucketCount * 8 bytes LE, IEEE 754 bits]
//	[counts: bucketCount * 8 bytes LE]
type Histogram struct {
	Bounds []float64
	Counts []uint64
}

// NumBuckets returns the bucket count
func (h *Histogram) NumBuckets() int { return len(h.Bounds) }

// Merge adds other's bucket counts into h, element-wise
func (h *Histogram) Merge(other *Histogram) error {
	if len(other.Bounds) != len(h.Bounds) {
		return fmt.Errorf("bucket count mismatch: %d vs %d", len(h.Bounds), len(other.Bounds))
	}
	for i, b := range other.Bounds {
		if b != h.Bounds[i] && !(math.IsNaN(b) && math.IsNaN(h.Bounds[i])) {
			return fmt.Errorf("bucket bound mismatch at %d: %v vs %v", i, h.Bounds[i], b)
		}
	}
	for i, c := range other.Counts {
		h.Counts[i] += c
	}
	return nil
}

// SerializedSize returns the encoded size in bytes
func (h *Histogram) SerializedSize() int {
	return 2 + len(h.Bounds)*16
}

// AppendSerialized appends the wire form of h to dst
func (h *Histogram) AppendSerialized(dst []byte) []byte {
	var scratch [8]byte
	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(h.Bounds)))
	dst = append(dst, scratch[:2]...)
	for _, b := range h.Bounds {
		binary.LittleEndian.PutUint64(scratch[:8], math.Float64bits(b))
		dst = append(dst, scratch[:8]...)
	}
	for _, c := range h.Counts {
		binary.LittleEndian.PutUint64(scratch[:8], c)
		dst = append(dst, scratch[:8]...)
	}
	return dst
}

// Serialize returns the wire form of h
func (h *Histogram) Serialize() []byte {
	return h.AppendSerialized(make([]byte, 0, h.SerializedSize()))
}

// DeserializeHistogram decodes a wire-form histogram. The result does
// not alias data.
func DeserializeHistogram(data []byte) (*Histogram, error) {
	return deserializeHistogramInto(nil, data)
}

// deserializeHistogramInto reuses h's slices when the bucket counts line
// up, so aggregation loops can decode without allocating per row.
func deserializeHistogramInto(h *Histogram, data []byte) (*Histogram, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("histogram too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint16(data))
	if len(data) != 2+n*16 {
		return nil, fmt.Errorf("histogram size mismatch: %d buckets in %d bytes", n, len(data))
	}

	if h == nil {
		h = &Histogram{}
	}
	if cap(h.Bounds) < n {
		h.Bounds = make([]float64, n)
		h.Counts = make([]uint64, n)
	}
	h.Bounds = h.Bounds[:n]
	h.Counts = h.Counts[:n]

	offset := 2
	for i := 0; i < n; i++ {
		h.Bounds[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
	}
	for i := 0; i < n; i++ {
		h.Counts[i] = binary.LittleEndian.Uint64(data[offset:])
		offset += 8
	}
	return h, nil
}
