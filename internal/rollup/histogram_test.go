package rollup

import (
	"math"
	"testing"
)

func testHistogram(counts ...uint64) *Histogram {
	bounds := []float64{10, 100, 1000, math.Inf(1)}
	return &Histogram{Bounds: bounds, Counts: counts}
}

func TestHistogram_SerializeRoundTrip(t *testing.T) {
	h := testHistogram(1, 5, 9, 12)

	data := h.Serialize()
	if len(data) != h.SerializedSize() {
		t.Errorf("Expected %d bytes, got %d", h.SerializedSize(), len(data))
	}

	decoded, err := DeserializeHistogram(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if decoded.NumBuckets() != 4 {
		t.Fatalf("Expected 4 buckets, got %d", decoded.NumBuckets())
	}
	for i := range h.Bounds {
		if decoded.Bounds[i] != h.Bounds[i] && !(math.IsInf(decoded.Bounds[i], 1) && math.IsInf(h.Bounds[i], 1)) {
			t.Errorf("Bound %d mismatch: %v vs %v", i, decoded.Bounds[i], h.Bounds[i])
		}
		if decoded.Counts[i] != h.Counts[i] {
			t.Errorf("Count %d mismatch: %d vs %d", i, decoded.Counts[i], h.Counts[i])
		}
	}
}

func TestHistogram_Merge(t *testing.T) {
	a := testHistogram(1, 2, 3, 4)
	b := testHistogram(10, 20, 30, 40)

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	expected := []uint64{11, 22, 33, 44}
	for i, c := range expected {
		if a.Counts[i] != c {
			t.Errorf("Count %d: expected %d, got %d", i, c, a.Counts[i])
		}
	}
}

func TestHistogram_MergeBucketCountMismatch(t *testing.T) {
	a := testHistogram(1, 2, 3, 4)
	b := &Histogram{Bounds: []float64{10, 20}, Counts: []uint64{1, 2}}

	if err := a.Merge(b); err == nil {
		t.Errorf("Expected error for bucket count mismatch")
	}
}

func TestHistogram_MergeBoundMismatch(t *testing.T) {
	a := testHistogram(1, 2, 3, 4)
	b := &Histogram{Bounds: []float64{1, 2, 3, 4}, Counts: []uint64{1, 2, 3, 4}}

	if err := a.Merge(b); err == nil {
		t.Errorf("Expected error for bucket bound mismatch")
	}
}

func TestHistogram_DeserializeErrors(t *testing.T) {
	if _, err := DeserializeHistogram([]byte{1}); err == nil {
		t.Errorf("Expected error for short input")
	}

	// Header claims 4 buckets but the data stops after two bounds
	bad := testHistogram(1, 2, 3, 4).Serialize()[:20]
	if _, err := DeserializeHistogram(bad); err == nil {
		t.Errorf("Expected error for truncated input")
	}
}
