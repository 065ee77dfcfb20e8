package codec

import (
	"math"
	"testing"
)

// =============================================================================
// Gorilla Encoder — Basic Tests
// =============================================================================

func checkFloatRoundTrip(t *testing.T, values []float64) {
	t.Helper()

	encoded := AppendGorillaFloat64(nil, values)
	decoded, err := DecodeGorillaFloat64Slice(encoded, len(values))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded) != len(values) {
		t.Fatalf("Length mismatch: expected %d, got %d", len(values), len(decoded))
	}
	for i, v := range values {
		if math.IsNaN(v) {
			if !math.IsNaN(decoded[i]) {
				t.Errorf("Value %d: expected NaN, got %v", i, decoded[i])
			}
			continue
		}
		if decoded[i] != v {
			t.Errorf("Value %d mismatch: expected %v, got %v", i, v, decoded[i])
		}
	}
}

func TestGorillaFloat64_RoundTrip(t *testing.T) {
	checkFloatRoundTrip(t, []float64{1.5, 2.5, 3.5, 4.5})
}

func TestGorillaFloat64_SingleValue(t *testing.T) {
	checkFloatRoundTrip(t, []float64{42.0})
}

func TestGorillaFloat64_IdenticalValues(t *testing.T) {
	values := []float64{7.25, 7.25, 7.25, 7.25, 7.25}
	checkFloatRoundTrip(t, values)

	// Identical values cost one bit each after the first
	encoded := AppendGorillaFloat64(nil, values)
	if len(encoded) > 12+1 {
		t.Errorf("Identical values should compress to the header plus one byte, got %d bytes", len(encoded))
	}
}

func TestGorillaFloat64_NaNValues(t *testing.T) {
	checkFloatRoundTrip(t, []float64{math.NaN(), 2.0, math.NaN(), 4.0})
}

func TestGorillaFloat64_AllNaN(t *testing.T) {
	checkFloatRoundTrip(t, []float64{math.NaN(), math.NaN(), math.NaN()})
}

func TestGorillaFloat64_SpecialValues(t *testing.T) {
	checkFloatRoundTrip(t, []float64{
		0.0,
		math.Copysign(0, -1),
		math.Inf(1),
		math.Inf(-1),
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
	})
}

func TestGorillaFloat64_SensorLikeSeries(t *testing.T) {
	// Slowly drifting values, the case the XOR scheme targets
	values := make([]float64, 500)
	v := 20.0
	for i := range values {
		v += math.Sin(float64(i)/10) * 0.1
		values[i] = v
	}
	checkFloatRoundTrip(t, values)

	encoded := AppendGorillaFloat64(nil, values)
	if len(encoded) >= len(values)*8 {
		t.Errorf("Drifting series should compress below raw size: %d bytes for %d values",
			len(encoded), len(values))
	}
}

func TestGorillaFloat64_FullWidthXORWindows(t *testing.T) {
	// Adjacent values whose XOR has neither leading nor trailing zeros
	// force 64-bit meaningful runs through the bit stream
	checkFloatRoundTrip(t, []float64{
		math.Copysign(0, -1),
		math.SmallestNonzeroFloat64,
		math.Inf(-1),
		math.MaxFloat64,
		-math.SmallestNonzeroFloat64,
		1.0,
	})
}

func TestGorillaFloat64_CountMismatch(t *testing.T) {
	encoded := AppendGorillaFloat64(nil, []float64{1, 2, 3})

	if _, err := DecodeGorillaFloat64Slice(encoded, 4); err == nil {
		t.Errorf("Expected error on count mismatch")
	}
}

func TestGorillaFloat64_Truncated(t *testing.T) {
	encoded := AppendGorillaFloat64(nil, []float64{1.5, 2.5, 3.5, 100.25})

	if _, err := DecodeGorillaFloat64Slice(encoded[:len(encoded)-1], 4); err == nil {
		t.Errorf("Expected error on truncated bitstream")
	}
}

// =============================================================================
// Blob Column Tests
// =============================================================================

func TestBlobs_RoundTrip(t *testing.T) {
	blobs := [][]byte{
		{1, 2, 3},
		{},
		{0xFF},
		[]byte("serialized histogram bytes"),
	}

	encoded := AppendBlobs(nil, blobs)
	size, err := DecodedBlobLen(encoded)
	if err != nil {
		t.Fatalf("DecodedBlobLen failed: %v", err)
	}

	buf, offsets, err := DecodeBlobs(encoded, len(blobs), make([]byte, size))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(offsets) != len(blobs)+1 {
		t.Fatalf("Expected %d offsets, got %d", len(blobs)+1, len(offsets))
	}

	for i, expected := range blobs {
		got := buf[offsets[i]:offsets[i+1]]
		if string(got) != string(expected) {
			t.Errorf("Blob %d mismatch: expected %v, got %v", i, expected, got)
		}
	}
}

func TestBlobs_CountMismatch(t *testing.T) {
	encoded := AppendBlobs(nil, [][]byte{{1}, {2}})

	if _, _, err := DecodeBlobs(encoded, 3, nil); err == nil {
		t.Errorf("Expected error on count mismatch")
	}
}

func TestBlobs_BadPayload(t *testing.T) {
	if _, _, err := DecodeBlobs([]byte{0xFF, 0xFF, 0xFF}, 1, nil); err == nil {
		t.Errorf("Expected error on garbage payload")
	}
}
