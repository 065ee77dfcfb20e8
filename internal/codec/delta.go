package codec

import (
	"encoding/binary"
	"fmt"
)

// Delta + zigzag + varint encoding for int64 vectors. Efficient for
// monotonically increasing values like timestamps, but correct for any
// int64 sequence.
//
// Payload layout:
//
//	[count: 4 bytes LE]
//	[first value: 8 bytes LE]
//	[zigzag varint deltas: count-1 entries]

// AppendDeltaInt64 appends the delta-encoded payload for values to dst
func AppendDeltaInt64(dst []byte, values []int64) []byte {
	if len(values) == 0 {
		return dst
	}

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(values)))
	dst = append(dst, scratch[:4]...)

	binary.LittleEndian.PutUint64(scratch[:8], uint64(values[0]))
	dst = append(dst, scratch[:8]...)

	prev := values[0]
	for i := 1; i < len(values); i++ {
		delta := values[i] - prev
		zigzag := (delta << 1) ^ (delta >> 63)
		dst = binary.AppendUvarint(dst, uint64(zigzag))
		prev = values[i]
	}
	return dst
}

// DecodeDeltaInt64 decodes a delta payload into dst, which must be
// exactly count*8 bytes; each value is written little-endian at row*8.
// Decoding into raw bytes lets callers place vectors in arena buffers.
func DecodeDeltaInt64(payload []byte, count int, dst []byte) error {
	if count == 0 {
		return nil
	}
	if len(dst) != count*8 {
		return fmt.Errorf("dst size %d does not match %d rows", len(dst), count)
	}
	if len(payload) < 12 {
		return fmt.Errorf("payload too short for header")
	}

	stored := int(binary.LittleEndian.Uint32(payload))
	if stored != count {
		return fmt.Errorf("row count mismatch: expected %d, got %d", count, stored)
	}

	prev := int64(binary.LittleEndian.Uint64(payload[4:]))
	offset := 12
	binary.LittleEndian.PutUint64(dst, uint64(prev))

	for i := 1; i < count; i++ {
		zigzag, n := binary.Uvarint(payload[offset:])
		if n <= 0 {
			return fmt.Errorf("truncated varint at row %d", i)
		}
		offset += n
		delta := int64(zigzag>>1) ^ -int64(zigzag&1)
		prev += delta
		binary.LittleEndian.PutUint64(dst[i*8:], uint64(prev))
	}
	return nil
}

// DecodeDeltaInt64Slice decodes a delta payload into a fresh []int64
func DecodeDeltaInt64Slice(payload []byte, count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}
	dst := make([]byte, count*8)
	if err := DecodeDeltaInt64(payload, count, dst); err != nil {
		return nil, err
	}
	values := make([]int64, count)
	for i := range values {
		values[i] = int64(binary.LittleEndian.Uint64(dst[i*8:]))
	}
	return values, nil
}
