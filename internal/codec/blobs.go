package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
)

// Variable-width blob vectors (serialized histograms). Blobs are
// concatenated with uvarint length prefixes and the whole payload is
// snappy-compressed; blob columns don't share bit patterns the way
// float streams do, so block compression beats per-value tricks here.
//
// Payload layout:
//
//	snappy( [count: uvarint] ([len: uvarint][bytes])* )

// AppendBlobs appends the compressed payload for blobs to dst
func AppendBlobs(dst []byte, blobs [][]byte) []byte {
	if len(blobs) == 0 {
		return dst
	}

	size := 4
	for _, b := range blobs {
		size += len(b) + 4
	}
	raw := make([]byte, 0, size)
	raw = binary.AppendUvarint(raw, uint64(len(blobs)))
	for _, b := range blobs {
		raw = binary.AppendUvarint(raw, uint64(len(b)))
		raw = append(raw, b...)
	}

	return append(dst, snappy.Encode(nil, raw)...)
}

// DecodeBlobs decompresses a blob payload and returns the packed blob
// bytes plus a count+1 offsets table: blob i spans buf[offsets[i]:offsets[i+1]].
// If dst is large enough it backs the returned buffer, so callers can
// supply arena memory; DecodedBlobLen reports the size needed.
func DecodeBlobs(payload []byte, count int, dst []byte) (buf []byte, offsets []uint32, err error) {
	if count == 0 {
		return nil, nil, nil
	}

	raw, err := snappy.Decode(dst, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("snappy decompress failed: %w", err)
	}

	stored, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, nil, fmt.Errorf("truncated blob count")
	}
	if int(stored) != count {
		return nil, nil, fmt.Errorf("row count mismatch: expected %d, got %d", count, stored)
	}

	offsets = make([]uint32, count+1)
	offset := n
	for i := 0; i < count; i++ {
		length, n := binary.Uvarint(raw[offset:])
		if n <= 0 {
			return nil, nil, fmt.Errorf("truncated blob length at row %d", i)
		}
		offset += n
		if offset+int(length) > len(raw) {
			return nil, nil, fmt.Errorf("truncated blob at row %d", i)
		}
		// Pack blob bytes down over the length prefixes so offsets
		// address a contiguous region.
		copy(raw[int(offsets[i]):], raw[offset:offset+int(length)])
		offsets[i+1] = offsets[i] + uint32(length)
		offset += int(length)
	}

	return raw[:offsets[count]], offsets, nil
}

// DecodedBlobLen returns the buffer size DecodeBlobs needs for a payload
func DecodedBlobLen(payload []byte) (int, error) {
	n, err := snappy.DecodedLen(payload)
	if err != nil {
		return 0, fmt.Errorf("bad snappy payload: %w", err)
	}
	return n, nil
}
