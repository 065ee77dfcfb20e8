package columnar

import (
	"encoding/binary"
	"fmt"

	"github.com/soltixdb/rollup/internal/codec"
)

// EncodedVector is one column of a chunk in the store's canonical wire
// form: a codec-compressed payload plus the layout needed to decode it.
type EncodedVector struct {
	Kind    VectorType
	Rows    int
	Payload []byte
}

// EncodeLongColumn delta-encodes an int64 column
func EncodeLongColumn(values []int64) EncodedVector {
	return EncodedVector{
		Kind:    VectorLong,
		Rows:    len(values),
		Payload: codec.AppendDeltaInt64(nil, values),
	}
}

// EncodeDoubleColumn gorilla-encodes a float64 column
func EncodeDoubleColumn(values []float64) EncodedVector {
	return EncodedVector{
		Kind:    VectorDouble,
		Rows:    len(values),
		Payload: codec.AppendGorillaFloat64(nil, values),
	}
}

// EncodeHistogramColumn packs and compresses a serialized-histogram column
func EncodeHistogramColumn(blobs [][]byte) EncodedVector {
	return EncodedVector{
		Kind:    VectorHistogram,
		Rows:    len(blobs),
		Payload: codec.AppendBlobs(nil, blobs),
	}
}

// EncodedChunk is one chunk of a partition in wire form
type EncodedChunk struct {
	StartTime int64
	EndTime   int64
	NumRows   int
	Vectors   []EncodedVector
}

// Partition wire layout:
//
//	[keyLen: 2 bytes LE][key bytes]           key[0:4] is the schema id, BE
//	[chunkCount: 4 bytes LE]
//	per chunk:
//	  [startTime: 8 bytes LE][endTime: 8 bytes LE]
//	  [numRows: 4 bytes LE][colCount: 2 bytes LE]
//	  per column: [kind: 1 byte][payloadLen: 4 bytes LE][payload]

// AppendPartition appends the wire form of a partition to dst
func AppendPartition(dst []byte, key []byte, chunks []EncodedChunk) []byte {
	var scratch [8]byte

	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(key)))
	dst = append(dst, scratch[:2]...)
	dst = append(dst, key...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(chunks)))
	dst = append(dst, scratch[:4]...)

	for _, c := range chunks {
		binary.LittleEndian.PutUint64(scratch[:8], uint64(c.StartTime))
		dst = append(dst, scratch[:8]...)
		binary.LittleEndian.PutUint64(scratch[:8], uint64(c.EndTime))
		dst = append(dst, scratch[:8]...)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(c.NumRows))
		dst = append(dst, scratch[:4]...)
		binary.LittleEndian.PutUint16(scratch[:2], uint16(len(c.Vectors)))
		dst = append(dst, scratch[:2]...)

		for _, v := range c.Vectors {
			dst = append(dst, byte(v.Kind))
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v.Payload)))
			dst = append(dst, scratch[:4]...)
			dst = append(dst, v.Payload...)
		}
	}
	return dst
}

// MarshalPartition builds a RawPartData blob from a key and wire-form chunks
func MarshalPartition(key []byte, chunks []EncodedChunk) RawPartData {
	return RawPartData{Bytes: AppendPartition(nil, key, chunks)}
}

// parsePartition walks the wire form without decoding vector payloads
func parsePartition(data []byte) (key []byte, chunks []EncodedChunk, err error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("truncated key length")
	}
	keyLen := int(binary.LittleEndian.Uint16(data))
	offset := 2
	if offset+keyLen > len(data) {
		return nil, nil, fmt.Errorf("truncated partition key")
	}
	key = data[offset : offset+keyLen]
	if len(key) < 4 {
		return nil, nil, fmt.Errorf("partition key too short for schema id: %d bytes", len(key))
	}
	offset += keyLen

	if offset+4 > len(data) {
		return nil, nil, fmt.Errorf("truncated chunk count")
	}
	chunkCount := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	chunks = make([]EncodedChunk, 0, chunkCount)
	for ci := 0; ci < chunkCount; ci++ {
		if offset+22 > len(data) {
			return nil, nil, fmt.Errorf("truncated header for chunk %d", ci)
		}
		c := EncodedChunk{
			StartTime: int64(binary.LittleEndian.Uint64(data[offset:])),
			EndTime:   int64(binary.LittleEndian.Uint64(data[offset+8:])),
			NumRows:   int(binary.LittleEndian.Uint32(data[offset+16:])),
		}
		colCount := int(binary.LittleEndian.Uint16(data[offset+20:]))
		offset += 22

		c.Vectors = make([]EncodedVector, 0, colCount)
		for vi := 0; vi < colCount; vi++ {
			if offset+5 > len(data) {
				return nil, nil, fmt.Errorf("truncated vector header for chunk %d column %d", ci, vi)
			}
			kind := VectorType(data[offset])
			payloadLen := int(binary.LittleEndian.Uint32(data[offset+1:]))
			offset += 5
			if offset+payloadLen > len(data) {
				return nil, nil, fmt.Errorf("truncated vector payload for chunk %d column %d", ci, vi)
			}
			c.Vectors = append(c.Vectors, EncodedVector{
				Kind:    kind,
				Rows:    c.NumRows,
				Payload: data[offset : offset+payloadLen],
			})
			offset += payloadLen
		}
		chunks = append(chunks, c)
	}
	return key, chunks, nil
}
