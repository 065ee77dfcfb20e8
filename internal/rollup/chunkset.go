package rollup

import (
	"encoding/binary"
	"fmt"

	"github.com/soltixdb/rollup/internal/columnar"
)

// ChunkSet is a flushable, immutable chunk in the store's canonical
// columnar layout, ready for persistence. Vector payloads are backed by
// arena blocks, so a ChunkSet is only valid until the driver marks the
// batch's blocks reclaimable; sinks that outlive the batch must copy.
type ChunkSet struct {
	PartitionKey  []byte
	IngestionTime int64
	StartTime     int64
	EndTime       int64
	NumRows       int
	Vectors       []columnar.EncodedVector
}

// ChunkSetIterator is a pull iterator of chunk sets. The sink drains it;
// exhaustion coincides with every write buffer having been encoded.
type ChunkSetIterator interface {
	Next() (ChunkSet, bool)
}

type sliceIterator struct {
	sets []ChunkSet
	i    int
}

func (it *sliceIterator) Next() (ChunkSet, bool) {
	if it.i >= len(it.sets) {
		return ChunkSet{}, false
	}
	cs := it.sets[it.i]
	it.i++
	return cs, true
}

// ChunkSets wraps a slice as an iterator
func ChunkSets(sets ...ChunkSet) ChunkSetIterator {
	return &sliceIterator{sets: sets}
}

type chainIterator struct {
	iters []ChunkSetIterator
}

func (it *chainIterator) Next() (ChunkSet, bool) {
	for len(it.iters) > 0 {
		if cs, ok := it.iters[0].Next(); ok {
			return cs, true
		}
		it.iters = it.iters[1:]
	}
	return ChunkSet{}, false
}

// ChainChunkSets concatenates iterators into one
func ChainChunkSets(iters ...ChunkSetIterator) ChunkSetIterator {
	return &chainIterator{iters: iters}
}

// ChunkSet wire layout (the unit the store sink ships):
//
//	[keyLen: 2 bytes LE][key bytes]
//	[ingestionTime: 8 bytes LE][startTime: 8 bytes LE][endTime: 8 bytes LE]
//	[numRows: 4 bytes LE][colCount: 2 bytes LE]
//	per column: [kind: 1 byte][payloadLen: 4 bytes LE][payload]

// AppendChunkSet appends the wire form of cs to dst
func AppendChunkSet(dst []byte, cs ChunkSet) []byte {
	var scratch [8]byte

	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(cs.PartitionKey)))
	dst = append(dst, scratch[:2]...)
	dst = append(dst, cs.PartitionKey...)

	binary.LittleEndian.PutUint64(scratch[:8], uint64(cs.IngestionTime))
	dst = append(dst, scratch[:8]...)
	binary.LittleEndian.PutUint64(scratch[:8], uint64(cs.StartTime))
	dst = append(dst, scratch[:8]...)
	binary.LittleEndian.PutUint64(scratch[:8], uint64(cs.EndTime))
	dst = append(dst, scratch[:8]...)
	binary.LittleEndian.PutUint32(scratch[:4], uint32(cs.NumRows))
	dst = append(dst, scratch[:4]...)
	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(cs.Vectors)))
	dst = append(dst, scratch[:2]...)

	for _, v := range cs.Vectors {
		dst = append(dst, byte(v.Kind))
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v.Payload)))
		dst = append(dst, scratch[:4]...)
		dst = append(dst, v.Payload...)
	}
	return dst
}

// UnmarshalChunkSet decodes one wire-form chunk set from data, returning
// the decoded set and the number of bytes consumed. The result aliases
// data.
func UnmarshalChunkSet(data []byte) (ChunkSet, int, error) {
	var cs ChunkSet
	if len(data) < 2 {
		return cs, 0, fmt.Errorf("truncated key length")
	}
	keyLen := int(binary.LittleEndian.Uint16(data))
	offset := 2
	if offset+keyLen+30 > len(data) {
		return cs, 0, fmt.Errorf("truncated chunk set header")
	}
	cs.PartitionKey = data[offset : offset+keyLen]
	offset += keyLen

	cs.IngestionTime = int64(binary.LittleEndian.Uint64(data[offset:]))
	cs.StartTime = int64(binary.LittleEndian.Uint64(data[offset+8:]))
	cs.EndTime = int64(binary.LittleEndian.Uint64(data[offset+16:]))
	cs.NumRows = int(binary.LittleEndian.Uint32(data[offset+24:]))
	colCount := int(binary.LittleEndian.Uint16(data[offset+28:]))
	offset += 30

	cs.Vectors = make([]columnar.EncodedVector, 0, colCount)
	for vi := 0; vi < colCount; vi++ {
		if offset+5 > len(data) {
			return cs, 0, fmt.Errorf("truncated vector header for column %d", vi)
		}
		kind := columnar.VectorType(data[offset])
		payloadLen := int(binary.LittleEndian.Uint32(data[offset+1:]))
		offset += 5
		if offset+payloadLen > len(data) {
			return cs, 0, fmt.Errorf("truncated vector payload for column %d", vi)
		}
		cs.Vectors = append(cs.Vectors, columnar.EncodedVector{
			Kind:    kind,
			Rows:    cs.NumRows,
			Payload: data[offset : offset+payloadLen],
		})
		offset += payloadLen
	}
	return cs, offset, nil
}
