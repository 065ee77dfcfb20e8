package grpcsink

import (
	"encoding/binary"
	"fmt"

	"github.com/soltixdb/rollup/internal/rollup"
)

// The sink speaks a byte-framed write RPC: the store side owns the
// canonical chunk layout, so the request body is the chunk sets' wire
// form prefixed with routing metadata, not a separate message schema.
//
// Request layout:
//
//	[datasetLen: 2 bytes LE][dataset]
//	[ttlSeconds: 4 bytes LE]
//	[chunkCount: 4 bytes LE]
//	[chunk set wire frames...]
//
// Response layout:
//
//	[status: 1 byte] 0 = success, 1 = error
//	[messageLen: 2 bytes LE][message]

// WriteMethod is the full store write RPC method name
const WriteMethod = "/rollup.store.v1.ChunkSink/WriteChunks"

const (
	statusSuccess byte = 0
	statusError   byte = 1
)

// WriteRequest is the decoded form of a write request frame
type WriteRequest struct {
	Dataset    string
	TTLSeconds uint32
	ChunkSets  [][]byte
}

// appendWriteRequest drains chunks into a request frame
func appendWriteRequest(dst []byte, dataset string, ttlSeconds uint32, chunks rollup.ChunkSetIterator) (frame []byte, chunkCount, rowCount int) {
	var scratch [4]byte

	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(dataset)))
	dst = append(dst, scratch[:2]...)
	dst = append(dst, dataset...)

	binary.LittleEndian.PutUint32(scratch[:4], ttlSeconds)
	dst = append(dst, scratch[:4]...)

	countAt := len(dst)
	dst = append(dst, 0, 0, 0, 0) // chunk count back-filled below

	for {
		cs, ok := chunks.Next()
		if !ok {
			break
		}
		dst = rollup.AppendChunkSet(dst, cs)
		chunkCount++
		rowCount += cs.NumRows
	}
	binary.LittleEndian.PutUint32(dst[countAt:], uint32(chunkCount))
	return dst, chunkCount, rowCount
}

// DecodeWriteRequest parses a request frame. Used by the store side and
// by tests; chunk set entries alias data.
func DecodeWriteRequest(data []byte) (WriteRequest, error) {
	var req WriteRequest
	if len(data) < 2 {
		return req, fmt.Errorf("truncated dataset length")
	}
	datasetLen := int(binary.LittleEndian.Uint16(data))
	offset := 2
	if offset+datasetLen+8 > len(data) {
		return req, fmt.Errorf("truncated request header")
	}
	req.Dataset = string(data[offset : offset+datasetLen])
	offset += datasetLen

	req.TTLSeconds = binary.LittleEndian.Uint32(data[offset:])
	chunkCount := int(binary.LittleEndian.Uint32(data[offset+4:]))
	offset += 8

	req.ChunkSets = make([][]byte, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		_, n, err := rollup.UnmarshalChunkSet(data[offset:])
		if err != nil {
			return req, fmt.Errorf("chunk set %d: %w", i, err)
		}
		req.ChunkSets = append(req.ChunkSets, data[offset:offset+n])
		offset += n
	}
	return req, nil
}

// EncodeWriteResponse builds a response frame
func EncodeWriteResponse(ok bool, message string) []byte {
	status := statusSuccess
	if !ok {
		status = statusError
	}
	frame := make([]byte, 0, 3+len(message))
	frame = append(frame, status)
	var scratch [2]byte
	binary.LittleEndian.PutUint16(scratch[:], uint16(len(message)))
	frame = append(frame, scratch[:]...)
	return append(frame, message...)
}

// decodeWriteResponse parses a response frame into (success, message)
func decodeWriteResponse(data []byte) (bool, string, error) {
	if len(data) < 3 {
		return false, "", fmt.Errorf("truncated response: %d bytes", len(data))
	}
	msgLen := int(binary.LittleEndian.Uint16(data[1:]))
	if 3+msgLen > len(data) {
		return false, "", fmt.Errorf("truncated response message")
	}
	return data[0] == statusSuccess, string(data[3 : 3+msgLen]), nil
}

// rawCodec is a grpc codec that passes pre-framed bytes through
// untouched. Messages must be *rawMessage.
type rawCodec struct{}

type rawMessage struct {
	data []byte
}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	return m.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	m.data = data
	return nil
}

func (rawCodec) Name() string { return "rollup-raw" }
