package grpcsink

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/soltixdb/rollup/internal/logging"
	"github.com/soltixdb/rollup/internal/rollup"
	"github.com/soltixdb/rollup/internal/sink"
)

// Sink writes chunk sets to store nodes over gRPC. Each dataset is
// pinned to one node by hashing the dataset name over the address list,
// so a resolution's chunks always land on the same node and the node can
// apply writes atomically per request.
type Sink struct {
	addresses       []string
	sessionProvider string
	pool            *connPool
	logger          *logging.Logger
}

// New creates a gRPC sink over the given store node addresses. The
// optional sessionProvider name travels as call metadata so the store
// can resolve write credentials; this process never holds credentials
// itself.
func New(addresses []string, sessionProvider string, logger *logging.Logger) (*Sink, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("at least one store address is required")
	}
	return &Sink{
		addresses:       addresses,
		sessionProvider: sessionProvider,
		pool:            newConnPool(logger),
		logger:          logger,
	}, nil
}

// addressFor pins a dataset to a store node
func (s *Sink) addressFor(dataset string) string {
	// FNV-1a
	h := uint32(2166136261)
	for i := 0; i < len(dataset); i++ {
		h ^= uint32(dataset[i])
		h *= 16777619
	}
	return s.addresses[h%uint32(len(s.addresses))]
}

// Write ships the iterator's chunk sets to the dataset's store node in
// one request and waits for the acknowledgement. Any non-success
// response comes back as an error; retrying is the store client's
// concern, not the caller's.
func (s *Sink) Write(ctx context.Context, dataset string, chunks rollup.ChunkSetIterator, ttl time.Duration) (sink.Response, error) {
	resp := sink.Response{Dataset: dataset}

	frame, chunkCount, rowCount := appendWriteRequest(nil, dataset, uint32(ttl/time.Second), chunks)
	if chunkCount == 0 {
		return resp, nil
	}

	address := s.addressFor(dataset)
	conn, err := s.pool.get(address)
	if err != nil {
		return resp, fmt.Errorf("dataset %s: %w", dataset, err)
	}

	if s.sessionProvider != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "session-provider", s.sessionProvider)
	}

	var reply rawMessage
	err = conn.Invoke(ctx, WriteMethod, &rawMessage{data: frame}, &reply, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return resp, fmt.Errorf("store write to %s for dataset %s failed: %w", address, dataset, err)
	}

	ok, message, err := decodeWriteResponse(reply.data)
	if err != nil {
		return resp, fmt.Errorf("store response from %s for dataset %s: %w", address, dataset, err)
	}
	if !ok {
		return resp, fmt.Errorf("store rejected write for dataset %s: %s", dataset, message)
	}

	resp.ChunksWritten = chunkCount
	resp.RowsWritten = rowCount
	s.logger.Debug("Store write acknowledged",
		"dataset", dataset,
		"address", address,
		"chunks", chunkCount,
		"rows", rowCount)
	return resp, nil
}

// Close releases the sink's connections
func (s *Sink) Close() {
	s.pool.close()
}
