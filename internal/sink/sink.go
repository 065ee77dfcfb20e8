package sink

import (
	"context"
	"time"

	"github.com/soltixdb/rollup/internal/rollup"
)

// Response summarizes one acknowledged dataset write
type Response struct {
	Dataset       string
	ChunksWritten int
	RowsWritten   int
}

// Sink writes chunk sets to a resolution-specific dataset with a
// per-row TTL. Implementations are atomic at chunk-set granularity and
// own their transient retries; the caller treats the returned error as
// authoritative and final. Implementations must be safe for concurrent
// Write calls, one per resolution.
type Sink interface {
	Write(ctx context.Context, dataset string, chunks rollup.ChunkSetIterator, ttl time.Duration) (Response, error)
}
