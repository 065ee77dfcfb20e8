package sink

import (
	"context"
	"sync"
	"time"

	"github.com/soltixdb/rollup/internal/rollup"
)

// numShards spreads dataset lock contention across independent maps
const numShards = 16

type memoryShard struct {
	mu   sync.RWMutex
	data map[string][]StoredChunkSet
}

// StoredChunkSet is one chunk set as the memory sink retains it: the
// wire-form bytes (copied, so recycled arena blocks can't mutate them)
// plus the TTL it was written with.
type StoredChunkSet struct {
	Bytes []byte
	TTL   time.Duration
}

// MemorySink is an in-process Sink used by tests and by dev mode. It
// stores the exact wire form a store node would receive, which lets
// tests assert byte-identical output across batch re-runs.
type MemorySink struct {
	shards [numShards]memoryShard
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	s := &MemorySink{}
	for i := range s.shards {
		s.shards[i].data = make(map[string][]StoredChunkSet)
	}
	return s
}

func (s *MemorySink) shardFor(dataset string) *memoryShard {
	// FNV-1a
	h := uint32(2166136261)
	for i := 0; i < len(dataset); i++ {
		h ^= uint32(dataset[i])
		h *= 16777619
	}
	return &s.shards[h%numShards]
}

// Write drains the iterator into the dataset's shard
func (s *MemorySink) Write(ctx context.Context, dataset string, chunks rollup.ChunkSetIterator, ttl time.Duration) (Response, error) {
	resp := Response{Dataset: dataset}
	shard := s.shardFor(dataset)

	var stored []StoredChunkSet
	for {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		cs, ok := chunks.Next()
		if !ok {
			break
		}
		stored = append(stored, StoredChunkSet{
			Bytes: rollup.AppendChunkSet(nil, cs),
			TTL:   ttl,
		})
		resp.ChunksWritten++
		resp.RowsWritten += cs.NumRows
	}

	if len(stored) > 0 {
		shard.mu.Lock()
		shard.data[dataset] = append(shard.data[dataset], stored...)
		shard.mu.Unlock()
	}

	return resp, nil
}

// ChunkSets returns the stored chunk sets for a dataset in write order
func (s *MemorySink) ChunkSets(dataset string) []StoredChunkSet {
	shard := s.shardFor(dataset)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	out := make([]StoredChunkSet, len(shard.data[dataset]))
	copy(out, shard.data[dataset])
	return out
}

// Datasets returns all dataset names with at least one stored chunk set
func (s *MemorySink) Datasets() []string {
	var out []string
	for i := range s.shards {
		s.shards[i].mu.RLock()
		for name := range s.shards[i].data {
			out = append(out, name)
		}
		s.shards[i].mu.RUnlock()
	}
	return out
}

// Reset drops all stored chunk sets
func (s *MemorySink) Reset() {
	for i := range s.shards {
		s.shards[i].mu.Lock()
		s.shards[i].data = make(map[string][]StoredChunkSet)
		s.shards[i].mu.Unlock()
	}
}
