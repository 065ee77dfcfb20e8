package arena

import (
	"github.com/soltixdb/rollup/internal/schema"
)

// blockSizeSafetyFactor guards against per-chunk records that outgrow
// the declared meta size estimate; the estimate has undercounted before.
const blockSizeSafetyFactor = 2

// Arena is the per-worker bundle of batch memory: the native allocator
// backing paged raw partitions, the block factory backing encoded flush
// chunks, and one write buffer pool per raw schema id.
//
// An arena lives as long as its worker and is never shared between
// goroutines. Its blocks are recycled between batches: the driver calls
// Blocks.MarkUsedBlocksReclaimable at the end of every batch, success or
// failure.
type Arena struct {
	Allocator *NativeAllocator
	Blocks    *BlockFactory

	pools map[int32]*BufferPool
}

// New builds an arena for every downsample-capable schema in the
// registry. expectedPartitions sizes each schema's buffer pool: the
// number of that schema's partitions expected to hold write buffers at
// the same time within one batch.
func New(reg *schema.Registry, expectedPartitions int) *Arena {
	if expectedPartitions < 1 {
		expectedPartitions = 1
	}

	a := &Arena{
		Allocator: NewNativeAllocator(),
		Blocks:    NewBlockFactory(blockSizeSafetyFactor * reg.MaxBlockMetaSize()),
		pools:     make(map[int32]*BufferPool),
	}
	for _, s := range reg.Schemas() {
		if s.Downsample == nil {
			continue
		}
		a.pools[s.ID] = NewBufferPool(s.ID, s.Downsample, expectedPartitions)
	}
	return a
}

// Pool returns the write buffer pool for a schema id
func (a *Arena) Pool(schemaID int32) (*BufferPool, bool) {
	p, ok := a.pools[schemaID]
	return p, ok
}
