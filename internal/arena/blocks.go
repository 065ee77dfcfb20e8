package arena

// BlockFactory hands out fixed-size blocks that back the encoded chunk
// records produced during flush. Blocks stay "used" until the driver
// marks the batch done; MarkUsedBlocksReclaimable then returns every
// block handed out since the last mark to the free list in one sweep,
// so chunk encoding never has to track individual block lifetimes.
//
// Thread-affine: one factory per worker, no internal locking.
type BlockFactory struct {
	blockSize int
	free      [][]byte
	used      [][]byte
	oversized int
}

// NewBlockFactory creates a factory issuing blocks of blockSize bytes
func NewBlockFactory(blockSize int) *BlockFactory {
	return &BlockFactory{blockSize: blockSize}
}

// BlockSize returns the fixed block size
func (f *BlockFactory) BlockSize() int { return f.blockSize }

// Get returns a block of length n. Requests up to the block size are
// served from the free list; larger requests get a one-off block that is
// dropped rather than recycled at the next mark.
func (f *BlockFactory) Get(n int) []byte {
	if n > f.blockSize {
		f.oversized++
		buf := make([]byte, n)
		f.used = append(f.used, nil) // placeholder so counts line up
		return buf
	}

	var buf []byte
	if len(f.free) > 0 {
		buf = f.free[len(f.free)-1]
		f.free = f.free[:len(f.free)-1]
	} else {
		buf = make([]byte, f.blockSize)
	}
	f.used = append(f.used, buf)
	return buf[:n]
}

// MarkUsedBlocksReclaimable returns all blocks handed out since the last
// mark to the free list. The caller guarantees nothing references their
// contents anymore.
func (f *BlockFactory) MarkUsedBlocksReclaimable() {
	for _, buf := range f.used {
		if buf == nil {
			continue // oversized one-off
		}
		f.free = append(f.free, buf[:f.blockSize:f.blockSize])
	}
	f.used = f.used[:0]
}

// UsedBlocks reports blocks handed out since the last mark
func (f *BlockFactory) UsedBlocks() int { return len(f.used) }

// FreeBlocks reports blocks currently on the free list
func (f *BlockFactory) FreeBlocks() int { return len(f.free) }
