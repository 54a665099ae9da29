package interfaces

import "github.com/weafon/vmfs-tool/internal/types"

// BlockAllocator is the consumer-facing surface of the block
// allocation core. Callers are the directory/inode/file layers; they
// hand in block identifiers or resource types and get identifiers,
// statuses or errors back.
type BlockAllocator interface {
	// GetStatus reports whether the identified block is allocated.
	GetStatus(blkID uint32) (types.ItemStatus, error)

	// Alloc allocates one block of the given type and returns its
	// identifier.
	Alloc(blkType types.BlockType) (uint32, error)

	// AllocSpecified reserves the exact identifier the caller wants,
	// e.g. when reconstructing a known layout.
	AllocSpecified(blkID uint32) error

	// Free releases the identified block.
	Free(blkID uint32) error

	// ZeroizeFileBlock overwrites a file block's data region with
	// zeros. Only valid for file block identifiers.
	ZeroizeFileBlock(blkID uint32) error
}
