// Package block implements the block addressing and allocation core:
// the 32-bit block identifier codec and the allocator that reserves,
// frees and zero-fills blocks through the per-type bitmap stores.
package block

import (
	"errors"
	"fmt"

	"github.com/weafon/vmfs-tool/internal/types"
)

// ErrInvalidBlockType is returned when a block identifier carries an
// unrecognized type tag, or an operation is asked to work on a type
// it does not support.
var ErrInvalidBlockType = errors.New("invalid block type")

// TypeOf extracts the resource type tag of a block identifier.
func TypeOf(blkID uint32) types.BlockType {
	return types.BlockType(blkID & types.BlockTypeMask)
}

// Decode splits a block identifier into its resource type, entry
// index and item index. Unrecognized tags are an error, never a
// default.
//
// The file-block case is a deliberate exception to the (entry, item)
// pairing: file blocks are addressed by a single flat item index over
// one logical entry, so the entry comes back 0 and the item spans the
// whole bitmap.
func Decode(blkID uint32) (types.BlockType, uint32, uint32, error) {
	switch TypeOf(blkID) {
	case types.BlockTypeFB:
		return types.BlockTypeFB, 0, FBItem(blkID), nil

	case types.BlockTypeSB:
		entry := (blkID & types.SBEntryMask) >> types.BlockTypeShift
		item := (blkID >> types.SBItemShift) & types.SBItemMask
		return types.BlockTypeSB, entry, item, nil

	case types.BlockTypePB:
		entry := (blkID & types.PBEntryMask) >> types.BlockTypeShift
		item := (blkID >> types.PBItemShift) & types.PBItemMask
		return types.BlockTypePB, entry, item, nil

	case types.BlockTypeFD:
		entry := (blkID >> types.BlockTypeShift) & types.FDEntryMask
		item := (blkID >> types.FDItemShift) & types.FDItemMask
		return types.BlockTypeFD, entry, item, nil

	default:
		return types.BlockTypeNone, 0, 0,
			fmt.Errorf("%w: tag %d in block id 0x%08x", ErrInvalidBlockType, uint32(TypeOf(blkID)), blkID)
	}
}

// Encode assembles a block identifier for the given type from an
// (entry, item) pair. For file blocks the pair must already be folded
// into a flat address carried in item, with entry 0.
func Encode(blkType types.BlockType, entry, item uint32) (uint32, error) {
	switch blkType {
	case types.BlockTypeFB:
		return FBBuild(item), nil
	case types.BlockTypeSB:
		return SBBuild(entry, item), nil
	case types.BlockTypePB:
		return PBBuild(entry, item), nil
	case types.BlockTypeFD:
		return FDBuild(entry, item), nil
	default:
		return 0, fmt.Errorf("%w: type %d", ErrInvalidBlockType, uint32(blkType))
	}
}

// FBItem extracts the flat item index of a file block identifier.
func FBItem(blkID uint32) uint32 {
	return blkID >> types.FBItemShift
}

// FBTBZ reports whether a file block identifier carries the
// to-be-zeroed flag.
func FBTBZ(blkID uint32) bool {
	return blkID&types.FBTBZFlag != 0
}

// FBBuild assembles a file block identifier from a flat item index.
func FBBuild(item uint32) uint32 {
	return item<<types.FBItemShift | uint32(types.BlockTypeFB)
}

// SBBuild assembles a sub-block identifier.
func SBBuild(entry, item uint32) uint32 {
	return entry<<types.BlockTypeShift | item<<types.SBItemShift | uint32(types.BlockTypeSB)
}

// PBBuild assembles a pointer block identifier.
func PBBuild(entry, item uint32) uint32 {
	return entry<<types.BlockTypeShift | item<<types.PBItemShift | uint32(types.BlockTypePB)
}

// FDBuild assembles a file descriptor identifier.
func FDBuild(entry, item uint32) uint32 {
	return entry<<types.BlockTypeShift | item<<types.FDItemShift | uint32(types.BlockTypeFD)
}
