// Package types implements data structures for the VMFS on-disk format.
// Field layouts and bit-field widths follow the legacy vmfs-tools
// definitions; they are a compatibility contract with existing volumes
// and must not be changed.
package types

import "fmt"

// BlockType is the resource type carried in the low bits of a block
// identifier.
type BlockType uint32

const (
	// BlockTypeNone is an unused/invalid identifier.
	BlockTypeNone BlockType = 0

	// BlockTypeFB is a file block (file data storage).
	BlockTypeFB BlockType = 1

	// BlockTypeSB is a sub-block (small file storage).
	BlockTypeSB BlockType = 2

	// BlockTypePB is a pointer block (indirection tables).
	BlockTypePB BlockType = 3

	// BlockTypeFD is a file descriptor (inode record).
	BlockTypeFD BlockType = 4

	// BlockTypeMax bounds the valid type values.
	BlockTypeMax BlockType = 5
)

// String returns the short legacy name of the block type.
func (t BlockType) String() string {
	switch t {
	case BlockTypeNone:
		return "none"
	case BlockTypeFB:
		return "fb"
	case BlockTypeSB:
		return "sb"
	case BlockTypePB:
		return "pb"
	case BlockTypeFD:
		return "fd"
	default:
		return fmt.Sprintf("invalid(%d)", uint32(t))
	}
}

// Valid reports whether the type is one of the four allocatable
// resource types.
func (t BlockType) Valid() bool {
	return t > BlockTypeNone && t < BlockTypeMax
}

// Block identifier bit-field layout. The type tag occupies the low
// 3 bits; the remaining bits are interpreted per type.
const (
	// BlockTypeMask extracts the type tag.
	BlockTypeMask = 0x00000007

	// BlockTypeShift positions the entry field above the tag and the
	// file-block flag bits.
	BlockTypeShift = 6

	// FBItemShift positions the flat file-block item (26 bits).
	FBItemShift = 6

	// FBTBZFlag marks a file block that must be zeroed before use.
	FBTBZFlag = 0x20

	// SBItemShift and SBItemMask locate the 4-bit sub-block item.
	SBItemShift = 28
	SBItemMask  = 0x0f

	// SBEntryMask locates the 22-bit sub-block entry (pre-shift).
	SBEntryMask = 0x0fffffc0

	// PBItemShift and PBItemMask locate the 4-bit pointer-block item.
	PBItemShift = 28
	PBItemMask  = 0x0f

	// PBEntryMask locates the 22-bit pointer-block entry (pre-shift).
	PBEntryMask = 0x0fffffc0

	// FDItemShift and FDItemMask locate the 10-bit descriptor item.
	FDItemShift = 22
	FDItemMask  = 0x3ff

	// FDEntryMask locates the 16-bit descriptor entry (post-shift).
	FDEntryMask = 0xffff
)

// DioBlockSize is the direct-I/O alignment used for raw volume writes.
// Zero-fill of a newly allocated file block proceeds in chunks of this
// size, not of the filesystem block size.
const DioBlockSize = 4096
