package types

import "github.com/google/uuid"

// Volume-level records. A VMFS extent carries an LVM volume-info
// record and, on the first extent, the filesystem information record.

const (
	// VolInfoBase is the byte offset of the volume-info record.
	VolInfoBase = 0x100000

	// VolInfoMagic identifies a volume-info record.
	VolInfoMagic = 0xc001d00d

	// FSInfoBase is the byte offset of the filesystem info record.
	FSInfoBase = 0x1200000

	// FSInfoMagic identifies a filesystem info record.
	FSInfoMagic = 0x2fabf15e
)

// VolInfo is the decoded LVM volume information record.
type VolInfo struct {
	// Magic must equal VolInfoMagic.
	Magic uint32

	// Volume format version.
	Version uint32

	// Volume name.
	Name string

	// Size of the logical volume in bytes.
	Size uint64

	// LUN on-disk identity.
	UUID uuid.UUID

	// The number of extents composing the logical volume.
	NumSegments uint32

	// First and last segment numbers carried by this extent.
	FirstSegment uint32
	LastSegment  uint32
}

// FSInfo is the decoded filesystem information record.
type FSInfo struct {
	// Magic must equal FSInfoMagic.
	Magic uint32

	// Volume format version of the creating host.
	VolVersion uint32

	// Filesystem format version.
	Version uint8

	// Filesystem UUID.
	UUID uuid.UUID

	// Mode flags.
	Mode uint32

	// Volume label.
	Label string

	// Underlying device block size in bytes.
	DevBlockSize uint32

	// Filesystem (file) block size in bytes.
	BlockSize uint64

	// Creation timestamp (seconds).
	Ctime uint32

	// UUID of the logical volume the filesystem was created on.
	LVMUUID uuid.UUID

	// Size of the file-descriptor-cluster metafile header.
	FDCHeaderSize uint32

	// Number of bitmap entries in the file-descriptor cluster.
	FDCBitmapCount uint32

	// Sub-block size in bytes.
	SubBlockSize uint32
}
