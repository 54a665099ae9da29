package types

// Bitmap metafile structures. Each of the four resource types (fbb,
// sbc, pbc, fdc) is tracked by one metafile: a fixed header followed
// by areas of bitmap entries and item data.

// BitmapEntrySize is the on-disk size of one bitmap entry record.
const BitmapEntrySize = 0x400

// BitmapEntryBitfieldOffset is the offset of the item bitfield within
// an entry record (after the metadata header and the count fields).
const BitmapEntryBitfieldOffset = 0x210

// BitmapHeader is the metafile header, read little-endian from offset
// 0 of the metafile. Fixed at filesystem creation time.
type BitmapHeader struct {
	// The number of items tracked by a single bitmap entry.
	ItemsPerBitmapEntry uint32

	// The number of bitmap entries grouped into one area.
	BmpEntriesPerArea uint32

	// The size of the metafile header region in bytes; the first area
	// starts here.
	HdrSize uint32

	// The size of one item's data region in bytes.
	DataSize uint32

	// The size of one area in bytes (entries plus item data).
	AreaSize uint32

	// The total number of items in the metafile.
	TotalItems uint32

	// The number of areas in the metafile.
	AreaCount uint32
}

// EntryCount returns the number of bitmap entries implied by the
// header.
func (h *BitmapHeader) EntryCount() uint32 {
	if h.ItemsPerBitmapEntry == 0 {
		return 0
	}
	return (h.TotalItems + h.ItemsPerBitmapEntry - 1) / h.ItemsPerBitmapEntry
}

// BitmapEntry is one entry record: a metadata header guarding the
// record, redundant position/count fields, and the item bitfield.
// A set bit means the item is allocated.
type BitmapEntry struct {
	// The metadata header; its Pos field is the cluster lock key.
	Mdh MetadataHeader

	// The entry's own index, cross-checked against its position.
	ID uint32

	// The total number of items covered by this entry.
	Total uint32

	// The number of free items in this entry.
	Free uint32

	// Hint of the first free item index.
	FFree uint32

	// The item bitfield, one bit per item, LSB-first within each byte.
	Bitmap []byte
}

// ItemStatus is the allocation state of a single bitmap item.
type ItemStatus int

const (
	// ItemFree means the item is available for allocation.
	ItemFree ItemStatus = 0

	// ItemAllocated means the item is in use.
	ItemAllocated ItemStatus = 1
)

// String returns a printable form of the status.
func (s ItemStatus) String() string {
	if s == ItemAllocated {
		return "allocated"
	}
	return "free"
}
