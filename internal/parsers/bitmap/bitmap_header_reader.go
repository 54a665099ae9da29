// Package bitmap parses the allocation bitmap metafile structures:
// the metafile header and the per-entry records that track free and
// allocated items for one resource type.
package bitmap

import (
	"encoding/binary"
	"fmt"

	"github.com/weafon/vmfs-tool/internal/types"
)

// BitmapHeaderSize is the serialized size of the metafile header
// fields at the start of the metafile.
const BitmapHeaderSize = 28

// BitmapHeaderReader provides parsing capabilities for the bitmap
// metafile header.
type BitmapHeaderReader struct {
	header *types.BitmapHeader
	endian binary.ByteOrder
}

// NewBitmapHeaderReader creates a new bitmap header reader.
func NewBitmapHeaderReader(data []byte, endian binary.ByteOrder) (*BitmapHeaderReader, error) {
	if len(data) < BitmapHeaderSize {
		return nil, fmt.Errorf("data too small for bitmap header: %d bytes, need %d",
			len(data), BitmapHeaderSize)
	}

	header, err := parseBitmapHeader(data, endian)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bitmap header: %w", err)
	}

	return &BitmapHeaderReader{
		header: header,
		endian: endian,
	}, nil
}

// parseBitmapHeader parses raw bytes into a BitmapHeader.
// Layout: 7 consecutive little-endian u32 fields.
func parseBitmapHeader(data []byte, endian binary.ByteOrder) (*types.BitmapHeader, error) {
	h := &types.BitmapHeader{}
	offset := 0

	h.ItemsPerBitmapEntry = endian.Uint32(data[offset : offset+4])
	offset += 4
	h.BmpEntriesPerArea = endian.Uint32(data[offset : offset+4])
	offset += 4
	h.HdrSize = endian.Uint32(data[offset : offset+4])
	offset += 4
	h.DataSize = endian.Uint32(data[offset : offset+4])
	offset += 4
	h.AreaSize = endian.Uint32(data[offset : offset+4])
	offset += 4
	h.TotalItems = endian.Uint32(data[offset : offset+4])
	offset += 4
	h.AreaCount = endian.Uint32(data[offset : offset+4])

	if h.ItemsPerBitmapEntry == 0 {
		return nil, fmt.Errorf("bitmap header declares zero items per entry")
	}
	if h.ItemsPerBitmapEntry > 8*(types.BitmapEntrySize-types.BitmapEntryBitfieldOffset) {
		return nil, fmt.Errorf("bitmap header declares %d items per entry, more than an entry record can hold",
			h.ItemsPerBitmapEntry)
	}

	return h, nil
}

// Header returns the parsed metafile header.
func (r *BitmapHeaderReader) Header() *types.BitmapHeader {
	return r.header
}

// ItemsPerEntry returns the number of items tracked per bitmap entry.
func (r *BitmapHeaderReader) ItemsPerEntry() uint32 {
	return r.header.ItemsPerBitmapEntry
}

// TotalItems returns the total number of items in the metafile.
func (r *BitmapHeaderReader) TotalItems() uint32 {
	return r.header.TotalItems
}

// EntryCount returns the number of bitmap entries in the metafile.
func (r *BitmapHeaderReader) EntryCount() uint32 {
	return r.header.EntryCount()
}

// AreaAddr returns the byte position of an area within the metafile.
func AreaAddr(h *types.BitmapHeader, area uint32) int64 {
	return int64(h.HdrSize) + int64(area)*int64(h.AreaSize)
}

// EntryAddr returns the byte position of a bitmap entry record within
// the metafile. Entries are grouped into areas of BmpEntriesPerArea
// records at the start of each area.
func EntryAddr(h *types.BitmapHeader, entryIdx uint32) int64 {
	area := entryIdx / h.BmpEntriesPerArea
	inArea := entryIdx % h.BmpEntriesPerArea
	return AreaAddr(h, area) + int64(inArea)*types.BitmapEntrySize
}

// ItemDataAddr returns the byte position of an item's data region
// within the metafile.
func ItemDataAddr(h *types.BitmapHeader, entryIdx, itemIdx uint32) int64 {
	itemsPerArea := uint64(h.BmpEntriesPerArea) * uint64(h.ItemsPerBitmapEntry)
	abs := uint64(entryIdx)*uint64(h.ItemsPerBitmapEntry) + uint64(itemIdx)

	area := abs / itemsPerArea
	inArea := abs % itemsPerArea

	pos := AreaAddr(h, uint32(area))
	pos += int64(h.BmpEntriesPerArea) * types.BitmapEntrySize
	pos += int64(inArea) * int64(h.DataSize)

	return pos
}
