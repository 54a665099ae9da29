package bitmap

import (
	"encoding/binary"
	"fmt"

	"github.com/weafon/vmfs-tool/internal/parsers/metadata"
	"github.com/weafon/vmfs-tool/internal/types"
)

// BitmapEntryReader provides parsing capabilities for one bitmap
// entry record: metadata header, count fields and the item bitfield.
type BitmapEntryReader struct {
	entry  *types.BitmapEntry
	endian binary.ByteOrder
}

// NewBitmapEntryReader creates a new bitmap entry reader. The buffer
// must hold a full entry record; the item bitfield is copied, so the
// entry stays valid after the buffer is reused.
func NewBitmapEntryReader(data []byte, endian binary.ByteOrder) (*BitmapEntryReader, error) {
	if len(data) < types.BitmapEntrySize {
		return nil, fmt.Errorf("data too small for bitmap entry: %d bytes, need %d",
			len(data), types.BitmapEntrySize)
	}

	entry, err := parseBitmapEntry(data, endian)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bitmap entry: %w", err)
	}

	return &BitmapEntryReader{
		entry:  entry,
		endian: endian,
	}, nil
}

// parseBitmapEntry parses raw bytes into a BitmapEntry.
// Layout: metadata header (512 bytes), then id, total, free, ffree
// (u32 each at 0x200), then the item bitfield at 0x210.
func parseBitmapEntry(data []byte, endian binary.ByteOrder) (*types.BitmapEntry, error) {
	mdhReader, err := metadata.NewMetadataHeaderReader(data[:types.MetadataHeaderSize], endian)
	if err != nil {
		return nil, fmt.Errorf("bad entry metadata header: %w", err)
	}

	entry := &types.BitmapEntry{
		Mdh:   *mdhReader.Header(),
		ID:    endian.Uint32(data[0x200:0x204]),
		Total: endian.Uint32(data[0x204:0x208]),
		Free:  endian.Uint32(data[0x208:0x20c]),
		FFree: endian.Uint32(data[0x20c:0x210]),
	}

	entry.Bitmap = make([]byte, types.BitmapEntrySize-types.BitmapEntryBitfieldOffset)
	copy(entry.Bitmap, data[types.BitmapEntryBitfieldOffset:types.BitmapEntrySize])

	return entry, nil
}

// Entry returns the parsed bitmap entry.
func (r *BitmapEntryReader) Entry() *types.BitmapEntry {
	return r.entry
}

// ID returns the entry's own index field.
func (r *BitmapEntryReader) ID() uint32 {
	return r.entry.ID
}

// FreeCount returns the number of free items the entry claims.
func (r *BitmapEntryReader) FreeCount() uint32 {
	return r.entry.Free
}

// IsFull reports whether the entry has no free items left.
func (r *BitmapEntryReader) IsFull() bool {
	return r.entry.Free == 0
}

// EncodeBitmapEntry serializes a bitmap entry into a full on-disk
// entry record, metadata header included.
func EncodeBitmapEntry(entry *types.BitmapEntry, endian binary.ByteOrder) []byte {
	data := make([]byte, types.BitmapEntrySize)

	copy(data[:types.MetadataHeaderSize], metadata.EncodeMetadataHeader(&entry.Mdh, endian))
	endian.PutUint32(data[0x200:0x204], entry.ID)
	endian.PutUint32(data[0x204:0x208], entry.Total)
	endian.PutUint32(data[0x208:0x20c], entry.Free)
	endian.PutUint32(data[0x20c:0x210], entry.FFree)
	copy(data[types.BitmapEntryBitfieldOffset:], entry.Bitmap)

	return data
}
