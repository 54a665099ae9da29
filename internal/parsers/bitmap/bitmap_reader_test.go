package bitmap

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"

	"github.com/weafon/vmfs-tool/internal/types"
)

func buildHeaderBytes(endian binary.ByteOrder, h *types.BitmapHeader) []byte {
	data := make([]byte, BitmapHeaderSize)
	endian.PutUint32(data[0:4], h.ItemsPerBitmapEntry)
	endian.PutUint32(data[4:8], h.BmpEntriesPerArea)
	endian.PutUint32(data[8:12], h.HdrSize)
	endian.PutUint32(data[12:16], h.DataSize)
	endian.PutUint32(data[16:20], h.AreaSize)
	endian.PutUint32(data[20:24], h.TotalItems)
	endian.PutUint32(data[24:28], h.AreaCount)
	return data
}

func buildEntryBytes(endian binary.ByteOrder, id, total, free uint32, bitfield []byte) []byte {
	data := make([]byte, types.BitmapEntrySize)

	endian.PutUint32(data[0x00:0x04], types.MetadataMagic)
	endian.PutUint64(data[0x04:0x0c], uint64(0x20000+id*types.BitmapEntrySize))
	holder := uuid.Nil
	copy(data[0x28:0x38], holder[:])

	endian.PutUint32(data[0x200:0x204], id)
	endian.PutUint32(data[0x204:0x208], total)
	endian.PutUint32(data[0x208:0x20c], free)
	endian.PutUint32(data[0x20c:0x210], 0)
	copy(data[types.BitmapEntryBitfieldOffset:], bitfield)

	return data
}

func TestNewBitmapHeaderReader(t *testing.T) {
	endian := binary.LittleEndian
	h := &types.BitmapHeader{
		ItemsPerBitmapEntry: 512,
		BmpEntriesPerArea:   16,
		HdrSize:             0x10000,
		DataSize:            8192,
		AreaSize:            0x4000000,
		TotalItems:          20480,
		AreaCount:           3,
	}

	reader, err := NewBitmapHeaderReader(buildHeaderBytes(endian, h), endian)
	if err != nil {
		t.Fatalf("NewBitmapHeaderReader() failed: %v", err)
	}

	if reader.ItemsPerEntry() != 512 {
		t.Errorf("ItemsPerEntry() = %d, want 512", reader.ItemsPerEntry())
	}
	if reader.TotalItems() != 20480 {
		t.Errorf("TotalItems() = %d, want 20480", reader.TotalItems())
	}
	if reader.EntryCount() != 40 {
		t.Errorf("EntryCount() = %d, want 40", reader.EntryCount())
	}
}

func TestNewBitmapHeaderReader_ZeroItems(t *testing.T) {
	endian := binary.LittleEndian
	data := make([]byte, BitmapHeaderSize)

	if _, err := NewBitmapHeaderReader(data, endian); err == nil {
		t.Error("expected error for zero items per entry, got nil")
	}
}

func TestEntryAddr(t *testing.T) {
	h := &types.BitmapHeader{
		ItemsPerBitmapEntry: 8,
		BmpEntriesPerArea:   4,
		HdrSize:             0x1000,
		DataSize:            64,
		AreaSize:            0x1000 + 4*types.BitmapEntrySize + 4*8*64,
	}

	// Entry 0 begins the first area.
	if got := EntryAddr(h, 0); got != 0x1000 {
		t.Errorf("EntryAddr(0) = 0x%x, want 0x1000", got)
	}

	// Entry 5 lives in the second area, second slot.
	want := int64(h.HdrSize) + int64(h.AreaSize) + types.BitmapEntrySize
	if got := EntryAddr(h, 5); got != want {
		t.Errorf("EntryAddr(5) = 0x%x, want 0x%x", got, want)
	}
}

func TestItemDataAddr(t *testing.T) {
	h := &types.BitmapHeader{
		ItemsPerBitmapEntry: 8,
		BmpEntriesPerArea:   4,
		HdrSize:             0x1000,
		DataSize:            64,
		AreaSize:            0x10000,
	}

	// First item of the first entry starts right after the area's
	// entry records.
	want := int64(0x1000) + 4*types.BitmapEntrySize
	if got := ItemDataAddr(h, 0, 0); got != want {
		t.Errorf("ItemDataAddr(0,0) = 0x%x, want 0x%x", got, want)
	}

	// Item 3 of entry 1 is 11 items into the first area.
	want += 11 * 64
	if got := ItemDataAddr(h, 1, 3); got != want {
		t.Errorf("ItemDataAddr(1,3) = 0x%x, want 0x%x", got, want)
	}

	// First item of entry 4 begins the second area's data region.
	want = int64(0x1000) + int64(h.AreaSize) + 4*types.BitmapEntrySize
	if got := ItemDataAddr(h, 4, 0); got != want {
		t.Errorf("ItemDataAddr(4,0) = 0x%x, want 0x%x", got, want)
	}
}

func TestNewBitmapEntryReader(t *testing.T) {
	endian := binary.LittleEndian
	bitfield := []byte{0x05} // items 0 and 2 allocated
	data := buildEntryBytes(endian, 3, 8, 6, bitfield)

	reader, err := NewBitmapEntryReader(data, endian)
	if err != nil {
		t.Fatalf("NewBitmapEntryReader() failed: %v", err)
	}

	if reader.ID() != 3 {
		t.Errorf("ID() = %d, want 3", reader.ID())
	}
	if reader.FreeCount() != 6 {
		t.Errorf("FreeCount() = %d, want 6", reader.FreeCount())
	}
	if reader.IsFull() {
		t.Error("IsFull() = true, want false")
	}

	entry := reader.Entry()
	if entry.Bitmap[0] != 0x05 {
		t.Errorf("Bitmap[0] = 0x%02x, want 0x05", entry.Bitmap[0])
	}
	if entry.Mdh.Pos != uint64(0x20000+3*types.BitmapEntrySize) {
		t.Errorf("Mdh.Pos = 0x%x, unexpected", entry.Mdh.Pos)
	}
}

func TestNewBitmapEntryReader_BadMagic(t *testing.T) {
	endian := binary.LittleEndian
	data := buildEntryBytes(endian, 0, 8, 8, nil)
	endian.PutUint32(data[0x00:0x04], 0)

	if _, err := NewBitmapEntryReader(data, endian); err == nil {
		t.Error("expected error for bad metadata magic, got nil")
	}
}

func TestEncodeBitmapEntry_RoundTrip(t *testing.T) {
	endian := binary.LittleEndian
	data := buildEntryBytes(endian, 9, 8, 2, []byte{0xfc})

	reader, err := NewBitmapEntryReader(data, endian)
	if err != nil {
		t.Fatalf("NewBitmapEntryReader() failed: %v", err)
	}

	encoded := EncodeBitmapEntry(reader.Entry(), endian)
	if !bytes.Equal(encoded, data) {
		t.Error("encoded entry differs from original record")
	}
}
