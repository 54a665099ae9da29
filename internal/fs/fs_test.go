package fs

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weafon/vmfs-tool/internal/block"
	"github.com/weafon/vmfs-tool/internal/device"
	bmpparser "github.com/weafon/vmfs-tool/internal/parsers/bitmap"
	"github.com/weafon/vmfs-tool/internal/parsers/volume"
	"github.com/weafon/vmfs-tool/internal/store"
	"github.com/weafon/vmfs-tool/internal/types"
)

const (
	testBlockSize = 8192
	fbbBase       = 0x1300000
	sbcBase       = 0x1340000
	pbcBase       = 0x1380000
	fdcBase       = 0x13c0000
)

func testLayout() Layout {
	return Layout{
		FBBBase: fbbBase,
		SBCBase: sbcBase,
		PBCBase: pbcBase,
		FDCBase: fdcBase,
	}
}

func writeBitmapImage(t *testing.T, dev *device.MemoryDevice, base int64, itemsPerEntry, entryCount uint32) {
	t.Helper()

	endian := binary.LittleEndian
	hdr := &types.BitmapHeader{
		ItemsPerBitmapEntry: itemsPerEntry,
		BmpEntriesPerArea:   entryCount,
		HdrSize:             0x1000,
		DataSize:            64,
		AreaSize:            0x1000 + entryCount*(types.BitmapEntrySize+itemsPerEntry*64),
		TotalItems:          itemsPerEntry * entryCount,
		AreaCount:           1,
	}

	hbuf := make([]byte, bmpparser.BitmapHeaderSize)
	endian.PutUint32(hbuf[0:4], hdr.ItemsPerBitmapEntry)
	endian.PutUint32(hbuf[4:8], hdr.BmpEntriesPerArea)
	endian.PutUint32(hbuf[8:12], hdr.HdrSize)
	endian.PutUint32(hbuf[12:16], hdr.DataSize)
	endian.PutUint32(hbuf[16:20], hdr.AreaSize)
	endian.PutUint32(hbuf[20:24], hdr.TotalItems)
	endian.PutUint32(hbuf[24:28], hdr.AreaCount)
	_, err := dev.WriteAt(hbuf, base)
	require.NoError(t, err)

	for id := uint32(0); id < entryCount; id++ {
		pos := base + bmpparser.EntryAddr(hdr, id)
		entry := &types.BitmapEntry{
			Mdh: types.MetadataHeader{
				Magic: types.MetadataMagic,
				Pos:   uint64(pos),
			},
			ID:     id,
			Total:  itemsPerEntry,
			Free:   itemsPerEntry,
			Bitmap: make([]byte, types.BitmapEntrySize-types.BitmapEntryBitfieldOffset),
		}
		_, err := dev.WriteAt(bmpparser.EncodeBitmapEntry(entry, endian), pos)
		require.NoError(t, err)
	}
}

// testDevice builds a scratch volume image: volume info, fs info and
// four small bitmap metafiles.
func testDevice(t *testing.T) *device.MemoryDevice {
	t.Helper()

	endian := binary.LittleEndian
	dev := device.NewMemory(32 << 20)

	volBuf := make([]byte, volume.VolInfoSize)
	endian.PutUint32(volBuf[0x00:0x04], types.VolInfoMagic)
	endian.PutUint32(volBuf[0x04:0x08], 5)
	copy(volBuf[0x12:], "test-lun")
	endian.PutUint64(volBuf[0x80:0x88], 32<<20)
	lunUUID := uuid.New()
	copy(volBuf[0x92:0xa2], lunUUID[:])
	endian.PutUint32(volBuf[0xa2:0xa6], 1)
	_, err := dev.WriteAt(volBuf, types.VolInfoBase)
	require.NoError(t, err)

	fsBuf := make([]byte, volume.FSInfoSize)
	endian.PutUint32(fsBuf[0x00:0x04], types.FSInfoMagic)
	endian.PutUint32(fsBuf[0x04:0x08], 4)
	fsBuf[0x08] = 21
	fsUUID := uuid.New()
	copy(fsBuf[0x09:0x19], fsUUID[:])
	copy(fsBuf[0x1d:], "scratch")
	endian.PutUint32(fsBuf[0x9d:0xa1], 512)
	endian.PutUint64(fsBuf[0xa1:0xa9], testBlockSize)
	lvmUUID := uuid.New()
	copy(fsBuf[0xb1:0xc1], lvmUUID[:])
	endian.PutUint32(fsBuf[0xd9:0xdd], 64)
	_, err = dev.WriteAt(fsBuf, types.FSInfoBase)
	require.NoError(t, err)

	for _, base := range []int64{fbbBase, sbcBase, pbcBase, fdcBase} {
		writeBitmapImage(t, dev, base, 8, 2)
	}

	return dev
}

func openTestFS(t *testing.T) *FS {
	t.Helper()

	f, err := Open(testDevice(t), testLayout(), Options{
		LockRetries:    3,
		LockRetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return f
}

func TestOpenValidatesRecords(t *testing.T) {
	f := openTestFS(t)

	assert.Equal(t, "scratch", f.Info().Label)
	assert.Equal(t, "test-lun", f.VolumeInfo().Name)
	assert.Equal(t, uint64(testBlockSize), f.BlockSize())
}

func TestOpenRejectsBlankDevice(t *testing.T) {
	dev := device.NewMemory(32 << 20)

	_, err := Open(dev, testLayout(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a recognized volume")
}

func TestBitmapDispatch(t *testing.T) {
	f := openTestFS(t)

	for _, blkType := range []types.BlockType{
		types.BlockTypeFB, types.BlockTypeSB, types.BlockTypePB, types.BlockTypeFD,
	} {
		bmp, err := f.Bitmap(blkType)
		require.NoError(t, err)
		assert.NotNil(t, bmp)
	}

	_, err := f.Bitmap(types.BlockTypeNone)
	assert.ErrorIs(t, err, block.ErrInvalidBlockType)
}

func TestAllocatorThroughHandle(t *testing.T) {
	f := openTestFS(t)
	alloc := f.Allocator()

	blkID, err := alloc.Alloc(types.BlockTypeSB)
	require.NoError(t, err)

	status, err := alloc.GetStatus(blkID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemAllocated, status)

	require.NoError(t, alloc.Free(blkID))

	status, err = alloc.GetStatus(blkID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemFree, status)

	// Allocation state survives the fused find-and-lock path across
	// all entries.
	seen := make(map[uint32]bool)
	for i := 0; i < 16; i++ {
		id, err := alloc.Alloc(types.BlockTypeSB)
		require.NoError(t, err)
		assert.False(t, seen[id], "identifier 0x%08x allocated twice", id)
		seen[id] = true
	}
	_, err = alloc.Alloc(types.BlockTypeSB)
	assert.ErrorIs(t, err, store.ErrNoSpace)
}

func TestWriteFileBlockPlacement(t *testing.T) {
	f := openTestFS(t)

	// File block n occupies the volume at n*blocksize.
	const item = 2048
	payload := []byte{1, 2, 3, 4}
	n, err := f.WriteFileBlock(item, 16, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	dev := testDeviceOf(f)
	got := make([]byte, 4)
	_, err = dev.ReadAt(got, int64(item)*testBlockSize+16)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// testDeviceOf recovers the memory device behind a test handle.
func testDeviceOf(f *FS) *device.MemoryDevice {
	return f.dev.(*device.MemoryDevice)
}
