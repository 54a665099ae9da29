package block

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weafon/vmfs-tool/internal/device"
	"github.com/weafon/vmfs-tool/internal/interfaces"
	"github.com/weafon/vmfs-tool/internal/locking"
	bmpparser "github.com/weafon/vmfs-tool/internal/parsers/bitmap"
	"github.com/weafon/vmfs-tool/internal/store"
	"github.com/weafon/vmfs-tool/internal/types"
)

const (
	testBlockSize  = 8192
	testFBDataBase = 0x100000
)

// testVolume is a minimal filesystem handle over one memory device:
// four bitmap metafiles at fixed offsets plus a file-block data
// region.
type testVolume struct {
	dev     *device.MemoryDevice
	bitmaps map[types.BlockType]*store.Bitmap
}

// writeBitmapImage lays out a metafile with the given geometry, all
// items free.
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

// newTestVolume builds a volume whose four bitmaps each track two
// entries of eight items.
func newTestVolume(t *testing.T) *testVolume {
	t.Helper()

	dev := device.NewMemory(testFBDataBase + 64*testBlockSize)
	bases := map[types.BlockType]int64{
		types.BlockTypeFB: 0x10000,
		types.BlockTypeSB: 0x30000,
		types.BlockTypePB: 0x50000,
		types.BlockTypeFD: 0x70000,
	}

	vol := &testVolume{
		dev:     dev,
		bitmaps: make(map[types.BlockType]*store.Bitmap),
	}

	for blkType, base := range bases {
		writeBitmapImage(t, dev, base, 8, 2)
		locker := locking.NewDiskLocker(dev, uuid.New(), 3, time.Millisecond)
		bmp, err := store.Open(blkType.String(), dev, base, locker)
		require.NoError(t, err)
		vol.bitmaps[blkType] = bmp
	}

	return vol
}

func (v *testVolume) Bitmap(blkType types.BlockType) (interfaces.BitmapStore, error) {
	bmp, ok := v.bitmaps[blkType]
	if !ok {
		return nil, fmt.Errorf("%w: type %d", ErrInvalidBlockType, uint32(blkType))
	}
	return bmp, nil
}

func (v *testVolume) BlockSize() uint64 {
	return testBlockSize
}

func (v *testVolume) WriteFileBlock(item uint32, offset int64, p []byte) (int, error) {
	return v.dev.WriteAt(p, testFBDataBase+int64(item)*testBlockSize+offset)
}

func TestAllocStatusFreeRoundTrip(t *testing.T) {
	for _, blkType := range []types.BlockType{
		types.BlockTypeFB, types.BlockTypeSB, types.BlockTypePB, types.BlockTypeFD,
	} {
		t.Run(blkType.String(), func(t *testing.T) {
			alloc := NewAllocator(newTestVolume(t))

			blkID, err := alloc.Alloc(blkType)
			require.NoError(t, err)

			status, err := alloc.GetStatus(blkID)
			require.NoError(t, err)
			assert.Equal(t, types.ItemAllocated, status)

			require.NoError(t, alloc.Free(blkID))

			status, err = alloc.GetStatus(blkID)
			require.NoError(t, err)
			assert.Equal(t, types.ItemFree, status)
		})
	}
}

func TestAllocSpecified(t *testing.T) {
	alloc := NewAllocator(newTestVolume(t))

	blkID := SBBuild(1, 3)
	require.NoError(t, alloc.AllocSpecified(blkID))

	status, err := alloc.GetStatus(blkID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemAllocated, status)
}

func TestAllocFirstFitScenario(t *testing.T) {
	alloc := NewAllocator(newTestVolume(t))

	// Fresh bitmap: the first two allocations take addresses 0 and 1.
	first, err := alloc.Alloc(types.BlockTypeFB)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), FBItem(first))

	status, err := alloc.GetStatus(first)
	require.NoError(t, err)
	assert.Equal(t, types.ItemAllocated, status)

	second, err := alloc.Alloc(types.BlockTypeFB)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), FBItem(second))

	// Freeing address 0 makes it the lowest free index again, so the
	// next allocation must reuse it rather than take address 2.
	require.NoError(t, alloc.Free(first))

	status, err = alloc.GetStatus(first)
	require.NoError(t, err)
	assert.Equal(t, types.ItemFree, status)

	third, err := alloc.Alloc(types.BlockTypeFB)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), FBItem(third))
}

func TestAllocSpansEntries(t *testing.T) {
	alloc := NewAllocator(newTestVolume(t))

	// Two entries of eight items each; the ninth allocation crosses
	// into entry 1 with the flat address carrying on.
	for i := uint32(0); i < 16; i++ {
		blkID, err := alloc.Alloc(types.BlockTypeFB)
		require.NoError(t, err)
		assert.Equal(t, i, FBItem(blkID))
	}

	_, err := alloc.Alloc(types.BlockTypeFB)
	assert.ErrorIs(t, err, store.ErrNoSpace)
}

func TestAllocExhaustionConcurrent(t *testing.T) {
	vol := newTestVolume(t)
	alloc := NewAllocator(vol)

	// Leave exactly one free item in the whole fd bitmap.
	for i := 0; i < 15; i++ {
		_, err := alloc.Alloc(types.BlockTypeFD)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := alloc.Alloc(types.BlockTypeFD)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, noSpace int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, store.ErrNoSpace):
			noSpace++
		}
	}
	assert.Equal(t, 1, ok, "exactly one racer may win the last item")
	assert.Equal(t, 1, noSpace, "the loser must see no-space")
}

func TestGetStatusInvalidType(t *testing.T) {
	alloc := NewAllocator(newTestVolume(t))

	_, err := alloc.GetStatus(0x00000007)
	assert.ErrorIs(t, err, ErrInvalidBlockType)

	err = alloc.Free(0x00000000)
	assert.ErrorIs(t, err, ErrInvalidBlockType)
}

func TestAllocInvalidType(t *testing.T) {
	alloc := NewAllocator(newTestVolume(t))

	_, err := alloc.Alloc(types.BlockTypeNone)
	assert.ErrorIs(t, err, ErrInvalidBlockType)
}

func TestZeroizeFileBlock(t *testing.T) {
	vol := newTestVolume(t)
	alloc := NewAllocator(vol)

	blkID, err := alloc.Alloc(types.BlockTypeFB)
	require.NoError(t, err)
	item := FBItem(blkID)

	// Dirty the block's data region first.
	junk := make([]byte, testBlockSize)
	for i := range junk {
		junk[i] = 0xa5
	}
	_, err = vol.WriteFileBlock(item, 0, junk)
	require.NoError(t, err)

	require.NoError(t, alloc.ZeroizeFileBlock(blkID))

	got := make([]byte, testBlockSize)
	_, err = vol.dev.ReadAt(got, testFBDataBase+int64(item)*testBlockSize)
	require.NoError(t, err)
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d = 0x%02x after zeroize, want 0", i, b)
		}
	}

	// Neighboring blocks stay untouched.
	_, err = vol.WriteFileBlock(item+1, 0, junk)
	require.NoError(t, err)
	require.NoError(t, alloc.ZeroizeFileBlock(blkID))
	neighbor := make([]byte, 1)
	_, err = vol.dev.ReadAt(neighbor, testFBDataBase+int64(item+1)*testBlockSize)
	require.NoError(t, err)
	assert.Equal(t, byte(0xa5), neighbor[0])
}

func TestZeroizeRejectsNonFileBlocks(t *testing.T) {
	vol := newTestVolume(t)
	alloc := NewAllocator(vol)

	before := append([]byte(nil), vol.dev.Bytes()...)

	err := alloc.ZeroizeFileBlock(SBBuild(0, 0))
	assert.ErrorIs(t, err, ErrInvalidBlockType)

	// No write happened.
	assert.Equal(t, before, vol.dev.Bytes())
}
