// Package fs binds an opened volume device, its filesystem
// information and the four resource-type bitmap stores into the
// handle the block allocator works against.
package fs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weafon/vmfs-tool/internal/block"
	"github.com/weafon/vmfs-tool/internal/interfaces"
	"github.com/weafon/vmfs-tool/internal/locking"
	"github.com/weafon/vmfs-tool/internal/logger"
	"github.com/weafon/vmfs-tool/internal/parsers/volume"
	"github.com/weafon/vmfs-tool/internal/store"
	"github.com/weafon/vmfs-tool/internal/types"
)

// Layout names the volume positions of the four bitmap metafiles.
// Resolving the metafile names (.fbb.sf and friends) through the root
// directory is the directory layer's job; this handle takes the
// resolved positions.
type Layout struct {
	FBBBase int64
	SBCBase int64
	PBCBase int64
	FDCBase int64
}

// Options tunes how the handle is opened.
type Options struct {
	// HeartbeatUUID identifies this host in lock records. A zero
	// value gets a random identity.
	HeartbeatUUID uuid.UUID

	// LockRetries and LockRetryDelay bound acquisition of contended
	// metadata locks.
	LockRetries    int
	LockRetryDelay time.Duration
}

// FS is an opened filesystem handle. It is shared, read-mostly state;
// all mutation of bitmap entries goes through the stores' lock
// discipline.
type FS struct {
	dev     interfaces.VolumeDevice
	info    *types.FSInfo
	volInfo *types.VolInfo
	locker  interfaces.MetadataLocker

	fbb *store.Bitmap
	sbc *store.Bitmap
	pbc *store.Bitmap
	fdc *store.Bitmap
}

// Open validates the volume and filesystem records of a device and
// binds the four bitmap stores at the given layout.
func Open(dev interfaces.VolumeDevice, layout Layout, opts Options) (*FS, error) {
	endian := binary.LittleEndian

	volBuf := make([]byte, volume.VolInfoSize)
	if _, err := dev.ReadAt(volBuf, types.VolInfoBase); err != nil {
		return nil, fmt.Errorf("failed to read volume info: %w", err)
	}
	volReader, err := volume.NewVolInfoReader(volBuf, endian)
	if err != nil {
		return nil, fmt.Errorf("not a recognized volume: %w", err)
	}

	fsBuf := make([]byte, volume.FSInfoSize)
	if _, err := dev.ReadAt(fsBuf, types.FSInfoBase); err != nil {
		return nil, fmt.Errorf("failed to read fs info: %w", err)
	}
	fsReader, err := volume.NewFSInfoReader(fsBuf, endian)
	if err != nil {
		return nil, fmt.Errorf("no filesystem on volume: %w", err)
	}

	hbUUID := opts.HeartbeatUUID
	if hbUUID == uuid.Nil {
		hbUUID = uuid.New()
	}
	retries := opts.LockRetries
	if retries <= 0 {
		retries = 100
	}
	delay := opts.LockRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	f := &FS{
		dev:     dev,
		info:    fsReader.Info(),
		volInfo: volReader.Info(),
		locker:  locking.NewDiskLocker(dev, hbUUID, retries, delay),
	}

	bitmaps := []struct {
		name string
		base int64
		dst  **store.Bitmap
	}{
		{"fbb", layout.FBBBase, &f.fbb},
		{"sbc", layout.SBCBase, &f.sbc},
		{"pbc", layout.PBCBase, &f.pbc},
		{"fdc", layout.FDCBase, &f.fdc},
	}
	for _, b := range bitmaps {
		bmp, err := store.Open(b.name, dev, b.base, f.locker)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s bitmap: %w", b.name, err)
		}
		*b.dst = bmp
	}

	logger.Log.Infow("filesystem opened",
		"label", f.info.Label,
		"uuid", f.info.UUID,
		"blockSize", f.info.BlockSize,
		"volume", f.volInfo.Name)

	return f, nil
}

// Info returns the filesystem information record.
func (f *FS) Info() *types.FSInfo {
	return f.info
}

// VolumeInfo returns the LVM volume information record.
func (f *FS) VolumeInfo() *types.VolInfo {
	return f.volInfo
}

// BlockSize returns the file block size in bytes.
func (f *FS) BlockSize() uint64 {
	return f.info.BlockSize
}

// Bitmap returns the bitmap store of a resource type.
func (f *FS) Bitmap(blkType types.BlockType) (interfaces.BitmapStore, error) {
	switch blkType {
	case types.BlockTypeFB:
		return f.fbb, nil
	case types.BlockTypeSB:
		return f.sbc, nil
	case types.BlockTypePB:
		return f.pbc, nil
	case types.BlockTypeFD:
		return f.fdc, nil
	default:
		return nil, fmt.Errorf("%w: type %d", block.ErrInvalidBlockType, uint32(blkType))
	}
}

// WriteFileBlock writes p into the data region of file block item,
// offset bytes in. File blocks occupy the volume at item*blocksize.
func (f *FS) WriteFileBlock(item uint32, offset int64, p []byte) (int, error) {
	pos := int64(item)*int64(f.info.BlockSize) + offset
	return f.dev.WriteAt(p, pos)
}

// Allocator returns a block allocator bound to this handle.
func (f *FS) Allocator() *block.Allocator {
	return block.NewAllocator(f)
}

// Close releases the underlying device.
func (f *FS) Close() error {
	return f.dev.Close()
}
