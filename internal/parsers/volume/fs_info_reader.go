// Package volume parses the volume-level records of a VMFS extent:
// the LVM volume information block and the filesystem information
// block.
package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/weafon/vmfs-tool/internal/types"
)

// FSInfoSize is the number of bytes the filesystem info parser needs.
const FSInfoSize = 0x200

// FSInfoReader provides parsing capabilities for the filesystem
// information record found at FSInfoBase of the first extent.
type FSInfoReader struct {
	info   *types.FSInfo
	endian binary.ByteOrder
}

// NewFSInfoReader creates a new filesystem info reader.
func NewFSInfoReader(data []byte, endian binary.ByteOrder) (*FSInfoReader, error) {
	if len(data) < FSInfoSize {
		return nil, fmt.Errorf("data too small for fs info: %d bytes, need %d",
			len(data), FSInfoSize)
	}

	info, err := parseFSInfo(data, endian)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fs info: %w", err)
	}

	return &FSInfoReader{
		info:   info,
		endian: endian,
	}, nil
}

// parseFSInfo parses raw bytes into an FSInfo structure.
// Layout: magic (u32 at 0x00), volver (u32 at 0x04), ver (u8 at
// 0x08), uuid (16 bytes at 0x09), mode (u32 at 0x19), label (128
// bytes at 0x1d), dev_blocksize (u32 at 0x9d), blocksize (u64 at
// 0xa1), ctime (u32 at 0xa9), lvm_uuid (16 bytes at 0xb1),
// fdc_header_size (u32 at 0xd1), fdc_bitmap_count (u32 at 0xd5),
// subblock_size (u32 at 0xd9).
func parseFSInfo(data []byte, endian binary.ByteOrder) (*types.FSInfo, error) {
	info := &types.FSInfo{}

	info.Magic = endian.Uint32(data[0x00:0x04])
	if info.Magic != types.FSInfoMagic {
		return nil, fmt.Errorf("invalid fs info magic 0x%08x, want 0x%08x",
			info.Magic, uint32(types.FSInfoMagic))
	}

	info.VolVersion = endian.Uint32(data[0x04:0x08])
	info.Version = data[0x08]

	fsUUID, err := uuid.FromBytes(data[0x09:0x19])
	if err != nil {
		return nil, fmt.Errorf("invalid fs uuid: %w", err)
	}
	info.UUID = fsUUID

	info.Mode = endian.Uint32(data[0x19:0x1d])
	info.Label = parseLabel(data[0x1d:0x9d])
	info.DevBlockSize = endian.Uint32(data[0x9d:0xa1])
	info.BlockSize = endian.Uint64(data[0xa1:0xa9])
	info.Ctime = endian.Uint32(data[0xa9:0xad])

	lvmUUID, err := uuid.FromBytes(data[0xb1:0xc1])
	if err != nil {
		return nil, fmt.Errorf("invalid lvm uuid: %w", err)
	}
	info.LVMUUID = lvmUUID

	info.FDCHeaderSize = endian.Uint32(data[0xd1:0xd5])
	info.FDCBitmapCount = endian.Uint32(data[0xd5:0xd9])
	info.SubBlockSize = endian.Uint32(data[0xd9:0xdd])

	if info.BlockSize == 0 {
		return nil, fmt.Errorf("fs info declares zero block size")
	}

	return info, nil
}

// parseLabel trims a fixed-size NUL-padded label field.
func parseLabel(raw []byte) string {
	if idx := bytes.IndexByte(raw, 0); idx >= 0 {
		raw = raw[:idx]
	}
	return string(raw)
}

// Info returns the parsed filesystem information.
func (r *FSInfoReader) Info() *types.FSInfo {
	return r.info
}

// UUID returns the filesystem UUID.
func (r *FSInfoReader) UUID() uuid.UUID {
	return r.info.UUID
}

// Label returns the volume label.
func (r *FSInfoReader) Label() string {
	return r.info.Label
}

// BlockSize returns the file block size in bytes.
func (r *FSInfoReader) BlockSize() uint64 {
	return r.info.BlockSize
}

// SubBlockSize returns the sub-block size in bytes.
func (r *FSInfoReader) SubBlockSize() uint32 {
	return r.info.SubBlockSize
}
