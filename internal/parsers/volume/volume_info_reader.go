package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/weafon/vmfs-tool/internal/types"
)

// VolInfoSize is the number of bytes the volume info parser needs.
const VolInfoSize = 0x200

// VolInfoReader provides parsing capabilities for the LVM volume
// information record found at VolInfoBase of every extent.
type VolInfoReader struct {
	info   *types.VolInfo
	endian binary.ByteOrder
}

// NewVolInfoReader creates a new volume info reader.
func NewVolInfoReader(data []byte, endian binary.ByteOrder) (*VolInfoReader, error) {
	if len(data) < VolInfoSize {
		return nil, fmt.Errorf("data too small for volume info: %d bytes, need %d",
			len(data), VolInfoSize)
	}

	info, err := parseVolInfo(data, endian)
	if err != nil {
		return nil, fmt.Errorf("failed to parse volume info: %w", err)
	}

	return &VolInfoReader{
		info:   info,
		endian: endian,
	}, nil
}

// parseVolInfo parses raw bytes into a VolInfo structure.
// Layout: magic (u32 at 0x00), version (u32 at 0x04), name (28 bytes
// at 0x12), size (u64 at 0x80), lun uuid (16 bytes at 0x92),
// num_segments (u32 at 0xa2), first_segment (u32 at 0xa6),
// last_segment (u32 at 0xae).
func parseVolInfo(data []byte, endian binary.ByteOrder) (*types.VolInfo, error) {
	info := &types.VolInfo{}

	info.Magic = endian.Uint32(data[0x00:0x04])
	if info.Magic != types.VolInfoMagic {
		return nil, fmt.Errorf("invalid volume info magic 0x%08x, want 0x%08x",
			info.Magic, uint32(types.VolInfoMagic))
	}

	info.Version = endian.Uint32(data[0x04:0x08])
	info.Name = parseLabel(data[0x12 : 0x12+28])
	info.Size = endian.Uint64(data[0x80:0x88])

	lunUUID, err := uuid.FromBytes(data[0x92:0xa2])
	if err != nil {
		return nil, fmt.Errorf("invalid lun uuid: %w", err)
	}
	info.UUID = lunUUID

	info.NumSegments = endian.Uint32(data[0xa2:0xa6])
	info.FirstSegment = endian.Uint32(data[0xa6:0xaa])
	info.LastSegment = endian.Uint32(data[0xae:0xb2])

	return info, nil
}

// Info returns the parsed volume information.
func (r *VolInfoReader) Info() *types.VolInfo {
	return r.info
}

// Name returns the volume name.
func (r *VolInfoReader) Name() string {
	return r.info.Name
}

// UUID returns the LUN identity UUID.
func (r *VolInfoReader) UUID() uuid.UUID {
	return r.info.UUID
}
