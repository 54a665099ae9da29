// Package metadata parses the on-disk metadata header that guards
// shared filesystem records.
package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/weafon/vmfs-tool/internal/types"
)

// MetadataHeaderReader provides parsing capabilities for the 512-byte
// metadata header carried by every lockable record.
type MetadataHeaderReader struct {
	header *types.MetadataHeader
	data   []byte
	endian binary.ByteOrder
}

// NewMetadataHeaderReader creates a new metadata header reader.
func NewMetadataHeaderReader(data []byte, endian binary.ByteOrder) (*MetadataHeaderReader, error) {
	if len(data) < types.MetadataHeaderSize {
		return nil, fmt.Errorf("data too small for metadata header: %d bytes, need %d",
			len(data), types.MetadataHeaderSize)
	}

	header, err := parseMetadataHeader(data, endian)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata header: %w", err)
	}

	return &MetadataHeaderReader{
		header: header,
		data:   data,
		endian: endian,
	}, nil
}

// parseMetadataHeader parses raw bytes into a MetadataHeader.
// Layout: magic (u32 at 0x00), pos (u64 at 0x04), hb_pos (u64 at
// 0x0c), hb_seq (u64 at 0x14), obj_seq (u64 at 0x1c), hb_lock (u32 at
// 0x24), hb_uuid (16 bytes at 0x28), mtime (u64 at 0x38).
func parseMetadataHeader(data []byte, endian binary.ByteOrder) (*types.MetadataHeader, error) {
	mdh := &types.MetadataHeader{}

	mdh.Magic = endian.Uint32(data[0x00:0x04])
	if mdh.Magic != types.MetadataMagic {
		return nil, fmt.Errorf("invalid metadata magic 0x%08x, want 0x%08x",
			mdh.Magic, uint32(types.MetadataMagic))
	}

	mdh.Pos = endian.Uint64(data[0x04:0x0c])
	mdh.HBPos = endian.Uint64(data[0x0c:0x14])
	mdh.HBSeq = endian.Uint64(data[0x14:0x1c])
	mdh.ObjSeq = endian.Uint64(data[0x1c:0x24])
	mdh.HBLock = endian.Uint32(data[0x24:0x28])

	hbUUID, err := uuid.FromBytes(data[0x28:0x38])
	if err != nil {
		return nil, fmt.Errorf("invalid heartbeat uuid: %w", err)
	}
	mdh.HBUUID = hbUUID

	mdh.Mtime = endian.Uint64(data[0x38:0x40])

	return mdh, nil
}

// Header returns the parsed metadata header.
func (r *MetadataHeaderReader) Header() *types.MetadataHeader {
	return r.header
}

// Position returns the on-disk byte position the record claims for
// itself; it is the cluster lock key.
func (r *MetadataHeaderReader) Position() uint64 {
	return r.header.Pos
}

// IsLocked reports whether some node currently holds the record.
func (r *MetadataHeaderReader) IsLocked() bool {
	return r.header.Locked()
}

// LockHolder returns the heartbeat UUID of the current holder.
func (r *MetadataHeaderReader) LockHolder() uuid.UUID {
	return r.header.HBUUID
}

// EncodeMetadataHeader serializes a metadata header into a 512-byte
// on-disk record. Bytes past the mtime field are zero.
func EncodeMetadataHeader(mdh *types.MetadataHeader, endian binary.ByteOrder) []byte {
	data := make([]byte, types.MetadataHeaderSize)

	endian.PutUint32(data[0x00:0x04], mdh.Magic)
	endian.PutUint64(data[0x04:0x0c], mdh.Pos)
	endian.PutUint64(data[0x0c:0x14], mdh.HBPos)
	endian.PutUint64(data[0x14:0x1c], mdh.HBSeq)
	endian.PutUint64(data[0x1c:0x24], mdh.ObjSeq)
	endian.PutUint32(data[0x24:0x28], mdh.HBLock)
	copy(data[0x28:0x38], mdh.HBUUID[:])
	endian.PutUint64(data[0x38:0x40], mdh.Mtime)

	return data
}
