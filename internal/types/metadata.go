package types

import "github.com/google/uuid"

// On-disk metadata header guarding shared filesystem records. Every
// bitmap entry (and every other lockable metadata record) starts with
// one of these; the Pos field doubles as the cluster-wide lock key.

const (
	// MetadataHeaderSize is the on-disk size of the metadata header.
	MetadataHeaderSize = 512

	// MetadataMagic identifies a valid metadata header.
	MetadataMagic = 0xabcdef01

	// MetadataLockedFlag is the hb_lock value of a held lock.
	MetadataLockedFlag = 1
)

// MetadataHeader is the raw metadata record header.
type MetadataHeader struct {
	// Magic must equal MetadataMagic.
	Magic uint32

	// The on-disk byte position of the record; used as the lock key.
	Pos uint64

	// The position of the lock holder's heartbeat record.
	HBPos uint64

	// The lock holder's heartbeat sequence number.
	HBSeq uint64

	// The record's object sequence, bumped on each update.
	ObjSeq uint64

	// Lock state; MetadataLockedFlag while a node holds the record.
	HBLock uint32

	// The lock holder's heartbeat UUID.
	HBUUID uuid.UUID

	// Modification timestamp.
	Mtime uint64
}

// Locked reports whether the record is currently held by any node.
func (m *MetadataHeader) Locked() bool {
	return m.HBLock != 0
}
