package interfaces

import "github.com/weafon/vmfs-tool/internal/types"

// MetadataLocker acquires cluster-visible exclusive locks on metadata
// records, keyed by their on-disk byte position. The full on-wire
// reservation protocol lives outside this module; the core only
// depends on this contract.
type MetadataLocker interface {
	// Lock blocks until the record at pos is held exclusively and
	// returns a guard carrying the freshly loaded header.
	Lock(pos uint64) (Guard, error)
}

// Guard is a held metadata lock. Release must be called exactly once
// on every exit path; it attempts write-back of any updated payload
// before unlocking, so other cluster members never observe a locked
// but abandoned record.
type Guard interface {
	// Header returns the metadata header loaded under the lock.
	Header() *types.MetadataHeader

	// Update stages an updated entry payload to be persisted on
	// Release.
	Update(entry *types.BitmapEntry)

	// Release persists any staged payload, then unlocks. The first
	// error encountered is returned; the unlock is attempted
	// regardless.
	Release() error
}
