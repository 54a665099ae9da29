package interfaces

import "github.com/weafon/vmfs-tool/internal/types"

// BitmapStore provides access to one resource type's allocation
// bitmap metafile. Entries are read fresh from storage on every
// operation; no entry is cached across calls.
//
// Operations address items as an (entry, item) pair. The pair is
// normalized through the absolute item index, so the file-block
// bitmap's flat addressing (entry always 0, item spanning the whole
// metafile) resolves to the correct physical entry.
type BitmapStore interface {
	// Header returns the metafile header, fixed at creation time.
	Header() *types.BitmapHeader

	// GetEntry reads the bitmap entry covering (entryIdx, itemIdx)
	// from storage. No lock is taken.
	GetEntry(entryIdx, itemIdx uint32) (*types.BitmapEntry, error)

	// LockEntry acquires the cluster lock on the entry covering
	// (entryIdx, itemIdx) and re-reads it under the lock. The caller
	// owns the returned guard.
	LockEntry(entryIdx, itemIdx uint32) (*types.BitmapEntry, Guard, error)

	// GetItemStatus reads an item's status from an already loaded
	// entry. Pure bit read, no I/O.
	GetItemStatus(entry *types.BitmapEntry, entryIdx, itemIdx uint32) (types.ItemStatus, error)

	// SetItemStatus flips an item's status in the in-memory entry
	// only; the caller persists the entry through its lock guard.
	SetItemStatus(entry *types.BitmapEntry, entryIdx, itemIdx uint32, status types.ItemStatus) error

	// FindFreeItems scans entries in ascending index order for the
	// first entry holding at least count free items and returns it
	// loaded and locked. The caller owns the returned guard.
	FindFreeItems(count uint32) (*types.BitmapEntry, Guard, error)

	// AllocItem marks the first free item of a located entry as
	// allocated in memory and returns its index within the entry.
	AllocItem(entry *types.BitmapEntry) (uint32, error)

	// ItemPos returns the absolute byte position of an item's data
	// region within the volume.
	ItemPos(entryIdx, itemIdx uint32) int64
}
