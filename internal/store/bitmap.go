// Package store implements the allocation bitmap store: loading
// bitmap entries from a resource type's metafile, reading and
// flipping item bits, and locating free items under the cluster
// locking discipline.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/weafon/vmfs-tool/internal/interfaces"
	"github.com/weafon/vmfs-tool/internal/logger"
	bmpparser "github.com/weafon/vmfs-tool/internal/parsers/bitmap"
	"github.com/weafon/vmfs-tool/internal/types"
)

var (
	// ErrOutOfRange is returned when an entry or item index falls
	// outside the bitmap bounds.
	ErrOutOfRange = errors.New("bitmap index out of range")

	// ErrNoSpace is returned when no free item exists after an
	// exhaustive scan, or when a located entry has no free item left.
	ErrNoSpace = errors.New("no free bitmap items")

	// ErrIO is returned when the backing storage fails a read or
	// write, including short transfers.
	ErrIO = errors.New("bitmap storage i/o failure")

	// ErrCorrupt is returned when an entry record contradicts its
	// position in the metafile.
	ErrCorrupt = errors.New("corrupt bitmap entry")
)

// Bitmap is one resource type's bitmap store. It holds the fixed
// metafile header; entry records are read fresh from the volume on
// every operation and never cached across calls.
type Bitmap struct {
	name   string
	dev    interfaces.VolumeReader
	base   int64
	header *types.BitmapHeader
	locker interfaces.MetadataLocker
	endian binary.ByteOrder
}

var _ interfaces.BitmapStore = (*Bitmap)(nil)

// Open reads the metafile header at base and binds the store. name is
// the legacy metafile tag (fbb, sbc, pbc, fdc) and only feeds logs
// and errors.
func Open(name string, dev interfaces.VolumeReader, base int64, locker interfaces.MetadataLocker) (*Bitmap, error) {
	endian := binary.LittleEndian

	buf := make([]byte, bmpparser.BitmapHeaderSize)
	if _, err := dev.ReadAt(buf, base); err != nil {
		return nil, fmt.Errorf("%w: reading %s header: %v", ErrIO, name, err)
	}

	reader, err := bmpparser.NewBitmapHeaderReader(buf, endian)
	if err != nil {
		return nil, fmt.Errorf("invalid %s metafile: %w", name, err)
	}

	return &Bitmap{
		name:   name,
		dev:    dev,
		base:   base,
		header: reader.Header(),
		locker: locker,
		endian: endian,
	}, nil
}

// Header returns the metafile header.
func (b *Bitmap) Header() *types.BitmapHeader {
	return b.header
}

// Name returns the metafile tag the store was opened with.
func (b *Bitmap) Name() string {
	return b.name
}

// absItem folds an (entry, item) pair into the absolute item index.
// The file-block bitmap presents itself as a single logical entry, so
// its callers pass entry 0 with a metafile-wide item index; folding
// first makes both addressing styles land on the right record.
func (b *Bitmap) absItem(entryIdx, itemIdx uint32) uint64 {
	return uint64(entryIdx)*uint64(b.header.ItemsPerBitmapEntry) + uint64(itemIdx)
}

// entryPos returns the absolute volume position of an entry record.
func (b *Bitmap) entryPos(realEntry uint32) int64 {
	return b.base + bmpparser.EntryAddr(b.header, realEntry)
}

// readEntry reads and validates the record of a physical entry index.
func (b *Bitmap) readEntry(realEntry uint32) (*types.BitmapEntry, error) {
	buf := make([]byte, types.BitmapEntrySize)
	if _, err := b.dev.ReadAt(buf, b.entryPos(realEntry)); err != nil {
		return nil, fmt.Errorf("%w: reading %s entry %d: %v", ErrIO, b.name, realEntry, err)
	}

	reader, err := bmpparser.NewBitmapEntryReader(buf, b.endian)
	if err != nil {
		return nil, fmt.Errorf("%w: %s entry %d: %v", ErrCorrupt, b.name, realEntry, err)
	}

	entry := reader.Entry()
	if entry.ID != realEntry {
		return nil, fmt.Errorf("%w: %s entry %d claims id %d", ErrCorrupt, b.name, realEntry, entry.ID)
	}

	return entry, nil
}

// resolve maps an (entry, item) pair to the physical entry index.
func (b *Bitmap) resolve(entryIdx, itemIdx uint32) (uint32, error) {
	abs := b.absItem(entryIdx, itemIdx)
	if abs >= uint64(b.header.TotalItems) {
		return 0, fmt.Errorf("%w: %s item (%d,%d) beyond %d total items",
			ErrOutOfRange, b.name, entryIdx, itemIdx, b.header.TotalItems)
	}
	return uint32(abs / uint64(b.header.ItemsPerBitmapEntry)), nil
}

// GetEntry reads the bitmap entry covering (entryIdx, itemIdx) from
// storage without taking the lock.
func (b *Bitmap) GetEntry(entryIdx, itemIdx uint32) (*types.BitmapEntry, error) {
	realEntry, err := b.resolve(entryIdx, itemIdx)
	if err != nil {
		return nil, err
	}
	return b.readEntry(realEntry)
}

// LockEntry acquires the cluster lock on the entry covering
// (entryIdx, itemIdx) and re-reads the record under the lock.
func (b *Bitmap) LockEntry(entryIdx, itemIdx uint32) (*types.BitmapEntry, interfaces.Guard, error) {
	realEntry, err := b.resolve(entryIdx, itemIdx)
	if err != nil {
		return nil, nil, err
	}

	guard, err := b.locker.Lock(uint64(b.entryPos(realEntry)))
	if err != nil {
		return nil, nil, err
	}

	entry, err := b.readEntry(realEntry)
	if err != nil {
		if rerr := guard.Release(); rerr != nil {
			logger.Log.Errorw("lock release after failed entry read",
				"bitmap", b.name, "entry", realEntry, "error", rerr)
		}
		return nil, nil, err
	}

	return entry, guard, nil
}

// localIndex normalizes an (entry, item) pair against a loaded
// record, yielding the bit offset within that record's bitfield.
func (b *Bitmap) localIndex(entry *types.BitmapEntry, entryIdx, itemIdx uint32) (uint32, error) {
	abs := b.absItem(entryIdx, itemIdx)
	start := uint64(entry.ID) * uint64(b.header.ItemsPerBitmapEntry)

	if abs < start || abs-start >= uint64(b.header.ItemsPerBitmapEntry) {
		return 0, fmt.Errorf("%w: %s item (%d,%d) not covered by entry %d",
			ErrOutOfRange, b.name, entryIdx, itemIdx, entry.ID)
	}
	return uint32(abs - start), nil
}

// GetItemStatus reads an item's status from a loaded entry. Pure bit
// read, no I/O.
func (b *Bitmap) GetItemStatus(entry *types.BitmapEntry, entryIdx, itemIdx uint32) (types.ItemStatus, error) {
	local, err := b.localIndex(entry, entryIdx, itemIdx)
	if err != nil {
		return types.ItemFree, err
	}

	if entry.Bitmap[local>>3]&(1<<(local&7)) != 0 {
		return types.ItemAllocated, nil
	}
	return types.ItemFree, nil
}

// SetItemStatus flips an item's status in the in-memory entry only.
// The free counter tracks the flip; persisting the record is the
// caller's job, through the entry's lock guard.
func (b *Bitmap) SetItemStatus(entry *types.BitmapEntry, entryIdx, itemIdx uint32, status types.ItemStatus) error {
	local, err := b.localIndex(entry, entryIdx, itemIdx)
	if err != nil {
		return err
	}

	mask := byte(1) << (local & 7)
	set := entry.Bitmap[local>>3]&mask != 0

	switch status {
	case types.ItemAllocated:
		if !set {
			entry.Bitmap[local>>3] |= mask
			entry.Free--
		}
	case types.ItemFree:
		if set {
			entry.Bitmap[local>>3] &^= mask
			entry.Free++
		}
	default:
		return fmt.Errorf("unknown item status %d", status)
	}

	return nil
}

// entryItemCount returns the number of items the given entry actually
// tracks; the last entry of a metafile may be partial.
func (b *Bitmap) entryItemCount(entry *types.BitmapEntry) uint32 {
	if entry.Total != 0 && entry.Total < b.header.ItemsPerBitmapEntry {
		return entry.Total
	}
	return b.header.ItemsPerBitmapEntry
}

// bitfield views an entry's item bits as a bitset. The on-disk field
// is LSB-first per byte, which matches the word order of
// little-endian packed uint64s.
func bitfield(entry *types.BitmapEntry) *bitset.BitSet {
	words := make([]uint64, (len(entry.Bitmap)+7)/8)
	for i := range words {
		var w [8]byte
		copy(w[:], entry.Bitmap[i*8:])
		words[i] = binary.LittleEndian.Uint64(w[:])
	}
	return bitset.From(words)
}

// firstFree returns the lowest free item index of an entry.
func (b *Bitmap) firstFree(entry *types.BitmapEntry) (uint32, bool) {
	limit := uint(b.entryItemCount(entry))

	idx, ok := bitfield(entry).NextClear(0)
	if !ok || idx >= limit {
		return 0, false
	}
	return uint32(idx), true
}

// FindFreeItems scans entries in ascending index order for the first
// entry holding at least count free items. The candidate entry is
// locked and re-read under the lock before it is accepted, so the
// returned entry's free count is authoritative; locating and locking
// are one step, as in the legacy allocator.
func (b *Bitmap) FindFreeItems(count uint32) (*types.BitmapEntry, interfaces.Guard, error) {
	entryCount := b.header.EntryCount()

	for idx := uint32(0); idx < entryCount; idx++ {
		peek, err := b.readEntry(idx)
		if err != nil {
			return nil, nil, err
		}
		if peek.Free < count {
			continue
		}

		guard, err := b.locker.Lock(uint64(b.entryPos(idx)))
		if err != nil {
			return nil, nil, err
		}

		entry, err := b.readEntry(idx)
		if err != nil {
			if rerr := guard.Release(); rerr != nil {
				logger.Log.Errorw("lock release after failed re-read",
					"bitmap", b.name, "entry", idx, "error", rerr)
			}
			return nil, nil, err
		}

		// Another node may have drained the entry between the peek
		// and the lock; move on if so.
		if entry.Free < count {
			if err := guard.Release(); err != nil {
				return nil, nil, err
			}
			continue
		}

		return entry, guard, nil
	}

	return nil, nil, fmt.Errorf("%w: %s has no entry with %d free items",
		ErrNoSpace, b.name, count)
}

// AllocItem marks the first free item of a located entry as allocated
// in the in-memory record and returns its index within the entry.
func (b *Bitmap) AllocItem(entry *types.BitmapEntry) (uint32, error) {
	if entry.Free == 0 {
		return 0, fmt.Errorf("%w: %s entry %d is full", ErrNoSpace, b.name, entry.ID)
	}

	item, ok := b.firstFree(entry)
	if !ok {
		// The free counter said otherwise; trust the bits.
		return 0, fmt.Errorf("%w: %s entry %d free count %d but bitfield is full",
			ErrCorrupt, b.name, entry.ID, entry.Free)
	}

	entry.Bitmap[item>>3] |= 1 << (item & 7)
	entry.Free--
	entry.FFree = item + 1

	return item, nil
}

// ItemPos returns the absolute volume position of an item's data
// region within the metafile.
func (b *Bitmap) ItemPos(entryIdx, itemIdx uint32) int64 {
	return b.base + bmpparser.ItemDataAddr(b.header, entryIdx, itemIdx)
}
