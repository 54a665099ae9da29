// Package locking implements the metadata lock adapter: acquisition
// and release of cluster-visible exclusive locks on on-disk metadata
// records, keyed by their byte position.
//
// The adapter speaks through the record's hb_lock/hb_uuid fields.
// Fencing of other hosts at the transport level (SCSI reservations)
// belongs to the surrounding storage stack and is outside this
// module.
package locking

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weafon/vmfs-tool/internal/interfaces"
	"github.com/weafon/vmfs-tool/internal/logger"
	bmpparser "github.com/weafon/vmfs-tool/internal/parsers/bitmap"
	"github.com/weafon/vmfs-tool/internal/parsers/metadata"
	"github.com/weafon/vmfs-tool/internal/types"
)

// ErrLockContended is returned when a lock could not be acquired
// within the configured retry budget.
var ErrLockContended = errors.New("metadata lock contended")

// DiskLocker acquires metadata locks by rewriting the 512-byte
// metadata header of the target record.
type DiskLocker struct {
	dev     interfaces.VolumeDevice
	hbUUID  uuid.UUID
	retries int
	delay   time.Duration
	endian  binary.ByteOrder

	// mu serializes the read-check-write-verify sequence between
	// goroutines of this process. Hosts are fenced at the transport
	// level; the re-read after writing catches anything that slipped
	// through between the storage round-trips.
	mu sync.Mutex
}

// NewDiskLocker creates a locker identified by the given heartbeat
// UUID. retries bounds the number of acquisition attempts on a
// contended record; delay separates them.
func NewDiskLocker(dev interfaces.VolumeDevice, hbUUID uuid.UUID, retries int, delay time.Duration) *DiskLocker {
	if retries < 1 {
		retries = 1
	}
	return &DiskLocker{
		dev:     dev,
		hbUUID:  hbUUID,
		retries: retries,
		delay:   delay,
		endian:  binary.LittleEndian,
	}
}

// Lock blocks until the metadata record at pos is held exclusively,
// or the retry budget is exhausted.
func (l *DiskLocker) Lock(pos uint64) (interfaces.Guard, error) {
	for attempt := 0; attempt < l.retries; attempt++ {
		guard, mdh, err := l.tryLock(pos)
		if err != nil {
			return nil, err
		}
		if guard != nil {
			return guard, nil
		}

		logger.Log.Debugw("metadata lock contended",
			"pos", pos, "attempt", attempt+1, "holder", mdh.HBUUID)

		if attempt+1 < l.retries {
			time.Sleep(l.delay)
		}
	}

	return nil, fmt.Errorf("%w: record at %d after %d attempts",
		ErrLockContended, pos, l.retries)
}

// tryLock makes one acquisition attempt. A nil guard with a nil error
// means the record was held by someone else.
func (l *DiskLocker) tryLock(pos uint64) (interfaces.Guard, *types.MetadataHeader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mdh, err := l.readHeader(pos)
	if err != nil {
		return nil, nil, err
	}

	if mdh.Locked() {
		return nil, mdh, nil
	}

	mdh.HBLock = types.MetadataLockedFlag
	mdh.HBUUID = l.hbUUID
	mdh.HBSeq++
	mdh.Mtime = uint64(time.Now().Unix())

	if err := l.writeHeader(pos, mdh); err != nil {
		return nil, nil, err
	}

	// Re-read to confirm nobody raced us onto the record.
	check, err := l.readHeader(pos)
	if err != nil {
		return nil, nil, err
	}
	if check.Locked() && check.HBUUID == l.hbUUID {
		return &diskGuard{locker: l, pos: pos, mdh: check}, check, nil
	}

	return nil, check, nil
}

func (l *DiskLocker) readHeader(pos uint64) (*types.MetadataHeader, error) {
	buf := make([]byte, types.MetadataHeaderSize)
	if _, err := l.dev.ReadAt(buf, int64(pos)); err != nil {
		return nil, fmt.Errorf("failed to read metadata header at %d: %w", pos, err)
	}

	reader, err := metadata.NewMetadataHeaderReader(buf, l.endian)
	if err != nil {
		return nil, fmt.Errorf("bad metadata record at %d: %w", pos, err)
	}
	return reader.Header(), nil
}

func (l *DiskLocker) writeHeader(pos uint64, mdh *types.MetadataHeader) error {
	data := metadata.EncodeMetadataHeader(mdh, l.endian)
	if _, err := l.dev.WriteAt(data, int64(pos)); err != nil {
		return fmt.Errorf("failed to write metadata header at %d: %w", pos, err)
	}
	return nil
}

// diskGuard is a held metadata lock. Its release path always attempts
// write-back of the staged entry before unlocking, and unlocks even
// if the write-back fails, so other cluster members are never left
// waiting on an abandoned record.
type diskGuard struct {
	locker   *DiskLocker
	pos      uint64
	mdh      *types.MetadataHeader
	staged   *types.BitmapEntry
	released bool
}

// Header returns the metadata header loaded under the lock.
func (g *diskGuard) Header() *types.MetadataHeader {
	return g.mdh
}

// Update stages an updated bitmap entry to be persisted on Release.
func (g *diskGuard) Update(entry *types.BitmapEntry) {
	g.staged = entry
}

// Release persists the staged entry, then unlocks the record. Safe to
// call more than once; only the first call acts.
func (g *diskGuard) Release() error {
	if g.released {
		return nil
	}
	g.released = true

	var firstErr error

	if g.staged != nil {
		g.mdh.ObjSeq++
		g.mdh.Mtime = uint64(time.Now().Unix())
		g.staged.Mdh = *g.mdh

		data := bmpparser.EncodeBitmapEntry(g.staged, g.locker.endian)
		if _, err := g.locker.dev.WriteAt(data, int64(g.pos)); err != nil {
			firstErr = fmt.Errorf("failed to write back entry at %d: %w", g.pos, err)
			logger.Log.Errorw("entry write-back failed, unlocking anyway",
				"pos", g.pos, "error", err)
		}
	}

	g.mdh.HBLock = 0
	g.mdh.HBUUID = uuid.Nil
	if err := g.locker.writeHeader(g.pos, g.mdh); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to unlock record at %d: %w", g.pos, err)
	}

	return firstErr
}
