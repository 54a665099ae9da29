// Package interfaces declares the boundaries between the block
// allocation core and its collaborators.
package interfaces

// VolumeReader provides positioned reads from a logical volume.
// Implementations span one or more physical extents; the core only
// sees one flat byte address space.
type VolumeReader interface {
	// ReadAt reads len(p) bytes starting at the absolute byte
	// position pos. Short reads are errors.
	ReadAt(p []byte, pos int64) (int, error)

	// Size returns the size of the logical volume in bytes.
	Size() int64
}

// VolumeWriter provides positioned writes to a logical volume.
type VolumeWriter interface {
	// WriteAt writes len(p) bytes starting at the absolute byte
	// position pos and returns the number written.
	WriteAt(p []byte, pos int64) (int, error)

	// IsReadOnly reports whether writes are refused.
	IsReadOnly() bool
}

// VolumeDevice combines read and write access to a logical volume.
type VolumeDevice interface {
	VolumeReader
	VolumeWriter

	// Close releases the underlying storage.
	Close() error
}
