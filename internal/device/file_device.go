// Package device implements access to the storage backing a VMFS
// volume. A device presents one flat byte address space; spanning
// multiple physical extents into that space is the concern of an
// outer LVM layer.
package device

import (
	"fmt"
	"io"
	"os"
)

// FileDevice provides positioned read/write access to a volume backed
// by a single file or raw block device node.
type FileDevice struct {
	file     *os.File
	size     int64
	readOnly bool
}

// Open opens a backing file as a volume device.
func Open(path string, readOnly bool) (*FileDevice, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %q: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat device %q: %w", path, err)
	}

	size := stat.Size()
	if size == 0 {
		// Block device nodes report zero; seek to find the end.
		if size, err = file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to size device %q: %w", path, err)
		}
	}

	return &FileDevice{
		file:     file,
		size:     size,
		readOnly: readOnly,
	}, nil
}

// ReadAt reads len(p) bytes at the absolute position pos. A short
// read is reported as an error.
func (d *FileDevice) ReadAt(p []byte, pos int64) (int, error) {
	if pos < 0 || pos+int64(len(p)) > d.size {
		return 0, fmt.Errorf("read of %d bytes at %d outside device of %d bytes",
			len(p), pos, d.size)
	}

	n, err := d.file.ReadAt(p, pos)
	if err != nil {
		return n, fmt.Errorf("device read at %d failed: %w", pos, err)
	}
	return n, nil
}

// WriteAt writes len(p) bytes at the absolute position pos.
func (d *FileDevice) WriteAt(p []byte, pos int64) (int, error) {
	if d.readOnly {
		return 0, fmt.Errorf("device is read-only")
	}
	if pos < 0 || pos+int64(len(p)) > d.size {
		return 0, fmt.Errorf("write of %d bytes at %d outside device of %d bytes",
			len(p), pos, d.size)
	}

	n, err := d.file.WriteAt(p, pos)
	if err != nil {
		return n, fmt.Errorf("device write at %d failed: %w", pos, err)
	}
	return n, nil
}

// Size returns the device size in bytes.
func (d *FileDevice) Size() int64 {
	return d.size
}

// IsReadOnly reports whether the device refuses writes.
func (d *FileDevice) IsReadOnly() bool {
	return d.readOnly
}

// Close releases the backing file.
func (d *FileDevice) Close() error {
	return d.file.Close()
}
