package device

import (
	"fmt"
	"sync"
)

// MemoryDevice is a volume device kept entirely in memory. It backs
// scratch images and tests; the access rules match FileDevice.
type MemoryDevice struct {
	mu       sync.RWMutex
	data     []byte
	readOnly bool
}

// NewMemory creates an in-memory device of the given size.
func NewMemory(size int64) *MemoryDevice {
	return &MemoryDevice{data: make([]byte, size)}
}

// NewMemoryFrom wraps an existing buffer as a device.
func NewMemoryFrom(data []byte) *MemoryDevice {
	return &MemoryDevice{data: data}
}

// SetReadOnly switches the device into read-only mode.
func (d *MemoryDevice) SetReadOnly(ro bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readOnly = ro
}

// ReadAt reads len(p) bytes at the absolute position pos.
func (d *MemoryDevice) ReadAt(p []byte, pos int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if pos < 0 || pos+int64(len(p)) > int64(len(d.data)) {
		return 0, fmt.Errorf("read of %d bytes at %d outside device of %d bytes",
			len(p), pos, len(d.data))
	}

	copy(p, d.data[pos:])
	return len(p), nil
}

// WriteAt writes len(p) bytes at the absolute position pos.
func (d *MemoryDevice) WriteAt(p []byte, pos int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readOnly {
		return 0, fmt.Errorf("device is read-only")
	}
	if pos < 0 || pos+int64(len(p)) > int64(len(d.data)) {
		return 0, fmt.Errorf("write of %d bytes at %d outside device of %d bytes",
			len(p), pos, len(d.data))
	}

	copy(d.data[pos:], p)
	return len(p), nil
}

// Size returns the device size in bytes.
func (d *MemoryDevice) Size() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.data))
}

// IsReadOnly reports whether the device refuses writes.
func (d *MemoryDevice) IsReadOnly() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readOnly
}

// Bytes exposes the underlying buffer.
func (d *MemoryDevice) Bytes() []byte {
	return d.data
}

// Close is a no-op for memory devices.
func (d *MemoryDevice) Close() error {
	return nil
}
