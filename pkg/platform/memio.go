package platform

import (
	"bytes"
	"sync"
)

// MemoryAssemblyIO is a trivial in-memory AssemblyIO used by the demo
// wiring in cmd/adapter when no real process image is attached.
type MemoryAssemblyIO struct {
	mu       sync.Mutex
	data     map[uint32][]byte
	lastSent map[uint32][]byte
}

// NewMemoryAssemblyIO creates an empty in-memory process image.
func NewMemoryAssemblyIO() *MemoryAssemblyIO {
	return &MemoryAssemblyIO{data: make(map[uint32][]byte), lastSent: make(map[uint32][]byte)}
}

// Read returns a copy of the stored bytes for instance, or a nil slice if
// nothing has been written yet.
func (m *MemoryAssemblyIO) Read(instance uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data[instance]...), nil
}

// Write stores a copy of data for instance.
func (m *MemoryAssemblyIO) Write(instance uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[instance] = append([]byte(nil), data...)
	return nil
}

// BeforeSend reports whether instance's current data differs from the
// value last observed by BeforeSend, then records it as the new baseline.
func (m *MemoryAssemblyIO) BeforeSend(instance uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.data[instance]
	changed := !bytes.Equal(cur, m.lastSent[instance])
	m.lastSent[instance] = append([]byte(nil), cur...)
	return changed, nil
}
