package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c2h5oh/datasize"
	"github.com/wasmedge-go/wasmedge/api"
)

const (
	// MemoryPageSize is the unit of memory length in WebAssembly,
	// and is defined as 2^16 = 65536.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
	MemoryPageSize = uint32(65536)
	// MemoryMaxPages is maximum number of pages defined (2^16).
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
	MemoryMaxPages = uint32(65536)
	// MemoryPageSizeInBits satisfies the relation: "1 << MemoryPageSizeInBits == MemoryPageSize".
	MemoryPageSizeInBits = 16
)

// compile-time check to ensure MemoryInstance implements api.Memory
var _ api.Memory = &MemoryInstance{}

// MemoryInstance represents a memory instance in a store, and implements api.Memory.
//
// Note: In WebAssembly 1.0 (20191205), there may be up to one Memory per module, so the memory of a module is always
// index zero.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	// Max is the effective page limit, which is the lower of the declared maximum and the store limit.
	Max uint32
	// DeclaredMax is the maximum of the memory type, used to check import compatibility. nil when unbounded.
	DeclaredMax *uint32
}

// NewMemoryInstance allocates min pages, failing with ErrResourceLimitExceeded when that exceeds limitPages.
func NewMemoryInstance(memSec *MemoryType, limitPages uint32) (*MemoryInstance, error) {
	if memSec.Min > limitPages {
		return nil, fmt.Errorf("%w: memory min %d pages (%s) over limit of %d pages (%s)", ErrResourceLimitExceeded,
			memSec.Min, PagesToUnitOfBytes(memSec.Min), limitPages, PagesToUnitOfBytes(limitPages))
	}
	max := limitPages
	if memSec.Max != nil && *memSec.Max < max {
		max = *memSec.Max
	}
	return &MemoryInstance{
		Buffer:      make([]byte, MemoryPagesToBytesNum(memSec.Min)),
		Min:         memSec.Min,
		Max:         max,
		DeclaredMax: memSec.Max,
	}, nil
}

// Size implements api.Memory Size
func (m *MemoryInstance) Size() uint64 {
	return uint64(len(m.Buffer))
}

// hasSize returns true if Len is sufficient for sizeInBytes at the given offset.
func (m *MemoryInstance) hasSize(offset uint64, sizeInBytes uint64) bool {
	return offset+sizeInBytes <= uint64(len(m.Buffer)) // uint64 prevents overflow on add
}

// IndexByte implements api.Memory IndexByte
func (m *MemoryInstance) IndexByte(offset uint32, c byte) (uint32, bool) {
	if uint64(offset) >= m.Size() {
		return 0, false
	}
	b := m.Buffer[offset:]
	result := bytes.IndexByte(b, c)
	if result == -1 {
		return 0, false
	}
	return uint32(result) + offset, true
}

// ReadByte implements api.Memory ReadByte
func (m *MemoryInstance) ReadByte(offset uint32) (byte, bool) {
	if uint64(offset) >= m.Size() {
		return 0, false
	}
	return m.Buffer[offset], true
}

// ReadUint16Le implements api.Memory ReadUint16Le
func (m *MemoryInstance) ReadUint16Le(offset uint32) (uint16, bool) {
	if !m.hasSize(uint64(offset), 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.Buffer[offset:]), true
}

// ReadUint32Le implements api.Memory ReadUint32Le
func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.hasSize(uint64(offset), 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset:]), true
}

// ReadFloat32Le implements api.Memory ReadFloat32Le
func (m *MemoryInstance) ReadFloat32Le(offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(offset)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(v), true
}

// ReadUint64Le implements api.Memory ReadUint64Le
func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.hasSize(uint64(offset), 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset:]), true
}

// ReadFloat64Le implements api.Memory ReadFloat64Le
func (m *MemoryInstance) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(offset)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v), true
}

// Read implements api.Memory Read
func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.hasSize(uint64(offset), uint64(byteCount)) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount : offset+byteCount], true
}

// WriteByte implements api.Memory WriteByte
func (m *MemoryInstance) WriteByte(offset uint32, v byte) bool {
	if uint64(offset) >= m.Size() {
		return false
	}
	m.Buffer[offset] = v
	return true
}

// WriteUint16Le implements api.Memory WriteUint16Le
func (m *MemoryInstance) WriteUint16Le(offset uint32, v uint16) bool {
	if !m.hasSize(uint64(offset), 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.Buffer[offset:], v)
	return true
}

// WriteUint32Le implements api.Memory WriteUint32Le
func (m *MemoryInstance) WriteUint32Le(offset, v uint32) bool {
	if !m.hasSize(uint64(offset), 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteFloat32Le implements api.Memory WriteFloat32Le
func (m *MemoryInstance) WriteFloat32Le(offset uint32, v float32) bool {
	return m.WriteUint32Le(offset, math.Float32bits(v))
}

// WriteUint64Le implements api.Memory WriteUint64Le
func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.hasSize(uint64(offset), 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

// WriteFloat64Le implements api.Memory WriteFloat64Le
func (m *MemoryInstance) WriteFloat64Le(offset uint32, v float64) bool {
	return m.WriteUint64Le(offset, math.Float64bits(v))
}

// Write implements api.Memory Write
func (m *MemoryInstance) Write(offset uint32, val []byte) bool {
	if !m.hasSize(uint64(offset), uint64(len(val))) {
		return false
	}
	copy(m.Buffer[offset:], val)
	return true
}

// MemoryPagesToBytesNum converts the given pages into the number of bytes contained in these pages.
func MemoryPagesToBytesNum(pages uint32) (bytesNum uint64) {
	return uint64(pages) << MemoryPageSizeInBits
}

// memoryBytesNumToPages converts the given number of bytes into the number of pages.
func memoryBytesNumToPages(bytesNum uint64) (pages uint32) {
	return uint32(bytesNum >> MemoryPageSizeInBits)
}

// Grow implements api.Memory Grow. The logic here is described in
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem.
//
// When ok is false, memory is unchanged, and memory.grow pushes -1.
func (m *MemoryInstance) Grow(delta uint32) (previousPages uint32, ok bool) {
	currentPages := m.PageSize()
	if delta == 0 {
		return currentPages, true
	}
	if uint64(currentPages)+uint64(delta) > uint64(m.Max) {
		return 0, false
	}
	m.Buffer = append(m.Buffer, make([]byte, MemoryPagesToBytesNum(delta))...)
	return currentPages, true
}

// PageSize returns the current memory buffer size in pages.
func (m *MemoryInstance) PageSize() (result uint32) {
	return memoryBytesNumToPages(uint64(len(m.Buffer)))
}

// PagesToUnitOfBytes converts the pages to a human-readable form. Ex. 1 -> "64.0 KB"
func PagesToUnitOfBytes(pages uint32) string {
	return datasize.ByteSize(MemoryPagesToBytesNum(pages)).HR()
}
