package core

import "unsafe"

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	CacheLineSize = 64

	// ElemSize is the byte width of a single float32 element. Every
	// parameter payload is a multiple of this.
	ElemSize = 4
)

// AlignSize rounds size up to the specified alignment boundary.
// align must be a power of two.
func AlignSize(size, align int) int {
	return (size + align - 1) &^ (align - 1)
}

// AlignCacheLine rounds size up to the next cache line boundary.
func AlignCacheLine(size int) int {
	return AlignSize(size, CacheLineSize)
}

// IsAligned checks if a memory address is aligned to a cache line boundary.
func IsAligned(addr uintptr) bool {
	return addr%CacheLineSize == 0
}

// AlignedBytes allocates a byte slice whose underlying array starts on a
// cache line boundary. Returns nil for size zero.
func AlignedBytes(size int) []byte {
	if size == 0 {
		return nil
	}
	// Over-allocate by at most one cache line and slice to the first
	// aligned offset.
	buf := make([]byte, size+CacheLineSize-1)
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}
	return buf[offset : offset+uintptr(size)]
}
