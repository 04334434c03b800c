// Package core provides the fundamental buffer primitives for flatparam.
//
// This package implements the Parameter data structure, a named-by-context
// byte buffer holding float32 payloads with cache-aligned backing storage.
// Parameters come in two flavors that share one type: owning parameters,
// whose Data is allocated by NewParameter, and view parameters, whose Data
// aliases a sub-range of another parameter's backing array. Views are how
// the flatten package re-exposes slices of an aggregated buffer in the
// structural positions of the original parameters.
//
// Key components:
//   - Parameter: shape-carrying byte payload with unsafe float32 access
//   - Device: the placement target recorded by aggregation handles
//   - Memory alignment utilities for aggregated buffer layout
package core

import (
	"errors"
	"fmt"
	"unsafe"
)

// Parameter is a contiguous float32 buffer with an optional logical shape.
// Data is always a whole number of ElemSize-wide elements. When Shape is
// non-nil, its element product matches the payload element count.
type Parameter struct {
	Data  []byte // payload bytes (aligned when allocated by NewParameter)
	Shape []int  // logical dimensions; nil means unshaped
}

// NewParameter allocates an owning Parameter with cache-aligned backing
// storage sized for the given shape.
func NewParameter(shape []int) *Parameter {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Parameter{
		Data:  AlignedBytes(n * ElemSize),
		Shape: append([]int(nil), shape...),
	}
}

// ViewParameter constructs a non-owning Parameter aliasing the given bytes.
// The caller keeps ownership of the backing array; writes through the view
// are visible to every other alias of the same range.
func ViewParameter(data []byte, shape []int) *Parameter {
	return &Parameter{Data: data, Shape: shape}
}

// Numel returns the number of float32 elements in the payload.
func (p *Parameter) Numel() int {
	return len(p.Data) / ElemSize
}

// Size returns the payload size in bytes.
func (p *Parameter) Size() int {
	return len(p.Data)
}

// AsFloat32 casts the payload to []float32 without copying.
// Returns nil if the payload length is not element-aligned.
func (p *Parameter) AsFloat32() []float32 {
	if len(p.Data) == 0 || len(p.Data)%ElemSize != 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&p.Data[0])), len(p.Data)/ElemSize)
}

// Validate checks the integrity of a Parameter.
func (p *Parameter) Validate() error {
	if p == nil {
		return errors.New("parameter is nil")
	}
	if len(p.Data) == 0 {
		return errors.New("parameter payload is empty")
	}
	if len(p.Data)%ElemSize != 0 {
		return fmt.Errorf("parameter payload %d bytes not aligned to %d-byte elements", len(p.Data), ElemSize)
	}
	if p.Shape != nil {
		n := 1
		for _, d := range p.Shape {
			if d <= 0 {
				return fmt.Errorf("parameter shape has non-positive dimension %d", d)
			}
			n *= d
		}
		if n != p.Numel() {
			return fmt.Errorf("parameter shape %v implies %d elements, payload has %d", p.Shape, n, p.Numel())
		}
	}
	return nil
}

// Clone creates a deep copy with fresh aligned storage. The clone never
// shares backing bytes with the original.
func (p *Parameter) Clone() *Parameter {
	clone := &Parameter{
		Data:  AlignedBytes(len(p.Data)),
		Shape: append([]int(nil), p.Shape...),
	}
	copy(clone.Data, p.Data)
	return clone
}

// CopyFrom overwrites the payload in place with the given bytes. The write
// lands in the existing backing array, so aliases observe it.
func (p *Parameter) CopyFrom(b []byte) error {
	if len(b) != len(p.Data) {
		return fmt.Errorf("source is %d bytes, parameter holds %d", len(b), len(p.Data))
	}
	copy(p.Data, b)
	return nil
}

// SharesStorage reports whether p's payload lies inside other's backing
// range. Used to verify aliasing invariants.
func (p *Parameter) SharesStorage(other *Parameter) bool {
	if len(p.Data) == 0 || len(other.Data) == 0 {
		return false
	}
	start := uintptr(unsafe.Pointer(&p.Data[0]))
	lo := uintptr(unsafe.Pointer(&other.Data[0]))
	hi := lo + uintptr(len(other.Data))
	return start >= lo && start+uintptr(len(p.Data)) <= hi
}
