// Package flatten aggregates independently-owned parameters into a single
// contiguous buffer and manages the aliasing views over it.
//
// A Handle consumes a fixed list of original parameters at construction,
// copies their payloads into one cache-aligned flat buffer, and removes the
// originals from their owner modules. From then on the per-item data lives
// only inside the flat buffer; the Handle installs and retracts view
// parameters aliasing the corresponding byte ranges whenever callers need
// the per-item representation back. The flat buffer is allocated exactly
// once and its identity never changes for the Handle's lifetime.
package flatten

import (
	"github.com/sbl8/flatparam/core"
	"github.com/sbl8/flatparam/model"
)

// Config customizes a Handle.
type Config struct {
	// SpanAlignment aligns each original parameter's byte range within the
	// aggregated buffer. Zero means densely packed. Non-zero values must be
	// a power of two and a multiple of the element size.
	SpanAlignment int
}

// NamedParam identifies an original parameter by its owner module and its
// registry name, the fixed identity consumed at Handle construction.
type NamedParam struct {
	Owner *model.Module
	Name  string
	Param *core.Parameter
}

// span records where one original parameter's payload lives inside the
// aggregated buffer.
type span struct {
	owner  *model.Module
	name   string
	offset int
	size   int
	shape  []int
}

// FlatParameter is the aggregated buffer: one Parameter whose payload is
// the aligned concatenation of every original, plus the span table mapping
// byte ranges back to original structural positions.
type FlatParameter struct {
	*core.Parameter
	spans []span
}

// NumSpans returns the number of original parameters aggregated.
func (f *FlatParameter) NumSpans() int {
	return len(f.spans)
}

// SpanName returns the registry name of the i-th original parameter.
func (f *FlatParameter) SpanName(i int) string {
	return f.spans[i].name
}

// SpanBytes returns the aliasing byte range of the i-th original parameter
// within the aggregated buffer.
func (f *FlatParameter) SpanBytes(i int) []byte {
	sp := f.spans[i]
	return f.Data[sp.offset : sp.offset+sp.size]
}
