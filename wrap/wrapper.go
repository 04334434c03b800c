// Package wrap implements the parameter aggregation wrapper.
//
// A Wrapper owns one wrapped module subtree and at most one flatten.Handle.
// At any moment exactly one representation of the managed parameters is
// discoverable through generic traversal: either the aggregated flat buffer,
// registered on the Wrapper itself under the "flat_param" slot, or the
// per-item views installed back into the wrapped subtree. The Wrapper
// drives the switch between the two without ever reallocating the buffer or
// invalidating references held by surrounding code, and it rewrites
// persisted-state keys at serialization boundaries so that snapshots look
// the same whether or not the Wrapper sits in the tree.
package wrap

import (
	"errors"
	"fmt"

	"github.com/sbl8/flatparam/core"
	"github.com/sbl8/flatparam/flatten"
	"github.com/sbl8/flatparam/model"
)

const (
	// FlatParamName is the slot through which generic traversal discovers
	// the aggregated buffer on the Wrapper.
	FlatParamName = "flat_param"

	// WrappedName is the internal child name of the wrapped subtree. It is
	// stripped from exported state dict keys and re-inserted on import.
	WrappedName = "_fpw_module"
)

var (
	// ErrNoHandle is returned by Handle on a Wrapper that manages no
	// parameters. It signals programmer misuse, never a runtime condition.
	ErrNoHandle = errors.New("wrapper manages no parameters")

	// ErrReentrantUnflatten is returned when a representation toggle is
	// requested while one is already active on the same Wrapper.
	ErrReentrantUnflatten = errors.New("unflatten scope already active on this wrapper")

	// ErrBadFlatParamKey is wrapped when an imported key under the
	// aggregated-buffer prefix does not name a flat parameter.
	ErrBadFlatParamKey = errors.New("aggregated key does not name a flat parameter")
)

// Wrapper wraps a module subtree and exposes its parameters through a
// toggle-able dual representation. The zero value is not usable; construct
// with New.
type Wrapper struct {
	*model.Module

	handle        *flatten.Handle
	useOrigParams bool
	unflattening  bool
}

// New wraps child, aggregating the given parameters from its subtree.
//
// The state dict key-remapping hooks are installed unconditionally, even
// with an empty parameter list, because descendant wrappers nested inside
// child still need their keys to surface correctly through this level. With
// an empty list the Wrapper manages no buffer and every toggle is a no-op.
// With useOrigParams false the aggregated buffer is the default live
// representation and is registered immediately.
func New(child *model.Module, params []flatten.NamedParam, device core.Device, cfg flatten.Config, useOrigParams bool) (*Wrapper, error) {
	if child == nil {
		return nil, errors.New("wrapped module is nil")
	}
	w := &Wrapper{Module: model.NewModule()}
	if err := w.Module.AddChild(WrappedName, child); err != nil {
		return nil, err
	}
	w.Module.RegisterExportHook(postExportHook)
	w.Module.RegisterImportHook(preImportHook)
	if len(params) == 0 {
		return w, nil
	}

	h, err := flatten.NewHandle(params, child, device, cfg, useOrigParams)
	if err != nil {
		return nil, err
	}
	w.handle = h
	w.useOrigParams = useOrigParams
	if !useOrigParams {
		if err := w.Module.Params().Add(FlatParamName, h.FlatParam().Parameter); err != nil {
			return nil, err
		}
	}

	if got, err := w.Module.Lookup(WrappedName); err != nil || got != any(child) {
		return nil, fmt.Errorf("wrapper post-condition violated: wrapped module not retrievable")
	}
	if !useOrigParams {
		got, err := w.Module.Lookup(FlatParamName)
		if err != nil || got != any(h.FlatParam().Parameter) {
			return nil, fmt.Errorf("wrapper post-condition violated: %s slot does not alias the aggregated buffer", FlatParamName)
		}
	}
	return w, nil
}

// HasParams reports whether this Wrapper manages any parameters.
func (w *Wrapper) HasParams() bool {
	return w.handle != nil
}

// FlatParam returns the aggregated buffer, or nil when the Wrapper manages
// no parameters.
func (w *Wrapper) FlatParam() *flatten.FlatParameter {
	if w.handle == nil {
		return nil
	}
	return w.handle.FlatParam()
}

// Handle returns the aggregation handle. Calling it on a Wrapper that
// manages no parameters is a precondition violation.
func (w *Wrapper) Handle() (*flatten.Handle, error) {
	if w.handle == nil {
		return nil, ErrNoHandle
	}
	return w.handle, nil
}

// Wrapped returns the owned subtree. Never fails.
func (w *Wrapper) Wrapped() *model.Module {
	child, _ := w.Module.Child(WrappedName)
	return child
}

// Lookup resolves a structural name on the Wrapper's own fields first and
// falls back to the wrapped subtree. A miss on both surfaces the child's
// lookup error unchanged.
func (w *Wrapper) Lookup(name string) (any, error) {
	if v, err := w.Module.Lookup(name); err == nil {
		return v, nil
	}
	return w.Wrapped().Lookup(name)
}

// ChildAt forwards indexed access unconditionally to the wrapped subtree,
// supporting wrapped trees that are themselves ordered sequences.
func (w *Wrapper) ChildAt(index int) (*model.Module, error) {
	return w.Wrapped().ChildAt(index)
}

// Invoke runs the wrapped subtree's computation. When this Wrapper manages
// parameters with useOrigParams false, the aggregated buffer is first
// forced to be the live representation so any in-flight materialized bytes
// are consistently exposed as the subtree's parameters for this call. The
// arguments and result pass through unchanged.
func (w *Wrapper) Invoke(args ...any) (any, error) {
	if w.handle != nil && !w.useOrigParams {
		if w.unflattening {
			return nil, ErrReentrantUnflatten
		}
		if err := w.handle.MaterializeAggregatedLive(false); err != nil {
			return nil, err
		}
	}
	return w.Wrapped().Run(args...)
}

// WithUnflattenedAsViews deregisters the flat_param slot, installs the
// per-item views as visible parameters in their original positions, and
// runs fn. On every exit path, error or not, the views are retracted and
// (with useOrigParams false) the slot is re-registered, so the
// representation can never be left toggled after the scope exits. With no
// managed parameters fn runs immediately. Reentrant toggles on the same
// Wrapper are rejected rather than double-toggled.
func (w *Wrapper) WithUnflattenedAsViews(fn func() error) error {
	if w.handle == nil {
		return fn()
	}
	if w.unflattening {
		return ErrReentrantUnflatten
	}
	w.unflattening = true
	defer func() { w.unflattening = false }()

	w.Module.Params().SetVisible(FlatParamName, false)
	defer func() {
		if !w.useOrigParams {
			w.Module.Params().SetVisible(FlatParamName, true)
		}
	}()
	return w.handle.UnflattenAsViews(fn)
}
