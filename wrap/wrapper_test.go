package wrap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/flatparam/core"
	"github.com/sbl8/flatparam/flatten"
	"github.com/sbl8/flatparam/model"
)

// buildChild returns a wrapped-tree candidate: a root with one unmanaged
// parameter and an inner module owning two managed parameters with
// deterministic payloads.
func buildChild(t *testing.T) (*model.Module, []flatten.NamedParam) {
	t.Helper()
	child := model.NewModule()
	gain := core.NewParameter([]int{1})
	copy(gain.Data, []byte{0xE0, 0xE1, 0xE2, 0xE3})
	require.NoError(t, child.Params().Add("gain", gain))

	inner := model.NewModule()
	w := core.NewParameter([]int{2, 2})
	b := core.NewParameter([]int{2})
	for i := range w.Data {
		w.Data[i] = byte(i + 1)
	}
	for i := range b.Data {
		b.Data[i] = byte(0xB0 + i)
	}
	require.NoError(t, inner.Params().Add("weight", w))
	require.NoError(t, inner.Params().Add("bias", b))
	require.NoError(t, child.AddChild("lin", inner))

	return child, []flatten.NamedParam{
		{Owner: inner, Name: "weight", Param: w},
		{Owner: inner, Name: "bias", Param: b},
	}
}

func newWrapper(t *testing.T, useOrigParams bool) (*Wrapper, *model.Module) {
	t.Helper()
	child, params := buildChild(t)
	w, err := New(child, params, core.CPU, flatten.Config{}, useOrigParams)
	require.NoError(t, err)
	return w, child
}

// TestEmptyParameterList verifies the permanent passthrough state: no
// handle, no flat param, precondition error, no-op toggle, for the
// wrapper's whole lifetime.
func TestEmptyParameterList(t *testing.T) {
	child, _ := buildChild(t)
	w, err := New(child, nil, core.CPU, flatten.Config{}, false)
	require.NoError(t, err)

	assert.False(t, w.HasParams())
	assert.Nil(t, w.FlatParam())
	_, err = w.Handle()
	assert.ErrorIs(t, err, ErrNoHandle)

	ran := false
	require.NoError(t, w.WithUnflattenedAsViews(func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	assert.False(t, w.HasParams())
	_, err = w.Handle()
	assert.ErrorIs(t, err, ErrNoHandle)
}

// TestConstructionRegistersSlot verifies that immediately after
// construction the flat_param slot is registered and aliases the handle's
// aggregated buffer.
func TestConstructionRegistersSlot(t *testing.T) {
	w, child := newWrapper(t, false)
	require.True(t, w.HasParams())
	assert.Same(t, child, w.Wrapped())

	got, err := w.Lookup(FlatParamName)
	require.NoError(t, err)
	assert.Same(t, w.FlatParam().Parameter, got)

	// Traversal sees the slot plus the unmanaged parameter; the internal
	// child prefix is only stripped at state dict boundaries.
	named := w.NamedParameters("")
	require.Len(t, named, 2)
	assert.Equal(t, FlatParamName, named[0].Name)
	assert.Same(t, w.FlatParam().Parameter, named[0].Param)
	assert.Equal(t, WrappedName+".gain", named[1].Name)

	h, err := w.Handle()
	require.NoError(t, err)
	assert.Same(t, h.FlatParam(), w.FlatParam())
}

// TestUseOrigParamsConstruction verifies the slot is never registered and
// the per-item views are live parameters from the start.
func TestUseOrigParamsConstruction(t *testing.T) {
	w, _ := newWrapper(t, true)
	require.True(t, w.HasParams())

	_, err := w.Lookup(FlatParamName)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Equal(t, []string{
		WrappedName + ".gain",
		WrappedName + ".lin.weight",
		WrappedName + ".lin.bias",
	}, paramNames(w))
}

// TestStateDictExport verifies exported keys look as if the wrapper did
// not exist, with the aggregated buffer surfacing as flat_param.
func TestStateDictExport(t *testing.T) {
	w, _ := newWrapper(t, false)
	sd, err := w.StateDict()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{FlatParamName, "gain"}, sd.Keys())
	assert.Equal(t, append([]byte(nil), w.FlatParam().Data...), sd[FlatParamName])
}

// TestStateDictRoundTrip verifies export then import into a structurally
// identical fresh wrapper reproduces bit-identical payloads for the
// aggregated buffer and the unmanaged keys.
func TestStateDictRoundTrip(t *testing.T) {
	w, _ := newWrapper(t, false)
	sd, err := w.StateDict()
	require.NoError(t, err)

	fresh, _ := newWrapper(t, false)
	for i := range fresh.FlatParam().Data {
		fresh.FlatParam().Data[i] = 0
	}
	require.NoError(t, fresh.LoadStateDict(sd))
	assert.Equal(t, w.FlatParam().Data, fresh.FlatParam().Data)

	freshGain, err := fresh.Lookup("gain")
	require.NoError(t, err)
	assert.Equal(t, sd["gain"], append([]byte(nil), freshGain.(*core.Parameter).Data...))
}

// TestStateDictRoundTripUseOrigParams verifies the per-item representation
// round-trips through the original structural keys.
func TestStateDictRoundTripUseOrigParams(t *testing.T) {
	w, _ := newWrapper(t, true)
	sd, err := w.StateDict()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gain", "lin.weight", "lin.bias"}, sd.Keys())

	fresh, _ := newWrapper(t, true)
	for i := range fresh.FlatParam().Data {
		fresh.FlatParam().Data[i] = 0
	}
	require.NoError(t, fresh.LoadStateDict(sd))
	assert.Equal(t, w.FlatParam().Data, fresh.FlatParam().Data)
}

// TestNestedWrapperStateDict verifies key remapping composes when the
// wrapper sits below an outer module.
func TestNestedWrapperStateDict(t *testing.T) {
	w, _ := newWrapper(t, false)
	outer := model.NewModule()
	require.NoError(t, outer.AddChild("blk", w.Module))

	sd, err := outer.StateDict()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"blk.flat_param", "blk.gain"}, sd.Keys())

	fresh, _ := newWrapper(t, false)
	freshOuter := model.NewModule()
	require.NoError(t, freshOuter.AddChild("blk", fresh.Module))
	for i := range fresh.FlatParam().Data {
		fresh.FlatParam().Data[i] = 0
	}
	require.NoError(t, freshOuter.LoadStateDict(sd))
	assert.Equal(t, w.FlatParam().Data, fresh.FlatParam().Data)
}

// TestToggleIdempotence verifies an empty toggle leaves slot registration
// and buffer identity exactly as before entry.
func TestToggleIdempotence(t *testing.T) {
	w, _ := newWrapper(t, false)
	flatBefore := w.FlatParam()
	namesBefore := paramNames(w)

	require.NoError(t, w.WithUnflattenedAsViews(func() error { return nil }))

	assert.Same(t, flatBefore, w.FlatParam())
	assert.Equal(t, namesBefore, paramNames(w))
}

// TestToggleInstallsViews verifies the state machine inside the scope:
// slot deregistered, per-item views visible as parameters aliasing the
// aggregated buffer in their original positions.
func TestToggleInstallsViews(t *testing.T) {
	w, _ := newWrapper(t, false)
	flat := w.FlatParam()

	err := w.WithUnflattenedAsViews(func() error {
		assert.Equal(t, []string{
			WrappedName + ".gain",
			WrappedName + ".lin.weight",
			WrappedName + ".lin.bias",
		}, paramNames(w))
		for _, n := range w.NamedParameters("") {
			if n.Name == WrappedName+".lin.weight" {
				assert.True(t, n.Param.SharesStorage(flat.Parameter))
			}
		}
		_, err := w.Lookup(FlatParamName)
		assert.ErrorIs(t, err, model.ErrNotFound, "slot must be invisible inside the scope")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{FlatParamName, WrappedName + ".gain"}, paramNames(w))
}

// TestToggleExceptionSafety verifies that an error from the block still
// restores the pre-entry registration state and retracts every view.
func TestToggleExceptionSafety(t *testing.T) {
	w, _ := newWrapper(t, false)
	namesBefore := paramNames(w)

	boom := errors.New("boom")
	err := w.WithUnflattenedAsViews(func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, namesBefore, paramNames(w))

	h, err := w.Handle()
	require.NoError(t, err)
	assert.False(t, h.ViewsAsParams())
}

// TestTogglePanicSafety verifies cleanup runs even when the block panics.
func TestTogglePanicSafety(t *testing.T) {
	w, _ := newWrapper(t, false)
	namesBefore := paramNames(w)

	assert.Panics(t, func() {
		_ = w.WithUnflattenedAsViews(func() error { panic("boom") })
	})
	assert.Equal(t, namesBefore, paramNames(w))
}

// TestReentrantToggleRejected verifies a nested toggle on the same wrapper
// fails explicitly instead of double-toggling, and that the outer scope
// still cleans up.
func TestReentrantToggleRejected(t *testing.T) {
	w, _ := newWrapper(t, false)
	err := w.WithUnflattenedAsViews(func() error {
		return w.WithUnflattenedAsViews(func() error { return nil })
	})
	assert.ErrorIs(t, err, ErrReentrantUnflatten)
	assert.Equal(t, []string{FlatParamName, WrappedName + ".gain"}, paramNames(w))

	// The guard resets: a later toggle works.
	require.NoError(t, w.WithUnflattenedAsViews(func() error { return nil }))
}

// TestInvokeMaterializesAggregated verifies Invoke exposes the aggregated
// bytes through the original positions before delegating, and passes
// arguments and result through unchanged.
func TestInvokeMaterializesAggregated(t *testing.T) {
	w, child := newWrapper(t, false)
	inner, ok := child.Child("lin")
	require.True(t, ok)

	// Before any invoke the managed names resolve to nothing.
	_, err := inner.Lookup("weight")
	assert.ErrorIs(t, err, model.ErrNotFound)

	var gotArgs []any
	child.SetForward(func(args ...any) (any, error) {
		gotArgs = args
		v, err := inner.Lookup("weight")
		if err != nil {
			return nil, err
		}
		return v.(*core.Parameter).Data[0], nil
	})

	out, err := w.Invoke("x", 7)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", 7}, gotArgs)
	assert.Equal(t, w.FlatParam().Data[0], out)

	// The materialized views are plain aliases, not parameters.
	assert.Equal(t, []string{FlatParamName, WrappedName + ".gain"}, paramNames(w))

	h, err := w.Handle()
	require.NoError(t, err)
	assert.True(t, h.ViewsInstalled())
	assert.False(t, h.ViewsAsParams())
}

// TestInvokeInsideToggleRejected verifies the undefined nested case is
// rejected explicitly.
func TestInvokeInsideToggleRejected(t *testing.T) {
	w, child := newWrapper(t, false)
	child.SetForward(func(args ...any) (any, error) { return nil, nil })

	err := w.WithUnflattenedAsViews(func() error {
		_, err := w.Invoke()
		return err
	})
	assert.ErrorIs(t, err, ErrReentrantUnflatten)
}

// TestInvokePassthrough verifies a wrapper without parameters delegates
// without touching any representation.
func TestInvokePassthrough(t *testing.T) {
	child, _ := buildChild(t)
	child.SetForward(func(args ...any) (any, error) { return args[0], nil })
	w, err := New(child, nil, core.CPU, flatten.Config{}, false)
	require.NoError(t, err)

	out, err := w.Invoke(42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

// TestAttributeFallback verifies the two-stage lookup: wrapper fields
// first, then the wrapped subtree, with the child's error kind surfacing
// on a double miss.
func TestAttributeFallback(t *testing.T) {
	w, child := newWrapper(t, false)
	child.SetAttr("activation", "relu")

	got, err := w.Lookup("activation")
	require.NoError(t, err)
	assert.Equal(t, "relu", got)

	got, err = w.Lookup(WrappedName)
	require.NoError(t, err)
	assert.Same(t, child, got)

	_, err = w.Lookup("nonexistent")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorContains(t, err, "nonexistent")
}

// TestIndexForwarding verifies integer indexing reaches the wrapped
// sequence, not the wrapper's own children.
func TestIndexForwarding(t *testing.T) {
	first, second := model.NewModule(), model.NewModule()
	seq := model.NewSequential(first, second)
	w, err := New(seq, nil, core.CPU, flatten.Config{}, false)
	require.NoError(t, err)

	got, err := w.ChildAt(1)
	require.NoError(t, err)
	assert.Same(t, second, got)

	_, err = w.ChildAt(5)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// paramNames lists the wrapper's visible parameter paths.
func paramNames(w *Wrapper) []string {
	var names []string
	for _, n := range w.NamedParameters("") {
		names = append(names, n.Name)
	}
	return names
}
