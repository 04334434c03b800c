// Package flatparam aggregates independently-owned parameter buffers into a
// single contiguous buffer that can stand in for the originals.
//
// A wrapped module subtree keeps working exactly as before while its managed
// parameters live inside one cache-aligned flat buffer. Depending on what a
// caller needs, the live representation is either the aggregated buffer
// itself, discoverable through the wrapper's flat_param slot for efficient
// bulk storage and communication, or a matched set of per-item views that
// alias byte ranges of the buffer from the original structural positions.
// Switching representations never reallocates the buffer and never
// invalidates references held by surrounding code.
//
// # Architecture Overview
//
// The module consists of four packages plus a command-line tool:
//
//   - core: aligned Parameter buffers with unsafe float32 access
//   - model: the module tree, parameter registries with explicit
//     visibility, and the persisted-state machinery
//   - flatten: the aggregation handle owning the flat buffer and the
//     install/retract logic for aliasing views
//   - wrap: the parameter aggregation wrapper and the state dict key
//     remapper that makes snapshots representation-agnostic
//   - cmd/fpdump: snapshot inspector
//
// # Basic Usage
//
//	w, err := wrap.New(child, params, core.CPU, flatten.Config{}, false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Bulk form: one contiguous buffer.
//	buf := w.FlatParam()
//
//	// Per-item form, scoped, with guaranteed restore:
//	err = w.WithUnflattenedAsViews(func() error {
//	    // the original parameters are visible again here
//	    return nil
//	})
//
// All operations are synchronous and unsynchronized; callers sharing a
// wrapper across goroutines must serialize mutating calls externally.
//
// For more information, see the documentation at https://pkg.go.dev/flatparam
// and the project repository at https://github.com/sbl8/flatparam
package flatparam
