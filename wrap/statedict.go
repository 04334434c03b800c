package wrap

import (
	"fmt"
	"strings"

	"github.com/sbl8/flatparam/model"
)

// The key remapper is a pair of pure rewrites registered on every Wrapper
// at construction. Exported snapshots must not depend on whether a Wrapper
// sits in the tree, so the internal child prefix is stripped on export and
// re-inserted on import, with the aggregated buffer's keys special-cased
// because that slot lives on the Wrapper itself, not on the wrapped child.

// postExportHook moves everything from under the internal child prefix up
// one level: prefix + "_fpw_module." + rest becomes prefix + rest.
func postExportHook(sd model.StateDict, prefix string) error {
	model.ReplaceByPrefix(sd, prefix+WrappedName+".", prefix)
	return nil
}

// preImportHook pushes every key under prefix down to the internal child
// level, then moves aggregated-buffer keys back up: their slot is on the
// Wrapper, so the generic rewrite must be undone for them. An
// aggregated-prefix key whose last dotted segment does not begin with
// flat_param is a format error.
func preImportHook(sd model.StateDict, prefix string) error {
	model.ReplaceByPrefix(sd, prefix, prefix+WrappedName+".")
	flatPrefix := prefix + WrappedName + "." + FlatParamName
	for _, k := range sd.Keys() {
		if !strings.HasPrefix(k, flatPrefix) {
			continue
		}
		last := k
		if i := strings.LastIndex(k, "."); i >= 0 {
			last = k[i+1:]
		}
		if !strings.HasPrefix(last, FlatParamName) {
			return fmt.Errorf("%w: %q", ErrBadFlatParamKey, k)
		}
		model.ReplaceByPrefix(sd, k, prefix+last)
	}
	return nil
}
