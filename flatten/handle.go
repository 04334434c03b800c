package flatten

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sbl8/flatparam/core"
	"github.com/sbl8/flatparam/model"
)

// viewPool recycles view Parameter headers across install/retract cycles.
// Views are created and destroyed in matched pairs on every representation
// toggle, so the headers churn while the data they alias never moves.
var viewPool = sync.Pool{New: func() any { return new(core.Parameter) }}

func takeView(data []byte, shape []int) *core.Parameter {
	v := viewPool.Get().(*core.Parameter)
	v.Data = data
	v.Shape = shape
	return v
}

func releaseView(v *core.Parameter) {
	v.Data = nil
	v.Shape = nil
	viewPool.Put(v)
}

type liveView struct {
	owner *model.Module
	name  string
	view  *core.Parameter
}

// Handle owns the aggregated buffer and the per-item aliasing views over
// it. It is the sole authority for the buffer's contents and for view
// install/retract; callers serialize all mutating calls externally.
type Handle struct {
	flat          *FlatParameter
	root          *model.Module
	device        core.Device
	cfg           Config
	useOrigParams bool

	live         []liveView
	liveAsParams bool
}

// NewHandle aggregates the given parameters into one flat buffer over the
// tree rooted at root. The original parameters are deregistered from their
// owner modules; their payloads live on only inside the flat buffer. With
// useOrigParams the per-item views are installed as visible parameters
// immediately and stay under the Handle's control.
func NewHandle(params []NamedParam, root *model.Module, device core.Device, cfg Config, useOrigParams bool) (*Handle, error) {
	if len(params) == 0 {
		return nil, errors.New("no parameters to flatten")
	}
	if root == nil {
		return nil, errors.New("root module is nil")
	}
	if err := device.Validate(); err != nil {
		return nil, err
	}
	if a := cfg.SpanAlignment; a != 0 {
		if a < core.ElemSize || a&(a-1) != 0 {
			return nil, fmt.Errorf("span alignment %d must be a power of two >= %d", a, core.ElemSize)
		}
	}

	seenName := make(map[*model.Module]map[string]bool, len(params))
	seenParam := make(map[*core.Parameter]bool, len(params))
	spans := make([]span, 0, len(params))
	offset := 0
	for _, np := range params {
		if np.Owner == nil {
			return nil, fmt.Errorf("parameter %q has no owner module", np.Name)
		}
		if err := np.Param.Validate(); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", np.Name, err)
		}
		if got, ok := np.Owner.Params().Get(np.Name); !ok || got != np.Param {
			return nil, fmt.Errorf("parameter %q is not registered on its owner", np.Name)
		}
		if seenName[np.Owner] == nil {
			seenName[np.Owner] = make(map[string]bool)
		}
		if seenName[np.Owner][np.Name] || seenParam[np.Param] {
			return nil, fmt.Errorf("duplicate parameter %q in flatten list", np.Name)
		}
		seenName[np.Owner][np.Name] = true
		seenParam[np.Param] = true

		if cfg.SpanAlignment != 0 {
			offset = core.AlignSize(offset, cfg.SpanAlignment)
		}
		spans = append(spans, span{
			owner:  np.Owner,
			name:   np.Name,
			offset: offset,
			size:   np.Param.Size(),
			shape:  append([]int(nil), np.Param.Shape...),
		})
		offset += np.Param.Size()
	}

	flat := &FlatParameter{
		Parameter: core.ViewParameter(core.AlignedBytes(offset), []int{offset / core.ElemSize}),
		spans:     spans,
	}
	for i, np := range params {
		copy(flat.Data[spans[i].offset:spans[i].offset+spans[i].size], np.Param.Data)
		np.Owner.Params().Remove(np.Name)
	}

	h := &Handle{
		flat:          flat,
		root:          root,
		device:        device,
		cfg:           cfg,
		useOrigParams: useOrigParams,
	}
	if useOrigParams {
		if err := h.installViews(true); err != nil {
			return nil, err
		}
	}
	slog.Debug("flattened parameters", "count", len(spans), "bytes", offset, "device", string(device))
	return h, nil
}

// FlatParam returns the aggregated buffer.
func (h *Handle) FlatParam() *FlatParameter {
	return h.flat
}

// UseOrigParams reports the view discipline fixed at construction.
func (h *Handle) UseOrigParams() bool {
	return h.useOrigParams
}

// Device returns the placement target recorded at construction.
func (h *Handle) Device() core.Device {
	return h.device
}

// ViewsInstalled reports whether per-item views are currently installed in
// the tree, as parameters or as plain views.
func (h *Handle) ViewsInstalled() bool {
	return len(h.live) > 0
}

// ViewsAsParams reports whether the installed views are visible parameters.
// Meaningless when no views are installed.
func (h *Handle) ViewsAsParams() bool {
	return h.liveAsParams
}

// MaterializeAggregatedLive forces the aggregated buffer to be the live
// representation exposed to the wrapped tree: per-item ranges appear as
// plain non-parameter aliases (or as parameters when asParams is set), so
// computation sees the flat buffer's current bytes through the original
// structural positions.
func (h *Handle) MaterializeAggregatedLive(asParams bool) error {
	return h.installViews(asParams)
}

// UnflattenAsViews installs the per-item views as visible parameters in
// their original structural positions, runs fn, and retracts them again.
// Retraction is guaranteed on every exit path; afterwards the per-item
// ranges remain reachable as plain views (or as parameters when the Handle
// was constructed with useOrigParams).
func (h *Handle) UnflattenAsViews(fn func() error) (err error) {
	if err = h.installViews(true); err != nil {
		return err
	}
	defer func() {
		if rerr := h.installViews(h.useOrigParams); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}

// installViews retracts any live views and installs a fresh matched set
// aliasing the flat buffer.
func (h *Handle) installViews(asParams bool) error {
	h.retractViews()
	for i := range h.flat.spans {
		sp := &h.flat.spans[i]
		v := takeView(h.flat.Data[sp.offset:sp.offset+sp.size], sp.shape)
		var err error
		if asParams {
			err = sp.owner.Params().Add(sp.name, v)
		} else {
			err = sp.owner.Params().AddView(sp.name, v)
		}
		if err != nil {
			releaseView(v)
			h.retractViews()
			return fmt.Errorf("installing view %q: %w", sp.name, err)
		}
		h.live = append(h.live, liveView{owner: sp.owner, name: sp.name, view: v})
	}
	h.liveAsParams = asParams
	return nil
}

// retractViews removes every live view from its owner registry and returns
// the headers to the pool.
func (h *Handle) retractViews() {
	for _, lv := range h.live {
		lv.owner.Params().Remove(lv.name)
		releaseView(lv.view)
	}
	h.live = nil
}
