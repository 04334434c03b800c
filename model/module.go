// Package model defines the module tree that flatparam wrappers operate on.
//
// A Module is a node in a hierarchy of named components. Each node owns an
// ordered parameter registry, an ordered set of named children, and a bag of
// plain attributes. Generic traversal (NamedParameters, StateDict) walks the
// registries depth-first in registration order, which makes parameter
// visibility a property of registry membership: entries can be hidden from
// traversal without destroying their storage, and view entries are reachable
// by structural lookup while staying out of parameter traversal entirely.
//
// The package also carries the persisted-state machinery: state dicts keyed
// by dotted structural paths, per-instance export/import hooks that rewrite
// keys at serialization boundaries, and a binary snapshot codec.
package model

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sbl8/flatparam/core"
)

// ErrNotFound is wrapped by every failed structural lookup.
var ErrNotFound = errors.New("member not found")

// Named pairs a registry name with its parameter.
type Named struct {
	Name  string
	Param *core.Parameter
}

type regEntry struct {
	param   *core.Parameter
	visible bool
	asParam bool // false marks a plain view, excluded from parameter traversal
}

// Registry holds a module's parameters and views in registration order.
// Visibility is explicit membership state: a hidden entry keeps its storage
// and its position but is skipped by traversal until re-shown.
type Registry struct {
	names   []string
	entries map[string]*regEntry
}

// NewRegistry creates an empty parameter registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*regEntry)}
}

// Add registers a visible parameter under name.
func (r *Registry) Add(name string, p *core.Parameter) error {
	return r.add(name, p, true)
}

// AddView registers a plain view under name. Views resolve through Lookup
// but never appear in parameter traversal or state dicts.
func (r *Registry) AddView(name string, p *core.Parameter) error {
	return r.add(name, p, false)
}

func (r *Registry) add(name string, p *core.Parameter, asParam bool) error {
	if name == "" {
		return errors.New("registry name is empty")
	}
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("name %q already registered", name)
	}
	r.names = append(r.names, name)
	r.entries[name] = &regEntry{param: p, visible: true, asParam: asParam}
	return nil
}

// Remove deletes the entry under name, reporting whether it existed.
func (r *Registry) Remove(name string) bool {
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
	return true
}

// SetVisible toggles traversal membership for the named entry without
// touching its storage. Reports whether the entry exists.
func (r *Registry) SetVisible(name string, visible bool) bool {
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.visible = visible
	return true
}

// Has reports whether an entry exists under name, visible or not.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Get returns the entry under name regardless of visibility.
func (r *Registry) Get(name string) (*core.Parameter, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.param, true
}

// Visible returns the visible parameters in registration order.
func (r *Registry) Visible() []Named {
	out := make([]Named, 0, len(r.names))
	for _, n := range r.names {
		e := r.entries[n]
		if e.asParam && e.visible {
			out = append(out, Named{Name: n, Param: e.param})
		}
	}
	return out
}

// lookup resolves name for structural lookup: visible parameters and views.
func (r *Registry) lookup(name string) (*core.Parameter, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	if e.asParam && !e.visible {
		return nil, false
	}
	return e.param, true
}

// Forward is a module's computation, invoked by Run with the caller's
// arguments unchanged.
type Forward func(args ...any) (any, error)

// Module is one node of the tree: ordered named children, a parameter
// registry, plain attributes, and an optional forward function.
type Module struct {
	childNames []string
	children   map[string]*Module
	params     *Registry
	attrs      map[string]any
	forward    Forward

	exportHooks []ExportHook
	importHooks []ImportHook
}

// NewModule creates an empty module node.
func NewModule() *Module {
	return &Module{
		children: make(map[string]*Module),
		params:   NewRegistry(),
		attrs:    make(map[string]any),
	}
}

// NewSequential creates a module whose children are the given modules named
// by their position, "0" through "n-1".
func NewSequential(mods ...*Module) *Module {
	m := NewModule()
	for i, child := range mods {
		// Names are fresh, so AddChild cannot fail here.
		_ = m.AddChild(strconv.Itoa(i), child)
	}
	return m
}

// AddChild registers a named child module.
func (m *Module) AddChild(name string, child *Module) error {
	if name == "" {
		return errors.New("child name is empty")
	}
	if child == nil {
		return errors.New("child module is nil")
	}
	if _, ok := m.children[name]; ok {
		return fmt.Errorf("child %q already registered", name)
	}
	m.childNames = append(m.childNames, name)
	m.children[name] = child
	return nil
}

// Child returns the child registered under name.
func (m *Module) Child(name string) (*Module, bool) {
	c, ok := m.children[name]
	return c, ok
}

// ChildAt returns the child at the given registration index.
func (m *Module) ChildAt(index int) (*Module, error) {
	if index < 0 || index >= len(m.childNames) {
		return nil, fmt.Errorf("%w: child index %d of %d", ErrNotFound, index, len(m.childNames))
	}
	return m.children[m.childNames[index]], nil
}

// NumChildren returns the number of registered children.
func (m *Module) NumChildren() int {
	return len(m.childNames)
}

// Params exposes the module's parameter registry.
func (m *Module) Params() *Registry {
	return m.params
}

// SetAttr stores a plain attribute reachable through Lookup.
func (m *Module) SetAttr(name string, value any) {
	m.attrs[name] = value
}

// SetForward installs the module's computation.
func (m *Module) SetForward(fn Forward) {
	m.forward = fn
}

// Run invokes the module's forward function with the given arguments.
func (m *Module) Run(args ...any) (any, error) {
	if m.forward == nil {
		return nil, errors.New("module has no forward function")
	}
	return m.forward(args...)
}

// Lookup resolves a structural name on this module: visible parameters and
// views first, then attributes, then named children. Misses wrap
// ErrNotFound with the name.
func (m *Module) Lookup(name string) (any, error) {
	if p, ok := m.params.lookup(name); ok {
		return p, nil
	}
	if v, ok := m.attrs[name]; ok {
		return v, nil
	}
	if c, ok := m.children[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// NamedParameters returns every visible parameter in the subtree keyed by
// its dotted path under prefix, own registry first, then children in
// registration order.
func (m *Module) NamedParameters(prefix string) []Named {
	var out []Named
	for _, n := range m.params.Visible() {
		out = append(out, Named{Name: prefix + n.Name, Param: n.Param})
	}
	for _, name := range m.childNames {
		out = append(out, m.children[name].NamedParameters(prefix+name+".")...)
	}
	return out
}
