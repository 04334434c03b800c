package model

import (
	"fmt"
	"sort"
	"strings"
)

// StateDict maps dotted structural paths to parameter payload bytes.
type StateDict map[string][]byte

// Keys returns the dict's keys in sorted order.
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExportHook rewrites state dict keys after a module's subtree has been
// collected. prefix is the module's dotted path including the trailing dot.
type ExportHook func(sd StateDict, prefix string) error

// ImportHook rewrites state dict keys before a module's subtree is
// populated. prefix is the module's dotted path including the trailing dot.
type ImportHook func(sd StateDict, prefix string) error

// RegisterExportHook attaches a key-rewriting hook fired by StateDict after
// this module's subtree is collected. Hooks are per-instance and run in
// registration order.
func (m *Module) RegisterExportHook(h ExportHook) {
	m.exportHooks = append(m.exportHooks, h)
}

// RegisterImportHook attaches a key-rewriting hook fired by LoadStateDict
// before this module's subtree is populated.
func (m *Module) RegisterImportHook(h ImportHook) {
	m.importHooks = append(m.importHooks, h)
}

// ReplaceByPrefix rewrites every key beginning with oldPrefix to begin with
// newPrefix instead, in place.
func ReplaceByPrefix(sd StateDict, oldPrefix, newPrefix string) {
	if oldPrefix == newPrefix {
		return
	}
	var matched []string
	for k := range sd {
		if strings.HasPrefix(k, oldPrefix) {
			matched = append(matched, k)
		}
	}
	for _, k := range matched {
		v := sd[k]
		delete(sd, k)
		sd[newPrefix+k[len(oldPrefix):]] = v
	}
}

// StateDict collects the subtree's visible parameters into a fresh dict.
// Payloads are cloned, never aliased, so a snapshot stays stable while the
// live buffers change.
func (m *Module) StateDict() (StateDict, error) {
	sd := make(StateDict)
	if err := m.collectState(sd, ""); err != nil {
		return nil, err
	}
	return sd, nil
}

func (m *Module) collectState(sd StateDict, prefix string) error {
	for _, n := range m.params.Visible() {
		sd[prefix+n.Name] = append([]byte(nil), n.Param.Data...)
	}
	for _, name := range m.childNames {
		if err := m.children[name].collectState(sd, prefix+name+"."); err != nil {
			return err
		}
	}
	for _, h := range m.exportHooks {
		if err := h(sd, prefix); err != nil {
			return err
		}
	}
	return nil
}

// LoadStateDict populates the subtree's visible parameters from sd,
// bit-identically, after running each module's import hooks. Loading is
// strict: missing and unexpected keys are errors. The caller's dict is not
// mutated.
func (m *Module) LoadStateDict(sd StateDict) error {
	work := make(StateDict, len(sd))
	for k, v := range sd {
		work[k] = v
	}
	consumed := make(map[string]bool, len(work))
	var missing []string
	if err := m.populateState(work, "", consumed, &missing); err != nil {
		return err
	}
	var unexpected []string
	for k := range work {
		if !consumed[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return fmt.Errorf("state dict mismatch: missing keys %v, unexpected keys %v", missing, unexpected)
	}
	return nil
}

func (m *Module) populateState(sd StateDict, prefix string, consumed map[string]bool, missing *[]string) error {
	for _, h := range m.importHooks {
		if err := h(sd, prefix); err != nil {
			return err
		}
	}
	for _, n := range m.params.Visible() {
		key := prefix + n.Name
		data, ok := sd[key]
		if !ok {
			*missing = append(*missing, key)
			continue
		}
		if err := n.Param.CopyFrom(data); err != nil {
			return fmt.Errorf("loading %q: %w", key, err)
		}
		consumed[key] = true
	}
	for _, name := range m.childNames {
		if err := m.children[name].populateState(sd, prefix+name+".", consumed, missing); err != nil {
			return err
		}
	}
	return nil
}
