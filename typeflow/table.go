package typeflow

import (
	"fmt"
	"slices"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/wasm"
)

// maxOverlayDepth bounds the parent chain of a sealed snapshot. Longer
// chains are flattened into a single map when sealed.
const maxOverlayDepth = 8

// Snapshot is a handle to an immutable, sealed type assignment. The zero
// value refers to no snapshot.
type Snapshot struct {
	id int32
}

func (s Snapshot) Valid() bool {
	return s.id != 0
}

func (s Snapshot) String() string {
	if !s.Valid() {
		return "<none>"
	}
	return fmt.Sprintf("S%d", s.id)
}

// sealedSnapshot stores the values set on top of its parent.
type sealedSnapshot struct {
	parent Snapshot
	delta  map[ir.OpIndex]wasm.ValueType
	depth  int
}

// combineFunc folds the values a key has in the reachable predecessors of
// a merge. Values are never empty and never contain bottom.
type combineFunc func(key ir.OpIndex, values []wasm.ValueType) wasm.ValueType

// typeTable is an arena of sealed snapshots plus at most one open working
// snapshot layered over a base.
type typeTable struct {
	sealed []sealedSnapshot

	open    bool
	base    Snapshot
	working map[ir.OpIndex]wasm.ValueType
	preds   []Snapshot
}

func newTypeTable() *typeTable {
	return &typeTable{}
}

// StartNew opens an empty working snapshot.
func (t *typeTable) StartNew() {
	t.start(Snapshot{}, nil)
}

// StartNewFrom opens a working snapshot that starts as a copy of pred.
func (t *typeTable) StartNewFrom(pred Snapshot) {
	t.mustExist(pred)
	t.start(pred, []Snapshot{pred})
}

// StartNewMerge opens a working snapshot holding, for every key present in
// any of preds, the combination of its values in the reachable ones. A key
// absent from a predecessor counts as unknown there. Bottom values are
// skipped and a key whose values are all bottom stays bottom. The result
// reports whether two collected values differed.
func (t *typeTable) StartNewMerge(preds []Snapshot, reachable []bool, combine combineFunc) bool {
	if len(preds) != len(reachable) {
		panic(fmt.Sprintf("typeflow: merge of %d snapshots with %d reachability flags", len(preds), len(reachable)))
	}
	if !slices.Contains(reachable, true) {
		panic("typeflow: merge without a reachable predecessor")
	}

	flat := make([]map[ir.OpIndex]wasm.ValueType, len(preds))
	var keys []ir.OpIndex
	seen := make(map[ir.OpIndex]struct{})
	for i, p := range preds {
		t.mustExist(p)
		flat[i] = t.materialize(p)
		for k := range flat[i] {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	// Sorted so combine sees keys in a stable order.
	slices.Sort(keys)

	merged := make(map[ir.OpIndex]wasm.ValueType, len(keys))
	differ := false
	values := make([]wasm.ValueType, 0, len(preds))
	for _, k := range keys {
		values = values[:0]
		for i := range preds {
			if !reachable[i] {
				continue
			}
			v := flat[i][k]
			if v.IsBottom() {
				continue
			}
			if len(values) > 0 && v != values[0] {
				differ = true
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			merged[k] = wasm.Bottom
			continue
		}
		merged[k] = combine(k, values)
	}

	t.start(Snapshot{}, slices.Clone(preds))
	t.working = merged
	return differ
}

func (t *typeTable) start(base Snapshot, preds []Snapshot) {
	if t.open {
		panic("typeflow: new snapshot started while another one is open")
	}
	t.open = true
	t.base = base
	t.working = make(map[ir.OpIndex]wasm.ValueType)
	t.preds = preds
}

// Get returns the value of key in the working snapshot, or unknown.
func (t *typeTable) Get(key ir.OpIndex) wasm.ValueType {
	t.mustBeOpen()
	if v, ok := t.working[key]; ok {
		return v
	}
	return t.Lookup(t.base, key)
}

func (t *typeTable) Set(key ir.OpIndex, v wasm.ValueType) {
	t.mustBeOpen()
	t.working[key] = v
}

// PredecessorValue returns the value key has in the i-th predecessor the
// working snapshot was started from.
func (t *typeTable) PredecessorValue(key ir.OpIndex, i int) wasm.ValueType {
	t.mustBeOpen()
	if i < 0 || i >= len(t.preds) {
		panic(fmt.Sprintf("typeflow: predecessor %d of %d", i, len(t.preds)))
	}
	return t.Lookup(t.preds[i], key)
}

// Lookup returns the value of key in a sealed snapshot, or unknown.
func (t *typeTable) Lookup(s Snapshot, key ir.OpIndex) wasm.ValueType {
	for s.Valid() {
		sn := &t.sealed[s.id-1]
		if v, ok := sn.delta[key]; ok {
			return v
		}
		s = sn.parent
	}
	return wasm.Unknown
}

// Seal freezes the working snapshot. A working snapshot without changes
// over its base seals to the base itself.
func (t *typeTable) Seal() Snapshot {
	if !t.open {
		panic("typeflow: seal without an open snapshot")
	}
	t.open = false
	base, delta := t.base, t.working
	t.base, t.working, t.preds = Snapshot{}, nil, nil

	// Drop entries that restate the base.
	for k, v := range delta {
		if base.Valid() && t.Lookup(base, k) == v {
			delete(delta, k)
		}
	}
	if len(delta) == 0 && base.Valid() {
		return base
	}

	depth := 1
	if base.Valid() {
		depth = t.sealed[base.id-1].depth + 1
	}
	if depth > maxOverlayDepth {
		flat := t.materialize(base)
		for k, v := range delta {
			flat[k] = v
		}
		base, delta, depth = Snapshot{}, flat, 1
	}

	t.sealed = append(t.sealed, sealedSnapshot{parent: base, delta: delta, depth: depth})
	return Snapshot{id: int32(len(t.sealed))}
}

// Len returns the number of keys visible in a sealed snapshot.
func (t *typeTable) Len(s Snapshot) int {
	return len(t.materialize(s))
}

// materialize flattens a sealed snapshot into a fresh map.
func (t *typeTable) materialize(s Snapshot) map[ir.OpIndex]wasm.ValueType {
	var chain []*sealedSnapshot
	for s.Valid() {
		sn := &t.sealed[s.id-1]
		chain = append(chain, sn)
		s = sn.parent
	}
	out := make(map[ir.OpIndex]wasm.ValueType)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].delta {
			out[k] = v
		}
	}
	return out
}

// delta lists the keys whose value in s differs from their value in base,
// sorted.
func (t *typeTable) delta(base, s Snapshot) []ir.OpIndex {
	before, after := t.materialize(base), t.materialize(s)
	var keys []ir.OpIndex
	for k, v := range after {
		if old, ok := before[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (t *typeTable) mustBeOpen() {
	if !t.open {
		panic("typeflow: no open snapshot")
	}
}

func (t *typeTable) mustExist(s Snapshot) {
	if !s.Valid() || int(s.id) > len(t.sealed) {
		panic(fmt.Sprintf("typeflow: unknown snapshot %s", s))
	}
}
