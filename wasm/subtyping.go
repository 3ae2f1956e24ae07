package wasm

// ============================================================================
// HEAP TYPE HIERARCHY
// ============================================================================

// hierarchyTop returns the top of the hierarchy h belongs to: HeapAny,
// HeapFunc or HeapExtern.
func (m *Module) hierarchyTop(h HeapType) HeapType {
	if h.IsIndex() {
		if def := m.Def(h); def != nil && def.Kind == DefFunc {
			return HeapFunc
		}
		return HeapAny
	}
	switch h {
	case HeapFunc, HeapNoFunc:
		return HeapFunc
	case HeapExtern, HeapNoExtern:
		return HeapExtern
	default:
		return HeapAny
	}
}

func bottomOf(top HeapType) HeapType {
	switch top {
	case HeapFunc:
		return HeapNoFunc
	case HeapExtern:
		return HeapNoExtern
	default:
		return HeapNone
	}
}

// abstractOf maps a defined type to the abstract heap type directly above
// its whole declaration chain.
func (m *Module) abstractOf(h HeapType) HeapType {
	if !h.IsIndex() {
		return h
	}
	switch m.Def(h).Kind {
	case DefStruct:
		return HeapStruct
	case DefArray:
		return HeapArray
	default:
		return HeapFunc
	}
}

// IsHeapSubtype reports whether sub <: super.
func (m *Module) IsHeapSubtype(sub, super HeapType) bool {
	if sub == super {
		return true
	}
	if m.hierarchyTop(sub) != m.hierarchyTop(super) {
		return false
	}
	if sub.IsBottom() {
		return true
	}
	if super.IsBottom() {
		return false
	}

	switch super {
	case HeapAny, HeapFunc, HeapExtern:
		return true
	case HeapEq:
		a := m.abstractOf(sub)
		return a == HeapI31 || a == HeapStruct || a == HeapArray
	case HeapStruct, HeapArray:
		return sub.IsIndex() && m.abstractOf(sub) == super
	case HeapI31:
		return false
	}

	if !sub.IsIndex() {
		return false
	}
	for cur := m.Types[sub].Supertype; cur != NoSupertype; cur = m.Types[cur].Supertype {
		if cur == super {
			return true
		}
	}
	return false
}

// heapUnion returns the least common supertype, or false when a and b live
// in different hierarchies.
func (m *Module) heapUnion(a, b HeapType) (HeapType, bool) {
	if m.hierarchyTop(a) != m.hierarchyTop(b) {
		return 0, false
	}
	if m.IsHeapSubtype(a, b) {
		return b, true
	}
	if m.IsHeapSubtype(b, a) {
		return a, true
	}

	// Closest declared ancestor of a that is also above b.
	if a.IsIndex() && b.IsIndex() {
		for cur := m.Types[a].Supertype; cur != NoSupertype; cur = m.Types[cur].Supertype {
			if m.IsHeapSubtype(b, cur) {
				return cur, true
			}
		}
	}

	top := m.hierarchyTop(a)
	if top != HeapAny {
		return top, true
	}
	ca, cb := m.abstractOf(a), m.abstractOf(b)
	if ca == cb {
		return ca, true
	}
	if m.IsHeapSubtype(ca, HeapEq) && m.IsHeapSubtype(cb, HeapEq) {
		return HeapEq, true
	}
	return HeapAny, true
}

// heapIntersection returns the greatest common subtype, or false when a and
// b live in different hierarchies.
func (m *Module) heapIntersection(a, b HeapType) (HeapType, bool) {
	top := m.hierarchyTop(a)
	if top != m.hierarchyTop(b) {
		return 0, false
	}
	if m.IsHeapSubtype(a, b) {
		return a, true
	}
	if m.IsHeapSubtype(b, a) {
		return b, true
	}
	return bottomOf(top), true
}

// ============================================================================
// VALUE TYPE LATTICE
// ============================================================================

// IsSubtype reports whether sub <: super. Unknown is not related to anything
// but itself.
func (m *Module) IsSubtype(sub, super ValueType) bool {
	if sub == super {
		return true
	}
	if sub.IsUnknown() || super.IsUnknown() {
		return false
	}
	if sub.IsBottom() || super.IsTop() {
		return true
	}
	if super.IsBottom() || sub.IsTop() {
		return false
	}
	if sub.IsRef() && super.IsRef() {
		if sub.nullable && !super.nullable {
			return false
		}
		return m.IsHeapSubtype(sub.heap, super.heap)
	}
	return false
}

// Union returns the least upper bound of a and b. Unknown absorbs everything;
// types without a common supertype join to Top.
func (m *Module) Union(a, b ValueType) ValueType {
	switch {
	case a.IsUnknown() || b.IsUnknown():
		return Unknown
	case a.IsBottom():
		return b
	case b.IsBottom():
		return a
	case a.IsTop() || b.IsTop():
		return Top
	}

	if a.IsRef() && b.IsRef() {
		h, ok := m.heapUnion(a.heap, b.heap)
		if !ok {
			return Top
		}
		return ValueType{kind: KindRef, heap: h, nullable: a.nullable || b.nullable}
	}
	if a == b {
		return a
	}
	return Top
}

// Intersection returns the greatest lower bound of a and b, Bottom when no
// value can have both types. Unknown is the identity.
func (m *Module) Intersection(a, b ValueType) ValueType {
	switch {
	case a.IsUnknown():
		return b
	case b.IsUnknown():
		return a
	case a.IsBottom() || b.IsBottom():
		return Bottom
	case a.IsTop():
		return b
	case b.IsTop():
		return a
	}

	if a.IsRef() && b.IsRef() {
		h, ok := m.heapIntersection(a.heap, b.heap)
		if !ok {
			return Bottom
		}
		res := ValueType{kind: KindRef, heap: h, nullable: a.nullable && b.nullable}
		if res.IsUninhabited() {
			return Bottom
		}
		return res
	}
	if a == b {
		return a
	}
	return Bottom
}

// ToNullSentinel returns the type whose only value is the null of t's
// hierarchy. Non-reference types have no null and yield Bottom.
func (m *Module) ToNullSentinel(t ValueType) ValueType {
	if !t.IsRef() {
		return Bottom
	}
	return RefNull(bottomOf(m.hierarchyTop(t.heap)))
}
