package wasm

import "fmt"

// HeapType identifies what a reference points to. Non-negative values index
// Module.Types; negative values are the abstract heap types.
type HeapType int32

const (
	HeapAny HeapType = -1 - iota
	HeapEq
	HeapI31
	HeapStruct
	HeapArray
	HeapNone
	HeapFunc
	HeapNoFunc
	HeapExtern
	HeapNoExtern
)

// NoSupertype marks a type definition without a declared supertype.
const NoSupertype HeapType = -128

var abstractHeapNames = map[HeapType]string{
	HeapAny:      "any",
	HeapEq:       "eq",
	HeapI31:      "i31",
	HeapStruct:   "struct",
	HeapArray:    "array",
	HeapNone:     "none",
	HeapFunc:     "func",
	HeapNoFunc:   "nofunc",
	HeapExtern:   "extern",
	HeapNoExtern: "noextern",
}

// IsIndex reports whether h refers to a module-defined type.
func (h HeapType) IsIndex() bool {
	return h >= 0
}

// IsBottom reports whether h is the bottom of its hierarchy.
func (h HeapType) IsBottom() bool {
	return h == HeapNone || h == HeapNoFunc || h == HeapNoExtern
}

func (h HeapType) String() string {
	if h.IsIndex() {
		return fmt.Sprintf("$%d", int32(h))
	}
	if name, ok := abstractHeapNames[h]; ok {
		return name
	}
	return fmt.Sprintf("heap(%d)", int32(h))
}

// Kind classifies a ValueType.
type Kind uint8

const (
	// KindUnknown is the zero Kind: nothing is known about the value yet.
	KindUnknown Kind = iota
	KindI32
	KindI64
	KindF32
	KindF64
	KindRef
	// KindTop is a value with no statically known restriction.
	KindTop
	// KindBottom is an uninhabited type.
	KindBottom
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindI32:     "i32",
	KindI64:     "i64",
	KindF32:     "f32",
	KindF64:     "f64",
	KindRef:     "ref",
	KindTop:     "top",
	KindBottom:  "bottom",
}

func (k Kind) String() string {
	v, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("invalid(%d)", k)
	}

	return v
}

// ValueType is an element of the type lattice or one of its two sentinels.
// The zero value is Unknown. ValueType is comparable with ==.
type ValueType struct {
	kind     Kind
	heap     HeapType
	nullable bool
}

var (
	Unknown = ValueType{}
	Bottom  = ValueType{kind: KindBottom}
	Top     = ValueType{kind: KindTop}
	I32     = ValueType{kind: KindI32}
	I64     = ValueType{kind: KindI64}
	F32     = ValueType{kind: KindF32}
	F64     = ValueType{kind: KindF64}
)

// Ref returns the non-nullable reference type to h.
func Ref(h HeapType) ValueType {
	return ValueType{kind: KindRef, heap: h}
}

// RefNull returns the nullable reference type to h.
func RefNull(h HeapType) ValueType {
	return ValueType{kind: KindRef, heap: h, nullable: true}
}

func (t ValueType) Kind() Kind {
	return t.kind
}

// Heap returns the referenced heap type. Only meaningful for references.
func (t ValueType) Heap() HeapType {
	return t.heap
}

func (t ValueType) IsUnknown() bool {
	return t.kind == KindUnknown
}

func (t ValueType) IsBottom() bool {
	return t.kind == KindBottom
}

func (t ValueType) IsTop() bool {
	return t.kind == KindTop
}

func (t ValueType) IsRef() bool {
	return t.kind == KindRef
}

// IsNullable reports whether t is a reference type admitting null.
func (t ValueType) IsNullable() bool {
	return t.kind == KindRef && t.nullable
}

// IsNonNullable reports whether t is a reference type excluding null.
func (t ValueType) IsNonNullable() bool {
	return t.kind == KindRef && !t.nullable
}

// IsUninhabited reports whether no value can have type t.
func (t ValueType) IsUninhabited() bool {
	return t.kind == KindBottom || (t.kind == KindRef && !t.nullable && t.heap.IsBottom())
}

// AsNonNull drops nullability. A non-null reference to a bottom heap type
// has no values, so it collapses to Bottom. Non-references are returned as is.
func (t ValueType) AsNonNull() ValueType {
	if t.kind != KindRef {
		return t
	}
	if t.heap.IsBottom() {
		return Bottom
	}
	t.nullable = false
	return t
}

// AsNullable adds nullability to a reference type.
func (t ValueType) AsNullable() ValueType {
	if t.kind == KindRef {
		t.nullable = true
	}
	return t
}

func (t ValueType) String() string {
	return formatValueType(t, HeapType.String)
}

func formatValueType(t ValueType, heapName func(HeapType) string) string {
	switch t.kind {
	case KindUnknown:
		return "<unknown>"
	case KindBottom:
		return "<bottom>"
	case KindRef:
		if t.nullable {
			return "ref null " + heapName(t.heap)
		}
		return "ref " + heapName(t.heap)
	default:
		return t.kind.String()
	}
}
