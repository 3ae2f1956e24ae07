package wasm

import (
	"fmt"
	"strconv"
	"strings"
)

var shorthandRefs = map[string]ValueType{
	"anyref":        RefNull(HeapAny),
	"eqref":         RefNull(HeapEq),
	"i31ref":        RefNull(HeapI31),
	"structref":     RefNull(HeapStruct),
	"arrayref":      RefNull(HeapArray),
	"nullref":       RefNull(HeapNone),
	"funcref":       RefNull(HeapFunc),
	"nullfuncref":   RefNull(HeapNoFunc),
	"externref":     RefNull(HeapExtern),
	"nullexternref": RefNull(HeapNoExtern),
}

var scalarTypes = map[string]ValueType{
	"i32":       I32,
	"i64":       I64,
	"f32":       F32,
	"f64":       F64,
	"top":       Top,
	"bottom":    Bottom,
	"<bottom>":  Bottom,
	"unknown":   Unknown,
	"<unknown>": Unknown,
}

// ParseValueType parses the text form produced by Format, plus the usual
// shorthands (anyref, funcref, ...) and parenthesized "(ref null $T)".
// Heap types may be abstract names, declared type names or "$N" indices.
func (m *Module) ParseValueType(s string) (ValueType, error) {
	text := strings.TrimSpace(s)
	text = strings.TrimSuffix(strings.TrimPrefix(text, "("), ")")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Unknown, fmt.Errorf("empty value type")
	}

	if len(fields) == 1 {
		if t, ok := scalarTypes[fields[0]]; ok {
			return t, nil
		}
		if t, ok := shorthandRefs[fields[0]]; ok {
			return t, nil
		}
		return Unknown, fmt.Errorf("unknown value type %q", s)
	}

	if fields[0] != "ref" {
		return Unknown, fmt.Errorf("unknown value type %q", s)
	}
	nullable := false
	rest := fields[1:]
	if rest[0] == "null" {
		nullable = true
		rest = rest[1:]
	}
	if len(rest) != 1 {
		return Unknown, fmt.Errorf("malformed reference type %q", s)
	}

	heap, err := m.ParseHeapType(rest[0])
	if err != nil {
		return Unknown, fmt.Errorf("reference type %q: %w", s, err)
	}
	if nullable {
		return RefNull(heap), nil
	}
	return Ref(heap), nil
}

// ParseHeapType resolves an abstract heap name, a declared type name, or an
// index written as "$N".
func (m *Module) ParseHeapType(s string) (HeapType, error) {
	for h, name := range abstractHeapNames {
		if name == s {
			return h, nil
		}
	}
	if h, ok := m.Lookup(strings.TrimPrefix(s, "$")); ok {
		return h, nil
	}
	if idx, ok := strings.CutPrefix(s, "$"); ok {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 || n >= len(m.Types) {
			return 0, fmt.Errorf("undeclared type %q", s)
		}
		return HeapType(n), nil
	}
	return 0, fmt.Errorf("undeclared type %q", s)
}

// MustParse is ParseValueType for literals known to be valid.
func (m *Module) MustParse(s string) ValueType {
	t, err := m.ParseValueType(s)
	if err != nil {
		panic(err)
	}
	return t
}
