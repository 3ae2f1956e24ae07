package wasm

import (
	"errors"
	"fmt"
)

// DefKind describes the shape of a module-defined type.
type DefKind uint8

const (
	DefStruct DefKind = iota
	DefArray
	DefFunc
)

func (k DefKind) String() string {
	switch k {
	case DefStruct:
		return "struct"
	case DefArray:
		return "array"
	case DefFunc:
		return "func"
	default:
		return fmt.Sprintf("invalid(%d)", k)
	}
}

// Field is a struct field or an array element.
type Field struct {
	Type    ValueType
	Mutable bool
}

type StructType struct {
	Fields []Field
}

type ArrayType struct {
	Elem Field
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// TypeDef is a nominal type declaration. Exactly one of Struct, Array and
// Func is set, matching Kind.
type TypeDef struct {
	Name      string
	Kind      DefKind
	Supertype HeapType
	Struct    *StructType
	Array     *ArrayType
	Func      *FuncType
}

type Global struct {
	Name    string
	Type    ValueType
	Mutable bool
}

// Function is a declared function; TypeIndex points at its signature.
type Function struct {
	Name      string
	TypeIndex HeapType
}

// Module holds the type declarations shared by every function of a module.
type Module struct {
	Types     []TypeDef
	Globals   []Global
	Functions []Function

	byName map[string]HeapType
}

// ErrInvalidModule is returned by Module.Validate.
var ErrInvalidModule = errors.New("invalid module")

// NewModule returns an empty module with no declared types.
func NewModule() *Module {
	return &Module{byName: map[string]HeapType{}}
}

func (m *Module) add(def TypeDef) HeapType {
	idx := HeapType(len(m.Types))
	m.Types = append(m.Types, def)
	if def.Name != "" {
		if m.byName == nil {
			m.byName = map[string]HeapType{}
		}
		m.byName[def.Name] = idx
	}
	return idx
}

// AddStruct declares a struct type and returns its index.
func (m *Module) AddStruct(name string, super HeapType, fields ...Field) HeapType {
	return m.add(TypeDef{Name: name, Kind: DefStruct, Supertype: super, Struct: &StructType{Fields: fields}})
}

// AddArray declares an array type and returns its index.
func (m *Module) AddArray(name string, super HeapType, elem Field) HeapType {
	return m.add(TypeDef{Name: name, Kind: DefArray, Supertype: super, Array: &ArrayType{Elem: elem}})
}

// AddFunc declares a function type and returns its index.
func (m *Module) AddFunc(name string, super HeapType, sig FuncType) HeapType {
	return m.add(TypeDef{Name: name, Kind: DefFunc, Supertype: super, Func: &sig})
}

// AddGlobal declares a global and returns its index.
func (m *Module) AddGlobal(name string, typ ValueType, mutable bool) int {
	m.Globals = append(m.Globals, Global{Name: name, Type: typ, Mutable: mutable})
	return len(m.Globals) - 1
}

// AddFunction declares a function with the given signature index.
func (m *Module) AddFunction(name string, sig HeapType) int {
	m.Functions = append(m.Functions, Function{Name: name, TypeIndex: sig})
	return len(m.Functions) - 1
}

// Def returns the declaration of an indexed heap type, or nil.
func (m *Module) Def(h HeapType) *TypeDef {
	if !h.IsIndex() || int(h) >= len(m.Types) {
		return nil
	}
	return &m.Types[h]
}

// Lookup resolves a declared type name.
func (m *Module) Lookup(name string) (HeapType, bool) {
	h, ok := m.byName[name]
	return h, ok
}

// TypeName returns the declared name of h, falling back to its index form.
func (m *Module) TypeName(h HeapType) string {
	if def := m.Def(h); def != nil && def.Name != "" {
		return def.Name
	}
	return h.String()
}

// Format renders t using declared type names.
func (m *Module) Format(t ValueType) string {
	return formatValueType(t, m.TypeName)
}

// StructField returns the declared type of a struct field.
func (m *Module) StructField(h HeapType, field int) ValueType {
	def := m.Def(h)
	if def == nil || def.Struct == nil || field < 0 || field >= len(def.Struct.Fields) {
		panic(fmt.Sprintf("wasm: no field %d in struct %s", field, m.TypeName(h)))
	}
	return def.Struct.Fields[field].Type
}

// GlobalType returns the declared type of a global.
func (m *Module) GlobalType(global int) ValueType {
	return m.Globals[global].Type
}

// FunctionType returns the signature index of a declared function.
func (m *Module) FunctionType(function int) HeapType {
	return m.Functions[function].TypeIndex
}

// Signature returns the function type declared at h.
func (m *Module) Signature(h HeapType) (*FuncType, bool) {
	def := m.Def(h)
	if def == nil || def.Func == nil {
		return nil, false
	}
	return def.Func, true
}

// Validate checks that supertypes exist, precede their subtypes and share
// their kind, and that every referenced type index is declared.
func (m *Module) Validate() error {
	for i, def := range m.Types {
		idx := HeapType(i)
		switch def.Kind {
		case DefStruct:
			if def.Struct == nil {
				return fmt.Errorf("%w: type %s is a struct without fields declaration", ErrInvalidModule, m.TypeName(idx))
			}
			for j, f := range def.Struct.Fields {
				if err := m.checkType(f.Type); err != nil {
					return fmt.Errorf("%w: type %s field %d: %w", ErrInvalidModule, m.TypeName(idx), j, err)
				}
			}
		case DefArray:
			if def.Array == nil {
				return fmt.Errorf("%w: type %s is an array without element declaration", ErrInvalidModule, m.TypeName(idx))
			}
			if err := m.checkType(def.Array.Elem.Type); err != nil {
				return fmt.Errorf("%w: type %s element: %w", ErrInvalidModule, m.TypeName(idx), err)
			}
		case DefFunc:
			if def.Func == nil {
				return fmt.Errorf("%w: type %s is a func without signature", ErrInvalidModule, m.TypeName(idx))
			}
		default:
			return fmt.Errorf("%w: type %s has kind %s", ErrInvalidModule, m.TypeName(idx), def.Kind)
		}

		if def.Supertype == NoSupertype {
			continue
		}
		if !def.Supertype.IsIndex() || def.Supertype >= idx {
			return fmt.Errorf("%w: type %s: supertype %s must be declared before it", ErrInvalidModule, m.TypeName(idx), def.Supertype)
		}
		if super := m.Types[def.Supertype]; super.Kind != def.Kind {
			return fmt.Errorf("%w: type %s (%s) cannot extend %s (%s)", ErrInvalidModule, m.TypeName(idx), def.Kind, m.TypeName(def.Supertype), super.Kind)
		}
	}

	for i, g := range m.Globals {
		if err := m.checkType(g.Type); err != nil {
			return fmt.Errorf("%w: global %d: %w", ErrInvalidModule, i, err)
		}
	}
	for i, f := range m.Functions {
		if def := m.Def(f.TypeIndex); def == nil || def.Kind != DefFunc {
			return fmt.Errorf("%w: function %d: %s is not a function type", ErrInvalidModule, i, f.TypeIndex)
		}
	}

	return nil
}

func (m *Module) checkType(t ValueType) error {
	if t.IsRef() && t.heap.IsIndex() && int(t.heap) >= len(m.Types) {
		return fmt.Errorf("undeclared type %s", t.heap)
	}
	return nil
}
