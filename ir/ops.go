package ir

import (
	"fmt"

	"github.com/speakeasy-api/typeflow/wasm"
)

// OpIndex identifies an operation, and the value it produces, within a Graph.
type OpIndex int32

// InvalidOp is the OpIndex of no operation.
const InvalidOp OpIndex = -1

type Opcode int

const (
	OpParameter Opcode = iota
	OpOpaque
	OpTypeCast
	OpTypeCheck
	OpAssertNotNull
	OpNull
	OpIsNull
	OpStructGet
	OpStructSet
	OpArrayLength
	OpGlobalGet
	OpRefFunc
	OpRttCanon
	OpAllocateStruct
	OpAllocateArray
	OpPhi
	OpTypeAnnotation
	OpGoto
	OpBranch
	OpReturn
	OpUnreachable
)

var opcodeNames = map[Opcode]string{
	OpParameter:      "parameter",
	OpOpaque:         "opaque",
	OpTypeCast:       "type_cast",
	OpTypeCheck:      "type_check",
	OpAssertNotNull:  "assert_not_null",
	OpNull:           "null",
	OpIsNull:         "is_null",
	OpStructGet:      "struct_get",
	OpStructSet:      "struct_set",
	OpArrayLength:    "array_length",
	OpGlobalGet:      "global_get",
	OpRefFunc:        "ref_func",
	OpRttCanon:       "rtt_canon",
	OpAllocateStruct: "allocate_struct",
	OpAllocateArray:  "allocate_array",
	OpPhi:            "phi",
	OpTypeAnnotation: "type_annotation",
	OpGoto:           "goto",
	OpBranch:         "branch",
	OpReturn:         "return",
	OpUnreachable:    "unreachable",
}

func (op Opcode) String() string {
	v, ok := opcodeNames[op]
	if !ok {
		return fmt.Sprintf("invalid(%d)", int(op))
	}

	return v
}

// OpcodeByName is the inverse of Opcode.String.
func OpcodeByName(name string) (Opcode, bool) {
	for k, v := range opcodeNames {
		if v == name {
			return k, true
		}
	}
	return 0, false
}

// Operation is one node of the graph. The set of implementations is closed.
type Operation interface {
	Opcode() Opcode
	// Inputs lists the value operands in a fixed order.
	Inputs() []OpIndex
}

// Parameter is a function parameter; index 0 is the instance parameter.
type Parameter struct {
	Index int
}

// Opaque stands for any operation the type analysis does not interpret,
// such as calls or arithmetic.
type Opaque struct {
	Name string
	Args []OpIndex
}

// TypeCast is a checked downcast: traps unless Object has type To. The
// result is the same reference as Object.
type TypeCast struct {
	Object OpIndex
	To     wasm.ValueType
}

// TypeCheck produces whether Object has type To.
type TypeCheck struct {
	Object OpIndex
	To     wasm.ValueType
}

// AssertNotNull traps on null. Type is the declared type of Object.
type AssertNotNull struct {
	Object OpIndex
	Type   wasm.ValueType
}

// Null is the null constant of Type's hierarchy.
type Null struct {
	Type wasm.ValueType
}

// IsNull tests Object, declared as Type, against null.
type IsNull struct {
	Object OpIndex
	Type   wasm.ValueType
}

type StructGet struct {
	Object OpIndex
	Struct wasm.HeapType
	Field  int
}

type StructSet struct {
	Object OpIndex
	Value  OpIndex
	Struct wasm.HeapType
	Field  int
}

type ArrayLength struct {
	Array OpIndex
}

type GlobalGet struct {
	Global int
}

// RefFunc is a reference to a declared function.
type RefFunc struct {
	Function int
}

// RttCanon is the canonical runtime type of a defined type; allocations
// take it as their type operand.
type RttCanon struct {
	Type wasm.HeapType
}

type AllocateStruct struct {
	Rtt    OpIndex
	Fields []OpIndex
}

type AllocateArray struct {
	Rtt    OpIndex
	Length OpIndex
}

// Phi selects Values[i] when control arrives from the i-th predecessor.
type Phi struct {
	Values []OpIndex
}

// TypeAnnotation asserts, without a runtime check, that Value has Type.
type TypeAnnotation struct {
	Value OpIndex
	Type  wasm.ValueType
}

// Goto jumps unconditionally to Destination.
type Goto struct {
	Destination BlockIndex
}

// Branch jumps to IfTrue when Condition is non-zero, to IfFalse otherwise.
type Branch struct {
	Condition OpIndex
	IfTrue    BlockIndex
	IfFalse   BlockIndex
}

type Return struct {
	Values []OpIndex
}

// Unreachable traps unconditionally.
type Unreachable struct{}

func (*Parameter) Opcode() Opcode      { return OpParameter }
func (*Opaque) Opcode() Opcode         { return OpOpaque }
func (*TypeCast) Opcode() Opcode       { return OpTypeCast }
func (*TypeCheck) Opcode() Opcode      { return OpTypeCheck }
func (*AssertNotNull) Opcode() Opcode  { return OpAssertNotNull }
func (*Null) Opcode() Opcode           { return OpNull }
func (*IsNull) Opcode() Opcode         { return OpIsNull }
func (*StructGet) Opcode() Opcode      { return OpStructGet }
func (*StructSet) Opcode() Opcode      { return OpStructSet }
func (*ArrayLength) Opcode() Opcode    { return OpArrayLength }
func (*GlobalGet) Opcode() Opcode      { return OpGlobalGet }
func (*RefFunc) Opcode() Opcode        { return OpRefFunc }
func (*RttCanon) Opcode() Opcode       { return OpRttCanon }
func (*AllocateStruct) Opcode() Opcode { return OpAllocateStruct }
func (*AllocateArray) Opcode() Opcode  { return OpAllocateArray }
func (*Phi) Opcode() Opcode            { return OpPhi }
func (*TypeAnnotation) Opcode() Opcode { return OpTypeAnnotation }
func (*Goto) Opcode() Opcode           { return OpGoto }
func (*Branch) Opcode() Opcode         { return OpBranch }
func (*Return) Opcode() Opcode         { return OpReturn }
func (*Unreachable) Opcode() Opcode    { return OpUnreachable }

func (*Parameter) Inputs() []OpIndex        { return nil }
func (op *Opaque) Inputs() []OpIndex        { return op.Args }
func (op *TypeCast) Inputs() []OpIndex      { return []OpIndex{op.Object} }
func (op *TypeCheck) Inputs() []OpIndex     { return []OpIndex{op.Object} }
func (op *AssertNotNull) Inputs() []OpIndex { return []OpIndex{op.Object} }
func (*Null) Inputs() []OpIndex             { return nil }
func (op *IsNull) Inputs() []OpIndex        { return []OpIndex{op.Object} }
func (op *StructGet) Inputs() []OpIndex     { return []OpIndex{op.Object} }
func (op *StructSet) Inputs() []OpIndex     { return []OpIndex{op.Object, op.Value} }
func (op *ArrayLength) Inputs() []OpIndex   { return []OpIndex{op.Array} }
func (*GlobalGet) Inputs() []OpIndex        { return nil }
func (*RefFunc) Inputs() []OpIndex          { return nil }
func (*RttCanon) Inputs() []OpIndex         { return nil }
func (op *AllocateStruct) Inputs() []OpIndex {
	return append([]OpIndex{op.Rtt}, op.Fields...)
}
func (op *AllocateArray) Inputs() []OpIndex  { return []OpIndex{op.Rtt, op.Length} }
func (op *Phi) Inputs() []OpIndex            { return op.Values }
func (op *TypeAnnotation) Inputs() []OpIndex { return []OpIndex{op.Value} }
func (*Goto) Inputs() []OpIndex              { return nil }
func (op *Branch) Inputs() []OpIndex         { return []OpIndex{op.Condition} }
func (op *Return) Inputs() []OpIndex         { return op.Values }
func (*Unreachable) Inputs() []OpIndex       { return nil }

// IsTerminator reports whether op ends a block.
func IsTerminator(op Operation) bool {
	switch op.(type) {
	case *Goto, *Branch, *Return, *Unreachable:
		return true
	default:
		return false
	}
}

// Successors returns the blocks a terminator transfers control to.
func Successors(op Operation) []BlockIndex {
	switch t := op.(type) {
	case *Goto:
		return []BlockIndex{t.Destination}
	case *Branch:
		return []BlockIndex{t.IfTrue, t.IfFalse}
	default:
		return nil
	}
}
