package irtext

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/wasm"
)

type document struct {
	Name      string         `yaml:"name"`
	Types     []typeSpec     `yaml:"types"`
	Globals   []globalSpec   `yaml:"globals"`
	Functions []functionSpec `yaml:"functions"`
	Signature *signatureSpec `yaml:"signature"`
	Options   *optionsNode   `yaml:"options"`
	Blocks    []blockSpec    `yaml:"blocks"`
	Expect    *Expect        `yaml:"expect"`
}

// typeSpec declares one type; exactly one of Struct, Array and Func is set.
type typeSpec struct {
	Name   string       `yaml:"name"`
	Super  string       `yaml:"super"`
	Struct *[]fieldSpec `yaml:"struct"`
	Array  *fieldSpec   `yaml:"array"`
	Func   *funcSpec    `yaml:"func"`
}

type fieldSpec struct {
	Type    string `yaml:"type"`
	Mutable bool   `yaml:"mutable"`
}

type funcSpec struct {
	Params  []string `yaml:"params"`
	Results []string `yaml:"results"`
}

type globalSpec struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Mutable bool   `yaml:"mutable"`
}

type functionSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// signatureSpec is either the name of a declared function type or an
// inline {params, results} mapping.
type signatureSpec struct {
	Type   string
	Inline funcSpec
}

func (s *signatureSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Type = node.Value
		return nil
	}
	return node.Decode(&s.Inline)
}

// optionsNode keeps the options mapping undecoded. Its keys are checked by
// the consumer, so the strict field check of the fixture stops here.
type optionsNode struct {
	node *yaml.Node
}

func (n *optionsNode) UnmarshalYAML(node *yaml.Node) error {
	n.node = node
	return nil
}

func (n *optionsNode) mapping() *yaml.Node {
	if n == nil || n.node == nil || n.node.Kind == 0 || n.node.Tag == "!!null" {
		return nil
	}
	return n.node
}

type blockSpec struct {
	Name string   `yaml:"name"`
	Ops  []opSpec `yaml:"ops"`
}

type opSpec struct {
	ID       string   `yaml:"id"`
	Op       string   `yaml:"op"`
	Name     string   `yaml:"name"`
	Object   string   `yaml:"object"`
	Value    string   `yaml:"value"`
	Type     string   `yaml:"type"`
	Index    int      `yaml:"index"`
	Struct   string   `yaml:"struct"`
	Field    int      `yaml:"field"`
	Global   string   `yaml:"global"`
	Function string   `yaml:"function"`
	Rtt      string   `yaml:"rtt"`
	Length   string   `yaml:"length"`
	Inputs   []string `yaml:"inputs"`
	Cond     string   `yaml:"cond"`
	Then     string   `yaml:"then"`
	Else     string   `yaml:"else"`
	Target   string   `yaml:"target"`
}

// declareTypes adds every type before resolving any field, so types may
// refer to each other in any order.
func declareTypes(m *wasm.Module, specs []typeSpec) error {
	heaps := make([]wasm.HeapType, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("type %d has no name", i)
		}
		if _, dup := m.Lookup(spec.Name); dup {
			return fmt.Errorf("type %q declared twice", spec.Name)
		}

		shapes := 0
		for _, set := range []bool{spec.Struct != nil, spec.Array != nil, spec.Func != nil} {
			if set {
				shapes++
			}
		}
		if shapes != 1 {
			return fmt.Errorf("type %q must declare exactly one of struct, array and func", spec.Name)
		}

		switch {
		case spec.Struct != nil:
			heaps[i] = m.AddStruct(spec.Name, wasm.NoSupertype)
		case spec.Array != nil:
			heaps[i] = m.AddArray(spec.Name, wasm.NoSupertype, wasm.Field{})
		default:
			heaps[i] = m.AddFunc(spec.Name, wasm.NoSupertype, wasm.FuncType{})
		}
	}

	for i, spec := range specs {
		def := m.Def(heaps[i])
		if spec.Super != "" {
			super, ok := m.Lookup(spec.Super)
			if !ok {
				return fmt.Errorf("type %q: undeclared supertype %q", spec.Name, spec.Super)
			}
			def.Supertype = super
		}

		var err error
		switch {
		case spec.Struct != nil:
			def.Struct.Fields, err = parseFields(m, *spec.Struct)
		case spec.Array != nil:
			var elem []wasm.Field
			elem, err = parseFields(m, []fieldSpec{*spec.Array})
			if err == nil {
				def.Array.Elem = elem[0]
			}
		default:
			var sig wasm.FuncType
			sig, err = parseFunc(m, *spec.Func)
			*def.Func = sig
		}
		if err != nil {
			return fmt.Errorf("type %q: %w", spec.Name, err)
		}
	}
	return nil
}

func parseFields(m *wasm.Module, specs []fieldSpec) ([]wasm.Field, error) {
	fields := make([]wasm.Field, len(specs))
	for i, f := range specs {
		t, err := m.ParseValueType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		fields[i] = wasm.Field{Type: t, Mutable: f.Mutable}
	}
	return fields, nil
}

func parseFunc(m *wasm.Module, spec funcSpec) (wasm.FuncType, error) {
	params, err := parseTypes(m, spec.Params)
	if err != nil {
		return wasm.FuncType{}, fmt.Errorf("params: %w", err)
	}
	results, err := parseTypes(m, spec.Results)
	if err != nil {
		return wasm.FuncType{}, fmt.Errorf("results: %w", err)
	}
	return wasm.FuncType{Params: params, Results: results}, nil
}

func parseTypes(m *wasm.Module, texts []string) ([]wasm.ValueType, error) {
	out := make([]wasm.ValueType, len(texts))
	for i, text := range texts {
		t, err := m.ParseValueType(text)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func declareItems(m *wasm.Module, doc document) error {
	for _, g := range doc.Globals {
		t, err := m.ParseValueType(g.Type)
		if err != nil {
			return fmt.Errorf("global %q: %w", g.Name, err)
		}
		m.AddGlobal(g.Name, t, g.Mutable)
	}
	for _, f := range doc.Functions {
		h, ok := m.Lookup(f.Type)
		if !ok {
			return fmt.Errorf("function %q: undeclared type %q", f.Name, f.Type)
		}
		if _, isFunc := m.Signature(h); !isFunc {
			return fmt.Errorf("function %q: type %q is not a function type", f.Name, f.Type)
		}
		m.AddFunction(f.Name, h)
	}
	return nil
}

func signature(m *wasm.Module, spec *signatureSpec) (*wasm.FuncType, error) {
	if spec == nil {
		return &wasm.FuncType{}, nil
	}
	if spec.Type != "" {
		h, ok := m.Lookup(spec.Type)
		if !ok {
			return nil, fmt.Errorf("undeclared type %q", spec.Type)
		}
		sig, ok := m.Signature(h)
		if !ok {
			return nil, fmt.Errorf("type %q is not a function type", spec.Type)
		}
		return sig, nil
	}
	sig, err := parseFunc(m, spec.Inline)
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// ============================================================================
// Graph construction
// ============================================================================

type phiFixup struct {
	phi   ir.OpIndex
	input int
	id    string
}

type graphReader struct {
	fx      *Fixture
	b       *ir.Builder
	fixups  []phiFixup
	current string
}

func buildGraph(fx *Fixture, specs []blockSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("no blocks")
	}

	r := &graphReader{fx: fx, b: ir.NewBuilder()}
	fx.ops = make(map[string]ir.OpIndex)
	fx.blocks = make(map[string]ir.BlockIndex, len(specs))
	for i, spec := range specs {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("B%d", i)
		}
		if _, dup := fx.blocks[name]; dup {
			return fmt.Errorf("block %q declared twice", name)
		}
		fx.blocks[name] = r.b.NewBlock()
	}

	for i, spec := range specs {
		blk := ir.BlockIndex(i)
		for j, op := range spec.Ops {
			r.current = fmt.Sprintf("B%d op %d (%s)", i, j, op.Op)
			if err := r.emit(blk, op); err != nil {
				return fmt.Errorf("%s: %w", r.current, err)
			}
		}
	}

	for _, fix := range r.fixups {
		v, ok := fx.ops[fix.id]
		if !ok {
			return fmt.Errorf("phi %d: undefined value %q", fix.phi, fix.id)
		}
		r.b.SetPhiInput(fix.phi, fix.input, v)
	}

	g, err := r.b.Finish()
	if err != nil {
		return err
	}
	fx.Graph = g
	return nil
}

func (r *graphReader) emit(blk ir.BlockIndex, spec opSpec) error {
	code, ok := ir.OpcodeByName(spec.Op)
	if !ok {
		return fmt.Errorf("unknown operation %q", spec.Op)
	}

	var op ir.Operation
	var err error
	switch code {
	case ir.OpParameter:
		op = &ir.Parameter{Index: spec.Index}
	case ir.OpOpaque:
		var args []ir.OpIndex
		if args, err = r.values(spec.Inputs); err == nil {
			op = &ir.Opaque{Name: spec.Name, Args: args}
		}
	case ir.OpTypeCast, ir.OpTypeCheck:
		op, err = r.typeTest(code, spec)
	case ir.OpAssertNotNull:
		var obj ir.OpIndex
		var t wasm.ValueType
		if obj, err = r.value(spec.Object); err == nil {
			if t, err = r.optionalType(spec.Type); err == nil {
				op = &ir.AssertNotNull{Object: obj, Type: t}
			}
		}
	case ir.OpNull:
		var t wasm.ValueType
		if t, err = r.valueType(spec.Type); err == nil {
			op = &ir.Null{Type: t}
		}
	case ir.OpIsNull:
		var obj ir.OpIndex
		var t wasm.ValueType
		if obj, err = r.value(spec.Object); err == nil {
			if t, err = r.valueType(spec.Type); err == nil {
				op = &ir.IsNull{Object: obj, Type: t}
			}
		}
	case ir.OpStructGet, ir.OpStructSet:
		op, err = r.structAccess(code, spec)
	case ir.OpArrayLength:
		var arr ir.OpIndex
		if arr, err = r.value(spec.Object); err == nil {
			op = &ir.ArrayLength{Array: arr}
		}
	case ir.OpGlobalGet:
		var g int
		if g, err = r.item("global", spec.Global, len(r.fx.Module.Globals), r.globalIndex); err == nil {
			op = &ir.GlobalGet{Global: g}
		}
	case ir.OpRefFunc:
		var f int
		if f, err = r.item("function", spec.Function, len(r.fx.Module.Functions), r.functionIndex); err == nil {
			op = &ir.RefFunc{Function: f}
		}
	case ir.OpRttCanon:
		var h wasm.HeapType
		if h, err = r.fx.Module.ParseHeapType(spec.Type); err == nil {
			op = &ir.RttCanon{Type: h}
		}
	case ir.OpAllocateStruct:
		var rtt ir.OpIndex
		var fields []ir.OpIndex
		if rtt, err = r.value(spec.Rtt); err == nil {
			if fields, err = r.values(spec.Inputs); err == nil {
				op = &ir.AllocateStruct{Rtt: rtt, Fields: fields}
			}
		}
	case ir.OpAllocateArray:
		var rtt, length ir.OpIndex
		if rtt, err = r.value(spec.Rtt); err == nil {
			if length, err = r.value(spec.Length); err == nil {
				op = &ir.AllocateArray{Rtt: rtt, Length: length}
			}
		}
	case ir.OpPhi:
		return r.emitPhi(blk, spec)
	case ir.OpTypeAnnotation:
		var v ir.OpIndex
		var t wasm.ValueType
		if v, err = r.value(spec.Value); err == nil {
			if t, err = r.valueType(spec.Type); err == nil {
				op = &ir.TypeAnnotation{Value: v, Type: t}
			}
		}
	case ir.OpGoto:
		var dest ir.BlockIndex
		if dest, err = r.block(spec.Target); err == nil {
			op = &ir.Goto{Destination: dest}
		}
	case ir.OpBranch:
		op, err = r.branch(spec)
	case ir.OpReturn:
		var vals []ir.OpIndex
		if vals, err = r.values(spec.Inputs); err == nil {
			op = &ir.Return{Values: vals}
		}
	case ir.OpUnreachable:
		op = &ir.Unreachable{}
	default:
		err = fmt.Errorf("unsupported operation %q", spec.Op)
	}
	if err != nil {
		return err
	}

	return r.define(spec.ID, r.b.Emit(blk, op))
}

func (r *graphReader) define(id string, idx ir.OpIndex) error {
	if id == "" {
		return nil
	}
	if _, dup := r.fx.ops[id]; dup {
		return fmt.Errorf("value %q defined twice", id)
	}
	r.fx.ops[id] = idx
	return nil
}

// emitPhi allows inputs defined later in the fixture; they are patched in
// once every block has been read.
func (r *graphReader) emitPhi(blk ir.BlockIndex, spec opSpec) error {
	inputs := make([]ir.OpIndex, len(spec.Inputs))
	var pending []int
	for i, id := range spec.Inputs {
		v, ok := r.fx.ops[id]
		if !ok {
			v = ir.InvalidOp
			pending = append(pending, i)
		}
		inputs[i] = v
	}
	idx := r.b.Phi(blk, inputs...)
	for _, i := range pending {
		r.fixups = append(r.fixups, phiFixup{phi: idx, input: i, id: spec.Inputs[i]})
	}
	return r.define(spec.ID, idx)
}

func (r *graphReader) typeTest(code ir.Opcode, spec opSpec) (ir.Operation, error) {
	obj, err := r.value(spec.Object)
	if err != nil {
		return nil, err
	}
	to, err := r.valueType(spec.Type)
	if err != nil {
		return nil, err
	}
	if code == ir.OpTypeCast {
		return &ir.TypeCast{Object: obj, To: to}, nil
	}
	return &ir.TypeCheck{Object: obj, To: to}, nil
}

func (r *graphReader) structAccess(code ir.Opcode, spec opSpec) (ir.Operation, error) {
	obj, err := r.value(spec.Object)
	if err != nil {
		return nil, err
	}
	h, err := r.fx.Module.ParseHeapType(spec.Struct)
	if err != nil {
		return nil, err
	}
	def := r.fx.Module.Def(h)
	if def == nil || def.Struct == nil || spec.Field < 0 || spec.Field >= len(def.Struct.Fields) {
		return nil, fmt.Errorf("no field %d in struct %q", spec.Field, spec.Struct)
	}
	if code == ir.OpStructGet {
		return &ir.StructGet{Object: obj, Struct: h, Field: spec.Field}, nil
	}
	val, err := r.value(spec.Value)
	if err != nil {
		return nil, err
	}
	return &ir.StructSet{Object: obj, Value: val, Struct: h, Field: spec.Field}, nil
}

func (r *graphReader) branch(spec opSpec) (ir.Operation, error) {
	cond, err := r.value(spec.Cond)
	if err != nil {
		return nil, err
	}
	then, err := r.block(spec.Then)
	if err != nil {
		return nil, err
	}
	els, err := r.block(spec.Else)
	if err != nil {
		return nil, err
	}
	return &ir.Branch{Condition: cond, IfTrue: then, IfFalse: els}, nil
}

func (r *graphReader) value(id string) (ir.OpIndex, error) {
	if id == "" {
		return ir.InvalidOp, fmt.Errorf("missing operand")
	}
	v, ok := r.fx.ops[id]
	if !ok {
		return ir.InvalidOp, fmt.Errorf("undefined value %q", id)
	}
	return v, nil
}

func (r *graphReader) values(ids []string) ([]ir.OpIndex, error) {
	out := make([]ir.OpIndex, len(ids))
	for i, id := range ids {
		v, err := r.value(id)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *graphReader) block(name string) (ir.BlockIndex, error) {
	b, ok := r.fx.blocks[name]
	if !ok {
		return ir.InvalidBlock, fmt.Errorf("undeclared block %q", name)
	}
	return b, nil
}

func (r *graphReader) valueType(text string) (wasm.ValueType, error) {
	if text == "" {
		return wasm.Unknown, fmt.Errorf("missing type")
	}
	return r.fx.Module.ParseValueType(text)
}

func (r *graphReader) optionalType(text string) (wasm.ValueType, error) {
	if text == "" {
		return wasm.Unknown, nil
	}
	return r.fx.Module.ParseValueType(text)
}

// item resolves a global or function given by name or index.
func (r *graphReader) item(kind, ref string, count int, byName func(string) (int, bool)) (int, error) {
	if i, ok := byName(ref); ok {
		return i, nil
	}
	if i, err := strconv.Atoi(ref); err == nil && i >= 0 && i < count {
		return i, nil
	}
	return 0, fmt.Errorf("undeclared %s %q", kind, ref)
}

func (r *graphReader) globalIndex(name string) (int, bool) {
	for i, g := range r.fx.Module.Globals {
		if g.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (r *graphReader) functionIndex(name string) (int, bool) {
	for i, f := range r.fx.Module.Functions {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}
