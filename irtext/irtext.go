// Package irtext reads function graphs, the module types they use and the
// expected analysis outcome from YAML fixtures.
//
//	types:
//	  - name: Point
//	    struct:
//	      - type: i32
//	      - {type: (ref null Point), mutable: true}
//	signature: {params: [anyref]}
//	blocks:
//	  - name: entry
//	    ops:
//	      - {id: p, op: parameter, index: 1}
//	      - {id: c, op: type_cast, object: p, type: (ref Point)}
//	      - {op: return, inputs: [c]}
//	expect:
//	  input: {c: anyref}
//	  resolved: {c: ref Point}
package irtext

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/wasm"
)

// ErrInvalidFixture is returned for fixtures that do not describe a
// well-formed module and graph.
var ErrInvalidFixture = errors.New("invalid fixture")

// Fixture is a decoded fixture document.
type Fixture struct {
	Name      string
	Module    *wasm.Module
	Signature *wasm.FuncType
	Graph     *ir.Graph
	// Options is the raw options mapping, decoded by the consumer.
	Options *yaml.Node
	Expect  *Expect

	ops    map[string]ir.OpIndex
	blocks map[string]ir.BlockIndex
}

// Expect lists the outcomes a fixture asserts. Types are kept in text form
// and parsed against Module by the consumer.
type Expect struct {
	Resolved    map[string]string `yaml:"resolved"`
	ResolvedAt  []ResolvedAt      `yaml:"resolved_at"`
	Input       map[string]string `yaml:"input"`
	NoInput     []string          `yaml:"no_input"`
	Unreachable []string          `yaml:"unreachable"`
	// Error is a substring of the error the analysis must fail with.
	Error string `yaml:"error"`
}

type ResolvedAt struct {
	Block string `yaml:"block"`
	Value string `yaml:"value"`
	Type  string `yaml:"type"`
}

// Op returns the operation a fixture named id.
func (f *Fixture) Op(id string) (ir.OpIndex, bool) {
	idx, ok := f.ops[id]
	return idx, ok
}

// Block returns the block a fixture named name.
func (f *Fixture) Block(name string) (ir.BlockIndex, bool) {
	idx, ok := f.blocks[name]
	return idx, ok
}

// ValueName returns the fixture id of operation v, or "" if it has none.
func (f *Fixture) ValueName(v ir.OpIndex) string {
	for id, idx := range f.ops {
		if idx == v {
			return id
		}
	}
	return ""
}

// BlockName returns the fixture name of block b.
func (f *Fixture) BlockName(b ir.BlockIndex) string {
	for name, idx := range f.blocks {
		if idx == b {
			return name
		}
	}
	return fmt.Sprintf("B%d", b)
}

// LoadFile reads a fixture from path.
func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	fx, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if fx.Name == "" {
		fx.Name = path
	}
	return fx, nil
}

// Load decodes one fixture document.
func Load(r io.Reader) (*Fixture, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}

	fx := &Fixture{
		Name:    doc.Name,
		Module:  wasm.NewModule(),
		Options: doc.Options.mapping(),
		Expect:  doc.Expect,
	}
	if fx.Expect == nil {
		fx.Expect = &Expect{}
	}

	if err := declareTypes(fx.Module, doc.Types); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFixture, err)
	}
	if err := declareItems(fx.Module, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFixture, err)
	}
	if err := fx.Module.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFixture, err)
	}

	sig, err := signature(fx.Module, doc.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %w", ErrInvalidFixture, err)
	}
	fx.Signature = sig

	if err := buildGraph(fx, doc.Blocks); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFixture, err)
	}
	return fx, nil
}
