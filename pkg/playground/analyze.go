// Package playground runs the type analysis on fixture documents for
// interactive front ends such as the WASM build.
package playground

import (
	"fmt"
	"strings"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/irtext"
	"github.com/speakeasy-api/typeflow/typeflow"
)

// Summary is the JSON shape of an analysis outcome.
type Summary struct {
	Name        string         `json:"name"`
	Blocks      []BlockSummary `json:"blocks"`
	Unreachable []string       `json:"unreachable"`
}

type BlockSummary struct {
	Name        string      `json:"name"`
	Kind        string      `json:"kind"`
	Unreachable bool        `json:"unreachable"`
	Ops         []OpSummary `json:"ops"`
}

type OpSummary struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Opcode   string `json:"opcode"`
	Input    string `json:"input,omitempty"`
	Resolved string `json:"resolved,omitempty"`
}

// AnalyzeFixture runs the analysis on a YAML fixture and returns the text
// report.
func AnalyzeFixture(fixtureYAML string) (string, error) {
	fx, a, err := analyze(fixtureYAML)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", fx.Name)
	if err := typeflow.WriteReport(&b, a); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return b.String(), nil
}

// SummarizeFixture runs the analysis on a YAML fixture and returns the
// outcome per block, using the fixture's own block and value names.
func SummarizeFixture(fixtureYAML string) (*Summary, error) {
	fx, a, err := analyze(fixtureYAML)
	if err != nil {
		return nil, err
	}

	s := &Summary{Name: fx.Name, Unreachable: []string{}}
	for _, blk := range fx.Graph.Blocks() {
		bs := BlockSummary{
			Name:        fx.BlockName(blk.Index()),
			Kind:        blk.Kind().String(),
			Unreachable: a.IsUnreachable(blk.Index()),
		}
		for _, idx := range blk.Operations() {
			op := fx.Graph.Op(idx)
			entry := OpSummary{Index: int(idx), ID: fx.ValueName(idx), Opcode: op.Opcode().String()}
			if t, ok := a.InputTypeOf(idx); ok {
				entry.Input = fx.Module.Format(t)
			}
			if !ir.IsTerminator(op) {
				entry.Resolved = fx.Module.Format(a.ResolvedTypeAt(blk.Index(), idx))
			}
			bs.Ops = append(bs.Ops, entry)
		}
		s.Blocks = append(s.Blocks, bs)
	}
	for _, b := range a.Result().Unreachable {
		s.Unreachable = append(s.Unreachable, fx.BlockName(b))
	}
	return s, nil
}

func analyze(fixtureYAML string) (*irtext.Fixture, *typeflow.Analyzer, error) {
	fx, err := irtext.Load(strings.NewReader(fixtureYAML))
	if err != nil {
		return nil, nil, err
	}
	if fx.Name == "" {
		fx.Name = "fixture"
	}
	opts, err := typeflow.DecodeOptions(fx.Options, typeflow.DefaultOptions())
	if err != nil {
		return nil, nil, err
	}
	// Output is returned to the caller; logs would go to the console.
	opts.LogLevel = ""

	a, err := typeflow.Analyze(fx.Graph, fx.Signature, fx.Module, opts)
	if err != nil {
		return nil, nil, err
	}
	return fx, a, nil
}
