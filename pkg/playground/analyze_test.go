package playground

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const branchFixture = `
name: branch
types:
  - name: A
    struct:
      - type: i32
  - name: B
    struct: []
signature: {params: [ref null A]}
blocks:
  - name: entry
    ops:
      - {id: x, op: parameter, index: 1}
      - {id: t, op: type_check, object: x, type: ref B}
      - {op: branch, cond: t, then: never, else: always}
  - name: never
    ops:
      - {op: return}
  - name: always
    ops:
      - {id: f, op: struct_get, object: x, struct: A, field: 0}
      - {op: return, inputs: [f]}
`

func TestAnalyzeFixture(t *testing.T) {
	report, err := AnalyzeFixture(branchFixture)
	if err != nil {
		t.Fatalf("AnalyzeFixture failed: %v", err)
	}

	for _, want := range []string{"=== branch ===", "B1 (unreachable)", "struct_get", "ref null A", "i32", "unreachable: B1"} {
		if !strings.Contains(report, want) {
			t.Errorf("Expected report to contain %q, got:\n%s", want, report)
		}
	}
}

func TestSummarizeFixture(t *testing.T) {
	s, err := SummarizeFixture(branchFixture)
	if err != nil {
		t.Fatalf("SummarizeFixture failed: %v", err)
	}

	if diff := cmp.Diff([]string{"never"}, s.Unreachable); diff != "" {
		t.Errorf("unreachable mismatch (-want +got):\n%s", diff)
	}
	always := s.Blocks[2]
	if always.Name != "always" || always.Kind != "branch_target" {
		t.Errorf("Expected block always of kind branch_target, got %s of kind %s", always.Name, always.Kind)
	}
	want := OpSummary{Index: 4, ID: "f", Opcode: "struct_get", Input: "ref null A", Resolved: "i32"}
	if diff := cmp.Diff(want, always.Ops[0]); diff != "" {
		t.Errorf("struct_get summary mismatch (-want +got):\n%s", diff)
	}

	// The summary is what the WASM front end serializes.
	if _, err := json.Marshal(s); err != nil {
		t.Errorf("Expected the summary to marshal, got %v", err)
	}
}

func TestFormatAnalysisError(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
		want    []string
	}{
		{
			name:    "iteration limit",
			fixture: loopWithLimit,
			want:    []string{"fixed point", "max_block_visits", "block B"},
		},
		{
			name:    "malformed graph",
			fixture: "blocks:\n  - ops: [{op: return}]\n  - ops: [{op: return}]\n",
			want:    []string{"control-flow graph is malformed", "block B1"},
		},
		{
			name:    "undeclared value",
			fixture: "blocks:\n  - ops: [{op: array_length, object: ghost}, {op: return}]\n",
			want:    []string{"does not declare", `undefined value "ghost"`},
		},
		{
			name:    "bad yaml",
			fixture: "blocks: [\n",
			want:    []string{"not valid YAML", "line"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AnalyzeFixture(tt.fixture)
			if err == nil {
				t.Fatal("Expected an error")
			}
			msg := FormatAnalysisError(err)
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("Expected message to contain %q, got:\n%s", want, msg)
				}
			}
		})
	}

	if FormatAnalysisError(nil) != "" {
		t.Error("Expected no message for a nil error")
	}
}

const loopWithLimit = `
types:
  - name: Base
    struct: []
  - name: A
    super: Base
    struct: []
globals:
  - {name: g, type: ref Base}
options:
  max_block_visits: 3
blocks:
  - name: entry
    ops:
      - {id: v, op: global_get, global: g}
      - {op: goto, target: header}
  - name: header
    ops:
      - {id: y, op: phi, inputs: [v, d]}
      - {id: c, op: opaque, name: cond}
      - {op: branch, cond: c, then: body, else: exit}
  - name: body
    ops:
      - {id: rtt, op: rtt_canon, type: A}
      - {id: d, op: allocate_struct, rtt: rtt}
      - {op: goto, target: header}
  - name: exit
    ops:
      - {op: return}
`
