package playground

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/irtext"
	"github.com/speakeasy-api/typeflow/typeflow"
	"github.com/speakeasy-api/typeflow/wasm"
)

var (
	yamlLineRe = regexp.MustCompile(`\bline (\d+)\b`)
	blockRe    = regexp.MustCompile(`\bB(\d+)\b`)
	opRe       = regexp.MustCompile(`\bop (\d+) \((\w+)\)`)
)

// FormatAnalysisError turns an error from AnalyzeFixture or
// SummarizeFixture into a user-facing message.
func FormatAnalysisError(err error) string {
	if err == nil {
		return ""
	}

	msg, hint := classifyAndHint(err)
	var b strings.Builder
	b.WriteString("Analysis failed.\n")
	fmt.Fprintf(&b, "- %s\n", msg)
	if loc := deriveLocation(err.Error()); loc != "" {
		fmt.Fprintf(&b, "  Location: %s\n", loc)
	}
	if hint != "" {
		fmt.Fprintf(&b, "  How to fix: %s\n", hint)
	}
	fmt.Fprintf(&b, "  Details: %s\n", extractDetails(err.Error()))
	return b.String()
}

func deriveLocation(s string) string {
	var parts []string
	if m := yamlLineRe.FindStringSubmatch(s); len(m) == 2 {
		parts = append(parts, "line "+m[1])
	}
	if m := opRe.FindStringSubmatch(s); len(m) == 3 {
		parts = append(parts, fmt.Sprintf("operation %s (%s)", m[1], m[2]))
	}
	if m := blockRe.FindStringSubmatch(s); len(m) == 2 {
		parts = append(parts, "block B"+m[1])
	}
	return strings.Join(parts, ", ")
}

func classifyAndHint(err error) (msg, hint string) {
	switch {
	case errors.Is(err, typeflow.ErrIterationLimit):
		msg = `Loop analysis did not reach a fixed point within the block visit limit.`
		hint = `Raise "max_block_visits" in the fixture options, or check for a loop whose body keeps changing the types it merges.`
	case errors.Is(err, ir.ErrInvalidGraph):
		msg = `The control-flow graph is malformed.`
		hint = `List blocks so every forward edge points to a later block, end each block with one terminator, and give every phi one input per predecessor.`
	case errors.Is(err, wasm.ErrInvalidModule):
		msg = `The type declarations are inconsistent.`
		hint = `Declare every supertype before its subtypes and keep subtypes the same kind (struct, array or func) as their supertype.`
	case errors.Is(err, irtext.ErrInvalidFixture):
		msg = `The fixture refers to something it does not declare.`
		hint = `Check value ids, block names, type names and field indices.`
	case strings.Contains(err.Error(), "decode"):
		msg = `The fixture is not valid YAML for this format.`
		hint = `Check indentation and key names (types, globals, functions, signature, options, blocks, expect).`
	default:
		msg = "Analysis error."
	}
	return msg, hint
}

func extractDetails(s string) string {
	// The innermost cause is the last colon-separated segment.
	if idx := strings.LastIndex(s, ": "); idx != -1 && idx+2 < len(s) {
		return strings.TrimSpace(s[idx+2:])
	}
	return strings.TrimSpace(s)
}
