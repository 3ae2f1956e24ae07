package typeflow

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/speakeasy-api/typeflow/ir"
)

var reportHeader = []string{"BLOCK", "OP", "OPCODE", "INPUT", "RESOLVED"}

// WriteReport renders one row per operation of the analyzed graph with the
// recorded input type and the resolved type at the end of its block,
// followed by the unreachable blocks.
func WriteReport(w io.Writer, a *Analyzer) error {
	rows := [][]string{reportHeader}
	for _, blk := range a.graph.Blocks() {
		label := blk.String()
		if a.IsUnreachable(blk.Index()) {
			label += " (unreachable)"
		}
		for _, idx := range blk.Operations() {
			op := a.graph.Op(idx)
			input := "-"
			if t, ok := a.InputTypeOf(idx); ok {
				input = a.format(t)
			}
			resolved := "-"
			if !ir.IsTerminator(op) {
				resolved = a.format(a.ResolvedTypeAt(blk.Index(), idx))
			}
			rows = append(rows, []string{label, fmt.Sprint(idx), op.Opcode().String(), input, resolved})
			label = ""
		}
	}

	widths := make([]int, len(reportHeader))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	var b strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			b.WriteString("  ")
		}
		b.WriteByte('\n')
	}

	unreachable := a.Result().Unreachable
	names := make([]string, len(unreachable))
	for i, blk := range unreachable {
		names[i] = a.graph.Block(blk).String()
	}
	if len(names) == 0 {
		b.WriteString("unreachable: none\n")
	} else {
		b.WriteString("unreachable: " + strings.Join(names, ", ") + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
