package typeflow

import (
	"errors"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/wasm"
)

// ErrIterationLimit is returned by Run when loop analysis does not reach a
// fixed point within Options.MaxBlockVisits block visits.
var ErrIterationLimit = errors.New("exceeded maximum iterations")

// Types is the module type system the analyzer consults. *wasm.Module
// implements it.
type Types interface {
	IsSubtype(sub, super wasm.ValueType) bool
	// Union is the least upper bound. Unknown absorbs.
	Union(a, b wasm.ValueType) wasm.ValueType
	// Intersection is the greatest lower bound, bottom when uninhabited.
	// Unknown is the identity.
	Intersection(a, b wasm.ValueType) wasm.ValueType
	// ToNullSentinel returns the type of the null value of t's hierarchy.
	ToNullSentinel(t wasm.ValueType) wasm.ValueType

	StructField(h wasm.HeapType, field int) wasm.ValueType
	GlobalType(global int) wasm.ValueType
	FunctionType(function int) wasm.HeapType
}

// Options configures an analysis run.
type Options struct {
	// MaxBlockVisits caps the number of block visits of one run, loop
	// revisits included. Zero selects 64 visits per block.
	MaxBlockVisits int `yaml:"max_block_visits"`

	// Logging configuration
	LogLevel           string `yaml:"log_level"`             // Log level: "error", "warn", "info", "debug" (default: "warn")
	LogSnapshotDeltas  bool   `yaml:"log_snapshot_deltas"`   // If true, log the values each sealed block changed (default: true)
	LogMaxDeltaEntries int    `yaml:"log_max_delta_entries"` // Max changed values listed per block (default: 5)

	// Logger overrides the logger built from LogLevel.
	Logger Logger `yaml:"-"`
}

// DefaultOptions returns the default analysis configuration.
func DefaultOptions() Options {
	return Options{
		MaxBlockVisits:     0,
		LogLevel:           "warn",
		LogSnapshotDeltas:  true,
		LogMaxDeltaEntries: 5,
	}
}

// Result holds the two artifacts downstream passes consume.
type Result struct {
	// InputTypes maps each type-sensitive operation to the type its operand
	// had right before the operation's own refinement.
	InputTypes map[ir.OpIndex]wasm.ValueType
	// Unreachable lists the blocks proven impossible to execute, ascending.
	Unreachable []ir.BlockIndex
}
