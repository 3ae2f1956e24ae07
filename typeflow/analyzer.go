package typeflow

import (
	"fmt"
	"time"

	"golang.org/x/tools/container/intsets"

	"github.com/speakeasy-api/typeflow/ir"
	"github.com/speakeasy-api/typeflow/wasm"
)

// Analyzer computes, for one function graph, the most precise type each
// value is known to have in every block, which type-sensitive operations
// still need their checks, and which blocks can never execute.
//
// An Analyzer is single-use and not safe for concurrent use. Independent
// analyzers share nothing and may run in parallel.
type Analyzer struct {
	graph  *ir.Graph
	sig    *wasm.FuncType
	types  Types
	opts   Options
	logger Logger
	runID  string

	table           *typeTable
	blockToSnapshot []Snapshot
	inputTypes      map[ir.OpIndex]wasm.ValueType
	unreachable     intsets.Sparse

	// Per-block processing state.
	currentBlock              *ir.Block
	firstLoopHeaderEvaluation bool
	predReachable             []bool

	visits int
	ran    bool
}

// New creates an analyzer for one function body. The graph must be valid (see
// ir.Graph.Validate) and sig must declare every parameter the graph reads.
func New(graph *ir.Graph, sig *wasm.FuncType, types Types, opts Options) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		if opts.LogLevel != "" {
			logger = NewLogger(ParseLogLevel(opts.LogLevel), nil)
		} else {
			logger = newNoopLogger()
		}
	}
	runID := fmt.Sprintf("r%d", time.Now().UnixNano()%1000000)

	return &Analyzer{
		graph:           graph,
		sig:             sig,
		types:           types,
		opts:            opts,
		logger:          logger.With(map[string]any{"run": runID}),
		runID:           runID,
		table:           newTypeTable(),
		blockToSnapshot: make([]Snapshot, graph.NumBlocks()),
		inputTypes:      make(map[ir.OpIndex]wasm.ValueType),
	}
}

// Run executes the analysis. Only the first call does any work.
func (a *Analyzer) Run() error {
	if a.ran {
		return nil
	}
	a.ran = true

	limit := a.opts.MaxBlockVisits
	if limit <= 0 {
		limit = 64 * a.graph.NumBlocks()
	}

	a.logger.With(map[string]any{
		"blocks": a.graph.NumBlocks(),
		"ops":    a.graph.NumOps(),
	}).Infof("Starting type analysis")

	it := ir.NewIterator(a.graph)
	for it.HasNext() {
		blk := it.Next()

		a.visits++
		if a.visits > limit {
			return fmt.Errorf("%w (%d block visits) at %s", ErrIterationLimit, limit, blk)
		}

		a.processBlock(blk)
		a.seal(blk)

		header, ok := a.closedLoop(blk)
		if !ok || a.IsUnreachable(blk.Index()) {
			continue
		}

		// Re-evaluate the header with the backedge known and compare the
		// outcome to what its body was last analyzed with.
		a.processBlock(header)
		old := a.blockToSnapshot[header.Index()]
		snapshot := a.table.Seal()
		needsRevisit := a.table.StartNewMerge(
			[]Snapshot{old, snapshot},
			[]bool{true, true},
			func(_ ir.OpIndex, values []wasm.ValueType) wasm.ValueType { return values[0] },
		)
		a.table.Seal()

		if needsRevisit {
			a.blockToSnapshot[header.Index()] = snapshot
			a.logger.With(map[string]any{
				"header":   header,
				"backedge": blk,
				"snapshot": snapshot,
			}).Infof("Loop header changed, revisiting loop body")
			it.MarkLoopForRevisitSkipHeader()
		}
	}

	a.logger.With(map[string]any{
		"visits":      a.visits,
		"unreachable": a.unreachable.Len(),
		"checked_ops": len(a.inputTypes),
	}).Infof("Type analysis completed")
	return nil
}

// closedLoop returns the loop header blk jumps back to, if blk is the
// backedge of a loop.
func (a *Analyzer) closedLoop(blk *ir.Block) (*ir.Block, bool) {
	jump, ok := a.graph.LastOperation(blk.Index()).(*ir.Goto)
	if !ok {
		return nil, false
	}
	dest := a.graph.Block(jump.Destination)
	if !dest.IsLoop() || dest.LastPredecessor() != blk.Index() {
		return nil, false
	}
	return dest, true
}

func (a *Analyzer) seal(blk *ir.Block) {
	snapshot := a.table.Seal()
	a.blockToSnapshot[blk.Index()] = snapshot

	if !a.opts.LogSnapshotDeltas || !debugEnabled(a.logger) {
		return
	}
	var base Snapshot
	if preds := blk.Predecessors(); len(preds) > 0 {
		base = a.blockToSnapshot[preds[0]]
	}
	changed := a.table.delta(base, snapshot)
	entries := make([]string, len(changed))
	for i, k := range changed {
		entries[i] = fmt.Sprintf("%d:%s", k, a.format(a.table.Lookup(snapshot, k)))
	}
	a.logger.With(map[string]any{
		"block":    blk,
		"snapshot": snapshot,
		"changed":  truncateList(entries, a.opts.LogMaxDeltaEntries),
	}).Debugf("Sealed block")
}

// ============================================================================
// Block processing
// ============================================================================

func (a *Analyzer) processBlock(blk *ir.Block) {
	a.startNewSnapshotFor(blk)

	for _, idx := range blk.Operations() {
		a.processOperation(idx, a.graph.Op(idx))
	}

	a.logger.With(map[string]any{
		"block":       blk,
		"kind":        blk.Kind(),
		"provisional": a.firstLoopHeaderEvaluation,
		"unreachable": a.IsUnreachable(blk.Index()),
	}).Debugf("Processed block")
}

// startNewSnapshotFor opens the working snapshot blk starts with.
func (a *Analyzer) startNewSnapshotFor(blk *ir.Block) {
	a.currentBlock = blk
	a.firstLoopHeaderEvaluation = false
	// Marks from an earlier pass over this block may rest on outdated loop
	// knowledge; they are derived again below.
	a.unreachable.Remove(int(blk.Index()))

	preds := blk.Predecessors()
	switch {
	case len(preds) == 0:
		a.table.StartNew()
		a.predReachable = nil

	case blk.IsLoop():
		forward, backedge := preds[0], blk.LastPredecessor()
		if a.blockToSnapshot[backedge].Valid() {
			a.createMergeSnapshot(blk)
			return
		}
		a.table.StartNewFrom(a.blockToSnapshot[forward])
		a.firstLoopHeaderEvaluation = true
		a.predReachable = []bool{!a.IsUnreachable(forward), false}
		if a.IsUnreachable(forward) {
			a.markUnreachable(blk, "loop entered from an unreachable block")
		}

	case blk.IsBranchTarget():
		pred := preds[0]
		a.table.StartNewFrom(a.blockToSnapshot[pred])
		a.predReachable = []bool{true}
		if a.IsUnreachable(pred) {
			a.markUnreachable(blk, "only predecessor is unreachable")
		}
		a.processBranchOnTarget(a.graph.LastOperation(pred), blk)

	default:
		a.createMergeSnapshot(blk)
	}
}

// createMergeSnapshot opens the merge of blk's predecessors, leaving out the
// unreachable ones. When none is reachable, blk is unreachable too and all
// of them are merged.
func (a *Analyzer) createMergeSnapshot(blk *ir.Block) bool {
	preds := blk.Predecessors()
	snapshots := make([]Snapshot, len(preds))
	reachable := make([]bool, len(preds))
	anyReachable := false
	for i, p := range preds {
		snapshots[i] = a.blockToSnapshot[p]
		reachable[i] = !a.IsUnreachable(p)
		anyReachable = anyReachable || reachable[i]
	}
	if !anyReachable {
		for i := range reachable {
			reachable[i] = true
		}
		a.markUnreachable(blk, "all predecessors are unreachable")
	}
	a.predReachable = reachable

	return a.table.StartNewMerge(snapshots, reachable, a.mergeTypes)
}

// mergeTypes unions the values of one key. Unknown in any input makes the
// result unknown.
func (a *Analyzer) mergeTypes(_ ir.OpIndex, values []wasm.ValueType) wasm.ValueType {
	result := values[0]
	for _, v := range values[1:] {
		if result.IsUnknown() || v.IsUnknown() {
			return wasm.Unknown
		}
		result = a.types.Union(result, v)
	}
	return result
}

// processBranchOnTarget narrows the value tested by the branch that leads
// into target.
func (a *Analyzer) processBranchOnTarget(terminator ir.Operation, target *ir.Block) {
	branch, ok := terminator.(*ir.Branch)
	if !ok {
		return
	}
	trueEdge := branch.IfTrue == target.Index()

	switch cond := a.graph.Op(branch.Condition).(type) {
	case *ir.TypeCheck:
		if trueEdge {
			a.refine(cond.Object, cond.To)
			return
		}
		// Failing a test the value always passes is impossible.
		if a.types.IsSubtype(a.resolvedType(cond.Object), cond.To) {
			a.markUnreachable(target, "type check always succeeds")
		}

	case *ir.IsNull:
		if !trueEdge {
			a.refine(cond.Object, cond.Type.AsNonNull())
			return
		}
		if a.resolvedType(cond.Object).IsNonNullable() {
			a.markUnreachable(target, "null check on a non-nullable value")
			return
		}
		a.refine(cond.Object, a.types.ToNullSentinel(cond.Type))
	}
}

func (a *Analyzer) processOperation(idx ir.OpIndex, op ir.Operation) {
	switch op := op.(type) {
	case *ir.TypeCast:
		a.inputTypes[idx] = a.refine(op.Object, op.To)
	case *ir.TypeCheck:
		a.inputTypes[idx] = a.resolvedType(op.Object)
	case *ir.AssertNotNull:
		a.inputTypes[idx] = a.refineNotNull(op.Object)
	case *ir.Null:
		a.refine(idx, a.types.ToNullSentinel(op.Type))
	case *ir.IsNull:
		a.inputTypes[idx] = a.resolvedType(op.Object)
	case *ir.StructGet:
		a.inputTypes[idx] = a.refineNotNull(op.Object)
		a.refine(idx, a.types.StructField(op.Struct, op.Field))
	case *ir.StructSet:
		a.inputTypes[idx] = a.refineNotNull(op.Object)
	case *ir.ArrayLength:
		a.inputTypes[idx] = a.refineNotNull(op.Array)
	case *ir.GlobalGet:
		a.refine(idx, a.types.GlobalType(op.Global))
	case *ir.RefFunc:
		a.refine(idx, wasm.Ref(a.types.FunctionType(op.Function)))
	case *ir.AllocateStruct:
		a.refine(idx, wasm.Ref(a.rttType(op.Rtt)))
	case *ir.AllocateArray:
		a.refine(idx, wasm.Ref(a.rttType(op.Rtt)))
	case *ir.Parameter:
		a.processParameter(idx, op)
	case *ir.Phi:
		a.processPhi(idx, op)
	case *ir.TypeAnnotation:
		a.refine(op.Value, op.Type)
	case *ir.Branch, *ir.Goto, *ir.Return, *ir.Unreachable:
		// Edge narrowing happens at the targets.
	case *ir.Opaque, *ir.RttCanon:
	default:
		panic(fmt.Sprintf("typeflow: unhandled operation %s", op.Opcode()))
	}
}

func (a *Analyzer) rttType(rtt ir.OpIndex) wasm.HeapType {
	canon, ok := a.graph.Op(rtt).(*ir.RttCanon)
	if !ok {
		panic(fmt.Sprintf("typeflow: allocation type from %s, not rtt_canon", a.graph.Op(rtt).Opcode()))
	}
	return canon.Type
}

func (a *Analyzer) processParameter(idx ir.OpIndex, param *ir.Parameter) {
	// Index 0 is the instance.
	if param.Index == 0 {
		return
	}
	var params []wasm.ValueType
	if a.sig != nil {
		params = a.sig.Params
	}
	if param.Index > len(params) {
		panic(fmt.Sprintf("typeflow: parameter %d of a %d-parameter signature", param.Index, len(params)))
	}
	a.refine(idx, params[param.Index-1])
}

func (a *Analyzer) processPhi(idx ir.OpIndex, phi *ir.Phi) {
	if a.firstLoopHeaderEvaluation {
		// The backedge input has not been analyzed yet.
		a.refine(idx, a.resolvedType(phi.Values[0]))
		return
	}

	if len(phi.Values) != a.currentBlock.PredecessorCount() {
		panic(fmt.Sprintf("typeflow: phi %d has %d inputs in %s with %d predecessors",
			idx, len(phi.Values), a.currentBlock, a.currentBlock.PredecessorCount()))
	}

	union := wasm.Bottom
	for i, in := range phi.Values {
		if !a.predReachable[i] {
			continue
		}
		t := a.table.PredecessorValue(a.graph.ResolveAliases(in), i)
		if t.IsUnknown() {
			// Nothing is learned from a partially unknown phi.
			return
		}
		if t.IsBottom() {
			continue
		}
		if union.IsBottom() {
			union = t
			continue
		}
		union = a.types.Union(union, t)
	}
	a.refine(idx, union)
}

// ============================================================================
// Refinement
// ============================================================================

// refine intersects the known type of v with candidate and returns the type
// known before.
func (a *Analyzer) refine(v ir.OpIndex, candidate wasm.ValueType) wasm.ValueType {
	key := a.graph.ResolveAliases(v)
	prev := a.table.Get(key)

	next := candidate
	if !prev.IsUnknown() {
		next = a.types.Intersection(prev, candidate)
	}
	if next.IsUninhabited() {
		next = wasm.Bottom
		a.markUnreachable(a.currentBlock, fmt.Sprintf("value %d refined to bottom", key))
	}
	a.table.Set(key, next)
	return prev
}

// refineNotNull drops null from the known type of v and returns the type
// known before.
func (a *Analyzer) refineNotNull(v ir.OpIndex) wasm.ValueType {
	key := a.graph.ResolveAliases(v)
	prev := a.table.Get(key)
	if prev.IsUnknown() {
		return prev
	}

	next := prev.AsNonNull()
	if next.IsUninhabited() {
		next = wasm.Bottom
		a.markUnreachable(a.currentBlock, fmt.Sprintf("value %d is always null", key))
	}
	a.table.Set(key, next)
	return prev
}

func (a *Analyzer) resolvedType(v ir.OpIndex) wasm.ValueType {
	return a.table.Get(a.graph.ResolveAliases(v))
}

func (a *Analyzer) markUnreachable(blk *ir.Block, reason string) {
	if !a.unreachable.Insert(int(blk.Index())) {
		return
	}
	a.logger.With(map[string]any{
		"block":  blk,
		"reason": reason,
	}).Debugf("Marked block unreachable")
}

// format renders t with the module's type names when the type system can.
func (a *Analyzer) format(t wasm.ValueType) string {
	if f, ok := a.types.(interface{ Format(wasm.ValueType) string }); ok {
		return f.Format(t)
	}
	return t.String()
}
