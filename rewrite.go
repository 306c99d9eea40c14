package tensorir

import (
	"sort"

	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FoldResult is the outcome of Op.Fold: an already-existing value, a literal
// to materialize, or nothing (no applicable simplification, the common
// case).
type FoldResult struct {
	Value   *Value
	Literal *Literal
}

// Empty reports whether no fold applied.
func (f FoldResult) Empty() bool { return f.Value == nil && f.Literal == nil }

func foldTo(v *Value) FoldResult      { return FoldResult{Value: v} }
func foldToLit(l *Literal) FoldResult { return FoldResult{Literal: l} }

// Fold tries the local, context-free simplifications of the operation.
// Some fold rules rewire the operation's own operands in place (e.g.
// dim-of-cast); those report the operation's own result as the fold.
func (op *Op) Fold() FoldResult {
	switch op.Type {
	case optypes.Dim:
		return DimOp{op}.fold()
	case optypes.Extract:
		return ExtractOp{op}.fold()
	case optypes.FromElements:
		return FromElementsOp{op}.fold()
	case optypes.Insert:
		return InsertOp{op}.fold()
	case optypes.Splat:
		return SplatOp{op}.fold()
	case optypes.Rank:
		return RankOp{op}.fold()
	case optypes.Reshape:
		return ReshapeOp{op}.fold()
	case optypes.ExpandShape:
		return ExpandShapeOp{op}.fold()
	case optypes.CollapseShape:
		return CollapseShapeOp{op}.fold()
	case optypes.ExtractSlice:
		return ExtractSliceOp{op}.fold()
	case optypes.InsertSlice:
		return InsertSliceOp{op}.fold()
	case optypes.Pad:
		return PadOp{op}.fold()
	}
	return FoldResult{}
}

// Verify re-checks the structural invariants of the operation. The builders
// run this eagerly; it is also the entry point for validating a graph that
// was mutated by operand rewiring.
func (op *Op) Verify() error {
	switch op.Type {
	case optypes.Cast:
		return CastOp{op}.verify()
	case optypes.Convert:
		return ConvertOp{op}.verify()
	case optypes.Dim:
		return DimOp{op}.verify()
	case optypes.Empty:
		return EmptyOp{op}.verify()
	case optypes.Extract:
		return ExtractOp{op}.verify()
	case optypes.FromElements:
		return FromElementsOp{op}.verify()
	case optypes.Insert:
		return InsertOp{op}.verify()
	case optypes.Splat:
		return SplatOp{op}.verify()
	case optypes.Generate:
		return GenerateOp{op}.verify()
	case optypes.Gather:
		return GatherOp{op}.verify()
	case optypes.Scatter:
		return ScatterOp{op}.verify()
	case optypes.Reshape:
		return ReshapeOp{op}.verify()
	case optypes.ExpandShape:
		return ExpandShapeOp{op}.verify()
	case optypes.CollapseShape:
		return CollapseShapeOp{op}.verify()
	case optypes.ExtractSlice:
		return ExtractSliceOp{op}.verify()
	case optypes.InsertSlice:
		return InsertSliceOp{op}.verify()
	case optypes.ParallelInsertSlice:
		return ParallelInsertSliceOp{op}.verify()
	case optypes.Pad:
		return PadOp{op}.verify()
	}
	return nil
}

// VerifyRegions checks the closure bodies of region-carrying operations.
func (op *Op) VerifyRegions() error {
	switch op.Type {
	case optypes.Generate:
		return GenerateOp{op}.verifyRegions()
	case optypes.Pad:
		return PadOp{op}.verifyRegions()
	}
	return nil
}

// AsmResultName returns the display-only name stem for the operation's
// results.
func (op *Op) AsmResultName() string {
	switch op.Type {
	case optypes.Cast:
		return "cast"
	case optypes.Dim:
		return "dim"
	case optypes.Empty:
		return "empty"
	case optypes.Extract:
		return "extracted"
	case optypes.FromElements:
		return "from_elements"
	case optypes.Gather:
		return "gather"
	case optypes.Generate:
		return "generated"
	case optypes.Insert:
		return "inserted"
	case optypes.InsertSlice:
		return "inserted_slice"
	case optypes.Pad:
		return "padded"
	case optypes.Rank:
		return "rank"
	case optypes.Reshape:
		return "reshape"
	case optypes.ExpandShape:
		return "expanded"
	case optypes.CollapseShape:
		return "collapsed"
	case optypes.ExtractSlice:
		return "extracted_slice"
	case optypes.Scatter:
		return "scatter"
	case optypes.Splat:
		return "splat"
	}
	return op.Type.TextName()
}

// ReifyResultShapes returns, per result and per kept dimension, the mixed
// size of that dimension: a static entry, or the runtime value holding it.
// Operations that cannot describe their result sizes return an error.
func (op *Op) ReifyResultShapes() ([][]Mixed, error) {
	switch op.Type {
	case optypes.Empty:
		return EmptyOp{op}.reifyResultShapes()
	case optypes.Generate:
		return GenerateOp{op}.reifyResultShapes()
	case optypes.ExtractSlice:
		return ExtractSliceOp{op}.reifyResultShapes()
	case optypes.InsertSlice:
		return InsertSliceOp{op}.reifyResultShapes()
	}
	return nil, errors.Errorf("%s does not support shape reification", op.Type)
}

// PatternFunc is one canonicalization rule: it either rewrites the matched
// operation through the rewriter and reports true, or reports false ("no
// match"). A non-nil error is reserved for inconsistent input the rule must
// not silently ignore.
type PatternFunc func(op *Op, rw *Rewriter) (bool, error)

// Pattern is a canonicalization rule bound to the operation kind it matches
// on (its root). Higher benefit patterns are tried first.
type Pattern struct {
	Name    string
	Root    optypes.OpType
	Benefit int
	Match   PatternFunc
}

// PatternSink receives pattern registrations. The external rewrite driver
// provides one; PatternSet is the standard implementation.
type PatternSink interface {
	Add(pattern Pattern)
}

// CanonicalizationPatterns registers the canonicalization rules of the given
// operation kind into the sink. Some kinds register rules rooted at a
// neighboring kind (e.g. Empty registers a rule rooted at ExtractSlice).
func CanonicalizationPatterns(opType optypes.OpType, sink PatternSink) {
	switch opType {
	case optypes.Cast:
		castCanonicalizationPatterns(sink)
	case optypes.Dim:
		dimCanonicalizationPatterns(sink)
	case optypes.Empty:
		emptyCanonicalizationPatterns(sink)
	case optypes.Extract:
		extractCanonicalizationPatterns(sink)
	case optypes.FromElements:
		fromElementsCanonicalizationPatterns(sink)
	case optypes.Generate:
		generateCanonicalizationPatterns(sink)
	case optypes.ExpandShape:
		expandShapeCanonicalizationPatterns(sink)
	case optypes.CollapseShape:
		collapseShapeCanonicalizationPatterns(sink)
	case optypes.ExtractSlice:
		extractSliceCanonicalizationPatterns(sink)
	case optypes.InsertSlice:
		insertSliceCanonicalizationPatterns(sink)
	case optypes.ParallelInsertSlice:
		parallelInsertSliceCanonicalizationPatterns(sink)
	case optypes.Pad:
		padCanonicalizationPatterns(sink)
	}
}

// AllCanonicalizationPatterns registers the rules of every operation kind.
func AllCanonicalizationPatterns(sink PatternSink) {
	for _, opType := range []optypes.OpType{
		optypes.Cast, optypes.Dim, optypes.Empty, optypes.Extract,
		optypes.FromElements, optypes.Generate, optypes.ExpandShape,
		optypes.CollapseShape, optypes.ExtractSlice, optypes.InsertSlice,
		optypes.ParallelInsertSlice, optypes.Pad,
	} {
		CanonicalizationPatterns(opType, sink)
	}
}

// PatternSet is the standard PatternSink: it indexes patterns by root kind
// and applies the first one that matches.
type PatternSet struct {
	byRoot map[optypes.OpType][]Pattern
}

// NewPatternSet returns an empty pattern set.
func NewPatternSet() *PatternSet {
	return &PatternSet{byRoot: make(map[optypes.OpType][]Pattern)}
}

// Add implements PatternSink.
func (ps *PatternSet) Add(pattern Pattern) {
	list := append(ps.byRoot[pattern.Root], pattern)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Benefit > list[j].Benefit })
	ps.byRoot[pattern.Root] = list
}

// Apply tries the registered patterns rooted at op's kind, in benefit order,
// and reports whether one of them rewrote the graph. It never loops: the
// external driver owns the fixpoint iteration.
func (ps *PatternSet) Apply(op *Op, rw *Rewriter) (bool, error) {
	if op.IsDead() {
		return false, nil
	}
	for _, pattern := range ps.byRoot[op.Type] {
		matched, err := pattern.Match(op, rw)
		if err != nil {
			return false, errors.WithMessagef(err, "pattern %s on %s", pattern.Name, op.Type)
		}
		if matched {
			klog.V(2).Infof("pattern %s rewrote %s", pattern.Name, op.Type)
			return true, nil
		}
	}
	return false, nil
}

// Rewriter performs the graph surgery of canonicalization rules: it
// replaces a matched operation's results with new values and retires the
// old operation. Ownership of the uses passes entirely to the replacement.
type Rewriter struct{}

// Replace redirects every use of op's results to the given replacement
// values and marks op dead. It panics if the replacement count does not
// match the result count: that is a bug in the calling pattern.
func (rw *Rewriter) Replace(op *Op, replacements ...*Value) {
	if len(replacements) != len(op.Outputs) {
		panic(errors.Errorf("replacing %s: %d replacement values for %d results",
			op.Type, len(replacements), len(op.Outputs)))
	}
	for i, result := range op.Outputs {
		op.fn.ReplaceAllUses(result, replacements[i])
	}
	op.dead = true
}

// notifyMatchFailure logs the reason a pattern did not apply and returns
// (false, nil) for the pattern to propagate.
func (rw *Rewriter) notifyMatchFailure(op *Op, format string, args ...any) (bool, error) {
	if klog.V(2).Enabled() {
		klog.V(2).Infof("match failure on %s: "+format, append([]any{op.Type}, args...)...)
	}
	return false, nil
}
