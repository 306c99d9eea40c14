package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// InsertSliceOp writes a tensor into a strided rectangular region of a
// destination tensor, producing a new tensor of the destination's shape.
// The source may be a rank-reduced form of the written region.
type InsertSliceOp struct{ *Op }

// InsertSlice builds a region write of source into dest.
func (fn *Func) InsertSlice(source, dest *Value, offsets, sizes, strides []Mixed) (*Value, error) {
	op := InsertSliceOp{fn.addInsertLike(optypes.InsertSlice, source, dest, offsets, sizes, strides, true)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// addInsertLike builds the shared operand/attribute layout of InsertSlice
// and ParallelInsertSlice: source, dest, then the dynamic halves of the
// three index lists.
func (fn *Func) addInsertLike(opType optypes.OpType, source, dest *Value,
	offsets, sizes, strides []Mixed, withResult bool) *Op {
	staticOffsets, dynamicOffsets := SplitMixed(offsets)
	staticSizes, dynamicSizes := SplitMixed(sizes)
	staticStrides, dynamicStrides := SplitMixed(strides)
	inputs := append([]*Value{source, dest}, dynamicOffsets...)
	inputs = append(inputs, dynamicSizes...)
	inputs = append(inputs, dynamicStrides...)
	var op *Op
	if withResult {
		op = fn.addOp(opType, dest.Shape(), inputs...)
	} else {
		op = fn.addOpNoResult(opType, inputs...)
	}
	op.setAttr(attrStaticOffsets, staticOffsets)
	op.setAttr(attrStaticSizes, staticSizes)
	op.setAttr(attrStaticStrides, staticStrides)
	return op
}

// Source returns the tensor being written.
func (op InsertSliceOp) Source() *Value { return op.Inputs[0] }

// Dest returns the tensor being written into.
func (op InsertSliceOp) Dest() *Value { return op.Inputs[1] }

func (op InsertSliceOp) dynamicOperands() (offsets, sizes, strides []*Value) {
	return splitDynamicOperands(op.Inputs[2:],
		op.intsAttr(attrStaticOffsets), op.intsAttr(attrStaticSizes), op.intsAttr(attrStaticStrides))
}

// MixedOffsets returns the per-dimension offsets.
func (op InsertSliceOp) MixedOffsets() []Mixed {
	offsets, _, _ := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticOffsets), offsets)
}

// MixedSizes returns the per-dimension sizes.
func (op InsertSliceOp) MixedSizes() []Mixed {
	_, sizes, _ := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticSizes), sizes)
}

// MixedStrides returns the per-dimension strides.
func (op InsertSliceOp) MixedStrides() []Mixed {
	_, _, strides := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticStrides), strides)
}

func (op InsertSliceOp) verify() error {
	return verifyInsertLike(op.Op, "insert_slice")
}

// verifyInsertLike mirrors extract-slice verification in reverse: the
// source must be the region shape obtained by slicing the destination, or a
// rank-reduced specialization of it.
func verifyInsertLike(op *Op, opName string) error {
	source := op.Inputs[0].Shape()
	dest := op.Inputs[1].Shape()
	if !dest.IsRanked() {
		return errors.Errorf("%s requires a ranked destination, got %s", opName, dest)
	}
	rank := dest.Rank()
	for _, attr := range []string{attrStaticOffsets, attrStaticSizes, attrStaticStrides} {
		if got := len(op.intsAttr(attr)); got != rank {
			return errors.Errorf("%s into %s requires %d %s entries, got %d",
				opName, dest, rank, attr, got)
		}
	}
	sizes := mustJoinMixed(op.intsAttr(attrStaticSizes), insertLikeDynamicSizes(op))
	inferred, err := InferExtractSliceResultShape(dest, sizes)
	if err != nil {
		return err
	}
	return verifySliceResult(inferred, source, opName, true)
}

func insertLikeDynamicSizes(op *Op) []*Value {
	_, sizes, _ := splitDynamicOperands(op.Inputs[2:],
		op.intsAttr(attrStaticOffsets), op.intsAttr(attrStaticSizes), op.intsAttr(attrStaticStrides))
	return sizes
}

func (op InsertSliceOp) fold() FoldResult {
	// Whole-tensor overwrite: the destination is fully replaced by an
	// identically typed source.
	if op.Source().Shape().Equal(op.Dest().Shape()) &&
		allConstant(op.MixedOffsets(), 0) && allConstant(op.MixedStrides(), 1) &&
		mixedCoversTensor(op.MixedSizes(), op.Dest()) {
		return foldTo(op.Source())
	}

	// Chained overwrite of the exact same region: skip the earlier insert
	// by rewiring the destination.
	if def := op.Dest().DefiningOpOfType(optypes.InsertSlice); def != nil {
		prior := InsertSliceOp{def}
		if prior.Source().Shape().Equal(op.Source().Shape()) &&
			mixedSameAs(prior.MixedOffsets(), op.MixedOffsets()) &&
			mixedSameAs(prior.MixedSizes(), op.MixedSizes()) &&
			mixedSameAs(prior.MixedStrides(), op.MixedStrides()) {
			op.Inputs[1] = prior.Dest()
			return foldTo(op.Result())
		}
	}

	// Round trip: writing back what was just extracted from the same
	// region of the same destination changes nothing.
	if def := op.Source().DefiningOpOfType(optypes.ExtractSlice); def != nil {
		extract := ExtractSliceOp{def}
		if extract.Source() == op.Dest() &&
			op.Dest().Shape().Equal(op.Result().Shape()) &&
			mixedSameAs(extract.MixedOffsets(), op.MixedOffsets()) &&
			mixedSameAs(extract.MixedSizes(), op.MixedSizes()) &&
			mixedSameAs(extract.MixedStrides(), op.MixedStrides()) {
			return foldTo(op.Dest())
		}
	}
	return FoldResult{}
}

// mixedCoversTensor reports whether the sizes provably equal the full
// extents of the tensor.
func mixedCoversTensor(sizes []Mixed, tensor *Value) bool {
	shape := tensor.Shape()
	for i, size := range sizes {
		dim := shape.Dimensions[i]
		v, ok := size.ConstantValue()
		if ok && dim != shapes.DynamicSize && v == dim {
			continue
		}
		// A dynamic extent can still be covered when the size operand is a
		// dim query of this very tensor at this position. A query of any
		// other tensor proves nothing, whatever its index.
		if size.IsStatic() {
			return false
		}
		def := size.Value().DefiningOpOfType(optypes.Dim)
		if def == nil {
			return false
		}
		query := DimOp{def}
		if query.Source() != tensor {
			return false
		}
		index, constIndex := query.ConstantIndex()
		if !constIndex || index != int64(i) {
			return false
		}
	}
	return true
}

func (op InsertSliceOp) reifyResultShapes() ([][]Mixed, error) {
	sizes, err := MixedSizes(op.fn, op.Dest())
	if err != nil {
		return nil, err
	}
	return [][]Mixed{sizes}, nil
}

// insertSliceConstArgs promotes constant dynamic index entries to static
// ones, casting the source to the tighter canonical region type when the
// promotion narrowed it.
func insertSliceConstArgs(op *Op, rw *Rewriter) (bool, error) {
	insert := InsertSliceOp{op}
	offsets, changedOffsets := canonicalizeMixed(insert.MixedOffsets())
	sizes, changedSizes := canonicalizeMixed(insert.MixedSizes())
	strides, changedStrides := canonicalizeMixed(insert.MixedStrides())
	if !changedOffsets && !changedSizes && !changedStrides {
		return false, nil
	}
	source := insert.Source()
	canonical, err := InferRankReducedExtractSliceResultShape(
		source.Shape().Rank(), insert.Dest().Shape(), sizes)
	if err != nil {
		return false, err
	}
	if !canonical.Equal(source.Shape()) {
		source, err = op.fn.Cast(source, canonical)
		if err != nil {
			return false, err
		}
	}
	replacement, err := op.fn.InsertSlice(source, insert.Dest(), offsets, sizes, strides)
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// insertSliceCastFolder elides foldable casts on the source or destination
// operand when the source/region relationship still verifies without them.
func insertSliceCastFolder(op *Op, rw *Rewriter) (bool, error) {
	insert := InsertSliceOp{op}
	source, dest := insert.Source(), insert.Dest()
	changed := false
	if cast := source.DefiningOpOfType(optypes.Cast); cast != nil && CanFoldIntoConsumerOp(cast) {
		source = CastOp{cast}.Source()
		changed = true
	}
	if cast := dest.DefiningOpOfType(optypes.Cast); cast != nil && CanFoldIntoConsumerOp(cast) {
		dest = CastOp{cast}.Source()
		changed = true
	}
	if !changed {
		return false, nil
	}
	sizes := insert.MixedSizes()
	inferred, err := InferExtractSliceResultShape(dest.Shape(), sizes)
	if err != nil {
		return false, err
	}
	if verifySliceResult(inferred, source.Shape(), "insert_slice", true) != nil {
		return rw.notifyMatchFailure(op, "cast elision breaks the source/region relationship")
	}
	replacement, err := op.fn.InsertSlice(source, dest,
		insert.MixedOffsets(), sizes, insert.MixedStrides())
	if err != nil {
		return false, err
	}
	if !replacement.Shape().Equal(insert.Result().Shape()) {
		replacement, err = op.fn.Cast(replacement, insert.Result().Shape())
		if err != nil {
			return false, err
		}
	}
	rw.Replace(op, replacement)
	return true, nil
}

// castInsertLikeSource computes the tighter source type implied by the
// static sizes and returns the cast source, or nil when nothing tightens.
func castInsertLikeSource(buildIn *Func, op *Op) (*Value, error) {
	source := op.Inputs[0]
	dest := op.Inputs[1]
	srcShape := source.Shape()
	if srcShape.Rank() != dest.Shape().Rank() {
		// A rank-reduced source does not align positionally with the sizes.
		return nil, nil
	}
	sizes := mustJoinMixed(op.intsAttr(attrStaticSizes), insertLikeDynamicSizes(op))
	tight := srcShape.Clone()
	for i := range tight.Dimensions {
		if v, ok := sizes[i].ConstantValue(); ok {
			if v < 0 {
				return nil, nil
			}
			tight.Dimensions[i] = v
		}
	}
	if tight.Equal(srcShape) || !shapes.PreservesStaticInformation(srcShape, tight) ||
		!shapes.Compatible(srcShape, tight) {
		return nil, nil
	}
	return buildIn.Cast(source, tight)
}

// insertSliceSourceCast adds an explicit static-information-adding cast on
// the source when the static sizes prove a tighter source type, unlocking
// folds that require exact type matches.
func insertSliceSourceCast(op *Op, rw *Rewriter) (bool, error) {
	insert := InsertSliceOp{op}
	cast, err := castInsertLikeSource(op.fn, op)
	if err != nil || cast == nil {
		return false, err
	}
	replacement, err := op.fn.InsertSlice(cast, insert.Dest(),
		insert.MixedOffsets(), insert.MixedSizes(), insert.MixedStrides())
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

func insertSliceCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "insert-slice-const-args", Root: optypes.InsertSlice, Benefit: 1, Match: insertSliceConstArgs})
	sink.Add(Pattern{Name: "insert-slice-cast-folder", Root: optypes.InsertSlice, Match: insertSliceCastFolder})
	sink.Add(Pattern{Name: "insert-slice-source-cast", Root: optypes.InsertSlice, Match: insertSliceSourceCast})
}

// InParallelOp is the combining construct grouping parallel region writes:
// its body holds ParallelInsertSlice operations, and it exposes one result
// per such write, typed as that write's destination.
type InParallelOp struct{ *Op }

// InParallel builds a combining construct. The body builder adds
// ParallelInsertSlice operations to the body; the returned values are the
// combined results, in body order.
func (fn *Func) InParallel(bodyFn func(body *Func) error) ([]*Value, error) {
	op := InParallelOp{fn.addOpNoResult(optypes.InParallel)}
	body := &Func{Name: "in_parallel_body"}
	op.addRegion(body)
	if err := bodyFn(body); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	for _, inner := range body.Ops {
		if inner.dead {
			continue
		}
		if inner.Type != optypes.ParallelInsertSlice {
			fn.dropOp(op.Op)
			return nil, errors.Errorf("in_parallel body only holds parallel_insert_slice operations, got %s",
				inner.Type)
		}
		result := fn.newValue(inner.Inputs[1].Shape())
		result.def = op.Op
		result.defIndex = len(op.Outputs)
		op.Outputs = append(op.Outputs, result)
	}
	return op.Outputs, nil
}

// Writes returns the parallel region writes of the body, in result order.
func (op InParallelOp) Writes() []ParallelInsertSliceOp {
	var writes []ParallelInsertSliceOp
	for _, inner := range op.Regions[0].Ops {
		if !inner.dead && inner.Type == optypes.ParallelInsertSlice {
			writes = append(writes, ParallelInsertSliceOp{inner})
		}
	}
	return writes
}

// ParallelInsertSliceOp is the combining variant of InsertSlice: it has no
// result of its own and instead ties into the enclosing InParallel's result
// at its body position.
type ParallelInsertSliceOp struct{ *Op }

// ParallelInsertSlice builds a parallel region write inside an InParallel
// body.
func (body *Func) ParallelInsertSlice(source, dest *Value, offsets, sizes, strides []Mixed) error {
	op := ParallelInsertSliceOp{body.addInsertLike(optypes.ParallelInsertSlice, source, dest, offsets, sizes, strides, false)}
	if err := op.verify(); err != nil {
		body.dropOp(op.Op)
		return err
	}
	return nil
}

// Source returns the tensor being written.
func (op ParallelInsertSliceOp) Source() *Value { return op.Inputs[0] }

// Dest returns the tensor being written into.
func (op ParallelInsertSliceOp) Dest() *Value { return op.Inputs[1] }

func (op ParallelInsertSliceOp) dynamicOperands() (offsets, sizes, strides []*Value) {
	return splitDynamicOperands(op.Inputs[2:],
		op.intsAttr(attrStaticOffsets), op.intsAttr(attrStaticSizes), op.intsAttr(attrStaticStrides))
}

// MixedOffsets returns the per-dimension offsets.
func (op ParallelInsertSliceOp) MixedOffsets() []Mixed {
	offsets, _, _ := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticOffsets), offsets)
}

// MixedSizes returns the per-dimension sizes.
func (op ParallelInsertSliceOp) MixedSizes() []Mixed {
	_, sizes, _ := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticSizes), sizes)
}

// MixedStrides returns the per-dimension strides.
func (op ParallelInsertSliceOp) MixedStrides() []Mixed {
	_, _, strides := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticStrides), strides)
}

// CombiningOp returns the enclosing InParallel operation.
func (op ParallelInsertSliceOp) CombiningOp() *Op {
	return op.fn.owner
}

// TiedResult returns the InParallel result corresponding to this write.
func (op ParallelInsertSliceOp) TiedResult() *Value {
	combining := op.CombiningOp()
	position := 0
	for _, inner := range op.fn.Ops {
		if inner == op.Op {
			break
		}
		if !inner.dead && inner.Type == optypes.ParallelInsertSlice {
			position++
		}
	}
	return combining.Outputs[position]
}

func (op ParallelInsertSliceOp) verify() error {
	if op.fn.owner == nil || op.fn.owner.Type != optypes.InParallel {
		return errors.Errorf("parallel_insert_slice only lives inside an in_parallel body")
	}
	return verifyInsertLike(op.Op, "parallel_insert_slice")
}

// setInsertLikeOperands rewrites an insert-like op's operands and static
// lists in place. Used where a replacement must keep its body position, as
// for the combining variant's result correspondence.
func setInsertLikeOperands(op *Op, source, dest *Value, offsets, sizes, strides []Mixed) {
	staticOffsets, dynamicOffsets := SplitMixed(offsets)
	staticSizes, dynamicSizes := SplitMixed(sizes)
	staticStrides, dynamicStrides := SplitMixed(strides)
	inputs := append([]*Value{source, dest}, dynamicOffsets...)
	inputs = append(inputs, dynamicSizes...)
	inputs = append(inputs, dynamicStrides...)
	op.Inputs = inputs
	op.setAttr(attrStaticOffsets, staticOffsets)
	op.setAttr(attrStaticSizes, staticSizes)
	op.setAttr(attrStaticStrides, staticStrides)
}

// parallelInsertSliceConstArgs is the constant promotion of the combining
// variant; it rewrites the write in place since it has no result of its own
// and must keep its body position.
func parallelInsertSliceConstArgs(op *Op, rw *Rewriter) (bool, error) {
	insert := ParallelInsertSliceOp{op}
	offsets, changedOffsets := canonicalizeMixed(insert.MixedOffsets())
	sizes, changedSizes := canonicalizeMixed(insert.MixedSizes())
	strides, changedStrides := canonicalizeMixed(insert.MixedStrides())
	if !changedOffsets && !changedSizes && !changedStrides {
		return false, nil
	}
	source := insert.Source()
	canonical, err := InferRankReducedExtractSliceResultShape(
		source.Shape().Rank(), insert.Dest().Shape(), sizes)
	if err != nil {
		return false, err
	}
	if !canonical.Equal(source.Shape()) {
		// The cast has no insertion point inside the body; it goes just
		// before the combining construct.
		source, err = op.fn.Parent.Cast(source, canonical)
		if err != nil {
			return false, err
		}
	}
	setInsertLikeOperands(op, source, insert.Dest(), offsets, sizes, strides)
	if err := insert.verify(); err != nil {
		return false, err
	}
	return true, nil
}

// parallelInsertSliceSourceCast mirrors insertSliceSourceCast, with the
// cast placed before the enclosing combining construct.
func parallelInsertSliceSourceCast(op *Op, rw *Rewriter) (bool, error) {
	insert := ParallelInsertSliceOp{op}
	cast, err := castInsertLikeSource(op.fn.Parent, op)
	if err != nil || cast == nil {
		return false, err
	}
	setInsertLikeOperands(op, cast, insert.Dest(),
		insert.MixedOffsets(), insert.MixedSizes(), insert.MixedStrides())
	if err := insert.verify(); err != nil {
		return false, err
	}
	return true, nil
}

func parallelInsertSliceCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "parallel-insert-slice-const-args", Root: optypes.ParallelInsertSlice, Benefit: 1, Match: parallelInsertSliceConstArgs})
	sink.Add(Pattern{Name: "parallel-insert-slice-source-cast", Root: optypes.ParallelInsertSlice, Match: parallelInsertSliceSourceCast})
}
