package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// InferExtractSliceResultShape computes the full (non-rank-reduced) result
// shape of slicing source with the given sizes: the result extents are
// exactly the sizes, static or dynamic. The source encoding carries over.
func InferExtractSliceResultShape(source shapes.Shape, sizes []Mixed) (shapes.Shape, error) {
	if !source.IsRanked() {
		return shapes.Invalid(), errors.Errorf("slicing requires a ranked source, got %s", source)
	}
	if len(sizes) != source.Rank() {
		return shapes.Invalid(), errors.Errorf("slicing %s requires %d sizes, got %d",
			source, source.Rank(), len(sizes))
	}
	statics, _ := SplitMixed(sizes)
	result := shapes.Make(source.DType, statics...)
	result.Encoding = source.Encoding
	return result, nil
}

// InferRankReducedExtractSliceResultShape is the rank-reducing variant: it
// drops fullRank-targetRank unit extents from the full inference, always
// the lowest-indexed eligible ones.
func InferRankReducedExtractSliceResultShape(targetRank int, source shapes.Shape, sizes []Mixed) (shapes.Shape, error) {
	full, err := InferExtractSliceResultShape(source, sizes)
	if err != nil {
		return shapes.Invalid(), err
	}
	rankDiff := full.Rank() - targetRank
	if rankDiff < 0 {
		return shapes.Invalid(), errors.Errorf("cannot rank-reduce %s to the larger rank %d", full, targetRank)
	}
	if rankDiff == 0 {
		return full, nil
	}
	dims, err := shapes.DropUnitDims(rankDiff, full.Dimensions)
	if err != nil {
		return shapes.Invalid(), err
	}
	reduced := shapes.Make(full.DType, dims...)
	reduced.Encoding = full.Encoding
	return reduced, nil
}

// rankReductionMask reports which full dimensions are dropped to obtain the
// reduced ones: kept dimensions must match pairwise in order, dropped ones
// must be static 1. With matchDynamic, a kept pair also matches when either
// side is dynamic (the insert-side rule, where the source may be a relaxed
// form of the region type). ok is false when no such mapping exists.
func rankReductionMask(full, reduced []int64, matchDynamic bool) (mask []bool, ok bool) {
	mask = make([]bool, len(full))
	pos := 0
	for i, dim := range full {
		if pos < len(reduced) {
			if dim == reduced[pos] ||
				(matchDynamic && (dim == shapes.DynamicSize || reduced[pos] == shapes.DynamicSize)) {
				pos++
				continue
			}
		}
		if dim != 1 {
			return nil, false
		}
		mask[i] = true
	}
	return mask, pos == len(reduced)
}

// equalConstantOrValue equates two mixed entries when both resolve to the
// same compile-time integer or are the identical run-time value.
func equalConstantOrValue(a, b Mixed) bool {
	av, aok := a.ConstantValue()
	bv, bok := b.ConstantValue()
	if aok && bok {
		return av == bv
	}
	return a.Equal(b)
}

func mixedSameAs(a, b []Mixed) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalConstantOrValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

// allConstant reports whether every entry of the list resolves to the given
// compile-time integer.
func allConstant(list []Mixed, value int64) bool {
	for _, m := range list {
		v, ok := m.ConstantValue()
		if !ok || v != value {
			return false
		}
	}
	return true
}

// ExtractSliceOp reads a strided rectangular region out of a tensor,
// described by per-dimension mixed offsets, sizes and strides. The result
// may drop unit-sized dimensions (rank reduction).
type ExtractSliceOp struct{ *Op }

// ExtractSlice builds a slice with the full (non-rank-reduced) inferred
// result type.
func (fn *Func) ExtractSlice(source *Value, offsets, sizes, strides []Mixed) (*Value, error) {
	result, err := InferExtractSliceResultShape(source.Shape(), sizes)
	if err != nil {
		return nil, err
	}
	return fn.ExtractSliceAs(result, source, offsets, sizes, strides)
}

// ExtractSliceRankReduced builds a slice whose result drops the canonical
// unit dimensions down to targetRank.
func (fn *Func) ExtractSliceRankReduced(targetRank int, source *Value, offsets, sizes, strides []Mixed) (*Value, error) {
	result, err := InferRankReducedExtractSliceResultShape(targetRank, source.Shape(), sizes)
	if err != nil {
		return nil, err
	}
	return fn.ExtractSliceAs(result, source, offsets, sizes, strides)
}

// ExtractSliceAs builds a slice with an explicitly declared result shape,
// verified to be the inferred type or a rank-reduced specialization of it.
func (fn *Func) ExtractSliceAs(result shapes.Shape, source *Value, offsets, sizes, strides []Mixed) (*Value, error) {
	staticOffsets, dynamicOffsets := SplitMixed(offsets)
	staticSizes, dynamicSizes := SplitMixed(sizes)
	staticStrides, dynamicStrides := SplitMixed(strides)
	inputs := append([]*Value{source}, dynamicOffsets...)
	inputs = append(inputs, dynamicSizes...)
	inputs = append(inputs, dynamicStrides...)
	op := ExtractSliceOp{fn.addOp(optypes.ExtractSlice, result, inputs...)}
	op.setAttr(attrStaticOffsets, staticOffsets)
	op.setAttr(attrStaticSizes, staticSizes)
	op.setAttr(attrStaticStrides, staticStrides)
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the tensor being sliced.
func (op ExtractSliceOp) Source() *Value { return op.Inputs[0] }

// dynamicOperands splits the trailing operands into the dynamic halves of
// the three index lists.
func (op ExtractSliceOp) dynamicOperands() (offsets, sizes, strides []*Value) {
	return splitDynamicOperands(op.Inputs[1:],
		op.intsAttr(attrStaticOffsets), op.intsAttr(attrStaticSizes), op.intsAttr(attrStaticStrides))
}

// splitDynamicOperands partitions a flat dynamic-operand list by the count
// of dynamic markers in each static list, in order.
func splitDynamicOperands(operands []*Value, statics ...[]int64) (a, b, c []*Value) {
	split := make([][]*Value, len(statics))
	for i, static := range statics {
		count := 0
		for _, s := range static {
			if s == shapes.DynamicSize {
				count++
			}
		}
		split[i] = operands[:count]
		operands = operands[count:]
	}
	return split[0], split[1], split[2]
}

// MixedOffsets returns the per-dimension offsets.
func (op ExtractSliceOp) MixedOffsets() []Mixed {
	offsets, _, _ := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticOffsets), offsets)
}

// MixedSizes returns the per-dimension sizes.
func (op ExtractSliceOp) MixedSizes() []Mixed {
	_, sizes, _ := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticSizes), sizes)
}

// MixedStrides returns the per-dimension strides.
func (op ExtractSliceOp) MixedStrides() []Mixed {
	_, _, strides := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticStrides), strides)
}

func (op ExtractSliceOp) verify() error {
	source := op.Source().Shape()
	if !source.IsRanked() {
		return errors.Errorf("extract_slice requires a ranked source, got %s", source)
	}
	rank := source.Rank()
	for _, attr := range []string{attrStaticOffsets, attrStaticSizes, attrStaticStrides} {
		if got := len(op.intsAttr(attr)); got != rank {
			return errors.Errorf("extract_slice from %s requires %d %s entries, got %d",
				source, rank, attr, got)
		}
	}
	inferred, err := InferExtractSliceResultShape(source, op.MixedSizes())
	if err != nil {
		return err
	}
	return verifySliceResult(inferred, op.Result().Shape(), "extract_slice", false)
}

// verifySliceResult accepts a declared type equal to the inferred one or a
// valid rank-reduced specialization of it. matchDynamic relaxes the kept-dim
// comparison to shape compatibility, see rankReductionMask.
func verifySliceResult(inferred, declared shapes.Shape, opName string, matchDynamic bool) error {
	if declared.DType != inferred.DType {
		return errors.Errorf("%s element type mismatch: inferred %s, declared %s",
			opName, inferred, declared)
	}
	if !declared.IsRanked() || declared.Rank() > inferred.Rank() {
		return errors.Errorf("%s declared rank greater than the inferred %s: %s",
			opName, inferred, declared)
	}
	if _, ok := rankReductionMask(inferred.Dimensions, declared.Dimensions, matchDynamic); !ok {
		return errors.Errorf("%s size mismatch: %s is not a rank-reduced form of the inferred %s",
			opName, declared, inferred)
	}
	return nil
}

// droppedDims reports, per size entry, whether the corresponding dimension
// is dropped by rank reduction: a statically-unit size whose position in
// the result is not itself a kept unit dimension.
func (op ExtractSliceOp) droppedDims() []bool {
	return droppedDimsOf(op.Result().Shape().Dimensions, op.MixedSizes())
}

func droppedDimsOf(resultDims []int64, sizes []Mixed) []bool {
	dropped := make([]bool, len(sizes))
	shapePos := 0
	for i, size := range sizes {
		v, isConst := size.ConstantValue()
		isUnit := isConst && v == 1
		if shapePos >= len(resultDims) {
			dropped[i] = true
			continue
		}
		if isUnit && resultDims[shapePos] != 1 {
			dropped[i] = true
			continue
		}
		shapePos++
	}
	return dropped
}

func (op ExtractSliceOp) reifyResultShapes() ([][]Mixed, error) {
	sizes := op.MixedSizes()
	dropped := op.droppedDims()
	kept := make([]Mixed, 0, len(sizes))
	for i, size := range sizes {
		if !dropped[i] {
			kept = append(kept, size)
		}
	}
	return [][]Mixed{kept}, nil
}

func (op ExtractSliceOp) fold() FoldResult {
	result := op.Result().Shape()

	if literal := LiteralOf(op.Source()); literal != nil && literal.IsSplat() &&
		result.IsFullyStatic() {
		return foldToLit(literal.ResizeSplat(result))
	}

	// Identity slice: full extents at offset 0 with unit strides.
	if result.Equal(op.Source().Shape()) &&
		allConstant(op.MixedOffsets(), 0) && allConstant(op.MixedStrides(), 1) {
		return foldTo(op.Source())
	}

	// Reading back the exact region a preceding insert just wrote yields
	// the inserted value directly.
	if def := op.Source().DefiningOpOfType(optypes.InsertSlice); def != nil {
		insert := InsertSliceOp{def}
		if insert.Source().Shape().Equal(result) &&
			mixedSameAs(insert.MixedOffsets(), op.MixedOffsets()) &&
			mixedSameAs(insert.MixedSizes(), op.MixedSizes()) &&
			mixedSameAs(insert.MixedStrides(), op.MixedStrides()) {
			return foldTo(insert.Source())
		}
	}
	return FoldResult{}
}

// extractSliceConstArgs promotes provably constant dynamic entries of the
// three index lists to static entries, re-derives the canonical
// rank-reduced result type, and re-widens with a cast when the canonical
// type is tighter than the declared one.
func extractSliceConstArgs(op *Op, rw *Rewriter) (bool, error) {
	slice := ExtractSliceOp{op}
	offsets, changedOffsets := canonicalizeMixed(slice.MixedOffsets())
	sizes, changedSizes := canonicalizeMixed(slice.MixedSizes())
	strides, changedStrides := canonicalizeMixed(slice.MixedStrides())
	if !changedOffsets && !changedSizes && !changedStrides {
		return false, nil
	}
	declared := slice.Result().Shape()
	canonical, err := InferRankReducedExtractSliceResultShape(declared.Rank(), slice.Source().Shape(), sizes)
	if err != nil {
		return false, err
	}
	replacement, err := op.fn.ExtractSliceAs(canonical, slice.Source(), offsets, sizes, strides)
	if err != nil {
		return false, err
	}
	if !canonical.Equal(declared) {
		replacement, err = op.fn.Cast(replacement, declared)
		if err != nil {
			return false, err
		}
	}
	rw.Replace(op, replacement)
	return true, nil
}

// extractSliceOfCast slices the cast's source directly: the sizes determine
// the result type, so losing static source extents changes nothing.
func extractSliceOfCast(op *Op, rw *Rewriter) (bool, error) {
	slice := ExtractSliceOp{op}
	cast := slice.Source().DefiningOpOfType(optypes.Cast)
	if cast == nil || !CanFoldIntoConsumerOp(cast) {
		return false, nil
	}
	replacement, err := op.fn.ExtractSliceAs(slice.Result().Shape(), CastOp{cast}.Source(),
		slice.MixedOffsets(), slice.MixedSizes(), slice.MixedStrides())
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

func extractSliceCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "extract-slice-const-args", Root: optypes.ExtractSlice, Benefit: 1, Match: extractSliceConstArgs})
	sink.Add(Pattern{Name: "extract-slice-of-cast", Root: optypes.ExtractSlice, Match: extractSliceOfCast})
}
