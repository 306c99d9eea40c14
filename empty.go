package tensorir

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// EmptyOp allocates an uninitialized tensor of a given, possibly partially
// dynamic shape. It has no defined contents, which is what makes its
// consumers free to substitute any shape-compatible allocation.
type EmptyOp struct{ *Op }

// Empty builds an allocation whose shape is derived from the mixed sizes:
// static entries become static extents, dynamic entries become dynamic
// extents backed by the corresponding operand.
func (fn *Func) Empty(dtype dtypes.DType, sizes ...Mixed) (*Value, error) {
	statics, dynamics := SplitMixed(sizes)
	return fn.EmptyOf(shapes.Make(dtype, statics...), dynamics...)
}

// EmptyOf builds an allocation of an explicitly declared shape, with one
// size operand per dynamic dimension, in positional order.
func (fn *Func) EmptyOf(shape shapes.Shape, dynamicSizes ...*Value) (*Value, error) {
	op := EmptyOp{fn.addOp(optypes.Empty, shape, dynamicSizes...)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// DynamicSizes returns the run-time extents, one per dynamic dimension.
func (op EmptyOp) DynamicSizes() []*Value { return op.Inputs }

// MixedSizes returns the per-dimension sizes as a mixed list.
func (op EmptyOp) MixedSizes() []Mixed {
	return mustJoinMixed(op.Result().Shape().Dimensions, op.Inputs)
}

func (op EmptyOp) verify() error {
	shape := op.Result().Shape()
	if !shape.IsRanked() {
		return errors.Errorf("empty requires a ranked result, got %s", shape)
	}
	if got, want := len(op.Inputs), shape.NumDynamicDims(); got != want {
		return errors.Errorf("empty of %s requires %d dynamic size operands, got %d",
			shape, want, got)
	}
	for _, size := range op.Inputs {
		if s := size.Shape(); !s.IsScalar() || s.DType != IndexDType {
			return errors.Errorf("empty dynamic size must be a scalar index, got %s", s)
		}
	}
	return nil
}

func (op EmptyOp) reifyResultShapes() ([][]Mixed, error) {
	return [][]Mixed{op.MixedSizes()}, nil
}

// emptyStaticShapeDims promotes dynamic size operands that are provably
// compile-time constants into static extents, wrapping the tighter
// allocation in a widening cast back to the declared type so use sites keep
// their types.
func emptyStaticShapeDims(op *Op, rw *Rewriter) (bool, error) {
	empty := EmptyOp{op}
	sizes, changed := canonicalizeMixed(empty.MixedSizes())
	if !changed {
		return false, nil
	}
	statics, dynamics := SplitMixed(sizes)
	tight := empty.Result().Shape().Clone()
	tight.Dimensions = statics
	narrowed, err := op.fn.EmptyOf(tight, dynamics...)
	if err != nil {
		return false, err
	}
	widened, err := op.fn.Cast(narrowed, empty.Result().Shape())
	if err != nil {
		return false, err
	}
	rw.Replace(op, widened)
	return true, nil
}

// emptyWithExtractSlice replaces a slice of an allocation with a direct
// allocation of the slice's shape. Contents are unconstrained, so any
// shape-compatible empty is substitutable.
func emptyWithExtractSlice(op *Op, rw *Rewriter) (bool, error) {
	slice := ExtractSliceOp{op}
	if slice.Source().DefiningOpOfType(optypes.Empty) == nil {
		return false, nil
	}
	_, dynamics := SplitMixed(slice.MixedSizes())
	replacement, err := op.fn.EmptyOf(slice.Result().Shape(), dynamics...)
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// emptyWithReshape replaces a reassociative reshape of an allocation with a
// direct allocation of the reshaped type. The run-time extents of the
// reshaped dynamic dimensions must be recoverable from the allocation's own
// size operands; a dynamic group that would need arithmetic to recombine is
// left alone.
func emptyWithReshape(op *Op, rw *Rewriter) (bool, error) {
	var source *Value
	var reassociation [][]int
	switch op.Type {
	case optypes.ExpandShape:
		source = ExpandShapeOp{op}.Source()
		reassociation = ExpandShapeOp{op}.Reassociation()
	case optypes.CollapseShape:
		source = CollapseShapeOp{op}.Source()
		reassociation = CollapseShapeOp{op}.Reassociation()
	default:
		return false, nil
	}
	producer := source.DefiningOpOfType(optypes.Empty)
	if producer == nil {
		return false, nil
	}
	empty := EmptyOp{producer}
	sourceSizes := empty.MixedSizes()

	result := op.Result().Shape()
	sizes := make([]Mixed, result.Rank())
	for i, dim := range result.Dimensions {
		if dim != shapes.DynamicSize {
			sizes[i] = StaticIndex(dim)
			continue
		}
		size, ok := reshapedDynamicSize(op.Type, i, reassociation, sourceSizes)
		if !ok {
			return rw.notifyMatchFailure(op, "dynamic extent %d needs arithmetic to recombine", i)
		}
		sizes[i] = size
	}
	_, dynamics := SplitMixed(sizes)
	replacement, err := op.fn.EmptyOf(result, dynamics...)
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// reshapedDynamicSize recovers the run-time size of a dynamic reshaped
// dimension from the pre-reshape mixed sizes, when no arithmetic is needed:
// the group must have a single non-unit member, and that member holds the
// size.
func reshapedDynamicSize(opType optypes.OpType, resultDim int, reassociation [][]int, sourceSizes []Mixed) (Mixed, bool) {
	if opType == optypes.CollapseShape {
		// resultDim indexes a group of source dimensions.
		group := reassociation[resultDim]
		var size Mixed
		found := false
		for _, sourceDim := range group {
			s := sourceSizes[sourceDim]
			if v, ok := s.Static(); ok && v == 1 {
				continue
			}
			if found {
				return Mixed{}, false
			}
			size, found = s, true
		}
		if !found {
			size = StaticIndex(1)
		}
		return size, true
	}
	// ExpandShape: find the group containing resultDim; the source size of
	// that group carries the run-time extent only if the group is a
	// singleton (anything else would need a division to split the extent).
	for groupIndex, group := range reassociation {
		for _, expandedDim := range group {
			if expandedDim == resultDim {
				return sourceSizes[groupIndex], len(group) == 1
			}
		}
	}
	return Mixed{}, false
}

// emptyWithCast specializes an allocation feeding a static-information
// adding cast into a direct allocation of the cast's result type. A static
// extent on the allocation that disagrees with the cast's static extent is
// inconsistent input and reported as an error.
func emptyWithCast(op *Op, rw *Rewriter) (bool, error) {
	cast := CastOp{op}
	producer := cast.Source().DefiningOpOfType(optypes.Empty)
	if producer == nil || !CanFoldIntoProducerOp(op) {
		return false, nil
	}
	empty := EmptyOp{producer}
	result := cast.Result().Shape()

	current := empty.MixedSizes()
	sizes := make([]Mixed, len(current))
	for i, size := range current {
		dim := result.Dimensions[i]
		if static, ok := size.Static(); ok {
			if dim == shapes.DynamicSize || dim != static {
				return false, errors.Errorf(
					"static size %d of the empty tensor contradicts extent %s of the cast result %s",
					static, shapes.DimText(dim), result)
			}
			sizes[i] = size
			continue
		}
		if dim == shapes.DynamicSize {
			sizes[i] = size
			continue
		}
		sizes[i] = StaticIndex(dim)
	}
	_, dynamics := SplitMixed(sizes)
	replacement, err := op.fn.EmptyOf(result, dynamics...)
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

func emptyCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "empty-static-shape-dims", Root: optypes.Empty, Match: emptyStaticShapeDims})
	sink.Add(Pattern{Name: "empty-with-extract-slice", Root: optypes.ExtractSlice, Match: emptyWithExtractSlice})
	sink.Add(Pattern{Name: "empty-with-expand-shape", Root: optypes.ExpandShape, Match: emptyWithReshape})
	sink.Add(Pattern{Name: "empty-with-collapse-shape", Root: optypes.CollapseShape, Match: emptyWithReshape})
	sink.Add(Pattern{Name: "empty-with-cast", Root: optypes.Cast, Match: emptyWithCast})
}
