package tensorir

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// CastOp widens or narrows the static shape information of a tensor value
// without touching its contents: source and result have the same dtype and
// compatible shapes. A cast towards a more static shape implies a run-time
// check; that is why eliding casts is guarded by the
// PreservesStaticInformation predicate.
type CastOp struct{ *Op }

// Cast builds a shape cast of x to the given shape.
func (fn *Func) Cast(x *Value, to shapes.Shape) (*Value, error) {
	op := CastOp{fn.addOp(optypes.Cast, to, x)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// dropOp removes a freshly added, failed operation from the graph again.
func (fn *Func) dropOp(op *Op) {
	if len(fn.Ops) > 0 && fn.Ops[len(fn.Ops)-1] == op {
		fn.Ops = fn.Ops[:len(fn.Ops)-1]
	}
	op.dead = true
}

// Source returns the value being cast.
func (op CastOp) Source() *Value { return op.Inputs[0] }

func (op CastOp) verify() error {
	source := op.Source().Shape()
	result := op.Result().Shape()
	if source.DType != result.DType {
		return errors.Errorf("cast cannot change the element type: %s to %s", source, result)
	}
	if !shapes.Compatible(source, result) {
		return errors.Errorf("cast between incompatible shapes %s and %s", source, result)
	}
	return nil
}

// CanFoldIntoConsumerOp reports whether the cast only discards static
// information, so a consumer of its result can use its source directly
// without losing any static guarantee.
func CanFoldIntoConsumerOp(cast *Op) bool {
	if cast == nil || cast.Type != optypes.Cast {
		return false
	}
	c := CastOp{cast}
	return shapes.PreservesStaticInformation(c.Result().Shape(), c.Source().Shape())
}

// CanFoldIntoProducerOp is the symmetric check: the cast only adds static
// information, so the producer of its source can be specialized to produce
// the cast's result type directly.
func CanFoldIntoProducerOp(cast *Op) bool {
	if cast == nil || cast.Type != optypes.Cast {
		return false
	}
	c := CastOp{cast}
	return shapes.PreservesStaticInformation(c.Source().Shape(), c.Result().Shape())
}

// FoldCastOperands rewires every operand of op that is produced by a
// foldable cast directly to the cast's source. It reports whether any
// operand changed.
func FoldCastOperands(op *Op) bool {
	folded := false
	for i, input := range op.Inputs {
		cast := input.DefiningOpOfType(optypes.Cast)
		if cast != nil && CanFoldIntoConsumerOp(cast) {
			op.Inputs[i] = CastOp{cast}.Source()
			folded = true
		}
	}
	return folded
}

// chainedCast collapses cast(cast(x)) into a single cast, but only when the
// intermediate cast is not load-bearing: join(source, intermediate, result)
// must equal join(source, result), otherwise the two-step chain performs a
// run-time shape check the single cast would lose.
func chainedCast(op *Op, rw *Rewriter) (bool, error) {
	cast := CastOp{op}
	producer := cast.Source().DefiningOpOfType(optypes.Cast)
	if producer == nil {
		return false, nil
	}
	source := CastOp{producer}.Source()
	intermediate := CastOp{producer}.Result().Shape()
	result := cast.Result().Shape()

	firstJoin, ok := shapes.Join(source.Shape(), intermediate)
	if !ok {
		return false, nil
	}
	firstJoin, ok = shapes.Join(firstJoin, result)
	if !ok {
		// The chain would fail at run time; keep it.
		return false, nil
	}
	newJoin, ok := shapes.Join(source.Shape(), result)
	if !ok || !firstJoin.Equal(newJoin) {
		// The intermediate cast asserts a fact the direct cast would not.
		return rw.notifyMatchFailure(op, "intermediate cast to %s is load-bearing", intermediate)
	}
	replacement, err := op.fn.Cast(source, result)
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// castOfExtractSlice pushes a static-information-adding cast into its
// extract-slice producer by tightening the slice's static sizes, e.g.
// extract_slice ...[%s, 512] to tensor<?x512> followed by a cast to
// tensor<16x512> becomes extract_slice ...[16, 512].
func castOfExtractSlice(op *Op, rw *Rewriter) (bool, error) {
	cast := CastOp{op}
	producer := cast.Source().DefiningOpOfType(optypes.ExtractSlice)
	if producer == nil || !CanFoldIntoProducerOp(op) {
		return false, nil
	}
	if cast.Result().Shape().Equal(cast.Source().Shape()) {
		return false, nil
	}
	slice := ExtractSliceOp{producer}

	sizes := slice.MixedSizes()
	dropped := slice.droppedDims()
	resultDims := cast.Result().Shape().Dimensions
	dimIndex := 0
	for i := range sizes {
		if dropped[i] {
			continue
		}
		dim := resultDims[dimIndex]
		dimIndex++
		if dim == shapes.DynamicSize {
			continue
		}
		sizes[i] = StaticIndex(dim)
	}

	replacement, err := op.fn.ExtractSliceAs(cast.Result().Shape(), slice.Source(),
		slice.MixedOffsets(), sizes, slice.MixedStrides())
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

func castCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "chained-cast", Root: optypes.Cast, Match: chainedCast})
	sink.Add(Pattern{Name: "cast-of-extract-slice", Root: optypes.Cast, Match: castOfExtractSlice})
}

// ConvertOp changes the element type of a tensor, keeping its shape. It is
// the thin interface to the arithmetic dialect needed by the rule that
// commutes element extraction with element-width casts.
type ConvertOp struct{ *Op }

// Convert builds an element-type conversion of x.
func (fn *Func) Convert(x *Value, dtype dtypes.DType) (*Value, error) {
	to := x.Shape().Clone()
	to.DType = dtype
	op := ConvertOp{fn.addOp(optypes.Convert, to, x)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the value being converted.
func (op ConvertOp) Source() *Value { return op.Inputs[0] }

func (op ConvertOp) verify() error {
	source := op.Source().Shape()
	result := op.Result().Shape()
	if source.DType == result.DType {
		return errors.Errorf("convert requires a different element type, got %s twice", source.DType)
	}
	if !source.EqualIgnoringEncoding(shapeWithDType(result, source.DType)) {
		return errors.Errorf("convert cannot change the shape: %s to %s", source, result)
	}
	return nil
}

func shapeWithDType(s shapes.Shape, dtype dtypes.DType) shapes.Shape {
	s2 := s.Clone()
	s2.DType = dtype
	return s2
}
