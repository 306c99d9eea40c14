package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// InferPadResultShape computes the padded shape: per dimension the sum
// source+low+high when all three are static, otherwise the hint extent if
// one is given, otherwise dynamic. The source encoding carries over.
func InferPadResultShape(source shapes.Shape, low, high []Mixed, hint []int64) (shapes.Shape, error) {
	if !source.IsRanked() {
		return shapes.Invalid(), errors.Errorf("pad requires a ranked source, got %s", source)
	}
	rank := source.Rank()
	if len(low) != rank || len(high) != rank {
		return shapes.Invalid(), errors.Errorf("pad of %s requires %d low and high entries, got %d and %d",
			source, rank, len(low), len(high))
	}
	if hint != nil && len(hint) != rank {
		return shapes.Invalid(), errors.Errorf("pad result hint %v does not have rank %d", hint, rank)
	}
	dims := make([]int64, rank)
	for i := 0; i < rank; i++ {
		l, lok := low[i].Static()
		h, hok := high[i].Static()
		if dim := source.Dimensions[i]; lok && hok && dim != shapes.DynamicSize {
			dims[i] = dim + l + h
			continue
		}
		if hint != nil {
			dims[i] = hint[i]
		} else {
			dims[i] = shapes.DynamicSize
		}
	}
	result := shapes.Make(source.DType, dims...)
	result.Encoding = source.Encoding
	return result, nil
}

// PadOp grows a tensor by low and high padding amounts per dimension,
// filling the new elements with the value produced by its closure. The
// nofold flag opts the op out of being folded away.
type PadOp struct{ *Op }

// Pad builds a padding of source with the inferred result shape. The body
// builder receives the fill closure and its index parameters and returns
// the fill element.
func (fn *Func) Pad(source *Value, low, high []Mixed, nofold bool,
	bodyFn func(body *Func, indices []*Value) (*Value, error)) (*Value, error) {
	result, err := InferPadResultShape(source.Shape(), low, high, nil)
	if err != nil {
		return nil, err
	}
	return fn.PadAs(result, source, low, high, nofold, bodyFn)
}

// PadAs builds a padding with an explicitly declared result shape, verified
// against the inferred one.
func (fn *Func) PadAs(result shapes.Shape, source *Value, low, high []Mixed, nofold bool,
	bodyFn func(body *Func, indices []*Value) (*Value, error)) (*Value, error) {
	op := fn.addPad(result, source, low, high, nofold)
	body := op.Regions[0]
	indices := make([]*Value, source.Shape().Rank())
	for i := range indices {
		indices[i] = body.Input("", shapes.Make(IndexDType))
	}
	fill, err := bodyFn(body, indices)
	if err != nil {
		fn.dropOp(op)
		return nil, err
	}
	if err := body.yield(fill); err != nil {
		fn.dropOp(op)
		return nil, err
	}
	return fn.finishPad(PadOp{op})
}

// PadValue builds a padding filled with a single value captured from the
// enclosing scope.
func (fn *Func) PadValue(source *Value, low, high []Mixed, fill *Value, nofold bool) (*Value, error) {
	return fn.Pad(source, low, high, nofold,
		func(body *Func, indices []*Value) (*Value, error) {
			return fill, nil
		})
}

// padWithBody rebuilds a pad around an existing fill closure, moving the
// region over from an operation being retired.
func (fn *Func) padWithBody(result shapes.Shape, source *Value, low, high []Mixed, nofold bool, body *Func) (*Value, error) {
	op := fn.addPad(result, source, low, high, nofold)
	op.Regions[0] = body
	body.Parent = fn
	body.owner = op
	return fn.finishPad(PadOp{op})
}

func (fn *Func) addPad(result shapes.Shape, source *Value, low, high []Mixed, nofold bool) *Op {
	staticLow, dynamicLow := SplitMixed(low)
	staticHigh, dynamicHigh := SplitMixed(high)
	inputs := append([]*Value{source}, dynamicLow...)
	inputs = append(inputs, dynamicHigh...)
	op := fn.addOp(optypes.Pad, result, inputs...)
	op.setAttr(attrStaticLow, staticLow)
	op.setAttr(attrStaticHigh, staticHigh)
	if nofold {
		op.setAttr(attrNofold, true)
	}
	op.addRegion(&Func{Name: "pad_body"})
	return op
}

func (fn *Func) finishPad(op PadOp) (*Value, error) {
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	if err := op.verifyRegions(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the tensor being padded.
func (op PadOp) Source() *Value { return op.Inputs[0] }

// Nofold reports whether the op opted out of fold rules.
func (op PadOp) Nofold() bool { return op.boolAttr(attrNofold) }

// Body returns the fill closure.
func (op PadOp) Body() *Func { return op.Regions[0] }

func (op PadOp) dynamicOperands() (low, high []*Value) {
	operands := op.Inputs[1:]
	count := 0
	for _, s := range op.intsAttr(attrStaticLow) {
		if s == shapes.DynamicSize {
			count++
		}
	}
	return operands[:count], operands[count:]
}

// MixedLowPad returns the per-dimension low padding amounts.
func (op PadOp) MixedLowPad() []Mixed {
	low, _ := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticLow), low)
}

// MixedHighPad returns the per-dimension high padding amounts.
func (op PadOp) MixedHighPad() []Mixed {
	_, high := op.dynamicOperands()
	return mustJoinMixed(op.intsAttr(attrStaticHigh), high)
}

// HasZeroLowPad reports whether every low padding amount is statically 0.
func (op PadOp) HasZeroLowPad() bool { return allConstant(op.MixedLowPad(), 0) }

// HasZeroHighPad reports whether every high padding amount is statically 0.
func (op PadOp) HasZeroHighPad() bool { return allConstant(op.MixedHighPad(), 0) }

// PaddedDims reports, per dimension, whether the op pads it: an amount not
// provably 0 on either side counts as padding.
func (op PadOp) PaddedDims() []bool {
	padded := make([]bool, len(op.intsAttr(attrStaticLow)))
	mark := func(widths []Mixed) {
		for i, w := range widths {
			if v, ok := w.ConstantValue(); !ok || v != 0 {
				padded[i] = true
			}
		}
	}
	mark(op.MixedLowPad())
	mark(op.MixedHighPad())
	return padded
}

// ConstantPaddingValue returns the fill value when it is constant: a
// literal, or a value captured from outside the closure body. A value
// computed inside the body from the index parameters is never constant.
func (op PadOp) ConstantPaddingValue() *Value {
	yielded := op.Body().yieldedValue()
	if yielded == nil {
		return nil
	}
	if LiteralOf(yielded) != nil {
		return yielded
	}
	if yielded.fn == op.Body() {
		return nil
	}
	return yielded
}

func (op PadOp) verify() error {
	source := op.Source().Shape()
	result := op.Result().Shape()
	if !source.IsRanked() {
		return errors.Errorf("pad requires a ranked source, got %s", source)
	}
	if source.DType != result.DType {
		return errors.Errorf("pad cannot change the element type: %s to %s", source, result)
	}
	if result.Rank() != source.Rank() {
		return errors.Errorf("pad of %s cannot change the rank, declared %s", source, result)
	}
	expected, err := InferPadResultShape(source, op.MixedLowPad(), op.MixedHighPad(), nil)
	if err != nil {
		return err
	}
	for i, dim := range expected.Dimensions {
		if dim != shapes.DynamicSize && result.Dimensions[i] != dim {
			return errors.Errorf("pad of %s declares extent %s for dimension %d, padding amounts low %s high %s give %d",
				source, shapes.DimText(result.Dimensions[i]), i,
				mixedText(op.MixedLowPad()), mixedText(op.MixedHighPad()), dim)
		}
	}
	return nil
}

func (op PadOp) verifyRegions() error {
	source := op.Source().Shape()
	body := op.Body()
	if got, want := len(body.Inputs), source.Rank(); got != want {
		return errors.Errorf("pad body requires %d index parameters, got %d", want, got)
	}
	for _, input := range body.Inputs {
		if s := input.Shape(); !s.IsScalar() || s.DType != IndexDType {
			return errors.Errorf("pad body parameter must be a scalar index, got %s", s)
		}
	}
	yielded := body.yieldedValue()
	if yielded == nil {
		return errors.Errorf("pad body must end in a yield")
	}
	if s := yielded.Shape(); !s.IsScalar() || s.DType != source.DType {
		return errors.Errorf("pad of %s must yield a scalar %s, got %s", source, source.DType, s)
	}
	return nil
}

func (op PadOp) fold() FoldResult {
	result := op.Result().Shape()
	if result.IsFullyStatic() && result.Equal(op.Source().Shape()) && !op.Nofold() {
		return foldTo(op.Source())
	}
	return FoldResult{}
}

// padStaticZero replaces a padding with all-zero static amounts by a plain
// shape-widening cast of its source.
func padStaticZero(op *Op, rw *Rewriter) (bool, error) {
	pad := PadOp{op}
	if !pad.HasZeroLowPad() || !pad.HasZeroHighPad() || pad.Nofold() {
		return false, nil
	}
	replacement, err := op.fn.Cast(pad.Source(), pad.Result().Shape())
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// padSourceCast folds a static-information-adding cast on the source into
// the pad, tightening the result type when the extra static extents make
// more padded extents computable.
func padSourceCast(op *Op, rw *Rewriter) (bool, error) {
	pad := PadOp{op}
	cast := pad.Source().DefiningOpOfType(optypes.Cast)
	if cast == nil || !CanFoldIntoConsumerOp(cast) {
		return false, nil
	}
	source := CastOp{cast}.Source()
	declared := pad.Result().Shape()
	tight, err := InferPadResultShape(source.Shape(), pad.MixedLowPad(), pad.MixedHighPad(),
		declared.Dimensions)
	if err != nil {
		return false, err
	}
	if tight.Equal(declared) {
		// The result type is unchanged; operand rewiring is enough.
		op.Inputs[0] = source
		return true, nil
	}
	narrowed, err := op.fn.padWithBody(tight, source,
		pad.MixedLowPad(), pad.MixedHighPad(), pad.Nofold(), pad.Body())
	if err != nil {
		return false, err
	}
	widened, err := op.fn.Cast(narrowed, declared)
	if err != nil {
		return false, err
	}
	rw.Replace(op, widened)
	return true, nil
}

// padTargetCast folds a static-information-adding cast on the pad's single
// use back into the pad by declaring the cast's type directly.
func padTargetCast(op *Op, rw *Rewriter) (bool, error) {
	pad := PadOp{op}
	uses := op.fn.usesOf(pad.Result())
	if len(uses) != 1 || uses[0].Type != optypes.Cast {
		return false, nil
	}
	cast := CastOp{uses[0]}
	if !shapes.PreservesStaticInformation(pad.Result().Shape(), cast.Result().Shape()) {
		return false, nil
	}
	replacement, err := op.fn.padWithBody(cast.Result().Shape(), pad.Source(),
		pad.MixedLowPad(), pad.MixedHighPad(), pad.Nofold(), pad.Body())
	if err != nil {
		return false, err
	}
	rw.Replace(cast.Op, replacement)
	rw.Replace(op, replacement)
	return true, nil
}

// padOrthogonal fuses a slice-pad-slice-pad chain where the two pads touch
// disjoint dimensions into a single slice-pad pair. Preconditions: the
// slices are not rank-reducing and use unit strides, both pads pad only on
// the high side with the same constant fill value, and per dimension one of
// the two slice/pad pairs is a zero-offset zero-padding passthrough.
func padOrthogonal(op *Op, rw *Rewriter) (bool, error) {
	innerPad := PadOp{op}
	innerSliceDef := innerPad.Source().DefiningOpOfType(optypes.ExtractSlice)
	if innerSliceDef == nil {
		return false, nil
	}
	innerSlice := ExtractSliceOp{innerSliceDef}
	outerPadDef := innerSlice.Source().DefiningOpOfType(optypes.Pad)
	if outerPadDef == nil {
		return false, nil
	}
	outerPad := PadOp{outerPadDef}
	if outerPad.Nofold() {
		return false, nil
	}
	outerSliceDef := outerPad.Source().DefiningOpOfType(optypes.ExtractSlice)
	if outerSliceDef == nil {
		return false, nil
	}
	outerSlice := ExtractSliceOp{outerSliceDef}

	rank := innerPad.Source().Shape().Rank()
	if outerSlice.Source().Shape().Rank() != rank {
		return rw.notifyMatchFailure(op, "cannot fold a rank-reducing chain")
	}
	if !allConstant(innerSlice.MixedStrides(), 1) || !allConstant(outerSlice.MixedStrides(), 1) {
		return rw.notifyMatchFailure(op, "cannot fold slices with non-unit strides")
	}
	if !innerPad.HasZeroLowPad() || !outerPad.HasZeroLowPad() {
		return rw.notifyMatchFailure(op, "cannot fold pads with low padding")
	}

	innerValue := innerPad.ConstantPaddingValue()
	outerValue := outerPad.ConstantPaddingValue()
	if innerValue == nil || outerValue == nil || !samePaddingValue(innerValue, outerValue) {
		return rw.notifyMatchFailure(op, "cannot fold pads with different padding values")
	}

	innerDims := innerPad.PaddedDims()
	outerDims := outerPad.PaddedDims()
	for i := 0; i < rank; i++ {
		if innerDims[i] && outerDims[i] {
			return rw.notifyMatchFailure(op, "cannot fold pads with common padding dimensions")
		}
	}

	// Combine the offsets: per dimension take the offset of the pair that
	// pads it, requiring the other pair to be a zero-offset passthrough.
	innerOffsets := innerSlice.MixedOffsets()
	outerOffsets := outerSlice.MixedOffsets()
	newOffsets := make([]Mixed, rank)
	for i := 0; i < rank; i++ {
		innerZero, innerOk := innerOffsets[i].ConstantValue()
		outerZero, outerOk := outerOffsets[i].ConstantValue()
		switch {
		case !innerDims[i] && innerOk && innerZero == 0:
			newOffsets[i] = outerOffsets[i]
		case !outerDims[i] && outerOk && outerZero == 0:
			newOffsets[i] = innerOffsets[i]
		default:
			return rw.notifyMatchFailure(op, "cannot find a zero-offset and zero-padding pair")
		}
	}

	// Combine the sizes: for dimensions padded by the outer pad the inner
	// slice must cover the full padded extent, and the outer slice size
	// takes over.
	innerSizes := innerSlice.MixedSizes()
	newSizes := make([]Mixed, rank)
	copy(newSizes, innerSizes)
	innerSource := innerSlice.Source().Shape()
	for i := 0; i < rank; i++ {
		if !outerDims[i] {
			continue
		}
		sourceSize := innerSource.Dimensions[i]
		v, ok := innerSizes[i].ConstantValue()
		if sourceSize == shapes.DynamicSize || !ok || v != sourceSize {
			return rw.notifyMatchFailure(op,
				"inner slice size does not cover the outer padded extent")
		}
		newSizes[i] = outerSlice.MixedSizes()[i]
	}

	// Union of the high pads.
	innerHigh := innerPad.MixedHighPad()
	outerHigh := outerPad.MixedHighPad()
	newHigh := make([]Mixed, rank)
	for i := 0; i < rank; i++ {
		newHigh[i] = StaticIndex(0)
		if innerDims[i] {
			newHigh[i] = innerHigh[i]
		}
		if outerDims[i] {
			newHigh[i] = outerHigh[i]
		}
	}

	fused, err := op.fn.ExtractSlice(outerSlice.Source(), newOffsets, newSizes,
		innerSlice.MixedStrides())
	if err != nil {
		return false, err
	}
	replacement, err := op.fn.padWithBody(innerPad.Result().Shape(), fused,
		innerPad.MixedLowPad(), newHigh, innerPad.Nofold(), innerPad.Body())
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// samePaddingValue equates two constant fill values: the identical value,
// or equal literals.
func samePaddingValue(a, b *Value) bool {
	if a == b {
		return true
	}
	la, lb := LiteralOf(a), LiteralOf(b)
	return la != nil && la.Equal(lb)
}

func padCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "pad-static-zero", Root: optypes.Pad, Benefit: 1, Match: padStaticZero})
	sink.Add(Pattern{Name: "pad-source-cast", Root: optypes.Pad, Match: padSourceCast})
	sink.Add(Pattern{Name: "pad-target-cast", Root: optypes.Pad, Match: padTargetCast})
	sink.Add(Pattern{Name: "pad-orthogonal", Root: optypes.Pad, Match: padOrthogonal})
}
