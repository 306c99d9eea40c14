package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// DimOp queries the extent of one dimension of a tensor value at run time.
// The result is a scalar index.
type DimOp struct{ *Op }

// Dim builds a dimension query of source at the given index value.
func (fn *Func) Dim(source, index *Value) (*Value, error) {
	op := DimOp{fn.addOp(optypes.Dim, shapes.Make(IndexDType), source, index)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// DimIndex builds a dimension query at a compile-time index.
func (fn *Func) DimIndex(source *Value, index int64) (*Value, error) {
	return fn.Dim(source, fn.ConstantIndex(index))
}

// Source returns the tensor being queried.
func (op DimOp) Source() *Value { return op.Inputs[0] }

// Index returns the dimension index operand.
func (op DimOp) Index() *Value { return op.Inputs[1] }

// ConstantIndex resolves the index operand to a compile-time integer when
// possible.
func (op DimOp) ConstantIndex() (int64, bool) {
	return ConstantIntValue(op.Index())
}

func (op DimOp) verify() error {
	index := op.Index().Shape()
	if !index.IsScalar() || index.DType != IndexDType {
		return errors.Errorf("dim index must be a scalar index, got %s", index)
	}
	source := op.Source().Shape()
	if !source.Ok() {
		return errors.Errorf("dim source has an invalid type")
	}
	// Range is only checkable when both index and rank are static.
	if i, ok := op.ConstantIndex(); ok && source.IsRanked() {
		if i < 0 || i >= int64(source.Rank()) {
			return errors.Errorf("dim index %d out of range for %s", i, source)
		}
	}
	return nil
}

// IsSpeculatable reports whether the query can be hoisted ahead of a
// condition guarding it: true iff the index is a known constant within the
// statically known rank.
func (op DimOp) IsSpeculatable() bool {
	i, ok := op.ConstantIndex()
	if !ok {
		return false
	}
	source := op.Source().Shape()
	return source.IsRanked() && i >= 0 && i < int64(source.Rank())
}

func (op DimOp) fold() FoldResult {
	index, ok := op.ConstantIndex()
	if !ok {
		return FoldResult{}
	}
	source := op.Source().Shape()
	if !source.IsRanked() {
		return FoldResult{}
	}
	if index < 0 || index >= int64(source.Rank()) {
		// Malformed input the verifier should have rejected.
		return FoldResult{}
	}

	if dim := source.Dimensions[index]; dim != shapes.DynamicSize {
		literal, err := NewSplatLiteral(shapes.Make(IndexDType), dim)
		if err != nil {
			return FoldResult{}
		}
		return foldToLit(literal)
	}

	// The dimension is dynamic; look at the producer for the operand that
	// carries its run-time size.
	def := op.Source().DefiningOp()
	if def == nil {
		return FoldResult{}
	}
	switch def.Type {
	case optypes.Empty, optypes.Generate:
		// Operands are exactly the dynamic extents, in positional order.
		position := 0
		for i := int64(0); i < index; i++ {
			if source.IsDynamicDim(int(i)) {
				position++
			}
		}
		return foldTo(def.Inputs[position])
	case optypes.ExtractSlice:
		slice := ExtractSliceOp{def}
		if slice.Source().Shape().Rank() != source.Rank() {
			// Rank-reducing slices do not map result positions to size
			// entries one to one.
			return FoldResult{}
		}
		if size := slice.MixedSizes()[index]; !size.IsStatic() {
			return foldTo(size.Value())
		}
		return FoldResult{}
	}

	if FoldCastOperands(op.Op) {
		return foldTo(op.Result())
	}
	return FoldResult{}
}

// dimOfCast rewrites dim(cast(x), i) to dim(x, i). A cast never changes the
// run-time extents, so this is safe independent of the cast's foldability.
func dimOfCast(op *Op, rw *Rewriter) (bool, error) {
	dim := DimOp{op}
	cast := dim.Source().DefiningOpOfType(optypes.Cast)
	if cast == nil {
		return false, nil
	}
	replacement, err := op.fn.Dim(CastOp{cast}.Source(), dim.Index())
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// dimOfDestination rewrites a dim query of a destination-style result to
// query the tied destination operand, which is defined earlier and may
// unlock further folds.
func dimOfDestination(op *Op, rw *Rewriter) (bool, error) {
	dim := DimOp{op}
	def := dim.Source().DefiningOp()
	if def == nil {
		return false, nil
	}
	dest, ok := tiedDestination(def, dim.Source())
	if !ok {
		return false, nil
	}
	replacement, err := op.fn.Dim(dest, dim.Index())
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// dimOfReshape rewrites dim(reshape(x, shapeVector), i) to an element
// extraction from the shape vector at i.
func dimOfReshape(op *Op, rw *Rewriter) (bool, error) {
	dim := DimOp{op}
	reshape := dim.Source().DefiningOpOfType(optypes.Reshape)
	if reshape == nil {
		return false, nil
	}
	replacement, err := op.fn.Extract(ReshapeOp{reshape}.ShapeVector(), dim.Index())
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

func dimCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "dim-of-cast", Root: optypes.Dim, Match: dimOfCast})
	sink.Add(Pattern{Name: "dim-of-destination", Root: optypes.Dim, Match: dimOfDestination})
	sink.Add(Pattern{Name: "dim-of-reshape", Root: optypes.Dim, Match: dimOfReshape})
}

// RankOp queries the rank of a tensor value. Its only interest is on
// unranked sources; a ranked source folds immediately.
type RankOp struct{ *Op }

// Rank builds a rank query of source.
func (fn *Func) Rank(source *Value) (*Value, error) {
	if !source.Shape().Ok() {
		return nil, errors.Errorf("rank source has an invalid type")
	}
	op := RankOp{fn.addOp(optypes.Rank, shapes.Make(IndexDType), source)}
	return op.Result(), nil
}

// Source returns the tensor being queried.
func (op RankOp) Source() *Value { return op.Inputs[0] }

func (op RankOp) fold() FoldResult {
	source := op.Source().Shape()
	if !source.IsRanked() {
		return FoldResult{}
	}
	literal, err := NewSplatLiteral(shapes.Make(IndexDType), int64(source.Rank()))
	if err != nil {
		return FoldResult{}
	}
	return foldToLit(literal)
}
