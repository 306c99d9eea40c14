package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// ReshapeOp reinterprets a tensor under a new shape given as a run-time 1-D
// shape vector. It carries no reassociation; the flat element order is
// preserved.
type ReshapeOp struct{ *Op }

// Reshape builds a flat reshape of source to the declared result shape,
// driven by the given 1-D index shape vector.
func (fn *Func) Reshape(source, shapeVector *Value, result shapes.Shape) (*Value, error) {
	op := ReshapeOp{fn.addOp(optypes.Reshape, result, source, shapeVector)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the tensor being reshaped.
func (op ReshapeOp) Source() *Value { return op.Inputs[0] }

// ShapeVector returns the 1-D index tensor holding the target extents.
func (op ReshapeOp) ShapeVector() *Value { return op.Inputs[1] }

func (op ReshapeOp) verify() error {
	source := op.Source().Shape()
	result := op.Result().Shape()
	if source.DType != result.DType {
		return errors.Errorf("reshape cannot change the element type: %s to %s", source, result)
	}
	vector := op.ShapeVector().Shape()
	if !vector.IsRanked() || vector.Rank() != 1 || vector.DType != IndexDType {
		return errors.Errorf("reshape shape operand must be a 1-D index tensor, got %s", vector)
	}
	if result.IsRanked() {
		length := vector.Dimensions[0]
		if length == shapes.DynamicSize {
			return errors.Errorf("reshape to the ranked type %s requires a static-length shape operand, got %s",
				result, vector)
		}
		if length != int64(result.Rank()) {
			return errors.Errorf("reshape shape operand has %d entries for the rank-%d result %s",
				length, result.Rank(), result)
		}
	}
	if source.IsFullyStatic() && result.IsFullyStatic() &&
		source.NumElements() != result.NumElements() {
		return errors.Errorf("reshape from %s to %s changes the element count", source, result)
	}
	return nil
}

func (op ReshapeOp) fold() FoldResult {
	source := op.Source()
	result := op.Result().Shape()

	if result.IsFullyStatic() && source.Shape().Equal(result) {
		return foldTo(source)
	}

	// A reshape of a reshape driven by the same shape vector reads the
	// innermost source directly.
	if def := source.DefiningOpOfType(optypes.Reshape); def != nil {
		inner := ReshapeOp{def}
		if inner.ShapeVector() == op.ShapeVector() {
			op.Inputs[0] = inner.Source()
			return foldTo(op.Result())
		}
	}

	if literal := LiteralOf(source); literal != nil && literal.IsSplat() &&
		result.IsFullyStatic() {
		return foldToLit(literal.ResizeSplat(result))
	}
	return FoldResult{}
}

// Reassociation returns a deep copy of the groups so callers can edit them.
func copyReassociation(reassociation [][]int) [][]int {
	out := make([][]int, len(reassociation))
	for i, group := range reassociation {
		out[i] = append([]int(nil), group...)
	}
	return out
}

// validateReassociation checks that the groups partition the dimensions of
// a rank-higherRank shape into contiguous, non-empty, increasing runs.
func validateReassociation(higherRank int, reassociation [][]int) error {
	next := 0
	for _, group := range reassociation {
		if len(group) == 0 {
			return errors.Errorf("reassociation group must not be empty")
		}
		for _, dim := range group {
			if dim != next {
				return errors.Errorf("reassociation %v does not cover the %d dimensions contiguously",
					reassociation, higherRank)
			}
			next++
		}
	}
	if next != higherRank {
		return errors.Errorf("reassociation %v covers %d of %d dimensions", reassociation, next, higherRank)
	}
	return nil
}

// InferCollapsedShape computes the lower-rank shape obtained by collapsing
// the groups of the given higher-rank shape: per group the product of the
// static extents, or dynamic if any member is dynamic. Encoding carries
// over.
func InferCollapsedShape(higher shapes.Shape, reassociation [][]int) (shapes.Shape, error) {
	if !higher.IsRanked() {
		return shapes.Invalid(), errors.Errorf("collapse requires a ranked shape, got %s", higher)
	}
	if err := validateReassociation(higher.Rank(), reassociation); err != nil {
		return shapes.Invalid(), err
	}
	dims := make([]int64, len(reassociation))
	for i, group := range reassociation {
		size := int64(1)
		for _, dim := range group {
			extent := higher.Dimensions[dim]
			if extent == shapes.DynamicSize {
				size = shapes.DynamicSize
				break
			}
			size *= extent
		}
		dims[i] = size
	}
	collapsed := shapes.Make(higher.DType, dims...)
	collapsed.Encoding = higher.Encoding
	return collapsed, nil
}

// ExpandShapeOp is the reassociative reshape towards a higher rank: each
// source dimension expands into a contiguous group of result dimensions.
type ExpandShapeOp struct{ *Op }

// ExpandShape builds an expansion of source to the declared higher-rank
// result, grouped by the reassociation.
func (fn *Func) ExpandShape(source *Value, result shapes.Shape, reassociation [][]int) (*Value, error) {
	op := ExpandShapeOp{fn.addOp(optypes.ExpandShape, result, source)}
	op.setAttr(attrReassociation, copyReassociation(reassociation))
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the tensor being expanded.
func (op ExpandShapeOp) Source() *Value { return op.Inputs[0] }

// Reassociation returns the dimension groups, one group of result
// dimensions per source dimension.
func (op ExpandShapeOp) Reassociation() [][]int {
	return op.Attributes[attrReassociation].([][]int)
}

func (op ExpandShapeOp) verify() error {
	source := op.Source().Shape()
	result := op.Result().Shape()
	if source.DType != result.DType {
		return errors.Errorf("expand_shape cannot change the element type: %s to %s", source, result)
	}
	collapsed, err := InferCollapsedShape(result, op.Reassociation())
	if err != nil {
		return err
	}
	if !collapsed.EqualIgnoringEncoding(source) {
		return errors.Errorf("expand_shape to %s collapses back to %s, not to the source %s",
			result, collapsed, source)
	}
	return nil
}

func (op ExpandShapeOp) fold() FoldResult {
	return reassociativeReshapeFold(op.Op, optypes.CollapseShape)
}

// CollapseShapeOp is the reassociative reshape towards a lower rank: each
// contiguous group of source dimensions collapses into one result
// dimension.
type CollapseShapeOp struct{ *Op }

// CollapseShape builds a collapse of source grouped by the reassociation;
// the result shape is inferred.
func (fn *Func) CollapseShape(source *Value, reassociation [][]int) (*Value, error) {
	result, err := InferCollapsedShape(source.Shape(), reassociation)
	if err != nil {
		return nil, err
	}
	return fn.CollapseShapeAs(result, source, reassociation)
}

// CollapseShapeAs builds a collapse with an explicitly declared result
// shape, verified against the inferred one.
func (fn *Func) CollapseShapeAs(result shapes.Shape, source *Value, reassociation [][]int) (*Value, error) {
	op := CollapseShapeOp{fn.addOp(optypes.CollapseShape, result, source)}
	op.setAttr(attrReassociation, copyReassociation(reassociation))
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the tensor being collapsed.
func (op CollapseShapeOp) Source() *Value { return op.Inputs[0] }

// Reassociation returns the dimension groups, one group of source
// dimensions per result dimension.
func (op CollapseShapeOp) Reassociation() [][]int {
	return op.Attributes[attrReassociation].([][]int)
}

func (op CollapseShapeOp) verify() error {
	source := op.Source().Shape()
	result := op.Result().Shape()
	if source.DType != result.DType {
		return errors.Errorf("collapse_shape cannot change the element type: %s to %s", source, result)
	}
	collapsed, err := InferCollapsedShape(source, op.Reassociation())
	if err != nil {
		return err
	}
	if !collapsed.EqualIgnoringEncoding(result) {
		return errors.Errorf("collapse_shape of %s infers %s, declared %s", source, collapsed, result)
	}
	return nil
}

func (op CollapseShapeOp) fold() FoldResult {
	return reassociativeReshapeFold(op.Op, optypes.ExpandShape)
}

// reassociativeReshapeFold holds the folds shared by expand and collapse:
// the identity reassociation is a no-op when the types agree, a round trip
// through the inverse reshape with the same groups cancels, and a splat
// constant reshapes by just re-labeling its shape.
func reassociativeReshapeFold(op *Op, inverse optypes.OpType) FoldResult {
	source := op.Inputs[0]
	result := op.Result()

	if source.Shape().Equal(result.Shape()) && identityReassociation(reassociationOf(op)) {
		return foldTo(source)
	}

	if def := source.DefiningOpOfType(inverse); def != nil {
		if reassociationEqual(reassociationOf(op), reassociationOf(def)) &&
			def.Inputs[0].Shape().Equal(result.Shape()) {
			return foldTo(def.Inputs[0])
		}
	}

	if literal := LiteralOf(source); literal != nil && literal.IsSplat() &&
		result.Shape().IsFullyStatic() {
		return foldToLit(literal.ResizeSplat(result.Shape()))
	}
	return FoldResult{}
}

func reassociationOf(op *Op) [][]int {
	return op.Attributes[attrReassociation].([][]int)
}

func identityReassociation(reassociation [][]int) bool {
	for _, group := range reassociation {
		if len(group) != 1 {
			return false
		}
	}
	return true
}

func reassociationEqual(a, b [][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

// composeReassociation flattens two stacked reassociations of the same
// direction into one: per outer group, the concatenation of the inner
// groups it spans. Contiguity of the inner groups keeps the result valid.
func composeReassociation(inner, outer [][]int) [][]int {
	composed := make([][]int, len(outer))
	for i, group := range outer {
		for _, j := range group {
			composed[i] = append(composed[i], inner[j]...)
		}
	}
	return composed
}

// composeCollapse merges collapse(collapse(x)) into one collapse with the
// composed groups.
func composeCollapse(op *Op, rw *Rewriter) (bool, error) {
	outer := CollapseShapeOp{op}
	producer := outer.Source().DefiningOpOfType(optypes.CollapseShape)
	if producer == nil {
		return false, nil
	}
	inner := CollapseShapeOp{producer}
	replacement, err := op.fn.CollapseShapeAs(outer.Result().Shape(), inner.Source(),
		composeReassociation(inner.Reassociation(), outer.Reassociation()))
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// composeExpand merges expand(expand(x)) into one expansion.
func composeExpand(op *Op, rw *Rewriter) (bool, error) {
	outer := ExpandShapeOp{op}
	producer := outer.Source().DefiningOpOfType(optypes.ExpandShape)
	if producer == nil {
		return false, nil
	}
	inner := ExpandShapeOp{producer}
	replacement, err := op.fn.ExpandShape(inner.Source(), outer.Result().Shape(),
		composeReassociation(outer.Reassociation(), inner.Reassociation()))
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// reshapeOfFromElements re-labels an element-list construction under the
// reshaped type, preserving the flat element order.
func reshapeOfFromElements(op *Op, rw *Rewriter) (bool, error) {
	source := op.Inputs[0]
	def := source.DefiningOpOfType(optypes.FromElements)
	if def == nil || !op.Result().Shape().IsFullyStatic() {
		return false, nil
	}
	replacement, err := op.fn.FromElements(op.Result().Shape(), FromElementsOp{def}.Elements()...)
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

// collapseOfCast folds a static-information-losing cast into the collapse
// that consumes it. When the cast's source collapses to a strictly tighter
// type, the collapse is rebuilt on that type and re-widened with a smaller
// cast.
func collapseOfCast(op *Op, rw *Rewriter) (bool, error) {
	collapse := CollapseShapeOp{op}
	cast := collapse.Source().DefiningOpOfType(optypes.Cast)
	if cast == nil || !CanFoldIntoConsumerOp(cast) {
		return false, nil
	}
	source := CastOp{cast}.Source()
	tight, err := InferCollapsedShape(source.Shape(), collapse.Reassociation())
	if err != nil {
		return false, err
	}
	if tight.Equal(collapse.Result().Shape()) {
		// The type is unchanged; operand rewiring is enough.
		op.Inputs[0] = source
		return true, nil
	}
	narrowed, err := op.fn.CollapseShapeAs(tight, source, collapse.Reassociation())
	if err != nil {
		return false, err
	}
	widened, err := op.fn.Cast(narrowed, collapse.Result().Shape())
	if err != nil {
		return false, err
	}
	rw.Replace(op, widened)
	return true, nil
}

func expandShapeCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "compose-expand", Root: optypes.ExpandShape, Match: composeExpand})
	sink.Add(Pattern{Name: "expand-of-from-elements", Root: optypes.ExpandShape, Match: reshapeOfFromElements})
}

func collapseShapeCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "compose-collapse", Root: optypes.CollapseShape, Match: composeCollapse})
	sink.Add(Pattern{Name: "collapse-of-from-elements", Root: optypes.CollapseShape, Match: reshapeOfFromElements})
	sink.Add(Pattern{Name: "collapse-of-cast", Root: optypes.CollapseShape, Match: collapseOfCast})
}
