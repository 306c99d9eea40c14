package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// ExtractOp reads one element of a tensor at a tuple of index operands.
type ExtractOp struct{ *Op }

// Extract builds an element read of source at the given indices, one per
// dimension of source.
func (fn *Func) Extract(source *Value, indices ...*Value) (*Value, error) {
	inputs := append([]*Value{source}, indices...)
	result := shapes.Make(source.Shape().DType)
	op := ExtractOp{fn.addOp(optypes.Extract, result, inputs...)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the tensor being read.
func (op ExtractOp) Source() *Value { return op.Inputs[0] }

// Indices returns the index operands.
func (op ExtractOp) Indices() []*Value { return op.Inputs[1:] }

func (op ExtractOp) verify() error {
	source := op.Source().Shape()
	if !source.IsRanked() {
		return errors.Errorf("extract requires a ranked source, got %s", source)
	}
	if got, want := len(op.Indices()), source.Rank(); got != want {
		return errors.Errorf("extract from %s requires %d indices, got %d", source, want, got)
	}
	for _, index := range op.Indices() {
		if s := index.Shape(); !s.IsScalar() || s.DType != IndexDType {
			return errors.Errorf("extract index must be a scalar index, got %s", s)
		}
	}
	return nil
}

// constantIndices resolves every index operand to a compile-time integer.
func (op ExtractOp) constantIndices() ([]int64, bool) {
	indices := make([]int64, len(op.Indices()))
	for i, index := range op.Indices() {
		v, ok := ConstantIntValue(index)
		if !ok {
			return nil, false
		}
		indices[i] = v
	}
	return indices, true
}

func (op ExtractOp) fold() FoldResult {
	// A splat source yields its uniform scalar regardless of the indices.
	if splat := op.Source().DefiningOpOfType(optypes.Splat); splat != nil {
		return foldTo(SplatOp{splat}.Scalar())
	}
	if literal := LiteralOf(op.Source()); literal != nil && literal.IsSplat() {
		scalar, err := NewSplatLiteral(op.Result().Shape(), literal.SplatValue())
		if err == nil {
			return foldToLit(scalar)
		}
	}

	indices, allConstant := op.constantIndices()
	if allConstant {
		// Element list construction: compute the flat row-major offset.
		// Out-of-bounds indices mean malformed input; no fold, no panic.
		if def := op.Source().DefiningOpOfType(optypes.FromElements); def != nil {
			from := FromElementsOp{def}
			shape := from.Result().Shape()
			flat := int64(0)
			inBounds := true
			for i, index := range indices {
				dim := shape.Dimensions[i]
				if index < 0 || index >= dim {
					inBounds = false
					break
				}
				flat = flat*dim + index
			}
			if inBounds {
				return foldTo(from.Elements()[flat])
			}
		}
		if literal := LiteralOf(op.Source()); literal != nil {
			if value, ok := literal.Value(indices...); ok {
				scalar, err := NewSplatLiteral(op.Result().Shape(), value)
				if err == nil {
					return foldToLit(scalar)
				}
			}
		}
	}

	if FoldCastOperands(op.Op) {
		return foldTo(op.Result())
	}
	return FoldResult{}
}

// extractOfCast rewrites extract(cast(x)) to extract(x): the cast is shape
// only and value preserving.
func extractOfCast(op *Op, rw *Rewriter) (bool, error) {
	extract := ExtractOp{op}
	cast := extract.Source().DefiningOpOfType(optypes.Cast)
	if cast == nil || !CanFoldIntoConsumerOp(cast) {
		return false, nil
	}
	replacement, err := op.fn.Extract(CastOp{cast}.Source(), extract.Indices()...)
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

func extractCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "extract-of-cast", Root: optypes.Extract, Match: extractOfCast})
}

// FromElementsOp constructs a fully static tensor from individually given
// scalar elements, in flat row-major order.
type FromElementsOp struct{ *Op }

// FromElements builds an element-list construction of the given shape.
func (fn *Func) FromElements(shape shapes.Shape, elements ...*Value) (*Value, error) {
	op := FromElementsOp{fn.addOp(optypes.FromElements, shape, elements...)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Elements returns the scalar element operands in flat row-major order.
func (op FromElementsOp) Elements() []*Value { return op.Inputs }

func (op FromElementsOp) verify() error {
	shape := op.Result().Shape()
	if !shape.IsFullyStatic() {
		return errors.Errorf("from_elements requires a fully static result, got %s", shape)
	}
	if got, want := int64(len(op.Inputs)), shape.NumElements(); got != want {
		return errors.Errorf("from_elements of %s requires %d elements, got %d", shape, want, got)
	}
	for _, element := range op.Inputs {
		if s := element.Shape(); !s.IsScalar() || s.DType != shape.DType {
			return errors.Errorf("from_elements of %s got element of type %s", shape, s)
		}
	}
	return nil
}

func (op FromElementsOp) fold() FoldResult {
	values := make([]any, len(op.Inputs))
	for i, element := range op.Inputs {
		literal := LiteralOf(element)
		if literal == nil || !literal.Shape().IsScalar() {
			return FoldResult{}
		}
		values[i] = literal.SplatValue()
	}
	literal, err := NewLiteral(op.Result().Shape(), values)
	if err != nil {
		return FoldResult{}
	}
	return foldToLit(literal)
}

// extractOfConvert commutes an element extraction with an element-type
// conversion of its source: extract first, convert the scalar afterwards.
// The scalar conversion folds more readily than the tensor-wide one.
func extractOfConvert(op *Op, rw *Rewriter) (bool, error) {
	extract := ExtractOp{op}
	convert := extract.Source().DefiningOpOfType(optypes.Convert)
	if convert == nil {
		return false, nil
	}
	scalar, err := op.fn.Extract(ConvertOp{convert}.Source(), extract.Indices()...)
	if err != nil {
		return false, err
	}
	replacement, err := op.fn.Convert(scalar, extract.Result().Shape().DType)
	if err != nil {
		return false, err
	}
	rw.Replace(op, replacement)
	return true, nil
}

func fromElementsCanonicalizationPatterns(sink PatternSink) {
	sink.Add(Pattern{Name: "extract-of-convert", Root: optypes.Extract, Match: extractOfConvert})
}

// InsertOp writes one scalar into a tensor at a tuple of index operands,
// producing a new tensor of the destination's shape.
type InsertOp struct{ *Op }

// Insert builds an element write of scalar into dest at the given indices.
func (fn *Func) Insert(scalar, dest *Value, indices ...*Value) (*Value, error) {
	inputs := append([]*Value{scalar, dest}, indices...)
	op := InsertOp{fn.addOp(optypes.Insert, dest.Shape(), inputs...)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Scalar returns the value being written.
func (op InsertOp) Scalar() *Value { return op.Inputs[0] }

// Dest returns the tensor being written into.
func (op InsertOp) Dest() *Value { return op.Inputs[1] }

// Indices returns the index operands.
func (op InsertOp) Indices() []*Value { return op.Inputs[2:] }

func (op InsertOp) verify() error {
	dest := op.Dest().Shape()
	if !dest.IsRanked() {
		return errors.Errorf("insert requires a ranked destination, got %s", dest)
	}
	if got, want := len(op.Indices()), dest.Rank(); got != want {
		return errors.Errorf("insert into %s requires %d indices, got %d", dest, want, got)
	}
	if s := op.Scalar().Shape(); !s.IsScalar() || s.DType != dest.DType {
		return errors.Errorf("insert into %s requires a scalar %s, got %s", dest, dest.DType, s)
	}
	for _, index := range op.Indices() {
		if s := index.Shape(); !s.IsScalar() || s.DType != IndexDType {
			return errors.Errorf("insert index must be a scalar index, got %s", s)
		}
	}
	return nil
}

func (op InsertOp) fold() FoldResult {
	// Writing the uniform value of a splat destination changes nothing.
	scalar := LiteralOf(op.Scalar())
	dest := LiteralOf(op.Dest())
	if scalar != nil && dest != nil && dest.IsSplat() && scalar.Shape().IsScalar() &&
		scalar.SplatValue() == dest.SplatValue() {
		return foldTo(op.Dest())
	}
	return FoldResult{}
}

// SplatOp broadcasts one scalar to every element of a tensor.
type SplatOp struct{ *Op }

// Splat builds a uniform tensor of the given shape from scalar, with one
// size operand per dynamic dimension.
func (fn *Func) Splat(scalar *Value, shape shapes.Shape, dynamicSizes ...*Value) (*Value, error) {
	inputs := append([]*Value{scalar}, dynamicSizes...)
	op := SplatOp{fn.addOp(optypes.Splat, shape, inputs...)}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Scalar returns the value being broadcast.
func (op SplatOp) Scalar() *Value { return op.Inputs[0] }

// DynamicSizes returns the run-time extents, one per dynamic dimension.
func (op SplatOp) DynamicSizes() []*Value { return op.Inputs[1:] }

func (op SplatOp) verify() error {
	shape := op.Result().Shape()
	if !shape.IsRanked() {
		return errors.Errorf("splat requires a ranked result, got %s", shape)
	}
	if s := op.Scalar().Shape(); !s.IsScalar() || s.DType != shape.DType {
		return errors.Errorf("splat to %s requires a scalar %s, got %s", shape, shape.DType, s)
	}
	if got, want := len(op.DynamicSizes()), shape.NumDynamicDims(); got != want {
		return errors.Errorf("splat to %s requires %d dynamic size operands, got %d",
			shape, want, got)
	}
	return nil
}

func (op SplatOp) fold() FoldResult {
	shape := op.Result().Shape()
	if !shape.IsFullyStatic() {
		return FoldResult{}
	}
	scalar := LiteralOf(op.Scalar())
	if scalar == nil || !scalar.Shape().IsScalar() {
		return FoldResult{}
	}
	literal, err := NewSplatLiteral(shape, scalar.SplatValue())
	if err != nil {
		return FoldResult{}
	}
	return foldToLit(literal)
}
