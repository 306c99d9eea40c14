package tensorir

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Literal is a materialized tensor constant: a statically shaped collection
// of element values, stored either as a single uniform (splat) element or as
// a flat row-major slice.
//
// Element values are held as comparable Go scalars as produced by
// ElementValue: int64 for the integer dtypes, float64/float32 for floats,
// float16.Float16 for F16, bool for Bool.
type Literal struct {
	shape shapes.Shape
	splat bool
	// elements has length 1 for splats, NumElements otherwise.
	elements []any
}

// NewSplatLiteral returns a literal where every element is the given value.
func NewSplatLiteral(shape shapes.Shape, value any) (*Literal, error) {
	if !shape.IsFullyStatic() {
		return nil, errors.Errorf("splat literal requires a fully static shape, got %s", shape)
	}
	element, err := ElementValue(shape.DType, value)
	if err != nil {
		return nil, err
	}
	return &Literal{shape: shape, splat: true, elements: []any{element}}, nil
}

// NewLiteral returns a literal with the given flat row-major elements.
func NewLiteral(shape shapes.Shape, values []any) (*Literal, error) {
	if !shape.IsFullyStatic() {
		return nil, errors.Errorf("literal requires a fully static shape, got %s", shape)
	}
	if int64(len(values)) != shape.NumElements() {
		return nil, errors.Errorf("literal for %s requires %d elements, got %d",
			shape, shape.NumElements(), len(values))
	}
	elements := make([]any, len(values))
	for i, v := range values {
		element, err := ElementValue(shape.DType, v)
		if err != nil {
			return nil, err
		}
		elements[i] = element
	}
	return &Literal{shape: shape, elements: elements}, nil
}

// ElementValue normalizes a Go scalar to the canonical comparable
// representation for the given dtype.
func ElementValue(dtype dtypes.DType, value any) (any, error) {
	switch dtype {
	case dtypes.Float64:
		if v, ok := toFloat(value); ok {
			return v, nil
		}
	case dtypes.Float32:
		if v, ok := toFloat(value); ok {
			return float32(v), nil
		}
	case dtypes.Float16, dtypes.BFloat16:
		if v, ok := toFloat(value); ok {
			return float16.Fromfloat32(float32(v)), nil
		}
	case dtypes.Int64, dtypes.Int32, dtypes.Int16, dtypes.Int8,
		dtypes.Uint64, dtypes.Uint32, dtypes.Uint16, dtypes.Uint8:
		if v, ok := toInt(value); ok {
			return v, nil
		}
	case dtypes.Bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	}
	return nil, errors.Errorf("cannot represent %T(%v) as a %s element", value, value, dtype)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case float16.Float16:
		return float64(v.Float32()), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

// Shape of the literal.
func (l *Literal) Shape() shapes.Shape { return l.shape }

// IsSplat reports whether every element of the literal is the same value.
// Dense literals whose elements happen to coincide are not detected.
func (l *Literal) IsSplat() bool { return l.splat }

// SplatValue returns the uniform element of a splat literal.
func (l *Literal) SplatValue() any {
	if !l.splat {
		panic("SplatValue on a non-splat literal")
	}
	return l.elements[0]
}

// FlatValues returns the elements in flat row-major order.
func (l *Literal) FlatValues() []any {
	if l.splat {
		n := l.shape.NumElements()
		values := make([]any, n)
		for i := range values {
			values[i] = l.elements[0]
		}
		return values
	}
	return l.elements
}

// FlatValue returns the element at the given flat row-major offset, or
// ok=false if out of range.
func (l *Literal) FlatValue(index int64) (value any, ok bool) {
	if index < 0 || index >= l.shape.NumElements() {
		return nil, false
	}
	if l.splat {
		return l.elements[0], true
	}
	return l.elements[index], true
}

// Value returns the element at the given per-dimension indices, or ok=false
// if any index is out of range.
func (l *Literal) Value(indices ...int64) (value any, ok bool) {
	if len(indices) != l.shape.Rank() {
		return nil, false
	}
	flat := int64(0)
	for i, index := range indices {
		dim := l.shape.Dimensions[i]
		if index < 0 || index >= dim {
			return nil, false
		}
		flat = flat*dim + index
	}
	return l.FlatValue(flat)
}

// ResizeSplat returns a splat literal with the same uniform value and a new
// fully static shape.
func (l *Literal) ResizeSplat(shape shapes.Shape) *Literal {
	if !l.splat {
		panic("ResizeSplat on a non-splat literal")
	}
	if !shape.IsFullyStatic() || shape.DType != l.shape.DType {
		panic("ResizeSplat requires a fully static shape of the same dtype")
	}
	return &Literal{shape: shape, splat: true, elements: l.elements}
}

// Reshape returns the same elements under a new fully static shape with the
// same element count.
func (l *Literal) Reshape(shape shapes.Shape) (*Literal, error) {
	if !shape.IsFullyStatic() || shape.DType != l.shape.DType {
		return nil, errors.Errorf("literal reshape requires a fully static shape of dtype %s, got %s",
			l.shape.DType, shape)
	}
	if shape.NumElements() != l.shape.NumElements() {
		return nil, errors.Errorf("literal reshape from %s to %s changes the element count",
			l.shape, shape)
	}
	return &Literal{shape: shape, splat: l.splat, elements: l.elements}, nil
}

// Equal compares two literals element-wise.
func (l *Literal) Equal(other *Literal) bool {
	if l == nil || other == nil {
		return l == other
	}
	if !l.shape.Equal(other.shape) {
		return false
	}
	if l.splat && other.splat {
		return l.elements[0] == other.elements[0]
	}
	a, b := l.FlatValues(), other.FlatValues()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Constant materializes a literal as a value of the graph.
func (fn *Func) Constant(literal *Literal) *Value {
	op := fn.addOp(optypes.Constant, literal.Shape())
	op.setAttr(attrLiteral, literal)
	return op.Result()
}

// ConstantIndex materializes a compile-time index value.
func (fn *Func) ConstantIndex(value int64) *Value {
	literal, err := NewSplatLiteral(shapes.Make(IndexDType), value)
	if err != nil {
		panic(err) // Scalar index literals cannot fail.
	}
	return fn.Constant(literal)
}

// LiteralOf is the constant-folding oracle: it returns the literal behind a
// value if the value is produced by a Constant operation.
func LiteralOf(v *Value) *Literal {
	op := v.DefiningOpOfType(optypes.Constant)
	if op == nil {
		return nil
	}
	return op.Attributes[attrLiteral].(*Literal)
}

// ConstantIntValue returns the compile-time integer behind a scalar value,
// if there is one.
func ConstantIntValue(v *Value) (int64, bool) {
	literal := LiteralOf(v)
	if literal == nil || !literal.Shape().IsScalar() {
		return 0, false
	}
	i, ok := toInt(literal.SplatValue())
	return i, ok
}
