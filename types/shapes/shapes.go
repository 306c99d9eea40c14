// Package shapes defines the Shape of tensor values manipulated by tensorir,
// with support for mixed static/dynamic dimensions, and the joins and
// predicates over them that the canonicalization rules are built on.
//
// A shape is a dtype plus an ordered list of extents. An extent is either a
// non-negative integer (static) or DynamicSize (only known at run time).
// A shape may also be unranked: the dtype is known but not the dimensions.
package shapes

import (
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorir/internal/utils"
	"github.com/pkg/errors"
)

// DynamicSize is the sentinel extent for a dimension whose size is only
// known at run time.
const DynamicSize int64 = -1

// Shape of a tensor value.
//
// The zero value is an invalid shape (Ok returns false).
type Shape struct {
	DType      dtypes.DType
	Dimensions []int64

	// Unranked marks a shape with known dtype but unknown rank.
	// Dimensions must be empty if set.
	Unranked bool

	// Encoding is opaque metadata (e.g. a sparsity scheme) carried with the
	// type. It never affects shape inference, but rewrites are required to
	// carry it over when reconstructing types. See EqualIgnoringEncoding.
	Encoding string
}

// Make returns a ranked Shape with the given dimensions.
// Dimensions may include DynamicSize entries.
func Make(dtype dtypes.DType, dimensions ...int64) Shape {
	return Shape{DType: dtype, Dimensions: dimensions}
}

// MakeUnranked returns an unranked Shape of the given dtype.
func MakeUnranked(dtype dtypes.DType) Shape {
	return Shape{DType: dtype, Unranked: true}
}

// Invalid returns the invalid (zero) shape.
func Invalid() Shape { return Shape{} }

// WithEncoding returns a copy of the shape with the given encoding attached.
func (s Shape) WithEncoding(encoding string) Shape {
	s2 := s.Clone()
	s2.Encoding = encoding
	return s2
}

// Ok returns whether the shape is valid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// IsRanked returns whether the shape carries a known rank.
func (s Shape) IsRanked() bool { return s.Ok() && !s.Unranked }

// Rank of the shape. Unranked and invalid shapes report 0; check IsRanked
// before relying on it.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape is ranked with rank 0.
func (s Shape) IsScalar() bool { return s.IsRanked() && s.Rank() == 0 }

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	s2 := s
	s2.Dimensions = append([]int64(nil), s.Dimensions...)
	return s2
}

// IsDynamicDim returns whether dimension axis has a dynamic extent.
func (s Shape) IsDynamicDim(axis int) bool {
	return s.Dimensions[axis] == DynamicSize
}

// NumDynamicDims returns the number of dynamic dimensions.
func (s Shape) NumDynamicDims() int {
	count := 0
	for _, dim := range s.Dimensions {
		if dim == DynamicSize {
			count++
		}
	}
	return count
}

// IsFullyStatic returns whether the shape is ranked with no dynamic extent.
func (s Shape) IsFullyStatic() bool {
	return s.IsRanked() && s.NumDynamicDims() == 0
}

// NumElements returns the total element count of a fully static shape.
// It panics on dynamic or unranked shapes.
func (s Shape) NumElements() int64 {
	if !s.IsFullyStatic() {
		panic("shapes: NumElements on a non-static shape")
	}
	n := int64(1)
	for _, dim := range s.Dimensions {
		n *= dim
	}
	return n
}

// Equal returns whether both shapes are exactly the same, encoding included.
func (s Shape) Equal(other Shape) bool {
	return s.Encoding == other.Encoding && s.EqualIgnoringEncoding(other)
}

// EqualIgnoringEncoding compares dtype, rankedness and dimensions but not
// the encoding metadata.
func (s Shape) EqualIgnoringEncoding(other Shape) bool {
	if s.DType != other.DType || s.Unranked != other.Unranked || len(s.Dimensions) != len(other.Dimensions) {
		return false
	}
	for i, dim := range s.Dimensions {
		if dim != other.Dimensions[i] {
			return false
		}
	}
	return true
}

// Compatible returns whether two shapes could describe the same run-time
// tensor: same dtype and, if both are ranked, the same rank with pairwise
// compatible extents (equal, or at least one dynamic).
func Compatible(a, b Shape) bool {
	if a.DType != b.DType {
		return false
	}
	if !a.IsRanked() || !b.IsRanked() {
		return a.Ok() && b.Ok()
	}
	if a.Rank() != b.Rank() {
		return false
	}
	for i, dimA := range a.Dimensions {
		dimB := b.Dimensions[i]
		if dimA != DynamicSize && dimB != DynamicSize && dimA != dimB {
			return false
		}
	}
	return true
}

// Join computes the shape holding the combined static knowledge of two
// compatible shapes: per dimension the static extent wins over the dynamic
// marker. It returns ok=false when no tensor could satisfy both shapes
// (differing ranks or conflicting static extents), in which case a cast
// between them would fail at run time.
//
// The dtypes must match. The encoding is taken from whichever input has one;
// conflicting encodings make the join fail.
func Join(a, b Shape) (joined Shape, ok bool) {
	if a.DType != b.DType {
		return Shape{}, false
	}
	if !a.IsRanked() {
		return b, b.Ok()
	}
	if !b.IsRanked() {
		return a, true
	}
	if a.Rank() != b.Rank() {
		return Shape{}, false
	}
	if a.Encoding != "" && b.Encoding != "" && a.Encoding != b.Encoding {
		return Shape{}, false
	}
	joined = a.Clone()
	if joined.Encoding == "" {
		joined.Encoding = b.Encoding
	}
	for i, dimA := range a.Dimensions {
		dimB := b.Dimensions[i]
		switch {
		case dimA == DynamicSize:
			joined.Dimensions[i] = dimB
		case dimB == DynamicSize || dimA == dimB:
			joined.Dimensions[i] = dimA
		default:
			return Shape{}, false
		}
	}
	return joined, true
}

// PreservesStaticInformation returns true iff target is a ranked shape that
// keeps every piece of static information available in source: same dtype,
// same rank, and no dimension goes from static in source to dynamic in
// target. This is the gatekeeper for all cast folding decisions.
func PreservesStaticInformation(source, target Shape) bool {
	if !source.IsRanked() || !target.IsRanked() {
		return false
	}
	if source.DType != target.DType || source.Rank() != target.Rank() {
		return false
	}
	for i, src := range source.Dimensions {
		if src != DynamicSize && target.Dimensions[i] == DynamicSize {
			return false
		}
	}
	return true
}

// UnitDimsToDrop selects which rankDiff dimensions of extent 1 to drop when
// reducing the given dimensions by rankDiff ranks. Several unit dimensions
// can make the reduction ambiguous (1x6x1 reduces to either 1x6 or 6x1); the
// canonical choice is always the lowest-indexed eligible dimensions.
//
// It returns a mask with exactly rankDiff true entries, or an error if there
// are not enough unit dimensions.
func UnitDimsToDrop(rankDiff int, dimensions []int64) ([]bool, error) {
	mask := make([]bool, len(dimensions))
	remaining := rankDiff
	for i, dim := range dimensions {
		if remaining == 0 {
			break
		}
		if dim == 1 {
			mask[i] = true
			remaining--
		}
	}
	if remaining > 0 {
		return nil, errors.Errorf("cannot drop %d unit dimensions from %v: only %d dimensions have extent 1",
			rankDiff, dimensions, rankDiff-remaining)
	}
	return mask, nil
}

// DropUnitDims returns dimensions with the canonical rankDiff unit
// dimensions removed, per UnitDimsToDrop.
func DropUnitDims(rankDiff int, dimensions []int64) ([]int64, error) {
	mask, err := UnitDimsToDrop(rankDiff, dimensions)
	if err != nil {
		return nil, err
	}
	reduced := make([]int64, 0, len(dimensions)-rankDiff)
	for i, dim := range dimensions {
		if !mask[i] {
			reduced = append(reduced, dim)
		}
	}
	return reduced, nil
}

// DimText returns the textual form of one extent: its value, or "?" for
// DynamicSize.
func DimText(dim int64) string {
	if dim == DynamicSize {
		return "?"
	}
	return strconv.FormatInt(dim, 10)
}

// String implements fmt.Stringer, using the tensor<...> notation, e.g.
// tensor<4x?xf32> or tensor<*xf32> for unranked shapes.
func (s Shape) String() string {
	if !s.Ok() {
		return "tensor<invalid>"
	}
	var b strings.Builder
	b.WriteString("tensor<")
	if s.Unranked {
		b.WriteString("*x")
	} else {
		for _, dim := range s.Dimensions {
			b.WriteString(DimText(dim))
			b.WriteByte('x')
		}
	}
	b.WriteString(utils.DTypeText(s.DType))
	if s.Encoding != "" {
		b.WriteString(", ")
		b.WriteString(s.Encoding)
	}
	b.WriteString(">")
	return b.String()
}
