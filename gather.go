package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/internal/utils"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// verifyGatherScatterDims checks a gather/scatter dimension list: non-empty,
// strictly increasing and within the source rank. Strict increase both
// rejects duplicates and enforces a canonical order.
func verifyGatherScatterDims(rank int, dims []int64, name string) error {
	if len(dims) == 0 {
		return errors.Errorf("%s must not be empty", name)
	}
	if len(dims) > rank {
		return errors.Errorf("%s overflow the source rank %d: %v", name, rank, dims)
	}
	for i, dim := range dims {
		if dim < 0 || dim >= int64(rank) {
			return errors.Errorf("%s value %d out of range [0, %d)", name, dim, rank)
		}
		if i > 0 && dims[i-1] >= dim {
			return errors.Errorf("%s must be strictly increasing, got %v", name, dims)
		}
	}
	return nil
}

// InferGatherResultShape computes the result of gathering: the leading
// dimensions of the index tensor (all but its trailing coordinate axis)
// followed by the source dimensions, with each gathered dimension either
// omitted (rank-reduced) or kept as extent 1. The source encoding carries
// over.
func InferGatherResultShape(source, indices shapes.Shape, dims []int64, rankReduced bool) (shapes.Shape, error) {
	if !source.IsRanked() || !indices.IsRanked() {
		return shapes.Invalid(), errors.Errorf("gather requires ranked operands, got %s and %s", source, indices)
	}
	if indices.Rank() < 1 {
		return shapes.Invalid(), errors.Errorf("gather indices must have at least rank 1, got %s", indices)
	}
	if err := verifyGatherScatterDims(source.Rank(), dims, "gather_dims"); err != nil {
		return shapes.Invalid(), err
	}
	gathered := utils.SetWith(dims...)
	resultDims := append([]int64(nil), indices.Dimensions[:indices.Rank()-1]...)
	for i, dim := range source.Dimensions {
		switch {
		case !gathered.Has(int64(i)):
			resultDims = append(resultDims, dim)
		case !rankReduced:
			resultDims = append(resultDims, 1)
		}
	}
	result := shapes.Make(source.DType, resultDims...)
	result.Encoding = source.Encoding
	return result, nil
}

// GatherOp reads a batch of (hyper-)slices out of a source tensor at the
// coordinates held by an index tensor, along an explicit list of gathered
// dimensions.
type GatherOp struct{ *Op }

// Gather builds a gather of source at indices along dims. With rankReduced
// the gathered dimensions are dropped from the result instead of kept as
// unit extents.
func (fn *Func) Gather(source, indices *Value, dims []int64, rankReduced bool) (*Value, error) {
	result, err := InferGatherResultShape(source.Shape(), indices.Shape(), dims, rankReduced)
	if err != nil {
		return nil, err
	}
	op := GatherOp{fn.addOp(optypes.Gather, result, source, indices)}
	op.setAttr(attrGatherDims, append([]int64(nil), dims...))
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the tensor being gathered from.
func (op GatherOp) Source() *Value { return op.Inputs[0] }

// Indices returns the index tensor.
func (op GatherOp) Indices() *Value { return op.Inputs[1] }

// GatherDims returns the gathered dimension list.
func (op GatherOp) GatherDims() []int64 { return op.intsAttr(attrGatherDims) }

func (op GatherOp) verify() error {
	return verifyGatherScatterShapes(op.Source().Shape(), op.Indices().Shape(),
		op.Result().Shape(), op.GatherDims(), "gather", "gather_dims")
}

// verifyGatherScatterShapes holds the shared shape checks of gather and
// scatter: index tensor validity, dimension list validity and the element
// type's consistency. sliced is the shape the gathered/scattered slice type
// is checked against.
func verifyGatherScatterShapes(sliced, indices, sliceType shapes.Shape, dims []int64, opName, dimsName string) error {
	if !indices.IsRanked() || indices.Rank() < 1 {
		return errors.Errorf("%s indices must be a ranked tensor of coordinates, got %s", opName, indices)
	}
	if indices.DType != IndexDType {
		return errors.Errorf("%s indices must hold index values, got %s", opName, indices)
	}
	trailing := indices.Dimensions[indices.Rank()-1]
	if trailing != shapes.DynamicSize && trailing != int64(len(dims)) {
		return errors.Errorf("%s indices trailing extent %d must equal the %d %s",
			opName, trailing, len(dims), dimsName)
	}
	if err := verifyGatherScatterDims(sliced.Rank(), dims, dimsName); err != nil {
		return err
	}
	if sliceType.DType != sliced.DType {
		return errors.Errorf("%s element type mismatch: %s versus %s", opName, sliceType, sliced)
	}
	full, err := InferGatherResultShape(sliced, indices, dims, false)
	if err != nil {
		return err
	}
	reduced, err := InferGatherResultShape(sliced, indices, dims, true)
	if err != nil {
		return err
	}
	if !sliceType.EqualIgnoringEncoding(full) && !sliceType.EqualIgnoringEncoding(reduced) {
		return errors.Errorf("%s slice type %s matches neither the inferred %s nor its rank-reduced form %s",
			opName, sliceType, full, reduced)
	}
	return nil
}

// ScatterOp writes a batch of (hyper-)slices into a destination tensor at
// the coordinates held by an index tensor. The unique flag is the caller's
// guarantee that no two coordinate tuples collide; it is required and never
// checked dynamically.
type ScatterOp struct{ *Op }

// Scatter builds a scatter of source into dest at indices along dims.
func (fn *Func) Scatter(source, dest, indices *Value, dims []int64, unique bool) (*Value, error) {
	op := ScatterOp{fn.addOp(optypes.Scatter, dest.Shape(), source, dest, indices)}
	op.setAttr(attrScatterDims, append([]int64(nil), dims...))
	if unique {
		op.setAttr(attrUnique, true)
	}
	if err := op.verify(); err != nil {
		fn.dropOp(op.Op)
		return nil, err
	}
	return op.Result(), nil
}

// Source returns the tensor holding the slices being written.
func (op ScatterOp) Source() *Value { return op.Inputs[0] }

// Dest returns the tensor being written into.
func (op ScatterOp) Dest() *Value { return op.Inputs[1] }

// Indices returns the index tensor.
func (op ScatterOp) Indices() *Value { return op.Inputs[2] }

// ScatterDims returns the scattered dimension list.
func (op ScatterOp) ScatterDims() []int64 { return op.intsAttr(attrScatterDims) }

// Unique reports the caller's no-collision guarantee.
func (op ScatterOp) Unique() bool { return op.boolAttr(attrUnique) }

func (op ScatterOp) verify() error {
	if !op.Unique() {
		return errors.Errorf("scatter requires the unique guarantee on its coordinates")
	}
	dest := op.Dest().Shape()
	if !dest.IsRanked() {
		return errors.Errorf("scatter requires a ranked destination, got %s", dest)
	}
	if !op.Result().Shape().Equal(dest) {
		return errors.Errorf("scatter result %s must equal the destination %s", op.Result().Shape(), dest)
	}
	return verifyGatherScatterShapes(dest, op.Indices().Shape(),
		op.Source().Shape(), op.ScatterDims(), "scatter", "scatter_dims")
}
