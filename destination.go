package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// tiedDestination returns the destination operand tied to the given result
// of a destination-style operation: the operation computes into it, so it
// already has the result's shape.
func tiedDestination(op *Op, result *Value) (*Value, bool) {
	switch op.Type {
	case optypes.Insert:
		return InsertOp{op}.Dest(), true
	case optypes.InsertSlice:
		return InsertSliceOp{op}.Dest(), true
	case optypes.Scatter:
		return ScatterOp{op}.Dest(), true
	case optypes.InParallel:
		writes := InParallelOp{op}.Writes()
		for i, output := range op.Outputs {
			if output == result {
				return writes[i].Dest(), true
			}
		}
	}
	return nil, false
}

// GetOrCreateDestination returns a tensor the given operation result can be
// computed into: the tied destination operand when the producing operation
// has one, otherwise a fresh Empty allocation of the result's shape. For a
// dynamic shape the producer must support shape reification; otherwise the
// sizes of the allocation cannot be determined and an error is returned.
func GetOrCreateDestination(fn *Func, value *Value) (*Value, error) {
	def := value.DefiningOp()
	if def != nil {
		if dest, ok := tiedDestination(def, value); ok {
			return dest, nil
		}
	}
	shape := value.Shape()
	if shape.IsFullyStatic() {
		return fn.EmptyOf(shape)
	}
	if def == nil {
		return nil, errors.Errorf("cannot allocate a destination for the dynamically shaped argument %s", value)
	}
	reified, err := def.ReifyResultShapes()
	if err != nil {
		return nil, errors.WithMessagef(err, "allocating a destination of %s", shape)
	}
	sizes := reified[value.defIndex]
	dynamics := make([]*Value, 0, shape.NumDynamicDims())
	for i, dim := range shape.Dimensions {
		if dim != shapes.DynamicSize {
			continue
		}
		if v := sizes[i].Value(); v != nil {
			dynamics = append(dynamics, v)
		} else {
			// The reified size is tighter than the declared extent.
			static, _ := sizes[i].Static()
			dynamics = append(dynamics, fn.ConstantIndex(static))
		}
	}
	return fn.EmptyOf(shape, dynamics...)
}

// GetOrCreateDestinations applies GetOrCreateDestination to every result of
// the operation, short-circuiting on the first failure.
func GetOrCreateDestinations(fn *Func, op *Op) ([]*Value, error) {
	destinations := make([]*Value, 0, len(op.Outputs))
	for _, result := range op.Outputs {
		dest, err := GetOrCreateDestination(fn, result)
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, dest)
	}
	return destinations, nil
}

// repeatedIndex returns an all-static mixed list of n copies of v.
func repeatedIndex(n int, v int64) []Mixed {
	list := make([]Mixed, n)
	for i := range list {
		list[i] = StaticIndex(v)
	}
	return list
}

// CreateCanonicalRankReducingExtractSlice builds the canonical full-extent
// slice of source down to the given (rank-reduced) target shape: offsets 0,
// unit strides, sizes taken from the source itself.
func CreateCanonicalRankReducingExtractSlice(fn *Func, source *Value, target shapes.Shape) (*Value, error) {
	sizes, err := MixedSizes(fn, source)
	if err != nil {
		return nil, err
	}
	rank := source.Shape().Rank()
	return fn.ExtractSliceAs(target, source,
		repeatedIndex(rank, 0), sizes, repeatedIndex(rank, 1))
}

// CreateCanonicalRankReducingInsertSlice builds the canonical full-extent
// insert of a (possibly rank-reduced) source into dest: offsets 0, unit
// strides, sizes taken from the destination.
func CreateCanonicalRankReducingInsertSlice(fn *Func, source, dest *Value) (*Value, error) {
	sizes, err := MixedSizes(fn, dest)
	if err != nil {
		return nil, err
	}
	rank := dest.Shape().Rank()
	return fn.InsertSlice(source, dest,
		repeatedIndex(rank, 0), sizes, repeatedIndex(rank, 1))
}
