package tensorir

import (
	"github.com/gomlx/tensorir/internal/optypes"
)

// ControlConstantExtractSliceFusionFn decides whether slicing a constant is
// worth materializing a new literal. Folding can duplicate constant data
// when the source constant stays live; callers impose their heuristics
// here.
type ControlConstantExtractSliceFusionFn func(op ExtractSliceOp) bool

// DefaultConstantExtractSliceControl folds only when the sliced literal is
// no larger than the source, so the fold never grows the constant data.
func DefaultConstantExtractSliceControl(op ExtractSliceOp) bool {
	source := op.Source().Shape()
	result := op.Result().Shape()
	if !source.IsFullyStatic() || !result.IsFullyStatic() {
		return false
	}
	return result.NumElements() <= source.NumElements()
}

// RegisterConstantExtractSliceFolder registers the constant slice folder
// with the given control function. It is not part of the default
// canonicalization set; drivers opt in.
func RegisterConstantExtractSliceFolder(sink PatternSink, control ControlConstantExtractSliceFusionFn) {
	if control == nil {
		control = DefaultConstantExtractSliceControl
	}
	sink.Add(Pattern{
		Name: "constant-extract-slice",
		Root: optypes.ExtractSlice,
		Match: func(op *Op, rw *Rewriter) (bool, error) {
			return foldConstantExtractSlice(op, rw, control)
		},
	})
}

// foldConstantExtractSlice specializes an extract_slice over a dense
// constant by physically re-indexing its element values.
func foldConstantExtractSlice(op *Op, rw *Rewriter, control ControlConstantExtractSliceFusionFn) (bool, error) {
	slice := ExtractSliceOp{op}
	literal := LiteralOf(slice.Source())
	if literal == nil {
		return false, nil
	}
	// A constant splat is handled by fold().
	if literal.IsSplat() {
		return false, nil
	}
	source := slice.Source().Shape()
	result := slice.Result().Shape()
	if !source.IsFullyStatic() || !result.IsFullyStatic() || source.NumElements() == 0 {
		return false, nil
	}
	if !control(slice) {
		return false, nil
	}

	offsets, ok := staticValues(slice.MixedOffsets())
	if !ok {
		return false, nil
	}
	sizes, ok := staticValues(slice.MixedSizes())
	if !ok {
		return false, nil
	}
	strides, ok := staticValues(slice.MixedStrides())
	if !ok {
		return false, nil
	}

	// Flat element count covered by each dimension of the source.
	counts := make([]int64, source.Rank())
	count := source.NumElements()
	for i, dim := range source.Dimensions {
		count /= dim
		counts[i] = count
	}

	out := make([]any, 0, result.NumElements())
	sliceElements(literal.FlatValues(), counts, offsets, sizes, strides, &out)
	sliced, err := NewLiteral(result, out)
	if err != nil {
		return false, err
	}
	rw.Replace(op, op.fn.Constant(sliced))
	return true, nil
}

func staticValues(list []Mixed) ([]int64, bool) {
	values := make([]int64, len(list))
	for i, m := range list {
		v, ok := m.Static()
		if !ok {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

// sliceElements walks the strided region dimension by dimension, appending
// the selected flat row-major values to out.
func sliceElements(values []any, counts, offsets, sizes, strides []int64, out *[]any) {
	if len(counts) == 0 {
		// Rank 0: the region is the single element itself.
		*out = append(*out, values[0])
		return
	}
	if len(counts) == 1 {
		for i, offset := int64(0), offsets[0]; i < sizes[0]; i, offset = i+1, offset+strides[0] {
			*out = append(*out, values[offset])
		}
		return
	}
	for i, offset := int64(0), offsets[0]; i < sizes[0]; i, offset = i+1, offset+strides[0] {
		begin := offset * counts[0]
		sliceElements(values[begin:], counts[1:], offsets[1:], sizes[1:], strides[1:], out)
	}
}
