package tensorir

import (
	"testing"

	"github.com/gomlx/tensorir/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestGatherResultShape(t *testing.T) {
	// Source 8x?x5, gather dims {1}, indices Nx1.
	source := shapes.Make(F32, 8, D, 5)
	indices := shapes.Make(I64, D, 1)

	full := must.M1(InferGatherResultShape(source, indices, []int64{1}, false))
	require.True(t, full.Equal(shapes.Make(F32, D, 8, 1, 5)))

	reduced := must.M1(InferGatherResultShape(source, indices, []int64{1}, true))
	require.True(t, reduced.Equal(shapes.Make(F32, D, 8, 5)))

	// Encoding carries over from the source.
	enc := source.WithEncoding("sparse<coo>")
	result := must.M1(InferGatherResultShape(enc, indices, []int64{1}, true))
	require.Equal(t, "sparse<coo>", result.Encoding)
}

func TestGatherDimsValidity(t *testing.T) {
	source := shapes.Make(F32, 4, 4, 4)
	indices := shapes.Make(I64, 2, 2)

	_, err := InferGatherResultShape(source, indices, nil, false)
	require.ErrorContains(t, err, "must not be empty")

	_, err = InferGatherResultShape(source, indices, []int64{0, 3}, false)
	require.ErrorContains(t, err, "out of range")

	// Duplicates and out-of-order lists are both rejected by the strict
	// increase requirement.
	_, err = InferGatherResultShape(source, indices, []int64{1, 1}, false)
	require.ErrorContains(t, err, "strictly increasing")
	_, err = InferGatherResultShape(source, indices, []int64{2, 0}, false)
	require.ErrorContains(t, err, "strictly increasing")
}

func TestGatherBuildAndVerify(t *testing.T) {
	fn := New("gather")
	source := fn.Input("source", f32(8, D, 5))
	indices := fn.Input("indices", shapes.Make(I64, 16, 1))

	gathered := must.M1(fn.Gather(source, indices, []int64{1}, true))
	require.True(t, gathered.Shape().Equal(f32(16, 8, 5)))

	// The trailing index extent must match the dimension count.
	bad := fn.Input("bad", shapes.Make(I64, 16, 2))
	_, err := fn.Gather(source, bad, []int64{1}, true)
	require.ErrorContains(t, err, "trailing extent")

	// Indices must hold index values.
	floats := fn.Input("floats", f32(16, 1))
	_, err = fn.Gather(source, floats, []int64{1}, true)
	require.ErrorContains(t, err, "index values")
}

func TestScatterBuildAndVerify(t *testing.T) {
	fn := New("scatter")
	dest := fn.Input("dest", f32(8, D, 5))
	indices := fn.Input("indices", shapes.Make(I64, 16, 1))
	source := fn.Input("source", f32(16, 8, 5))

	scattered := must.M1(fn.Scatter(source, dest, indices, []int64{1}, true))
	require.True(t, scattered.Shape().Equal(dest.Shape()))

	// The non-rank-reduced source form verifies too.
	fullSource := fn.Input("full", f32(16, 8, 1, 5))
	_ = must.M1(fn.Scatter(fullSource, dest, indices, []int64{1}, true))

	// The unique guarantee is required.
	_, err := fn.Scatter(source, dest, indices, []int64{1}, false)
	require.ErrorContains(t, err, "unique")

	// A source matching neither inference form is rejected.
	wrong := fn.Input("wrong", f32(16, 8, 4))
	_, err = fn.Scatter(wrong, dest, indices, []int64{1}, true)
	require.ErrorContains(t, err, "matches neither")
}
