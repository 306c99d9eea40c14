package tensorir

import (
	"testing"

	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateDestinationTied(t *testing.T) {
	fn := New("dest-tied")
	dest := fn.Input("dest", f32(4, 4))
	scalar := fn.Input("s", f32())
	i := fn.ConstantIndex(0)

	inserted := must.M1(fn.Insert(scalar, dest, i, i))
	got := must.M1(GetOrCreateDestination(fn, inserted))
	require.Same(t, dest, got)

	src := fn.Input("src", f32(2, 2))
	slice := must.M1(fn.InsertSlice(src, dest,
		StaticList(0, 0), StaticList(2, 2), StaticList(1, 1)))
	got = must.M1(GetOrCreateDestination(fn, slice))
	require.Same(t, dest, got)
}

func TestGetOrCreateDestinationInParallel(t *testing.T) {
	fn := New("dest-parallel")
	destA := fn.Input("a", f32(4, 4))
	destB := fn.Input("b", f32(8))
	srcA := fn.Input("sa", f32(2, 2))
	srcB := fn.Input("sb", f32(8))

	results := must.M1(fn.InParallel(func(body *Func) error {
		if err := body.ParallelInsertSlice(srcA, destA,
			StaticList(0, 0), StaticList(2, 2), StaticList(1, 1)); err != nil {
			return err
		}
		return body.ParallelInsertSlice(srcB, destB,
			StaticList(0), StaticList(8), StaticList(1))
	}))
	require.Len(t, results, 2)

	got := must.M1(GetOrCreateDestination(fn, results[0]))
	require.Same(t, destA, got)
	got = must.M1(GetOrCreateDestination(fn, results[1]))
	require.Same(t, destB, got)
}

func TestGetOrCreateDestinationStatic(t *testing.T) {
	fn := New("dest-static")
	a := fn.Input("a", f32(3, D))

	// Cast has no destination operand; a static result gets a fresh Empty.
	cast := must.M1(fn.Cast(a, f32(3, 5)))
	dest := must.M1(GetOrCreateDestination(fn, cast))
	def := dest.DefiningOpOfType(optypes.Empty)
	require.NotNil(t, def)
	require.True(t, dest.Shape().Equal(f32(3, 5)))
}

func TestGetOrCreateDestinationReified(t *testing.T) {
	fn := New("dest-reified")
	n := fn.Input("n", shapes.Make(IndexDType))
	empty := must.M1(fn.EmptyOf(f32(D, 4), n))

	slice := must.M1(fn.ExtractSlice(empty,
		StaticList(0, 0),
		[]Mixed{DynamicIndex(n), StaticIndex(2)},
		StaticList(1, 1)))

	dest := must.M1(GetOrCreateDestination(fn, slice))
	def := dest.DefiningOpOfType(optypes.Empty)
	require.NotNil(t, def)
	require.True(t, dest.Shape().Equal(f32(D, 2)))
	// The allocation reuses the reified dynamic extent.
	require.Equal(t, []*Value{n}, EmptyOp{def}.DynamicSizes())
}

func TestGetOrCreateDestinationUnreifiable(t *testing.T) {
	fn := New("dest-unreifiable")
	arg := fn.Input("arg", f32(D, 4))

	_, err := GetOrCreateDestination(fn, arg)
	require.ErrorContains(t, err, "dynamically shaped argument")
}

func TestGetOrCreateDestinations(t *testing.T) {
	fn := New("dests")
	destA := fn.Input("a", f32(4))
	srcA := fn.Input("sa", f32(4))

	results := must.M1(fn.InParallel(func(body *Func) error {
		return body.ParallelInsertSlice(srcA, destA,
			StaticList(0), StaticList(4), StaticList(1))
	}))

	dests := must.M1(GetOrCreateDestinations(fn, results[0].DefiningOp()))
	require.Equal(t, []*Value{destA}, dests)
}

func TestCreateCanonicalRankReducingExtractSlice(t *testing.T) {
	fn := New("canonical-extract")
	n := fn.Input("n", shapes.Make(IndexDType))
	source := must.M1(fn.EmptyOf(f32(D, 1, 6), n))

	slice := must.M1(CreateCanonicalRankReducingExtractSlice(fn, source, f32(D, 6)))
	require.True(t, slice.Shape().Equal(f32(D, 6)))

	op := ExtractSliceOp{slice.DefiningOp()}
	sizes := op.MixedSizes()
	require.Len(t, sizes, 3)
	// The dynamic size is queried off the source itself.
	dim := sizes[0].Value().DefiningOpOfType(optypes.Dim)
	require.NotNil(t, dim)
	require.Same(t, source, DimOp{dim}.Source())
	s1, _ := sizes[1].Static()
	s2, _ := sizes[2].Static()
	require.Equal(t, int64(1), s1)
	require.Equal(t, int64(6), s2)
}

func TestCreateCanonicalRankReducingInsertSlice(t *testing.T) {
	fn := New("canonical-insert")
	dest := fn.Input("dest", f32(1, 4, 1))
	source := fn.Input("src", f32(4))

	inserted := must.M1(CreateCanonicalRankReducingInsertSlice(fn, source, dest))
	require.True(t, inserted.Shape().Equal(f32(1, 4, 1)))

	op := InsertSliceOp{inserted.DefiningOp()}
	statics, dynamics := SplitMixed(op.MixedSizes())
	require.Empty(t, dynamics)
	require.Equal(t, []int64{1, 4, 1}, statics)
}
