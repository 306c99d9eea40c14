package tensorir

import (
	"testing"

	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestInsertSliceVerify(t *testing.T) {
	fn := New("insert-verify")
	dest := fn.Input("dest", f32(8, 8))

	// A rank-reduced source of the written region verifies.
	reduced := fn.Input("reduced", f32(6))
	_ = must.M1(fn.InsertSlice(reduced, dest,
		StaticList(0, 0), StaticList(1, 6), StaticList(1, 1)))

	// So does a relaxed (more dynamic) form of the region type; the source
	// cast patterns produce and consume exactly this shape.
	relaxed := fn.Input("relaxed", f32(D, 6))
	_ = must.M1(fn.InsertSlice(relaxed, dest,
		StaticList(0, 0), StaticList(2, 6), StaticList(1, 1)))

	// A source bigger than the region does not.
	big := fn.Input("big", f32(4, 4))
	_, err := fn.InsertSlice(big, dest,
		StaticList(0, 0), StaticList(2, 2), StaticList(1, 1))
	require.ErrorContains(t, err, "size mismatch")

	// Index lists must match the destination rank.
	_, err = fn.InsertSlice(big, dest,
		StaticList(0), StaticList(4, 4), StaticList(1, 1))
	require.Error(t, err)
}

func TestInsertSliceWholeTensorFold(t *testing.T) {
	fn := New("insert-whole")
	src := fn.Input("src", f32(4, 4))
	dest := fn.Input("dest", f32(4, 4))

	inserted := must.M1(fn.InsertSlice(src, dest,
		StaticList(0, 0), StaticList(4, 4), StaticList(1, 1)))
	require.Same(t, src, inserted.DefiningOp().Fold().Value)

	// A partial write does not fold.
	partial := must.M1(fn.InsertSlice(src, fn.Input("dest2", f32(8, 8)),
		StaticList(0, 0), StaticList(4, 4), StaticList(1, 1)))
	require.True(t, partial.DefiningOp().Fold().Empty())
}

func TestInsertSliceWholeTensorFoldDynamic(t *testing.T) {
	fn := New("insert-whole-dynamic")
	src := fn.Input("src", f32(D, 4))
	dest := fn.Input("dest", f32(D, 4))
	other := fn.Input("other", f32(D, 4))

	// A size queried off the destination itself proves full coverage.
	covered := must.M1(fn.InsertSlice(src, dest,
		StaticList(0, 0),
		[]Mixed{DynamicIndex(must.M1(fn.DimIndex(dest, 0))), StaticIndex(4)},
		StaticList(1, 1)))
	require.Same(t, src, covered.DefiningOp().Fold().Value)

	// The same query against another tensor proves nothing: at run time it
	// may overwrite only a prefix of the destination.
	partial := must.M1(fn.InsertSlice(src, dest,
		StaticList(0, 0),
		[]Mixed{DynamicIndex(must.M1(fn.DimIndex(other, 0))), StaticIndex(4)},
		StaticList(1, 1)))
	require.True(t, partial.DefiningOp().Fold().Empty())
}

func TestInsertSliceChainedOverwriteFold(t *testing.T) {
	fn := New("insert-chain")
	a := fn.Input("a", f32(2, 2))
	b := fn.Input("b", f32(2, 2))
	dest := fn.Input("dest", f32(8, 8))

	first := must.M1(fn.InsertSlice(a, dest,
		StaticList(1, 1), StaticList(2, 2), StaticList(1, 1)))
	second := must.M1(fn.InsertSlice(b, first,
		StaticList(1, 1), StaticList(2, 2), StaticList(1, 1)))

	op := second.DefiningOp()
	folded := op.Fold()
	// The fold rewires the destination past the overwritten insert and
	// reports the op's own (unchanged) result.
	require.Same(t, second, folded.Value)
	require.Same(t, dest, InsertSliceOp{op}.Dest())

	// Different regions must keep the chain.
	third := must.M1(fn.InsertSlice(b, first,
		StaticList(3, 3), StaticList(2, 2), StaticList(1, 1)))
	require.True(t, third.DefiningOp().Fold().Empty())
	require.Same(t, first, InsertSliceOp{third.DefiningOp()}.Dest())
}

func TestInsertSliceRoundTripFold(t *testing.T) {
	fn := New("insert-roundtrip")
	dest := fn.Input("dest", f32(8, 8))

	extracted := must.M1(fn.ExtractSlice(dest,
		StaticList(2, 2), StaticList(3, 3), StaticList(1, 1)))
	reinserted := must.M1(fn.InsertSlice(extracted, dest,
		StaticList(2, 2), StaticList(3, 3), StaticList(1, 1)))
	require.Same(t, dest, reinserted.DefiningOp().Fold().Value)

	// Writing the extracted region somewhere else is a real write.
	moved := must.M1(fn.InsertSlice(extracted, dest,
		StaticList(0, 0), StaticList(3, 3), StaticList(1, 1)))
	require.True(t, moved.DefiningOp().Fold().Empty())
}

func TestInsertSliceConstArgsCanonicalization(t *testing.T) {
	fn := New("insert-const-args")
	src := fn.Input("src", f32(2, 2))
	dest := fn.Input("dest", f32(8, 8))
	c := fn.ConstantIndex(3)

	inserted := must.M1(fn.InsertSlice(src, dest,
		[]Mixed{DynamicIndex(c), StaticIndex(0)},
		StaticList(2, 2), StaticList(1, 1)))
	require.True(t, canonicalize(t, inserted.DefiningOp()))

	replacement := lastLiveOp(fn)
	require.Equal(t, optypes.InsertSlice, replacement.Type)
	v, ok := InsertSliceOp{replacement}.MixedOffsets()[0].Static()
	require.True(t, ok)
	require.Equal(t, int64(3), v)
	require.False(t, canonicalize(t, replacement))
}

func TestInsertSliceSourceCastCanonicalization(t *testing.T) {
	fn := New("insert-source-cast")
	src := fn.Input("src", f32(D, 2))
	dest := fn.Input("dest", f32(8, 8))

	inserted := must.M1(fn.InsertSlice(src, dest,
		StaticList(0, 0), StaticList(2, 2), StaticList(1, 1)))
	require.True(t, canonicalize(t, inserted.DefiningOp()))

	// The static sizes prove the source is 2x2; an explicit cast records it.
	replacement := lastLiveOp(fn)
	require.Equal(t, optypes.InsertSlice, replacement.Type)
	source := InsertSliceOp{replacement}.Source()
	require.True(t, source.Shape().Equal(f32(2, 2)))
	require.NotNil(t, source.DefiningOpOfType(optypes.Cast))
	require.False(t, canonicalize(t, replacement))
}

func TestInsertSliceCastFolderCanonicalization(t *testing.T) {
	fn := New("insert-cast-folder")
	src := fn.Input("src", f32(2, 2))
	dest := fn.Input("dest", f32(8, 8))

	relaxedSrc := must.M1(fn.Cast(src, f32(D, 2)))
	inserted := must.M1(fn.InsertSlice(relaxedSrc, dest,
		StaticList(0, 0), StaticList(2, 2), StaticList(1, 1)))
	require.True(t, canonicalize(t, inserted.DefiningOp()))

	replacement := lastLiveOp(fn)
	require.Equal(t, optypes.InsertSlice, replacement.Type)
	require.Same(t, src, InsertSliceOp{replacement}.Source())
}

func TestInParallelCombining(t *testing.T) {
	fn := New("in-parallel")
	a := fn.Input("a", f32(2, 2))
	b := fn.Input("b", f32(3, 3))
	destA := fn.Input("destA", f32(8, 8))
	destB := fn.Input("destB", f32(9, 9))

	results := must.M1(fn.InParallel(func(body *Func) error {
		if err := body.ParallelInsertSlice(a, destA,
			StaticList(0, 0), StaticList(2, 2), StaticList(1, 1)); err != nil {
			return err
		}
		return body.ParallelInsertSlice(b, destB,
			StaticList(0, 0), StaticList(3, 3), StaticList(1, 1))
	}))
	require.Len(t, results, 2)
	require.True(t, results[0].Shape().Equal(f32(8, 8)))
	require.True(t, results[1].Shape().Equal(f32(9, 9)))

	combining := results[0].DefiningOp()
	writes := InParallelOp{combining}.Writes()
	require.Len(t, writes, 2)
	require.Same(t, results[1], writes[1].TiedResult())

	// A parallel write outside an in_parallel body is rejected.
	err := fn.ParallelInsertSlice(a, destA,
		StaticList(0, 0), StaticList(2, 2), StaticList(1, 1))
	require.ErrorContains(t, err, "in_parallel")
}

func TestParallelInsertSliceConstArgs(t *testing.T) {
	fn := New("parallel-const-args")
	src := fn.Input("src", f32(D, 2))
	dest := fn.Input("dest", f32(8, 8))
	c := fn.ConstantIndex(2)

	results := must.M1(fn.InParallel(func(body *Func) error {
		return body.ParallelInsertSlice(src, dest,
			StaticList(0, 0),
			[]Mixed{DynamicIndex(c), StaticIndex(2)},
			StaticList(1, 1))
	}))
	combining := results[0].DefiningOp()
	write := InParallelOp{combining}.Writes()[0]

	require.True(t, canonicalize(t, write.Op))
	// The write was updated in place, keeping its body position, and the
	// source cast sits in the enclosing function, not the body.
	v, ok := write.MixedSizes()[0].Static()
	require.True(t, ok)
	require.Equal(t, int64(2), v)
	source := write.Source()
	require.True(t, source.Shape().Equal(f32(2, 2)))
	castOp := source.DefiningOpOfType(optypes.Cast)
	require.NotNil(t, castOp)
	require.Same(t, fn, castOp.Func())
}

func TestInsertSliceReify(t *testing.T) {
	fn := New("insert-reify")
	src := fn.Input("src", f32(2, 2))
	dest := fn.Input("dest", f32(D, 8))

	inserted := must.M1(fn.InsertSlice(src, dest,
		StaticList(0, 0), StaticList(2, 2), StaticList(1, 1)))
	reified := must.M1(inserted.DefiningOp().ReifyResultShapes())
	require.Len(t, reified[0], 2)
	// The insert never changes the destination shape.
	require.False(t, reified[0][0].IsStatic())
	v, ok := reified[0][1].Static()
	require.True(t, ok)
	require.Equal(t, int64(8), v)
}
