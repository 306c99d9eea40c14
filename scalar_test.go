package tensorir

import (
	"testing"

	"github.com/gomlx/tensorir/internal/optypes"
	"github.com/gomlx/tensorir/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestExtractVerify(t *testing.T) {
	fn := New("extract")
	x := fn.Input("x", f32(2, 3))
	i := fn.Input("i", shapes.Make(IndexDType))

	scalar := must.M1(fn.Extract(x, i, i))
	require.True(t, scalar.Shape().IsScalar())
	require.Equal(t, F32, scalar.Shape().DType)

	_, err := fn.Extract(x, i)
	require.ErrorContains(t, err, "requires 2 indices")
	_, err = fn.Extract(x, i, x)
	require.ErrorContains(t, err, "scalar index")
}

func TestExtractFoldSplat(t *testing.T) {
	fn := New("extract-splat")
	scalar := fn.Input("s", f32())
	n := fn.Input("n", shapes.Make(IndexDType))

	splat := must.M1(fn.Splat(scalar, f32(D, 3), n))
	extracted := must.M1(fn.Extract(splat, n, n))
	require.Same(t, scalar, extracted.DefiningOp().Fold().Value)

	// A splat literal folds to a scalar literal.
	lit := fn.Constant(must.M1(NewSplatLiteral(f32(2, 2), float32(1.5))))
	extracted = must.M1(fn.Extract(lit, n, n))
	folded := extracted.DefiningOp().Fold()
	require.NotNil(t, folded.Literal)
	require.Equal(t, float32(1.5), folded.Literal.SplatValue())
}

func TestExtractFoldFromElements(t *testing.T) {
	fn := New("extract-elements")
	elements := make([]*Value, 6)
	for i := range elements {
		elements[i] = fn.Constant(must.M1(NewSplatLiteral(f32(), float32(i))))
	}
	from := must.M1(fn.FromElements(f32(2, 3), elements...))

	// Row-major offset of (1, 2) is 5.
	extracted := must.M1(fn.Extract(from, fn.ConstantIndex(1), fn.ConstantIndex(2)))
	require.Same(t, elements[5], extracted.DefiningOp().Fold().Value)

	// Out-of-bounds constant indices are malformed input: no fold, no panic.
	oob := ExtractOp{fn.addOp(optypes.Extract, f32(),
		from, fn.ConstantIndex(1), fn.ConstantIndex(3))}
	require.True(t, oob.Fold().Empty())

	// Non-constant indices have nothing to fold.
	i := fn.Input("i", shapes.Make(IndexDType))
	dynamic := must.M1(fn.Extract(from, i, i))
	require.True(t, dynamic.DefiningOp().Fold().Empty())
}

func TestExtractFoldDenseLiteral(t *testing.T) {
	fn := New("extract-dense")
	dense := fn.Constant(must.M1(NewLiteral(shapes.Make(I64, 2, 2), []any{10, 20, 30, 40})))

	extracted := must.M1(fn.Extract(dense, fn.ConstantIndex(1), fn.ConstantIndex(0)))
	folded := extracted.DefiningOp().Fold()
	require.NotNil(t, folded.Literal)
	require.Equal(t, int64(30), folded.Literal.SplatValue())
}

func TestExtractOfCastAndConvert(t *testing.T) {
	fn := New("extract-cast")
	x := fn.Input("x", f32(2, 2))
	i := fn.Input("i", shapes.Make(IndexDType))

	relaxed := must.M1(fn.Cast(x, f32(D, 2)))
	extracted := must.M1(fn.Extract(relaxed, i, i))
	require.True(t, canonicalize(t, extracted.DefiningOp()))
	replacement := lastLiveOp(fn)
	require.Equal(t, optypes.Extract, replacement.Type)
	require.Same(t, x, ExtractOp{replacement}.Source())

	// Extraction commutes with an element-type conversion: extract the
	// element first, convert the scalar afterwards.
	converted := must.M1(fn.Convert(x, I64))
	extracted = must.M1(fn.Extract(converted, i, i))
	require.True(t, canonicalize(t, extracted.DefiningOp()))
	replacement = lastLiveOp(fn)
	require.Equal(t, optypes.Convert, replacement.Type)
	scalar := ConvertOp{replacement}.Source()
	require.Equal(t, optypes.Extract, scalar.DefiningOp().Type)
	require.Same(t, x, ExtractOp{scalar.DefiningOp()}.Source())
}

func TestFromElementsVerifyAndFold(t *testing.T) {
	fn := New("from-elements")
	a := fn.Constant(must.M1(NewSplatLiteral(f32(), float32(1))))
	b := fn.Constant(must.M1(NewSplatLiteral(f32(), float32(2))))

	_, err := fn.FromElements(f32(3), a, b)
	require.ErrorContains(t, err, "requires 3 elements")
	_, err = fn.FromElements(f32(D), a, b)
	require.ErrorContains(t, err, "fully static")

	from := must.M1(fn.FromElements(f32(2), a, b))
	folded := from.DefiningOp().Fold()
	require.NotNil(t, folded.Literal)
	v, ok := folded.Literal.Value(1)
	require.True(t, ok)
	require.Equal(t, float32(2), v)

	// Non-constant elements do not fold.
	x := fn.Input("x", f32())
	from = must.M1(fn.FromElements(f32(2), a, x))
	require.True(t, from.DefiningOp().Fold().Empty())
}

func TestInsertVerifyAndFold(t *testing.T) {
	fn := New("insert")
	dest := fn.Input("dest", f32(2, 2))
	i := fn.Input("i", shapes.Make(IndexDType))
	scalar := fn.Input("s", f32())

	inserted := must.M1(fn.Insert(scalar, dest, i, i))
	require.True(t, inserted.Shape().Equal(dest.Shape()))

	_, err := fn.Insert(scalar, dest, i)
	require.ErrorContains(t, err, "requires 2 indices")
	wrong := fn.Input("w", shapes.Make(I64))
	_, err = fn.Insert(wrong, dest, i, i)
	require.ErrorContains(t, err, "requires a scalar")

	// Writing a splat's own uniform value is a no-op.
	splat := fn.Constant(must.M1(NewSplatLiteral(f32(2, 2), float32(3))))
	same := fn.Constant(must.M1(NewSplatLiteral(f32(), float32(3))))
	inserted = must.M1(fn.Insert(same, splat, i, i))
	require.Same(t, splat, inserted.DefiningOp().Fold().Value)

	other := fn.Constant(must.M1(NewSplatLiteral(f32(), float32(4))))
	inserted = must.M1(fn.Insert(other, splat, i, i))
	require.True(t, inserted.DefiningOp().Fold().Empty())
}

func TestSplatVerifyAndFold(t *testing.T) {
	fn := New("splat")
	scalar := fn.Input("s", f32())
	n := fn.Input("n", shapes.Make(IndexDType))

	splat := must.M1(fn.Splat(scalar, f32(D, 3), n))
	require.True(t, splat.Shape().Equal(f32(D, 3)))
	require.True(t, splat.DefiningOp().Fold().Empty())

	_, err := fn.Splat(scalar, f32(D, 3))
	require.ErrorContains(t, err, "dynamic size operands")

	// A constant scalar splats to a uniform literal.
	c := fn.Constant(must.M1(NewSplatLiteral(f32(), float32(9))))
	splat = must.M1(fn.Splat(c, f32(2, 2)))
	folded := splat.DefiningOp().Fold()
	require.NotNil(t, folded.Literal)
	require.True(t, folded.Literal.IsSplat())
	require.True(t, folded.Literal.Shape().Equal(f32(2, 2)))
	require.Equal(t, float32(9), folded.Literal.SplatValue())
}
