package tensorir

import (
	"testing"

	"github.com/gomlx/tensorir/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestMixedSplitJoinRoundTrip(t *testing.T) {
	fn := New("mixed")
	a := fn.Input("a", shapes.Make(IndexDType))
	b := fn.Input("b", shapes.Make(IndexDType))

	list := []Mixed{StaticIndex(4), DynamicIndex(a), StaticIndex(0), DynamicIndex(b)}
	statics, dynamics := SplitMixed(list)
	require.Equal(t, []int64{4, D, 0, D}, statics)
	require.Equal(t, []*Value{a, b}, dynamics)

	rebuilt := must.M1(JoinMixed(statics, dynamics))
	require.True(t, mixedEqual(list, rebuilt))

	// The two halves must agree on the dynamic entry count.
	_, err := JoinMixed(statics, dynamics[:1])
	require.Error(t, err)
	_, err = JoinMixed([]int64{1, 2}, dynamics)
	require.Error(t, err)
}

func TestMixedEqualityAndConstants(t *testing.T) {
	fn := New("mixed-const")
	a := fn.Input("a", shapes.Make(IndexDType))

	require.True(t, StaticIndex(3).Equal(StaticIndex(3)))
	require.False(t, StaticIndex(3).Equal(StaticIndex(4)))
	require.True(t, DynamicIndex(a).Equal(DynamicIndex(a)))
	require.False(t, DynamicIndex(a).Equal(StaticIndex(3)))

	// A dynamic entry backed by a constant still resolves.
	c := fn.ConstantIndex(7)
	v, ok := DynamicIndex(c).ConstantValue()
	require.True(t, ok)
	require.Equal(t, int64(7), v)
	_, ok = DynamicIndex(a).ConstantValue()
	require.False(t, ok)

	values, ok := mixedConstants([]Mixed{StaticIndex(1), DynamicIndex(c)})
	require.True(t, ok)
	require.Equal(t, []int64{1, 7}, values)
	_, ok = mixedConstants([]Mixed{DynamicIndex(a)})
	require.False(t, ok)
}

func TestCanonicalizeMixed(t *testing.T) {
	fn := New("mixed-canon")
	a := fn.Input("a", shapes.Make(IndexDType))
	c := fn.ConstantIndex(16)

	list := []Mixed{DynamicIndex(c), DynamicIndex(a), StaticIndex(2)}
	out, changed := canonicalizeMixed(list)
	require.True(t, changed)
	v, ok := out[0].Static()
	require.True(t, ok)
	require.Equal(t, int64(16), v)
	require.True(t, out[1].Equal(DynamicIndex(a)))

	// Already canonical lists report no change.
	_, changed = canonicalizeMixed(out)
	require.False(t, changed)
}

func TestMixedSizesOfValue(t *testing.T) {
	fn := New("mixed-sizes")
	x := fn.Input("x", f32(4, D))

	sizes := must.M1(MixedSizes(fn, x))
	require.Len(t, sizes, 2)
	v, ok := sizes[0].Static()
	require.True(t, ok)
	require.Equal(t, int64(4), v)
	// The dynamic extent is reified with a dim query of x.
	require.False(t, sizes[1].IsStatic())
	def := sizes[1].Value().DefiningOp()
	require.NotNil(t, def)
	require.Same(t, x, DimOp{def}.Source())

	u := fn.Input("u", shapes.MakeUnranked(F32))
	_, err := MixedSizes(fn, u)
	require.ErrorContains(t, err, "ranked")
}
