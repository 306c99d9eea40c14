package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var (
	F32 = dtypes.Float32
	I32 = dtypes.Int32

	D = DynamicSize
)

func TestMakeAndPredicates(t *testing.T) {
	invalid := Invalid()
	if invalid.Ok() {
		t.Error("Invalid().Ok() should be false")
	}

	scalar := Make(F32)
	if !scalar.IsScalar() || !scalar.IsRanked() || scalar.Rank() != 0 {
		t.Errorf("scalar %s misclassified", scalar)
	}

	s := Make(F32, 2, D, 4)
	require.True(t, s.IsRanked())
	require.Equal(t, 3, s.Rank())
	require.True(t, s.IsDynamicDim(1))
	require.False(t, s.IsDynamicDim(0))
	require.Equal(t, 1, s.NumDynamicDims())
	require.False(t, s.IsFullyStatic())
	require.Equal(t, int64(24), Make(F32, 2, 3, 4).NumElements())

	u := MakeUnranked(F32)
	require.True(t, u.Ok())
	require.False(t, u.IsRanked())
	require.Equal(t, "tensor<*xf32>", u.String())
	require.Equal(t, "tensor<2x?x4xf32>", s.String())
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		a, b Shape
		want bool
	}{
		{Make(F32, 2, 3), Make(F32, 2, 3), true},
		{Make(F32, 2, 3), Make(F32, D, 3), true},
		{Make(F32, 2, 3), Make(F32, 2, 4), false},
		{Make(F32, 2, 3), Make(F32, 2), false},
		{Make(F32, 2, 3), Make(I32, 2, 3), false},
		{Make(F32, 2, 3), MakeUnranked(F32), true},
	}
	for _, test := range tests {
		if got := Compatible(test.a, test.b); got != test.want {
			t.Errorf("Compatible(%s, %s) = %v, want %v", test.a, test.b, got, test.want)
		}
	}
}

func TestJoin(t *testing.T) {
	// join([?,4],[3,?]) == [3,4]
	joined, ok := Join(Make(F32, D, 4), Make(F32, 3, D))
	require.True(t, ok)
	if diff := cmp.Diff(Make(F32, 3, 4), joined); diff != "" {
		t.Errorf("Join mismatch (-want +got):\n%s", diff)
	}

	// Conflicting static extents have no join.
	_, ok = Join(Make(F32, 3, 4), Make(F32, 3, 5))
	require.False(t, ok)

	// Rank mismatch has no join.
	_, ok = Join(Make(F32, 3), Make(F32, 3, 1))
	require.False(t, ok)

	// Unranked joins to the other side.
	joined, ok = Join(MakeUnranked(F32), Make(F32, 3, D))
	require.True(t, ok)
	require.True(t, joined.Equal(Make(F32, 3, D)))

	// Encoding is carried from whichever side has one.
	joined, ok = Join(Make(F32, D, 4).WithEncoding("sparse<csr>"), Make(F32, 3, D))
	require.True(t, ok)
	require.Equal(t, "sparse<csr>", joined.Encoding)
	_, ok = Join(Make(F32, 2).WithEncoding("a"), Make(F32, 2).WithEncoding("b"))
	require.False(t, ok)
}

func TestJoinAssociativity(t *testing.T) {
	shapesList := []Shape{
		Make(F32, D, 4, D),
		Make(F32, 3, D, D),
		Make(F32, D, D, 5),
	}
	join3 := func(a, b, c Shape) (Shape, bool) {
		ab, ok := Join(a, b)
		if !ok {
			return Shape{}, false
		}
		return Join(ab, c)
	}
	a, b, c := shapesList[0], shapesList[1], shapesList[2]
	left, okL := join3(a, b, c)
	bc, ok := Join(b, c)
	require.True(t, ok)
	right, okR := Join(a, bc)
	require.Equal(t, okL, okR)
	require.True(t, left.Equal(right))
	require.True(t, left.Equal(Make(F32, 3, 4, 5)))
}

func TestPreservesStaticInformation(t *testing.T) {
	// Reflexive for every ranked shape.
	for _, s := range []Shape{Make(F32), Make(F32, 2), Make(F32, D, 4), Make(I32, D, D)} {
		if !PreservesStaticInformation(s, s) {
			t.Errorf("PreservesStaticInformation(%s, %s) should be true", s, s)
		}
	}

	// False whenever the target loses a static extent.
	require.False(t, PreservesStaticInformation(Make(F32, 4, D), Make(F32, D, D)))
	// Gaining static information is fine.
	require.True(t, PreservesStaticInformation(Make(F32, D, D), Make(F32, 4, D)))
	// Rank, dtype and rankedness must match.
	require.False(t, PreservesStaticInformation(Make(F32, 4), Make(F32, 4, 1)))
	require.False(t, PreservesStaticInformation(Make(F32, 4), Make(I32, 4)))
	require.False(t, PreservesStaticInformation(MakeUnranked(F32), Make(F32)))
}

func TestUnitDimsToDrop(t *testing.T) {
	// 1x6x1 reduced to rank 2 always drops dimension 0, yielding 6x1.
	reduced, err := DropUnitDims(1, []int64{1, 6, 1})
	require.NoError(t, err)
	require.Equal(t, []int64{6, 1}, reduced)

	mask, err := UnitDimsToDrop(2, []int64{1, 6, 1})
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, mask)

	_, err = UnitDimsToDrop(2, []int64{1, 6, 2})
	require.Error(t, err)
}
