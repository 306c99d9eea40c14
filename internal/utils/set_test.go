package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	s := MakeSet[int](10)
	require.Empty(t, s)

	s.Insert(3, 7)
	require.Len(t, s, 2)
	require.True(t, s.Has(3))
	require.True(t, s.Has(7))
	require.False(t, s.Has(5))

	// Re-inserting is a no-op.
	s.Insert(3)
	require.Len(t, s, 2)

	require.True(t, s.Equal(SetWith(7, 3)))
	require.False(t, s.Equal(SetWith(3)))
	require.False(t, s.Equal(SetWith(3, 5)))
}

func TestSetSub(t *testing.T) {
	s := SetWith(1, 2, 3, 4)
	diff := s.Sub(SetWith(2, 4, 6))
	require.True(t, diff.Equal(SetWith(1, 3)))

	// Sub never mutates its receiver.
	require.Len(t, s, 4)
	require.True(t, SetWith(1).Sub(MakeSet[int]()).Equal(SetWith(1)))
}
