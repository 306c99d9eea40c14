package tensorir

import (
	"strings"

	"github.com/gomlx/tensorir/types/shapes"
	"github.com/pkg/errors"
)

// Mixed is one entry of a mixed static/dynamic index list: either a
// compile-time integer or a runtime index value. Offsets, sizes, strides and
// pad widths are all carried as []Mixed of length equal to the rank of the
// shape they describe.
type Mixed struct {
	static int64
	value  *Value
}

// StaticIndex returns a static entry.
func StaticIndex(v int64) Mixed {
	return Mixed{static: v}
}

// DynamicIndex returns a dynamic entry carrying the given runtime value.
func DynamicIndex(v *Value) Mixed {
	return Mixed{static: shapes.DynamicSize, value: v}
}

// IsStatic reports whether the entry is a compile-time integer.
func (m Mixed) IsStatic() bool { return m.value == nil }

// Static returns the compile-time integer of a static entry.
func (m Mixed) Static() (int64, bool) {
	if m.value != nil {
		return 0, false
	}
	return m.static, true
}

// Value returns the runtime value of a dynamic entry, nil for static ones.
func (m Mixed) Value() *Value { return m.value }

// ConstantValue resolves the entry to a compile-time integer when possible:
// either it is static, or its dynamic value is produced by a Constant.
func (m Mixed) ConstantValue() (int64, bool) {
	if m.value == nil {
		return m.static, true
	}
	return ConstantIntValue(m.value)
}

// Equal is the ordinary equality of two entries: equal static integers, or
// the identical dynamic value.
func (m Mixed) Equal(other Mixed) bool {
	if m.value != nil || other.value != nil {
		return m.value == other.value
	}
	return m.static == other.static
}

// String implements fmt.Stringer.
func (m Mixed) String() string {
	if m.value != nil {
		return m.value.String()
	}
	return shapes.DimText(m.static)
}

// MixedList is a helper over an ordered list of Mixed entries.
type MixedList []Mixed

// SplitMixed splits a mixed list into its static half (with
// shapes.DynamicSize marking the dynamic entries) and the ordered dynamic
// values. The split is losslessly reversible with JoinMixed.
func SplitMixed(list []Mixed) (statics []int64, dynamics []*Value) {
	statics = make([]int64, len(list))
	for i, m := range list {
		if m.value != nil {
			statics[i] = shapes.DynamicSize
			dynamics = append(dynamics, m.value)
		} else {
			statics[i] = m.static
		}
	}
	return statics, dynamics
}

// JoinMixed rebuilds a mixed list from its two halves. The number of
// shapes.DynamicSize entries in statics must equal len(dynamics).
func JoinMixed(statics []int64, dynamics []*Value) ([]Mixed, error) {
	list := make([]Mixed, len(statics))
	next := 0
	for i, s := range statics {
		if s == shapes.DynamicSize {
			if next >= len(dynamics) {
				return nil, errors.Errorf("mixed list with %d dynamic markers has only %d dynamic values",
					next+1, len(dynamics))
			}
			list[i] = DynamicIndex(dynamics[next])
			next++
		} else {
			list[i] = StaticIndex(s)
		}
	}
	if next != len(dynamics) {
		return nil, errors.Errorf("mixed list with %d dynamic markers given %d dynamic values",
			next, len(dynamics))
	}
	return list, nil
}

// mustJoinMixed is JoinMixed for lists the verifier already validated.
func mustJoinMixed(statics []int64, dynamics []*Value) []Mixed {
	list, err := JoinMixed(statics, dynamics)
	if err != nil {
		panic(err)
	}
	return list
}

// StaticList converts a plain integer list to an all-static mixed list.
func StaticList(values ...int64) []Mixed {
	list := make([]Mixed, len(values))
	for i, v := range values {
		list[i] = StaticIndex(v)
	}
	return list
}

// mixedEqual compares two mixed lists entry-wise with Mixed.Equal.
func mixedEqual(a, b []Mixed) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// mixedConstants resolves every entry via ConstantValue; ok is false if any
// entry is not compile-time known.
func mixedConstants(list []Mixed) (values []int64, ok bool) {
	values = make([]int64, len(list))
	for i, m := range list {
		v, isConst := m.ConstantValue()
		if !isConst {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

// canonicalizeMixed promotes dynamic entries that are provably compile-time
// constants to static entries. It returns the canonical list and whether
// anything changed.
func canonicalizeMixed(list []Mixed) ([]Mixed, bool) {
	changed := false
	out := make([]Mixed, len(list))
	for i, m := range list {
		if m.value != nil {
			if c, ok := ConstantIntValue(m.value); ok {
				out[i] = StaticIndex(c)
				changed = true
				continue
			}
		}
		out[i] = m
	}
	return out, changed
}

// mixedText formats a mixed list the way slices print their parameters,
// e.g. "[16, 0]".
func mixedText(list []Mixed) string {
	parts := make([]string, len(list))
	for i, m := range list {
		parts[i] = m.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MixedSizes returns the per-dimension sizes of a ranked value as a mixed
// list: a static entry per static dimension, and a dim-query operation for
// each dynamic one.
func MixedSizes(fn *Func, v *Value) ([]Mixed, error) {
	shape := v.Shape()
	if !shape.IsRanked() {
		return nil, errors.Errorf("MixedSizes requires a ranked value, got %s", shape)
	}
	sizes := make([]Mixed, shape.Rank())
	for i, dim := range shape.Dimensions {
		if dim == shapes.DynamicSize {
			size, err := fn.DimIndex(v, int64(i))
			if err != nil {
				return nil, err
			}
			sizes[i] = DynamicIndex(size)
		} else {
			sizes[i] = StaticIndex(dim)
		}
	}
	return sizes, nil
}
