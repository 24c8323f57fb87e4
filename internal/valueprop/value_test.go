package valueprop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

var samples = []Value{
	Undetermined(),
	Constant(4),
	Constant(5),
	Constant(7),
	Constant(-1),
	Constant(0),
	Entry(1),
	EntryOffset(1, 8),
	StackOffset(-16),
	UndeterminedOffset(4),
	UnsignedRange(0, 3, 1),
	UnsignedRange(4, 8, 1),
	UnsignedRange(0, 12, 4),
	SignedRange(-2, 2, 1),
	LookupTable([]TableEntry{{From: []int64{0}, To: 10}, {From: []int64{1}, To: 20}}),
	ComparisonResult(Comparison{Op: llil.OpCmpE, Reg: 0, Left: Undetermined(), Const: 5, Size: 4}),
}

// covers reports whether r describes at least every value v does.
func covers(r, v Value) bool {
	if r.IsUndetermined() || r.Equal(v) {
		return true
	}
	if !r.IsRange() {
		return false
	}
	vals, ok := v.Values(64)
	if !ok || v.Kind == LookupTableValue {
		return false
	}
	for _, x := range vals {
		if r.Kind == UnsignedRangeValue {
			u := uint64(x)
			if x < 0 || u < r.Start || u > r.End || (u-r.Start)%r.Step != 0 {
				return false
			}
			continue
		}
		if x < int64(r.Start) || x > int64(r.End) || uint64(x-int64(r.Start))%r.Step != 0 {
			return false
		}
	}
	return true
}

func TestJoinLattice(t *testing.T) {
	for _, a := range samples {
		assert.True(t, Join(a, a).Equal(a), "identity %v", a)
		assert.True(t, Join(a, Undetermined()).IsUndetermined(), "top %v", a)
		for _, b := range samples {
			j := Join(a, b)
			assert.True(t, j.Equal(Join(b, a)), "commutative %v %v", a, b)
			assert.True(t, covers(j, a) && covers(j, b), "join %v %v = %v is more precise than an input", a, b, j)
		}
	}
}

func TestJoin(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want Value
	}{
		{"adjacent constants", Constant(4), Constant(5), UnsignedRange(4, 5, 1)},
		{"negative constants", Constant(-1), Constant(0), SignedRange(-1, 0, 1)},
		{"distant constants", Constant(4), Constant(7), Undetermined()},
		{"constant inside range", UnsignedRange(0, 3, 1), Constant(2), UnsignedRange(0, 3, 1)},
		{"constant above range", UnsignedRange(0, 3, 1), Constant(4), UnsignedRange(0, 4, 1)},
		{"constant below range", UnsignedRange(4, 8, 1), Constant(3), UnsignedRange(3, 8, 1)},
		{"constant off stride", UnsignedRange(0, 12, 4), Constant(14), Undetermined()},
		{"constant on stride", UnsignedRange(0, 12, 4), Constant(16), UnsignedRange(0, 16, 4)},
		{"touching ranges", UnsignedRange(0, 3, 1), UnsignedRange(4, 8, 1), UnsignedRange(0, 8, 1)},
		{"gap between ranges", UnsignedRange(0, 2, 1), UnsignedRange(4, 8, 1), Undetermined()},
		{"signed range", SignedRange(-2, 2, 1), Constant(3), SignedRange(-2, 3, 1)},
		{"different steps", UnsignedRange(0, 12, 4), UnsignedRange(0, 3, 1), Undetermined()},
		{"entry and constant", Entry(1), Constant(0), Undetermined()},
		{"different stack offsets", StackOffset(-8), StackOffset(-16), Undetermined()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Join(c.a, c.b)
			assert.True(t, got.Equal(c.want), "got %v, want %v", got, c.want)
		})
	}
}

func TestValueString(t *testing.T) {
	names := func(r isa.Register) string { return []string{"r0", "r1"}[r] }
	assert.Equal(t, "<const 0x5>", Constant(5).String())
	assert.Equal(t, "<const -0x10>", Constant(-16).String())
	assert.Equal(t, "<entry r1 + 0x8>", EntryOffset(1, 8).Format(names))
	assert.Equal(t, "<entry r1>", EntryOffset(1, 0).Format(names))
	assert.Equal(t, "<stack frame offset -0x10>", StackOffset(-16).String())
	assert.Equal(t, "<signed range: 0x5 to 0x5>", SignedRange(5, 5, 1).String())
	assert.Equal(t, "<range: 0x0 to 0xc, step 0x4>", UnsignedRange(0, 12, 4).String())
	assert.Equal(t, "<table: 0x0|0x2 -> 0xa, 0x1 -> 0x14>",
		LookupTable([]TableEntry{{[]int64{0}, 10}, {[]int64{1}, 20}, {[]int64{2}, 10}}).String())
}

func TestValues(t *testing.T) {
	vals, ok := UnsignedRange(0x100, 0x10c, 4).Values(8)
	assert.True(t, ok)
	assert.Equal(t, []int64{0x100, 0x104, 0x108, 0x10c}, vals)

	_, ok = UnsignedRange(0, 100, 1).Values(8)
	assert.False(t, ok)

	vals, ok = SignedRange(-1, 1, 1).Values(8)
	assert.True(t, ok)
	assert.Equal(t, []int64{-1, 0, 1}, vals)
}
