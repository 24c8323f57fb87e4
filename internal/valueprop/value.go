// Package valueprop computes per-instruction register and stack facts over
// a function's low-level IL by forward abstract interpretation.
package valueprop

import (
	"fmt"
	"strings"

	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

// Kind selects the active variant of a Value.
type Kind int

const (
	EntryValue Kind = iota
	OffsetFromEntryValue
	ConstantValue
	StackFrameOffset
	UndeterminedValue
	OffsetFromUndeterminedValue
	SignedRangeValue
	UnsignedRangeValue
	LookupTableValue
	ComparisonResultValue
)

var kindNames = [...]string{
	"entry", "entry offset", "constant", "stack frame offset", "undetermined",
	"undetermined offset", "signed range", "unsigned range", "lookup table",
	"comparison",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// TableEntry maps a set of inputs to one output of a lookup table.
type TableEntry struct {
	From []int64
	To   int64
}

// Comparison records "Left op Const" where Left is the value Reg held when
// the comparison was evaluated.
type Comparison struct {
	Op    llil.Operation
	Reg   isa.Register
	Left  Value
	Const int64
	Size  int
}

// Value is one lattice fact. Exactly one variant is active, selected by
// Kind:
//
//	EntryValue             Reg
//	OffsetFromEntryValue   Reg, Offset
//	ConstantValue          Offset (the constant)
//	StackFrameOffset       Offset from the stack pointer at entry
//	OffsetFromUndetermined Offset
//	Signed/UnsignedRange   Start, End, Step (inclusive; signed ranges hold
//	                       int64 bit patterns)
//	LookupTableValue       Table
//	ComparisonResultValue  Cmp
type Value struct {
	Kind   Kind
	Reg    isa.Register
	Offset int64
	Start  uint64
	End    uint64
	Step   uint64
	Table  []TableEntry
	Cmp    *Comparison
}

func Undetermined() Value { return Value{Kind: UndeterminedValue} }
func Constant(v int64) Value { return Value{Kind: ConstantValue, Offset: v} }
func Entry(r isa.Register) Value { return Value{Kind: EntryValue, Reg: r} }
func StackOffset(off int64) Value { return Value{Kind: StackFrameOffset, Offset: off} }
func UndeterminedOffset(off int64) Value { return Value{Kind: OffsetFromUndeterminedValue, Offset: off} }

// EntryOffset is the entry value of r plus off; a zero offset is the plain
// entry value.
func EntryOffset(r isa.Register, off int64) Value {
	if off == 0 {
		return Entry(r)
	}
	return Value{Kind: OffsetFromEntryValue, Reg: r, Offset: off}
}

// SignedRange is [start, end] by step. A single-element range stays a range.
func SignedRange(start, end int64, step uint64) Value {
	if step == 0 {
		step = 1
	}
	return Value{Kind: SignedRangeValue, Start: uint64(start), End: uint64(end), Step: step}
}

// UnsignedRange is [start, end] by step.
func UnsignedRange(start, end, step uint64) Value {
	if step == 0 {
		step = 1
	}
	return Value{Kind: UnsignedRangeValue, Start: start, End: end, Step: step}
}

// LookupTable builds a table, merging entries with the same output.
func LookupTable(entries []TableEntry) Value {
	var out []TableEntry
	index := map[int64]int{}
	for _, e := range entries {
		if i, ok := index[e.To]; ok {
			out[i].From = append(out[i].From, e.From...)
			continue
		}
		index[e.To] = len(out)
		out = append(out, TableEntry{From: append([]int64(nil), e.From...), To: e.To})
	}
	return Value{Kind: LookupTableValue, Table: out}
}

// ComparisonResult is the 0/1 outcome of c.
func ComparisonResult(c Comparison) Value {
	return Value{Kind: ComparisonResultValue, Cmp: &c}
}

func (v Value) IsConstant() bool { return v.Kind == ConstantValue }
func (v Value) IsUndetermined() bool { return v.Kind == UndeterminedValue }
func (v Value) IsRange() bool {
	return v.Kind == SignedRangeValue || v.Kind == UnsignedRangeValue
}

// Count returns the number of values a range, table or constant denotes,
// and 0 for everything else.
func (v Value) Count() uint64 {
	switch v.Kind {
	case ConstantValue:
		return 1
	case UnsignedRangeValue:
		if v.End < v.Start {
			return 0
		}
		return (v.End-v.Start)/v.Step + 1
	case SignedRangeValue:
		s, e := int64(v.Start), int64(v.End)
		if e < s {
			return 0
		}
		return uint64(e-s)/v.Step + 1
	case LookupTableValue:
		return uint64(len(v.Table))
	}
	return 0
}

// Values enumerates a constant, range or table's outputs, up to limit
// entries. ok is false when v is not enumerable within limit.
func (v Value) Values(limit int) (out []int64, ok bool) {
	n := v.Count()
	if n == 0 || n > uint64(limit) {
		return nil, false
	}
	switch v.Kind {
	case ConstantValue:
		return []int64{v.Offset}, true
	case UnsignedRangeValue, SignedRangeValue:
		for i := uint64(0); i < n; i++ {
			out = append(out, int64(v.Start+i*v.Step))
		}
	case LookupTableValue:
		for _, e := range v.Table {
			out = append(out, e.To)
		}
	}
	return out, true
}

// Equal reports whether two facts are identical.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case UndeterminedValue:
		return true
	case EntryValue:
		return v.Reg == o.Reg
	case OffsetFromEntryValue:
		return v.Reg == o.Reg && v.Offset == o.Offset
	case ConstantValue, StackFrameOffset, OffsetFromUndeterminedValue:
		return v.Offset == o.Offset
	case SignedRangeValue, UnsignedRangeValue:
		return v.Start == o.Start && v.End == o.End && v.Step == o.Step
	case LookupTableValue:
		if len(v.Table) != len(o.Table) {
			return false
		}
		for i := range v.Table {
			a, b := v.Table[i], o.Table[i]
			if a.To != b.To || len(a.From) != len(b.From) {
				return false
			}
			for j := range a.From {
				if a.From[j] != b.From[j] {
					return false
				}
			}
		}
		return true
	case ComparisonResultValue:
		a, b := v.Cmp, o.Cmp
		return a.Op == b.Op && a.Reg == b.Reg && a.Const == b.Const && a.Size == b.Size && a.Left.Equal(b.Left)
	}
	return false
}

func hex(v int64) string {
	if v < 0 {
		return fmt.Sprintf("-0x%x", uint64(-v))
	}
	return fmt.Sprintf("0x%x", v)
}

// Format renders v, naming registers with name.
func (v Value) Format(name func(isa.Register) string) string {
	if name == nil {
		name = func(r isa.Register) string { return fmt.Sprintf("reg%d", uint32(r)) }
	}
	switch v.Kind {
	case EntryValue:
		return fmt.Sprintf("<entry %s>", name(v.Reg))
	case OffsetFromEntryValue:
		return fmt.Sprintf("<entry %s + %s>", name(v.Reg), hex(v.Offset))
	case ConstantValue:
		return fmt.Sprintf("<const %s>", hex(v.Offset))
	case StackFrameOffset:
		return fmt.Sprintf("<stack frame offset %s>", hex(v.Offset))
	case UndeterminedValue:
		return "<undetermined>"
	case OffsetFromUndeterminedValue:
		return fmt.Sprintf("<undetermined with offset %s>", hex(v.Offset))
	case SignedRangeValue:
		return rangeString("signed range", hex(int64(v.Start)), hex(int64(v.End)), v.Step)
	case UnsignedRangeValue:
		return rangeString("range", fmt.Sprintf("0x%x", v.Start), fmt.Sprintf("0x%x", v.End), v.Step)
	case LookupTableValue:
		var b strings.Builder
		b.WriteString("<table:")
		for i, e := range v.Table {
			if i > 0 {
				b.WriteString(",")
			}
			from := make([]string, len(e.From))
			for j, f := range e.From {
				from[j] = hex(f)
			}
			fmt.Fprintf(&b, " %s -> %s", strings.Join(from, "|"), hex(e.To))
		}
		b.WriteString(">")
		return b.String()
	case ComparisonResultValue:
		return fmt.Sprintf("<comparison %s %s %s>", name(v.Cmp.Reg), v.Cmp.Op, hex(v.Cmp.Const))
	}
	return fmt.Sprintf("<%s>", v.Kind)
}

func rangeString(kind, start, end string, step uint64) string {
	if step == 1 {
		return fmt.Sprintf("<%s: %s to %s>", kind, start, end)
	}
	return fmt.Sprintf("<%s: %s to %s, step 0x%x>", kind, start, end, step)
}

func (v Value) String() string { return v.Format(nil) }
