package valueprop

import (
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

type slot struct {
	size int
	v    Value
}

// state is the set of facts at one program point. Registers missing from
// regs still hold their entry value unless top is set; temporaries and
// stack slots that are missing are undetermined.
type state struct {
	top   bool
	regs  map[isa.Register]Value
	stack map[int64]slot
}

func newState() *state {
	return &state{regs: map[isa.Register]Value{}, stack: map[int64]slot{}}
}

func topState() *state {
	s := newState()
	s.top = true
	return s
}

func (s *state) clone() *state {
	c := &state{top: s.top, regs: make(map[isa.Register]Value, len(s.regs)), stack: make(map[int64]slot, len(s.stack))}
	for r, v := range s.regs {
		c.regs[r] = v
	}
	for off, sl := range s.stack {
		c.stack[off] = sl
	}
	return c
}

func (s *state) full(r isa.Register) Value {
	if v, ok := s.regs[r]; ok {
		return v
	}
	if s.top || r.IsTemp() {
		return Undetermined()
	}
	return Entry(r)
}

func regKeys(a, b *state) map[isa.Register]bool {
	keys := make(map[isa.Register]bool, len(a.regs)+len(b.regs))
	for r := range a.regs {
		keys[r] = true
	}
	for r := range b.regs {
		keys[r] = true
	}
	return keys
}

func (s *state) equal(o *state) bool {
	if s.top != o.top || len(s.stack) != len(o.stack) {
		return false
	}
	for r := range regKeys(s, o) {
		if !s.full(r).Equal(o.full(r)) {
			return false
		}
	}
	for off, a := range s.stack {
		b, ok := o.stack[off]
		if !ok || a.size != b.size || !a.v.Equal(b.v) {
			return false
		}
	}
	return true
}

// join merges two incoming states. Stack slots survive only when both
// sides agree on their size.
func join(a, b *state) *state {
	out := newState()
	out.top = a.top || b.top
	for r := range regKeys(a, b) {
		out.regs[r] = Join(a.full(r), b.full(r))
	}
	for off, x := range a.stack {
		if y, ok := b.stack[off]; ok && x.size == y.size {
			if v := Join(x.v, y.v); !v.IsUndetermined() {
				out.stack[off] = slot{x.size, v}
			}
		}
	}
	return out
}

// widen forces every fact that changed between old and next to
// Undetermined.
func widen(old, next *state) *state {
	out := next.clone()
	for r := range regKeys(old, next) {
		if !old.full(r).Equal(next.full(r)) {
			out.regs[r] = Undetermined()
		}
	}
	for off, sl := range next.stack {
		if o, ok := old.stack[off]; !ok || o.size != sl.size || !o.v.Equal(sl.v) {
			delete(out.stack, off)
		}
	}
	return out
}

func mask(v uint64, size int) uint64 { return llil.Mask(v, size) }

// norm truncates v to size bytes and sign-extends the result, the canonical
// form of every constant fact.
func norm(v uint64, size int) int64 { return llil.SignExtend(llil.Mask(v, size), size) }

func (m *machine) regSize(r isa.Register) int {
	if info := m.arch.RegisterInfo(r); info.Size > 0 {
		return info.Size
	}
	return m.arch.AddressSize()
}

// read returns the fact for r, extracting sub-registers from their
// full-width container.
func (m *machine) read(s *state, r isa.Register) Value {
	info := m.arch.RegisterInfo(r)
	if r.IsTemp() || info.FullWidth == r || info.Size == 0 {
		return s.full(r)
	}
	v := s.full(info.FullWidth)
	switch {
	case v.IsConstant():
		return Constant(norm(uint64(v.Offset)>>(8*uint(info.Offset)), info.Size))
	case info.Offset == 0 && v.Kind == UnsignedRangeValue && v.End <= mask(^uint64(0), info.Size):
		return v
	}
	return Undetermined()
}

// container is the register that holds r's bits in the state.
func (m *machine) container(r isa.Register) isa.Register {
	info := m.arch.RegisterInfo(r)
	if r.IsTemp() || info.Size == 0 {
		return r
	}
	return info.FullWidth
}

// forgetComparisons drops the relation of every comparison result whose
// operand lives in r. The result stays a boolean.
func (m *machine) forgetComparisons(s *state, r isa.Register) {
	stale := func(v Value) bool {
		return v.Kind == ComparisonResultValue && m.container(v.Cmp.Reg) == r
	}
	for k, v := range s.regs {
		if stale(v) {
			s.regs[k] = UnsignedRange(0, 1, 1)
		}
	}
	for off, sl := range s.stack {
		if stale(sl.v) {
			s.stack[off] = slot{size: sl.size, v: UnsignedRange(0, 1, 1)}
		}
	}
}

// write stores v into r, applying the architecture's implicit extension
// for sub-registers.
func (m *machine) write(s *state, r isa.Register, v Value) {
	m.forgetComparisons(s, m.container(r))
	info := m.arch.RegisterInfo(r)
	if r.IsTemp() || info.FullWidth == r || info.Size == 0 {
		s.regs[r] = v
		return
	}
	full := info.FullWidth
	fullSize := m.regSize(full)
	var out Value
	switch info.Extend {
	case isa.ZeroExtendToFullWidth:
		switch {
		case v.IsConstant():
			out = Constant(norm(mask(uint64(v.Offset), info.Size), fullSize))
		case v.Kind == UnsignedRangeValue && v.End <= mask(^uint64(0), info.Size):
			out = v
		default:
			out = Undetermined()
		}
	case isa.SignExtendToFullWidth:
		if v.IsConstant() {
			out = Constant(norm(uint64(llil.SignExtend(uint64(v.Offset), info.Size)), fullSize))
		} else {
			out = Undetermined()
		}
	default:
		old := s.full(full)
		if !v.IsConstant() || !old.IsConstant() {
			out = Undetermined()
			break
		}
		shift := 8 * uint(info.Offset)
		field := mask(^uint64(0), info.Size) << shift
		merged := uint64(old.Offset)&^field | mask(uint64(v.Offset), info.Size)<<shift
		out = Constant(norm(merged, fullSize))
	}
	s.regs[full] = out
}
