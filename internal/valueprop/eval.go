package valueprop

import (
	"math/bits"

	"liftkit/internal/arch"
	"liftkit/internal/binaryview"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

// machine evaluates IL against states for one function.
type machine struct {
	arch     arch.Architecture
	fn       *llil.Function
	cc       *arch.CallingConvention
	mem      binaryview.View
	sp       isa.Register
	addrSize int
	tableMax int

	// Set during the final pass.
	collect bool
	vars    map[int64]int
}

func (m *machine) sizeOf(x llil.Expr) int {
	if x.Size > 0 {
		return x.Size
	}
	return m.addrSize
}

func (m *machine) sameReg(a, b llil.ExprIndex) bool {
	x, y := m.fn.Expr(a), m.fn.Expr(b)
	return x.Op == llil.OpReg && y.Op == llil.OpReg && x.Reg() == y.Reg()
}

// eval computes the fact for expression e. Pops adjust the stack pointer in
// s as a side effect.
func (m *machine) eval(s *state, e llil.ExprIndex) Value {
	x := m.fn.Expr(e)
	size := m.sizeOf(x)
	switch x.Op {
	case llil.OpConst:
		return Constant(norm(x.Const(), size))
	case llil.OpReg:
		return m.read(s, x.Reg())
	case llil.OpLoad:
		return m.load(s, m.eval(s, x.Src()), size)
	case llil.OpPop:
		return m.pop(s, size)
	case llil.OpSub, llil.OpXor:
		if m.sameReg(x.Left(), x.Right()) {
			return Constant(0)
		}
		return m.binary(x.Op, m.eval(s, x.Left()), m.eval(s, x.Right()), size)
	case llil.OpAdd, llil.OpAnd, llil.OpOr, llil.OpLsl, llil.OpLsr, llil.OpAsr,
		llil.OpMul, llil.OpDivu, llil.OpDivs, llil.OpModu, llil.OpMods:
		return m.binary(x.Op, m.eval(s, x.Left()), m.eval(s, x.Right()), size)
	case llil.OpNeg:
		if v := m.eval(s, x.Src()); v.IsConstant() {
			return Constant(norm(uint64(-v.Offset), size))
		}
	case llil.OpNot:
		if v := m.eval(s, x.Src()); v.IsConstant() {
			return Constant(norm(^uint64(v.Offset), size))
		}
	case llil.OpSx:
		return m.extend(m.eval(s, x.Src()), m.sizeOf(m.fn.Expr(x.Src())), size, true)
	case llil.OpZx:
		return m.extend(m.eval(s, x.Src()), m.sizeOf(m.fn.Expr(x.Src())), size, false)
	case llil.OpCmpE, llil.OpCmpNE, llil.OpCmpSLT, llil.OpCmpULT, llil.OpCmpSLE,
		llil.OpCmpULE, llil.OpCmpSGE, llil.OpCmpUGE, llil.OpCmpSGT, llil.OpCmpUGT:
		return m.compare(s, x)
	case llil.OpBoolToInt:
		if v := m.eval(s, x.Src()); v.IsConstant() {
			return v
		}
		return UnsignedRange(0, 1, 1)
	case llil.OpTestBit:
		a, b := m.eval(s, x.Left()), m.eval(s, x.Right())
		if a.IsConstant() && b.IsConstant() {
			return Constant(int64(uint64(a.Offset) >> (uint64(b.Offset) & 63) & 1))
		}
		return UnsignedRange(0, 1, 1)
	default:
		for _, c := range m.fn.Children(e) {
			m.eval(s, c)
		}
	}
	return Undetermined()
}

func (m *machine) extend(v Value, from, to int, signed bool) Value {
	switch {
	case v.IsConstant() && signed:
		return Constant(norm(uint64(llil.SignExtend(uint64(v.Offset), from)), to))
	case v.IsConstant():
		return Constant(norm(mask(uint64(v.Offset), from), to))
	case v.Kind == UnsignedRangeValue && v.End <= mask(^uint64(0), from)>>1:
		return v
	case v.Kind == UnsignedRangeValue && !signed:
		return v
	case v.Kind == SignedRangeValue && signed:
		return v
	}
	return Undetermined()
}

func commutes(op llil.Operation) bool {
	switch op {
	case llil.OpAdd, llil.OpMul, llil.OpAnd, llil.OpOr, llil.OpXor:
		return true
	}
	return false
}

func constOp(op llil.Operation, a, b uint64, size int) (Value, bool) {
	var r uint64
	switch op {
	case llil.OpAdd:
		r = a + b
	case llil.OpSub:
		r = a - b
	case llil.OpAnd:
		r = a & b
	case llil.OpOr:
		r = a | b
	case llil.OpXor:
		r = a ^ b
	case llil.OpLsl:
		r = a << (b & 63)
	case llil.OpLsr:
		r = mask(a, size) >> (b & 63)
	case llil.OpAsr:
		r = uint64(llil.SignExtend(a, size) >> (b & 63))
	case llil.OpMul:
		r = a * b
	case llil.OpDivu, llil.OpModu:
		a, b = mask(a, size), mask(b, size)
		if b == 0 {
			return Value{}, false
		}
		if r = a / b; op == llil.OpModu {
			r = a % b
		}
	case llil.OpDivs, llil.OpMods:
		x, y := llil.SignExtend(a, size), llil.SignExtend(b, size)
		if y == 0 {
			return Value{}, false
		}
		if r = uint64(x / y); op == llil.OpMods {
			r = uint64(x % y)
		}
	default:
		return Value{}, false
	}
	return Constant(norm(r, size)), true
}

// binary combines two facts. Symbolic bases (entry values, the stack frame,
// undetermined values) survive addition of constants; ranges and tables
// map through operations with a constant.
func (m *machine) binary(op llil.Operation, a, b Value, size int) Value {
	if commutes(op) && a.IsConstant() && !b.IsConstant() {
		a, b = b, a
	}
	if a.IsConstant() && b.IsConstant() {
		if v, ok := constOp(op, uint64(a.Offset), uint64(b.Offset), size); ok {
			return v
		}
		return Undetermined()
	}
	if op == llil.OpSub {
		switch {
		case a.Kind == StackFrameOffset && b.Kind == StackFrameOffset:
			return Constant(norm(uint64(a.Offset-b.Offset), size))
		case a.Kind == b.Kind && (a.Kind == EntryValue || a.Kind == OffsetFromEntryValue) && a.Reg == b.Reg:
			return Constant(norm(uint64(a.Offset-b.Offset), size))
		}
	}
	if !b.IsConstant() {
		return Undetermined()
	}
	c := b.Offset
	if op == llil.OpSub {
		op, c = llil.OpAdd, -c
	}
	switch op {
	case llil.OpAdd:
		switch a.Kind {
		case EntryValue, OffsetFromEntryValue:
			return EntryOffset(a.Reg, a.Offset+c)
		case StackFrameOffset:
			return StackOffset(a.Offset + c)
		case UndeterminedValue:
			if c == 0 {
				return Undetermined()
			}
			return UndeterminedOffset(c)
		case OffsetFromUndeterminedValue:
			if a.Offset+c == 0 {
				return Undetermined()
			}
			return UndeterminedOffset(a.Offset + c)
		case UnsignedRangeValue, SignedRangeValue:
			return shiftRange(a, c, size)
		}
	case llil.OpMul:
		if a.IsRange() && c > 0 {
			return scaleRange(a, uint64(c), size)
		}
	case llil.OpLsl:
		if a.IsRange() && c >= 0 && c < 64 {
			return scaleRange(a, 1<<uint(c), size)
		}
	case llil.OpAnd:
		if c >= 0 && bits.OnesCount64(uint64(c)+1) == 1 {
			if a.Kind == UnsignedRangeValue && a.End <= uint64(c) {
				return a
			}
			if a.Kind != LookupTableValue {
				return UnsignedRange(0, uint64(c), 1)
			}
		}
	}
	if a.Kind == LookupTableValue {
		return mapTable(a, op, c, size)
	}
	return Undetermined()
}

func shiftRange(r Value, c int64, size int) Value {
	if r.Kind == SignedRangeValue {
		s, e := int64(r.Start)+c, int64(r.End)+c
		if s > e || norm(uint64(s), size) != s || norm(uint64(e), size) != e {
			return Undetermined()
		}
		return SignedRange(s, e, r.Step)
	}
	s, e := r.Start+uint64(c), r.End+uint64(c)
	lim := mask(^uint64(0), size)
	if (c >= 0 && (e < r.End || e > lim)) || (c < 0 && r.Start < uint64(-c)) {
		return Undetermined()
	}
	return UnsignedRange(s, e, r.Step)
}

func scaleRange(r Value, k uint64, size int) Value {
	if r.Kind == SignedRangeValue {
		s, e := int64(r.Start), int64(r.End)
		hi, lo := bits.Mul64(uint64(absInt(s)|absInt(e)), k)
		if hi != 0 || lo > mask(^uint64(0), size)>>1 {
			return Undetermined()
		}
		return SignedRange(s*int64(k), e*int64(k), r.Step*k)
	}
	hi, lo := bits.Mul64(r.End, k)
	if hi != 0 || lo > mask(^uint64(0), size) {
		return Undetermined()
	}
	return UnsignedRange(r.Start*k, r.End*k, r.Step*k)
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func mapTable(t Value, op llil.Operation, c int64, size int) Value {
	entries := make([]TableEntry, 0, len(t.Table))
	for _, e := range t.Table {
		v, ok := constOp(op, uint64(e.To), uint64(c), size)
		if !ok {
			return Undetermined()
		}
		entries = append(entries, TableEntry{From: e.From, To: v.Offset})
	}
	return LookupTable(entries)
}

// holds evaluates "x op c" on size-byte operands.
func holds(op llil.Operation, x, c int64, size int) bool {
	ux, uc := mask(uint64(x), size), mask(uint64(c), size)
	sx, sc := norm(uint64(x), size), norm(uint64(c), size)
	switch op {
	case llil.OpCmpE:
		return ux == uc
	case llil.OpCmpNE:
		return ux != uc
	case llil.OpCmpSLT:
		return sx < sc
	case llil.OpCmpULT:
		return ux < uc
	case llil.OpCmpSLE:
		return sx <= sc
	case llil.OpCmpULE:
		return ux <= uc
	case llil.OpCmpSGE:
		return sx >= sc
	case llil.OpCmpUGE:
		return ux >= uc
	case llil.OpCmpSGT:
		return sx > sc
	case llil.OpCmpUGT:
		return ux > uc
	}
	return false
}

// decide reports the outcome of "v op c" when every value v denotes agrees.
func (m *machine) decide(op llil.Operation, v Value, c int64, size int) (result, known bool) {
	vals, ok := v.Values(m.tableMax)
	if !ok || v.Kind == LookupTableValue {
		return false, false
	}
	first := holds(op, vals[0], c, size)
	for _, x := range vals[1:] {
		if holds(op, x, c, size) != first {
			return false, false
		}
	}
	return first, true
}

func (m *machine) compare(s *state, x llil.Expr) Value {
	left, right := m.fn.Expr(x.Left()), m.fn.Expr(x.Right())
	size := m.sizeOf(left)
	a, b := m.eval(s, x.Left()), m.eval(s, x.Right())
	if !b.IsConstant() {
		return UnsignedRange(0, 1, 1)
	}
	if r, ok := m.decide(x.Op, a, b.Offset, size); ok {
		if r {
			return Constant(1)
		}
		return Constant(0)
	}
	if left.Op == llil.OpReg && right.Op == llil.OpConst {
		return ComparisonResult(Comparison{Op: x.Op, Reg: left.Reg(), Left: a, Const: b.Offset, Size: size})
	}
	return UnsignedRange(0, 1, 1)
}

// readMem loads size bytes from read-only memory.
func (m *machine) readMem(addr uint64, size int) (int64, bool) {
	if m.mem == nil || size <= 0 || size > 8 {
		return 0, false
	}
	addr = mask(addr, m.addrSize)
	last := addr + uint64(size) - 1
	if !m.mem.IsOffsetReadable(addr) || !m.mem.IsOffsetReadable(last) ||
		m.mem.IsOffsetWritable(addr) || m.mem.IsOffsetWritable(last) {
		return 0, false
	}
	v, ok := binaryview.ReadUint(m.mem, addr, size)
	if !ok {
		return 0, false
	}
	return norm(v, size), true
}

func (m *machine) load(s *state, addr Value, size int) Value {
	switch addr.Kind {
	case StackFrameOffset:
		m.noteVar(addr.Offset, size)
		if sl, ok := s.stack[addr.Offset]; ok && sl.size == size {
			return sl.v
		}
		return Undetermined()
	case ConstantValue:
		if v, ok := m.readMem(uint64(addr.Offset), size); ok {
			return Constant(v)
		}
		return Undetermined()
	case UnsignedRangeValue, SignedRangeValue:
		addrs, ok := addr.Values(m.tableMax)
		if !ok {
			return Undetermined()
		}
		entries := make([]TableEntry, 0, len(addrs))
		for _, a := range addrs {
			v, ok := m.readMem(uint64(a), size)
			if !ok {
				return Undetermined()
			}
			entries = append(entries, TableEntry{From: []int64{a}, To: v})
		}
		t := LookupTable(entries)
		if len(t.Table) == 1 {
			return Constant(t.Table[0].To)
		}
		return t
	}
	return Undetermined()
}

func (m *machine) store(s *state, addr, v Value, size int) {
	if addr.Kind != StackFrameOffset {
		return
	}
	off := addr.Offset
	m.noteVar(off, size)
	for o, sl := range s.stack {
		if o < off+int64(size) && off < o+int64(sl.size) {
			delete(s.stack, o)
		}
	}
	s.stack[off] = slot{size: size, v: v}
}

func (m *machine) push(s *state, v Value, size int) {
	sp := m.binary(llil.OpSub, m.read(s, m.sp), Constant(int64(size)), m.addrSize)
	m.write(s, m.sp, sp)
	m.store(s, sp, v, size)
}

// pop reads the frame without recording a stack variable.
func (m *machine) pop(s *state, size int) Value {
	sp := m.read(s, m.sp)
	v := Undetermined()
	if sl, ok := s.stack[sp.Offset]; ok && sp.Kind == StackFrameOffset && sl.size == size {
		v = sl.v
	}
	m.write(s, m.sp, m.binary(llil.OpAdd, sp, Constant(int64(size)), m.addrSize))
	return v
}

func (m *machine) noteVar(off int64, size int) {
	if m.collect && m.vars[off] < size {
		m.vars[off] = size
	}
}

// clobber applies the effect of a call on the caller's registers.
func (m *machine) clobber(s *state) {
	if m.cc == nil {
		sp := m.read(s, m.sp)
		s.top = true
		for r := range s.regs {
			s.regs[r] = Undetermined()
		}
		m.write(s, m.sp, sp)
		return
	}
	for _, r := range m.cc.CallerSaved {
		m.write(s, r, Undetermined())
	}
	for _, r := range []isa.Register{m.cc.IntegerReturn, m.cc.HighIntegerReturn} {
		if r != isa.InvalidRegister {
			m.write(s, r, Undetermined())
		}
	}
}

// step applies instruction i to s in place.
func (m *machine) step(s *state, i llil.InstrIndex) {
	root := m.fn.InstructionExpr(i)
	x := m.fn.Expr(root)
	switch x.Op {
	case llil.OpSetReg:
		m.write(s, x.Reg(), m.eval(s, x.Right()))
	case llil.OpSetRegSplit:
		v := m.eval(s, llil.ExprIndex(x.Operands[2]))
		hi, lo := isa.Register(x.Operands[0]), isa.Register(x.Operands[1])
		size := m.sizeOf(x)
		if v.IsConstant() && size < 8 {
			m.write(s, lo, Constant(norm(uint64(v.Offset), size)))
			m.write(s, hi, Constant(norm(uint64(v.Offset)>>(8*uint(size)), size)))
		} else {
			m.write(s, lo, Undetermined())
			m.write(s, hi, Undetermined())
		}
	case llil.OpStore:
		addr := m.eval(s, x.Left())
		m.store(s, addr, m.eval(s, x.Right()), m.sizeOf(x))
	case llil.OpPush:
		m.push(s, m.eval(s, x.Src()), m.sizeOf(x))
	case llil.OpCall:
		m.eval(s, x.Src())
		m.clobber(s)
	case llil.OpSyscall:
		if m.cc != nil && m.cc.IntegerReturn != isa.InvalidRegister {
			m.write(s, m.cc.IntegerReturn, Undetermined())
		}
	default:
		m.eval(s, root)
	}
}

// invert returns the comparison that holds when op does not.
func invert(op llil.Operation) llil.Operation {
	switch op {
	case llil.OpCmpE:
		return llil.OpCmpNE
	case llil.OpCmpNE:
		return llil.OpCmpE
	case llil.OpCmpSLT:
		return llil.OpCmpSGE
	case llil.OpCmpSGE:
		return llil.OpCmpSLT
	case llil.OpCmpULT:
		return llil.OpCmpUGE
	case llil.OpCmpUGE:
		return llil.OpCmpULT
	case llil.OpCmpSLE:
		return llil.OpCmpSGT
	case llil.OpCmpSGT:
		return llil.OpCmpSLE
	case llil.OpCmpULE:
		return llil.OpCmpUGT
	case llil.OpCmpUGT:
		return llil.OpCmpULE
	}
	return op
}

// bound is the range of values satisfying "x op c".
func bound(op llil.Operation, c int64, size int) (Value, bool) {
	umax := mask(^uint64(0), size)
	smax := int64(umax >> 1)
	smin := -smax - 1
	uc := mask(uint64(c), size)
	sc := norm(uint64(c), size)
	switch op {
	case llil.OpCmpE:
		return SignedRange(sc, sc, 1), true
	case llil.OpCmpULT:
		if uc == 0 {
			return Value{}, false
		}
		return UnsignedRange(0, uc-1, 1), true
	case llil.OpCmpULE:
		return UnsignedRange(0, uc, 1), true
	case llil.OpCmpUGT:
		if uc == umax {
			return Value{}, false
		}
		return UnsignedRange(uc+1, umax, 1), true
	case llil.OpCmpUGE:
		return UnsignedRange(uc, umax, 1), true
	case llil.OpCmpSLT:
		if sc == smin {
			return Value{}, false
		}
		return SignedRange(smin, sc-1, 1), true
	case llil.OpCmpSLE:
		return SignedRange(smin, sc, 1), true
	case llil.OpCmpSGT:
		if sc == smax {
			return Value{}, false
		}
		return SignedRange(sc+1, smax, 1), true
	case llil.OpCmpSGE:
		return SignedRange(sc, smax, 1), true
	}
	return Value{}, false
}

// intersect narrows v by the bound r.
func intersect(v, r Value) Value {
	if v.IsConstant() {
		return v
	}
	if v.Kind != r.Kind {
		return r
	}
	if v.Kind == UnsignedRangeValue {
		s, e := max(v.Start, r.Start), min(v.End, r.End)
		if rem := (s - v.Start) % v.Step; rem != 0 {
			s += v.Step - rem
		}
		if s > e {
			return r
		}
		e -= (e - s) % v.Step
		return UnsignedRange(s, e, v.Step)
	}
	s, e := max(int64(v.Start), int64(r.Start)), min(int64(v.End), int64(r.End))
	if rem := uint64(s-int64(v.Start)) % v.Step; rem != 0 {
		s += int64(v.Step - rem)
	}
	if s > e {
		return r
	}
	e -= int64(uint64(e-s) % v.Step)
	return SignedRange(s, e, v.Step)
}

// refine returns the state flowing along one edge of IF(cond), narrowing
// the compared register. ok is false when the edge cannot be taken.
func (m *machine) refine(s *state, cond llil.ExprIndex, taken bool) (out *state, ok bool) {
	scratch := s.clone()
	c := m.eval(scratch, cond)
	if c.IsConstant() {
		return s, (c.Offset != 0) == taken
	}
	if c.Kind != ComparisonResultValue {
		return s, true
	}
	cmp := c.Cmp
	info := m.arch.RegisterInfo(cmp.Reg)
	if !cmp.Reg.IsTemp() && info.Size != 0 && info.FullWidth != cmp.Reg {
		return s, true
	}
	if !m.read(s, cmp.Reg).Equal(cmp.Left) {
		return s, true
	}
	op := cmp.Op
	if !taken {
		op = invert(op)
	}
	r, feasible := bound(op, cmp.Const, cmp.Size)
	if !feasible {
		if op == llil.OpCmpNE {
			return s, true
		}
		return s, false
	}
	out = s.clone()
	m.write(out, cmp.Reg, intersect(cmp.Left, r))
	return out, true
}
