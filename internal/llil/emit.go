package llil

import "liftkit/internal/isa"

func u(e ExprIndex) uint64 { return uint64(e) }

func (f *Function) Nop() ExprIndex { return f.AddExpr(OpNop, 0, 0) }

func (f *Function) Const(size int, v uint64) ExprIndex {
	return f.AddExpr(OpConst, size, 0, Mask(v, size))
}

func (f *Function) Reg(size int, r isa.Register) ExprIndex {
	return f.AddExpr(OpReg, size, 0, uint64(r))
}

func (f *Function) SetReg(size int, r isa.Register, src ExprIndex) ExprIndex {
	return f.AddExpr(OpSetReg, size, 0, uint64(r), u(src))
}

// SetRegSplit writes the high half of src to hi and the low half to lo.
func (f *Function) SetRegSplit(size int, hi, lo isa.Register, src ExprIndex) ExprIndex {
	return f.AddExpr(OpSetRegSplit, size, 0, uint64(hi), uint64(lo), u(src))
}

func (f *Function) Flag(fl isa.Flag) ExprIndex { return f.AddExpr(OpFlag, 0, 0, uint64(fl)) }

func (f *Function) SetFlag(fl isa.Flag, src ExprIndex) ExprIndex {
	return f.AddExpr(OpSetFlag, 0, 0, uint64(fl), u(src))
}

func (f *Function) FlagBit(size int, src ExprIndex, bit uint64) ExprIndex {
	return f.AddExpr(OpFlagBit, size, 0, u(src), bit)
}

func (f *Function) Load(size int, addr ExprIndex) ExprIndex {
	return f.AddExpr(OpLoad, size, 0, u(addr))
}

func (f *Function) Store(size int, addr, val ExprIndex) ExprIndex {
	return f.AddExpr(OpStore, size, 0, u(addr), u(val))
}

func (f *Function) Push(size int, val ExprIndex) ExprIndex {
	return f.AddExpr(OpPush, size, 0, u(val))
}

func (f *Function) Pop(size int) ExprIndex { return f.AddExpr(OpPop, size, 0) }

// Binary emits any two-operand arithmetic, bitwise or shift operation.
func (f *Function) Binary(op Operation, size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.AddExpr(op, size, flags, u(a), u(b))
}

// WithCarry emits ADC, SBB, RLC or RRC.
func (f *Function) WithCarry(op Operation, size int, a, b, carry ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.AddExpr(op, size, flags, u(a), u(b), u(carry))
}

func (f *Function) Add(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpAdd, size, a, b, flags)
}

func (f *Function) Sub(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpSub, size, a, b, flags)
}

func (f *Function) And(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpAnd, size, a, b, flags)
}

func (f *Function) Or(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpOr, size, a, b, flags)
}

func (f *Function) Xor(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpXor, size, a, b, flags)
}

func (f *Function) ShiftLeft(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpLsl, size, a, b, flags)
}

func (f *Function) LogicalShiftRight(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpLsr, size, a, b, flags)
}

func (f *Function) ArithShiftRight(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpAsr, size, a, b, flags)
}

func (f *Function) Mult(size int, a, b ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Binary(OpMul, size, a, b, flags)
}

// Unary emits NEG, NOT, SX, ZX or BOOL_TO_INT.
func (f *Function) Unary(op Operation, size int, a ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.AddExpr(op, size, flags, u(a))
}

func (f *Function) Neg(size int, a ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Unary(OpNeg, size, a, flags)
}

func (f *Function) Not(size int, a ExprIndex, flags isa.FlagWriteType) ExprIndex {
	return f.Unary(OpNot, size, a, flags)
}

func (f *Function) SignExtend(size int, a ExprIndex) ExprIndex { return f.Unary(OpSx, size, a, 0) }

func (f *Function) ZeroExtend(size int, a ExprIndex) ExprIndex { return f.Unary(OpZx, size, a, 0) }

// Compare emits one of the CMP_* operations.
func (f *Function) Compare(op Operation, size int, a, b ExprIndex) ExprIndex {
	return f.AddExpr(op, size, 0, u(a), u(b))
}

func (f *Function) TestBit(size int, a, b ExprIndex) ExprIndex {
	return f.AddExpr(OpTestBit, size, 0, u(a), u(b))
}

func (f *Function) BoolToInt(size int, a ExprIndex) ExprIndex {
	return f.AddExpr(OpBoolToInt, size, 0, u(a))
}

func (f *Function) FlagCondition(c isa.FlagCondition) ExprIndex {
	return f.AddExpr(OpFlagCond, 0, 0, uint64(c))
}

// Jump emits an indirect jump. When SetIndirectBranches is in effect and
// every target has an address label, the jump becomes a JUMP_TO over those
// labels.
func (f *Function) Jump(dest ExprIndex) ExprIndex {
	if len(f.indirect) > 0 {
		labels := make([]*Label, 0, len(f.indirect))
		for _, t := range f.indirect {
			l := f.labels[t]
			if l == nil {
				labels = nil
				break
			}
			labels = append(labels, l)
		}
		if labels != nil {
			return f.JumpTo(dest, labels)
		}
	}
	return f.AddExpr(OpJump, 0, 0, u(dest))
}

// JumpTo emits a jump whose possible targets are the given labels.
func (f *Function) JumpTo(dest ExprIndex, targets []*Label) ExprIndex {
	e := f.AddExpr(OpJumpTo, 0, 0, u(dest), 0, uint64(len(targets)))
	f.exprs[e].Operands[1] = f.AddLabelList(targets)
	return e
}

func (f *Function) Call(dest ExprIndex) ExprIndex { return f.AddExpr(OpCall, 0, 0, u(dest)) }

func (f *Function) Ret(dest ExprIndex) ExprIndex { return f.AddExpr(OpRet, 0, 0, u(dest)) }

func (f *Function) NoReturn() ExprIndex { return f.AddExpr(OpNoRet, 0, 0) }

func (f *Function) Syscall() ExprIndex { return f.AddExpr(OpSyscall, 0, 0) }

func (f *Function) Breakpoint() ExprIndex { return f.AddExpr(OpBp, 0, 0) }

func (f *Function) Trap(vector uint64) ExprIndex { return f.AddExpr(OpTrap, 0, 0, vector) }

func (f *Function) Undefined() ExprIndex { return f.AddExpr(OpUndef, 0, 0) }

func (f *Function) Unimplemented() ExprIndex { return f.AddExpr(OpUnimpl, 0, 0) }

func (f *Function) UnimplementedMemory(size int, addr ExprIndex) ExprIndex {
	return f.AddExpr(OpUnimplMem, size, 0, u(addr))
}
