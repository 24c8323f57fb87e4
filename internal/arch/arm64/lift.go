package arm64

import (
	"liftkit/internal/arch"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

// lifter emits IL for one instruction.
type lifter struct {
	il   *llil.Function
	addr uint64
}

func regSize(is64 bool) int {
	if is64 {
		return 8
	}
	return 4
}

// gpr maps an encoded register number to a register. Number 31 is SP when
// sp is set and the zero register otherwise.
func gpr(n int, is64, sp bool) isa.Register {
	switch {
	case n == 31 && sp && is64:
		return SP
	case n == 31 && sp:
		return WSP
	case n == 31 && is64:
		return XZR
	case n == 31:
		return WZR
	case is64:
		return X(n)
	}
	return W(n)
}

func (l *lifter) read(n int, is64, sp bool) llil.ExprIndex {
	size := regSize(is64)
	if n == 31 && !sp {
		return l.il.Const(size, 0)
	}
	return l.il.Reg(size, gpr(n, is64, sp))
}

// write assigns e to a register. Writes to the zero register keep only the
// flag side effects of e.
func (l *lifter) write(n int, is64, sp bool, e llil.ExprIndex) {
	if n == 31 && !sp {
		if l.il.Expr(e).Flags != 0 {
			l.il.AddInstruction(e)
		} else {
			l.il.AddInstruction(l.il.Nop())
		}
		return
	}
	l.il.AddInstruction(l.il.SetReg(regSize(is64), gpr(n, is64, sp), e))
}

func (l *lifter) offset(base llil.ExprIndex, off int64) llil.ExprIndex {
	if off == 0 {
		return base
	}
	return l.il.Add(8, base, l.il.Const(8, uint64(off)), 0)
}

func (l *lifter) shifted(size int, v llil.ExprIndex, typ, amount uint32) llil.ExprIndex {
	if amount == 0 {
		return v
	}
	c := l.il.Const(1, uint64(amount))
	switch typ {
	case 0:
		return l.il.ShiftLeft(size, v, c, 0)
	case 1:
		return l.il.LogicalShiftRight(size, v, c, 0)
	case 2:
		return l.il.ArithShiftRight(size, v, c, 0)
	}
	return l.il.Binary(llil.OpRor, size, v, c, 0)
}

// Lift implements arch.Architecture.
func (a Arch) Lift(data []byte, addr uint64, il *llil.Function) (int, error) {
	raw, _, err := fetch(data)
	if err != nil {
		return 0, err
	}
	il.SetCurrentAddress(addr)
	l := &lifter{il: il, addr: addr}
	if b := decodeBranch(raw, addr); b != nil {
		l.branch(b)
		return instrSize, nil
	}
	if !l.dataProcessing(raw) && !l.loadStore(raw) {
		il.AddInstruction(il.Unimplemented())
	}
	return instrSize, nil
}

func (l *lifter) branch(b *branchInfo) {
	il := l.il
	next := l.addr + instrSize
	switch b.kind {
	case branchDirect:
		arch.DirectJump(il, 8, b.target)
	case branchCall:
		il.AddInstruction(il.Call(il.Const(8, b.target)))
	case branchIndirect:
		il.AddInstruction(il.Jump(il.Reg(8, gpr(b.reg, true, false))))
	case branchIndirectCall:
		il.AddInstruction(il.Call(il.Reg(8, gpr(b.reg, true, false))))
	case branchRet:
		il.AddInstruction(il.Ret(il.Reg(8, gpr(b.reg, true, false))))
	case branchSyscall:
		il.AddInstruction(il.Syscall())
	case branchCond:
		var cond llil.ExprIndex
		switch {
		case b.test:
			bit := il.And(8, l.read(b.reg, true, false), il.Const(8, 1<<b.bit), 0)
			op := llil.OpCmpE
			if b.nz {
				op = llil.OpCmpNE
			}
			cond = il.Compare(op, 8, bit, il.Const(8, 0))
		case b.zero:
			size := regSize(b.is64)
			op := llil.OpCmpE
			if b.nz {
				op = llil.OpCmpNE
			}
			cond = il.Compare(op, size, l.read(b.reg, b.is64, false), il.Const(size, 0))
		default:
			cond = il.FlagCondition(condFlags[b.cond])
		}
		arch.ConditionalBranch(il, 8, cond, b.target, next)
	}
}
