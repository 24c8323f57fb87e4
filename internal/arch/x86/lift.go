package x86

import (
	"golang.org/x/arch/x86/x86asm"

	"liftkit/internal/arch"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

var jccConds = map[x86asm.Op]isa.FlagCondition{
	x86asm.JE: isa.CondE, x86asm.JNE: isa.CondNE,
	x86asm.JB: isa.CondULT, x86asm.JAE: isa.CondUGE,
	x86asm.JBE: isa.CondULE, x86asm.JA: isa.CondUGT,
	x86asm.JL: isa.CondSLT, x86asm.JGE: isa.CondSGE,
	x86asm.JLE: isa.CondSLE, x86asm.JG: isa.CondSGT,
	x86asm.JS: isa.CondNeg, x86asm.JNS: isa.CondPos,
	x86asm.JO: isa.CondO, x86asm.JNO: isa.CondNO,
}

func isJcc(op x86asm.Op) bool {
	if _, ok := jccConds[op]; ok {
		return true
	}
	switch op {
	case x86asm.JP, x86asm.JNP, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		return true
	}
	return false
}

var binaryOps = map[x86asm.Op]llil.Operation{
	x86asm.ADD: llil.OpAdd, x86asm.SUB: llil.OpSub,
	x86asm.AND: llil.OpAnd, x86asm.OR: llil.OpOr, x86asm.XOR: llil.OpXor,
}

var shiftOps = map[x86asm.Op]llil.Operation{
	x86asm.SHL: llil.OpLsl, x86asm.SHR: llil.OpLsr, x86asm.SAR: llil.OpAsr,
	x86asm.ROL: llil.OpRol, x86asm.ROR: llil.OpRor,
}

type lifter struct {
	a    *Arch
	il   *llil.Function
	inst x86asm.Inst
	addr uint64
	next uint64
}

func (l *lifter) args() []x86asm.Arg {
	var out []x86asm.Arg
	for _, arg := range l.inst.Args {
		if arg == nil {
			break
		}
		out = append(out, arg)
	}
	return out
}

// supported reports whether every operand can be expressed in IL.
func (l *lifter) supported() bool {
	for _, arg := range l.args() {
		switch v := arg.(type) {
		case x86asm.Reg:
			if l.a.cat.RegisterInfo(Reg(v)).Size == 0 {
				return false
			}
		case x86asm.Mem:
			if v.Segment == x86asm.FS || v.Segment == x86asm.GS {
				return false
			}
		case x86asm.Imm, x86asm.Rel:
		default:
			return false
		}
	}
	return true
}

func (l *lifter) opSize(arg x86asm.Arg) int {
	switch v := arg.(type) {
	case x86asm.Reg:
		return l.a.cat.RegisterInfo(Reg(v)).Size
	case x86asm.Mem:
		if l.inst.MemBytes > 0 {
			return l.inst.MemBytes
		}
	}
	return l.inst.DataSize / 8
}

func (l *lifter) address(m x86asm.Mem) llil.ExprIndex {
	il, as := l.il, l.a.size
	if m.Base == x86asm.RIP || m.Base == x86asm.EIP {
		return il.Const(as, l.a.mask(l.next+uint64(m.Disp)))
	}
	e := llil.NoExpr
	add := func(x llil.ExprIndex) {
		if e == llil.NoExpr {
			e = x
			return
		}
		e = il.Add(as, e, x, 0)
	}
	if m.Base != 0 {
		add(il.Reg(l.opSize(m.Base), Reg(m.Base)))
	}
	if m.Index != 0 {
		idx := il.Reg(l.opSize(m.Index), Reg(m.Index))
		if m.Scale > 1 {
			idx = il.Mult(as, idx, il.Const(as, uint64(m.Scale)), 0)
		}
		add(idx)
	}
	if m.Disp != 0 || e == llil.NoExpr {
		add(il.Const(as, uint64(m.Disp)))
	}
	return e
}

func (l *lifter) read(arg x86asm.Arg, size int) llil.ExprIndex {
	il := l.il
	switch v := arg.(type) {
	case x86asm.Reg:
		if v == x86asm.RIP || v == x86asm.EIP {
			return il.Const(l.a.size, l.next)
		}
		return il.Reg(l.opSize(v), Reg(v))
	case x86asm.Imm:
		return il.Const(size, uint64(int64(v)))
	case x86asm.Mem:
		return il.Load(size, l.address(v))
	case x86asm.Rel:
		return il.Const(l.a.size, l.a.relTarget(l.inst, l.addr, v))
	}
	return il.Undefined()
}

func (l *lifter) write(arg x86asm.Arg, size int, e llil.ExprIndex) {
	il := l.il
	switch v := arg.(type) {
	case x86asm.Reg:
		il.AddInstruction(il.SetReg(l.opSize(v), Reg(v), e))
	case x86asm.Mem:
		il.AddInstruction(il.Store(size, l.address(v), e))
	default:
		il.AddInstruction(il.Unimplemented())
	}
}

func (l *lifter) reg(r x86asm.Reg) llil.ExprIndex { return l.il.Reg(l.a.size, Reg(r)) }

// Lift implements arch.Architecture.
func (a *Arch) Lift(data []byte, addr uint64, il *llil.Function) (int, error) {
	inst, err := a.decode(data)
	if err != nil {
		return 0, err
	}
	il.SetCurrentAddress(addr)
	l := &lifter{a: a, il: il, inst: inst, addr: addr, next: a.mask(addr + uint64(inst.Len))}
	if !l.supported() || !l.lift() {
		il.AddInstruction(il.Unimplemented())
	}
	return inst.Len, nil
}

// lift emits IL for the modelled subset and reports false for anything else
// before emitting an instruction.
func (l *lifter) lift() bool {
	il, as := l.il, l.a.size
	args := l.args()
	op := l.inst.Op
	var dst, src x86asm.Arg
	if len(args) > 0 {
		dst = args[0]
	}
	if len(args) > 1 {
		src = args[1]
	}
	size := 0
	if dst != nil {
		size = l.opSize(dst)
	}

	if bop, ok := binaryOps[op]; ok && len(args) == 2 {
		l.write(dst, size, il.Binary(bop, size, l.read(dst, size), l.read(src, size), FlagsAll))
		return true
	}
	if sop, ok := shiftOps[op]; ok && len(args) == 2 {
		l.write(dst, size, il.Binary(sop, size, l.read(dst, size), l.read(src, 1), FlagsAll))
		return true
	}
	if cond, ok := jccConds[op]; ok {
		return l.jcc(il.FlagCondition(cond), dst)
	}

	switch op {
	case x86asm.NOP:
		il.AddInstruction(il.Nop())
	case x86asm.MOV:
		if len(args) != 2 {
			return false
		}
		l.write(dst, size, l.read(src, size))
	case x86asm.LEA:
		m, ok := src.(x86asm.Mem)
		if !ok {
			return false
		}
		l.write(dst, size, l.address(m))
	case x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		v := l.read(src, l.opSize(src))
		if op == x86asm.MOVZX {
			v = il.ZeroExtend(size, v)
		} else {
			v = il.SignExtend(size, v)
		}
		l.write(dst, size, v)
	case x86asm.ADC, x86asm.SBB:
		bop := llil.OpAdc
		if op == x86asm.SBB {
			bop = llil.OpSbb
		}
		l.write(dst, size, il.WithCarry(bop, size, l.read(dst, size), l.read(src, size), il.Flag(FlagCF), FlagsAll))
	case x86asm.CMP:
		il.AddInstruction(il.Sub(size, l.read(dst, size), l.read(src, size), FlagsAll))
	case x86asm.TEST:
		il.AddInstruction(il.And(size, l.read(dst, size), l.read(src, size), FlagsAll))
	case x86asm.INC:
		l.write(dst, size, il.Add(size, l.read(dst, size), il.Const(size, 1), FlagsNotCarry))
	case x86asm.DEC:
		l.write(dst, size, il.Sub(size, l.read(dst, size), il.Const(size, 1), FlagsNotCarry))
	case x86asm.NEG:
		l.write(dst, size, il.Neg(size, l.read(dst, size), FlagsAll))
	case x86asm.NOT:
		l.write(dst, size, il.Not(size, l.read(dst, size), 0))
	case x86asm.IMUL:
		switch len(args) {
		case 2:
			l.write(dst, size, il.Mult(size, l.read(dst, size), l.read(src, size), FlagsAll))
		case 3:
			l.write(dst, size, il.Mult(size, l.read(src, size), l.read(args[2], size), FlagsAll))
		default:
			return false
		}
	case x86asm.XCHG:
		tmp := il.NewTempRegister()
		il.AddInstruction(il.SetReg(size, tmp, l.read(dst, size)))
		l.write(dst, size, l.read(src, size))
		l.write(src, size, il.Reg(size, tmp))
	case x86asm.PUSH:
		il.AddInstruction(il.Push(as, l.read(dst, as)))
	case x86asm.POP:
		l.write(dst, as, il.Pop(as))
	case x86asm.LEAVE:
		il.AddInstruction(il.SetReg(as, Reg(l.a.sp), l.reg(l.a.bp)))
		il.AddInstruction(il.SetReg(as, Reg(l.a.bp), il.Pop(as)))
	case x86asm.CALL:
		il.AddInstruction(il.Call(l.read(dst, as)))
	case x86asm.RET:
		if imm, ok := dst.(x86asm.Imm); ok {
			tmp := il.NewTempRegister()
			il.AddInstruction(il.SetReg(as, tmp, il.Pop(as)))
			il.AddInstruction(il.SetReg(as, Reg(l.a.sp), il.Add(as, l.reg(l.a.sp), il.Const(as, uint64(imm)), 0)))
			il.AddInstruction(il.Ret(il.Reg(as, tmp)))
			break
		}
		il.AddInstruction(il.Ret(il.Pop(as)))
	case x86asm.JMP:
		if rel, ok := dst.(x86asm.Rel); ok {
			arch.DirectJump(il, as, l.a.relTarget(l.inst, l.addr, rel))
			break
		}
		il.AddInstruction(il.Jump(l.read(dst, as)))
	case x86asm.JP:
		return l.jcc(il.Flag(FlagPF), dst)
	case x86asm.JNP:
		return l.jcc(il.Not(0, il.Flag(FlagPF), 0), dst)
	case x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		cx := map[x86asm.Op]x86asm.Reg{x86asm.JCXZ: x86asm.CX, x86asm.JECXZ: x86asm.ECX, x86asm.JRCXZ: x86asm.RCX}[op]
		n := l.opSize(cx)
		return l.jcc(il.Compare(llil.OpCmpE, n, il.Reg(n, Reg(cx)), il.Const(n, 0)), dst)
	case x86asm.SYSCALL, x86asm.SYSENTER:
		il.AddInstruction(il.Syscall())
	case x86asm.INT:
		imm, ok := dst.(x86asm.Imm)
		switch {
		case !ok:
			return false
		case imm == 3:
			il.AddInstruction(il.Breakpoint())
		case imm == 0x80:
			il.AddInstruction(il.Syscall())
		default:
			il.AddInstruction(il.Trap(uint64(imm)))
		}
	case x86asm.HLT:
		il.AddInstruction(il.NoReturn())
	case x86asm.UD2:
		il.AddInstruction(il.Undefined())
	default:
		return false
	}
	return true
}

func (l *lifter) jcc(cond llil.ExprIndex, target x86asm.Arg) bool {
	rel, ok := target.(x86asm.Rel)
	if !ok {
		return false
	}
	arch.ConditionalBranch(l.il, l.a.size, cond, l.a.relTarget(l.inst, l.addr, rel), l.next)
	return true
}
