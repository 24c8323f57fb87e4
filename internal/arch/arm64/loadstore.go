package arm64

import (
	"liftkit/internal/llil"
)

// transfer moves one register to or from memory. Loads narrower than the
// destination are extended, signed when sign is set.
func (l *lifter) transfer(load bool, n, rt int, a llil.ExprIndex, dst64, sign bool) {
	il := l.il
	if !load {
		var v llil.ExprIndex
		if rt == 31 {
			v = il.Const(n, 0)
		} else {
			v = il.Reg(n, gpr(rt, n == 8, false))
		}
		il.AddInstruction(il.Store(n, a, v))
		return
	}
	v := il.Load(n, a)
	if dst := regSize(dst64); n < dst {
		if sign {
			v = il.SignExtend(dst, v)
		} else {
			v = il.ZeroExtend(dst, v)
		}
	}
	l.write(rt, dst64, false, v)
}

// ldstDest decodes the opc field of the single-register forms.
func ldstDest(size, opc uint32) (load, dst64, sign, ok bool) {
	switch opc {
	case 0:
		return false, size == 3, false, true
	case 1:
		return true, size == 3, false, true
	case 2:
		return true, true, true, size != 3
	case 3:
		return true, false, true, size < 2
	}
	return false, false, false, false
}

// loadStore lifts the general purpose load/store subset.
func (l *lifter) loadStore(raw uint32) bool {
	il := l.il
	rt, rn := int(field(raw, 0, 5)), int(field(raw, 5, 5))

	switch {
	// LDR/STR (unsigned offset): size 111 0 01 opc imm12 Rn Rt
	case raw&0x3F000000 == 0x39000000:
		size, opc := field(raw, 30, 2), field(raw, 22, 2)
		load, dst64, sign, ok := ldstDest(size, opc)
		if !ok {
			return false
		}
		n := 1 << size
		a := l.offset(l.read(rn, true, true), int64(field(raw, 10, 12))*int64(n))
		l.transfer(load, n, rt, a, dst64, sign)

	// LDUR/STUR and pre/post index: size 111 0 00 opc 0 imm9 idx Rn Rt
	case raw&0x3F200000 == 0x38000000:
		size, opc, idx := field(raw, 30, 2), field(raw, 22, 2), field(raw, 10, 2)
		load, dst64, sign, ok := ldstDest(size, opc)
		if !ok || idx == 2 {
			return false
		}
		n := 1 << size
		off := int64(signExtend(field(raw, 12, 9), 9))
		base := gpr(rn, true, true)
		switch idx {
		case 0:
			l.transfer(load, n, rt, l.offset(l.read(rn, true, true), off), dst64, sign)
		case 1:
			l.transfer(load, n, rt, il.Reg(8, base), dst64, sign)
			il.AddInstruction(il.SetReg(8, base, l.offset(il.Reg(8, base), off)))
		case 3:
			il.AddInstruction(il.SetReg(8, base, l.offset(il.Reg(8, base), off)))
			l.transfer(load, n, rt, il.Reg(8, base), dst64, sign)
		}

	// LDR (literal) and LDRSW (literal): opc 011 0 00 imm19 Rt
	case raw&0x3F000000 == 0x18000000:
		a := il.Const(8, pcrel(l.addr, field(raw, 5, 19), 19))
		switch raw >> 30 {
		case 0:
			l.transfer(true, 4, rt, a, false, false)
		case 1:
			l.transfer(true, 8, rt, a, true, false)
		case 2:
			l.transfer(true, 4, rt, a, true, true)
		default:
			il.AddInstruction(il.Nop()) // PRFM
		}

	// LDP/STP: opc 101 0 mode L imm7 Rt2 Rn Rt
	case raw&0x3E000000 == 0x28000000:
		var n int
		switch raw >> 30 {
		case 0:
			n = 4
		case 2:
			n = 8
		default:
			return false
		}
		load := raw&(1<<22) != 0
		rt2 := int(field(raw, 10, 5))
		off := int64(signExtend(field(raw, 15, 7), 7)) * int64(n)
		base := gpr(rn, true, true)
		var a llil.ExprIndex
		switch field(raw, 23, 2) {
		case 3: // pre-index
			il.AddInstruction(il.SetReg(8, base, l.offset(il.Reg(8, base), off)))
			a = il.Reg(8, base)
		case 1: // post-index
			a = il.Reg(8, base)
		default:
			a = l.offset(il.Reg(8, base), off)
		}
		if load {
			tmp := il.NewTempRegister()
			il.AddInstruction(il.SetReg(8, tmp, a))
			a = il.Reg(8, tmp)
		}
		l.transfer(load, n, rt, a, n == 8, false)
		l.transfer(load, n, rt2, l.offset(a, int64(n)), n == 8, false)
		if field(raw, 23, 2) == 1 {
			il.AddInstruction(il.SetReg(8, base, l.offset(il.Reg(8, base), off)))
		}

	default:
		return false
	}
	return true
}
