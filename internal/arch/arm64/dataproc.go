package arm64

import (
	"liftkit/internal/llil"
)

func field(raw uint32, lo, width uint) uint32 { return (raw >> lo) & (1<<width - 1) }

// dataProcessing lifts the integer data processing subset. It reports false
// for encodings it does not model.
func (l *lifter) dataProcessing(raw uint32) bool {
	il := l.il
	is64 := raw>>31 == 1
	size := regSize(is64)
	rd, rn := int(field(raw, 0, 5)), int(field(raw, 5, 5))

	switch {
	// NOP and the other hints.
	case raw&0xFFFFF01F == 0xD503201F:
		il.AddInstruction(il.Nop())

	// BRK #imm16
	case raw&0xFFE0001F == 0xD4200000:
		il.AddInstruction(il.Breakpoint())

	// MOVN / MOVZ / MOVK: sf opc 100101 hw imm16 Rd
	case raw&0x1F800000 == 0x12800000:
		shift := field(raw, 21, 2) * 16
		if !is64 && shift > 16 {
			return false
		}
		v := uint64(field(raw, 5, 16)) << shift
		switch field(raw, 29, 2) {
		case 0:
			l.write(rd, is64, false, il.Const(size, llil.Mask(^v, size)))
		case 2:
			l.write(rd, is64, false, il.Const(size, v))
		case 3:
			keep := il.And(size, l.read(rd, is64, false), il.Const(size, llil.Mask(^(uint64(0xFFFF)<<shift), size)), 0)
			l.write(rd, is64, false, il.Or(size, keep, il.Const(size, v), 0))
		default:
			return false
		}

	// ADD / ADDS / SUB / SUBS (immediate): sf op S 100010 sh imm12 Rn Rd
	case raw&0x1F800000 == 0x11000000:
		imm := uint64(field(raw, 10, 12))
		if raw&(1<<22) != 0 {
			imm <<= 12
		}
		setFlags := raw&(1<<29) != 0
		e := l.arith(raw&(1<<30) != 0, size, l.read(rn, is64, true), il.Const(size, imm), setFlags)
		l.write(rd, is64, !setFlags, e)

	// ADD / SUB (shifted register): sf op S 01011 shift 0 Rm imm6 Rn Rd
	case raw&0x1F200000 == 0x0B000000:
		typ := field(raw, 22, 2)
		if typ == 3 {
			return false
		}
		rm := int(field(raw, 16, 5))
		op2 := l.shifted(size, l.read(rm, is64, false), typ, field(raw, 10, 6))
		setFlags := raw&(1<<29) != 0
		l.write(rd, is64, false, l.arith(raw&(1<<30) != 0, size, l.read(rn, is64, false), op2, setFlags))

	// Logical (shifted register): sf opc 01010 shift N Rm imm6 Rn Rd
	case raw&0x1F000000 == 0x0A000000:
		opc, typ, imm6 := field(raw, 29, 2), field(raw, 22, 2), field(raw, 10, 6)
		rm := int(field(raw, 16, 5))
		invert := raw&(1<<21) != 0
		if opc == 1 && !invert && rn == 31 && imm6 == 0 {
			// MOV Rd, Rm
			l.write(rd, is64, false, l.read(rm, is64, false))
			return true
		}
		op2 := l.shifted(size, l.read(rm, is64, false), typ, imm6)
		if invert {
			op2 = il.Not(size, op2, 0)
		}
		a := l.read(rn, is64, false)
		var e llil.ExprIndex
		switch opc {
		case 0:
			e = il.And(size, a, op2, 0)
		case 1:
			e = il.Or(size, a, op2, 0)
		case 2:
			e = il.Xor(size, a, op2, 0)
		case 3:
			e = il.And(size, a, op2, FlagsNZCV)
		}
		l.write(rd, is64, false, e)

	// ADR / ADRP: op immlo 10000 immhi Rd
	case raw&0x1F000000 == 0x10000000:
		imm := int64(signExtend(field(raw, 5, 19)<<2|field(raw, 29, 2), 21))
		v := uint64(int64(l.addr) + imm)
		if raw>>31 == 1 {
			v = uint64(int64(l.addr&^0xFFF) + imm<<12)
		}
		l.write(rd, true, false, il.Const(8, v))

	default:
		return false
	}
	return true
}

func (l *lifter) arith(sub bool, size int, a, b llil.ExprIndex, setFlags bool) llil.ExprIndex {
	flags := FlagsNZCV
	if !setFlags {
		flags = 0
	}
	if sub {
		return l.il.Sub(size, a, b, flags)
	}
	return l.il.Add(size, a, b, flags)
}
