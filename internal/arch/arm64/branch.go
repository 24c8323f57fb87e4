package arm64

// Branch detection from the raw 32-bit encoding.

type branchKind int

const (
	branchDirect branchKind = iota
	branchCond
	branchCall
	branchRet
	branchIndirect
	branchIndirectCall
	branchSyscall
)

// branchInfo describes a decoded control transfer.
type branchInfo struct {
	kind   branchKind
	target uint64 // absolute target, 0 when register-based
	cond   uint32 // B.cond condition field
	reg    int    // register operand of BR/BLR/RET/CBZ/TBZ
	is64   bool   // CBZ/CBNZ operate on X registers
	bit    uint32 // TBZ/TBNZ bit number
	nz     bool   // CBNZ/TBNZ
	zero   bool   // CBZ/CBNZ
	test   bool   // TBZ/TBNZ
}

func pcrel(pc uint64, imm uint32, bits int) uint64 {
	return uint64(int64(pc) + int64(signExtend(imm, bits))*4)
}

// decodeBranch returns nil when raw is not a control transfer. B.cond with
// AL or NV is reported as an unconditional branch.
func decodeBranch(raw uint32, pc uint64) *branchInfo {
	switch {
	// RET Xn
	case raw&0xFFFFFC1F == 0xD65F0000:
		return &branchInfo{kind: branchRet, reg: int((raw >> 5) & 0x1F)}
	// BR Xn
	case raw&0xFFFFFC1F == 0xD61F0000:
		return &branchInfo{kind: branchIndirect, reg: int((raw >> 5) & 0x1F)}
	// BLR Xn
	case raw&0xFFFFFC1F == 0xD63F0000:
		return &branchInfo{kind: branchIndirectCall, reg: int((raw >> 5) & 0x1F)}
	// B: 000101 imm26
	case raw&0xFC000000 == 0x14000000:
		return &branchInfo{kind: branchDirect, target: pcrel(pc, raw&0x03FFFFFF, 26)}
	// BL: 100101 imm26
	case raw&0xFC000000 == 0x94000000:
		return &branchInfo{kind: branchCall, target: pcrel(pc, raw&0x03FFFFFF, 26)}
	// B.cond: 01010100 imm19 0 cond
	case raw&0xFF000010 == 0x54000000:
		b := &branchInfo{kind: branchCond, target: pcrel(pc, (raw>>5)&0x7FFFF, 19), cond: raw & 0xF}
		if b.cond >= 14 {
			b.kind = branchDirect
		}
		return b
	// CBZ / CBNZ: sf 011010 op imm19 Rt
	case raw&0x7E000000 == 0x34000000:
		return &branchInfo{kind: branchCond, target: pcrel(pc, (raw>>5)&0x7FFFF, 19),
			reg: int(raw & 0x1F), is64: raw>>31 == 1, nz: raw&(1<<24) != 0, zero: true}
	// TBZ / TBNZ: b5 011011 op b40 imm14 Rt
	case raw&0x7E000000 == 0x36000000:
		return &branchInfo{kind: branchCond, target: pcrel(pc, (raw>>5)&0x3FFF, 14),
			reg: int(raw & 0x1F), bit: (raw>>31)<<5 | (raw>>19)&0x1F, nz: raw&(1<<24) != 0, test: true, is64: true}
	// SVC #imm16
	case raw&0xFFE0001F == 0xD4000001:
		return &branchInfo{kind: branchSyscall}
	}
	return nil
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask)
	}
	return int32(val & mask)
}
