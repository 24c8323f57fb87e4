package x86

import (
	"golang.org/x/arch/x86/x86asm"
)

const opNOP = 0x90

// jccForm classifies a conditional jump without prefixes: 1 for the rel8
// form (7x), 2 for the rel32 form (0F 8x), 0 otherwise.
func jccForm(data []byte) int {
	switch {
	case len(data) >= 2 && data[0]&0xF0 == 0x70:
		return 1
	case len(data) >= 6 && data[0] == 0x0F && data[1]&0xF0 == 0x80:
		return 2
	}
	return 0
}

func (a *Arch) callLen(data []byte) int {
	inst, err := a.decode(data)
	if err != nil || inst.Op != x86asm.CALL {
		return 0
	}
	return inst.Len
}

func fill(data []byte, from, to int) {
	for i := from; i < to; i++ {
		data[i] = opNOP
	}
}

func (a *Arch) IsNeverBranchPatchAvailable(data []byte, _ uint64) bool {
	return jccForm(data) != 0
}

func (a *Arch) IsAlwaysBranchPatchAvailable(data []byte, _ uint64) bool {
	return jccForm(data) != 0
}

func (a *Arch) IsInvertBranchPatchAvailable(data []byte, _ uint64) bool {
	return jccForm(data) != 0
}

func (a *Arch) IsSkipAndReturnZeroPatchAvailable(data []byte, _ uint64) bool {
	return a.callLen(data) >= 2
}

func (a *Arch) IsSkipAndReturnValuePatchAvailable(data []byte, _ uint64) bool {
	return a.callLen(data) >= 5
}

// ConvertToNop fills the instruction with single-byte NOPs.
func (a *Arch) ConvertToNop(data []byte, _ uint64) bool {
	inst, err := a.decode(data)
	if err != nil {
		return false
	}
	fill(data, 0, inst.Len)
	return true
}

// AlwaysBranch turns Jcc rel8 into JMP rel8, and Jcc rel32 into NOP; JMP
// rel32 so the displacement stays valid.
func (a *Arch) AlwaysBranch(data []byte, _ uint64) bool {
	switch jccForm(data) {
	case 1:
		data[0] = 0xEB
	case 2:
		data[0], data[1] = opNOP, 0xE9
	default:
		return false
	}
	return true
}

// InvertBranch flips the low bit of the condition code.
func (a *Arch) InvertBranch(data []byte, _ uint64) bool {
	switch jccForm(data) {
	case 1:
		data[0] ^= 1
	case 2:
		data[1] ^= 1
	default:
		return false
	}
	return true
}

// SkipAndReturnValue replaces a call with "xor eax, eax" or "mov eax,
// imm32", padded with NOPs.
func (a *Arch) SkipAndReturnValue(data []byte, _ uint64, value uint64) bool {
	n := a.callLen(data)
	switch {
	case value == 0 && n >= 2:
		data[0], data[1] = 0x31, 0xC0
		fill(data, 2, n)
	case n >= 5 && value <= 0xFFFFFFFF:
		data[0] = 0xB8
		data[1], data[2], data[3], data[4] = byte(value), byte(value>>8), byte(value>>16), byte(value>>24)
		fill(data, 5, n)
	default:
		return false
	}
	return true
}
