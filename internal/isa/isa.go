// Package isa holds the vocabulary shared by architectures, the IL builder
// and the analyses: register and flag identifiers, branch kinds, flag
// conditions and display tokens.
package isa

import "fmt"

// Instruction size limits.
const (
	MaxInstructionLength     = 256
	DefaultInstructionLength = 16
	DefaultOpcodeDisplay     = 8
	MaxInstructionBranches   = 3
)

// InvalidOperand marks an unused operand slot.
const InvalidOperand = 0xffffffff

const tempBit = 0x80000000

// Register identifies a native register or, with the high bit set, an
// architecture-independent temporary.
type Register uint32

// InvalidRegister means "no register".
const InvalidRegister Register = 0xffffffff

// TempRegister returns the identifier of temporary register n.
func TempRegister(n uint32) Register { return Register(tempBit | n) }

// IsTemp reports whether r is a temporary.
func (r Register) IsTemp() bool { return r != InvalidRegister && r&tempBit != 0 }

// TempIndex returns the temporary number of r. Only valid when IsTemp.
func (r Register) TempIndex() uint32 { return uint32(r) &^ tempBit }

// Flag identifies a native flag or a temporary flag.
type Flag uint32

// InvalidFlag means "no flag".
const InvalidFlag Flag = 0xffffffff

// TempFlag returns the identifier of temporary flag n.
func TempFlag(n uint32) Flag { return Flag(tempBit | n) }

// IsTemp reports whether f is a temporary.
func (f Flag) IsTemp() bool { return f != InvalidFlag && f&tempBit != 0 }

// TempIndex returns the temporary number of f.
func (f Flag) TempIndex() uint32 { return uint32(f) &^ tempBit }

// FlagWriteType names a set of flags an operation updates. Zero writes nothing.
type FlagWriteType uint32

// NoFlags is the empty flag write set.
const NoFlags FlagWriteType = 0

// Endianness of an architecture or view.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// ImplicitExtend describes what happens to the rest of the full-width
// register when a sub-register is written.
type ImplicitExtend int

const (
	NoExtend ImplicitExtend = iota
	ZeroExtendToFullWidth
	SignExtendToFullWidth
)

// RegisterInfo places a register inside its full-width container.
type RegisterInfo struct {
	FullWidth Register
	Offset    int // byte offset within FullWidth
	Size      int // bytes
	Extend    ImplicitExtend
}

// FlagRole tells analyses what a native flag means.
type FlagRole int

const (
	SpecialFlagRole FlagRole = iota
	ZeroFlagRole
	PositiveSignFlagRole
	NegativeSignFlagRole
	CarryFlagRole
	OverflowFlagRole
	HalfCarryFlagRole
	EvenParityFlagRole
	OddParityFlagRole
)

var flagRoleNames = [...]string{"special", "zero", "positive", "negative", "carry", "overflow", "halfcarry", "even_parity", "odd_parity"}

func (r FlagRole) String() string {
	if int(r) < len(flagRoleNames) {
		return flagRoleNames[r]
	}
	return fmt.Sprintf("FlagRole(%d)", int(r))
}

// FlagCondition is a predicate over native flags, as used by FLAG_COND.
type FlagCondition int

const (
	CondE FlagCondition = iota
	CondNE
	CondSLT
	CondULT
	CondSLE
	CondULE
	CondSGE
	CondUGE
	CondSGT
	CondUGT
	CondNeg
	CondPos
	CondO
	CondNO
)

var condNames = [...]string{"e", "ne", "slt", "ult", "sle", "ule", "sge", "uge", "sgt", "ugt", "neg", "pos", "o", "no"}

func (c FlagCondition) String() string {
	if int(c) >= 0 && int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", int(c))
}

// Invert returns the logical negation of c.
func (c FlagCondition) Invert() FlagCondition {
	switch c {
	case CondE:
		return CondNE
	case CondNE:
		return CondE
	case CondSLT:
		return CondSGE
	case CondSGE:
		return CondSLT
	case CondULT:
		return CondUGE
	case CondUGE:
		return CondULT
	case CondSLE:
		return CondSGT
	case CondSGT:
		return CondSLE
	case CondULE:
		return CondUGT
	case CondUGT:
		return CondULE
	case CondNeg:
		return CondPos
	case CondPos:
		return CondNeg
	case CondO:
		return CondNO
	case CondNO:
		return CondO
	}
	return c
}
