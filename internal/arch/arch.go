// Package arch defines the capability set every instruction set provides to
// the analysis: decoding, text, lifting to IL, register metadata and byte
// patches. Variants live in subpackages and are looked up by name through a
// Registry.
package arch

import (
	"fmt"

	"github.com/pkg/errors"

	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

var (
	ErrDecode           = errors.New("arch: cannot decode instruction")
	ErrTooManyBranches  = errors.New("arch: too many branches")
	ErrPatchUnavailable = errors.New("arch: patch not available")
	ErrPatchFailed      = errors.New("arch: patch failed")
	ErrUnknown          = errors.New("arch: unknown architecture")
	ErrDuplicate        = errors.New("arch: architecture already registered")
)

// Architecture is one instruction set.
//
// Decoding methods receive the bytes available at addr; implementations must
// not read past len(data) and must report failure rather than guess.
type Architecture interface {
	llil.Arch

	Endianness() isa.Endianness
	DefaultIntegerSize() int
	MaxInstructionLength() int
	OpcodeDisplayLength() int

	// InstructionInfo reports the length and branch behaviour of the
	// instruction at addr.
	InstructionInfo(data []byte, addr uint64) (InstructionInfo, error)
	// InstructionText renders the instruction at addr and returns its length.
	InstructionText(data []byte, addr uint64) (isa.Tokens, int, error)
	// Lift appends the IL for the instruction at addr and returns its length.
	Lift(data []byte, addr uint64, il *llil.Function) (int, error)

	RegisterByName(name string) (isa.Register, bool)
	RegisterInfo(r isa.Register) isa.RegisterInfo
	FullWidthRegisters() []isa.Register
	AllRegisters() []isa.Register
	AllFlags() []isa.Flag
	AllFlagWriteTypes() []isa.FlagWriteType
	FlagRole(f isa.Flag) isa.FlagRole
	FlagsRequiredForCondition(c isa.FlagCondition) []isa.Flag
	FlagsWrittenByWriteType(t isa.FlagWriteType) []isa.Flag
	StackPointer() isa.Register
	LinkRegister() isa.Register

	CallingConvention() *CallingConvention
}

// Branch is one control transfer reported by InstructionInfo. A nil Arch
// means the target uses the same architecture as the instruction.
type Branch struct {
	Type   isa.BranchType
	Target uint64
	Arch   Architecture
}

// InstructionInfo describes one decoded instruction.
type InstructionInfo struct {
	Length      int
	BranchDelay bool
	Branches    []Branch
}

// AddBranch appends a branch, refusing more than isa.MaxInstructionBranches.
func (i *InstructionInfo) AddBranch(t isa.BranchType, target uint64, a Architecture) error {
	if len(i.Branches) >= isa.MaxInstructionBranches {
		return ErrTooManyBranches
	}
	i.Branches = append(i.Branches, Branch{Type: t, Target: target, Arch: a})
	return nil
}

// Location is an address qualified by the architecture decoding it.
type Location struct {
	Arch Architecture
	Addr uint64
}

func (l Location) String() string {
	if l.Arch == nil {
		return fmt.Sprintf("0x%x", l.Addr)
	}
	return fmt.Sprintf("%s:0x%x", l.Arch.Name(), l.Addr)
}

// CallingConvention describes register usage across calls.
type CallingConvention struct {
	Name                   string
	CallerSaved            []isa.Register
	IntegerArgs            []isa.Register
	FloatArgs              []isa.Register
	ArgRegistersShareIndex bool
	StackReservedForArgs   bool
	IntegerReturn          isa.Register
	HighIntegerReturn      isa.Register
	FloatReturn            isa.Register
}

// IsCallerSaved reports whether r may be clobbered by a call.
func (c *CallingConvention) IsCallerSaved(r isa.Register) bool {
	for _, x := range c.CallerSaved {
		if x == r {
			return true
		}
	}
	return false
}

// Clamp truncates data to the architecture's maximum instruction length.
func Clamp(a Architecture, data []byte) []byte {
	max := a.MaxInstructionLength()
	if max <= 0 || max > isa.MaxInstructionLength {
		max = isa.MaxInstructionLength
	}
	if len(data) > max {
		return data[:max]
	}
	return data
}
