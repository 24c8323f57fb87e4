// Package arm64 implements the AArch64 architecture: decoding and text come
// from golang.org/x/arch, branch classification and lifting work on the raw
// 32-bit encoding.
package arm64

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"liftkit/internal/arch"
	"liftkit/internal/isa"
)

// Register numbering: X0..X30, SP, XZR, then the 32-bit views.
const (
	X0  isa.Register = 0
	X29 isa.Register = 29
	X30 isa.Register = 30
	SP  isa.Register = 31
	XZR isa.Register = 32
	W0  isa.Register = 33
	WSP isa.Register = 64
	WZR isa.Register = 65
)

// X returns the 64-bit register n (0..30).
func X(n int) isa.Register { return X0 + isa.Register(n) }

// W returns the 32-bit view of X(n).
func W(n int) isa.Register { return W0 + isa.Register(n) }

// Condition flags.
const (
	FlagN isa.Flag = iota
	FlagZ
	FlagC
	FlagV
)

// FlagsNZCV is the write type of flag-setting data processing.
const FlagsNZCV isa.FlagWriteType = 1

const instrSize = 4

var catalog = buildCatalog()

func buildCatalog() *arch.Catalog {
	var regs []arch.RegisterDef
	for n := 0; n <= 30; n++ {
		regs = append(regs, arch.RegisterDef{ID: X(n), Name: fmt.Sprintf("x%d", n)})
	}
	regs = append(regs,
		arch.RegisterDef{ID: SP, Name: "sp"},
		arch.RegisterDef{ID: XZR, Name: "xzr"},
	)
	for n := 0; n <= 30; n++ {
		regs = append(regs, arch.RegisterDef{ID: W(n), Name: fmt.Sprintf("w%d", n),
			Info: isa.RegisterInfo{FullWidth: X(n), Size: 4, Extend: isa.ZeroExtendToFullWidth}})
	}
	regs = append(regs,
		arch.RegisterDef{ID: WSP, Name: "wsp", Info: isa.RegisterInfo{FullWidth: SP, Size: 4, Extend: isa.ZeroExtendToFullWidth}},
		arch.RegisterDef{ID: WZR, Name: "wzr", Info: isa.RegisterInfo{FullWidth: XZR, Size: 4, Extend: isa.ZeroExtendToFullWidth}},
	)
	return arch.NewCatalog(8, regs,
		[]arch.FlagDef{
			{ID: FlagN, Name: "n", Role: isa.NegativeSignFlagRole},
			{ID: FlagZ, Name: "z", Role: isa.ZeroFlagRole},
			{ID: FlagC, Name: "c", Role: isa.CarryFlagRole},
			{ID: FlagV, Name: "v", Role: isa.OverflowFlagRole},
		},
		[]arch.WriteTypeDef{{ID: FlagsNZCV, Name: "*", Flags: []isa.Flag{FlagN, FlagZ, FlagC, FlagV}}},
		map[isa.FlagCondition][]isa.Flag{
			isa.CondE: {FlagZ}, isa.CondNE: {FlagZ},
			isa.CondUGE: {FlagC}, isa.CondULT: {FlagC},
			isa.CondNeg: {FlagN}, isa.CondPos: {FlagN},
			isa.CondO: {FlagV}, isa.CondNO: {FlagV},
			isa.CondUGT: {FlagC, FlagZ}, isa.CondULE: {FlagC, FlagZ},
			isa.CondSGE: {FlagN, FlagV}, isa.CondSLT: {FlagN, FlagV},
			isa.CondSGT: {FlagZ, FlagN, FlagV}, isa.CondSLE: {FlagZ, FlagN, FlagV},
		},
		SP, X30)
}

var aapcs64 = func() *arch.CallingConvention {
	cc := &arch.CallingConvention{
		Name:              "aapcs64",
		IntegerReturn:     X0,
		HighIntegerReturn: X(1),
		FloatReturn:       isa.InvalidRegister,
	}
	for n := 0; n <= 18; n++ {
		cc.CallerSaved = append(cc.CallerSaved, X(n))
	}
	cc.CallerSaved = append(cc.CallerSaved, X30)
	for n := 0; n < 8; n++ {
		cc.IntegerArgs = append(cc.IntegerArgs, X(n))
	}
	return cc
}()

// condFlags maps the 4-bit condition field to a flag condition. AL and NV
// are handled by callers.
var condFlags = [14]isa.FlagCondition{
	isa.CondE, isa.CondNE, isa.CondUGE, isa.CondULT,
	isa.CondNeg, isa.CondPos, isa.CondO, isa.CondNO,
	isa.CondUGT, isa.CondULE, isa.CondSGE, isa.CondSLT,
	isa.CondSGT, isa.CondSLE,
}

// Arch is AArch64, little endian.
type Arch struct{}

var _ arch.Architecture = Arch{}
var _ arch.Patcher = Arch{}

func (Arch) Name() string { return "aarch64" }
func (Arch) AddressSize() int { return 8 }
func (Arch) Endianness() isa.Endianness { return isa.LittleEndian }
func (Arch) DefaultIntegerSize() int { return 4 }
func (Arch) MaxInstructionLength() int { return instrSize }
func (Arch) OpcodeDisplayLength() int { return instrSize }
func (Arch) CallingConvention() *arch.CallingConvention { return aapcs64 }

func (Arch) RegisterName(r isa.Register) string { return catalog.RegisterName(r) }
func (Arch) RegisterByName(n string) (isa.Register, bool) { return catalog.RegisterByName(n) }
func (Arch) RegisterInfo(r isa.Register) isa.RegisterInfo { return catalog.RegisterInfo(r) }
func (Arch) FullWidthRegisters() []isa.Register { return catalog.FullWidthRegisters() }
func (Arch) AllRegisters() []isa.Register { return catalog.AllRegisters() }
func (Arch) AllFlags() []isa.Flag { return catalog.AllFlags() }
func (Arch) FlagName(f isa.Flag) string { return catalog.FlagName(f) }
func (Arch) FlagRole(f isa.Flag) isa.FlagRole { return catalog.FlagRole(f) }
func (Arch) AllFlagWriteTypes() []isa.FlagWriteType { return catalog.AllFlagWriteTypes() }
func (Arch) FlagWriteTypeName(t isa.FlagWriteType) string { return catalog.FlagWriteTypeName(t) }
func (Arch) StackPointer() isa.Register { return catalog.StackPointer() }
func (Arch) LinkRegister() isa.Register { return catalog.LinkRegister() }
func (Arch) FlagsWrittenByWriteType(t isa.FlagWriteType) []isa.Flag {
	return catalog.FlagsWrittenByWriteType(t)
}
func (Arch) FlagsRequiredForCondition(c isa.FlagCondition) []isa.Flag {
	return catalog.FlagsRequiredForCondition(c)
}

// fetch returns the raw encoding, validated by the reference decoder.
func fetch(data []byte) (uint32, arm64asm.Inst, error) {
	if len(data) < instrSize {
		return 0, arm64asm.Inst{}, arch.ErrDecode
	}
	inst, err := arm64asm.Decode(data[:instrSize])
	if err != nil {
		return 0, arm64asm.Inst{}, arch.ErrDecode
	}
	return binary.LittleEndian.Uint32(data), inst, nil
}

// InstructionInfo implements arch.Architecture.
func (a Arch) InstructionInfo(data []byte, addr uint64) (arch.InstructionInfo, error) {
	raw, _, err := fetch(data)
	if err != nil {
		return arch.InstructionInfo{}, err
	}
	info := arch.InstructionInfo{Length: instrSize}
	b := decodeBranch(raw, addr)
	if b == nil {
		return info, nil
	}
	switch b.kind {
	case branchDirect:
		info.AddBranch(isa.UnconditionalBranch, b.target, nil)
	case branchCond:
		info.AddBranch(isa.TrueBranch, b.target, nil)
		info.AddBranch(isa.FalseBranch, addr+instrSize, nil)
	case branchCall:
		info.AddBranch(isa.CallDestination, b.target, nil)
	case branchRet:
		info.AddBranch(isa.FunctionReturn, 0, nil)
	case branchIndirect:
		info.AddBranch(isa.UnresolvedBranch, 0, nil)
	case branchSyscall:
		info.AddBranch(isa.SystemCall, 0, nil)
	}
	return info, nil
}

// InstructionText implements arch.Architecture. PC-relative operands are
// shown as absolute addresses.
func (a Arch) InstructionText(data []byte, addr uint64) (isa.Tokens, int, error) {
	_, inst, err := fetch(data)
	if err != nil {
		return nil, 0, err
	}
	text := inst.String()
	for _, arg := range inst.Args {
		if rel, ok := arg.(arm64asm.PCRel); ok {
			text = strings.Replace(text, rel.String(), fmt.Sprintf("0x%x", uint64(int64(addr)+int64(rel))), 1)
		}
	}
	text = strings.ToLower(text)
	mnemonic, operands := text, ""
	if i := strings.IndexByte(text, ' '); i >= 0 {
		mnemonic, operands = text[:i], strings.TrimSpace(text[i+1:])
	}
	return arch.TokenizeText(mnemonic, operands, 8, isRegister), instrSize, nil
}

func isRegister(s string) bool {
	_, ok := catalog.RegisterByName(s)
	return ok
}
