// Package x86 implements 32-bit x86 and x86-64 on top of
// golang.org/x/arch/x86/x86asm. Register numbers are the decoder's own
// x86asm.Reg values.
package x86

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"liftkit/internal/arch"
	"liftkit/internal/isa"
)

// Flags.
const (
	FlagCF isa.Flag = iota
	FlagPF
	FlagAF
	FlagZF
	FlagSF
	FlagOF
	FlagDF
)

// Flag write types.
const (
	FlagsAll      isa.FlagWriteType = 1 // *
	FlagsNotCarry isa.FlagWriteType = 2 // !c, INC and DEC
)

// Reg converts a decoder register to an IL register.
func Reg(r x86asm.Reg) isa.Register { return isa.Register(r) }

func regName(r x86asm.Reg) string {
	switch {
	case r >= x86asm.R8L && r <= x86asm.R15L:
		return fmt.Sprintf("r%dd", 8+int(r-x86asm.R8L))
	case r == x86asm.SPB:
		return "spl"
	case r == x86asm.BPB:
		return "bpl"
	case r == x86asm.SIB:
		return "sil"
	case r == x86asm.DIB:
		return "dil"
	}
	return strings.ToLower(r.String())
}

func def(r, full x86asm.Reg, size, offset int, ext isa.ImplicitExtend) arch.RegisterDef {
	return arch.RegisterDef{ID: Reg(r), Name: regName(r),
		Info: isa.RegisterInfo{FullWidth: Reg(full), Offset: offset, Size: size, Extend: ext}}
}

var flagDefs = []arch.FlagDef{
	{ID: FlagCF, Name: "c", Role: isa.CarryFlagRole},
	{ID: FlagPF, Name: "p", Role: isa.EvenParityFlagRole},
	{ID: FlagAF, Name: "a", Role: isa.HalfCarryFlagRole},
	{ID: FlagZF, Name: "z", Role: isa.ZeroFlagRole},
	{ID: FlagSF, Name: "s", Role: isa.NegativeSignFlagRole},
	{ID: FlagOF, Name: "o", Role: isa.OverflowFlagRole},
	{ID: FlagDF, Name: "d", Role: isa.SpecialFlagRole},
}

var writeDefs = []arch.WriteTypeDef{
	{ID: FlagsAll, Name: "*", Flags: []isa.Flag{FlagCF, FlagPF, FlagAF, FlagZF, FlagSF, FlagOF}},
	{ID: FlagsNotCarry, Name: "!c", Flags: []isa.Flag{FlagPF, FlagAF, FlagZF, FlagSF, FlagOF}},
}

var condDefs = map[isa.FlagCondition][]isa.Flag{
	isa.CondE: {FlagZF}, isa.CondNE: {FlagZF},
	isa.CondULT: {FlagCF}, isa.CondUGE: {FlagCF},
	isa.CondULE: {FlagCF, FlagZF}, isa.CondUGT: {FlagCF, FlagZF},
	isa.CondSLT: {FlagSF, FlagOF}, isa.CondSGE: {FlagSF, FlagOF},
	isa.CondSLE: {FlagZF, FlagSF, FlagOF}, isa.CondSGT: {FlagZF, FlagSF, FlagOF},
	isa.CondNeg: {FlagSF}, isa.CondPos: {FlagSF},
	isa.CondO: {FlagOF}, isa.CondNO: {FlagOF},
}

// lowBytes are the byte registers addressable without REX, in encoding
// order of their containers.
var lowBytes = []x86asm.Reg{x86asm.AL, x86asm.CL, x86asm.DL, x86asm.BL, x86asm.SPB, x86asm.BPB, x86asm.SIB, x86asm.DIB}
var highBytes = []x86asm.Reg{x86asm.AH, x86asm.CH, x86asm.DH, x86asm.BH}

func catalog64() *arch.Catalog {
	var regs []arch.RegisterDef
	for i := 0; i < 16; i++ {
		full := x86asm.RAX + x86asm.Reg(i)
		regs = append(regs,
			def(full, full, 8, 0, isa.NoExtend),
			def(x86asm.EAX+x86asm.Reg(i), full, 4, 0, isa.ZeroExtendToFullWidth),
			def(x86asm.AX+x86asm.Reg(i), full, 2, 0, isa.NoExtend))
		if i < 8 {
			regs = append(regs, def(lowBytes[i], full, 1, 0, isa.NoExtend))
		} else {
			regs = append(regs, def(x86asm.R8B+x86asm.Reg(i-8), full, 1, 0, isa.NoExtend))
		}
		if i < 4 {
			regs = append(regs, def(highBytes[i], full, 1, 1, isa.NoExtend))
		}
	}
	regs = append(regs, def(x86asm.RIP, x86asm.RIP, 8, 0, isa.NoExtend))
	return arch.NewCatalog(8, regs, flagDefs, writeDefs, condDefs, Reg(x86asm.RSP), isa.InvalidRegister)
}

func catalog32() *arch.Catalog {
	var regs []arch.RegisterDef
	for i := 0; i < 8; i++ {
		full := x86asm.EAX + x86asm.Reg(i)
		regs = append(regs,
			def(full, full, 4, 0, isa.NoExtend),
			def(x86asm.AX+x86asm.Reg(i), full, 2, 0, isa.NoExtend))
		if i < 4 {
			regs = append(regs,
				def(lowBytes[i], full, 1, 0, isa.NoExtend),
				def(highBytes[i], full, 1, 1, isa.NoExtend))
		}
	}
	regs = append(regs, def(x86asm.EIP, x86asm.EIP, 4, 0, isa.NoExtend))
	return arch.NewCatalog(4, regs, flagDefs, writeDefs, condDefs, Reg(x86asm.ESP), isa.InvalidRegister)
}

func regs(rs ...x86asm.Reg) []isa.Register {
	out := make([]isa.Register, len(rs))
	for i, r := range rs {
		out[i] = Reg(r)
	}
	return out
}

var sysv = &arch.CallingConvention{
	Name: "sysv",
	CallerSaved: regs(x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RSI, x86asm.RDI,
		x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11),
	IntegerArgs:       regs(x86asm.RDI, x86asm.RSI, x86asm.RDX, x86asm.RCX, x86asm.R8, x86asm.R9),
	IntegerReturn:     Reg(x86asm.RAX),
	HighIntegerReturn: Reg(x86asm.RDX),
	FloatReturn:       isa.InvalidRegister,
}

var cdecl = &arch.CallingConvention{
	Name:                 "cdecl",
	CallerSaved:          regs(x86asm.EAX, x86asm.ECX, x86asm.EDX),
	StackReservedForArgs: true,
	IntegerReturn:        Reg(x86asm.EAX),
	HighIntegerReturn:    Reg(x86asm.EDX),
	FloatReturn:          isa.InvalidRegister,
}

// Arch is one x86 operating mode.
type Arch struct {
	name   string
	mode   int
	size   int
	cat    *arch.Catalog
	cc     *arch.CallingConvention
	sp, bp x86asm.Reg
	ip     x86asm.Reg
}

var _ arch.Architecture = (*Arch)(nil)
var _ arch.Patcher = (*Arch)(nil)

// New32 returns the 32-bit protected mode architecture, "x86".
func New32() *Arch {
	return &Arch{name: "x86", mode: 32, size: 4, cat: catalog32(), cc: cdecl,
		sp: x86asm.ESP, bp: x86asm.EBP, ip: x86asm.EIP}
}

// New64 returns the long mode architecture, "x86_64".
func New64() *Arch {
	return &Arch{name: "x86_64", mode: 64, size: 8, cat: catalog64(), cc: sysv,
		sp: x86asm.RSP, bp: x86asm.RBP, ip: x86asm.RIP}
}

func (a *Arch) Name() string { return a.name }
func (a *Arch) AddressSize() int { return a.size }
func (a *Arch) Endianness() isa.Endianness { return isa.LittleEndian }
func (a *Arch) DefaultIntegerSize() int { return 4 }
func (a *Arch) MaxInstructionLength() int { return 15 }
func (a *Arch) OpcodeDisplayLength() int { return 8 }
func (a *Arch) CallingConvention() *arch.CallingConvention { return a.cc }

func (a *Arch) RegisterName(r isa.Register) string { return a.cat.RegisterName(r) }
func (a *Arch) RegisterByName(n string) (isa.Register, bool) { return a.cat.RegisterByName(n) }
func (a *Arch) RegisterInfo(r isa.Register) isa.RegisterInfo { return a.cat.RegisterInfo(r) }
func (a *Arch) FullWidthRegisters() []isa.Register { return a.cat.FullWidthRegisters() }
func (a *Arch) AllRegisters() []isa.Register { return a.cat.AllRegisters() }
func (a *Arch) AllFlags() []isa.Flag { return a.cat.AllFlags() }
func (a *Arch) FlagName(f isa.Flag) string { return a.cat.FlagName(f) }
func (a *Arch) FlagRole(f isa.Flag) isa.FlagRole { return a.cat.FlagRole(f) }
func (a *Arch) AllFlagWriteTypes() []isa.FlagWriteType { return a.cat.AllFlagWriteTypes() }
func (a *Arch) FlagWriteTypeName(t isa.FlagWriteType) string { return a.cat.FlagWriteTypeName(t) }
func (a *Arch) StackPointer() isa.Register { return a.cat.StackPointer() }
func (a *Arch) LinkRegister() isa.Register { return a.cat.LinkRegister() }
func (a *Arch) FlagsWrittenByWriteType(t isa.FlagWriteType) []isa.Flag {
	return a.cat.FlagsWrittenByWriteType(t)
}
func (a *Arch) FlagsRequiredForCondition(c isa.FlagCondition) []isa.Flag {
	return a.cat.FlagsRequiredForCondition(c)
}

func (a *Arch) decode(data []byte) (x86asm.Inst, error) {
	inst, err := x86asm.Decode(arch.Clamp(a, data), a.mode)
	if err != nil || inst.Len == 0 {
		return x86asm.Inst{}, arch.ErrDecode
	}
	return inst, nil
}

func (a *Arch) mask(v uint64) uint64 {
	if a.size == 4 {
		return v & 0xFFFFFFFF
	}
	return v
}

func (a *Arch) relTarget(inst x86asm.Inst, addr uint64, rel x86asm.Rel) uint64 {
	return a.mask(addr + uint64(inst.Len) + uint64(int64(rel)))
}

// InstructionInfo implements arch.Architecture.
func (a *Arch) InstructionInfo(data []byte, addr uint64) (arch.InstructionInfo, error) {
	inst, err := a.decode(data)
	if err != nil {
		return arch.InstructionInfo{}, err
	}
	info := arch.InstructionInfo{Length: inst.Len}
	next := a.mask(addr + uint64(inst.Len))
	rel, isRel := inst.Args[0].(x86asm.Rel)
	switch op := inst.Op; {
	case op == x86asm.JMP && isRel:
		info.AddBranch(isa.UnconditionalBranch, a.relTarget(inst, addr, rel), nil)
	case op == x86asm.JMP:
		info.AddBranch(isa.UnresolvedBranch, 0, nil)
	case isJcc(op) && isRel:
		info.AddBranch(isa.TrueBranch, a.relTarget(inst, addr, rel), nil)
		info.AddBranch(isa.FalseBranch, next, nil)
	case op == x86asm.CALL && isRel:
		info.AddBranch(isa.CallDestination, a.relTarget(inst, addr, rel), nil)
	case op == x86asm.RET:
		info.AddBranch(isa.FunctionReturn, 0, nil)
	case op == x86asm.SYSCALL, op == x86asm.SYSENTER, isInt(inst, 0x80):
		info.AddBranch(isa.SystemCall, 0, nil)
	case op == x86asm.HLT, op == x86asm.UD2:
		info.AddBranch(isa.ExceptionBranch, 0, nil)
	}
	return info, nil
}

func isInt(inst x86asm.Inst, vector int64) bool {
	if inst.Op != x86asm.INT {
		return false
	}
	imm, ok := inst.Args[0].(x86asm.Imm)
	return ok && int64(imm) == vector
}

// InstructionText implements arch.Architecture using Intel syntax.
func (a *Arch) InstructionText(data []byte, addr uint64) (isa.Tokens, int, error) {
	inst, err := a.decode(data)
	if err != nil {
		return nil, 0, err
	}
	text := x86asm.IntelSyntax(inst, addr, nil)
	mnemonic, operands := text, ""
	if i := strings.IndexByte(text, ' '); i >= 0 {
		mnemonic, operands = text[:i], strings.TrimSpace(text[i+1:])
	}
	isReg := func(s string) bool {
		_, ok := a.cat.RegisterByName(s)
		return ok
	}
	return arch.TokenizeText(mnemonic, operands, a.size, isReg), inst.Len, nil
}
