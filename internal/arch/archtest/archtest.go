// Package archtest implements "toy", a small byte-coded instruction set used
// to exercise CFG recovery and value propagation in tests.
//
// Encoding (little endian, 32-bit addresses, rel8 is relative to the start
// of the instruction):
//
//	00            nop
//	10 rel8       jmp  rel8
//	11 imm32      jmp  imm32
//	12..19 rel8   je jne ja jb jl jge jbe jae
//	20 r imm8     cmp  r, imm8
//	21 r r        cmp  r, r
//	22 r r        test r, r
//	30 r imm8     mov  r, imm8
//	31 r r        mov  r, r
//	32 r imm8     add  r, imm8
//	33 r imm8     sub  r, imm8
//	34 r b disp8  ld   r, [b+disp8]
//	35 b disp8 r  st   [b+disp8], r
//	36 r          push r
//	37 r          pop  r
//	38 r imm8     shl  r, imm8
//	39 r imm32    mov  r, imm32
//	3a r r        add  r, r
//	3b r i imm32  ld   r, [i*4+imm32]
//	3c imm8       ret0 imm8   (r0 = imm8)
//	40 rel8       call rel8
//	41            ret
//	42 r          jmp  r
//	43            syscall
//	44 r          call r
//	50 rel8       djmp rel8   (one delay slot)
//
// Anything else fails to decode.
package archtest

import (
	"encoding/binary"
	"fmt"

	"liftkit/internal/arch"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

// Registers.
const (
	R0 isa.Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	SP
)

// Flags.
const (
	FlagZ isa.Flag = iota
	FlagC
	FlagS
	FlagO
)

// FlagsAll is the write type of arithmetic instructions.
const FlagsAll isa.FlagWriteType = 1

const addrSize = 4

var catalog = arch.NewCatalog(addrSize,
	[]arch.RegisterDef{
		{ID: R0, Name: "r0"}, {ID: R1, Name: "r1"}, {ID: R2, Name: "r2"}, {ID: R3, Name: "r3"},
		{ID: R4, Name: "r4"}, {ID: R5, Name: "r5"}, {ID: R6, Name: "r6"}, {ID: SP, Name: "sp"},
	},
	[]arch.FlagDef{
		{ID: FlagZ, Name: "z", Role: isa.ZeroFlagRole},
		{ID: FlagC, Name: "c", Role: isa.CarryFlagRole},
		{ID: FlagS, Name: "s", Role: isa.NegativeSignFlagRole},
		{ID: FlagO, Name: "o", Role: isa.OverflowFlagRole},
	},
	[]arch.WriteTypeDef{{ID: FlagsAll, Name: "*", Flags: []isa.Flag{FlagZ, FlagC, FlagS, FlagO}}},
	map[isa.FlagCondition][]isa.Flag{
		isa.CondE: {FlagZ}, isa.CondNE: {FlagZ},
		isa.CondULT: {FlagC}, isa.CondUGE: {FlagC},
		isa.CondUGT: {FlagC, FlagZ}, isa.CondULE: {FlagC, FlagZ},
		isa.CondSLT: {FlagS, FlagO}, isa.CondSGE: {FlagS, FlagO},
	},
	SP, isa.InvalidRegister)

var convention = &arch.CallingConvention{
	Name:              "toycall",
	CallerSaved:       []isa.Register{R0, R1, R2, R3},
	IntegerArgs:       []isa.Register{R0, R1, R2},
	IntegerReturn:     R0,
	HighIntegerReturn: isa.InvalidRegister,
	FloatReturn:       isa.InvalidRegister,
}

var jccNames = map[byte]string{
	0x12: "je", 0x13: "jne", 0x14: "ja", 0x15: "jb",
	0x16: "jl", 0x17: "jge", 0x18: "jbe", 0x19: "jae",
}

var jccConds = map[byte]isa.FlagCondition{
	0x12: isa.CondE, 0x13: isa.CondNE, 0x14: isa.CondUGT, 0x15: isa.CondULT,
	0x16: isa.CondSLT, 0x17: isa.CondSGE, 0x18: isa.CondULE, 0x19: isa.CondUGE,
}

var jccInverse = map[byte]byte{
	0x12: 0x13, 0x13: 0x12, 0x14: 0x18, 0x18: 0x14,
	0x15: 0x19, 0x19: 0x15, 0x16: 0x17, 0x17: 0x16,
}

// Arch is the toy architecture. The zero value is ready to use.
type Arch struct{}

var _ arch.Architecture = Arch{}
var _ arch.Patcher = Arch{}

func (Arch) Name() string { return "toy" }
func (Arch) AddressSize() int { return addrSize }
func (Arch) Endianness() isa.Endianness { return isa.LittleEndian }
func (Arch) DefaultIntegerSize() int { return 4 }
func (Arch) MaxInstructionLength() int { return 7 }
func (Arch) OpcodeDisplayLength() int { return 7 }
func (Arch) CallingConvention() *arch.CallingConvention { return convention }

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

// lengths by opcode; zero means undefined.
var lengths = [256]int{
	0x00: 1,
	0x10: 2, 0x11: 5,
	0x12: 2, 0x13: 2, 0x14: 2, 0x15: 2, 0x16: 2, 0x17: 2, 0x18: 2, 0x19: 2,
	0x20: 3, 0x21: 3, 0x22: 3,
	0x30: 3, 0x31: 3, 0x32: 3, 0x33: 3, 0x34: 4, 0x35: 4, 0x36: 2, 0x37: 2,
	0x38: 3, 0x39: 6, 0x3a: 3, 0x3b: 7, 0x3c: 2,
	0x40: 2, 0x41: 1, 0x42: 2, 0x43: 1, 0x44: 2,
	0x50: 2,
}

// decode validates the encoding at the start of data and returns its length.
func decode(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, arch.ErrDecode
	}
	n := lengths[data[0]]
	if n == 0 || len(data) < n {
		return 0, arch.ErrDecode
	}
	// Register operands must name r0..sp.
	switch data[0] {
	case 0x20, 0x30, 0x32, 0x33, 0x36, 0x37, 0x38, 0x39, 0x42, 0x44:
		if data[1] > byte(SP) {
			return 0, arch.ErrDecode
		}
	case 0x21, 0x22, 0x31, 0x34, 0x3a, 0x3b:
		if data[1] > byte(SP) || data[2] > byte(SP) {
			return 0, arch.ErrDecode
		}
	case 0x35:
		if data[1] > byte(SP) || data[3] > byte(SP) {
			return 0, arch.ErrDecode
		}
	}
	return n, nil
}

func rel8(data []byte, addr uint64) uint64 {
	return uint64(int64(addr) + int64(int8(data[1])))
}

func imm32(b []byte) uint64 { return uint64(binary.LittleEndian.Uint32(b)) }

// InstructionInfo implements arch.Architecture.
func (a Arch) InstructionInfo(data []byte, addr uint64) (arch.InstructionInfo, error) {
	n, err := decode(data)
	if err != nil {
		return arch.InstructionInfo{}, err
	}
	info := arch.InstructionInfo{Length: n}
	op := data[0]
	switch {
	case op == 0x10:
		info.AddBranch(isa.UnconditionalBranch, rel8(data, addr), nil)
	case op == 0x11:
		info.AddBranch(isa.UnconditionalBranch, imm32(data[1:]), nil)
	case op >= 0x12 && op <= 0x19:
		info.AddBranch(isa.TrueBranch, rel8(data, addr), nil)
		info.AddBranch(isa.FalseBranch, addr+uint64(n), nil)
	case op == 0x40:
		info.AddBranch(isa.CallDestination, rel8(data, addr), nil)
	case op == 0x41:
		info.AddBranch(isa.FunctionReturn, 0, nil)
	case op == 0x42:
		info.AddBranch(isa.UnresolvedBranch, 0, nil)
	case op == 0x43:
		info.AddBranch(isa.SystemCall, 0, nil)
	case op == 0x50:
		info.BranchDelay = true
		info.AddBranch(isa.UnconditionalBranch, rel8(data, addr), nil)
	}
	return info, nil
}

func (a Arch) reg(b byte) string { return catalog.RegisterName(isa.Register(b)) }

// InstructionText implements arch.Architecture.
func (a Arch) InstructionText(data []byte, addr uint64) (isa.Tokens, int, error) {
	n, err := decode(data)
	if err != nil {
		return nil, 0, err
	}
	var mn, ops string
	op := data[0]
	switch op {
	case 0x00:
		mn = "nop"
	case 0x10, 0x40, 0x50:
		mn = map[byte]string{0x10: "jmp", 0x40: "call", 0x50: "djmp"}[op]
		ops = fmt.Sprintf("0x%x", rel8(data, addr))
	case 0x11:
		mn, ops = "jmp", fmt.Sprintf("0x%x", imm32(data[1:]))
	case 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19:
		mn, ops = jccNames[op], fmt.Sprintf("0x%x", rel8(data, addr))
	case 0x20, 0x30, 0x32, 0x33, 0x38:
		mn = map[byte]string{0x20: "cmp", 0x30: "mov", 0x32: "add", 0x33: "sub", 0x38: "shl"}[op]
		ops = fmt.Sprintf("%s, %d", a.reg(data[1]), data[2])
	case 0x21, 0x22, 0x31, 0x3a:
		mn = map[byte]string{0x21: "cmp", 0x22: "test", 0x31: "mov", 0x3a: "add"}[op]
		ops = fmt.Sprintf("%s, %s", a.reg(data[1]), a.reg(data[2]))
	case 0x34:
		mn, ops = "ld", fmt.Sprintf("%s, [%s+%d]", a.reg(data[1]), a.reg(data[2]), int8(data[3]))
	case 0x35:
		mn, ops = "st", fmt.Sprintf("[%s+%d], %s", a.reg(data[1]), int8(data[2]), a.reg(data[3]))
	case 0x36, 0x37, 0x42, 0x44:
		mn = map[byte]string{0x36: "push", 0x37: "pop", 0x42: "jmp", 0x44: "call"}[op]
		ops = a.reg(data[1])
	case 0x39:
		mn, ops = "mov", fmt.Sprintf("%s, 0x%x", a.reg(data[1]), imm32(data[2:]))
	case 0x3b:
		mn, ops = "ld", fmt.Sprintf("%s, [%s*4+0x%x]", a.reg(data[1]), a.reg(data[2]), imm32(data[3:]))
	case 0x3c:
		mn, ops = "ret0", fmt.Sprintf("%d", data[1])
	case 0x41:
		mn = "ret"
	case 0x43:
		mn = "syscall"
	}
	return arch.TokenizeText(mn, ops, addrSize, isRegister), n, nil
}

func isRegister(s string) bool {
	_, ok := catalog.RegisterByName(s)
	return ok
}

// Lift implements arch.Architecture.
func (a Arch) Lift(data []byte, addr uint64, il *llil.Function) (int, error) {
	n, err := decode(data)
	if err != nil {
		return 0, err
	}
	il.SetCurrentAddress(addr)
	op := data[0]
	r1 := isa.Register(0)
	if n > 1 {
		r1 = isa.Register(data[1])
	}
	reg := func(r isa.Register) llil.ExprIndex { return il.Reg(4, r) }
	c := func(v uint64) llil.ExprIndex { return il.Const(4, v) }
	set := func(r isa.Register, e llil.ExprIndex) { il.AddInstruction(il.SetReg(4, r, e)) }

	switch op {
	case 0x00:
		il.AddInstruction(il.Nop())
	case 0x10, 0x50:
		arch.DirectJump(il, addrSize, rel8(data, addr))
	case 0x11:
		arch.DirectJump(il, addrSize, imm32(data[1:]))
	case 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19:
		arch.ConditionalBranch(il, addrSize, il.FlagCondition(jccConds[op]), rel8(data, addr), addr+uint64(n))
	case 0x20:
		il.AddInstruction(il.Sub(4, reg(r1), c(uint64(data[2])), FlagsAll))
	case 0x21:
		il.AddInstruction(il.Sub(4, reg(r1), reg(isa.Register(data[2])), FlagsAll))
	case 0x22:
		il.AddInstruction(il.And(4, reg(r1), reg(isa.Register(data[2])), FlagsAll))
	case 0x30:
		set(r1, c(uint64(data[2])))
	case 0x31:
		set(r1, reg(isa.Register(data[2])))
	case 0x32:
		set(r1, il.Add(4, reg(r1), c(uint64(data[2])), FlagsAll))
	case 0x33:
		set(r1, il.Sub(4, reg(r1), c(uint64(data[2])), FlagsAll))
	case 0x34:
		addrExpr := il.Add(4, reg(isa.Register(data[2])), c(uint64(int64(int8(data[3])))), 0)
		set(r1, il.Load(4, addrExpr))
	case 0x35:
		addrExpr := il.Add(4, reg(r1), c(uint64(int64(int8(data[2])))), 0)
		il.AddInstruction(il.Store(4, addrExpr, reg(isa.Register(data[3]))))
	case 0x36:
		il.AddInstruction(il.Push(4, reg(r1)))
	case 0x37:
		set(r1, il.Pop(4))
	case 0x38:
		set(r1, il.ShiftLeft(4, reg(r1), c(uint64(data[2])), FlagsAll))
	case 0x39:
		set(r1, c(imm32(data[2:])))
	case 0x3a:
		set(r1, il.Add(4, reg(r1), reg(isa.Register(data[2])), FlagsAll))
	case 0x3b:
		idx := il.Mult(4, reg(isa.Register(data[2])), c(4), 0)
		set(r1, il.Load(4, il.Add(4, c(imm32(data[3:])), idx, 0)))
	case 0x3c:
		set(R0, c(uint64(data[1])))
	case 0x40:
		il.AddInstruction(il.Call(c(rel8(data, addr))))
	case 0x41:
		il.AddInstruction(il.Ret(il.Pop(4)))
	case 0x42:
		il.AddInstruction(il.Jump(reg(r1)))
	case 0x43:
		il.AddInstruction(il.Syscall())
	case 0x44:
		il.AddInstruction(il.Call(reg(r1)))
	}
	return n, nil
}

func isCondJump(op byte) bool { return op >= 0x12 && op <= 0x19 }

func (Arch) IsNeverBranchPatchAvailable(data []byte, _ uint64) bool {
	return len(data) >= 2 && (isCondJump(data[0]) || data[0] == 0x10)
}

func (Arch) IsAlwaysBranchPatchAvailable(data []byte, _ uint64) bool {
	return len(data) >= 2 && isCondJump(data[0])
}

func (Arch) IsInvertBranchPatchAvailable(data []byte, _ uint64) bool {
	return len(data) >= 2 && isCondJump(data[0])
}

func (Arch) IsSkipAndReturnZeroPatchAvailable(data []byte, _ uint64) bool {
	return len(data) >= 2 && data[0] == 0x40
}

func (Arch) IsSkipAndReturnValuePatchAvailable(data []byte, _ uint64) bool {
	return len(data) >= 2 && data[0] == 0x40
}

// ConvertToNop overwrites the instruction with single-byte nops.
func (Arch) ConvertToNop(data []byte, _ uint64) bool {
	n, err := decode(data)
	if err != nil {
		return false
	}
	for i := 0; i < n; i++ {
		data[i] = 0x00
	}
	return true
}

func (Arch) AlwaysBranch(data []byte, _ uint64) bool {
	data[0] = 0x10
	return true
}

func (Arch) InvertBranch(data []byte, _ uint64) bool {
	inv, ok := jccInverse[data[0]]
	if !ok {
		return false
	}
	data[0] = inv
	return true
}

// SkipAndReturnValue replaces a call with "r0 = value". Only values that fit
// the 8-bit immediate can be encoded.
func (Arch) SkipAndReturnValue(data []byte, _ uint64, value uint64) bool {
	if value > 0xff {
		return false
	}
	data[0], data[1] = 0x3c, byte(value)
	return true
}
