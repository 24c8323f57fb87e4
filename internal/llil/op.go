package llil

import "fmt"

// Operation is the tag of an IL expression.
type Operation uint8

const (
	OpNop Operation = iota
	OpSetReg
	OpSetRegSplit
	OpSetFlag
	OpLoad
	OpStore
	OpPush
	OpPop
	OpReg
	OpConst
	OpFlag
	OpFlagBit
	OpAdd
	OpAdc
	OpSub
	OpSbb
	OpAnd
	OpOr
	OpXor
	OpLsl
	OpLsr
	OpAsr
	OpRol
	OpRlc
	OpRor
	OpRrc
	OpMul
	OpMuluDP
	OpMulsDP
	OpDivu
	OpDivuDP
	OpDivs
	OpDivsDP
	OpModu
	OpModuDP
	OpMods
	OpModsDP
	OpNeg
	OpNot
	OpSx
	OpZx
	OpJump
	OpJumpTo
	OpCall
	OpRet
	OpNoRet
	OpIf
	OpGoto
	OpFlagCond
	OpCmpE
	OpCmpNE
	OpCmpSLT
	OpCmpULT
	OpCmpSLE
	OpCmpULE
	OpCmpSGE
	OpCmpUGE
	OpCmpSGT
	OpCmpUGT
	OpTestBit
	OpBoolToInt
	OpSyscall
	OpBp
	OpTrap
	OpUndef
	OpUnimpl
	OpUnimplMem

	numOps
)

var opNames = [numOps]string{
	"NOP", "SET_REG", "SET_REG_SPLIT", "SET_FLAG", "LOAD", "STORE", "PUSH", "POP",
	"REG", "CONST", "FLAG", "FLAG_BIT", "ADD", "ADC", "SUB", "SBB", "AND", "OR", "XOR",
	"LSL", "LSR", "ASR", "ROL", "RLC", "ROR", "RRC", "MUL", "MULU_DP", "MULS_DP",
	"DIVU", "DIVU_DP", "DIVS", "DIVS_DP", "MODU", "MODU_DP", "MODS", "MODS_DP",
	"NEG", "NOT", "SX", "ZX", "JUMP", "JUMP_TO", "CALL", "RET", "NORET", "IF", "GOTO",
	"FLAG_COND", "CMP_E", "CMP_NE", "CMP_SLT", "CMP_ULT", "CMP_SLE", "CMP_ULE",
	"CMP_SGE", "CMP_UGE", "CMP_SGT", "CMP_UGT", "TEST_BIT", "BOOL_TO_INT",
	"SYSCALL", "BP", "TRAP", "UNDEF", "UNIMPL", "UNIMPL_MEM",
}

func (op Operation) String() string {
	if op < numOps {
		return "LLIL_" + opNames[op]
	}
	return fmt.Sprintf("LLIL_OP(%d)", uint8(op))
}

// operandKind says how one of the four operand slots is interpreted.
type operandKind uint8

const (
	kindNone  operandKind = iota
	kindExpr              // nested expression index
	kindReg               // isa.Register
	kindFlag              // isa.Flag
	kindInt               // immediate
	kindInstr             // instruction index (GOTO/IF targets)
	kindCond              // isa.FlagCondition
	kindList              // side-table index; the next slot holds the count
	kindCount             // element count of the preceding list
)

var (
	layoutNone   = [4]operandKind{}
	layoutUnary  = [4]operandKind{kindExpr}
	layoutBinary = [4]operandKind{kindExpr, kindExpr}
	layoutCarry  = [4]operandKind{kindExpr, kindExpr, kindExpr}
)

var opLayout = [numOps][4]operandKind{
	OpNop:         layoutNone,
	OpSetReg:      {kindReg, kindExpr},
	OpSetRegSplit: {kindReg, kindReg, kindExpr},
	OpSetFlag:     {kindFlag, kindExpr},
	OpLoad:        layoutUnary,
	OpStore:       layoutBinary,
	OpPush:        layoutUnary,
	OpPop:         layoutNone,
	OpReg:         {kindReg},
	OpConst:       {kindInt},
	OpFlag:        {kindFlag},
	OpFlagBit:     {kindExpr, kindInt},
	OpAdd:         layoutBinary,
	OpAdc:         layoutCarry,
	OpSub:         layoutBinary,
	OpSbb:         layoutCarry,
	OpAnd:         layoutBinary,
	OpOr:          layoutBinary,
	OpXor:         layoutBinary,
	OpLsl:         layoutBinary,
	OpLsr:         layoutBinary,
	OpAsr:         layoutBinary,
	OpRol:         layoutBinary,
	OpRlc:         layoutCarry,
	OpRor:         layoutBinary,
	OpRrc:         layoutCarry,
	OpMul:         layoutBinary,
	OpMuluDP:      layoutBinary,
	OpMulsDP:      layoutBinary,
	OpDivu:        layoutBinary,
	OpDivuDP:      layoutCarry,
	OpDivs:        layoutBinary,
	OpDivsDP:      layoutCarry,
	OpModu:        layoutBinary,
	OpModuDP:      layoutCarry,
	OpMods:        layoutBinary,
	OpModsDP:      layoutCarry,
	OpNeg:         layoutUnary,
	OpNot:         layoutUnary,
	OpSx:          layoutUnary,
	OpZx:          layoutUnary,
	OpJump:        layoutUnary,
	OpJumpTo:      {kindExpr, kindList, kindCount},
	OpCall:        layoutUnary,
	OpRet:         layoutUnary,
	OpNoRet:       layoutNone,
	OpIf:          {kindExpr, kindInstr, kindInstr},
	OpGoto:        {kindInstr},
	OpFlagCond:    {kindCond},
	OpCmpE:        layoutBinary,
	OpCmpNE:       layoutBinary,
	OpCmpSLT:      layoutBinary,
	OpCmpULT:      layoutBinary,
	OpCmpSLE:      layoutBinary,
	OpCmpULE:      layoutBinary,
	OpCmpSGE:      layoutBinary,
	OpCmpUGE:      layoutBinary,
	OpCmpSGT:      layoutBinary,
	OpCmpUGT:      layoutBinary,
	OpTestBit:     layoutBinary,
	OpBoolToInt:   layoutUnary,
	OpSyscall:     layoutNone,
	OpBp:          layoutNone,
	OpTrap:        {kindInt},
	OpUndef:       layoutNone,
	OpUnimpl:      layoutNone,
	OpUnimplMem:   layoutUnary,
}

// IsComparison reports whether op is one of the CMP_* operations.
func (op Operation) IsComparison() bool { return op >= OpCmpE && op <= OpCmpUGT }

// EndsBlock reports whether an instruction with this operation ends an IL
// basic block.
func (op Operation) EndsBlock() bool {
	switch op {
	case OpJump, OpJumpTo, OpRet, OpNoRet, OpIf, OpGoto, OpUndef, OpTrap:
		return true
	}
	return false
}

// IsArithmetic reports whether op is one of the ADD through MODS_DP
// operations.
func (op Operation) IsArithmetic() bool { return op >= OpAdd && op <= OpModsDP }

// NegateComparison returns the comparison testing the opposite outcome.
func NegateComparison(op Operation) Operation {
	switch op {
	case OpCmpE:
		return OpCmpNE
	case OpCmpNE:
		return OpCmpE
	case OpCmpSLT:
		return OpCmpSGE
	case OpCmpSGE:
		return OpCmpSLT
	case OpCmpULT:
		return OpCmpUGE
	case OpCmpUGE:
		return OpCmpULT
	case OpCmpSLE:
		return OpCmpSGT
	case OpCmpSGT:
		return OpCmpSLE
	case OpCmpULE:
		return OpCmpUGT
	case OpCmpUGT:
		return OpCmpULE
	}
	return op
}
