package llil

import (
	"fmt"

	"liftkit/internal/isa"
)

var infix = map[Operation]string{
	OpAdd: "+", OpSub: "-", OpAnd: "&", OpOr: "|", OpXor: "^",
	OpLsl: "<<", OpLsr: "u>>", OpAsr: "s>>", OpMul: "*",
	OpDivu: "u/", OpDivs: "s/", OpModu: "u%", OpMods: "s%",
	OpCmpE: "==", OpCmpNE: "!=", OpCmpSLT: "s<", OpCmpULT: "u<",
	OpCmpSLE: "s<=", OpCmpULE: "u<=", OpCmpSGE: "s>=", OpCmpUGE: "u>=",
	OpCmpSGT: "s>", OpCmpUGT: "u>",
}

var prefixNames = map[Operation]string{
	OpAdc: "adc", OpSbb: "sbb", OpRol: "rol", OpRlc: "rlc", OpRor: "ror", OpRrc: "rrc",
	OpMuluDP: "mulu.dp", OpMulsDP: "muls.dp", OpDivuDP: "divu.dp", OpDivsDP: "divs.dp",
	OpModuDP: "modu.dp", OpModsDP: "mods.dp", OpSx: "sx", OpZx: "zx",
	OpTestBit: "test_bit", OpBoolToInt: "bool_to_int",
}

// sizeSuffix is the width marker shown after memory operands and
// conversions.
func sizeSuffix(size int) string {
	switch size {
	case 1:
		return ".b"
	case 2:
		return ".w"
	case 4:
		return ".d"
	case 8:
		return ".q"
	case 0:
		return ""
	}
	return fmt.Sprintf(".%d", size)
}

type printer struct {
	f    *Function
	toks isa.Tokens
}

func (p *printer) emit(t isa.TokenType, text string, v uint64) {
	p.toks = append(p.toks, isa.Token{Type: t, Text: text, Value: v})
}

func (p *printer) text(s string) { p.emit(isa.TextToken, s, 0) }

func (p *printer) regName(r isa.Register) string {
	if r.IsTemp() {
		return fmt.Sprintf("temp%d", r.TempIndex())
	}
	if p.f.arch != nil {
		if n := p.f.arch.RegisterName(r); n != "" {
			return n
		}
	}
	return fmt.Sprintf("r%d", uint32(r))
}

func (p *printer) flagName(fl isa.Flag) string {
	if fl.IsTemp() {
		return fmt.Sprintf("cond:%d", fl.TempIndex())
	}
	if p.f.arch != nil {
		if n := p.f.arch.FlagName(fl); n != "" {
			return n
		}
	}
	return fmt.Sprintf("f%d", uint32(fl))
}

func (p *printer) integer(v uint64, size int) {
	s := SignExtend(v, size)
	var text string
	switch {
	case s < 0 && s > -0x10000:
		text = fmt.Sprintf("-0x%x", -s)
	case v < 10:
		text = fmt.Sprintf("%d", v)
	default:
		text = fmt.Sprintf("0x%x", v)
	}
	tt := isa.IntegerToken
	if p.f.arch != nil && size == p.f.arch.AddressSize() && v >= 0x1000 {
		tt = isa.PossibleAddressToken
	}
	p.toks = append(p.toks, isa.Token{Type: tt, Text: text, Value: v, Size: size})
}

func (p *printer) index(v uint64) {
	if v == NoLabel {
		p.text("?")
		return
	}
	p.emit(isa.IntegerToken, fmt.Sprintf("%d", v), v)
}

func (p *printer) call(name string, args ...ExprIndex) {
	p.emit(isa.InstructionToken, name, 0)
	p.text("(")
	for i, a := range args {
		if i > 0 {
			p.emit(isa.OperandSeparatorToken, ", ", 0)
		}
		p.expr(a)
	}
	p.text(")")
}

func (p *printer) expr(i ExprIndex) {
	if int(i) < 0 || int(i) >= len(p.f.exprs) {
		p.text("<invalid>")
		return
	}
	e := p.f.exprs[i]
	switch e.Op {
	case OpNop:
		p.emit(isa.InstructionToken, "nop", 0)
	case OpSetReg:
		p.emit(isa.RegisterToken, p.regName(e.Reg()), uint64(e.Reg()))
		p.text(" = ")
		p.expr(e.Right())
	case OpSetRegSplit:
		p.emit(isa.RegisterToken, p.regName(isa.Register(e.Operands[0])), e.Operands[0])
		p.text(":")
		p.emit(isa.RegisterToken, p.regName(isa.Register(e.Operands[1])), e.Operands[1])
		p.text(" = ")
		p.expr(ExprIndex(e.Operands[2]))
	case OpSetFlag:
		p.emit(isa.RegisterToken, p.flagName(e.Flag()), uint64(e.Flag()))
		p.text(" = ")
		p.expr(e.Right())
	case OpLoad:
		p.emit(isa.BeginMemoryOperandToken, "[", 0)
		p.expr(e.Src())
		p.emit(isa.EndMemoryOperandToken, "]"+sizeSuffix(e.Size), 0)
	case OpStore:
		p.emit(isa.BeginMemoryOperandToken, "[", 0)
		p.expr(e.Left())
		p.emit(isa.EndMemoryOperandToken, "]"+sizeSuffix(e.Size), 0)
		p.text(" = ")
		p.expr(e.Right())
	case OpPush:
		p.call("push", e.Src())
	case OpPop:
		p.emit(isa.InstructionToken, "pop", 0)
	case OpReg:
		p.emit(isa.RegisterToken, p.regName(e.Reg()), uint64(e.Reg()))
	case OpConst:
		p.integer(e.Const(), e.Size)
	case OpFlag:
		p.emit(isa.RegisterToken, p.flagName(e.Flag()), uint64(e.Flag()))
	case OpFlagBit:
		p.emit(isa.InstructionToken, "flag_bit", 0)
		p.text("(")
		p.expr(e.Src())
		p.emit(isa.OperandSeparatorToken, ", ", 0)
		p.integer(e.Operands[1], 1)
		p.text(")")
	case OpNeg:
		p.text("-")
		p.expr(e.Src())
	case OpNot:
		p.text("~")
		p.expr(e.Src())
	case OpJump:
		p.call("jump", e.Src())
	case OpJumpTo:
		p.emit(isa.InstructionToken, "jump", 0)
		p.text("(")
		p.expr(e.Src())
		p.text(" => ")
		for k, t := range p.f.OperandList(i, 1) {
			if k > 0 {
				p.emit(isa.OperandSeparatorToken, ", ", 0)
			}
			p.index(t)
		}
		p.text(")")
	case OpCall:
		p.call("call", e.Src())
	case OpRet:
		p.emit(isa.InstructionToken, "return", 0)
		p.text(" ")
		p.expr(e.Src())
	case OpNoRet:
		p.emit(isa.InstructionToken, "noreturn", 0)
	case OpIf:
		p.emit(isa.InstructionToken, "if", 0)
		p.text(" (")
		p.expr(e.Src())
		p.text(") then ")
		p.index(e.Operands[1])
		p.text(" else ")
		p.index(e.Operands[2])
	case OpGoto:
		p.emit(isa.InstructionToken, "goto", 0)
		p.text(" ")
		p.index(e.Operands[0])
	case OpFlagCond:
		p.emit(isa.TextToken, "flag:"+e.Cond().String(), 0)
	case OpSyscall:
		p.emit(isa.InstructionToken, "syscall", 0)
	case OpBp:
		p.emit(isa.InstructionToken, "breakpoint", 0)
	case OpTrap:
		p.emit(isa.InstructionToken, "trap", 0)
		p.text("(")
		p.integer(e.Operands[0], 0)
		p.text(")")
	case OpUndef:
		p.emit(isa.InstructionToken, "undefined", 0)
	case OpUnimpl:
		p.emit(isa.InstructionToken, "unimplemented", 0)
	case OpUnimplMem:
		p.emit(isa.InstructionToken, "unimplemented", 0)
		p.text("(")
		p.emit(isa.BeginMemoryOperandToken, "[", 0)
		p.expr(e.Src())
		p.emit(isa.EndMemoryOperandToken, "]", 0)
		p.text(")")
	default:
		if sym, ok := infix[e.Op]; ok {
			p.expr(e.Left())
			p.text(" " + sym + " ")
			p.expr(e.Right())
			break
		}
		name, ok := prefixNames[e.Op]
		if !ok {
			name = e.Op.String()
		}
		p.call(name+sizeSuffix(e.Size), p.f.Children(i)...)
	}
	if e.Flags != 0 {
		name := ""
		if p.f.arch != nil {
			name = p.f.arch.FlagWriteTypeName(e.Flags)
		}
		if name == "" {
			name = fmt.Sprintf("%d", uint32(e.Flags))
		}
		p.emit(isa.AnnotationToken, " @ "+name, 0)
	}
}

// ExprText renders expression i. It never modifies the function.
func (f *Function) ExprText(i ExprIndex) isa.Tokens {
	p := &printer{f: f}
	p.expr(i)
	return p.toks
}

// InstructionText renders instruction i.
func (f *Function) InstructionText(i InstrIndex) isa.Tokens {
	if int(i) < 0 || int(i) >= len(f.instrs) {
		return nil
	}
	return f.ExprText(f.instrs[i])
}
