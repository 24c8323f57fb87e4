// Package llil builds and queries the low-level intermediate language that
// every architecture lifts native instructions into.
//
// A Function accumulates expression nodes and top-level instructions for one
// native function. Instructions carry a dense index that is never reused, so
// analyses can key facts by it. Control flow inside the IL is expressed with
// labels that may be referenced before they are placed; Finalize rejects a
// function that still has unplaced labels.
package llil

import (
	"sort"

	"github.com/pkg/errors"

	"liftkit/internal/isa"
)

// ExprIndex addresses an expression node.
type ExprIndex int

// InstrIndex addresses a top-level instruction.
type InstrIndex int

// NoExpr is returned by lookups that find nothing.
const NoExpr ExprIndex = -1

// NoInstr is returned by lookups that find nothing.
const NoInstr InstrIndex = -1

// Arch is the part of an architecture the IL needs for rendering.
type Arch interface {
	Name() string
	AddressSize() int
	RegisterName(r isa.Register) string
	FlagName(f isa.Flag) string
	FlagWriteTypeName(t isa.FlagWriteType) string
}

// Expr is one IL expression node.
type Expr struct {
	Op            Operation
	Size          int
	Flags         isa.FlagWriteType
	SourceOperand uint32
	Operands      [4]uint64
	Address       uint64
}

// Expr operand accessors. They do not check the layout of Op.

func (e Expr) Left() ExprIndex { return ExprIndex(e.Operands[0]) }
func (e Expr) Right() ExprIndex { return ExprIndex(e.Operands[1]) }
func (e Expr) Src() ExprIndex { return ExprIndex(e.Operands[0]) }
func (e Expr) Reg() isa.Register { return isa.Register(e.Operands[0]) }
func (e Expr) Flag() isa.Flag { return isa.Flag(e.Operands[0]) }
func (e Expr) Const() uint64 { return e.Operands[0] }
func (e Expr) Cond() isa.FlagCondition { return isa.FlagCondition(e.Operands[0]) }

// SignedConst returns the constant sign-extended from the expression size.
func (e Expr) SignedConst() int64 { return SignExtend(e.Operands[0], e.Size) }

// Errors reported by Finalize.
var (
	ErrUnresolvedLabel = errors.New("llil: unresolved label")
	ErrFinalized       = errors.New("llil: function already finalized")
	ErrBadTarget       = errors.New("llil: branch target past last instruction")
)

// Function is the IL of one native function under construction, or
// finalized.
type Function struct {
	arch   Arch
	source uint64

	exprs  []Expr
	instrs []ExprIndex
	lists  []uint64

	currentAddr uint64
	addrIndex   map[uint64][]InstrIndex

	labels   map[uint64]*Label
	pending  map[*Label]struct{}
	indirect []uint64

	tempRegs  uint32
	tempFlags uint32

	problems  []error
	finalized bool
	failed    error
	blocks    []*BasicBlock
}

// NewFunction starts an empty IL function for the native function at source.
func NewFunction(arch Arch, source uint64) *Function {
	return &Function{
		arch:        arch,
		source:      source,
		currentAddr: source,
		addrIndex:   make(map[uint64][]InstrIndex),
		labels:      make(map[uint64]*Label),
		pending:     make(map[*Label]struct{}),
	}
}

// Arch returns the architecture the function was created for.
func (f *Function) Arch() Arch { return f.arch }

// Source returns the native start address.
func (f *Function) Source() uint64 { return f.source }

func (f *Function) mutable() {
	if f.finalized || f.failed != nil {
		panic("llil: mutation of a finalized function")
	}
}

// CurrentAddress is the native address stamped on new expressions.
func (f *Function) CurrentAddress() uint64 { return f.currentAddr }

// SetCurrentAddress sets the native address for subsequently added expressions.
func (f *Function) SetCurrentAddress(addr uint64) { f.currentAddr = addr }

// AddExpr appends an expression node. It does not become an instruction
// until passed to AddInstruction.
func (f *Function) AddExpr(op Operation, size int, flags isa.FlagWriteType, operands ...uint64) ExprIndex {
	f.mutable()
	if len(operands) > 4 {
		panic("llil: more than four operands")
	}
	e := Expr{Op: op, Size: size, Flags: flags, SourceOperand: isa.InvalidOperand, Address: f.currentAddr}
	copy(e.Operands[:], operands)
	if op < numOps {
		for i, k := range opLayout[op] {
			switch k {
			case kindReg:
				f.noteTempRegister(isa.Register(e.Operands[i]))
			case kindFlag:
				f.noteTempFlag(isa.Flag(e.Operands[i]))
			}
		}
	}
	f.exprs = append(f.exprs, e)
	return ExprIndex(len(f.exprs) - 1)
}

// SetExprSourceOperand maps expression i back to a native operand position.
func (f *Function) SetExprSourceOperand(i ExprIndex, operand uint32) {
	f.mutable()
	f.exprs[i].SourceOperand = operand
}

// AddInstruction promotes expression e to the next top-level instruction.
func (f *Function) AddInstruction(e ExprIndex) InstrIndex {
	f.mutable()
	idx := InstrIndex(len(f.instrs))
	f.instrs = append(f.instrs, e)
	addr := f.exprs[e].Address
	f.addrIndex[addr] = append(f.addrIndex[addr], idx)
	return idx
}

func (f *Function) noteTempRegister(r isa.Register) {
	if r.IsTemp() && r.TempIndex() >= f.tempRegs {
		f.tempRegs = r.TempIndex() + 1
	}
}

func (f *Function) noteTempFlag(fl isa.Flag) {
	if fl.IsTemp() && fl.TempIndex() >= f.tempFlags {
		f.tempFlags = fl.TempIndex() + 1
	}
}

// NewTempRegister allocates a fresh temporary register.
func (f *Function) NewTempRegister() isa.Register {
	r := isa.TempRegister(f.tempRegs)
	f.tempRegs++
	return r
}

// NewTempFlag allocates a fresh temporary flag.
func (f *Function) NewTempFlag() isa.Flag {
	fl := isa.TempFlag(f.tempFlags)
	f.tempFlags++
	return fl
}

// TempRegisterCount is the high-water count of temporary registers used.
func (f *Function) TempRegisterCount() uint32 { return f.tempRegs }

// TempFlagCount is the high-water count of temporary flags used.
func (f *Function) TempFlagCount() uint32 { return f.tempFlags }

// InstructionCount returns the number of top-level instructions. A function
// whose Finalize failed reports zero.
func (f *Function) InstructionCount() int { return len(f.instrs) }

// ExprCount returns the number of expression nodes.
func (f *Function) ExprCount() int { return len(f.exprs) }

// InstructionExpr returns the root expression of instruction i.
func (f *Function) InstructionExpr(i InstrIndex) ExprIndex { return f.instrs[i] }

// Instruction returns the root expression node of instruction i.
func (f *Function) Instruction(i InstrIndex) Expr { return f.exprs[f.instrs[i]] }

// Expr returns expression node i.
func (f *Function) Expr(i ExprIndex) Expr { return f.exprs[i] }

// InstructionIndexForAddress returns the first IL instruction lifted from
// the native instruction at addr.
func (f *Function) InstructionIndexForAddress(addr uint64) (InstrIndex, bool) {
	idx := f.addrIndex[addr]
	if len(idx) == 0 {
		return NoInstr, false
	}
	return idx[0], true
}

// InstructionsForAddress returns every IL instruction lifted from addr.
func (f *Function) InstructionsForAddress(addr uint64) []InstrIndex {
	return append([]InstrIndex(nil), f.addrIndex[addr]...)
}

// InstructionsByAddress enumerates instruction indices in native address
// order, ties broken by index.
func (f *Function) InstructionsByAddress() []InstrIndex {
	out := make([]InstrIndex, len(f.instrs))
	for i := range out {
		out[i] = InstrIndex(i)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return f.exprs[f.instrs[out[a]]].Address < f.exprs[f.instrs[out[b]]].Address
	})
	return out
}

// Finalized reports whether Finalize succeeded.
func (f *Function) Finalized() bool { return f.finalized }

// Err returns the error from a failed Finalize.
func (f *Function) Err() error { return f.failed }

// SignExtend interprets the low size bytes of v as a signed integer.
func SignExtend(v uint64, size int) int64 {
	if size <= 0 || size >= 8 {
		return int64(v)
	}
	shift := uint(64 - size*8)
	return int64(v<<shift) >> shift
}

// Mask truncates v to size bytes.
func Mask(v uint64, size int) uint64 {
	if size <= 0 || size >= 8 {
		return v
	}
	return v & (1<<(uint(size)*8) - 1)
}
