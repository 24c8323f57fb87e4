package llil

import (
	"github.com/pkg/errors"

	"liftkit/internal/isa"
)

// flagWriter remembers the last flag-setting operation seen in a block.
type flagWriter struct {
	expr        ExprIndex
	op          Operation
	size        int
	result      isa.Register
	reads       map[isa.Register]bool
	mem         bool
	stale       bool // an operand register changed since the write
	resultStale bool // the result register changed since the write
}

var subConds = map[isa.FlagCondition]Operation{
	isa.CondE: OpCmpE, isa.CondNE: OpCmpNE,
	isa.CondSLT: OpCmpSLT, isa.CondULT: OpCmpULT,
	isa.CondSLE: OpCmpSLE, isa.CondULE: OpCmpULE,
	isa.CondSGE: OpCmpSGE, isa.CondUGE: OpCmpUGE,
	isa.CondSGT: OpCmpSGT, isa.CondUGT: OpCmpUGT,
}

// Conditions on a result compared against zero. Logical operations clear
// overflow, so the signed orderings hold for them too.
var zeroConds = map[isa.FlagCondition]Operation{
	isa.CondE: OpCmpE, isa.CondNE: OpCmpNE,
	isa.CondNeg: OpCmpSLT, isa.CondPos: OpCmpSGE,
}

var logicConds = map[isa.FlagCondition]Operation{
	isa.CondE: OpCmpE, isa.CondNE: OpCmpNE,
	isa.CondNeg: OpCmpSLT, isa.CondPos: OpCmpSGE,
	isa.CondSLT: OpCmpSLT, isa.CondSGE: OpCmpSGE,
	isa.CondSLE: OpCmpSLE, isa.CondSGT: OpCmpSGT,
}

// ResolveFlags derives the low-level IL from lifted IL: a copy with the same
// instruction indices in which each FLAG_COND that can be traced to a
// flag-setting SUB, ADD, AND, OR or XOR earlier in the same block is
// replaced by an explicit comparison. Conditions that cannot be traced are
// left as they are.
func ResolveFlags(lifted *Function) (*Function, error) {
	if !lifted.Finalized() {
		return nil, errors.New("llil: resolve flags on unfinalized function")
	}
	out := lifted.clone()
	sp := isa.InvalidRegister
	if a, ok := lifted.arch.(interface{ StackPointer() isa.Register }); ok {
		sp = a.StackPointer()
	}
	for _, b := range lifted.BasicBlocks() {
		var w *flagWriter
		for i := b.Start; i < b.End; i++ {
			root := out.instrs[i]
			if w != nil {
				out.rewriteConds(root, w)
			}
			w = out.trackFlags(i, w, sp)
		}
	}
	if err := out.Finalize(); err != nil {
		return nil, errors.Wrap(err, "llil: resolve flags")
	}
	return out, nil
}

func (f *Function) rewriteConds(root ExprIndex, w *flagWriter) {
	var conds []ExprIndex
	f.Walk(root, func(i ExprIndex, x Expr) bool {
		if x.Op == OpFlagCond {
			conds = append(conds, i)
		}
		return true
	})
	for _, c := range conds {
		f.resolveCond(c, w)
	}
}

func (f *Function) resolveCond(node ExprIndex, w *flagWriter) {
	cond := f.exprs[node].Cond()
	writer := f.exprs[w.expr]
	var (
		op          Operation
		ok          bool
		left, right ExprIndex
	)
	switch {
	case !w.stale && w.op == OpSub:
		if op, ok = subConds[cond]; ok {
			left, right = f.copyExpr(writer.Left()), f.copyExpr(writer.Right())
		}
	case !w.stale:
		table := zeroConds
		if w.op != OpAdd {
			table = logicConds
		}
		if op, ok = table[cond]; ok {
			left = f.copyExpr(w.expr)
			f.exprs[left].Flags = 0
			right = f.zero(w.size, writer.Address)
		}
	case w.result != isa.InvalidRegister && !w.resultStale:
		table := zeroConds
		if w.op != OpAdd && w.op != OpSub {
			table = logicConds
		}
		if op, ok = table[cond]; ok {
			left = f.AddExpr(OpReg, w.size, 0, uint64(w.result))
			f.exprs[left].Address = writer.Address
			right = f.zero(w.size, writer.Address)
		}
	}
	if !ok {
		return
	}
	n := &f.exprs[node]
	n.Op, n.Size, n.Flags = op, w.size, 0
	n.Operands = [4]uint64{uint64(left), uint64(right)}
}

func (f *Function) zero(size int, addr uint64) ExprIndex {
	z := f.AddExpr(OpConst, size, 0, 0)
	f.exprs[z].Address = addr
	return z
}

// trackFlags updates the writer state after instruction i.
func (f *Function) trackFlags(i InstrIndex, w *flagWriter, sp isa.Register) *flagWriter {
	root := f.instrs[i]
	var (
		writerExpr = NoExpr
		clobber    bool
		memWrite   bool
	)
	f.Walk(root, func(e ExprIndex, x Expr) bool {
		switch x.Op {
		case OpSetFlag, OpCall, OpSyscall:
			clobber = true
		case OpStore, OpPush:
			memWrite = true
		}
		if x.Flags != 0 && writerExpr == NoExpr {
			writerExpr = e
		}
		return true
	})
	written := f.RegistersWritten(i, sp)

	if writerExpr != NoExpr {
		x := f.exprs[writerExpr]
		switch x.Op {
		case OpSub, OpAdd, OpAnd, OpOr, OpXor:
		default:
			return nil
		}
		nw := &flagWriter{expr: writerExpr, op: x.Op, size: x.Size, result: isa.InvalidRegister, reads: map[isa.Register]bool{}}
		f.Walk(writerExpr, func(_ ExprIndex, y Expr) bool {
			if y.Op == OpReg {
				nw.reads[y.Reg()] = true
			}
			return true
		})
		nw.mem = f.readsMemory(writerExpr)
		if r := f.exprs[root]; r.Op == OpSetReg && ExprIndex(r.Operands[1]) == writerExpr {
			nw.result = r.Reg()
		}
		for _, r := range written {
			if nw.reads[r] {
				nw.stale = true
			}
		}
		return nw
	}
	if w == nil || clobber {
		return nil
	}
	for _, r := range written {
		if w.reads[r] {
			w.stale = true
		}
		if r == w.result {
			w.resultStale = true
		}
	}
	if memWrite && w.mem {
		w.stale = true
	}
	return w
}
