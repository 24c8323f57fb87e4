package llil

import "liftkit/internal/isa"

// Children returns the nested expressions of e in operand order.
func (f *Function) Children(e ExprIndex) []ExprIndex {
	x := f.exprs[e]
	if x.Op >= numOps {
		return nil
	}
	var out []ExprIndex
	for i, k := range opLayout[x.Op] {
		if k == kindExpr {
			out = append(out, ExprIndex(x.Operands[i]))
		}
	}
	return out
}

// Walk visits e and every nested expression depth first, parents before
// children. Returning false from fn skips the children of that node.
func (f *Function) Walk(e ExprIndex, fn func(ExprIndex, Expr) bool) {
	if !fn(e, f.exprs[e]) {
		return
	}
	for _, c := range f.Children(e) {
		f.Walk(c, fn)
	}
}

// RegistersRead lists registers read by instruction i, without duplicates.
func (f *Function) RegistersRead(i InstrIndex) []isa.Register {
	var out []isa.Register
	seen := map[isa.Register]bool{}
	f.Walk(f.instrs[i], func(_ ExprIndex, x Expr) bool {
		if x.Op == OpReg && !seen[x.Reg()] {
			seen[x.Reg()] = true
			out = append(out, x.Reg())
		}
		return true
	})
	return out
}

// RegistersWritten lists registers written by instruction i. PUSH, POP,
// CALL and RET also write the stack pointer, which the caller supplies.
func (f *Function) RegistersWritten(i InstrIndex, sp isa.Register) []isa.Register {
	var out []isa.Register
	seen := map[isa.Register]bool{}
	add := func(r isa.Register) {
		if r != isa.InvalidRegister && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	f.Walk(f.instrs[i], func(_ ExprIndex, x Expr) bool {
		switch x.Op {
		case OpSetReg:
			add(isa.Register(x.Operands[0]))
		case OpSetRegSplit:
			add(isa.Register(x.Operands[0]))
			add(isa.Register(x.Operands[1]))
		case OpPush, OpPop, OpRet:
			add(sp)
		}
		return true
	})
	return out
}

// readsMemory reports whether e contains a LOAD.
func (f *Function) readsMemory(e ExprIndex) bool {
	found := false
	f.Walk(e, func(_ ExprIndex, x Expr) bool {
		if x.Op == OpLoad || x.Op == OpPop {
			found = true
		}
		return !found
	})
	return found
}

// copyExpr appends a deep copy of the tree rooted at e and returns its root.
func (f *Function) copyExpr(e ExprIndex) ExprIndex {
	x := f.exprs[e]
	if x.Op < numOps {
		for i, k := range opLayout[x.Op] {
			if k == kindExpr {
				x.Operands[i] = uint64(f.copyExpr(ExprIndex(x.Operands[i])))
			}
		}
	}
	f.exprs = append(f.exprs, x)
	return ExprIndex(len(f.exprs) - 1)
}

// clone returns an unfinalized copy sharing no storage with f. Labels are not
// carried over; all targets are already resolved in a finalized function.
func (f *Function) clone() *Function {
	c := NewFunction(f.arch, f.source)
	c.exprs = append([]Expr(nil), f.exprs...)
	c.instrs = append([]ExprIndex(nil), f.instrs...)
	c.lists = append([]uint64(nil), f.lists...)
	for a, idx := range f.addrIndex {
		c.addrIndex[a] = append([]InstrIndex(nil), idx...)
	}
	c.tempRegs, c.tempFlags = f.tempRegs, f.tempFlags
	return c
}
