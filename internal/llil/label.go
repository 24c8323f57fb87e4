package llil

import (
	"github.com/pkg/errors"
)

// Label is a branch target inside the IL. The zero value is an unresolved
// label ready for use.
type Label struct {
	resolved bool
	ref      InstrIndex
	owner    *Function
	sites    []patchSite
}

// patchSite is a slot waiting for a label's instruction index: either an
// expression operand or an entry of the operand side table.
type patchSite struct {
	expr    ExprIndex
	operand int
	list    int // side-table position, -1 for expression operands
}

// NewLabel returns an unresolved label.
func NewLabel() *Label { return &Label{} }

// Resolved reports whether the label has been placed.
func (l *Label) Resolved() bool { return l.resolved }

// Target is the instruction index the label resolved to.
func (l *Label) Target() InstrIndex {
	if !l.resolved {
		return NoInstr
	}
	return l.ref
}

func (f *Function) claim(l *Label) bool {
	if l.owner == nil {
		l.owner = f
		return true
	}
	if l.owner != f {
		f.problems = append(f.problems, errors.New("llil: label belongs to another function"))
		return false
	}
	return true
}

// reference fills operand slot op of expression e with the label's index,
// or records the slot for patching when the label is placed.
func (f *Function) reference(l *Label, e ExprIndex, op int) {
	if !f.claim(l) {
		return
	}
	if l.resolved {
		f.exprs[e].Operands[op] = uint64(l.ref)
		return
	}
	f.exprs[e].Operands[op] = NoLabel
	l.sites = append(l.sites, patchSite{expr: e, operand: op, list: -1})
	f.pending[l] = struct{}{}
}

// NoLabel fills a label slot that has not been patched yet.
const NoLabel = ^uint64(0)

// Goto returns a GOTO expression targeting l.
func (f *Function) Goto(l *Label) ExprIndex {
	e := f.AddExpr(OpGoto, 0, 0, NoLabel)
	f.reference(l, e, 0)
	return e
}

// If returns an IF expression branching on cond to t or fl.
func (f *Function) If(cond ExprIndex, t, fl *Label) ExprIndex {
	e := f.AddExpr(OpIf, 0, 0, uint64(cond), NoLabel, NoLabel)
	f.reference(t, e, 1)
	f.reference(fl, e, 2)
	return e
}

// MarkLabel places l at the next instruction index and patches every slot
// that referenced it so far.
func (f *Function) MarkLabel(l *Label) {
	f.mutable()
	if !f.claim(l) {
		return
	}
	if l.resolved {
		f.problems = append(f.problems, errors.Errorf("llil: label marked twice (at %d and %d)", l.ref, len(f.instrs)))
		return
	}
	l.resolved = true
	l.ref = InstrIndex(len(f.instrs))
	for _, s := range l.sites {
		if s.list >= 0 {
			f.lists[s.list] = uint64(l.ref)
		} else {
			f.exprs[s.expr].Operands[s.operand] = uint64(l.ref)
		}
	}
	l.sites = nil
	delete(f.pending, l)
}

// AddOperandList stores ops in the side table and returns the index to place
// in an operand slot, followed by len(ops) in the next slot.
func (f *Function) AddOperandList(ops []uint64) uint64 {
	f.mutable()
	idx := uint64(len(f.lists))
	f.lists = append(f.lists, ops...)
	return idx
}

// AddLabelList stores the instruction indices of labels in the side table.
// Unresolved labels are patched when marked.
func (f *Function) AddLabelList(labels []*Label) uint64 {
	f.mutable()
	idx := len(f.lists)
	for i, l := range labels {
		f.lists = append(f.lists, NoLabel)
		if !f.claim(l) {
			continue
		}
		if l.resolved {
			f.lists[idx+i] = uint64(l.ref)
			continue
		}
		l.sites = append(l.sites, patchSite{list: idx + i})
		f.pending[l] = struct{}{}
	}
	return uint64(idx)
}

// OperandList expands the list referenced by operand slots op and op+1 of
// expression e.
func (f *Function) OperandList(e ExprIndex, op int) []uint64 {
	x := f.exprs[e]
	if op+1 >= len(x.Operands) {
		return nil
	}
	start, n := x.Operands[op], x.Operands[op+1]
	if start+n > uint64(len(f.lists)) {
		return nil
	}
	return append([]uint64(nil), f.lists[start:start+n]...)
}

// AddLabelForAddress creates the label native code at addr branches to.
func (f *Function) AddLabelForAddress(addr uint64) *Label {
	if l, ok := f.labels[addr]; ok {
		return l
	}
	l := &Label{owner: f}
	f.labels[addr] = l
	return l
}

// LabelForAddress returns the label registered for addr, or nil.
func (f *Function) LabelForAddress(addr uint64) *Label { return f.labels[addr] }

// SetIndirectBranches tells subsequent Jump calls the known targets of the
// instruction being lifted.
func (f *Function) SetIndirectBranches(targets []uint64) {
	f.indirect = append(f.indirect[:0], targets...)
}

// ClearIndirectBranches forgets targets set by SetIndirectBranches.
func (f *Function) ClearIndirectBranches() { f.indirect = f.indirect[:0] }

// IndirectBranches returns the targets currently in effect.
func (f *Function) IndirectBranches() []uint64 { return append([]uint64(nil), f.indirect...) }
