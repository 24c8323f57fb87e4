package llil

import (
	"sort"

	"github.com/pkg/errors"

	"liftkit/internal/isa"
)

// BasicBlock is a run of IL instructions [Start, End).
type BasicBlock struct {
	Index        int
	Start        InstrIndex
	End          InstrIndex
	Edges        []Edge
	Incoming     []int // predecessor block indices
	Undetermined bool  // some exit is not known
}

// Edge is an IL control transfer between blocks.
type Edge struct {
	Type   isa.BranchType
	Target int // block index
}

// Finalize freezes the function. It fails if any label is still unresolved,
// a label was misused, or a branch targets an index with no instruction. A
// failed function is left empty.
func (f *Function) Finalize() error {
	if f.finalized {
		return ErrFinalized
	}
	if f.failed != nil {
		return f.failed
	}
	if err := f.check(); err != nil {
		f.failed = err
		f.exprs, f.instrs, f.lists = nil, nil, nil
		f.addrIndex = map[uint64][]InstrIndex{}
		f.blocks = nil
		return err
	}
	f.blocks = f.buildBlocks()
	f.finalized = true
	return nil
}

func (f *Function) check() error {
	if len(f.pending) > 0 {
		return errors.Wrapf(ErrUnresolvedLabel, "%d label(s) never marked", len(f.pending))
	}
	if len(f.problems) > 0 {
		return f.problems[0]
	}
	n := uint64(len(f.instrs))
	for i, root := range f.instrs {
		for _, t := range f.targets(root) {
			if t >= n {
				return errors.Wrapf(ErrBadTarget, "instruction %d targets %d of %d", i, t, n)
			}
		}
	}
	return nil
}

// targets returns the instruction indices a control instruction can branch to.
func (f *Function) targets(root ExprIndex) []uint64 {
	e := f.exprs[root]
	switch e.Op {
	case OpGoto:
		return []uint64{e.Operands[0]}
	case OpIf:
		return []uint64{e.Operands[1], e.Operands[2]}
	case OpJumpTo:
		return f.OperandList(root, 1)
	}
	return nil
}

func (f *Function) buildBlocks() []*BasicBlock {
	n := len(f.instrs)
	if n == 0 {
		return nil
	}
	leaders := map[int]bool{0: true}
	for i, root := range f.instrs {
		for _, t := range f.targets(root) {
			leaders[int(t)] = true
		}
		if f.exprs[root].Op.EndsBlock() && i+1 < n {
			leaders[i+1] = true
		}
	}
	starts := make([]int, 0, len(leaders))
	for s := range leaders {
		starts = append(starts, s)
	}
	sort.Ints(starts)

	blocks := make([]*BasicBlock, len(starts))
	byStart := make(map[int]int, len(starts))
	for i, s := range starts {
		end := n
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		blocks[i] = &BasicBlock{Index: i, Start: InstrIndex(s), End: InstrIndex(end)}
		byStart[s] = i
	}

	for _, b := range blocks {
		last := f.instrs[b.End-1]
		e := f.exprs[last]
		switch e.Op {
		case OpGoto:
			b.Edges = append(b.Edges, Edge{isa.UnconditionalBranch, byStart[int(e.Operands[0])]})
		case OpIf:
			b.Edges = append(b.Edges,
				Edge{isa.TrueBranch, byStart[int(e.Operands[1])]},
				Edge{isa.FalseBranch, byStart[int(e.Operands[2])]})
		case OpJumpTo:
			for _, t := range f.OperandList(last, 1) {
				b.Edges = append(b.Edges, Edge{isa.IndirectBranch, byStart[int(t)]})
			}
		case OpJump:
			b.Undetermined = true
		case OpRet, OpNoRet, OpUndef, OpTrap:
		default:
			if next, ok := byStart[int(b.End)]; ok {
				b.Edges = append(b.Edges, Edge{isa.UnconditionalBranch, next})
			} else {
				b.Undetermined = true
			}
		}
	}
	for _, b := range blocks {
		for _, e := range b.Edges {
			blocks[e.Target].Incoming = append(blocks[e.Target].Incoming, b.Index)
		}
	}
	return blocks
}

// BasicBlocks returns the IL blocks computed by Finalize.
func (f *Function) BasicBlocks() []*BasicBlock { return f.blocks }

// BlockOf returns the block containing instruction i, or nil.
func (f *Function) BlockOf(i InstrIndex) *BasicBlock {
	k := sort.Search(len(f.blocks), func(j int) bool { return f.blocks[j].End > i })
	if k < len(f.blocks) && f.blocks[k].Start <= i {
		return f.blocks[k]
	}
	return nil
}
