package callgraph

import (
	"github.com/zboralski/lattice"

	"liftkit/internal/cfg"
	"liftkit/internal/isa"
)

// BuildCFG constructs a lattice.CFGGraph from analyzed functions.
func BuildCFG(funcs []FuncInfo, name Namer) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		lcfg, _ := BuildFuncCFG(f, name)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG maps one recovered function to a lattice.FuncCFG.
// Block Start/End are instruction indices counted over the blocks in
// order, the entry block first. Returns the FuncCFG and the number of basic blocks (for filtering
// trivial functions).
func BuildFuncCFG(f FuncInfo, name Namer) (*lattice.FuncCFG, int) {
	lcfg := &lattice.FuncCFG{Name: f.Name}
	if f.CFG == nil {
		return lcfg, 0
	}

	callAt := make(map[uint64]cfg.CallSite, len(f.CFG.CallSites))
	for _, cs := range f.CFG.CallSites {
		callAt[cs.Addr] = cs
	}

	idx := 0
	for _, b := range f.CFG.Blocks {
		lb := &lattice.BasicBlock{
			ID:    b.Index,
			Start: idx,
			End:   idx + len(b.Instructions),
			Term:  b.Term,
		}
		for _, e := range b.Edges {
			if e.Block < 0 {
				continue
			}
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: e.Block,
				Cond:    cond(e.Type),
			})
		}
		for i, in := range b.Instructions {
			if cs, ok := callAt[in.Addr]; ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx + i,
					Callee: callee(cs, name),
				})
			}
		}
		idx = lb.End
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg, len(f.CFG.Blocks)
}

func cond(t isa.BranchType) string {
	switch t {
	case isa.TrueBranch:
		return "T"
	case isa.FalseBranch:
		return "F"
	}
	return ""
}
