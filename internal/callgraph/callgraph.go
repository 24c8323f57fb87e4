// Package callgraph maps analyzed functions onto lattice graphs.
package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"liftkit/internal/cfg"
)

// FuncInfo holds the data needed to build call graph and CFG for one function.
type FuncInfo struct {
	Name string
	CFG  *cfg.Result
}

// Namer resolves a call destination to a display name.
type Namer func(addr uint64) string

// HexNamer names every address 0x<addr>.
func HexNamer(addr uint64) string { return fmt.Sprintf("0x%x", addr) }

func callee(cs cfg.CallSite, name Namer) string {
	if cs.Syscall {
		return "syscall"
	}
	if name == nil {
		name = HexNamer
	}
	return name(cs.Target)
}

// BuildCallGraph constructs a lattice.Graph from analyzed functions.
// Each function becomes a node. Each call site becomes an edge.
// Functions without a committed CFG contribute only their node.
func BuildCallGraph(funcs []FuncInfo, name Namer) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		if f.CFG == nil {
			continue
		}
		for _, cs := range f.CFG.CallSites {
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: callee(cs, name),
			})
		}
	}
	g.Dedup()
	return g
}
