package callgraph

import (
	"context"
	"testing"

	"github.com/zboralski/lattice/render"

	toy "liftkit/internal/arch/archtest"
	"liftkit/internal/binaryview"
	"liftkit/internal/cfg"
	"liftkit/internal/isa"
)

// program:
//
//	entry (B0):
//	  0x1000: mov  r0, 0
//	  0x1003: call 0x1020      ; helper
//	check (B1):
//	  0x1005: cmp  r0, 0
//	  0x1008: je   0x100d      ; T → B4, F → B2
//	again (B2):
//	  0x100a: call 0x1020      ; helper
//	B3:
//	  0x100c: ret
//	B4:
//	  0x100d: ret
//
//	helper:
//	  0x1020: ret
func program(t *testing.T) (main, helper FuncInfo) {
	t.Helper()
	buf := make([]byte, 0x30)
	copy(buf, toy.Assemble(
		toy.Mov(toy.R0, 0),
		toy.Call(0x1d),
		toy.Cmp(toy.R0, 0),
		toy.Je(5),
		toy.Call(0x16),
		toy.Ret(),
		toy.Ret(),
	))
	copy(buf[0x20:], toy.Ret())
	mem := binaryview.FromBytes(0x1000, buf, binaryview.PermRead|binaryview.PermExec, isa.LittleEndian, 4)

	recoverAt := func(addr uint64) *cfg.Result {
		r, err := cfg.Recover(context.Background(), mem, toy.Arch{}, addr, cfg.Options{})
		if err != nil {
			t.Fatal(err)
		}
		return r
	}
	return FuncInfo{Name: "main", CFG: recoverAt(0x1000)}, FuncInfo{Name: "helper", CFG: recoverAt(0x1020)}
}

func names(addr uint64) string {
	if addr == 0x1020 {
		return "helper"
	}
	return HexNamer(addr)
}

func TestBuildCFG_DOTOutput(t *testing.T) {
	main, _ := program(t)
	cg := BuildCFG([]FuncInfo{main}, names)

	if len(cg.Funcs) != 1 {
		t.Fatalf("expected 1 function, got %d", len(cg.Funcs))
	}
	f := cg.Funcs[0]
	if f.Name != "main" {
		t.Errorf("func name = %q", f.Name)
	}
	if len(f.Blocks) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(f.Blocks))
	}

	// B0: mov + call helper, falls through to B1.
	b0 := f.Blocks[0]
	if b0.Start != 0 || b0.End != 2 {
		t.Errorf("B0 range = [%d, %d)", b0.Start, b0.End)
	}
	if len(b0.Calls) != 1 || b0.Calls[0].Callee != "helper" || b0.Calls[0].Offset != 1 {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 1 || b0.Succs[0].BlockID != 1 || b0.Succs[0].Cond != "" {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}

	// B1: conditional, T → B4, F → B2.
	b1 := f.Blocks[1]
	conds := map[string]int{}
	for _, s := range b1.Succs {
		conds[s.Cond] = s.BlockID
	}
	if len(b1.Succs) != 2 || conds["T"] != 4 || conds["F"] != 2 {
		t.Errorf("B1 succs = %+v", b1.Succs)
	}

	// B2: second call, instruction index 4.
	b2 := f.Blocks[2]
	if len(b2.Calls) != 1 || b2.Calls[0].Offset != 4 {
		t.Errorf("B2 calls = %+v", b2.Calls)
	}

	if !f.Blocks[3].Term || !f.Blocks[4].Term {
		t.Error("return blocks should be terminal")
	}

	dot := render.DOTCFG(cg, "liftkit CFG example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildFuncCFG_NoSnapshot(t *testing.T) {
	lcfg, n := BuildFuncCFG(FuncInfo{Name: "pending"}, nil)
	if n != 0 || len(lcfg.Blocks) != 0 || lcfg.Name != "pending" {
		t.Errorf("got %+v, %d blocks", lcfg, n)
	}
}

func TestBuildCallGraph_DOTOutput(t *testing.T) {
	main, helper := program(t)
	cg := BuildCallGraph([]FuncInfo{main, helper, {Name: "pending"}}, names)

	if len(cg.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(cg.Nodes))
	}
	found := false
	for _, e := range cg.Edges {
		if e.Caller == "main" && e.Callee == "helper" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing main -> helper in %+v", cg.Edges)
	}

	dot := render.DOT(cg, "liftkit call graph example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}
