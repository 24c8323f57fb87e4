package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	lrender "github.com/zboralski/lattice/render"

	"liftkit/internal/callgraph"
	"liftkit/internal/output"
	"liftkit/internal/render"
)

func cmdGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	cf := addCommonFlags(fs)
	outDir := fs.String("out", "", "output directory")
	title := fs.String("title", "", "graph title (default: input file name)")
	maxNodes := fs.Int("max-nodes", 0, "max function nodes in callgraph (0 = all)")
	cfgs := fs.Bool("cfg", false, "write per-function CFG DOT files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outDir == "" {
		return fmt.Errorf("--out is required")
	}
	if *title == "" {
		*title = filepath.Base(*cf.bin)
	}

	s, err := openSession(cf)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.analyze(context.Background()); err != nil {
		return err
	}
	fns, err := s.selected(*cf.funcs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var (
		funcs  []output.FuncRecord
		blocks []output.BlockRecord
		edges  []output.CallEdgeRecord
		infos  []callgraph.FuncInfo
	)
	for _, fn := range fns {
		funcs = append(funcs, output.Function(fn))
		blocks = append(blocks, output.Blocks(fn)...)
		edges = append(edges, output.CallEdges(fn, s.name)...)
		infos = append(infos, callgraph.FuncInfo{Name: fn.Name(), CFG: fn.CFG()})
	}
	s.dump(funcs)

	files := []struct {
		name  string
		count int
		write func(string) error
	}{
		{"functions.jsonl", len(funcs), func(p string) error { return output.WriteJSONL(p, funcs) }},
		{"blocks.jsonl", len(blocks), func(p string) error { return output.WriteJSONL(p, blocks) }},
		{"call_edges.jsonl", len(edges), func(p string) error { return output.WriteJSONL(p, edges) }},
	}
	for _, f := range files {
		path := filepath.Join(*outDir, f.name)
		if err := f.write(path); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d records to %s\n", f.count, path)
	}

	entryPoints := render.FindEntryPoints(funcs, edges)
	reachable := render.ReachableSet(entryPoints, edges)
	fmt.Fprintf(os.Stderr, "entry points: %d, reachable functions: %d / %d\n",
		len(entryPoints), len(reachable), len(funcs))

	texts := map[string]string{
		"callgraph.dot":         render.CallgraphDOT(funcs, edges, nil, *title, render.NASA, *maxNodes),
		"reachable.dot":         render.CallgraphDOT(funcs, edges, reachable, *title+" (reachable)", render.NASA, *maxNodes),
		"lattice_callgraph.dot": lrender.DOT(callgraph.BuildCallGraph(infos, s.name), *title),
		"lattice_cfg.dot":       lrender.DOTCFG(callgraph.BuildCFG(infos, s.name), *title),
	}
	for name, text := range texts {
		if err := output.WriteText(*outDir, name, text); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", filepath.Join(*outDir, name), len(text))
	}

	if *cfgs {
		dir := filepath.Join(*outDir, "cfg")
		n := 0
		for _, fn := range fns {
			res := fn.CFG()
			if res == nil {
				continue
			}
			name := fmt.Sprintf("%x.dot", fn.Start())
			if err := output.WriteText(dir, name, render.CFGDOT(fn.Name(), res, s.instText, render.NASA)); err != nil {
				return err
			}
			n++
		}
		fmt.Fprintf(os.Stderr, "generated %d CFGs in %s\n", n, dir)
	}

	printStats(render.ComputeStats(funcs, edges))
	return nil
}

func printStats(st render.CallgraphStats) {
	fmt.Fprintf(os.Stderr, "functions: %d (%d auto), call edges: %d, syscalls: %d\n",
		st.TotalFunctions, st.AutoFunctions, st.TotalEdges, st.Syscalls)
	fmt.Fprintf(os.Stderr, "unresolved branches: %d, lift failures: %d\n", st.Unresolved, st.LiftFailures)
	for _, c := range st.TopCallers {
		fmt.Fprintf(os.Stderr, "  caller %-40s %d\n", c.Name, c.Count)
	}
	for _, c := range st.TopCallees {
		fmt.Fprintf(os.Stderr, "  callee %-40s %d\n", c.Name, c.Count)
	}
}
