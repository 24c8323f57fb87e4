package main

import (
	"context"
	"flag"
	"fmt"

	"liftkit/internal/disasm"
)

func cmdValues(args []string) error {
	fs := flag.NewFlagSet("values", flag.ExitOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
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
	for _, fn := range fns {
		v := fn.Values()
		fmt.Fprintf(stdout, "%s:\n", disasm.Label(fn.String()))
		if v == nil {
			fmt.Fprintf(stdout, "  %s\n\n", disasm.Comment("; no values"))
			continue
		}
		ann := disasm.ValueAnnotator(v, fn.Arch())
		for _, in := range disasm.FromCFG(fn.CFG()) {
			if c := ann(in); c != "" {
				fmt.Fprintf(stdout, "  0x%08x  %s\n", in.Addr, c)
			}
		}
		vars := fn.StackVariables()
		if len(vars) > 0 {
			fmt.Fprintf(stdout, "  stack:\n")
			for _, sv := range vars {
				fmt.Fprintf(stdout, "    %s\n", sv)
			}
		}
		if n := fn.ResolutionRounds(); n > 0 {
			fmt.Fprintf(stdout, "  %s\n", disasm.Comment(fmt.Sprintf("; %d jump table rounds, %d propagation iterations", n, v.Iterations())))
		}
		fmt.Fprintln(stdout)
	}
	return nil
}
