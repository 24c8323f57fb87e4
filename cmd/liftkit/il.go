package main

import (
	"context"
	"flag"
	"fmt"

	"liftkit/internal/disasm"
	"liftkit/internal/llil"
)

func cmdIL(args []string) error {
	fs := flag.NewFlagSet("il", flag.ExitOnError)
	cf := addCommonFlags(fs)
	lifted := fs.Bool("lifted", false, "show the IL before flag resolution")
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
		il := fn.LowLevelIL()
		if *lifted {
			il = fn.LiftedIL()
		}
		fmt.Fprintf(stdout, "%s:\n", disasm.Label(fn.String()))
		if err := fn.LiftError(); err != nil {
			fmt.Fprintf(stdout, "  %s\n", disasm.Comment(fmt.Sprintf("; lift failed: %v", err)))
		}
		if il != nil {
			writeIL(il)
		}
		fmt.Fprintln(stdout)
	}
	return nil
}

func writeIL(il *llil.Function) {
	for i := 0; i < il.InstructionCount(); i++ {
		idx := llil.InstrIndex(i)
		in := il.Instruction(idx)
		fmt.Fprintf(stdout, "  %4d @ 0x%08x  %s\n", i, in.Address, disasm.Highlight(il.InstructionText(idx)))
	}
}
