package main

import (
	"context"
	"flag"
	"fmt"

	"liftkit/internal/disasm"
)

func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	cf := addCommonFlags(fs)
	start := fs.String("start", "", "linear sweep start address (skips analysis)")
	end := fs.String("end", "", "linear sweep end address")
	maxSteps := fs.Int("max-steps", 0, "instruction cap for a linear sweep (0 = none)")
	values := fs.Bool("values", false, "annotate register values")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(cf)
	if err != nil {
		return err
	}
	defer s.close()

	if *start != "" {
		return s.linear(*start, *end, *maxSteps)
	}

	if err := s.analyze(context.Background()); err != nil {
		return err
	}
	fns, err := s.selected(*cf.funcs)
	if err != nil {
		return err
	}
	for _, fn := range fns {
		if err := fn.LiftError(); err != nil {
			fmt.Fprintf(stdout, "%s\n", disasm.Comment(fmt.Sprintf("; %s: lift failed: %v", fn.Name(), err)))
		}
		fmt.Fprint(stdout, disasm.Listing(fn, s.lookup(), *values))
		fmt.Fprintln(stdout)
	}
	return nil
}

// linear disassembles [start, end) without analysis.
func (s *session) linear(start, end string, maxSteps int) error {
	lo, err := parseAddr(start)
	if err != nil {
		return err
	}
	if end == "" {
		return fmt.Errorf("--end is required with --start")
	}
	hi, err := parseAddr(end)
	if err != nil {
		return err
	}
	if hi <= lo {
		return fmt.Errorf("empty range 0x%x-0x%x", lo, hi)
	}
	insts := disasm.Disassemble(s.mem, s.arch, lo, hi, disasm.Options{MaxSteps: maxSteps})
	fmt.Fprint(stdout, disasm.Format(insts, s.lookup()))
	return nil
}
