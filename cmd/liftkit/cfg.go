package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"liftkit/internal/cfg"
	"liftkit/internal/isa"
	"liftkit/internal/render"
)

func cmdCFG(args []string) error {
	fs := flag.NewFlagSet("cfg", flag.ExitOnError)
	cf := addCommonFlags(fs)
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cf.funcs == "" || strings.Contains(*cf.funcs, ",") {
		return fmt.Errorf("--func must name exactly one function")
	}

	s, err := openSession(cf)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.analyze(context.Background()); err != nil {
		return err
	}
	fn, err := s.function(*cf.funcs)
	if err != nil {
		return err
	}
	res := fn.CFG()
	if res == nil {
		return fmt.Errorf("%s was not analyzed", fn)
	}
	s.dump(res.Blocks)

	dot := render.CFGDOT(fn.Name(), res, s.instText, render.NASA)
	if *out == "" {
		fmt.Fprint(stdout, dot)
		return nil
	}
	if err := os.WriteFile(*out, []byte(dot), 0644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d blocks)\n", *out, len(res.Blocks))
	return nil
}

// instText renders one block instruction, naming call destinations.
func (s *session) instText(b *cfg.Block, in cfg.Instruction) string {
	toks, _, err := b.Arch.InstructionText(in.Data, in.Addr)
	if err != nil {
		return fmt.Sprintf("0x%x  ??", in.Addr)
	}
	text := fmt.Sprintf("0x%x  %s", in.Addr, toks.String())
	for _, br := range in.Info.Branches {
		if br.Type == isa.CallDestination {
			text += "  ; " + s.name(br.Target)
		}
	}
	return text
}
