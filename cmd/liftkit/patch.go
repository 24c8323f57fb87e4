package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"liftkit/internal/arch"
	"liftkit/internal/disasm"
)

func cmdPatch(args []string) error {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	cf := addCommonFlags(fs)
	at := fs.String("at", "", "instruction address")
	kind := fs.String("kind", "", "nop, never-branch, always-branch, invert-branch or skip-and-return")
	value := fs.Uint64("value", 0, "return value for skip-and-return")
	out := fs.String("out", "", "patched output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *at == "" || *kind == "" || *out == "" {
		return fmt.Errorf("--at, --kind and --out are required")
	}
	k, err := arch.ParsePatchKind(*kind)
	if err != nil {
		return err
	}

	s, err := openSession(cf)
	if err != nil {
		return err
	}
	defer s.close()

	addr, err := parseAddr(*at)
	if err != nil {
		return err
	}
	if err := s.analyze(context.Background()); err != nil {
		return err
	}
	if !s.an.IsPatchAvailable(k, addr, *value) {
		return fmt.Errorf("%s patch not available at 0x%x", k, addr)
	}

	n := s.arch.MaxInstructionLength()
	orig := s.mem.Read(addr, n)
	before := disasm.Decode(s.arch, orig, addr)
	if err := s.an.Patch(k, addr, *value); err != nil {
		return err
	}
	patched := s.mem.Read(addr, n)
	after := disasm.Decode(s.arch, patched, addr)
	for len(patched) > 0 && len(patched) <= len(orig) && patched[len(patched)-1] == orig[len(patched)-1] {
		patched = patched[:len(patched)-1]
	}
	fmt.Fprintf(os.Stderr, "0x%x: %s -> %s\n", addr, before.Text, after.Text)

	// Reanalyze so the log reports the functions the patch touched.
	if err := s.analyze(context.Background()); err != nil {
		return err
	}

	if err := s.save(*out, addr, patched); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
	return nil
}

// save copies the input file to path with data written at addr.
func (s *session) save(path string, addr uint64, data []byte) error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	var off uint64
	if s.ef != nil {
		if off, err = s.ef.VAToFileOffset(addr); err != nil {
			return err
		}
	} else {
		off = addr - s.base
	}
	if off >= uint64(len(raw)) {
		return fmt.Errorf("0x%x is outside the file", addr)
	}
	copy(raw[off:], data)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
