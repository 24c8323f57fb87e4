package main

import (
	"flag"
	"fmt"
)

func cmdArchs(args []string) error {
	fs := flag.NewFlagSet("archs", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg, err := newRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	for _, a := range reg.List() {
		fmt.Fprintf(stdout, "%-8s %s-endian %d-bit  max insn %d bytes  sp %s\n",
			a.Name(), a.Endianness(), a.AddressSize()*8, a.MaxInstructionLength(),
			a.RegisterName(a.StackPointer()))
	}
	return nil
}
