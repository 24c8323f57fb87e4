package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "archs":
		err = cmdArchs(os.Args[2:])
	case "disasm":
		err = cmdDisasm(os.Args[2:])
	case "il":
		err = cmdIL(os.Args[2:])
	case "cfg":
		err = cmdCFG(os.Args[2:])
	case "values":
		err = cmdValues(os.Args[2:])
	case "graph":
		err = cmdGraph(os.Args[2:])
	case "patch":
		err = cmdPatch(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `liftkit - machine code lifting and analysis

Usage:
  liftkit archs                                     List supported architectures
  liftkit disasm --bin <path> [--func <addr>]       Annotated disassembly per function
  liftkit disasm --bin <path> --start <a> --end <b> Linear disassembly of a range
  liftkit il     --bin <path> [--lifted]            Low level IL per function
  liftkit cfg    --bin <path> --func <addr>         Control flow graph as DOT
  liftkit values --bin <path> [--func <addr>]       Register values and stack variables
  liftkit graph  --bin <path> --out <dir>           JSONL records, callgraph and CFG DOT
  liftkit patch  --bin <path> --at <addr> --kind <k> --out <path>
                                                    Patch an instruction and save

Flags:
  --bin <path>        ELF file or raw code
  --arch <name>       Architecture (required for raw code)
  --base <addr>       Load address of raw code (default 0)
  --func <list>       Comma-separated addresses or symbols
  --config <path>     YAML config file
  --workers <n>       Parallel analysis workers
  --log-level <lvl>   debug, info, warn, error
  --no-color          Plain output
  --debug             Dump records to stderr
`)
}
