package disasm

import (
	"fmt"
	"sort"
	"strings"

	"liftkit/internal/arch"
	"liftkit/internal/cfg"
	"liftkit/internal/isa"
	"liftkit/internal/valueprop"
)

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(inst Inst) string

// CallAnnotator names the destination of every call site in res.
func CallAnnotator(res *cfg.Result, lookup SymbolLookup) Annotator {
	anns := make(map[uint64]string, len(res.CallSites))
	for _, cs := range res.CallSites {
		if cs.Syscall {
			anns[cs.Addr] = "syscall"
			continue
		}
		name := fmt.Sprintf("sub_%x", cs.Target)
		if lookup != nil {
			if n, ok := lookup(cs.Target); ok {
				name = n
			}
		}
		anns[cs.Addr] = "call " + name
	}
	return func(inst Inst) string { return anns[inst.Addr] }
}

// BranchAnnotator lists indirect branch targets and flags branches that
// recovery could not resolve.
func BranchAnnotator(res *cfg.Result) Annotator {
	anns := make(map[uint64]string)
	for _, src := range res.Unresolved {
		anns[src] = "unresolved"
	}
	for _, b := range res.Blocks {
		var targets []uint64
		for _, e := range b.Edges {
			if e.Type == isa.IndirectBranch {
				targets = append(targets, e.Target)
			}
		}
		if len(targets) == 0 || len(b.Instructions) == 0 {
			continue
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
		parts := make([]string, len(targets))
		for i, t := range targets {
			parts[i] = fmt.Sprintf("0x%x", t)
		}
		src := branchAddr(b)
		anns[src] = "-> " + strings.Join(parts, ", ")
	}
	return func(inst Inst) string { return anns[inst.Addr] }
}

// branchAddr is the address of the block's branch, skipping a trailing
// delay-slot instruction.
func branchAddr(b *cfg.Block) uint64 {
	last := len(b.Instructions) - 1
	if last > 0 && b.Instructions[last].DelaySlot {
		last--
	}
	return b.Instructions[last].Addr
}

// ValueAnnotator shows the known values of registers written by each
// instruction. Undetermined values and temporaries are left out.
func ValueAnnotator(v *valueprop.Result, a arch.Architecture) Annotator {
	il := v.Function()
	return func(inst Inst) string {
		idx := il.InstructionsForAddress(inst.Addr)
		if len(idx) == 0 {
			return ""
		}
		last := idx[len(idx)-1]
		var parts []string
		seen := map[isa.Register]bool{}
		for _, i := range idx {
			for _, r := range il.RegistersWritten(i, a.StackPointer()) {
				if r.IsTemp() || seen[r] {
					continue
				}
				seen[r] = true
				val := v.RegisterValueAfter(last, r)
				if val.IsUndetermined() {
					continue
				}
				parts = append(parts, fmt.Sprintf("%s = %s", a.RegisterName(r), v.Format(val)))
			}
		}
		return strings.Join(parts, ", ")
	}
}

// Chain merges annotators: every non-empty comment is kept, in order.
func Chain(annotators ...Annotator) Annotator {
	return func(inst Inst) string {
		var parts []string
		for _, ann := range annotators {
			if s := ann(inst); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
}
