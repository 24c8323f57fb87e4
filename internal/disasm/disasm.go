// Package disasm renders native instructions as a linear listing.
package disasm

import (
	"fmt"
	"sort"
	"strings"

	"liftkit/internal/arch"
	"liftkit/internal/binaryview"
	"liftkit/internal/cfg"
	"liftkit/internal/isa"
)

// Inst is a decoded instruction with address and raw bytes.
type Inst struct {
	Addr   uint64
	Bytes  []byte
	Tokens isa.Tokens
	Text   string // full disassembly text
	Valid  bool
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	MaxSteps int // maximum instructions to decode; 0 = 10M
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Decode renders the instruction at the start of data. Bytes that do not
// decode become a one-byte .byte directive.
func Decode(a arch.Architecture, data []byte, addr uint64) Inst {
	data = arch.Clamp(a, data)
	toks, n, err := a.InstructionText(data, addr)
	if err != nil || n <= 0 || n > len(data) {
		if len(data) == 0 {
			return Inst{Addr: addr}
		}
		text := fmt.Sprintf(".byte 0x%02x", data[0])
		return Inst{
			Addr:   addr,
			Bytes:  data[:1],
			Tokens: isa.Tokens{{Type: isa.TextToken, Text: text}},
			Text:   text,
		}
	}
	return Inst{Addr: addr, Bytes: data[:n], Tokens: toks, Text: toks.String(), Valid: true}
}

// Disassemble decodes instructions linearly over [start, end) of the view.
// Returns decoded instructions up to MaxSteps or end of readable data.
func Disassemble(view binaryview.View, a arch.Architecture, start, end uint64, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	var result []Inst
	for addr := start; addr < end && len(result) < maxSteps; {
		want := a.MaxInstructionLength()
		if rem := end - addr; rem < uint64(want) {
			want = int(rem)
		}
		inst := Decode(a, view.Read(addr, want), addr)
		if len(inst.Bytes) == 0 {
			break
		}
		result = append(result, inst)
		addr += uint64(len(inst.Bytes))
	}
	return result
}

// FromCFG lists the instructions of a recovered function in address order.
func FromCFG(res *cfg.Result) []Inst {
	var result []Inst
	for _, b := range res.Blocks {
		for _, in := range b.Instructions {
			inst := Decode(b.Arch, in.Data, in.Addr)
			inst.Bytes = in.Data
			result = append(result, inst)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Addr < result[j].Addr })
	return result
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <hex bytes>  <disasm>  ; <comments>
// Annotators are checked in order; first non-empty result is used.
func Format(insts []Inst, lookup SymbolLookup, annotators ...Annotator) string {
	width := 0
	for _, inst := range insts {
		if len(inst.Bytes) > width {
			width = len(inst.Bytes)
		}
	}

	var b strings.Builder
	for _, inst := range insts {
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "\n%s:\n", Label(name))
			}
		}
		fmt.Fprintf(&b, "0x%08x  ", inst.Addr)
		hex := make([]string, len(inst.Bytes))
		for i, c := range inst.Bytes {
			hex[i] = fmt.Sprintf("%02x", c)
		}
		fmt.Fprintf(&b, "%-*s  ", width*3-1, strings.Join(hex, " "))
		b.WriteString(Highlight(inst.Tokens))
		for _, ann := range annotators {
			if s := ann(inst); s != "" {
				b.WriteString(Comment("  ; " + s))
				break
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// NameLookup returns a SymbolLookup over a fixed set of named entry points.
func NameLookup(entryPoints map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		if name, ok := entryPoints[addr]; ok {
			return name, true
		}
		return "", false
	}
}
