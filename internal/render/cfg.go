package render

import (
	"fmt"
	"strings"

	"liftkit/internal/cfg"
	"liftkit/internal/isa"
)

// InstText renders one native instruction for a block label.
type InstText func(b *cfg.Block, in cfg.Instruction) string

// CFGDOT renders a per-function basic-block CFG as DOT.
// Each basic block is a node; edges represent control flow.
// The entry block is highlighted, undetermined blocks get a red border and
// conditional edges use T/F colors.
func CFGDOT(name string, res *cfg.Result, text InstText, t Theme) string {
	if res == nil || len(res.Blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(name))
	b.WriteByte('\n')

	for _, blk := range res.Blocks {
		id := fmt.Sprintf("bb%d", blk.Index)

		var lines []string
		for _, in := range blk.Instructions {
			line := fmt.Sprintf("0x%x: %s", in.Addr, text(blk, in))
			lines = append(lines, dotEscape(line))
		}
		// Truncate long blocks.
		if len(lines) > 12 {
			kept := append(lines[:5:5], fmt.Sprintf("... (%d more)", len(lines)-10))
			lines = append(kept, lines[len(lines)-5:]...)
		}

		label := strings.Join(lines, "<br align=\"left\"/>")
		label += "<br align=\"left\"/>"

		attrs := ""
		switch {
		case blk.Undetermined:
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EdgeUnresolved)
		case blk.Index == 0:
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		if blk.Term {
			attrs += fmt.Sprintf(", fillcolor=%q", t.StubFill)
		}
		fmt.Fprintf(&b, "  %s [label=<%s>%s];\n", id, label, attrs)
	}
	b.WriteByte('\n')

	for _, blk := range res.Blocks {
		from := fmt.Sprintf("bb%d", blk.Index)
		for _, e := range blk.Edges {
			if e.Block < 0 {
				continue
			}
			to := fmt.Sprintf("bb%d", e.Block)
			switch e.Type {
			case isa.TrueBranch:
				fmt.Fprintf(&b, "  %s -> %s [color=%q, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
					from, to, t.EdgeTrue, t.EdgeTrue)
			case isa.FalseBranch:
				fmt.Fprintf(&b, "  %s -> %s [color=%q, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
					from, to, t.EdgeFalse, t.EdgeFalse)
			case isa.IndirectBranch:
				fmt.Fprintf(&b, "  %s -> %s [color=%q, style=dashed];\n", from, to, t.EdgeIndirect)
			default:
				fmt.Fprintf(&b, "  %s -> %s [color=%q];\n", from, to, t.EdgeDirect)
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}
