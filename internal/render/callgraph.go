package render

import (
	"fmt"
	"sort"
	"strings"

	"liftkit/internal/output"
)

// CallgraphDOT renders a callgraph from functions and call edges as DOT.
// Targets that are not known functions are shown as plaintext nodes.
// Entry points are highlighted and auto-discovered functions get the stub
// fill. When reachable is non-nil only its functions are rendered.
// maxNodes limits the number of function nodes rendered (0 = all).
func CallgraphDOT(funcs []output.FuncRecord, edges []output.CallEdgeRecord, reachable map[string]bool, title string, t Theme, maxNodes int) string {
	var shown []output.FuncRecord
	for _, f := range funcs {
		if reachable == nil || reachable[f.Name] {
			shown = append(shown, f)
		}
	}
	if maxNodes > 0 && len(shown) > maxNodes {
		shown = shown[:maxNodes]
	}
	funcSet := make(map[string]bool, len(shown))
	for _, f := range shown {
		funcSet[f.Name] = true
	}
	entrySet := make(map[string]bool)
	for _, ep := range FindEntryPoints(shown, edges) {
		entrySet[ep] = true
	}

	// Deduplicate edges: caller→callee→kind.
	type edgeKey struct {
		from, to, kind string
	}
	counts := make(map[edgeKey]int)
	external := make(map[string]bool)
	for _, e := range edges {
		if !funcSet[e.FromFunc] {
			continue
		}
		to := e.Target
		if e.Kind == "syscall" {
			to = "syscall"
		}
		if to == "" {
			continue
		}
		if !funcSet[to] {
			external[to] = true
		}
		counts[edgeKey{e.FromFunc, to, e.Kind}]++
	}

	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n")
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	for _, f := range shown {
		id := dotID(f.Name)
		label := truncLabel(f.Name, 60)
		attrs := fmt.Sprintf("label=%q", label)
		if entrySet[f.Name] {
			attrs += fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		if f.Auto {
			attrs += fmt.Sprintf(", fillcolor=%q", t.StubFill)
		}
		fmt.Fprintf(&b, "  %s [%s];\n", id, attrs)
	}
	b.WriteByte('\n')

	names := make([]string, 0, len(external))
	for name := range external {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
			dotID(name), truncLabel(name, 50), t.ExternalText)
	}
	b.WriteByte('\n')

	keys := make([]edgeKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	for _, k := range keys {
		color, style := t.EdgeCall, "solid"
		if k.kind == "syscall" {
			color, style = t.EdgeSyscall, "dashed"
		}
		attrs := fmt.Sprintf("color=%q, style=%q", color, style)
		if n := counts[k]; n > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(n)*0.1)
			if n > 2 {
				attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%dx</font>>", color, n)
			}
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

// CallgraphStats summarizes a call graph.
type CallgraphStats struct {
	TotalFunctions int
	AutoFunctions  int
	TotalEdges     int
	Syscalls       int
	Unresolved     int // unresolved indirect branches across all functions
	LiftFailures   int
	TopCallers     []NameCount // sorted desc
	TopCallees     []NameCount // sorted desc
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// ComputeStats computes callgraph statistics from records.
func ComputeStats(funcs []output.FuncRecord, edges []output.CallEdgeRecord) CallgraphStats {
	stats := CallgraphStats{
		TotalFunctions: len(funcs),
		TotalEdges:     len(edges),
	}
	for _, f := range funcs {
		if f.Auto {
			stats.AutoFunctions++
		}
		if f.LiftError != "" {
			stats.LiftFailures++
		}
		stats.Unresolved += len(f.Unresolved)
	}

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, e := range edges {
		callerCount[e.FromFunc]++
		if e.Kind == "syscall" {
			stats.Syscalls++
			continue
		}
		if e.Target != "" {
			calleeCount[e.Target]++
		}
	}
	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending. Ties
// are broken by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
