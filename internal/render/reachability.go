package render

import (
	"sort"

	"liftkit/internal/output"
)

// FindEntryPoints returns functions that no call edge targets.
func FindEntryPoints(funcs []output.FuncRecord, edges []output.CallEdgeRecord) []string {
	called := make(map[string]bool)
	for _, e := range edges {
		if e.Kind == "call" && e.Target != "" && e.Target != e.FromFunc {
			called[e.Target] = true
		}
	}

	var entries []string
	for _, f := range funcs {
		if !called[f.Name] {
			entries = append(entries, f.Name)
		}
	}
	sort.Strings(entries)
	return entries
}

// ReachableSet performs BFS from entry points following call edges
// and returns the set of all reachable function names.
func ReachableSet(entryPoints []string, edges []output.CallEdgeRecord) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.Kind == "call" && e.Target != "" {
			adj[e.FromFunc] = append(adj[e.FromFunc], e.Target)
		}
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(entryPoints))
	for _, ep := range entryPoints {
		if !reachable[ep] {
			reachable[ep] = true
			queue = append(queue, ep)
		}
	}

	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, target := range adj[fn] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}
