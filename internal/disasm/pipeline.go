package disasm

import (
	"liftkit/internal/analysis"
)

// Listing renders a committed function: its instructions in address order,
// annotated with call destinations, indirect branch targets and, when
// values is set, the register values each instruction produces.
func Listing(fn *analysis.Function, lookup SymbolLookup, values bool) string {
	res := fn.CFG()
	if res == nil {
		return ""
	}
	anns := []Annotator{CallAnnotator(res, lookup), BranchAnnotator(res)}
	if v := fn.Values(); values && v != nil {
		anns = append(anns, ValueAnnotator(v, fn.Arch()))
	}
	return Format(FromCFG(res), lookup, Chain(anns...))
}
