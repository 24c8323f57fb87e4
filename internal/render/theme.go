package render

// Theme holds colors for graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors by branch type.
	EdgeDirect     string // unconditional and fall-through
	EdgeTrue       string // taken conditional
	EdgeFalse      string // not-taken conditional
	EdgeIndirect   string // resolved indirect branch
	EdgeCall       string // call graph edges
	EdgeSyscall    string // system calls
	EdgeUnresolved string // undetermined exits

	// Node accents.
	EntryBorder  string // function entry / call graph roots
	StubFill     string // auto-discovered functions, terminal blocks
	ExternalText string // targets outside the analysis
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeDirect:     "#424242", // dark gray
	EdgeTrue:       "#0B3D91", // NASA blue
	EdgeFalse:      "#FC3D21", // NASA red
	EdgeIndirect:   "#00695C", // teal
	EdgeCall:       "#424242",
	EdgeSyscall:    "#E65100", // deep orange
	EdgeUnresolved: "#FC3D21",

	EntryBorder:  "#0B3D91",
	StubFill:     "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",
}
