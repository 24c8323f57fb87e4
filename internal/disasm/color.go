package disasm

import (
	"strings"

	"github.com/fatih/color"

	"liftkit/internal/isa"
)

var (
	mnemonicColor = color.New(color.FgHiWhite, color.Bold).SprintFunc()
	registerColor = color.New(color.FgCyan).SprintFunc()
	numberColor   = color.New(color.FgYellow).SprintFunc()
	addressColor  = color.New(color.FgGreen).SprintFunc()
	symbolColor   = color.New(color.FgMagenta).SprintFunc()
	commentColor  = color.New(color.FgHiBlack).SprintFunc()
	labelColor    = color.New(color.FgHiBlue, color.Bold).SprintFunc()
)

// Highlight renders tokens with terminal colours. Colour is disabled when
// color.NoColor is set, which fatih/color does for non-terminals.
func Highlight(toks isa.Tokens) string {
	var b strings.Builder
	for _, t := range toks {
		switch t.Type {
		case isa.InstructionToken, isa.OpcodeToken:
			b.WriteString(mnemonicColor(t.Text))
		case isa.RegisterToken:
			b.WriteString(registerColor(t.Text))
		case isa.IntegerToken, isa.FloatingPointToken, isa.CharacterConstantToken:
			b.WriteString(numberColor(t.Text))
		case isa.PossibleAddressToken, isa.CodeRelativeAddressToken:
			b.WriteString(addressColor(t.Text))
		case isa.CodeSymbolToken, isa.DataSymbolToken, isa.ImportToken, isa.StackVariableToken:
			b.WriteString(symbolColor(t.Text))
		case isa.AnnotationToken:
			b.WriteString(commentColor(t.Text))
		default:
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Comment renders a trailing comment.
func Comment(s string) string { return commentColor(s) }

// Label renders a function or block label.
func Label(s string) string { return labelColor(s) }
