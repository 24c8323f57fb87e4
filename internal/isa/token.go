package isa

import "strings"

// TokenType tags a piece of rendered instruction text.
type TokenType uint8

const (
	TextToken TokenType = iota
	InstructionToken
	OperandSeparatorToken
	RegisterToken
	IntegerToken
	PossibleAddressToken
	BeginMemoryOperandToken
	EndMemoryOperandToken
	FloatingPointToken
	AnnotationToken
	CodeRelativeAddressToken
	StackVariableTypeToken
	DataVariableTypeToken
	FunctionReturnTypeToken
	FunctionAttributeToken
	ArgumentTypeToken
	ArgumentNameToken
	HexDumpByteValueToken
	HexDumpSkippedByteToken
	HexDumpInvalidByteToken
	HexDumpTextToken
	OpcodeToken
	StringToken
	CharacterConstantToken
)

// Tokens that only appear in IL and function listings.
const (
	CodeSymbolToken TokenType = iota + 64
	DataSymbolToken
	StackVariableToken
	ImportToken
	AddressDisplayToken
)

// Token is one typed fragment of an instruction's text.
type Token struct {
	Type    TokenType
	Text    string
	Value   uint64
	Size    int
	Operand uint32
}

// Tokens is a rendered line.
type Tokens []Token

// String joins the token text.
func (ts Tokens) String() string {
	var b strings.Builder
	for _, t := range ts {
		b.WriteString(t.Text)
	}
	return b.String()
}
