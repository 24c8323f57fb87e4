package arch

import (
	"strconv"
	"strings"

	"liftkit/internal/isa"
)

// TokenizeText splits disassembler output into typed tokens. Operands are
// separated on commas; brackets delimit memory operands; numbers become
// integer tokens and names accepted by isReg become register tokens.
func TokenizeText(mnemonic, operands string, addrSize int, isReg func(string) bool) isa.Tokens {
	toks := isa.Tokens{{Type: isa.InstructionToken, Text: mnemonic}}
	if operands == "" {
		return toks
	}
	pad := 8 - len(mnemonic)
	if pad < 1 {
		pad = 1
	}
	toks = append(toks, isa.Token{Type: isa.TextToken, Text: strings.Repeat(" ", pad)})

	word := func(w string) {
		if w == "" {
			return
		}
		if v, ok := parseNumber(w); ok {
			tt := isa.IntegerToken
			if v >= 0x1000 && addrSize > 0 {
				tt = isa.PossibleAddressToken
			}
			toks = append(toks, isa.Token{Type: tt, Text: w, Value: v, Size: addrSize})
			return
		}
		if isReg != nil && isReg(w) {
			toks = append(toks, isa.Token{Type: isa.RegisterToken, Text: w})
			return
		}
		toks = append(toks, isa.Token{Type: isa.TextToken, Text: w})
	}

	start := 0
	for i := 0; i < len(operands); i++ {
		c := operands[i]
		var tt isa.TokenType
		switch c {
		case ',':
			tt = isa.OperandSeparatorToken
		case '[':
			tt = isa.BeginMemoryOperandToken
		case ']':
			tt = isa.EndMemoryOperandToken
		case ' ', '+', '-', '*', '!', '{', '}':
			tt = isa.TextToken
		default:
			continue
		}
		word(operands[start:i])
		text := string(c)
		if c == ',' && i+1 < len(operands) && operands[i+1] == ' ' {
			text = ", "
			i++
		}
		toks = append(toks, isa.Token{Type: tt, Text: text})
		start = i + 1
	}
	word(operands[start:])
	return toks
}

func parseNumber(w string) (uint64, bool) {
	w = strings.TrimPrefix(w, "#")
	neg := strings.HasPrefix(w, "-")
	w = strings.TrimPrefix(w, "-")
	if w == "" || w[0] < '0' || w[0] > '9' {
		return 0, false
	}
	v, err := strconv.ParseUint(w, 0, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}
