package archtest

import (
	"testing"

	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

func TestInstructionInfo(t *testing.T) {
	a := Arch{}
	cases := []struct {
		name  string
		code  []byte
		addr  uint64
		len   int
		types []isa.BranchType
		tgts  []uint64
		delay bool
	}{
		{"nop", Nop(), 0x100, 1, nil, nil, false},
		{"jmp", Jmp(10), 0x100, 2, []isa.BranchType{isa.UnconditionalBranch}, []uint64{0x10a}, false},
		{"jmp back", Jmp(-4), 0x100, 2, []isa.BranchType{isa.UnconditionalBranch}, []uint64{0xfc}, false},
		{"je", Je(6), 0x100, 2, []isa.BranchType{isa.TrueBranch, isa.FalseBranch}, []uint64{0x106, 0x102}, false},
		{"call", Call(0x20), 0x100, 2, []isa.BranchType{isa.CallDestination}, []uint64{0x120}, false},
		{"ret", Ret(), 0x100, 1, []isa.BranchType{isa.FunctionReturn}, []uint64{0}, false},
		{"jmp reg", JmpReg(R1), 0x100, 2, []isa.BranchType{isa.UnresolvedBranch}, []uint64{0}, false},
		{"syscall", Syscall(), 0x100, 1, []isa.BranchType{isa.SystemCall}, []uint64{0}, false},
		{"djmp", DelayJmp(8), 0x100, 2, []isa.BranchType{isa.UnconditionalBranch}, []uint64{0x108}, true},
		{"mov32", MovImm32(R2, 0x1234), 0x100, 6, nil, nil, false},
	}
	for _, c := range cases {
		info, err := a.InstructionInfo(c.code, c.addr)
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if info.Length != c.len {
			t.Errorf("%s: length = %d, want %d", c.name, info.Length, c.len)
		}
		if info.BranchDelay != c.delay {
			t.Errorf("%s: delay = %v", c.name, info.BranchDelay)
		}
		if len(info.Branches) != len(c.types) {
			t.Errorf("%s: branches = %d, want %d", c.name, len(info.Branches), len(c.types))
			continue
		}
		for i, b := range info.Branches {
			if b.Type != c.types[i] || b.Target != c.tgts[i] {
				t.Errorf("%s: branch %d = %v 0x%x, want %v 0x%x", c.name, i, b.Type, b.Target, c.types[i], c.tgts[i])
			}
		}
	}
}

func TestDecodeFailures(t *testing.T) {
	a := Arch{}
	bad := [][]byte{
		{},
		{0xff},
		{0x10},             // truncated
		{0x30, 0x09, 0x01}, // register out of range
	}
	for _, b := range bad {
		if _, err := a.InstructionInfo(b, 0); err == nil {
			t.Errorf("InstructionInfo(% x) succeeded", b)
		}
		if _, err := a.Lift(b, 0, llil.NewFunction(a, 0)); err == nil {
			t.Errorf("Lift(% x) succeeded", b)
		}
	}
}

func TestText(t *testing.T) {
	a := Arch{}
	cases := []struct {
		code []byte
		want string
	}{
		{Cmp(R0, 5), "cmp     r0, 5"},
		{Je(4), "je      0x104"},
		{Load(R1, SP, -8), "ld      r1, [sp+-8]"},
		{Ret(), "ret"},
	}
	for _, c := range cases {
		toks, n, err := a.InstructionText(c.code, 0x100)
		if err != nil {
			t.Fatal(err)
		}
		if n != len(c.code) {
			t.Errorf("length = %d, want %d", n, len(c.code))
		}
		if got := toks.String(); got != c.want {
			t.Errorf("text = %q, want %q", got, c.want)
		}
	}
	toks, _, _ := a.InstructionText(Cmp(R0, 5), 0)
	if toks[0].Type != isa.InstructionToken || toks[2].Type != isa.RegisterToken || toks[4].Type != isa.IntegerToken {
		t.Errorf("token types = %+v", toks)
	}
}

func TestLift(t *testing.T) {
	a := Arch{}
	il := llil.NewFunction(a, 0x100)
	code := Assemble(Mov(R0, 3), Add(R0, 2), Push(R0), Ret())
	addr := uint64(0x100)
	for off := 0; off < len(code); {
		n, err := a.Lift(code[off:], addr, il)
		if err != nil {
			t.Fatal(err)
		}
		off += n
		addr += uint64(n)
	}
	if err := il.Finalize(); err != nil {
		t.Fatal(err)
	}
	want := []string{"r0 = 3", "r0 = r0 + 2 @ *", "push(r0)", "return pop"}
	if il.InstructionCount() != len(want) {
		t.Fatalf("instructions = %d, want %d", il.InstructionCount(), len(want))
	}
	for i, w := range want {
		if got := il.InstructionText(llil.InstrIndex(i)).String(); got != w {
			t.Errorf("instr %d = %q, want %q", i, got, w)
		}
	}
	if i, ok := il.InstructionIndexForAddress(0x106); !ok || i != 2 {
		t.Errorf("index for push = %d, %v", i, ok)
	}
}
