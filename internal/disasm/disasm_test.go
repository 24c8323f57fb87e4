package disasm

import (
	"context"
	"strings"
	"testing"

	"github.com/fatih/color"

	"liftkit/internal/arch"
	toy "liftkit/internal/arch/archtest"
	"liftkit/internal/binaryview"
	"liftkit/internal/cfg"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
	"liftkit/internal/valueprop"
)

const base = 0x1000

func init() { color.NoColor = true }

// program:
//
//	0x1000: mov  r1, 5
//	0x1003: call 0x1008
//	0x1005: ret
//	0x1006: nop
//	0x1007: nop
//	0x1008: ret
//	0x1009: .byte 0xff
func program() *binaryview.Memory {
	code := toy.Assemble(
		toy.Mov(toy.R1, 5),
		toy.Call(5),
		toy.Ret(),
		toy.Nop(),
		toy.Nop(),
		toy.Ret(),
		[]byte{0xff},
	)
	return binaryview.FromBytes(base, code, binaryview.PermRead|binaryview.PermExec, isa.LittleEndian, 4)
}

func TestDisassemble(t *testing.T) {
	mem := program()
	insts := Disassemble(mem, toy.Arch{}, base, base+10, Options{})

	want := []struct {
		addr  uint64
		text  string
		valid bool
	}{
		{0x1000, "mov     r1, 5", true},
		{0x1003, "call    0x1008", true},
		{0x1005, "ret", true},
		{0x1006, "nop", true},
		{0x1007, "nop", true},
		{0x1008, "ret", true},
		{0x1009, ".byte 0xff", false},
	}
	if len(insts) != len(want) {
		t.Fatalf("got %d instructions, want %d", len(insts), len(want))
	}
	for i, w := range want {
		got := insts[i]
		if got.Addr != w.addr || got.Text != w.text || got.Valid != w.valid {
			t.Errorf("inst %d = {0x%x %q %v}, want {0x%x %q %v}", i, got.Addr, got.Text, got.Valid, w.addr, w.text, w.valid)
		}
	}
}

func TestDisassembleMaxSteps(t *testing.T) {
	insts := Disassemble(program(), toy.Arch{}, base, base+10, Options{MaxSteps: 2})
	if len(insts) != 2 {
		t.Fatalf("got %d instructions, want 2", len(insts))
	}
}

func TestFormat(t *testing.T) {
	insts := Disassemble(program(), toy.Arch{}, base, base+6, Options{})
	lookup := NameLookup(map[uint64]string{base: "main"})
	out := Format(insts, lookup, func(inst Inst) string {
		if inst.Addr == 0x1005 {
			return "leave"
		}
		return ""
	})

	for _, line := range []string{
		"main:\n",
		"0x00001000  30 01 05  mov     r1, 5\n",
		"0x00001003  40 05     call    0x1008\n",
		"0x00001005  41        ret  ; leave\n",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("missing %q in:\n%s", line, out)
		}
	}
}

func recoverProgram(t *testing.T) (*cfg.Result, *valueprop.Result) {
	t.Helper()
	mem := program()
	res, err := cfg.Recover(context.Background(), mem, toy.Arch{}, base, cfg.Options{})
	if err != nil {
		t.Fatal(err)
	}
	il, err := llil.ResolveFlags(res.Lifted)
	if err != nil {
		t.Fatal(err)
	}
	vals, err := valueprop.Propagate(context.Background(), il, toy.Arch{}, valueprop.Options{Memory: mem})
	if err != nil {
		t.Fatal(err)
	}
	return res, vals
}

func TestAnnotators(t *testing.T) {
	res, vals := recoverProgram(t)
	insts := FromCFG(res)
	if len(insts) != 3 {
		t.Fatalf("got %d instructions, want 3", len(insts))
	}

	calls := CallAnnotator(res, NameLookup(map[uint64]string{0x1008: "helper"}))
	if got := calls(insts[1]); got != "call helper" {
		t.Errorf("call annotation = %q", got)
	}
	if got := CallAnnotator(res, nil)(insts[1]); got != "call sub_1008" {
		t.Errorf("unnamed call annotation = %q", got)
	}

	values := ValueAnnotator(vals, toy.Arch{})
	if got := values(insts[0]); got != "r1 = <const 0x5>" {
		t.Errorf("value annotation = %q", got)
	}

	chained := Chain(calls, values)
	if got := chained(insts[0]); got != "r1 = <const 0x5>" {
		t.Errorf("chained annotation = %q", got)
	}
}

func TestBranchAnnotator(t *testing.T) {
	code := toy.Assemble(
		toy.JmpReg(toy.R0), // 0x1000
		toy.Ret(),          // 0x1002
		toy.Ret(),          // 0x1003
	)
	mem := binaryview.FromBytes(base, code, binaryview.PermRead|binaryview.PermExec, isa.LittleEndian, 4)

	res, err := cfg.Recover(context.Background(), mem, toy.Arch{}, base, cfg.Options{})
	if err != nil {
		t.Fatal(err)
	}
	jmp := Inst{Addr: base}
	if got := BranchAnnotator(res)(jmp); got != "unresolved" {
		t.Errorf("annotation = %q, want unresolved", got)
	}

	res, err = cfg.Recover(context.Background(), mem, toy.Arch{}, base, cfg.Options{
		Overrides: map[uint64][]arch.Location{base: {{Addr: 0x1003}, {Addr: 0x1002}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := BranchAnnotator(res)(jmp); got != "-> 0x1002, 0x1003" {
		t.Errorf("annotation = %q", got)
	}
}
