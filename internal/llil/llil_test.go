package llil

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"liftkit/internal/isa"
)

type testArch struct{}

func (testArch) Name() string { return "test" }
func (testArch) AddressSize() int { return 4 }
func (testArch) RegisterName(r isa.Register) string {
	if r < 8 {
		return fmt.Sprintf("r%d", r)
	}
	return ""
}
func (testArch) FlagName(f isa.Flag) string {
	if f == 0 {
		return "z"
	}
	return ""
}
func (testArch) FlagWriteTypeName(t isa.FlagWriteType) string {
	if t == 1 {
		return "*"
	}
	return ""
}
func (testArch) StackPointer() isa.Register { return 7 }

const (
	r0 isa.Register = iota
	r1
	r2
)

func newFn() *Function { return NewFunction(testArch{}, 0x1000) }

func TestLabelResolution(t *testing.T) {
	// Every ordering of references relative to the mark must resolve to the
	// instruction right after the mark.
	for before := 0; before <= 3; before++ {
		t.Run(fmt.Sprintf("before=%d", before), func(t *testing.T) {
			f := newFn()
			l := NewLabel()
			var gotos []InstrIndex
			for i := 0; i < before; i++ {
				gotos = append(gotos, f.AddInstruction(f.Goto(l)))
			}
			f.AddInstruction(f.Nop())
			f.MarkLabel(l)
			want := InstrIndex(f.InstructionCount())
			f.AddInstruction(f.Nop())
			for i := before; i < 3; i++ {
				gotos = append(gotos, f.AddInstruction(f.Goto(l)))
			}
			if err := f.Finalize(); err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			for _, g := range gotos {
				if got := InstrIndex(f.Instruction(g).Operands[0]); got != want {
					t.Errorf("goto at %d targets %d, want %d", g, got, want)
				}
			}
			if l.Target() != want {
				t.Errorf("label target = %d, want %d", l.Target(), want)
			}
		})
	}
}

func TestIfPatchesBothArms(t *testing.T) {
	f := newFn()
	tl, fl := NewLabel(), NewLabel()
	cond := f.Compare(OpCmpE, 4, f.Reg(4, r0), f.Const(4, 5))
	i := f.AddInstruction(f.If(cond, tl, fl))
	f.MarkLabel(tl)
	f.AddInstruction(f.SetReg(4, r1, f.Const(4, 1)))
	f.MarkLabel(fl)
	f.AddInstruction(f.Ret(f.Pop(4)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	e := f.Instruction(i)
	if e.Operands[1] != 1 || e.Operands[2] != 2 {
		t.Errorf("if targets = %d/%d, want 1/2", e.Operands[1], e.Operands[2])
	}
}

func TestFinalizeUnresolvedLabel(t *testing.T) {
	f := newFn()
	f.AddInstruction(f.SetReg(4, r0, f.Const(4, 1)))
	f.AddInstruction(f.Goto(NewLabel()))
	err := f.Finalize()
	if !errors.Is(err, ErrUnresolvedLabel) {
		t.Fatalf("Finalize = %v, want ErrUnresolvedLabel", err)
	}
	if f.InstructionCount() != 0 || f.ExprCount() != 0 {
		t.Errorf("failed function has %d instrs, %d exprs, want empty", f.InstructionCount(), f.ExprCount())
	}
	if f.Finalized() {
		t.Errorf("Finalized() = true after failure")
	}
	if len(f.BasicBlocks()) != 0 {
		t.Errorf("failed function has blocks")
	}
	if err := f.Finalize(); err == nil {
		t.Errorf("second Finalize succeeded")
	}
}

func TestFinalizeFreezes(t *testing.T) {
	f := newFn()
	l := NewLabel()
	f.MarkLabel(l)
	f.AddInstruction(f.Goto(l))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	if !f.Finalized() {
		t.Fatal("not finalized")
	}
	if err := f.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("refinalize = %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("AddExpr after Finalize did not panic")
		}
	}()
	f.AddExpr(OpNop, 0, 0)
}

func TestFinalizeLabelPastEnd(t *testing.T) {
	f := newFn()
	l := NewLabel()
	f.AddInstruction(f.Goto(l))
	f.MarkLabel(l)
	if err := f.Finalize(); !errors.Is(err, ErrBadTarget) {
		t.Fatalf("Finalize = %v, want ErrBadTarget", err)
	}
}

func TestMarkLabelTwice(t *testing.T) {
	f := newFn()
	l := NewLabel()
	f.MarkLabel(l)
	f.AddInstruction(f.Nop())
	f.MarkLabel(l)
	f.AddInstruction(f.Goto(l))
	if err := f.Finalize(); err == nil {
		t.Fatal("Finalize succeeded with a doubly marked label")
	}
}

func TestLabelFromOtherFunction(t *testing.T) {
	a, b := newFn(), newFn()
	l := NewLabel()
	a.MarkLabel(l)
	a.AddInstruction(a.Goto(l))
	b.AddInstruction(b.Goto(l))
	b.AddInstruction(b.Nop())
	if err := b.Finalize(); err == nil {
		t.Fatal("foreign label accepted")
	}
	if err := a.Finalize(); err != nil {
		t.Fatalf("owner Finalize: %v", err)
	}
}

func TestTempHighWater(t *testing.T) {
	f := newFn()
	t0 := f.NewTempRegister()
	if !t0.IsTemp() || t0.TempIndex() != 0 {
		t.Fatalf("first temp = 0x%x", uint32(t0))
	}
	f.AddInstruction(f.SetReg(4, isa.TempRegister(5), f.Reg(4, t0)))
	if got := f.TempRegisterCount(); got != 6 {
		t.Errorf("TempRegisterCount = %d, want 6", got)
	}
	f.AddInstruction(f.SetFlag(isa.TempFlag(2), f.Const(1, 1)))
	if got := f.TempFlagCount(); got != 3 {
		t.Errorf("TempFlagCount = %d, want 3", got)
	}
	if got := f.NewTempRegister().TempIndex(); got != 6 {
		t.Errorf("next temp = %d, want 6", got)
	}
}

func TestJumpToLabelList(t *testing.T) {
	f := newFn()
	a := f.AddLabelForAddress(0x1010)
	b := f.AddLabelForAddress(0x1020)
	f.SetIndirectBranches([]uint64{0x1010, 0x1020})
	f.AddInstruction(f.Jump(f.Reg(4, r0)))
	f.ClearIndirectBranches()
	f.MarkLabel(a)
	f.SetCurrentAddress(0x1010)
	f.AddInstruction(f.Ret(f.Pop(4)))
	f.MarkLabel(b)
	f.SetCurrentAddress(0x1020)
	f.AddInstruction(f.Ret(f.Pop(4)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	root := f.InstructionExpr(0)
	if op := f.Expr(root).Op; op != OpJumpTo {
		t.Fatalf("op = %v, want JUMP_TO", op)
	}
	if diff := cmp.Diff([]uint64{1, 2}, f.OperandList(root, 1)); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	blocks := f.BasicBlocks()
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	if len(blocks[0].Edges) != 2 || blocks[0].Edges[0].Type != isa.IndirectBranch {
		t.Errorf("entry edges = %+v", blocks[0].Edges)
	}
}

func TestJumpWithoutLabelsStaysIndirect(t *testing.T) {
	f := newFn()
	f.SetIndirectBranches([]uint64{0x2000})
	f.AddInstruction(f.Jump(f.Reg(4, r0)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	if op := f.Instruction(0).Op; op != OpJump {
		t.Errorf("op = %v, want JUMP", op)
	}
	if !f.BasicBlocks()[0].Undetermined {
		t.Errorf("unresolved jump block not undetermined")
	}
}

func TestOperandList(t *testing.T) {
	f := newFn()
	idx := f.AddOperandList([]uint64{3, 4, 5})
	e := f.AddExpr(OpJumpTo, 0, 0, uint64(f.Reg(4, r0)), idx, 3)
	if diff := cmp.Diff([]uint64{3, 4, 5}, f.OperandList(e, 1)); diff != "" {
		t.Errorf("list (-want +got):\n%s", diff)
	}
}

func TestBasicBlocks(t *testing.T) {
	// 0: r0 = 0
	// 1: if (r0 == 5) then 4 else 2
	// 2: r0 = r0 + 1
	// 3: goto 1
	// 4: return pop
	f := newFn()
	loop, done, body := NewLabel(), NewLabel(), NewLabel()
	f.AddInstruction(f.SetReg(4, r0, f.Const(4, 0)))
	f.MarkLabel(loop)
	f.AddInstruction(f.If(f.Compare(OpCmpE, 4, f.Reg(4, r0), f.Const(4, 5)), done, body))
	f.MarkLabel(body)
	f.AddInstruction(f.SetReg(4, r0, f.Add(4, f.Reg(4, r0), f.Const(4, 1), 0)))
	f.AddInstruction(f.Goto(loop))
	f.MarkLabel(done)
	f.AddInstruction(f.Ret(f.Pop(4)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	type blk struct {
		Start, End InstrIndex
		Edges      []Edge
	}
	var got []blk
	for _, b := range f.BasicBlocks() {
		got = append(got, blk{b.Start, b.End, b.Edges})
	}
	want := []blk{
		{0, 1, []Edge{{isa.UnconditionalBranch, 1}}},
		{1, 2, []Edge{{isa.TrueBranch, 3}, {isa.FalseBranch, 2}}},
		{2, 4, []Edge{{isa.UnconditionalBranch, 1}}},
		{4, 5, nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("blocks (-want +got):\n%s", diff)
	}
	if in := f.BasicBlocks()[1].Incoming; len(in) != 2 {
		t.Errorf("loop header incoming = %v", in)
	}
	if b := f.BlockOf(3); b == nil || b.Index != 2 {
		t.Errorf("BlockOf(3) = %+v", b)
	}
}

func TestFallOffEndIsUndetermined(t *testing.T) {
	f := newFn()
	f.AddInstruction(f.Nop())
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	if !f.BasicBlocks()[0].Undetermined {
		t.Errorf("block falling off the end not undetermined")
	}
}

func TestText(t *testing.T) {
	f := newFn()
	f.AddInstruction(f.SetReg(4, r0, f.Add(4, f.Reg(4, r1), f.Const(4, 0x10), 1)))
	f.AddInstruction(f.Store(4, f.Sub(4, f.Reg(4, 7), f.Const(4, 4), 0), f.Reg(4, r2)))
	f.AddInstruction(f.SetReg(4, isa.TempRegister(0), f.Load(1, f.Const(4, 0x2000))))
	f.AddInstruction(f.Ret(f.Pop(4)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"r0 = r1 + 0x10 @ *",
		"[r7 - 4].d = r2",
		"temp0 = [0x2000].b",
		"return pop",
	}
	for i, w := range want {
		if got := f.InstructionText(InstrIndex(i)).String(); got != w {
			t.Errorf("instr %d = %q, want %q", i, got, w)
		}
	}
	n := f.ExprCount()
	f.InstructionText(0)
	if f.ExprCount() != n {
		t.Errorf("rendering changed the expression count")
	}
}

func TestRegistersReadWritten(t *testing.T) {
	f := newFn()
	f.AddInstruction(f.SetReg(4, r0, f.Add(4, f.Reg(4, r1), f.Reg(4, r2), 0)))
	f.AddInstruction(f.Push(4, f.Reg(4, r0)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]isa.Register{r1, r2}, f.RegistersRead(0)); diff != "" {
		t.Errorf("read (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]isa.Register{r0}, f.RegistersWritten(0, 7)); diff != "" {
		t.Errorf("written (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]isa.Register{7}, f.RegistersWritten(1, 7)); diff != "" {
		t.Errorf("push written (-want +got):\n%s", diff)
	}
}

func TestAddressIndex(t *testing.T) {
	f := newFn()
	f.SetCurrentAddress(0x1004)
	f.AddInstruction(f.Nop())
	f.SetCurrentAddress(0x1000)
	f.AddInstruction(f.Nop())
	f.AddInstruction(f.Nop())
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	if i, ok := f.InstructionIndexForAddress(0x1000); !ok || i != 1 {
		t.Errorf("index for 0x1000 = %d, %v", i, ok)
	}
	if diff := cmp.Diff([]InstrIndex{1, 2, 0}, f.InstructionsByAddress()); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if _, ok := f.InstructionIndexForAddress(0x2000); ok {
		t.Errorf("found index for unknown address")
	}
}

func TestResolveFlags(t *testing.T) {
	// cmp r0, 5 ; je taken
	f := newFn()
	tl, fl := NewLabel(), NewLabel()
	f.AddInstruction(f.Sub(4, f.Reg(4, r0), f.Const(4, 5), 1))
	f.AddInstruction(f.If(f.FlagCondition(isa.CondE), tl, fl))
	f.MarkLabel(tl)
	f.AddInstruction(f.Ret(f.Pop(4)))
	f.MarkLabel(fl)
	f.AddInstruction(f.Ret(f.Pop(4)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	ll, err := ResolveFlags(f)
	if err != nil {
		t.Fatal(err)
	}
	if ll.InstructionCount() != f.InstructionCount() {
		t.Fatalf("instruction count changed: %d vs %d", ll.InstructionCount(), f.InstructionCount())
	}
	if got := ll.InstructionText(1).String(); got != "if (r0 == 5) then 2 else 3" {
		t.Errorf("resolved = %q", got)
	}
	if got := f.InstructionText(1).String(); got != "if (flag:e) then 2 else 3" {
		t.Errorf("lifted IL modified: %q", got)
	}
}

func TestResolveFlagsClobberedOperand(t *testing.T) {
	// r0 = r0 - 1 {*} ; if (flag:slt) ; if (flag:ne)
	f := newFn()
	a, b, c := NewLabel(), NewLabel(), NewLabel()
	f.AddInstruction(f.SetReg(4, r0, f.Sub(4, f.Reg(4, r0), f.Const(4, 1), 1)))
	f.AddInstruction(f.If(f.FlagCondition(isa.CondSLT), a, b))
	f.MarkLabel(b)
	f.AddInstruction(f.If(f.FlagCondition(isa.CondNE), a, c))
	f.MarkLabel(a)
	f.AddInstruction(f.Ret(f.Pop(4)))
	f.MarkLabel(c)
	f.AddInstruction(f.Ret(f.Pop(4)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	ll, err := ResolveFlags(f)
	if err != nil {
		t.Fatal(err)
	}
	// slt cannot be expressed once r0 was overwritten; ne compares the result.
	if got := ll.InstructionText(1).String(); got != "if (flag:slt) then 3 else 2" {
		t.Errorf("slt = %q", got)
	}
	if got := ll.InstructionText(2).String(); got != "if (flag:ne) then 3 else 4" {
		// Writer state resets at block boundaries.
		t.Errorf("ne = %q", got)
	}
}

func TestResolveFlagsResultRegister(t *testing.T) {
	f := newFn()
	a, b := NewLabel(), NewLabel()
	f.AddInstruction(f.SetReg(4, r0, f.Sub(4, f.Reg(4, r0), f.Const(4, 1), 1)))
	f.AddInstruction(f.If(f.FlagCondition(isa.CondE), a, b))
	f.MarkLabel(a)
	f.AddInstruction(f.Ret(f.Pop(4)))
	f.MarkLabel(b)
	f.AddInstruction(f.Ret(f.Pop(4)))
	if err := f.Finalize(); err != nil {
		t.Fatal(err)
	}
	ll, err := ResolveFlags(f)
	if err != nil {
		t.Fatal(err)
	}
	if got := ll.InstructionText(1).String(); got != "if (r0 == 0) then 2 else 3" {
		t.Errorf("resolved = %q", got)
	}
}

func TestSignExtend(t *testing.T) {
	cases := []struct {
		v    uint64
		size int
		want int64
	}{
		{0xff, 1, -1},
		{0x7f, 1, 127},
		{0xfffe, 2, -2},
		{0xffffffff, 4, -1},
		{0xffffffffffffffff, 8, -1},
	}
	for _, c := range cases {
		if got := SignExtend(c.v, c.size); got != c.want {
			t.Errorf("SignExtend(0x%x, %d) = %d, want %d", c.v, c.size, got, c.want)
		}
	}
	if Mask(0x1ff, 1) != 0xff {
		t.Errorf("Mask(0x1ff, 1) = 0x%x", Mask(0x1ff, 1))
	}
}
