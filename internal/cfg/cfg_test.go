package cfg_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liftkit/internal/arch"
	toy "liftkit/internal/arch/archtest"
	"liftkit/internal/binaryview"
	"liftkit/internal/cfg"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

const base = 0x1000

func view(code []byte) *binaryview.Memory {
	return binaryview.FromBytes(base, code, binaryview.PermRead|binaryview.PermExec, isa.LittleEndian, 4)
}

func build(t *testing.T, code []byte, opts cfg.Options) *cfg.Result {
	t.Helper()
	r, err := cfg.Recover(context.Background(), view(code), toy.Arch{}, base, opts)
	require.NoError(t, err)
	return r
}

func text(il *llil.Function) []string {
	var out []string
	for i := 0; i < il.InstructionCount(); i++ {
		out = append(out, il.InstructionText(llil.InstrIndex(i)).String())
	}
	return out
}

func starts(r *cfg.Result) []uint64 {
	var out []uint64
	for _, b := range r.Blocks {
		out = append(out, b.Start)
	}
	return out
}

// Every block has an exit, is undetermined, or terminates the function.
func checkComplete(t *testing.T, r *cfg.Result) {
	t.Helper()
	for _, b := range r.Blocks {
		if len(b.Edges) == 0 && !b.Undetermined && !b.Term {
			t.Errorf("block 0x%x has no edges and no justification", b.Start)
		}
	}
}

func TestJumpStartsNewBlock(t *testing.T) {
	code := toy.Assemble(toy.Jmp(10), toy.Nop(), toy.Nop(), toy.Nop(), toy.Nop(), toy.Nop(), toy.Nop(), toy.Nop(), toy.Nop(), toy.Ret())
	r := build(t, code, cfg.Options{})

	require.Len(t, r.Blocks, 2)
	entry := r.Blocks[0]
	assert.Equal(t, uint64(base), entry.Start)
	assert.Equal(t, uint64(base+2), entry.End)
	assert.Equal(t, []cfg.Edge{{Type: isa.UnconditionalBranch, Target: base + 10, Block: 1}}, entry.Edges)
	assert.Equal(t, uint64(base+10), r.Blocks[1].Start)
	assert.True(t, r.Blocks[1].Term)
	assert.Equal(t, []int{0}, r.Blocks[1].Incoming)

	require.NoError(t, r.LiftErr)
	assert.Equal(t, []string{"goto 1", "return pop"}, text(r.Lifted))
	checkComplete(t, r)
}

func TestEdgeKinds(t *testing.T) {
	code := toy.Assemble(
		toy.Cmp(toy.R0, 5), // 0x1000
		toy.Je(6),          // 0x1003 -> 0x1009
		toy.Call(0x40),     // 0x1005 -> 0x1045
		toy.Jmp(4),         // 0x1007 -> 0x100b
		toy.Syscall(),      // 0x1009
		toy.Nop(),          // 0x100a
		toy.JmpReg(toy.R1), // 0x100b
	)
	r := build(t, code, cfg.Options{})

	require.Equal(t, []uint64{0x1000, 0x1005, 0x1007, 0x1009, 0x100a, 0x100b}, starts(r))
	b := r.Blocks
	assert.Equal(t, []cfg.Edge{
		{Type: isa.TrueBranch, Target: 0x1009, Block: 3},
		{Type: isa.FalseBranch, Target: 0x1005, Block: 1},
	}, b[0].Edges)
	assert.Equal(t, []cfg.Edge{
		{Type: isa.CallDestination, Target: 0x1045, Block: -1},
		{Type: isa.UnconditionalBranch, Target: 0x1007, Block: 2},
	}, b[1].Edges)
	assert.Equal(t, []cfg.Edge{{Type: isa.UnconditionalBranch, Target: 0x100b, Block: 5}}, b[2].Edges)
	assert.Equal(t, []cfg.Edge{
		{Type: isa.SystemCall, Block: -1},
		{Type: isa.UnconditionalBranch, Target: 0x100a, Block: 4},
	}, b[3].Edges)
	assert.Equal(t, []cfg.Edge{{Type: isa.UnconditionalBranch, Target: 0x100b, Block: 5}}, b[4].Edges)
	assert.Equal(t, []cfg.Edge{{Type: isa.UnresolvedBranch, Block: -1}}, b[5].Edges)
	assert.True(t, b[5].Undetermined)
	assert.Equal(t, []int{2, 4}, b[5].Incoming)

	assert.Equal(t, []uint64{0x100b}, r.Unresolved)
	assert.ElementsMatch(t, []cfg.CallSite{
		{Addr: 0x1005, Target: 0x1045},
		{Addr: 0x1009, Syscall: true},
	}, r.CallSites)

	require.NoError(t, r.LiftErr)
	assert.Equal(t, []string{
		"r0 - 5 @ *",
		"if (flag:e) then 4 else 2",
		"call(0x1045)",
		"goto 6",
		"syscall",
		"nop",
		"jump(r1)",
	}, text(r.Lifted))
	checkComplete(t, r)
}

func TestLoop(t *testing.T) {
	code := toy.Assemble(
		toy.Mov(toy.R0, 3), // 0x1000
		toy.Sub(toy.R0, 1), // 0x1003
		toy.Jne(-3),        // 0x1006 -> 0x1003
		toy.Ret(),          // 0x1008
	)
	r := build(t, code, cfg.Options{})

	require.Equal(t, []uint64{0x1000, 0x1003, 0x1008}, starts(r))
	assert.Equal(t, []cfg.Edge{{Type: isa.UnconditionalBranch, Target: 0x1003, Block: 1}}, r.Blocks[0].Edges)
	assert.Equal(t, []int{0, 1}, r.Blocks[1].Incoming)
	assert.Equal(t, uint64(0x1003), r.BlockAt(0x1007).Start)
	assert.Nil(t, r.BlockAt(0x2000))

	require.NoError(t, r.LiftErr)
	assert.Equal(t, []string{
		"r0 = 3",
		"r0 = r0 - 1 @ *",
		"if (flag:ne) then 1 else 3",
		"return pop",
	}, text(r.Lifted))
	assert.Equal(t, llil.InstrIndex(1), r.Blocks[1].ILStart)
	assert.Equal(t, llil.InstrIndex(3), r.Blocks[1].ILEnd)
}

func TestDelaySlotLiftedBeforeBranch(t *testing.T) {
	code := toy.Assemble(
		toy.DelayJmp(6),    // 0x1000 -> 0x1006
		toy.Mov(toy.R1, 7), // 0x1002, delay slot
		toy.Nop(),          // 0x1005
		toy.Ret(),          // 0x1006
	)
	r := build(t, code, cfg.Options{})

	require.Equal(t, []uint64{0x1000, 0x1006}, starts(r))
	entry := r.Blocks[0]
	require.Len(t, entry.Instructions, 2)
	assert.True(t, entry.Instructions[1].DelaySlot)
	assert.Equal(t, uint64(0x1005), entry.End)
	assert.Equal(t, []cfg.Edge{{Type: isa.UnconditionalBranch, Target: 0x1006, Block: 1}}, entry.Edges)

	require.NoError(t, r.LiftErr)
	assert.Equal(t, []string{"r1 = 7", "goto 2", "return pop"}, text(r.Lifted))
}

func TestOverridesResolveIndirectJump(t *testing.T) {
	code := toy.Assemble(
		toy.JmpReg(toy.R2), // 0x1000
		toy.Nop(),          // 0x1002
		toy.Nop(),          // 0x1003
		toy.Ret(),          // 0x1004
		toy.Nop(),          // 0x1005
		toy.Ret(),          // 0x1006
	)
	r := build(t, code, cfg.Options{
		Overrides: map[uint64][]arch.Location{base: {{Addr: 0x1004}, {Addr: 0x1006}}},
	})

	require.Equal(t, []uint64{0x1000, 0x1004, 0x1006}, starts(r))
	assert.Equal(t, []cfg.Edge{
		{Type: isa.IndirectBranch, Target: 0x1004, Block: 1},
		{Type: isa.IndirectBranch, Target: 0x1006, Block: 2},
	}, r.Blocks[0].Edges)
	assert.False(t, r.Blocks[0].Undetermined)
	assert.Empty(t, r.Unresolved)

	require.NoError(t, r.LiftErr)
	assert.Equal(t, []string{"jump(r2 => 1, 2)", "return pop", "return pop"}, text(r.Lifted))
	bbs := r.Lifted.BasicBlocks()
	require.Len(t, bbs, 3)
	assert.Len(t, bbs[0].Edges, 2)
}

func TestDecodeFailureAtLeader(t *testing.T) {
	code := toy.Assemble(toy.Je(4), []byte{0xff, 0x00}, toy.Ret())
	r := build(t, code, cfg.Options{})

	require.Equal(t, []uint64{0x1000, 0x1002, 0x1004}, starts(r))
	assert.Equal(t, []uint64{0x1002}, r.DecodeFailures)
	bad := r.Blocks[1]
	assert.Empty(t, bad.Instructions)
	assert.True(t, bad.Undetermined)

	require.NoError(t, r.LiftErr)
	assert.Equal(t, []string{"if (flag:e) then 2 else 1", "undefined", "return pop"}, text(r.Lifted))
	checkComplete(t, r)
}

func TestDecodeFailureMidBlock(t *testing.T) {
	r := build(t, toy.Assemble(toy.Nop(), []byte{0xff}), cfg.Options{})

	require.Len(t, r.Blocks, 1)
	b := r.Blocks[0]
	assert.True(t, b.Undetermined)
	assert.Empty(t, b.Edges)
	assert.Equal(t, []uint64{0x1001}, r.DecodeFailures)
	assert.Equal(t, []string{"nop", "jump(0x1001)"}, text(r.Lifted))
	checkComplete(t, r)
}

func TestNotExecutable(t *testing.T) {
	mem := binaryview.FromBytes(base, toy.Ret(), binaryview.PermRead, isa.LittleEndian, 4)
	r, err := cfg.Recover(context.Background(), mem, toy.Arch{}, base, cfg.Options{})
	require.NoError(t, err)
	require.Len(t, r.Blocks, 1)
	assert.True(t, r.Blocks[0].Undetermined)
	assert.Equal(t, []uint64{base}, r.DecodeFailures)
}

func TestTruncated(t *testing.T) {
	r := build(t, toy.Assemble(toy.Nop(), toy.Nop(), toy.Nop(), toy.Ret()), cfg.Options{MaxInstructions: 2})
	assert.True(t, r.Truncated)
	require.Len(t, r.Blocks, 1)
	assert.Len(t, r.Blocks[0].Instructions, 2)
	assert.True(t, r.Blocks[0].Undetermined)
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cfg.Recover(ctx, view(toy.Ret()), toy.Arch{}, base, cfg.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachedDecoder(t *testing.T) {
	mem := view(toy.Assemble(toy.Nop(), toy.Nop(), toy.Ret()))
	dec, err := cfg.NewCachedDecoder(mem, 16)
	require.NoError(t, err)
	defer mem.Subscribe(dec.Invalidate)()

	_, err = cfg.Recover(context.Background(), mem, toy.Arch{}, base, cfg.Options{Decoder: dec})
	require.NoError(t, err)
	assert.Equal(t, 3, dec.Len())

	// Rewriting the second nop evicts only that instruction.
	mem.Write(base+1, toy.Ret())
	assert.Equal(t, 2, dec.Len())

	r, err := cfg.Recover(context.Background(), mem, toy.Arch{}, base, cfg.Options{Decoder: dec})
	require.NoError(t, err)
	assert.Equal(t, uint64(base+2), r.Blocks[0].End)

	mem.Insert(base, toy.Nop())
	assert.Equal(t, 0, dec.Len())
}
