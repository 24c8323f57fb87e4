package arch_test

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liftkit/internal/arch"
	"liftkit/internal/arch/archtest"
	"liftkit/internal/isa"
)

func TestRegistry(t *testing.T) {
	r := arch.NewRegistry()
	require.NoError(t, r.Register(archtest.Arch{}))
	err := r.Register(archtest.Arch{})
	assert.True(t, errors.Is(err, arch.ErrDuplicate), "duplicate: %v", err)

	a, err := r.Lookup("toy")
	require.NoError(t, err)
	assert.Equal(t, "toy", a.Name())

	_, err = r.Lookup("pdp11")
	assert.True(t, errors.Is(err, arch.ErrUnknown))
	assert.Len(t, r.List(), 1)

	r.Close()
	assert.Error(t, r.Register(archtest.Arch{}))
	assert.Empty(t, r.List())
}

func TestCatalog(t *testing.T) {
	a := archtest.Arch{}
	sp, ok := a.RegisterByName("SP")
	require.True(t, ok)
	assert.Equal(t, archtest.SP, sp)
	assert.Equal(t, a.StackPointer(), sp)
	assert.Equal(t, 4, a.RegisterInfo(archtest.R3).Size)
	assert.Equal(t, archtest.R3, a.RegisterInfo(archtest.R3).FullWidth)
	assert.Len(t, a.FullWidthRegisters(), 8)
	assert.Equal(t, isa.ZeroFlagRole, a.FlagRole(archtest.FlagZ))
	assert.Equal(t, []isa.Flag{archtest.FlagZ}, a.FlagsRequiredForCondition(isa.CondE))
	assert.Len(t, a.FlagsWrittenByWriteType(archtest.FlagsAll), 4)
	assert.Equal(t, "*", a.FlagWriteTypeName(archtest.FlagsAll))
	assert.True(t, a.CallingConvention().IsCallerSaved(archtest.R1))
	assert.False(t, a.CallingConvention().IsCallerSaved(archtest.R5))
}

func TestInstructionInfoBranchLimit(t *testing.T) {
	var info arch.InstructionInfo
	for i := 0; i < isa.MaxInstructionBranches; i++ {
		require.NoError(t, info.AddBranch(isa.TrueBranch, uint64(i), nil))
	}
	assert.Equal(t, arch.ErrTooManyBranches, info.AddBranch(isa.FalseBranch, 9, nil))
}

func TestPatches(t *testing.T) {
	a := archtest.Arch{}
	cases := []struct {
		kind  arch.PatchKind
		in    []byte
		value uint64
		want  []byte
	}{
		{arch.PatchNop, archtest.Mov(archtest.R0, 1), 0, []byte{0, 0, 0}},
		{arch.PatchNeverBranch, archtest.Je(4), 0, []byte{0, 0}},
		{arch.PatchAlwaysBranch, archtest.Jne(4), 0, archtest.Jmp(4)},
		{arch.PatchInvertBranch, archtest.Je(4), 0, archtest.Jne(4)},
		{arch.PatchInvertBranch, archtest.Ja(4), 0, []byte{0x18, 4}},
		{arch.PatchSkipAndReturn, archtest.Call(0x10), 7, archtest.Ret0(7)},
	}
	for _, c := range cases {
		buf := append([]byte(nil), c.in...)
		require.True(t, arch.Available(a, c.kind, buf, 0, c.value), "%s available", c.kind)
		require.NoError(t, arch.Apply(a, c.kind, buf, 0, c.value), "%s", c.kind)
		assert.Equal(t, c.want, buf, "%s", c.kind)
	}
}

func TestPatchAllOrNothing(t *testing.T) {
	a := archtest.Arch{}

	buf := archtest.Mov(archtest.R0, 1)
	orig := append([]byte(nil), buf...)
	err := arch.Apply(a, arch.PatchInvertBranch, buf, 0, 0)
	assert.True(t, errors.Is(err, arch.ErrPatchUnavailable), "%v", err)
	assert.True(t, bytes.Equal(orig, buf), "bytes changed on unavailable patch")

	// Available, but the value does not fit the encoding.
	buf = archtest.Call(0x10)
	orig = append([]byte(nil), buf...)
	err = arch.Apply(a, arch.PatchSkipAndReturn, buf, 0, 0x1234)
	assert.True(t, errors.Is(err, arch.ErrPatchFailed), "%v", err)
	assert.True(t, bytes.Equal(orig, buf), "bytes changed on failed patch")
}

func TestParsePatchKind(t *testing.T) {
	for k := arch.PatchNop; k <= arch.PatchSkipAndReturn; k++ {
		got, err := arch.ParsePatchKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := arch.ParsePatchKind("explode")
	assert.Error(t, err)
}

func TestTokenizeText(t *testing.T) {
	isReg := func(s string) bool { return s == "x0" || s == "sp" }
	toks := arch.TokenizeText("ldr", "x0, [sp, #16]", 8, isReg)
	assert.Equal(t, "ldr     x0, [sp, #16]", toks.String())
	var types []isa.TokenType
	for _, tk := range toks {
		types = append(types, tk.Type)
	}
	assert.Equal(t, []isa.TokenType{
		isa.InstructionToken, isa.TextToken, isa.RegisterToken, isa.OperandSeparatorToken,
		isa.BeginMemoryOperandToken, isa.RegisterToken, isa.OperandSeparatorToken,
		isa.IntegerToken, isa.EndMemoryOperandToken,
	}, types)
	assert.Equal(t, uint64(16), toks[7].Value)
}
