package x86

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liftkit/internal/arch"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

func TestInstructionInfo64(t *testing.T) {
	a := New64()
	cases := []struct {
		name  string
		code  []byte
		len   int
		types []isa.BranchType
		tgts  []uint64
	}{
		{"push", []byte{0x55}, 1, nil, nil},
		{"je", []byte{0x74, 0x05}, 2, []isa.BranchType{isa.TrueBranch, isa.FalseBranch}, []uint64{0x1007, 0x1002}},
		{"jmp", []byte{0xEB, 0xFE}, 2, []isa.BranchType{isa.UnconditionalBranch}, []uint64{0x1000}},
		{"call", []byte{0xE8, 0x10, 0, 0, 0}, 5, []isa.BranchType{isa.CallDestination}, []uint64{0x1015}},
		{"ret", []byte{0xC3}, 1, []isa.BranchType{isa.FunctionReturn}, []uint64{0}},
		{"jmp rax", []byte{0xFF, 0xE0}, 2, []isa.BranchType{isa.UnresolvedBranch}, []uint64{0}},
		{"syscall", []byte{0x0F, 0x05}, 2, []isa.BranchType{isa.SystemCall}, []uint64{0}},
		{"hlt", []byte{0xF4}, 1, []isa.BranchType{isa.ExceptionBranch}, []uint64{0}},
		{"call rax", []byte{0xFF, 0xD0}, 2, nil, nil},
	}
	for _, c := range cases {
		info, err := a.InstructionInfo(c.code, 0x1000)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.len, info.Length, c.name)
		var types []isa.BranchType
		var tgts []uint64
		for _, b := range info.Branches {
			types = append(types, b.Type)
			tgts = append(tgts, b.Target)
		}
		assert.Equal(t, c.types, types, c.name)
		assert.Equal(t, c.tgts, tgts, c.name)
	}
}

func TestRelTargetWraps32(t *testing.T) {
	a := New32()
	info, err := a.InstructionInfo([]byte{0xE8, 0xF0, 0xFF, 0xFF, 0xFF}, 0x8)
	require.NoError(t, err)
	require.Len(t, info.Branches, 1)
	assert.Equal(t, uint64(0xFFFFFFFD), info.Branches[0].Target)
}

func TestRegisters(t *testing.T) {
	a := New64()
	eax, ok := a.RegisterByName("EAX")
	require.True(t, ok)
	info := a.RegisterInfo(eax)
	assert.Equal(t, 4, info.Size)
	assert.Equal(t, isa.ZeroExtendToFullWidth, info.Extend)
	rax, _ := a.RegisterByName("rax")
	assert.Equal(t, rax, info.FullWidth)

	ah, ok := a.RegisterByName("ah")
	require.True(t, ok)
	assert.Equal(t, 1, a.RegisterInfo(ah).Offset)

	r9d, ok := a.RegisterByName("r9d")
	require.True(t, ok)
	assert.Equal(t, "r9d", a.RegisterName(r9d))

	assert.Len(t, a.FullWidthRegisters(), 17)
	assert.Len(t, New32().FullWidthRegisters(), 9)
	assert.Equal(t, "rsp", a.RegisterName(a.StackPointer()))
	assert.Equal(t, isa.InvalidRegister, a.LinkRegister())
}

func lift(t *testing.T, a *Arch, code []byte) []string {
	t.Helper()
	il := llil.NewFunction(a, 0x1000)
	for off := 0; off < len(code); {
		n, err := a.Lift(code[off:], 0x1000+uint64(off), il)
		require.NoError(t, err)
		off += n
	}
	var out []string
	for i := 0; i < il.InstructionCount(); i++ {
		out = append(out, il.InstructionText(llil.InstrIndex(i)).String())
	}
	return out
}

func TestLift64(t *testing.T) {
	a := New64()
	cases := []struct {
		name string
		code []byte
		want []string
	}{
		{"push", []byte{0x55}, []string{"push(rbp)"}},
		{"mov rbp, rsp", []byte{0x48, 0x89, 0xE5}, []string{"rbp = rsp"}},
		{"cmp", []byte{0x83, 0xFF, 0x05}, []string{"edi - 5 @ *"}},
		{"je", []byte{0x74, 0x05}, []string{"if (flag:e) then 1 else 2", "jump(0x1007)"}},
		{"mov imm", []byte{0xB8, 0x2A, 0, 0, 0}, []string{"eax = 0x2a"}},
		{"xor", []byte{0x31, 0xC0}, []string{"eax = eax ^ eax @ *"}},
		{"ret", []byte{0xC3}, []string{"return pop"}},
		{"call", []byte{0xE8, 0, 0, 0, 0}, []string{"call(0x1005)"}},
		{"jmp rax", []byte{0xFF, 0xE0}, []string{"jump(rax)"}},
		{"syscall", []byte{0x0F, 0x05}, []string{"syscall"}},
		{"load", []byte{0x48, 0x8B, 0x47, 0x08}, []string{"rax = [rdi + 8].q"}},
		{"rip load", []byte{0x8B, 0x05, 0x10, 0, 0, 0}, []string{"eax = [0x1016].d"}},
		{"leave", []byte{0xC9}, []string{"rsp = rbp", "rbp = pop"}},
		{"pop", []byte{0x5D}, []string{"rbp = pop"}},
		{"sub rsp", []byte{0x48, 0x83, 0xEC, 0x10}, []string{"rsp = rsp - 0x10 @ *"}},
		{"movzx", []byte{0x0F, 0xB6, 0xC0}, []string{"eax = zx.d(al)"}},
		{"hlt", []byte{0xF4}, []string{"noreturn"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, lift(t, a, c.code))
		})
	}
}

func TestLift32(t *testing.T) {
	assert.Equal(t, []string{"push(ebp)", "ebp = esp"}, lift(t, New32(), []byte{0x55, 0x89, 0xE5}))
}

func TestLiftSegmentOverride(t *testing.T) {
	// mov rax, fs:[0x28]
	got := lift(t, New64(), []byte{0x64, 0x48, 0x8B, 0x04, 0x25, 0x28, 0, 0, 0})
	assert.Equal(t, []string{"unimplemented"}, got)
}

func TestText(t *testing.T) {
	a := New64()
	toks, n, err := a.InstructionText([]byte{0x55}, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "push", toks[0].Text)
	last := toks[len(toks)-1]
	assert.Equal(t, isa.RegisterToken, last.Type)
	assert.Equal(t, "rbp", last.Text)

	_, _, err = a.InstructionText(nil, 0)
	assert.Equal(t, arch.ErrDecode, err)
}

func TestPatches(t *testing.T) {
	a := New64()

	b := []byte{0x74, 0x05}
	require.NoError(t, arch.Apply(a, arch.PatchInvertBranch, b, 0, 0))
	assert.Equal(t, []byte{0x75, 0x05}, b)

	b = []byte{0x74, 0x05}
	require.NoError(t, arch.Apply(a, arch.PatchAlwaysBranch, b, 0, 0))
	assert.Equal(t, []byte{0xEB, 0x05}, b)

	b = []byte{0x74, 0x05}
	require.NoError(t, arch.Apply(a, arch.PatchNeverBranch, b, 0, 0))
	assert.Equal(t, []byte{0x90, 0x90}, b)

	b = []byte{0x0F, 0x84, 0x10, 0, 0, 0}
	require.NoError(t, arch.Apply(a, arch.PatchAlwaysBranch, b, 0, 0))
	assert.Equal(t, []byte{0x90, 0xE9, 0x10, 0, 0, 0}, b)

	b = []byte{0xE8, 0, 0, 0, 0}
	require.NoError(t, arch.Apply(a, arch.PatchSkipAndReturn, b, 0, 7))
	assert.Equal(t, []byte{0xB8, 7, 0, 0, 0}, b)

	b = []byte{0xFF, 0xD0}
	require.NoError(t, arch.Apply(a, arch.PatchSkipAndReturn, b, 0, 0))
	assert.Equal(t, []byte{0x31, 0xC0}, b)

	b = []byte{0xFF, 0xD0}
	assert.Error(t, arch.Apply(a, arch.PatchSkipAndReturn, b, 0, 7))
	assert.Equal(t, []byte{0xFF, 0xD0}, b)

	assert.False(t, arch.Available(a, arch.PatchInvertBranch, []byte{0x90}, 0, 0))
}
