package output_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liftkit/internal/analysis"
	toy "liftkit/internal/arch/archtest"
	"liftkit/internal/binaryview"
	"liftkit/internal/config"
	"liftkit/internal/isa"
	"liftkit/internal/output"
)

const base = 0x1000

// analyzed returns main at 0x1000 calling sub_1010, fully analyzed.
func analyzed(t *testing.T) (*analysis.Analysis, *analysis.Function) {
	t.Helper()
	buf := make([]byte, 0x20)
	copy(buf, toy.Assemble(
		toy.Mov(toy.R1, 5), // 0x1000
		toy.Call(0x0d),     // 0x1003 -> 0x1010
		toy.Syscall(),      // 0x1005
		toy.Ret(),          // 0x1006
	))
	copy(buf[0x10:], toy.Ret())
	mem := binaryview.FromBytes(base, buf, binaryview.PermRead|binaryview.PermExec, isa.LittleEndian, 4)

	cfg := config.Default().Analysis
	cfg.Workers = 1
	a, err := analysis.New(mem, toy.Arch{}, analysis.Options{
		Config: cfg,
		Logger: &log.Logger{Handler: discard.New(), Level: log.ErrorLevel},
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	fn, err := a.AddUserFunction(base, toy.Arch{})
	require.NoError(t, err)
	fn.SetSymbol("main")
	require.NoError(t, a.UpdateAndWait(context.Background()))
	return a, fn
}

func nameOf(a *analysis.Analysis) func(uint64) string {
	return func(addr uint64) string {
		if fn, ok := a.FunctionAt(addr); ok {
			return fn.Name()
		}
		return fmt.Sprintf("0x%x", addr)
	}
}

func TestFunctionRecord(t *testing.T) {
	_, fn := analyzed(t)
	rec := output.Function(fn)
	assert.Equal(t, "0x1000", rec.PC)
	assert.Equal(t, "main", rec.Name)
	assert.Equal(t, "toy", rec.Arch)
	assert.False(t, rec.Auto)
	assert.Equal(t, uint64(7), rec.Size)
	assert.Equal(t, 3, rec.Blocks)
	assert.Empty(t, rec.Unresolved)
	assert.Empty(t, rec.LiftError)
}

func TestCallEdges(t *testing.T) {
	a, fn := analyzed(t)
	got := output.CallEdges(fn, nameOf(a))
	want := []output.CallEdgeRecord{
		{FromFunc: "main", FromPC: "0x1003", Kind: "call", Target: "sub_1010", TargetPC: "0x1010"},
		{FromFunc: "main", FromPC: "0x1005", Kind: "syscall"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("call edges (-want +got):\n%s", diff)
	}
}

func TestBlocks(t *testing.T) {
	_, fn := analyzed(t)
	blocks := output.Blocks(fn)
	require.Len(t, blocks, 3)
	assert.Equal(t, "0x1000", blocks[0].Start)
	assert.Equal(t, "0x1005", blocks[0].End)
	assert.Contains(t, blocks[0].Edges, output.EdgeRecord{Type: "call", Target: "0x1010"})
	assert.True(t, blocks[2].Term)
}

func TestJSONLRoundTrip(t *testing.T) {
	a, _ := analyzed(t)
	var recs []output.FuncRecord
	for _, fn := range a.Functions() {
		recs = append(recs, output.Function(fn))
	}
	require.Len(t, recs, 2)

	path := filepath.Join(t.TempDir(), "functions.jsonl")
	require.NoError(t, output.WriteJSONL(path, recs))
	back, err := output.ReadJSONL[output.FuncRecord](path)
	require.NoError(t, err)
	if diff := cmp.Diff(recs, back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
	assert.True(t, back[1].Auto)
}

func TestWriteText(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, output.WriteText(dir, "asm/main.txt", "ret\n"))
	_, err := output.ReadJSONL[output.FuncRecord](filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)
}
