package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liftkit/internal/output"
)

// rawProgram is aarch64 code loaded at 0x1000:
//
//	0x1000  bl   0x1008
//	0x1004  ret
//	0x1008  mov  x0, #0x1
//	0x100c  ret
func rawProgram(t *testing.T) string {
	t.Helper()
	words := []uint32{0x94000002, 0xD65F03C0, 0xD2800020, 0xD65F03C0}
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	path := filepath.Join(t.TempDir(), "code.bin")
	require.NoError(t, os.WriteFile(path, b, 0644))
	return path
}

func run(t *testing.T, cmd func([]string) error, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()
	require.NoError(t, cmd(args))
	return buf.String()
}

func rawArgs(path string, extra ...string) []string {
	return append([]string{"--bin", path, "--arch", "aarch64", "--base", "0x1000", "--no-color", "--log-level", "error"}, extra...)
}

func TestArchs(t *testing.T) {
	out := run(t, cmdArchs)
	for _, name := range []string{"aarch64", "x86", "x86_64"} {
		assert.Contains(t, out, name)
	}
}

func TestDisasm(t *testing.T) {
	path := rawProgram(t)
	out := run(t, cmdDisasm, rawArgs(path, "--values")...)
	assert.Contains(t, out, "sub_1000:")
	assert.Contains(t, out, "sub_1008:")
	assert.Contains(t, out, "call sub_1008")
	assert.Contains(t, out, "x0 = <const 0x1>")
}

func TestDisasmLinear(t *testing.T) {
	path := rawProgram(t)
	out := run(t, cmdDisasm, rawArgs(path, "--start", "0x1008", "--end", "0x1010")...)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "0x00001008"), lines[0])
	assert.Contains(t, lines[1], "ret")
}

func TestIL(t *testing.T) {
	path := rawProgram(t)
	out := run(t, cmdIL, rawArgs(path, "--func", "0x1008")...)
	assert.Contains(t, out, "sub_1008@0x1008:")
	assert.Contains(t, out, "@ 0x0000100c")
	assert.NotContains(t, out, "sub_1000@")
}

func TestCFGRequiresOneFunction(t *testing.T) {
	path := rawProgram(t)
	assert.Error(t, cmdCFG(rawArgs(path)))
	assert.Error(t, cmdCFG(rawArgs(path, "--func", "0x1000,0x1008")))

	out := run(t, cmdCFG, rawArgs(path, "--func", "0x1000")...)
	assert.True(t, strings.HasPrefix(out, "digraph"), out)
}

func TestGraph(t *testing.T) {
	path := rawProgram(t)
	dir := t.TempDir()
	run(t, cmdGraph, rawArgs(path, "--out", dir, "--cfg")...)

	funcs, err := output.ReadJSONL[output.FuncRecord](filepath.Join(dir, "functions.jsonl"))
	require.NoError(t, err)
	require.Len(t, funcs, 2)
	assert.Equal(t, "sub_1000", funcs[0].Name)
	assert.False(t, funcs[0].Auto)
	assert.True(t, funcs[1].Auto)

	edges, err := output.ReadJSONL[output.CallEdgeRecord](filepath.Join(dir, "call_edges.jsonl"))
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "sub_1008", edges[0].Target)

	for _, name := range []string{"blocks.jsonl", "callgraph.dot", "reachable.dot", "lattice_callgraph.dot", "lattice_cfg.dot", "cfg/1000.dot", "cfg/1008.dot"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestPatch(t *testing.T) {
	path := rawProgram(t)
	out := filepath.Join(t.TempDir(), "patched.bin")
	run(t, cmdPatch, rawArgs(path, "--at", "0x1000", "--kind", "skip-and-return", "--value", "5", "--out", out)...)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, b, 16)
	assert.Equal(t, uint32(0xD28000A0), binary.LittleEndian.Uint32(b))
	assert.Equal(t, uint32(0xD65F03C0), binary.LittleEndian.Uint32(b[4:]))

	orig, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x94000002), binary.LittleEndian.Uint32(orig))
}

func TestPatchUnavailable(t *testing.T) {
	path := rawProgram(t)
	out := filepath.Join(t.TempDir(), "patched.bin")
	err := cmdPatch(rawArgs(path, "--at", "0x1004", "--kind", "invert-branch", "--out", out))
	assert.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRawRequiresArch(t *testing.T) {
	path := rawProgram(t)
	err := cmdDisasm([]string{"--bin", path, "--no-color"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--arch is required")
}
