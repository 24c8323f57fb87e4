// Package output writes liftkit analysis results to files.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"liftkit/internal/analysis"
	"liftkit/internal/cfg"
)

// FuncRecord is one line in functions.jsonl.
type FuncRecord struct {
	PC         string   `json:"pc"`
	Size       uint64   `json:"size"`
	Name       string   `json:"name"`
	Arch       string   `json:"arch"`
	Auto       bool     `json:"auto,omitempty"`
	Blocks     int      `json:"blocks"`
	Unresolved []string `json:"unresolved,omitempty"`
	LiftError  string   `json:"lift_error,omitempty"`
	StackVars  []string `json:"stack_vars,omitempty"`
}

// BlockRecord is one line in blocks.jsonl.
type BlockRecord struct {
	Func         string       `json:"func"`
	Start        string       `json:"start"`
	End          string       `json:"end"`
	Edges        []EdgeRecord `json:"edges,omitempty"`
	Undetermined bool         `json:"undetermined,omitempty"`
	Term         bool         `json:"term,omitempty"`
}

// EdgeRecord is an outgoing edge of a block.
type EdgeRecord struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromFunc string `json:"from_func"`
	FromPC   string `json:"from_pc"`
	Kind     string `json:"kind"`             // "call" or "syscall"
	Target   string `json:"target,omitempty"` // callee name
	TargetPC string `json:"target_pc,omitempty"`
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }

// Function builds the record for a committed function.
func Function(fn *analysis.Function) FuncRecord {
	rec := FuncRecord{
		PC:   hex(fn.Start()),
		Name: fn.Name(),
		Arch: fn.Arch().Name(),
		Auto: fn.Auto(),
	}
	if err := fn.LiftError(); err != nil {
		rec.LiftError = err.Error()
	}
	for _, v := range fn.StackVariables() {
		rec.StackVars = append(rec.StackVars, v.String())
	}
	res := fn.CFG()
	if res == nil {
		return rec
	}
	rec.Blocks = len(res.Blocks)
	for _, b := range res.Blocks {
		if b.End > fn.Start() && b.End-fn.Start() > rec.Size {
			rec.Size = b.End - fn.Start()
		}
	}
	for _, src := range res.Unresolved {
		rec.Unresolved = append(rec.Unresolved, hex(src))
	}
	return rec
}

// Blocks builds the block records of a committed function.
func Blocks(fn *analysis.Function) []BlockRecord {
	var out []BlockRecord
	for _, b := range fn.BasicBlocks() {
		rec := BlockRecord{
			Func:         fn.Name(),
			Start:        hex(b.Start),
			End:          hex(b.End),
			Undetermined: b.Undetermined,
			Term:         b.Term,
		}
		for _, e := range b.Edges {
			er := EdgeRecord{Type: e.Type.String()}
			if e.Type.HasTarget() {
				er.Target = hex(e.Target)
			}
			rec.Edges = append(rec.Edges, er)
		}
		out = append(out, rec)
	}
	return out
}

// CallEdges builds the call records of a committed function. name resolves
// call destinations.
func CallEdges(fn *analysis.Function, name func(addr uint64) string) []CallEdgeRecord {
	sites := append([]cfg.CallSite(nil), fn.CallSites()...)
	sort.Slice(sites, func(i, j int) bool { return sites[i].Addr < sites[j].Addr })
	var out []CallEdgeRecord
	for _, cs := range sites {
		rec := CallEdgeRecord{FromFunc: fn.Name(), FromPC: hex(cs.Addr), Kind: "call"}
		if cs.Syscall {
			rec.Kind = "syscall"
		} else {
			rec.TargetPC = hex(cs.Target)
			rec.Target = name(cs.Target)
		}
		out = append(out, rec)
	}
	return out
}

// WriteJSONL writes one JSON record per line to path.
func WriteJSONL[T any](path string, recs []T) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "output: create %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return errors.Wrapf(err, "output: encode %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "output: write %s", path)
	}
	return nil
}

// ReadJSONL reads records written by WriteJSONL.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "output: open %s", path)
	}
	defer f.Close()

	var out []T
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var r T
		if err := dec.Decode(&r); err != nil {
			return nil, errors.Wrapf(err, "output: decode %s", path)
		}
		out = append(out, r)
	}
	return out, nil
}

// WriteText writes text to dir/name, creating parent directories.
// name may contain path separators for grouping.
func WriteText(dir, name, text string) error {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "output: mkdir %s", filepath.Dir(path))
	}
	return errors.Wrapf(os.WriteFile(path, []byte(text), 0644), "output: write %s", path)
}
