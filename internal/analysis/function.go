package analysis

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ianlancetaylor/demangle"

	"liftkit/internal/arch"
	"liftkit/internal/binaryview"
	"liftkit/internal/cfg"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
	"liftkit/internal/valueprop"
)

// snapshot is one committed analysis of a function. It is never mutated
// after it is published.
type snapshot struct {
	cfg     *cfg.Result
	lifted  *llil.Function
	il      *llil.Function
	values  *valueprop.Result
	liftErr error
	rounds  int
}

// IndirectBranch is an asserted target of an indirect branch.
type IndirectBranch struct {
	Source arch.Location
	Dest   arch.Location
	Auto   bool
}

// Function is one function of the analysis.
type Function struct {
	owner *Analysis
	start uint64
	arch  arch.Architecture

	mu     sync.Mutex
	auto   bool
	symbol string
	typ    string
	user   map[uint64][]arch.Location
	found  map[uint64][]arch.Location // from value propagation
	dirty  bool
	gen    uint64

	snap atomic.Pointer[snapshot]
}

func newFunction(owner *Analysis, start uint64, a arch.Architecture, auto bool) *Function {
	return &Function{
		owner: owner,
		start: start,
		arch:  a,
		auto:  auto,
		user:  map[uint64][]arch.Location{},
		found: map[uint64][]arch.Location{},
		dirty: true,
	}
}

func (f *Function) Start() uint64 { return f.start }
func (f *Function) Arch() arch.Architecture { return f.arch }
func (f *Function) View() binaryview.View { return f.owner.view }

// Auto reports whether the function was discovered rather than defined by
// the user.
func (f *Function) Auto() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auto
}

// Symbol is the raw symbol name, possibly mangled. It is empty for
// unnamed functions.
func (f *Function) Symbol() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbol
}

func (f *Function) SetSymbol(name string) {
	f.mu.Lock()
	f.symbol = name
	f.mu.Unlock()
}

// Name is the display name: the demangled symbol, the raw symbol when it
// does not demangle, or sub_<addr>.
func (f *Function) Name() string {
	sym := f.Symbol()
	if sym == "" {
		return fmt.Sprintf("sub_%x", f.start)
	}
	if d, err := demangle.ToString(sym); err == nil {
		return d
	}
	return sym
}

// Type is the function's declared type as text. Parsing it is left to the
// caller.
func (f *Function) Type() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typ
}

func (f *Function) SetType(t string) {
	f.mu.Lock()
	f.typ = t
	f.mu.Unlock()
}

func (f *Function) String() string { return fmt.Sprintf("%s@%#x", f.Name(), f.start) }

func (f *Function) markDirty() {
	f.mu.Lock()
	f.dirty = true
	f.gen++
	f.mu.Unlock()
}

// codeChanged forgets the branch targets value propagation found, since
// they were read from bytes that may no longer hold, and marks the
// function for reanalysis. User targets are kept.
func (f *Function) codeChanged() {
	f.mu.Lock()
	clear(f.found)
	f.mu.Unlock()
	f.markDirty()
}

// Dirty reports whether the function needs (re)analysis.
func (f *Function) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

// SetUserIndirectBranches asserts the targets of the indirect branch at
// source. An empty list removes the assertion. User targets replace any
// that analysis found for the same branch.
func (f *Function) SetUserIndirectBranches(source uint64, targets []arch.Location) {
	f.mu.Lock()
	if len(targets) == 0 {
		delete(f.user, source)
	} else {
		f.user[source] = append([]arch.Location(nil), targets...)
	}
	f.mu.Unlock()
	f.markDirty()
}

// addFoundBranches records targets resolved by value propagation. It
// reports whether anything new was learned.
func (f *Function) addFoundBranches(found map[uint64][]arch.Location) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := false
	for src, t := range found {
		if _, ok := f.user[src]; ok {
			continue
		}
		if _, ok := f.found[src]; ok {
			continue
		}
		f.found[src] = t
		changed = true
	}
	return changed
}

// overrides merges found and user targets; user targets win.
func (f *Function) overrides() map[uint64][]arch.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64][]arch.Location, len(f.found)+len(f.user))
	for src, t := range f.found {
		out[src] = t
	}
	for src, t := range f.user {
		out[src] = t
	}
	return out
}

// IndirectBranches lists every asserted indirect branch target, ordered by
// source address.
func (f *Function) IndirectBranches() []IndirectBranch {
	f.mu.Lock()
	var out []IndirectBranch
	add := func(src uint64, ts []arch.Location, auto bool) {
		for _, t := range ts {
			if t.Arch == nil {
				t.Arch = f.arch
			}
			out = append(out, IndirectBranch{Source: arch.Location{Arch: f.arch, Addr: src}, Dest: t, Auto: auto})
		}
	}
	for src, ts := range f.user {
		add(src, ts, false)
	}
	for src, ts := range f.found {
		if _, ok := f.user[src]; !ok {
			add(src, ts, true)
		}
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source.Addr != out[j].Source.Addr {
			return out[i].Source.Addr < out[j].Source.Addr
		}
		return out[i].Dest.Addr < out[j].Dest.Addr
	})
	return out
}

// IndirectBranchesAt lists the asserted targets of the branch at addr.
func (f *Function) IndirectBranchesAt(addr uint64) []IndirectBranch {
	var out []IndirectBranch
	for _, b := range f.IndirectBranches() {
		if b.Source.Addr == addr {
			out = append(out, b)
		}
	}
	return out
}

func (f *Function) load() *snapshot { return f.snap.Load() }

// Analyzed reports whether a snapshot has been committed.
func (f *Function) Analyzed() bool { return f.load() != nil }

// CFG returns the committed native control flow graph.
func (f *Function) CFG() *cfg.Result {
	if s := f.load(); s != nil {
		return s.cfg
	}
	return nil
}

// BasicBlocks returns the committed native blocks.
func (f *Function) BasicBlocks() []*cfg.Block {
	if r := f.CFG(); r != nil {
		return r.Blocks
	}
	return nil
}

// LiftedIL returns the IL as lifted, before flag resolution.
func (f *Function) LiftedIL() *llil.Function {
	if s := f.load(); s != nil {
		return s.lifted
	}
	return nil
}

// LowLevelIL returns the flag-resolved IL. When lifting failed it is empty.
func (f *Function) LowLevelIL() *llil.Function {
	if s := f.load(); s != nil {
		return s.il
	}
	return nil
}

// LiftError is the error that left the function without usable IL.
func (f *Function) LiftError() error {
	if s := f.load(); s != nil {
		return s.liftErr
	}
	return nil
}

// Values returns the committed value propagation result.
func (f *Function) Values() *valueprop.Result {
	if s := f.load(); s != nil {
		return s.values
	}
	return nil
}

// ResolutionRounds is how many times value propagation fed resolved jump
// tables back into recovery for the committed snapshot.
func (f *Function) ResolutionRounds() int {
	if s := f.load(); s != nil {
		return s.rounds
	}
	return 0
}

func (f *Function) StackVariables() []valueprop.StackVariable {
	if v := f.Values(); v != nil {
		return v.StackVariables()
	}
	return nil
}

func (f *Function) CallSites() []cfg.CallSite {
	if r := f.CFG(); r != nil {
		return r.CallSites
	}
	return nil
}

// Contains reports whether a committed block covers addr.
func (f *Function) Contains(addr uint64) bool {
	r := f.CFG()
	return r != nil && r.BlockAt(addr) != nil
}

// Overlaps reports whether [addr, addr+n) touches the function's code. A
// function that was never analyzed overlaps nothing.
func (f *Function) Overlaps(addr, n uint64) bool {
	r := f.CFG()
	if r == nil {
		return false
	}
	for _, b := range r.Blocks {
		if b.Start < addr+n && addr < b.End {
			return true
		}
	}
	return false
}

// ilRange returns the IL instructions lifted from the native instruction
// at addr.
func (f *Function) ilRange(addr uint64) (*valueprop.Result, []llil.InstrIndex) {
	v := f.Values()
	if v == nil {
		return nil, nil
	}
	return v, v.Function().InstructionsForAddress(addr)
}

// RegisterValueAt is the fact for reg before the native instruction at
// addr executes.
func (f *Function) RegisterValueAt(addr uint64, reg isa.Register) valueprop.Value {
	v, idx := f.ilRange(addr)
	if len(idx) == 0 {
		return valueprop.Undetermined()
	}
	return v.RegisterValueAt(idx[0], reg)
}

// RegisterValueAfter is the fact for reg after the native instruction at
// addr executes.
func (f *Function) RegisterValueAfter(addr uint64, reg isa.Register) valueprop.Value {
	v, idx := f.ilRange(addr)
	if len(idx) == 0 {
		return valueprop.Undetermined()
	}
	return v.RegisterValueAfter(idx[len(idx)-1], reg)
}

// StackContentsAt is the fact for the size bytes at frame offset off before
// the instruction at addr.
func (f *Function) StackContentsAt(addr uint64, off int64, size int) valueprop.Value {
	v, idx := f.ilRange(addr)
	if len(idx) == 0 {
		return valueprop.Undetermined()
	}
	return v.StackContentsAt(idx[0], off, size)
}

// ParameterValueAt is the fact for integer argument n of the call at addr.
func (f *Function) ParameterValueAt(addr uint64, n int) valueprop.Value {
	v, idx := f.ilRange(addr)
	if len(idx) == 0 {
		return valueprop.Undetermined()
	}
	return v.ParameterValueAt(idx[len(idx)-1], n)
}
