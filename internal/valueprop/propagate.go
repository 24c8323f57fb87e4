package valueprop

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"liftkit/internal/arch"
	"liftkit/internal/binaryview"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

// ErrNotFinalized is returned for IL that has not been finalized.
var ErrNotFinalized = errors.New("valueprop: function not finalized")

const (
	DefaultMaxIterations   = 64
	DefaultMaxTableEntries = 256
)

// Options controls propagation.
type Options struct {
	// MaxIterations is how often a block may be revisited before its
	// incoming facts are widened. The whole pass stops after
	// MaxIterations × blocks visits.
	MaxIterations int
	// MaxTableEntries bounds ranges enumerated into lookup tables and
	// branch targets.
	MaxTableEntries int
	// Memory supplies read-only bytes for constant loads. Optional.
	Memory binaryview.View
	// CallingConvention defaults to the architecture's.
	CallingConvention *arch.CallingConvention
}

// Result holds the facts computed for one function.
type Result struct {
	m          *machine
	before     []*state
	iterations int
	branches   map[uint64][]uint64
	vars       []StackVariable

	// Converged is false when the iteration budget ran out; facts in blocks
	// that had not settled are Undetermined.
	Converged bool
}

// Propagate runs forward value propagation over fn to a fixed point. The
// context is checked before every block visit; on cancellation the partial
// result is discarded and ctx.Err() returned.
func Propagate(ctx context.Context, fn *llil.Function, a arch.Architecture, opts Options) (*Result, error) {
	if !fn.Finalized() {
		return nil, ErrNotFinalized
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxTableEntries <= 0 {
		opts.MaxTableEntries = DefaultMaxTableEntries
	}
	cc := opts.CallingConvention
	if cc == nil {
		cc = a.CallingConvention()
	}
	m := &machine{
		arch:     a,
		fn:       fn,
		cc:       cc,
		mem:      opts.Memory,
		sp:       a.StackPointer(),
		addrSize: a.AddressSize(),
		tableMax: opts.MaxTableEntries,
	}
	r := &Result{m: m, before: make([]*state, fn.InstructionCount()), branches: map[uint64][]uint64{}, Converged: true}

	blocks := fn.BasicBlocks()
	if len(blocks) == 0 {
		return r, nil
	}
	in := make([]*state, len(blocks))
	entry := newState()
	m.write(entry, m.sp, StackOffset(0))
	in[0] = entry

	pending := make([]bool, len(blocks))
	pending[0] = true
	visits := make([]int, len(blocks))
	budget := opts.MaxIterations * len(blocks)

	for {
		b := nextPending(pending)
		if b < 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.iterations >= budget {
			r.Converged = false
			break
		}
		pending[b] = false
		visits[b]++
		r.iterations++

		for _, succ := range m.flow(blocks[b], in[b]) {
			t := succ.block
			if in[t] == nil {
				in[t] = succ.st
				pending[t] = true
				continue
			}
			next := join(in[t], succ.st)
			if visits[t] >= opts.MaxIterations {
				next = widen(in[t], next)
			}
			if !next.equal(in[t]) {
				in[t] = next
				pending[t] = true
			}
		}
	}

	if !r.Converged {
		for _, b := range unsettled(blocks, pending) {
			in[b] = topState()
		}
	}
	m.collect, m.vars = true, map[int64]int{}
	for bi, b := range blocks {
		st := in[bi]
		if st == nil {
			st = topState()
		}
		st = st.clone()
		for i := b.Start; i < b.End; i++ {
			r.before[i] = st.clone()
			r.noteBranch(st, i)
			m.step(st, i)
		}
	}
	r.vars = stackVariables(m.vars)
	m.collect = false
	return r, nil
}

func nextPending(pending []bool) int {
	for i, p := range pending {
		if p {
			return i
		}
	}
	return -1
}

// unsettled returns the pending blocks and everything reachable from them.
func unsettled(blocks []*llil.BasicBlock, pending []bool) []int {
	seen := make([]bool, len(blocks))
	var stack, out []int
	for i, p := range pending {
		if p {
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
		for _, e := range blocks[b].Edges {
			stack = append(stack, e.Target)
		}
	}
	return out
}

type successor struct {
	block int
	st    *state
}

// flow runs block b from state in and returns the state along each
// feasible outgoing edge.
func (m *machine) flow(b *llil.BasicBlock, in *state) []successor {
	st := in.clone()
	for i := b.Start; i < b.End; i++ {
		m.step(st, i)
	}
	last := m.fn.Instruction(b.End - 1)
	var out []successor
	for _, e := range b.Edges {
		s := st
		if last.Op == llil.OpIf && (e.Type == isa.TrueBranch || e.Type == isa.FalseBranch) {
			var ok bool
			if s, ok = m.refine(st, last.Src(), e.Type == isa.TrueBranch); !ok {
				continue
			}
		}
		out = append(out, successor{block: e.Target, st: s})
	}
	return out
}

// noteBranch records the targets of an unresolved jump at instruction i.
func (r *Result) noteBranch(s *state, i llil.InstrIndex) {
	x := r.m.fn.Instruction(i)
	if x.Op != llil.OpJump {
		return
	}
	v := r.m.eval(s.clone(), x.Src())
	vals, ok := v.Values(r.m.tableMax)
	if !ok {
		return
	}
	seen := map[uint64]bool{}
	var targets []uint64
	for _, t := range vals {
		a := mask(uint64(t), r.m.addrSize)
		if !seen[a] {
			seen[a] = true
			targets = append(targets, a)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	r.branches[x.Address] = targets
}

// Iterations reports how many block visits the fixed point took.
func (r *Result) Iterations() int { return r.iterations }

// Function returns the IL the facts refer to.
func (r *Result) Function() *llil.Function { return r.m.fn }

// ResolvedBranches maps the native address of each indirect jump whose
// destination was narrowed to a finite set onto that set.
func (r *Result) ResolvedBranches() map[uint64][]uint64 {
	out := make(map[uint64][]uint64, len(r.branches))
	for k, v := range r.branches {
		out[k] = append([]uint64(nil), v...)
	}
	return out
}

func (r *Result) at(i llil.InstrIndex) *state {
	if int(i) < 0 || int(i) >= len(r.before) || r.before[i] == nil {
		return nil
	}
	return r.before[i]
}

func (r *Result) after(i llil.InstrIndex) *state {
	s := r.at(i)
	if s == nil {
		return nil
	}
	s = s.clone()
	r.m.step(s, i)
	return s
}

// RegisterValueAt is the fact for reg before instruction i.
func (r *Result) RegisterValueAt(i llil.InstrIndex, reg isa.Register) Value {
	if s := r.at(i); s != nil {
		return r.m.read(s, reg)
	}
	return Undetermined()
}

// RegisterValueAfter is the fact for reg after instruction i executes.
func (r *Result) RegisterValueAfter(i llil.InstrIndex, reg isa.Register) Value {
	if s := r.after(i); s != nil {
		return r.m.read(s, reg)
	}
	return Undetermined()
}

// StackContentsAt is the fact for the size bytes at frame offset off
// before instruction i. Offsets are relative to the stack pointer at entry.
func (r *Result) StackContentsAt(i llil.InstrIndex, off int64, size int) Value {
	return stackContents(r.at(i), off, size)
}

// StackContentsAfter is StackContentsAt after instruction i executes.
func (r *Result) StackContentsAfter(i llil.InstrIndex, off int64, size int) Value {
	return stackContents(r.after(i), off, size)
}

func stackContents(s *state, off int64, size int) Value {
	if s == nil {
		return Undetermined()
	}
	if sl, ok := s.stack[off]; ok && sl.size == size {
		return sl.v
	}
	for o, sl := range s.stack {
		if !sl.v.IsConstant() || off < o || off+int64(size) > o+int64(sl.size) {
			continue
		}
		return Constant(norm(uint64(sl.v.Offset)>>(8*uint(off-o)), size))
	}
	return Undetermined()
}

// ParameterValueAt is the fact for integer argument n at a call at
// instruction i under the calling convention. Arguments past the register
// set are read from the stack above the stack pointer.
func (r *Result) ParameterValueAt(i llil.InstrIndex, n int) Value {
	cc := r.m.cc
	if cc == nil || n < 0 {
		return Undetermined()
	}
	if n < len(cc.IntegerArgs) {
		return r.RegisterValueAt(i, cc.IntegerArgs[n])
	}
	sp := r.RegisterValueAt(i, r.m.sp)
	if sp.Kind != StackFrameOffset {
		return Undetermined()
	}
	k := int64(n - len(cc.IntegerArgs))
	if cc.StackReservedForArgs {
		k += int64(len(cc.IntegerArgs))
	}
	size := r.m.addrSize
	return r.StackContentsAt(i, sp.Offset+k*int64(size), size)
}

// Format renders v with the architecture's register names.
func (r *Result) Format(v Value) string { return v.Format(r.m.arch.RegisterName) }

// StackVariable is an automatically discovered stack slot.
type StackVariable struct {
	Offset int64
	Size   int
	Name   string
	Auto   bool
}

func (v StackVariable) String() string {
	return fmt.Sprintf("%s @ %s (%d bytes)", v.Name, hex(v.Offset), v.Size)
}

// StackVariables lists the stack slots the function reads or writes,
// ordered by frame offset.
func (r *Result) StackVariables() []StackVariable {
	return append([]StackVariable(nil), r.vars...)
}

func stackVariables(seen map[int64]int) []StackVariable {
	out := make([]StackVariable, 0, len(seen))
	for off, size := range seen {
		name := fmt.Sprintf("arg_%x", off)
		if off < 0 {
			name = fmt.Sprintf("var_%x", -off)
		}
		out = append(out, StackVariable{Offset: off, Size: size, Name: name, Auto: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
