// Package cfg recovers a function's basic-block graph from native branch
// metadata and lifts it to IL.
//
// Recovery runs in four passes:
//  1. Discover instructions from a worklist seeded with the entry, recording
//     block leaders (branch targets and instructions after terminators).
//  2. Partition the decoded instructions into blocks at leaders.
//  3. Link blocks by typed edges.
//  4. Lift every block into one IL function.
package cfg

import (
	"context"
	"sort"

	"liftkit/internal/arch"
	"liftkit/internal/binaryview"
	"liftkit/internal/isa"
	"liftkit/internal/llil"
)

// DefaultMaxInstructions bounds discovery when Options.MaxInstructions is 0.
const DefaultMaxInstructions = 100_000

// Edge is an outgoing control transfer. Block is the index of the target
// block in Result.Blocks, or -1 for targets outside the function (calls,
// syscalls, unresolved branches).
type Edge struct {
	Type   isa.BranchType
	Target uint64
	Arch   arch.Architecture
	Block  int
}

// Instruction is one native instruction of a block.
type Instruction struct {
	Addr      uint64
	Length    int
	Info      arch.InstructionInfo
	DelaySlot bool // executes in the delay slot of the preceding branch
	Data      []byte
}

// Block is a native basic block.
type Block struct {
	Index        int
	Arch         arch.Architecture
	Start, End   uint64 // [Start, End)
	Instructions []Instruction
	Edges        []Edge
	Incoming     []int
	// Undetermined means the block's exits are unknown: an unresolved
	// indirect branch, a decode failure or a truncated scan.
	Undetermined bool
	// Term means the block ends the function: return or no-return.
	Term bool
	// ILStart and ILEnd delimit the block's lifted instructions.
	ILStart, ILEnd llil.InstrIndex
}

// CallSite is a call found while scanning.
type CallSite struct {
	Addr   uint64
	Target uint64
	Arch   arch.Architecture
	// Syscall marks a system call; Target is zero.
	Syscall bool
}

// Options controls recovery.
type Options struct {
	// Decoder defaults to an uncached decoder over the view.
	Decoder Decoder
	// Overrides are indirect branch targets keyed by branch address. They
	// take precedence over the architecture's own branch targets.
	Overrides map[uint64][]arch.Location
	// MaxInstructions caps discovery; 0 means DefaultMaxInstructions.
	MaxInstructions int
}

// Result is a recovered function.
type Result struct {
	Entry  uint64
	Arch   arch.Architecture
	Blocks []*Block // Blocks[0] is the entry block
	// Lifted is the finalized lifted IL. When LiftErr is set it is empty.
	Lifted         *llil.Function
	LiftErr        error
	CallSites      []CallSite
	Unresolved     []uint64 // addresses of unresolved indirect branches
	DecodeFailures []uint64
	Truncated      bool
}

// BlockAt returns the block containing addr.
func (r *Result) BlockAt(addr uint64) *Block {
	for _, b := range r.Blocks {
		for _, in := range b.Instructions {
			if addr >= in.Addr && addr < in.Addr+uint64(in.Length) {
				return b
			}
		}
	}
	return nil
}

type loc struct {
	a    arch.Architecture
	addr uint64
}

type scan struct {
	ctx       context.Context
	dec       Decoder
	opts      Options
	max       int
	insts     map[loc]*Decoded
	slotOf    map[loc]*Decoded // delay-slot instruction by branch location
	leaders   map[loc]bool
	failed    map[loc]bool
	res       *Result
	worklist  []loc
	decodeCnt int
}

// Recover builds the CFG of the function at entry.
func Recover(ctx context.Context, view binaryview.View, a arch.Architecture, entry uint64, opts Options) (*Result, error) {
	if opts.Decoder == nil {
		opts.Decoder = NewDecoder(view)
	}
	s := &scan{
		ctx:     ctx,
		dec:     opts.Decoder,
		opts:    opts,
		max:     opts.MaxInstructions,
		insts:   make(map[loc]*Decoded),
		slotOf:  make(map[loc]*Decoded),
		leaders: make(map[loc]bool),
		failed:  make(map[loc]bool),
		res:     &Result{Entry: entry, Arch: a},
	}
	if s.max <= 0 {
		s.max = DefaultMaxInstructions
	}
	start := loc{a, entry}
	s.leaders[start] = true
	s.worklist = append(s.worklist, start)

	if err := s.discover(); err != nil {
		return nil, err
	}
	s.partition(start)
	s.link()
	if err := s.lift(); err != nil {
		return nil, err
	}
	return s.res, nil
}

func (s *scan) push(l loc) {
	s.leaders[l] = true
	if _, ok := s.insts[l]; !ok && !s.failed[l] {
		s.worklist = append(s.worklist, l)
	}
}

func (s *scan) decode(l loc) *Decoded {
	if d, ok := s.insts[l]; ok {
		return d
	}
	if s.failed[l] {
		return nil
	}
	if s.decodeCnt >= s.max {
		s.res.Truncated = true
		return nil
	}
	d, err := s.dec.Decode(l.a, l.addr)
	if err != nil {
		s.failed[l] = true
		s.res.DecodeFailures = append(s.res.DecodeFailures, l.addr)
		return nil
	}
	s.decodeCnt++
	s.insts[l] = d
	return d
}

// overrides returns the asserted targets of an indirect branch at addr.
func (s *scan) overrides(a arch.Architecture, addr uint64) []loc {
	var out []loc
	for _, t := range s.opts.Overrides[addr] {
		ta := t.Arch
		if ta == nil {
			ta = a
		}
		out = append(out, loc{ta, t.Addr})
	}
	return out
}

func targetArch(b arch.Branch, a arch.Architecture) arch.Architecture {
	if b.Arch != nil {
		return b.Arch
	}
	return a
}

// endsBlock reports whether an instruction's branches terminate its block.
func endsBlock(info arch.InstructionInfo) bool { return len(info.Branches) > 0 }

// discover is pass 1: a linear sweep from every worklist entry until a
// terminator, an already decoded instruction or a decode failure.
func (s *scan) discover() error {
	for len(s.worklist) > 0 {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		l := s.worklist[len(s.worklist)-1]
		s.worklist = s.worklist[:len(s.worklist)-1]

		for {
			if _, seen := s.insts[l]; seen {
				break
			}
			d := s.decode(l)
			if d == nil {
				break
			}
			next := loc{l.a, l.addr + uint64(d.Info.Length)}
			if d.Info.BranchDelay {
				if slot := s.decode(next); slot != nil {
					s.slotOf[l] = slot
					next.addr += uint64(slot.Info.Length)
				}
			}
			if !endsBlock(d.Info) {
				l = next
				continue
			}
			s.follow(d, next)
			break
		}
	}
	return nil
}

// follow queues the successors of a block-ending instruction.
func (s *scan) follow(d *Decoded, next loc) {
	returns := false
	indirect := false
	for _, b := range d.Info.Branches {
		t := loc{targetArch(b, d.Arch), b.Target}
		switch b.Type {
		case isa.UnconditionalBranch, isa.TrueBranch, isa.FalseBranch:
			s.push(t)
		case isa.CallDestination:
			s.res.CallSites = append(s.res.CallSites, CallSite{Addr: d.Addr, Target: b.Target, Arch: b.Arch})
			returns = true
		case isa.SystemCall:
			s.res.CallSites = append(s.res.CallSites, CallSite{Addr: d.Addr, Syscall: true})
			returns = true
		case isa.IndirectBranch, isa.UnresolvedBranch:
			indirect = true
		}
	}
	if indirect {
		targets := s.overrides(d.Arch, d.Addr)
		if len(targets) == 0 {
			for _, b := range d.Info.Branches {
				if b.Type == isa.IndirectBranch {
					targets = append(targets, loc{targetArch(b, d.Arch), b.Target})
				}
			}
		}
		for _, t := range targets {
			s.push(t)
		}
	}
	if returns {
		s.push(next)
	}
}

// partition is pass 2: walk from every leader to the next leader or
// terminator.
func (s *scan) partition(entry loc) {
	leaders := make([]loc, 0, len(s.leaders))
	for l := range s.leaders {
		if l != entry {
			leaders = append(leaders, l)
		}
	}
	sort.Slice(leaders, func(i, j int) bool {
		if leaders[i].addr != leaders[j].addr {
			return leaders[i].addr < leaders[j].addr
		}
		return leaders[i].a.Name() < leaders[j].a.Name()
	})
	leaders = append([]loc{entry}, leaders...)

	for i, start := range leaders {
		b := &Block{Index: i, Arch: start.a, Start: start.addr, End: start.addr}
		l := start
		for {
			d, ok := s.insts[l]
			if !ok {
				b.Undetermined = true
				break
			}
			b.Instructions = append(b.Instructions, Instruction{Addr: d.Addr, Length: d.Info.Length, Info: d.Info, Data: d.Data})
			l.addr += uint64(d.Info.Length)
			if slot, ok := s.slotOf[loc{d.Arch, d.Addr}]; ok {
				b.Instructions = append(b.Instructions, Instruction{Addr: slot.Addr, Length: slot.Info.Length, Info: slot.Info, DelaySlot: true, Data: slot.Data})
				l.addr += uint64(slot.Info.Length)
			}
			b.End = l.addr
			if endsBlock(d.Info) || s.leaders[l] {
				break
			}
		}
		s.res.Blocks = append(s.res.Blocks, b)
	}
}

// branchOf returns the instruction whose branches end b.
func branchOf(b *Block) *Instruction {
	for i := len(b.Instructions) - 1; i >= 0; i-- {
		if !b.Instructions[i].DelaySlot {
			return &b.Instructions[i]
		}
	}
	return nil
}

// link is pass 3.
func (s *scan) link() {
	index := make(map[loc]int, len(s.res.Blocks))
	for _, b := range s.res.Blocks {
		index[loc{b.Arch, b.Start}] = b.Index
	}
	blockOf := func(a arch.Architecture, addr uint64) int {
		if i, ok := index[loc{a, addr}]; ok {
			return i
		}
		return -1
	}
	edge := func(b *Block, t isa.BranchType, target uint64, ta arch.Architecture, local bool) {
		e := Edge{Type: t, Target: target, Block: -1}
		if ta != b.Arch {
			e.Arch = ta
		}
		if local {
			e.Block = blockOf(ta, target)
		}
		b.Edges = append(b.Edges, e)
	}

	for _, b := range s.res.Blocks {
		last := branchOf(b)
		if last == nil {
			continue
		}
		if !endsBlock(last.Info) {
			if !b.Undetermined {
				edge(b, isa.UnconditionalBranch, b.End, b.Arch, true)
			}
			continue
		}
		var indirect []arch.Branch
		for _, br := range last.Info.Branches {
			ta := targetArch(br, b.Arch)
			switch br.Type {
			case isa.UnconditionalBranch, isa.TrueBranch, isa.FalseBranch:
				edge(b, br.Type, br.Target, ta, true)
			case isa.CallDestination:
				edge(b, br.Type, br.Target, ta, false)
				edge(b, isa.UnconditionalBranch, b.End, b.Arch, true)
			case isa.SystemCall:
				edge(b, br.Type, 0, b.Arch, false)
				edge(b, isa.UnconditionalBranch, b.End, b.Arch, true)
			case isa.FunctionReturn, isa.ExceptionBranch:
				b.Term = true
			case isa.IndirectBranch, isa.UnresolvedBranch:
				indirect = append(indirect, br)
			}
		}
		if len(indirect) == 0 {
			continue
		}
		if over := s.overrides(b.Arch, last.Addr); len(over) > 0 {
			for _, t := range over {
				edge(b, isa.IndirectBranch, t.addr, t.a, true)
			}
			continue
		}
		resolved := false
		for _, br := range indirect {
			if br.Type == isa.IndirectBranch {
				edge(b, isa.IndirectBranch, br.Target, targetArch(br, b.Arch), true)
				resolved = true
			}
		}
		if !resolved {
			edge(b, isa.UnresolvedBranch, 0, b.Arch, false)
			b.Undetermined = true
			s.res.Unresolved = append(s.res.Unresolved, last.Addr)
		}
	}
	for _, b := range s.res.Blocks {
		for _, e := range b.Edges {
			if e.Block >= 0 {
				t := s.res.Blocks[e.Block]
				t.Incoming = append(t.Incoming, b.Index)
			}
		}
	}
}

// lift is pass 4. Blocks are lifted in Result.Blocks order into a single
// function; every block start carries a label so native branches between
// blocks become GOTOs.
func (s *scan) lift() error {
	r := s.res
	il := llil.NewFunction(r.Arch, r.Entry)
	addrSize := r.Arch.AddressSize()
	for _, b := range r.Blocks {
		il.AddLabelForAddress(b.Start)
	}
	for i, b := range r.Blocks {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		b.ILStart = llil.InstrIndex(il.InstructionCount())
		if l := il.LabelForAddress(b.Start); !l.Resolved() {
			il.MarkLabel(l)
		}
		il.SetCurrentAddress(b.Start)
		if len(b.Instructions) == 0 {
			il.AddInstruction(il.Undefined())
			b.ILEnd = llil.InstrIndex(il.InstructionCount())
			continue
		}
		if !s.liftBlock(il, b) {
			b.ILEnd = llil.InstrIndex(il.InstructionCount())
			continue
		}
		switch {
		case b.Undetermined && !b.Term && len(b.Edges) == 0:
			// Scan stopped inside the block.
			il.AddInstruction(il.Jump(il.Const(addrSize, b.End)))
		case fallsThrough(b):
			if i+1 >= len(r.Blocks) || r.Blocks[i+1].Start != b.End || r.Blocks[i+1].Arch != b.Arch {
				arch.DirectJump(il, addrSize, b.End)
			}
		}
		b.ILEnd = llil.InstrIndex(il.InstructionCount())
	}
	if err := il.Finalize(); err != nil {
		r.LiftErr = err
	}
	r.Lifted = il
	return nil
}

// fallsThrough reports whether b continues at b.End without a branch of its
// own: a plain block split at a leader, or one ending in a call.
func fallsThrough(b *Block) bool {
	for _, e := range b.Edges {
		if e.Type == isa.UnconditionalBranch && e.Target == b.End && e.Block >= 0 {
			last := branchOf(b)
			if last == nil || !endsBlock(last.Info) {
				return true
			}
			for _, br := range last.Info.Branches {
				if br.Type == isa.CallDestination || br.Type == isa.SystemCall {
					return true
				}
			}
		}
	}
	return false
}

// liftBlock lifts b's instructions, placing a delay-slot instruction before
// its branch. It reports false when a lift failed and the block was closed
// with an undefined instruction.
func (s *scan) liftBlock(il *llil.Function, b *Block) bool {
	ins := b.Instructions
	for i := 0; i < len(ins); i++ {
		in := ins[i]
		if i+1 < len(ins) && ins[i+1].DelaySlot {
			if !liftOne(il, b.Arch, ins[i+1]) {
				return false
			}
		}
		var targets []uint64
		for _, t := range s.opts.Overrides[in.Addr] {
			targets = append(targets, t.Addr)
		}
		if len(targets) > 0 {
			il.SetIndirectBranches(targets)
		}
		ok := liftOne(il, b.Arch, in)
		il.ClearIndirectBranches()
		if !ok {
			return false
		}
		if i+1 < len(ins) && ins[i+1].DelaySlot {
			i++
		}
	}
	return true
}

func liftOne(il *llil.Function, a arch.Architecture, in Instruction) bool {
	n, err := a.Lift(in.Data, in.Addr, il)
	if err != nil || n <= 0 {
		il.SetCurrentAddress(in.Addr)
		il.AddInstruction(il.Undefined())
		return false
	}
	return true
}
