// Package analysis owns the functions of one binary view and schedules their
// recovery, lifting and value propagation on background workers.
//
// Every function publishes its results as an immutable snapshot. A run
// computes new snapshots off to the side and swaps each one in atomically,
// so readers see either the previous analysis or the new one, never a
// partial rebuild. Aborting a run leaves already committed functions in
// place and drops the rest.
package analysis

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"liftkit/internal/arch"
	"liftkit/internal/binaryview"
	"liftkit/internal/cfg"
	"liftkit/internal/config"
)

var (
	ErrClosed     = errors.New("analysis: closed")
	ErrNoFunction = errors.New("analysis: no function")
	ErrExists     = errors.New("analysis: function exists")
)

// State is the scheduler's coarse phase.
type State int32

const (
	Idle State = iota
	Disassemble
	Analyze
)

func (s State) String() string {
	switch s {
	case Disassemble:
		return "disassemble"
	case Analyze:
		return "analyze"
	}
	return "idle"
}

// Progress is a sample of the current run.
type Progress struct {
	State State
	Count int // functions committed in this run
	Total int // functions scheduled in this run
}

func (p Progress) String() string {
	if p.State == Idle {
		return "idle"
	}
	return fmt.Sprintf("%s %d/%d", p.State, p.Count, p.Total)
}

// Options configures an Analysis.
type Options struct {
	Config config.Analysis
	// Logger defaults to the apex/log package logger.
	Logger log.Interface
	// Registerer receives the scheduler metrics. A private registry is used
	// when nil.
	Registerer prometheus.Registerer
	// OnCommit runs on the worker after each function snapshot is
	// published.
	OnCommit func(*Function)
}

// Analysis is the function database and scheduler for one view.
type Analysis struct {
	view    binaryview.View
	arch    arch.Architecture
	cfg     config.Analysis
	log     log.Interface
	dec     cfg.Decoder
	cache   *cfg.CachedDecoder
	metrics *metrics
	onCommit func(*Function)
	unsub   func()

	state        atomic.Int32
	count, total atomic.Int64

	mu     sync.Mutex
	funcs  map[uint64]*Function
	events []*CompletionEvent
	cur    *run
	closed bool
}

// New creates an analysis of view. Functions without an explicit
// architecture use defaultArch.
func New(view binaryview.View, defaultArch arch.Architecture, opts Options) (*Analysis, error) {
	if defaultArch == nil {
		return nil, errors.New("analysis: nil architecture")
	}
	c := opts.Config
	if c == (config.Analysis{}) {
		c = config.Default().Analysis
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Log
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a := &Analysis{
		view:     view,
		arch:     defaultArch,
		cfg:      c,
		log:      logger,
		dec:      cfg.NewDecoder(view),
		metrics:  newMetrics(reg),
		onCommit: opts.OnCommit,
		funcs:    make(map[uint64]*Function),
	}
	if c.DecodeCacheSize > 0 {
		cache, err := cfg.NewCachedDecoder(view, c.DecodeCacheSize)
		if err != nil {
			return nil, err
		}
		a.cache, a.dec = cache, cache
	}
	if n, ok := view.(binaryview.Notifier); ok {
		a.unsub = n.Subscribe(a.invalidate)
	}
	return a, nil
}

// View returns the analyzed view.
func (a *Analysis) View() binaryview.View { return a.view }

// DefaultArch returns the architecture new functions get by default.
func (a *Analysis) DefaultArch() arch.Architecture { return a.arch }

// AddFunction creates an auto-discovered function at addr. A nil
// architecture selects the default one. Adding an existing function
// returns it.
func (a *Analysis) AddFunction(addr uint64, fa arch.Architecture) (*Function, error) {
	return a.add(addr, fa, true)
}

// AddUserFunction creates a user-defined function at addr. An existing
// auto function at addr becomes a user function.
func (a *Analysis) AddUserFunction(addr uint64, fa arch.Architecture) (*Function, error) {
	return a.add(addr, fa, false)
}

func (a *Analysis) add(addr uint64, fa arch.Architecture, auto bool) (*Function, error) {
	if fa == nil {
		fa = a.arch
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if fn, ok := a.funcs[addr]; ok {
		if !auto {
			fn.mu.Lock()
			fn.auto = false
			fn.mu.Unlock()
		}
		return fn, nil
	}
	fn := newFunction(a, addr, fa, auto)
	a.funcs[addr] = fn
	a.log.WithFields(log.Fields{"func": fmt.Sprintf("%#x", addr), "arch": fa.Name(), "auto": auto}).Debug("function added")
	return fn, nil
}

// RemoveFunction drops the function at addr. Readers holding it keep its
// last snapshot.
func (a *Analysis) RemoveFunction(addr uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.funcs[addr]; !ok {
		return errors.Wrapf(ErrNoFunction, "0x%x", addr)
	}
	delete(a.funcs, addr)
	return nil
}

// Functions returns all functions ordered by start address.
func (a *Analysis) Functions() []*Function {
	a.mu.Lock()
	out := make([]*Function, 0, len(a.funcs))
	for _, fn := range a.funcs {
		out = append(out, fn)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// FunctionAt returns the function starting at addr.
func (a *Analysis) FunctionAt(addr uint64) (*Function, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn, ok := a.funcs[addr]
	return fn, ok
}

// FunctionsContaining returns the analyzed functions with a block covering
// addr.
func (a *Analysis) FunctionsContaining(addr uint64) []*Function {
	var out []*Function
	for _, fn := range a.Functions() {
		if fn.Contains(addr) {
			out = append(out, fn)
		}
	}
	return out
}

// Progress samples the current run.
func (a *Analysis) Progress() Progress {
	return Progress{
		State: State(a.state.Load()),
		Count: int(a.count.Load()),
		Total: int(a.total.Load()),
	}
}

// invalidate reacts to a byte mutation of the view: stale decodes are
// dropped and every function whose code overlaps the change is marked for
// reanalysis. Inserts and removals shift addresses, so they dirty every
// function.
func (a *Analysis) invalidate(c binaryview.Change) {
	if a.cache != nil {
		a.cache.Invalidate(c)
	}
	for _, fn := range a.Functions() {
		if c.Kind != binaryview.DataWritten || fn.Overlaps(c.Addr, c.Len) {
			fn.codeChanged()
		}
	}
}

// Close aborts any run and releases the view subscription. Functions are
// dropped; snapshots already handed out stay readable.
func (a *Analysis) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	r := a.cur
	a.events = nil
	a.mu.Unlock()

	if r != nil {
		r.cancel()
		<-r.done
	}
	if a.unsub != nil {
		a.unsub()
	}
	if a.cache != nil {
		a.cache.Invalidate(binaryview.Change{Kind: binaryview.DataRemoved})
	}
	a.mu.Lock()
	a.funcs = map[uint64]*Function{}
	a.mu.Unlock()
	return nil
}
