package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"liftkit/internal/arch"
	"liftkit/internal/cfg"
	"liftkit/internal/llil"
	"liftkit/internal/valueprop"
)

type run struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// CompletionEvent is a one-shot callback fired when a run finishes
// without being aborted.
type CompletionEvent struct {
	a    *Analysis
	fn   func()
	once sync.Once
}

// AddCompletionEvent registers fn for the next run that completes. Aborted
// runs do not fire events; they stay registered for a later run.
func (a *Analysis) AddCompletionEvent(fn func()) *CompletionEvent {
	e := &CompletionEvent{a: a, fn: fn}
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
	return e
}

// Cancel unregisters the event. It is a no-op once the event has fired.
func (e *CompletionEvent) Cancel() {
	a := e.a
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, x := range a.events {
		if x == e {
			a.events = append(a.events[:i], a.events[i+1:]...)
			return
		}
	}
}

func (e *CompletionEvent) fire() { e.once.Do(e.fn) }

// Update starts a background run over every dirty function. It returns
// immediately; a run already in progress picks up new work itself.
func (a *Analysis) Update(ctx context.Context) error {
	_, err := a.start(ctx)
	return err
}

// UpdateAndWait runs analysis and blocks until it finishes. It returns
// context.Canceled when the run was aborted.
func (a *Analysis) UpdateAndWait(ctx context.Context) error {
	r, err := a.start(ctx)
	if err != nil {
		return err
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels the current run. Functions committed so far keep their new
// snapshots; the rest keep their previous ones.
func (a *Analysis) Abort() {
	a.mu.Lock()
	r := a.cur
	a.mu.Unlock()
	if r != nil {
		r.cancel()
	}
}

// Wait blocks until the current run, if any, has finished.
func (a *Analysis) Wait() error {
	a.mu.Lock()
	r := a.cur
	a.mu.Unlock()
	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

func (a *Analysis) start(ctx context.Context) (*run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if a.cur != nil {
		return a.cur, nil
	}
	rctx, cancel := context.WithCancel(ctx)
	r := &run{id: uuid.New(), cancel: cancel, done: make(chan struct{})}
	a.cur = r
	a.count.Store(0)
	a.total.Store(0)
	go a.loop(rctx, r)
	return r, nil
}

func (a *Analysis) loop(ctx context.Context, r *run) {
	logger := a.log.WithField("run", r.id.String())
	started := time.Now()
	for {
		r.err = a.execute(ctx, logger)
		a.mu.Lock()
		// Work queued after execute found nothing dirty belongs to this
		// run: callers of start have already attached to it.
		if r.err != nil || a.closed || !a.hasDirty() {
			break
		}
		a.mu.Unlock()
	}
	r.cancel()
	a.state.Store(int32(Idle))

	outcome := "completed"
	var events []*CompletionEvent
	switch {
	case r.err == nil:
		events, a.events = a.events, nil
	case errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded):
		outcome = "aborted"
	default:
		outcome = "failed"
	}
	a.cur = nil
	a.mu.Unlock()

	a.metrics.runs.WithLabelValues(outcome).Inc()
	logger.WithFields(log.Fields{
		"outcome":   outcome,
		"functions": a.count.Load(),
		"elapsed":   time.Since(started).Round(time.Millisecond),
	}).Info("analysis run finished")
	for _, e := range events {
		e.fire()
	}
	close(r.done)
}

// pending is a dirty function and the generation it was picked up at.
type pending struct {
	fn  *Function
	gen uint64
	res *cfg.Result
}

// hasDirty reports whether any function awaits analysis. a.mu must be
// held.
func (a *Analysis) hasDirty() bool {
	for _, fn := range a.funcs {
		if fn.Dirty() {
			return true
		}
	}
	return false
}

func (a *Analysis) dirty() []*pending {
	var out []*pending
	for _, fn := range a.Functions() {
		fn.mu.Lock()
		if fn.dirty {
			out = append(out, &pending{fn: fn, gen: fn.gen})
		}
		fn.mu.Unlock()
	}
	return out
}

// execute analyzes dirty functions in waves until none remain. Each wave
// recovers every function (Disassemble), then propagates values and
// commits (Analyze). Call targets found in one wave become the next wave.
func (a *Analysis) execute(ctx context.Context, logger log.Interface) error {
	for {
		work := a.dirty()
		if len(work) == 0 {
			return nil
		}
		a.total.Add(int64(len(work)))
		logger.WithField("functions", len(work)).Debug("analysis wave")

		a.state.Store(int32(Disassemble))
		if err := a.parallel(ctx, work, func(ctx context.Context, p *pending) error {
			res, err := a.recoverCFG(ctx, p.fn)
			p.res = res
			return err
		}); err != nil {
			return err
		}
		if a.cfg.AutoDiscovery {
			a.discover(work)
		}

		a.state.Store(int32(Analyze))
		if err := a.parallel(ctx, work, func(ctx context.Context, p *pending) error {
			return a.analyze(ctx, p, logger)
		}); err != nil {
			return err
		}
	}
}

func (a *Analysis) parallel(ctx context.Context, work []*pending, fn func(context.Context, *pending) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for _, p := range work {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, p)
		})
	}
	return g.Wait()
}

func (a *Analysis) recoverCFG(ctx context.Context, fn *Function) (*cfg.Result, error) {
	return cfg.Recover(ctx, a.view, fn.arch, fn.start, cfg.Options{
		Decoder:         a.dec,
		Overrides:       fn.overrides(),
		MaxInstructions: a.cfg.MaxInstructions,
	})
}

// discover turns call destinations into auto functions.
func (a *Analysis) discover(work []*pending) {
	for _, p := range work {
		for _, cs := range p.res.CallSites {
			if cs.Syscall || !a.view.IsOffsetExecutable(cs.Target) {
				continue
			}
			if _, ok := a.FunctionAt(cs.Target); ok {
				continue
			}
			ta := cs.Arch
			if ta == nil {
				ta = p.fn.arch
			}
			if _, err := a.AddFunction(cs.Target, ta); err != nil {
				return
			}
		}
	}
}

// analyze lifts, resolves flags and propagates values for one recovered
// function, feeding resolved jump tables back into recovery until nothing
// new is learned or the round limit is reached. The result is committed
// only if the run is still live.
func (a *Analysis) analyze(ctx context.Context, p *pending, logger log.Interface) error {
	fn := p.fn
	flog := logger.WithFields(log.Fields{"func": fmt.Sprintf("%#x", fn.start), "arch": fn.arch.Name()})
	s := &snapshot{cfg: p.res}
	for {
		s.lifted, s.il, s.values, s.liftErr = nil, nil, nil, nil
		if err := a.propagate(ctx, s); err != nil {
			return err
		}
		if s.values == nil || s.rounds >= a.cfg.MaxResolutionRounds {
			break
		}
		found := resolved(s)
		if len(found) == 0 || !fn.addFoundBranches(found) {
			break
		}
		a.metrics.resolved.Add(float64(len(found)))
		flog.WithField("branches", len(found)).Debug("jump tables resolved")
		res, err := a.recoverCFG(ctx, fn)
		if err != nil {
			return err
		}
		s.cfg = res
		s.rounds++
	}
	if s.liftErr != nil {
		flog.WithError(s.liftErr).Warn("lifting failed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.commit(p, s)
	return nil
}

func (a *Analysis) propagate(ctx context.Context, s *snapshot) error {
	s.lifted = s.cfg.Lifted
	if s.cfg.LiftErr != nil {
		s.il, s.liftErr = s.lifted, s.cfg.LiftErr
		return nil
	}
	il, err := llil.ResolveFlags(s.lifted)
	if err != nil {
		s.il, s.liftErr = llil.NewFunction(s.cfg.Arch, s.cfg.Entry), err
		return nil
	}
	s.il = il
	vals, err := valueprop.Propagate(ctx, il, s.cfg.Arch, valueprop.Options{
		MaxIterations:   a.cfg.MaxIterations,
		MaxTableEntries: a.cfg.MaxTableEntries,
		Memory:          a.view,
	})
	if err != nil {
		return err
	}
	s.values = vals
	return nil
}

// resolved returns the targets value propagation found for branches the
// recovery left unresolved.
func resolved(s *snapshot) map[uint64][]arch.Location {
	branches := s.values.ResolvedBranches()
	out := map[uint64][]arch.Location{}
	for _, src := range s.cfg.Unresolved {
		targets := branches[src]
		if len(targets) == 0 {
			continue
		}
		locs := make([]arch.Location, len(targets))
		for i, t := range targets {
			locs[i] = arch.Location{Addr: t}
		}
		out[src] = locs
	}
	return out
}

func (a *Analysis) commit(p *pending, s *snapshot) {
	fn := p.fn
	a.mu.Lock()
	if a.closed || a.funcs[fn.start] != fn {
		a.mu.Unlock()
		return
	}
	fn.snap.Store(s)
	fn.mu.Lock()
	if fn.gen == p.gen {
		fn.dirty = false
	}
	fn.mu.Unlock()
	a.mu.Unlock()

	a.count.Add(1)
	a.metrics.functions.Inc()
	a.metrics.unresolved.Add(float64(len(s.cfg.Unresolved)))
	if s.values != nil {
		a.metrics.iterations.Observe(float64(s.values.Iterations()))
	}
	if a.onCommit != nil {
		a.onCommit(fn)
	}
}
