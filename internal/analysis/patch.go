package analysis

import (
	"github.com/pkg/errors"

	"liftkit/internal/arch"
	"liftkit/internal/binaryview"
)

// Write stores data at addr in the view. Cached decodes covering the range
// are dropped and overlapping functions are marked for reanalysis; call
// Update to reanalyze them.
func (a *Analysis) Write(addr uint64, data []byte) (int, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	n := a.view.Write(addr, data)
	if n == 0 && len(data) > 0 {
		return 0, errors.Errorf("analysis: write at 0x%x failed", addr)
	}
	if _, ok := a.view.(binaryview.Notifier); !ok {
		a.invalidate(binaryview.Change{Kind: binaryview.DataWritten, Addr: addr, Len: uint64(n)})
	}
	return n, nil
}

// archAt picks the architecture for the instruction at addr: that of a
// function containing it, else the default.
func (a *Analysis) archAt(addr uint64) arch.Architecture {
	if fns := a.FunctionsContaining(addr); len(fns) > 0 {
		return fns[0].arch
	}
	return a.arch
}

func (a *Analysis) instructionBytes(fa arch.Architecture, addr uint64) []byte {
	return arch.Clamp(fa, a.view.Read(addr, fa.MaxInstructionLength()))
}

// IsPatchAvailable reports whether kind can be applied at addr.
func (a *Analysis) IsPatchAvailable(kind arch.PatchKind, addr uint64, value uint64) bool {
	fa := a.archAt(addr)
	return arch.Available(fa, kind, a.instructionBytes(fa, addr), addr, value)
}

// Patch applies kind to the instruction at addr and writes the result back
// through Write. Nothing is written when the patch is unavailable.
func (a *Analysis) Patch(kind arch.PatchKind, addr uint64, value uint64) error {
	fa := a.archAt(addr)
	data := a.instructionBytes(fa, addr)
	if len(data) == 0 {
		return errors.Errorf("analysis: no bytes at 0x%x", addr)
	}
	orig := append([]byte(nil), data...)
	if err := arch.Apply(fa, kind, data, addr, value); err != nil {
		return err
	}
	n := len(data)
	for n > 0 && data[n-1] == orig[n-1] {
		n--
	}
	if n == 0 {
		return nil
	}
	w, err := a.Write(addr, data[:n])
	if err != nil {
		return err
	}
	if w != n {
		a.Write(addr, orig[:w])
		return errors.Errorf("analysis: patch at 0x%x crosses unmapped bytes", addr)
	}
	return nil
}

func (a *Analysis) ConvertToNop(addr uint64) error { return a.Patch(arch.PatchNop, addr, 0) }

func (a *Analysis) AlwaysBranch(addr uint64) error { return a.Patch(arch.PatchAlwaysBranch, addr, 0) }

func (a *Analysis) InvertBranch(addr uint64) error { return a.Patch(arch.PatchInvertBranch, addr, 0) }

func (a *Analysis) SkipAndReturnValue(addr uint64, value uint64) error {
	return a.Patch(arch.PatchSkipAndReturn, addr, value)
}
