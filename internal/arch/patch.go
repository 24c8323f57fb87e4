package arch

import (
	"github.com/pkg/errors"
)

// Patcher is implemented by architectures that can rewrite instructions in
// place. Each mutation has an availability predicate; the mutation itself
// may assume the predicate held.
type Patcher interface {
	IsNeverBranchPatchAvailable(data []byte, addr uint64) bool
	IsAlwaysBranchPatchAvailable(data []byte, addr uint64) bool
	IsInvertBranchPatchAvailable(data []byte, addr uint64) bool
	IsSkipAndReturnZeroPatchAvailable(data []byte, addr uint64) bool
	IsSkipAndReturnValuePatchAvailable(data []byte, addr uint64) bool

	ConvertToNop(data []byte, addr uint64) bool
	AlwaysBranch(data []byte, addr uint64) bool
	InvertBranch(data []byte, addr uint64) bool
	SkipAndReturnValue(data []byte, addr uint64, value uint64) bool
}

// PatchKind selects one of the Patcher mutations.
type PatchKind int

const (
	PatchNop PatchKind = iota
	PatchNeverBranch
	PatchAlwaysBranch
	PatchInvertBranch
	PatchSkipAndReturn
)

func (k PatchKind) String() string {
	switch k {
	case PatchNop:
		return "nop"
	case PatchNeverBranch:
		return "never-branch"
	case PatchAlwaysBranch:
		return "always-branch"
	case PatchInvertBranch:
		return "invert-branch"
	case PatchSkipAndReturn:
		return "skip-and-return"
	}
	return "unknown"
}

// ParsePatchKind is the inverse of PatchKind.String.
func ParsePatchKind(s string) (PatchKind, error) {
	for k := PatchNop; k <= PatchSkipAndReturn; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, errors.Errorf("arch: unknown patch %q", s)
}

// Available reports whether kind can be applied to the instruction at addr.
func Available(a Architecture, kind PatchKind, data []byte, addr uint64, value uint64) bool {
	p, ok := a.(Patcher)
	if !ok {
		return false
	}
	switch kind {
	case PatchNop:
		info, err := a.InstructionInfo(data, addr)
		return err == nil && info.Length > 0
	case PatchNeverBranch:
		return p.IsNeverBranchPatchAvailable(data, addr)
	case PatchAlwaysBranch:
		return p.IsAlwaysBranchPatchAvailable(data, addr)
	case PatchInvertBranch:
		return p.IsInvertBranchPatchAvailable(data, addr)
	case PatchSkipAndReturn:
		if value == 0 && p.IsSkipAndReturnZeroPatchAvailable(data, addr) {
			return true
		}
		return p.IsSkipAndReturnValuePatchAvailable(data, addr)
	}
	return false
}

// Apply performs kind on the instruction at the start of data. The patch is
// built in a scratch copy and written back only if it succeeds, so data is
// either fully patched or untouched.
func Apply(a Architecture, kind PatchKind, data []byte, addr uint64, value uint64) error {
	if !Available(a, kind, data, addr, value) {
		return errors.Wrapf(ErrPatchUnavailable, "%s at 0x%x", kind, addr)
	}
	p := a.(Patcher)
	scratch := append([]byte(nil), data...)
	var ok bool
	switch kind {
	case PatchNop, PatchNeverBranch:
		ok = p.ConvertToNop(scratch, addr)
	case PatchAlwaysBranch:
		ok = p.AlwaysBranch(scratch, addr)
	case PatchInvertBranch:
		ok = p.InvertBranch(scratch, addr)
	case PatchSkipAndReturn:
		ok = p.SkipAndReturnValue(scratch, addr, value)
	}
	if !ok {
		return errors.Wrapf(ErrPatchFailed, "%s at 0x%x", kind, addr)
	}
	copy(data, scratch)
	return nil
}
