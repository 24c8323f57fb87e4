package arm64

import "encoding/binary"

const (
	encNOP  = 0xD503201F
	encB    = 0x14000000
	encMOVZ = 0xD2800000 // MOVZ X0, #0
)

func rawAt(data []byte) (uint32, bool) {
	if len(data) < instrSize {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data), true
}

func put(data []byte, raw uint32) { binary.LittleEndian.PutUint32(data, raw) }

func condBranch(data []byte, addr uint64) *branchInfo {
	raw, ok := rawAt(data)
	if !ok {
		return nil
	}
	if b := decodeBranch(raw, addr); b != nil && b.kind == branchCond {
		return b
	}
	return nil
}

func isCall(data []byte) bool {
	raw, ok := rawAt(data)
	if !ok {
		return false
	}
	b := decodeBranch(raw, 0)
	return b != nil && (b.kind == branchCall || b.kind == branchIndirectCall)
}

func (Arch) IsNeverBranchPatchAvailable(data []byte, addr uint64) bool {
	return condBranch(data, addr) != nil
}

func (Arch) IsAlwaysBranchPatchAvailable(data []byte, addr uint64) bool {
	return condBranch(data, addr) != nil
}

func (Arch) IsInvertBranchPatchAvailable(data []byte, addr uint64) bool {
	return condBranch(data, addr) != nil
}

func (Arch) IsSkipAndReturnZeroPatchAvailable(data []byte, _ uint64) bool { return isCall(data) }

func (Arch) IsSkipAndReturnValuePatchAvailable(data []byte, _ uint64) bool { return isCall(data) }

func (Arch) ConvertToNop(data []byte, _ uint64) bool {
	if len(data) < instrSize {
		return false
	}
	put(data, encNOP)
	return true
}

// AlwaysBranch rewrites a conditional branch as B to the same target.
func (Arch) AlwaysBranch(data []byte, addr uint64) bool {
	b := condBranch(data, addr)
	if b == nil {
		return false
	}
	put(data, encB|uint32((int64(b.target)-int64(addr))/4)&0x03FFFFFF)
	return true
}

// InvertBranch flips the condition of B.cond, CBZ/CBNZ and TBZ/TBNZ.
func (Arch) InvertBranch(data []byte, addr uint64) bool {
	b := condBranch(data, addr)
	if b == nil {
		return false
	}
	raw, _ := rawAt(data)
	if b.zero || b.test {
		put(data, raw^(1<<24))
	} else {
		put(data, raw^1)
	}
	return true
}

// SkipAndReturnValue replaces a call with MOVZ X0, #value. Values wider
// than 16 bits cannot be encoded in one instruction.
func (Arch) SkipAndReturnValue(data []byte, _ uint64, value uint64) bool {
	if value > 0xFFFF || !isCall(data) {
		return false
	}
	put(data, encMOVZ|uint32(value)<<5)
	return true
}
