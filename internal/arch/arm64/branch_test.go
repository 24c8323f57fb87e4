package arm64

import "testing"

func TestDecodeBranch_RET(t *testing.T) {
	b := decodeBranch(0xD65F03C0, 0x1000)
	if b == nil || b.kind != branchRet {
		t.Fatalf("got %+v, want RET", b)
	}
	if b.reg != 30 {
		t.Errorf("reg = %d, want 30", b.reg)
	}
}

func TestDecodeBranch_B_Negative(t *testing.T) {
	// B #-0x10 at PC=0x1000 → target=0xFF0
	raw := uint32(0x14000000 | (0x03FFFFFF - 3))
	b := decodeBranch(raw, 0x1000)
	if b == nil || b.kind != branchDirect {
		t.Fatalf("got %+v, want B", b)
	}
	if b.target != 0x0FF0 {
		t.Errorf("target = 0x%x, want 0xFF0", b.target)
	}
}

func TestDecodeBranch_Bcond(t *testing.T) {
	// B.EQ #0x20 at PC=0x2000
	b := decodeBranch(0x54000000|(8<<5), 0x2000)
	if b == nil || b.kind != branchCond {
		t.Fatalf("got %+v, want B.cond", b)
	}
	if b.target != 0x2020 || b.cond != 0 {
		t.Errorf("target = 0x%x cond = %d", b.target, b.cond)
	}
	// B.AL is unconditional.
	if b := decodeBranch(0x54000000|(8<<5)|14, 0x2000); b == nil || b.kind != branchDirect {
		t.Errorf("B.AL = %+v, want direct", b)
	}
}

func TestDecodeBranch_CBNZ(t *testing.T) {
	// CBNZ W3, #0x40 at PC=0x3000
	b := decodeBranch(0x35000000|(0x10<<5)|3, 0x3000)
	if b == nil || !b.zero || !b.nz || b.is64 || b.reg != 3 {
		t.Fatalf("got %+v, want CBNZ W3", b)
	}
	if b.target != 0x3040 {
		t.Errorf("target = 0x%x, want 0x3040", b.target)
	}
}

func TestDecodeBranch_TBZ(t *testing.T) {
	// TBZ X1, #33, #0x10 at PC=0x4000
	raw := uint32(1<<31 | 0x36000000 | 1<<19 | 4<<5 | 1)
	b := decodeBranch(raw, 0x4000)
	if b == nil || !b.test || b.nz {
		t.Fatalf("got %+v, want TBZ", b)
	}
	if b.bit != 33 || b.reg != 1 || b.target != 0x4010 {
		t.Errorf("bit = %d reg = %d target = 0x%x", b.bit, b.reg, b.target)
	}
}

func TestDecodeBranch_NotBranch(t *testing.T) {
	for _, raw := range []uint32{0xD503201F, 0xD28000A0, 0xF9400420} {
		if b := decodeBranch(raw, 0); b != nil {
			t.Errorf("0x%08x decoded as branch %+v", raw, b)
		}
	}
}
