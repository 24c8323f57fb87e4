package archtest

import (
	"encoding/binary"

	"liftkit/internal/isa"
)

// Encoders for building test programs. Relative offsets count from the
// start of the instruction.

func Nop() []byte { return []byte{0x00} }
func Jmp(rel int8) []byte { return []byte{0x10, byte(rel)} }
func JmpAbs(target uint32) []byte { return append([]byte{0x11}, le32(target)...) }
func Je(rel int8) []byte { return []byte{0x12, byte(rel)} }
func Jne(rel int8) []byte { return []byte{0x13, byte(rel)} }
func Ja(rel int8) []byte { return []byte{0x14, byte(rel)} }
func Jb(rel int8) []byte { return []byte{0x15, byte(rel)} }
func Cmp(r isa.Register, imm uint8) []byte { return []byte{0x20, byte(r), imm} }
func CmpReg(a, b isa.Register) []byte { return []byte{0x21, byte(a), byte(b)} }
func Test(a, b isa.Register) []byte { return []byte{0x22, byte(a), byte(b)} }
func Mov(r isa.Register, imm uint8) []byte { return []byte{0x30, byte(r), imm} }
func MovReg(d, s isa.Register) []byte { return []byte{0x31, byte(d), byte(s)} }
func Add(r isa.Register, imm uint8) []byte { return []byte{0x32, byte(r), imm} }
func Sub(r isa.Register, imm uint8) []byte { return []byte{0x33, byte(r), imm} }
func Push(r isa.Register) []byte { return []byte{0x36, byte(r)} }
func Pop(r isa.Register) []byte { return []byte{0x37, byte(r)} }
func Call(rel int8) []byte { return []byte{0x40, byte(rel)} }
func Ret() []byte { return []byte{0x41} }
func JmpReg(r isa.Register) []byte { return []byte{0x42, byte(r)} }
func Syscall() []byte { return []byte{0x43} }
func CallReg(r isa.Register) []byte { return []byte{0x44, byte(r)} }
func DelayJmp(rel int8) []byte { return []byte{0x50, byte(rel)} }
func Ret0(v uint8) []byte { return []byte{0x3c, v} }

func Load(d, base isa.Register, disp int8) []byte {
	return []byte{0x34, byte(d), byte(base), byte(disp)}
}

func Store(base isa.Register, disp int8, s isa.Register) []byte {
	return []byte{0x35, byte(base), byte(disp), byte(s)}
}

func MovImm32(r isa.Register, imm uint32) []byte {
	return append([]byte{0x39, byte(r)}, le32(imm)...)
}

// LoadTable encodes d = [idx*4 + base].
func LoadTable(d, idx isa.Register, base uint32) []byte {
	return append([]byte{0x3b, byte(d), byte(idx)}, le32(base)...)
}

// Assemble concatenates encoded instructions.
func Assemble(insts ...[]byte) []byte {
	var out []byte
	for _, i := range insts {
		out = append(out, i...)
	}
	return out
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
