package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const (
	testBase  = 0x400000
	codeOff   = 64 + 56
	bssLength = 0x10
)

// minimalELF builds a section-less ELF64 image with one R+X PT_LOAD
// segment covering the whole file and a small bss tail.
func minimalELF(t *testing.T, machine elf.Machine, code []byte) []byte {
	t.Helper()
	total := uint64(codeOff + len(code))
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     testBase + codeOff,
		Phoff:     64,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  testBase,
		Paddr:  testBase,
		Filesz: total,
		Memsz:  total + bssLength,
		Align:  0x1000,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, prog); err != nil {
		t.Fatal(err)
	}
	buf.Write(code)
	return buf.Bytes()
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "a.out")
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMemory(t *testing.T) {
	code := []byte{0x55, 0x48, 0x89, 0xe5, 0xc3} // push rbp; mov rbp, rsp; ret
	ef, err := Open(writeTemp(t, minimalELF(t, elf.EM_X86_64, code)))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()

	name, err := ef.ArchName()
	if err != nil || name != "x86_64" {
		t.Fatalf("ArchName = %q, %v", name, err)
	}
	if ef.AddressSize() != 8 {
		t.Errorf("AddressSize = %d", ef.AddressSize())
	}

	m, err := ef.Memory()
	if err != nil {
		t.Fatal(err)
	}
	entry := uint64(testBase + codeOff)
	if m.EntryPoint() != entry {
		t.Errorf("entry = 0x%x", m.EntryPoint())
	}
	if !m.IsOffsetExecutable(entry) || m.IsOffsetWritable(entry) {
		t.Error("code should be r-x")
	}
	if got := m.Read(entry, len(code)); !bytes.Equal(got, code) {
		t.Errorf("code = % x", got)
	}
	bss := entry + uint64(len(code))
	if got := m.Read(bss, bssLength); !bytes.Equal(got, make([]byte, bssLength)) {
		t.Errorf("bss = % x", got)
	}
	if m.IsValidOffset(bss + bssLength) {
		t.Error("segment should end after bss")
	}
}

func TestUnsupportedMachine(t *testing.T) {
	ef, err := NewFile(bytes.NewReader(minimalELF(t, elf.EM_MIPS, []byte{0})))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ef.ArchName(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v", err)
	}
}

func TestOpenRejectsNonELF(t *testing.T) {
	_, err := Open(writeTemp(t, []byte("not an ELF file at all")))
	if !errors.Is(err, ErrNotELF) {
		t.Fatalf("err = %v", err)
	}
}

func TestSymbolsMissing(t *testing.T) {
	ef, err := NewFile(bytes.NewReader(minimalELF(t, elf.EM_AARCH64, []byte{0xc0, 0x03, 0x5f, 0xd6})))
	if err != nil {
		t.Fatal(err)
	}
	if syms := ef.FunctionSymbols(); len(syms) != 0 {
		t.Errorf("symbols = %v", syms)
	}
	if _, err := ef.Lookup("main"); !errors.Is(err, ErrNoSymbol) {
		t.Errorf("err = %v", err)
	}
}

func TestVAToFileOffset(t *testing.T) {
	ef, err := NewFile(bytes.NewReader(minimalELF(t, elf.EM_X86_64, []byte{0xc3})))
	if err != nil {
		t.Fatal(err)
	}
	off, err := ef.VAToFileOffset(testBase + codeOff)
	if err != nil || off != codeOff {
		t.Errorf("offset = 0x%x, %v", off, err)
	}
	if _, err := ef.VAToFileOffset(0xDEADBEEFDEADBEEF); !errors.Is(err, ErrNoSegment) {
		t.Errorf("err = %v", err)
	}
}

func FuzzELFOpen(f *testing.F) {
	f.Add([]byte("\x7fELF\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	f.Add([]byte("not an elf at all"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		ef, err := NewFile(bytes.NewReader(data))
		if err != nil {
			return
		}
		ef.ArchName()
		ef.FunctionSymbols()
		ef.VAToFileOffset(0)
		if m, err := ef.Memory(); err == nil {
			m.Read(m.EntryPoint(), 16)
		}
	})
}
