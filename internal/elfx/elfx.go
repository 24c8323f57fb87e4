// Package elfx loads ELF executables and shared objects into a binary view.
package elfx

import (
	"debug/elf"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"liftkit/internal/binaryview"
	"liftkit/internal/isa"
)

var (
	ErrNotELF      = errors.New("elfx: not an ELF file")
	ErrUnsupported = errors.New("elfx: unsupported machine")
	ErrNoSymbol    = errors.New("elfx: symbol not found")
	ErrNoSegment   = errors.New("elfx: no PT_LOAD segment covers address")
)

// File wraps a debug/elf.File.
type File struct {
	ELF    *elf.File
	closer io.Closer
}

// Open opens the ELF file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "elfx: open")
	}
	ef, err := NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ef.closer = f
	return ef, nil
}

// NewFile parses an ELF image from r.
func NewFile(r io.ReaderAt) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrapf(ErrNotELF, "%v", err)
	}
	return &File{ELF: ef}, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if f.closer != nil {
		if cerr := f.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ArchName is the architecture registry name for the file's machine.
func (f *File) ArchName() (string, error) {
	switch f.ELF.Machine {
	case elf.EM_AARCH64:
		return "aarch64", nil
	case elf.EM_X86_64:
		return "x86_64", nil
	case elf.EM_386:
		return "x86", nil
	}
	return "", errors.Wrapf(ErrUnsupported, "%v", f.ELF.Machine)
}

// AddressSize is 4 or 8 by ELF class.
func (f *File) AddressSize() int {
	if f.ELF.Class == elf.ELFCLASS32 {
		return 4
	}
	return 8
}

// Endianness returns the file's byte order.
func (f *File) Endianness() isa.Endianness {
	if f.ELF.Data == elf.ELFDATA2MSB {
		return isa.BigEndian
	}
	return isa.LittleEndian
}

func perm(fl elf.ProgFlag) binaryview.Perm {
	var p binaryview.Perm
	if fl&elf.PF_R != 0 {
		p |= binaryview.PermRead
	}
	if fl&elf.PF_W != 0 {
		p |= binaryview.PermWrite
	}
	if fl&elf.PF_X != 0 {
		p |= binaryview.PermExec
	}
	return p
}

// Memory maps every PT_LOAD segment into a new view. The bss tail of a
// segment (memsz beyond filesz) reads as zeros.
func (f *File) Memory() (*binaryview.Memory, error) {
	m := binaryview.NewMemory(f.Endianness(), f.AddressSize())
	for i, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		data := make([]byte, p.Memsz)
		if p.Filesz > 0 {
			n := min(p.Filesz, p.Memsz)
			if _, err := p.ReadAt(data[:n], 0); err != nil && !errors.Is(err, io.EOF) {
				return nil, errors.Wrapf(err, "elfx: read segment %d", i)
			}
		}
		m.AddSegment(&binaryview.Segment{
			Start: p.Vaddr,
			Data:  data,
			Perm:  perm(p.Flags),
			Name:  segmentName(f.ELF, p),
		})
	}
	if len(m.Segments()) == 0 {
		return nil, errors.New("elfx: no loadable segments")
	}
	m.SetEntryPoint(f.ELF.Entry)
	return m, nil
}

// segmentName names a segment after the first section it holds.
func segmentName(ef *elf.File, p *elf.Prog) string {
	for _, s := range ef.Sections {
		if s.Addr != 0 && s.Addr >= p.Vaddr && s.Addr < p.Vaddr+p.Memsz {
			return s.Name
		}
	}
	return ""
}

// Symbol is a function symbol.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// FunctionSymbols returns the defined function symbols of the static and
// dynamic symbol tables, one per address, ordered by address. Files
// without symbol tables have none.
func (f *File) FunctionSymbols() []Symbol {
	seen := map[uint64]bool{}
	var out []Symbol
	add := func(syms []elf.Symbol) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section == elf.SHN_UNDEF || s.Value == 0 || s.Name == "" {
				continue
			}
			if seen[s.Value] {
				continue
			}
			seen[s.Value] = true
			out = append(out, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
		}
	}
	if syms, err := f.ELF.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := f.ELF.DynamicSymbols(); err == nil {
		add(syms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Lookup finds a function symbol by exact name.
func (f *File) Lookup(name string) (Symbol, error) {
	for _, s := range f.FunctionSymbols() {
		if s.Name == name {
			return s, nil
		}
	}
	return Symbol{}, errors.Wrap(ErrNoSymbol, name)
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD
// segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type == elf.PT_LOAD && va >= p.Vaddr && va < p.Vaddr+p.Filesz {
			return va - p.Vaddr + p.Off, nil
		}
	}
	return 0, errors.Wrapf(ErrNoSegment, "VA 0x%x", va)
}
