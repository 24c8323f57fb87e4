package binaryview

import (
	"sort"
	"sync"

	"liftkit/internal/isa"
)

// Perm is a set of segment permissions.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Segment is a contiguous mapped range.
type Segment struct {
	Start uint64
	Data  []byte
	Perm  Perm
	Name  string

	mods []ModificationStatus // nil until the first mutation
}

func (s *Segment) end() uint64 { return s.Start + uint64(len(s.Data)) }

func (s *Segment) contains(addr uint64) bool { return addr >= s.Start && addr < s.end() }

// Memory is a View over a set of non-overlapping segments.
type Memory struct {
	mu         sync.RWMutex
	segs       []*Segment
	entry      uint64
	endian     isa.Endianness
	addrSize   int
	subs       map[int]func(Change)
	nextSubKey int
}

var _ View = (*Memory)(nil)
var _ Notifier = (*Memory)(nil)

// NewMemory returns an empty view.
func NewMemory(endian isa.Endianness, addrSize int) *Memory {
	return &Memory{endian: endian, addrSize: addrSize, subs: make(map[int]func(Change))}
}

// FromBytes maps data at base with the given permissions.
func FromBytes(base uint64, data []byte, perm Perm, endian isa.Endianness, addrSize int) *Memory {
	m := NewMemory(endian, addrSize)
	m.AddSegment(&Segment{Start: base, Data: data, Perm: perm})
	m.SetEntryPoint(base)
	return m
}

// AddSegment maps s. Segments are kept sorted; overlaps are the caller's
// responsibility.
func (m *Memory) AddSegment(s *Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segs = append(m.segs, s)
	sort.Slice(m.segs, func(i, j int) bool { return m.segs[i].Start < m.segs[j].Start })
}

// Segments returns the mapped segments in address order.
func (m *Memory) Segments() []*Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Segment(nil), m.segs...)
}

// SetEntryPoint records the program entry.
func (m *Memory) SetEntryPoint(addr uint64) {
	m.mu.Lock()
	m.entry = addr
	m.mu.Unlock()
}

func (m *Memory) find(addr uint64) *Segment {
	i := sort.Search(len(m.segs), func(i int) bool { return m.segs[i].end() > addr })
	if i < len(m.segs) && m.segs[i].contains(addr) {
		return m.segs[i]
	}
	return nil
}

func (m *Memory) Read(addr uint64, n int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []byte
	for n > 0 {
		s := m.find(addr)
		if s == nil {
			break
		}
		off := addr - s.Start
		k := len(s.Data) - int(off)
		if k > n {
			k = n
		}
		out = append(out, s.Data[off:off+uint64(k)]...)
		n -= k
		addr += uint64(k)
	}
	return out
}

func (m *Memory) Write(addr uint64, data []byte) int {
	m.mu.Lock()
	written := 0
	start := addr
	for written < len(data) {
		s := m.find(addr)
		if s == nil {
			break
		}
		off := int(addr - s.Start)
		k := copy(s.Data[off:], data[written:])
		if s.mods == nil {
			s.mods = make([]ModificationStatus, len(s.Data))
		}
		for i := off; i < off+k; i++ {
			if s.mods[i] == Original {
				s.mods[i] = Changed
			}
		}
		written += k
		addr += uint64(k)
	}
	subs := m.subscribers()
	m.mu.Unlock()
	if written > 0 {
		notify(subs, Change{Kind: DataWritten, Addr: start, Len: uint64(written)})
	}
	return written
}

// Insert grows the segment containing addr (or ending at addr) and shifts
// later segments up.
func (m *Memory) Insert(addr uint64, data []byte) int {
	m.mu.Lock()
	var s *Segment
	for _, x := range m.segs {
		if x.contains(addr) || x.end() == addr {
			s = x
			break
		}
	}
	if s == nil || len(data) == 0 {
		m.mu.Unlock()
		return 0
	}
	off := int(addr - s.Start)
	if s.mods == nil {
		s.mods = make([]ModificationStatus, len(s.Data))
	}
	s.Data = append(s.Data[:off], append(append([]byte(nil), data...), s.Data[off:]...)...)
	ins := make([]ModificationStatus, len(data))
	for i := range ins {
		ins[i] = Inserted
	}
	s.mods = append(s.mods[:off], append(ins, s.mods[off:]...)...)
	for _, x := range m.segs {
		if x.Start > s.Start {
			x.Start += uint64(len(data))
		}
	}
	subs := m.subscribers()
	m.mu.Unlock()
	notify(subs, Change{Kind: DataInserted, Addr: addr, Len: uint64(len(data))})
	return len(data)
}

// Remove deletes up to n bytes from the segment containing addr and shifts
// later segments down.
func (m *Memory) Remove(addr uint64, n uint64) int {
	m.mu.Lock()
	s := m.find(addr)
	if s == nil || n == 0 {
		m.mu.Unlock()
		return 0
	}
	off := addr - s.Start
	if off+n > uint64(len(s.Data)) {
		n = uint64(len(s.Data)) - off
	}
	s.Data = append(s.Data[:off], s.Data[off+n:]...)
	if s.mods != nil {
		s.mods = append(s.mods[:off], s.mods[off+n:]...)
	}
	for _, x := range m.segs {
		if x.Start > s.Start {
			x.Start -= n
		}
	}
	subs := m.subscribers()
	m.mu.Unlock()
	notify(subs, Change{Kind: DataRemoved, Addr: addr, Len: n})
	return int(n)
}

func (m *Memory) Modification(addr uint64) ModificationStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.find(addr)
	if s == nil || s.mods == nil {
		return Original
	}
	return s.mods[addr-s.Start]
}

func (m *Memory) perm(addr uint64, p Perm) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.find(addr)
	return s != nil && s.Perm&p != 0
}

func (m *Memory) IsValidOffset(addr uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.find(addr) != nil
}

func (m *Memory) IsOffsetReadable(addr uint64) bool   { return m.perm(addr, PermRead) }
func (m *Memory) IsOffsetWritable(addr uint64) bool   { return m.perm(addr, PermWrite) }
func (m *Memory) IsOffsetExecutable(addr uint64) bool { return m.perm(addr, PermExec) }

// NextValidOffset returns addr if mapped, else the start of the next
// segment, else End.
func (m *Memory) NextValidOffset(addr uint64) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.segs {
		if s.contains(addr) {
			return addr
		}
		if s.Start > addr {
			return s.Start
		}
	}
	return m.endLocked()
}

func (m *Memory) Start() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.segs) == 0 {
		return 0
	}
	return m.segs[0].Start
}

func (m *Memory) endLocked() uint64 {
	if len(m.segs) == 0 {
		return 0
	}
	return m.segs[len(m.segs)-1].end()
}

func (m *Memory) End() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endLocked()
}

func (m *Memory) Length() uint64 { return m.End() - m.Start() }

func (m *Memory) EntryPoint() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entry
}

func (m *Memory) Endianness() isa.Endianness { return m.endian }

func (m *Memory) AddressSize() int { return m.addrSize }

// Subscribe registers fn for mutation reports. fn runs on the mutating
// goroutine after the view's lock is released.
func (m *Memory) Subscribe(fn func(Change)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.nextSubKey
	m.nextSubKey++
	m.subs[key] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, key)
		m.mu.Unlock()
	}
}

func (m *Memory) subscribers() []func(Change) {
	out := make([]func(Change), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}
