// Package binaryview is the addressable byte space analysis reads from.
package binaryview

import (
	"encoding/binary"

	"liftkit/internal/isa"
)

// ModificationStatus tells whether a byte differs from what was loaded.
type ModificationStatus int

const (
	Original ModificationStatus = iota
	Changed
	Inserted
)

func (m ModificationStatus) String() string {
	switch m {
	case Changed:
		return "changed"
	case Inserted:
		return "inserted"
	}
	return "original"
}

// View is a byte-addressable memory oracle.
type View interface {
	// Read returns up to n bytes at addr, fewer if the range leaves mapped
	// memory.
	Read(addr uint64, n int) []byte
	Write(addr uint64, data []byte) int
	Insert(addr uint64, data []byte) int
	Remove(addr uint64, n uint64) int
	Modification(addr uint64) ModificationStatus

	IsValidOffset(addr uint64) bool
	IsOffsetReadable(addr uint64) bool
	IsOffsetWritable(addr uint64) bool
	IsOffsetExecutable(addr uint64) bool
	NextValidOffset(addr uint64) uint64

	Start() uint64
	End() uint64
	Length() uint64
	EntryPoint() uint64
	Endianness() isa.Endianness
	AddressSize() int
}

// ChangeKind classifies a mutation reported to subscribers.
type ChangeKind int

const (
	DataWritten ChangeKind = iota
	DataInserted
	DataRemoved
)

// Change describes one mutation of a view.
type Change struct {
	Kind ChangeKind
	Addr uint64
	Len  uint64
}

// Notifier is implemented by views that report mutations.
type Notifier interface {
	Subscribe(fn func(Change)) (cancel func())
}

// ReadUint reads a size-byte integer at addr in the view's byte order.
func ReadUint(v View, addr uint64, size int) (uint64, bool) {
	if size <= 0 || size > 8 {
		return 0, false
	}
	b := v.Read(addr, size)
	if len(b) != size {
		return 0, false
	}
	var buf [8]byte
	if v.Endianness() == isa.BigEndian {
		copy(buf[8-size:], b)
		return binary.BigEndian.Uint64(buf[:]), true
	}
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), true
}
