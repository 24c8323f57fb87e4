package cfg

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"liftkit/internal/arch"
	"liftkit/internal/binaryview"
)

// ErrNotExecutable is returned for addresses outside executable memory.
var ErrNotExecutable = errors.New("cfg: address not executable")

// Decoded is one decoded native instruction.
type Decoded struct {
	Arch arch.Architecture
	Addr uint64
	Data []byte // exactly Info.Length bytes
	Info arch.InstructionInfo
}

// Decoder fetches and decodes the instruction at addr.
type Decoder interface {
	Decode(a arch.Architecture, addr uint64) (*Decoded, error)
}

type viewDecoder struct {
	view binaryview.View
}

// NewDecoder decodes straight from view.
func NewDecoder(view binaryview.View) Decoder { return viewDecoder{view: view} }

func (d viewDecoder) Decode(a arch.Architecture, addr uint64) (*Decoded, error) {
	if !d.view.IsOffsetExecutable(addr) {
		return nil, errors.Wrapf(ErrNotExecutable, "0x%x", addr)
	}
	data := arch.Clamp(a, d.view.Read(addr, a.MaxInstructionLength()))
	info, err := a.InstructionInfo(data, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "0x%x", addr)
	}
	if info.Length <= 0 || info.Length > len(data) {
		return nil, errors.Wrapf(arch.ErrDecode, "0x%x: length %d", addr, info.Length)
	}
	return &Decoded{Arch: a, Addr: addr, Data: data[:info.Length], Info: info}, nil
}

type cacheKey struct {
	arch string
	addr uint64
}

// CachedDecoder memoizes decoded instructions in an LRU cache. It must be
// invalidated when the underlying bytes change.
type CachedDecoder struct {
	next  Decoder
	cache *lru.Cache
}

// NewCachedDecoder wraps a view decoder with a cache of size entries.
func NewCachedDecoder(view binaryview.View, size int) (*CachedDecoder, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "cfg: decode cache")
	}
	return &CachedDecoder{next: NewDecoder(view), cache: c}, nil
}

func (d *CachedDecoder) Decode(a arch.Architecture, addr uint64) (*Decoded, error) {
	key := cacheKey{arch: a.Name(), addr: addr}
	if v, ok := d.cache.Get(key); ok {
		return v.(*Decoded), nil
	}
	dec, err := d.next.Decode(a, addr)
	if err != nil {
		return nil, err
	}
	d.cache.Add(key, dec)
	return dec, nil
}

// Invalidate drops entries made stale by c. Writes evict instructions that
// may overlap the written range; inserts and removals shift addresses, so
// they clear the cache.
func (d *CachedDecoder) Invalidate(c binaryview.Change) {
	if c.Kind != binaryview.DataWritten {
		d.cache.Purge()
		return
	}
	for _, k := range d.cache.Keys() {
		key := k.(cacheKey)
		v, ok := d.cache.Peek(k)
		if !ok {
			continue
		}
		dec := v.(*Decoded)
		if key.addr < c.Addr+c.Len && key.addr+uint64(len(dec.Data)) > c.Addr {
			d.cache.Remove(k)
		}
	}
}

// Len reports the number of cached instructions.
func (d *CachedDecoder) Len() int { return d.cache.Len() }
