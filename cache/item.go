// Package cache implements the item store: a hash-indexed, per-size-class
// LRU-ordered collection of cached items backed by the slab package, plus
// the store-operation dispatcher that layers SET/ADD/REPLACE/APPEND/
// PREPEND/CAS/INCR/DECR semantics on top. It mirrors spec.md sections 3,
// 4.2-4.5 and is shaped after the embedded intrusive-list technique in
// _examples/skipor-memcached/cache/lru.go, generalized from a single list
// to one list per slab size class, and checked against the original
// plugin/slab/items.c.
package cache

import (
	"bytes"

	"github.com/gophercache/slabengine/internal/tag"
	"github.com/gophercache/slabengine/slab"
)

// state is the LINKED/SLABBED/WITH_CAS bit set from spec.md section 3.
type state uint8

const (
	stateLinked state = 1 << iota
	stateSlabbed
	stateWithCas
)

func (s state) has(bit state) bool { return s&bit != 0 }

// ItemOverhead approximates the fixed per-item bookkeeping cost (the
// analogue of C's sizeof(slab_item)) included in every item's total size
// for the purposes of class selection and byte accounting.
const ItemOverhead = 48

// CasSize is the extra bytes reserved for the CAS token when use_cas is
// enabled, per spec.md section 4.1's ntotal formula.
const CasSize = 8

// TotalSize computes T = header + nkey + nbytes (+8 if cas), the value
// passed to slabs_clsid in spec.md section 4.4.
func TotalSize(nkey, nbytes int, withCas bool) int {
	t := ItemOverhead + nkey + nbytes
	if withCas {
		t += CasSize
	}
	return t
}

// Item is the unit of cached data (spec.md section 3). Key and Value are
// slices into the item's owning slab chunk.
type Item struct {
	Key        []byte
	Value      []byte
	Flags      uint32
	Exptime    uint32
	Cas        uint64
	LastAccess uint32

	refcount  uint32
	sizeClass int
	state     state
	nTotal    int
	keyHash   uint64

	chunk slab.Chunk

	// lruPrev/lruNext are owned by lru.go; hNext is owned by hash.go.
	lruPrev, lruNext *Item
	hNext            *Item
}

// Linked reports whether the item is currently present in the hash index
// and its class LRU list.
func (it *Item) Linked() bool { return it.state.has(stateLinked) }

// Slabbed reports whether the item has been returned to its slab class
// free list.
func (it *Item) Slabbed() bool { return it.state.has(stateSlabbed) }

// WithCas reports whether this item carries a CAS token.
func (it *Item) WithCas() bool { return it.state.has(stateWithCas) }

// Refcount returns the item's current reference count.
func (it *Item) Refcount() uint32 { return it.refcount }

// SizeClass returns the slab class id owning the item's memory, or 0 if
// the item is not currently owned by any class.
func (it *Item) SizeClass() int { return it.sizeClass }

// Expired reports whether the item's absolute exptime has passed, per
// spec.md section 4.4's lazy-expiration rule. exptime == 0 never expires.
func (it *Item) Expired(now uint32) bool {
	return it.Exptime != 0 && it.Exptime <= now
}

func keysEqual(a, b []byte) bool { return bytes.Equal(a, b) }

func newSentinel() *Item { return &Item{} }

func detachLRU(it *Item) {
	if tag.Debug {
		it.lruPrev, it.lruNext = nil, nil
	}
}
