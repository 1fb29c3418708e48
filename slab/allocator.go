// Package slab implements a size-class-segregated chunk allocator: a fixed
// memory budget is carved into pages, each page sliced into fixed-size
// chunks belonging to one size class, and chunks are recycled through a
// per-class free list. It is the memory-management core described in
// spec.md section 4.1, shaped after the Arena/slabClass/slab design in
// _examples/other_examples/f1f387eb_njnuwjq-go-slab__slab.go.go and
// checked against the class-selection and carve-on-demand behavior of
// plugin/slab/slab_engine.c in original_source.
package slab

import (
	"fmt"

	"github.com/facebookgo/stackerr"
)

const (
	// DefaultPageSize is the size of one contiguous slab page (spec.md
	// section 3: "a slab class owns... a growable list of slabs
	// (contiguous pages, default 1 MiB)").
	DefaultPageSize = 1024 * 1024

	// DefaultChunkSize is the smallest class chunk size (spec.md section
	// 6, config key chunk_size).
	DefaultChunkSize = 48

	// DefaultFactor is the geometric growth ratio between consecutive
	// classes (spec.md section 6, config key factor).
	DefaultFactor = 1.25

	// MinChunkSize is the floor below which a requested chunk_size is
	// raised (spec.md section 4.1: "Class 1 has size max(chunk_size, 48
	// bytes)").
	MinChunkSize = 48

	// MaxClasses bounds the number of size classes (LARGEST_ID in the
	// original C source).
	MaxClasses = 255

	roundTo = 8
)

// Chunk is a fixed-size byte buffer owned by exactly one size class at a
// time. Its length is always the owning class's chunk size; callers must
// not grow or reslice it.
type Chunk []byte

// class owns one free list and the pages it carved memory out of.
type class struct {
	id        int
	chunkSize int
	freeList  []Chunk
	pages     int

	// stats
	chunksTotal int64
	chunksUsed  int64
	requested   int64
}

// Allocator partitions a fixed memory budget into size classes and serves
// fixed-size chunk allocations out of per-class free lists, carving new
// pages from the budget on demand. It has no internal locking: callers
// hold the engine's cache lock for the duration of any call, per spec.md
// section 5.
type Allocator struct {
	pageSize  int
	factor    float64
	chunkSize int
	maxBytes  int64

	usedBytes int64
	classes   []*class
}

// Options configures a new Allocator. Zero Factor, ChunkSize and PageSize
// fall back to the spec.md section 6 defaults; MaxBytes has no default and
// must be positive.
type Options struct {
	MaxBytes    int64
	Factor      float64
	ChunkSize   int
	PageSize    int
	Preallocate bool
}

// New builds an Allocator and precomputes its size classes.
func New(opts Options) (*Allocator, error) {
	if opts.Factor <= 1.0 {
		opts.Factor = DefaultFactor
	}
	if opts.ChunkSize < MinChunkSize {
		opts.ChunkSize = MinChunkSize
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxBytes <= 0 {
		return nil, stackerr.Newf("slab: maxbytes must be positive, got %d", opts.MaxBytes)
	}

	a := &Allocator{
		pageSize:  opts.PageSize,
		factor:    opts.Factor,
		chunkSize: opts.ChunkSize,
	}
	a.maxBytes = opts.MaxBytes
	a.buildClasses()

	if opts.Preallocate {
		if err := a.preallocate(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func roundUp(n int) int {
	if n%roundTo == 0 {
		return n
	}
	return n + (roundTo - n%roundTo)
}

// buildClasses enumerates classes of geometrically increasing chunk size
// until the chunk size would reach the page size, per spec.md section
// 4.1: "each subsequent class is the previous class's size multiplied by
// factor... rounded up to 8; classes are enumerated until the chunk size
// reaches the per-slab page size."
func (a *Allocator) buildClasses() {
	size := roundUp(a.chunkSize)
	for id := 1; id <= MaxClasses && size <= a.pageSize; id++ {
		a.classes = append(a.classes, &class{id: id, chunkSize: size})
		next := roundUp(int(float64(size) * a.factor))
		if next <= size {
			next = size + roundTo
		}
		size = next
	}
}

// Clsid returns the lowest-numbered class whose chunk size is >= n, or 0
// if n exceeds the largest class (spec.md section 4.1).
func (a *Allocator) Clsid(n int) int {
	for _, c := range a.classes {
		if c.chunkSize >= n {
			return c.id
		}
	}
	return 0
}

// ChunkSize returns the chunk size of the given class id, or 0 if id is
// out of range.
func (a *Allocator) ChunkSize(id int) int {
	if c := a.classByID(id); c != nil {
		return c.chunkSize
	}
	return 0
}

func (a *Allocator) classByID(id int) *class {
	if id < 1 || id > len(a.classes) {
		return nil
	}
	return a.classes[id-1]
}

// Alloc returns a chunk belonging to class id, carving a new page out of
// the budget if the class's free list is empty and the budget allows it.
// The second return value is false on out-of-budget, matching spec.md's
// "No partial successes" failure contract.
func (a *Allocator) Alloc(id int) (Chunk, bool) {
	c := a.classByID(id)
	if c == nil {
		return nil, false
	}
	c.requested++

	if n := len(c.freeList); n > 0 {
		chunk := c.freeList[n-1]
		c.freeList = c.freeList[:n-1]
		c.chunksUsed++
		return chunk, true
	}

	if a.usedBytes+int64(a.pageSize) > a.maxBytes {
		return nil, false
	}

	a.carvePage(c)
	n := len(c.freeList)
	if n == 0 {
		// Page smaller than one chunk: impossible given buildClasses,
		// but guard against misconfiguration defensively.
		return nil, false
	}
	chunk := c.freeList[n-1]
	c.freeList = c.freeList[:n-1]
	c.chunksUsed++
	return chunk, true
}

func (a *Allocator) carvePage(c *class) {
	page := make([]byte, a.pageSize)
	a.usedBytes += int64(a.pageSize)
	c.pages++
	perPage := a.pageSize / c.chunkSize
	c.chunksTotal += int64(perPage)
	for i := 0; i < perPage; i++ {
		start := i * c.chunkSize
		c.freeList = append(c.freeList, Chunk(page[start:start+c.chunkSize]))
	}
}

// Free returns chunk to class id's free list. It does not shrink the
// budget: slab memory, once carved, is never returned to the OS (spec.md
// section 4.1 describes no reclamation path, matching memcached's
// original "slabs are never freed" design).
func (a *Allocator) Free(id int, chunk Chunk) {
	c := a.classByID(id)
	if c == nil {
		panic(fmt.Sprintf("slab: free to unknown class %d", id))
	}
	c.freeList = append(c.freeList, chunk)
	c.chunksUsed--
}

// preallocate reserves the entire maxbytes budget upfront by carving one
// page per class repeatedly until the budget is exhausted, honoring the
// `preallocate` config option from spec.md section 6.
func (a *Allocator) preallocate() error {
	if len(a.classes) == 0 {
		return stackerr.New("slab: no size classes configured")
	}
	for a.usedBytes+int64(a.pageSize) <= a.maxBytes {
		for _, c := range a.classes {
			if a.usedBytes+int64(a.pageSize) > a.maxBytes {
				break
			}
			a.carvePage(c)
		}
	}
	return nil
}

// MaxBytes returns the configured memory budget.
func (a *Allocator) MaxBytes() int64 { return a.maxBytes }

// UsedBytes returns how much of the budget has been carved into pages so
// far (not how much is currently allocated to live chunks).
func (a *Allocator) UsedBytes() int64 { return a.usedBytes }

// ClassStats is a per-class snapshot used by the "slabs" stats key
// (spec.md section 6).
type ClassStats struct {
	ID          int
	ChunkSize   int
	Pages       int
	ChunksTotal int64
	ChunksUsed  int64
	ChunksFree  int64
	Requested   int64
}

// Stats returns a snapshot for every configured size class.
func (a *Allocator) Stats() []ClassStats {
	out := make([]ClassStats, 0, len(a.classes))
	for _, c := range a.classes {
		out = append(out, ClassStats{
			ID:          c.id,
			ChunkSize:   c.chunkSize,
			Pages:       c.pages,
			ChunksTotal: c.chunksTotal,
			ChunksUsed:  c.chunksUsed,
			ChunksFree:  int64(len(c.freeList)),
			Requested:   c.requested,
		})
	}
	return out
}
