package engine

import (
	"sync"

	"github.com/facebookgo/stackerr"

	"github.com/gophercache/slabengine/cache"
	"github.com/gophercache/slabengine/clock"
	"github.com/gophercache/slabengine/log"
	"github.com/gophercache/slabengine/slab"
)

// Engine is the facade described in spec.md section 5: Initialize/Destroy/
// Allocate/Remove/Release/Get/Store/Arithmetic/Flush/GetStats/ResetStats/
// UnknownCommand. Every operation that touches the cache acquires the
// single coarse cache lock for its full critical section; Destroy and
// UnknownCommand touch no cache state and take no lock. The stats lock described in the same section lives
// inside cache.Stats and is only ever taken from within a cache-lock
// critical section, never the reverse.
type Engine struct {
	mu    sync.Mutex
	store *cache.Store
	clock clock.Clock
	log   log.Logger
	cfg   Config
}

// New builds an Engine from an already-parsed Config. Most callers should
// use Initialize, which also handles the "key=value;key=value" string.
func New(cfg Config, clk clock.Clock, lg log.Logger) (*Engine, error) {
	alloc, err := slab.New(slab.Options{
		MaxBytes:    cfg.CacheSize,
		Factor:      cfg.Factor,
		ChunkSize:   cfg.ChunkSize,
		Preallocate: cfg.Preallocate,
	})
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	store := cache.NewStore(alloc, slab.MaxClasses, newSeed(), clk, lg, cfg.UseCas, cfg.Eviction, cfg.Verbose)
	return &Engine{store: store, clock: clk, log: lg, cfg: cfg}, nil
}

// Initialize parses configStr and builds a ready-to-use Engine, per
// spec.md section 5's "Initialize(config_str)" vtable entry.
func Initialize(configStr string, clk clock.Clock, lg log.Logger) (*Engine, Result, error) {
	cfg, err := ParseConfig(configStr)
	if err != nil {
		return nil, Failed, stackerr.Wrap(err)
	}
	e, err := New(cfg, clk, lg)
	if err != nil {
		return nil, Failed, err
	}
	return e, Success, nil
}

// newSeed picks an arbitrary fixed hash seed. A real deployment would draw
// this from a host-provided random source; a fixed seed keeps a single
// process's hash distribution stable across Destroy/Initialize cycles in
// tests without requiring a seeded PRNG dependency the corpus never shows
// a grounded use for (see DESIGN.md).
func newSeed() uint64 { return 0x9E3779B97F4A7C15 }

// Destroy releases the engine's resources. The slab allocator holds no
// OS-level resources beyond Go-managed memory, so this is a no-op beyond
// documenting the vtable entry from spec.md section 5.
func (e *Engine) Destroy() {}

// Allocate reserves a new, unlinked item with refcount 1 for key/flags/
// exptime/nbytes, per spec.md section 5. The caller fills in Value and
// then calls Store (or Release to abandon the allocation).
func (e *Engine) Allocate(key []byte, flags uint32, exptimeRaw int64, nbytes int) (*cache.Item, Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exptime := e.clock.Realtime(exptimeRaw)
	it, err := e.store.Allocate(key, flags, exptime, nbytes)
	res, werr := resultFor(err)
	return it, res, werr
}

// Remove unlinks the item identified by key, if present.
func (e *Engine) Remove(key []byte) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.store.Get(key)
	if err != nil {
		res, werr := resultFor(err)
		return res, werr
	}
	e.store.Unlink(it)
	e.store.Release(it)
	return Success, nil
}

// Release drops the caller's reference to it, obtained from Allocate or
// Get.
func (e *Engine) Release(it *cache.Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Release(it)
}

// Get returns the item stored under key, or KeyNotFound if absent or
// lazily expired.
func (e *Engine) Get(key []byte) (*cache.Item, Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.store.Get(key)
	res, werr := resultFor(err)
	return it, res, werr
}

// Store dispatches it (already populated by a prior Allocate) through the
// ADD/SET/REPLACE/APPEND/PREPEND/CAS table in spec.md section 4.5.
func (e *Engine) Store(it *cache.Item, op cache.Operation) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.store.StoreItem(it, op)
	res, werr := resultFor(err)
	return res, werr
}

// Arithmetic dispatches an INCR/DECR operation, per spec.md section 4.5.
func (e *Engine) Arithmetic(key []byte, increment, create bool, delta, initial uint64, exptimeRaw int64, casIn uint64) (cas uint64, result uint64, res Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exptime := e.clock.Realtime(exptimeRaw)
	cas, result, serr := e.store.Arithmetic(key, increment, create, delta, initial, exptime, casIn)
	res, werr := resultFor(serr)
	return cas, result, res, werr
}

// Flush invalidates every item not yet touched at or after the cutoff, per
// spec.md section 5. nowRaw == 0 means "flush immediately", matching the
// original engine's flush_all(0) convention (original_source's
// slabber_flush): the cutoff is taken as the current time rather than as
// an exptime-style offset, since Realtime(0) is reserved to mean "never
// expires" and would otherwise disable the flush entirely.
func (e *Engine) Flush(nowRaw int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.clock.Now()
	if nowRaw != 0 {
		cutoff = e.clock.Realtime(nowRaw)
	}
	e.store.Flush(cutoff)
}

// StatSnapshot bundles the aggregate and per-class counters returned by
// the empty-string/"slabs"/"items"/"sizes" stats keys from spec.md
// section 6.
type StatSnapshot struct {
	cache.Snapshot
	Classes []cache.ItemClassStats
	Slabs   []slab.ClassStats
	Sizes   map[int]int
}

// GetStats returns the aggregate and per-class counters, per spec.md
// section 5's "GetStats(key)" vtable entry (key selection is left to the
// caller; the demo front end's "stats" command prints only the aggregate
// fields).
func (e *Engine) GetStats() StatSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StatSnapshot{
		Snapshot: e.store.Stats.Snapshot(),
		Classes:  e.store.ClassStats(),
		Slabs:    e.store.AllocatorStats(),
		Sizes:    e.store.SizeHistogram(),
	}
}

// ResetStats zeroes the resettable aggregate and per-class counters.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Stats.Reset()
	e.store.ResetClassStats()
}

// UnknownCommand reports NotSupported for any operation the engine does
// not implement, per spec.md section 5's catch-all vtable entry.
func (e *Engine) UnknownCommand() (Result, error) {
	return NotSupported, nil
}
