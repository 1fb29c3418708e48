package cache

import (
	"github.com/gophercache/slabengine/clock"
	"github.com/gophercache/slabengine/log"
	"github.com/gophercache/slabengine/slab"
)

const (
	// tailScanSteps bounds the steal/evict/tail-repair walks in Allocate
	// to 50 items, per spec.md section 4.4.
	tailScanSteps = 50

	// tailRepairTime is the 3-hour heuristic threshold past which a
	// refcount-stuck item is force-reclaimed (spec.md section 4.4 /
	// original_source's TAIL_REPAIR_TIME).
	tailRepairTime = 3 * 60 * 60
)

// Store is the item lifecycle manager from spec.md section 4.4: it owns
// the slab allocator, hash index, and per-class LRU lists, and implements
// Allocate/Link/Unlink/Release/Touch/Replace/Get/GetNoCheck/Flush. It does
// no locking of its own; the engine facade serializes all calls under the
// single cache lock described in spec.md section 5.
type Store struct {
	alloc *slab.Allocator
	hash  *hashIndex
	lru   *lruManager
	Stats *Stats

	clock clock.Clock
	log   log.Logger

	useCas      bool
	evictToFree bool
	verbose     uint

	oldestLive uint32
	casCounter uint64
	maxClass   int

	classCounters []itemClassCounters
}

// NewStore builds a Store over alloc, with one LRU list per size class up
// to maxClass.
func NewStore(alloc *slab.Allocator, maxClass int, seed uint64, clk clock.Clock, lg log.Logger, useCas, evictToFree bool, verbose uint) *Store {
	return &Store{
		alloc:         alloc,
		hash:          newHashIndex(seed),
		lru:           newLRUManager(maxClass),
		Stats:         &Stats{},
		clock:         clk,
		log:           lg,
		useCas:        useCas,
		evictToFree:   evictToFree,
		verbose:       verbose,
		maxClass:      maxClass,
		classCounters: make([]itemClassCounters, maxClass+1),
	}
}

// Allocate creates a new, not-yet-linked item with refcount 1, implementing
// the full steal/evict/tail-repair fallback chain from spec.md section 4.4.
func (s *Store) Allocate(key []byte, flags uint32, exptime uint32, nbytes int) (*Item, error) {
	nkey := len(key)
	total := TotalSize(nkey, nbytes, s.useCas)
	id := s.alloc.Clsid(total)
	if id == 0 {
		return nil, ErrTooBig
	}

	now := s.clock.Now()

	// Step 0: steal an already-expired item off the tail, avoiding a
	// separate slab allocation entirely.
	var reused *Item
	s.lru.walkFromTail(id, tailScanSteps, func(cand *Item) bool {
		if cand.refcount == 0 && cand.Exptime != 0 && cand.Exptime < now {
			cand.refcount = 1
			s.Unlink(cand)
			reused = cand
			return true
		}
		return false
	})
	if reused != nil {
		s.initItem(reused, reused.chunk, id, key, flags, exptime, nbytes)
		return reused, nil
	}

	if chunk, ok := s.alloc.Alloc(id); ok {
		it := &Item{}
		s.initItem(it, chunk, id, key, flags, exptime, nbytes)
		return it, nil
	}

	if !s.evictToFree {
		s.classCounters[id].outOfMemory++
		return nil, ErrOutOfMemory
	}

	// Step 1: evict the first unreferenced item found walking the tail.
	var evicted *Item
	s.lru.walkFromTail(id, tailScanSteps, func(cand *Item) bool {
		if cand.refcount == 0 {
			evicted = cand
			return true
		}
		return false
	})
	if evicted != nil {
		if !evicted.Expired(now) {
			s.classCounters[id].evicted++
			s.classCounters[id].evictedTime = now - evicted.LastAccess
			s.Stats.evicted()
		}
		s.Unlink(evicted)
	}
	if chunk, ok := s.alloc.Alloc(id); ok {
		it := &Item{}
		s.initItem(it, chunk, id, key, flags, exptime, nbytes)
		return it, nil
	}

	// Step 2: last resort, force-reclaim a stuck, long-referenced item.
	s.classCounters[id].outOfMemory++
	var stuck *Item
	s.lru.walkFromTail(id, tailScanSteps, func(cand *Item) bool {
		if cand.refcount > 0 && cand.LastAccess+tailRepairTime < now {
			stuck = cand
			return true
		}
		return false
	})
	if stuck != nil {
		s.classCounters[id].tailRepairs++
		stuck.refcount = 0
		s.Unlink(stuck)
	}
	if chunk, ok := s.alloc.Alloc(id); ok {
		it := &Item{}
		s.initItem(it, chunk, id, key, flags, exptime, nbytes)
		return it, nil
	}

	return nil, ErrOutOfMemory
}

func (s *Store) initItem(it *Item, chunk slab.Chunk, id int, key []byte, flags, exptime uint32, nbytes int) {
	nkey := len(key)
	copy(chunk, key)

	it.chunk = chunk
	it.Key = chunk[:nkey]
	it.Value = chunk[nkey : nkey+nbytes]
	it.Flags = flags
	it.Exptime = exptime
	it.LastAccess = 0
	it.Cas = 0
	it.refcount = 1
	it.sizeClass = id
	it.nTotal = TotalSize(nkey, nbytes, s.useCas)
	it.state = 0
	if s.useCas {
		it.state |= stateWithCas
	}
	it.lruPrev, it.lruNext, it.hNext, it.keyHash = nil, nil, nil, 0
}

// Link inserts it into the hash index and its class LRU, assigning it a
// CAS token if use_cas is enabled, per spec.md section 4.4.
func (s *Store) Link(it *Item) {
	if it.Linked() || it.Slabbed() {
		panic("cache: Link called on an already-linked or freed item")
	}
	it.state |= stateLinked
	it.LastAccess = s.clock.Now()
	s.hash.insert(it)
	s.Stats.linked(it.nTotal)
	if it.WithCas() {
		s.casCounter++
		it.Cas = s.casCounter
	} else {
		it.Cas = 0
	}
	s.lru.linkHead(it)
}

// Unlink removes it from the hash index and LRU if currently linked, and
// frees its slab chunk if nothing else references it. It is idempotent.
func (s *Store) Unlink(it *Item) {
	if !it.Linked() {
		return
	}
	it.state &^= stateLinked
	s.Stats.unlinked(it.nTotal)
	s.hash.delete(it.Key)
	s.lru.unlink(it)
	if it.refcount == 0 {
		s.freeItem(it)
	}
}

// Release decrements it's refcount, freeing the item if it reaches zero
// and the item is not linked. It backs the engine facade's Release entry
// and is paired one-to-one with every Allocate/Get.
func (s *Store) Release(it *Item) {
	if it.refcount != 0 {
		it.refcount--
	}
	if it.refcount == 0 && !it.Linked() {
		s.freeItem(it)
	}
}

func (s *Store) freeItem(it *Item) {
	s.alloc.Free(it.sizeClass, it.chunk)
	it.sizeClass = 0
	it.state |= stateSlabbed
	it.chunk = nil
	it.Key = nil
	it.Value = nil
}

// Touch re-links it at the head of its class LRU, subject to the 60s
// update-interval throttle.
func (s *Store) Touch(it *Item) {
	s.lru.touch(it, s.clock.Now())
}

// Replace unlinks old and links new in its place.
func (s *Store) Replace(old, new *Item) {
	s.Unlink(old)
	s.Link(new)
}

// Get finds key and applies lazy expiration (flush-nuked, then exptime),
// incrementing the refcount of whatever item is returned, per spec.md
// section 4.4.
func (s *Store) Get(key []byte) (*Item, error) {
	it := s.hash.find(key)
	if it == nil {
		if s.verbose > 2 {
			s.log.Debugf("> NOT FOUND %s", key)
		}
		return nil, ErrNotFound
	}
	now := s.clock.Now()

	if s.oldestLive != 0 && s.oldestLive <= now && it.LastAccess <= s.oldestLive {
		s.Unlink(it)
		if s.verbose > 2 {
			s.log.Debugf("> FOUND KEY %s -nuked by flush", key)
		}
		return nil, ErrNotFound
	}
	if it.Expired(now) {
		s.Unlink(it)
		if s.verbose > 2 {
			s.log.Debugf("> FOUND KEY %s -nuked by expire", key)
		}
		return nil, ErrNotFound
	}

	it.refcount++
	s.Touch(it)
	if s.verbose > 2 {
		s.log.Debugf("> FOUND KEY %s", key)
	}
	return it, nil
}

// GetNoCheck returns the item whether or not it has lazily expired, for
// internal dispatcher use (spec.md section 4.4).
func (s *Store) GetNoCheck(key []byte) (*Item, error) {
	it := s.hash.find(key)
	if it == nil {
		return nil, ErrNotFound
	}
	it.refcount++
	return it, nil
}

// Flush records oldestLive and eagerly unlinks every item whose last
// access is at or after it, walking each class LRU from the MRU end and
// stopping at the first item older than oldestLive (the remainder is left
// for lazy expiration via Get's oldest_live check), per spec.md section
// 4.4.
func (s *Store) Flush(oldestLive uint32) {
	s.oldestLive = oldestLive
	if oldestLive == 0 {
		return
	}
	for id := 1; id <= s.maxClass; id++ {
		l := s.lru.list(id)
		it := l.head()
		for it != nil {
			if it.LastAccess < oldestLive {
				break
			}
			next := l.next(it)
			if !it.Slabbed() {
				s.Unlink(it)
			}
			it = next
		}
	}
}

// ClassStats returns the per-class item bookkeeping behind the "items"
// stats key (spec.md section 6).
func (s *Store) ClassStats() []ItemClassStats {
	out := make([]ItemClassStats, 0, s.maxClass)
	for id := 1; id <= s.maxClass; id++ {
		l := s.lru.list(id)
		if l.size == 0 {
			continue
		}
		tailAge := uint32(0)
		if t := l.tail(); t != nil {
			tailAge = s.clock.Now() - t.LastAccess
		}
		c := s.classCounters[id]
		out = append(out, ItemClassStats{
			ClassID:     id,
			Number:      l.size,
			TailAge:     tailAge,
			Evicted:     c.evicted,
			EvictedTime: c.evictedTime,
			OutOfMemory: c.outOfMemory,
			TailRepairs: c.tailRepairs,
		})
	}
	return out
}

// ResetClassStats zeroes the per-class evicted/outofmemory/tailrepairs
// counters, matching do_item_stats_reset.
func (s *Store) ResetClassStats() {
	for i := range s.classCounters {
		s.classCounters[i] = itemClassCounters{}
	}
}

// SizeHistogram bins every currently-linked item into 32-byte buckets by
// total size, up to 1 MiB, matching do_item_stats_sizes (spec.md section
// 6, stats key "sizes").
func (s *Store) SizeHistogram() map[int]int {
	const bucketWidth = 32
	hist := make(map[int]int)
	for id := 1; id <= s.maxClass; id++ {
		l := s.lru.list(id)
		for it := l.head(); it != nil; it = l.next(it) {
			bucket := it.nTotal / bucketWidth
			if it.nTotal%bucketWidth != 0 {
				bucket++
			}
			hist[bucket*bucketWidth]++
		}
	}
	return hist
}

// MaxClass returns the highest configured size class id.
func (s *Store) MaxClass() int { return s.maxClass }

// AllocatorStats returns the underlying slab allocator's per-class
// snapshot, behind the "slabs" stats key (spec.md section 6).
func (s *Store) AllocatorStats() []slab.ClassStats { return s.alloc.Stats() }
