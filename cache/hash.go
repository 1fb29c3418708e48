package cache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// hashKey implements the host-provided hash(data, size, seed) service from
// spec.md section 6, using github.com/cespare/xxhash/v2 (grounded on
// _examples/simplygulshan4u-ecache2's dependency on the same library) in
// place of the unspecified host hash function.
func hashKey(seed uint64, key []byte) uint64 {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)
	d := xxhash.New()
	d.Write(seedBytes[:])
	d.Write(key)
	return d.Sum64()
}

const (
	initialBuckets = 16
	growthFactor   = 2
	// loadFactorNum/loadFactorDen == 1.5, spec.md section 4.2.
	loadFactorNum = 3
	loadFactorDen = 2
)

// hashIndex is the chained, power-of-two-bucketed hash table from spec.md
// section 4.2, with incremental one-bucket-per-insert rehashing above load
// factor 1.5 and a dual-table lookup window while expanding, matching the
// assoc_expand/do_assoc_move_next_bucket behavior described in
// original_source's plugin/slab/assoc.h.
type hashIndex struct {
	seed    uint64
	buckets []*Item
	mask    uint64

	expanding  bool
	oldBuckets []*Item
	oldMask    uint64
	cursor     int

	count int
}

func newHashIndex(seed uint64) *hashIndex {
	h := &hashIndex{seed: seed}
	h.buckets = make([]*Item, initialBuckets)
	h.mask = initialBuckets - 1
	return h
}

func bucketFor(buckets []*Item, mask, hash uint64) *Item {
	return buckets[hash&mask]
}

func searchChain(head *Item, hash uint64, key []byte) *Item {
	for n := head; n != nil; n = n.hNext {
		if n.keyHash == hash && keysEqual(n.Key, key) {
			return n
		}
	}
	return nil
}

// find looks up key, consulting the table being grown into first and
// falling back to the table being drained, per spec.md section 4.2:
// "find must consult both tables during the migration."
func (h *hashIndex) find(key []byte) *Item {
	hash := hashKey(h.seed, key)
	if it := searchChain(bucketFor(h.buckets, h.mask, hash), hash, key); it != nil {
		return it
	}
	if h.expanding {
		return searchChain(bucketFor(h.oldBuckets, h.oldMask, hash), hash, key)
	}
	return nil
}

// insert adds it to the table, computing and caching its key hash, and
// migrates one old bucket first if a rehash is in progress.
func (h *hashIndex) insert(it *Item) {
	it.keyHash = hashKey(h.seed, it.Key)
	if h.expanding {
		h.migrateOneBucket()
	}
	idx := it.keyHash & h.mask
	it.hNext = h.buckets[idx]
	h.buckets[idx] = it
	h.count++

	if !h.expanding && h.count*loadFactorDen > len(h.buckets)*loadFactorNum {
		h.startExpand()
	}
}

// delete removes the item identified by key, searching both tables while
// a rehash is in progress.
func (h *hashIndex) delete(key []byte) {
	hash := hashKey(h.seed, key)
	if deleteFromChain(h.buckets, h.mask, hash, key) {
		h.count--
		return
	}
	if h.expanding && deleteFromChain(h.oldBuckets, h.oldMask, hash, key) {
		h.count--
	}
}

func deleteFromChain(buckets []*Item, mask, hash uint64, key []byte) bool {
	idx := hash & mask
	var prev *Item
	for n := buckets[idx]; n != nil; n = n.hNext {
		if n.keyHash == hash && keysEqual(n.Key, key) {
			if prev == nil {
				buckets[idx] = n.hNext
			} else {
				prev.hNext = n.hNext
			}
			n.hNext = nil
			return true
		}
		prev = n
	}
	return false
}

func (h *hashIndex) startExpand() {
	h.oldBuckets = h.buckets
	h.oldMask = h.mask
	newSize := len(h.oldBuckets) * growthFactor
	h.buckets = make([]*Item, newSize)
	h.mask = uint64(newSize - 1)
	h.cursor = 0
	h.expanding = true
}

// migrateOneBucket moves every item chained off the old table's current
// cursor bucket into the new table, then advances the cursor. Completion
// (draining the last old bucket) releases the old table, per spec.md
// section 4.2.
func (h *hashIndex) migrateOneBucket() {
	if h.cursor >= len(h.oldBuckets) {
		h.finishExpand()
		return
	}
	n := h.oldBuckets[h.cursor]
	h.oldBuckets[h.cursor] = nil
	for n != nil {
		next := n.hNext
		idx := n.keyHash & h.mask
		n.hNext = h.buckets[idx]
		h.buckets[idx] = n
		n = next
	}
	h.cursor++
	if h.cursor >= len(h.oldBuckets) {
		h.finishExpand()
	}
}

func (h *hashIndex) finishExpand() {
	h.expanding = false
	h.oldBuckets = nil
	h.oldMask = 0
	h.cursor = 0
}
