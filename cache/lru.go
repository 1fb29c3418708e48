package cache

// classLRU is a single size class's recency list, built on the same
// sentinel-node embedded doubly-linked list technique as
// _examples/skipor-memcached/cache/lru.go: a fakeHead/fakeTail pair of
// dummy items bookends the real chain so link/unlink never needs nil
// checks. Unlike the teacher, head is the MRU end and tail is the LRU
// end, matching spec.md section 3's "head=MRU, tail=LRU" convention, and
// there is one such list per slab size class rather than a single shared
// one.
type classLRU struct {
	fakeHead *Item
	fakeTail *Item
	size     int
}

func newClassLRU() *classLRU {
	l := &classLRU{fakeHead: newSentinel(), fakeTail: newSentinel()}
	link(l.fakeHead, l.fakeTail)
	return l
}

func link(a, b *Item) { a.lruNext, b.lruPrev = b, a }

// linkHead inserts it immediately after the head sentinel, making it the
// most-recently-used item in the class.
func (l *classLRU) linkHead(it *Item) {
	link(it, l.fakeHead.lruNext)
	link(l.fakeHead, it)
	l.size++
}

// unlink detaches it from the list.
func (l *classLRU) unlink(it *Item) {
	link(it.lruPrev, it.lruNext)
	detachLRU(it)
	l.size--
}

// tail returns the least-recently-used real item, or nil if the list is
// empty.
func (l *classLRU) tail() *Item {
	if l.fakeTail.lruPrev == l.fakeHead {
		return nil
	}
	return l.fakeTail.lruPrev
}

// prevOf returns the item preceding it in recency order (towards the
// tail), used by the bounded tail-walk loops in store.go. It returns nil
// once it would step past the head sentinel.
func (l *classLRU) prevOf(it *Item) *Item {
	if it.lruPrev == l.fakeHead {
		return nil
	}
	return it.lruPrev
}

// head returns the most-recently-used real item, or nil if the list is
// empty. Used by Flush, which walks forward from the MRU end.
func (l *classLRU) head() *Item {
	if l.fakeHead.lruNext == l.fakeTail {
		return nil
	}
	return l.fakeHead.lruNext
}

// next returns the item following it towards the tail (less recent), or
// nil at the end of the list.
func (l *classLRU) next(it *Item) *Item {
	if it.lruNext == l.fakeTail {
		return nil
	}
	return it.lruNext
}

// lruManager owns one classLRU per slab size class (spec.md section 4.3).
type lruManager struct {
	classes []*classLRU // index 0 unused; classes[id] for id in 1..maxClass
}

// updateInterval throttles re-links of hot items, per spec.md section 3:
// "subsequent accesses re-link only if the previous re-link is older
// than 60 seconds."
const updateInterval = 60

func newLRUManager(maxClass int) *lruManager {
	m := &lruManager{classes: make([]*classLRU, maxClass+1)}
	for i := 1; i <= maxClass; i++ {
		m.classes[i] = newClassLRU()
	}
	return m
}

func (m *lruManager) list(classID int) *classLRU { return m.classes[classID] }

// linkHead adds it to the head of its size class's LRU.
func (m *lruManager) linkHead(it *Item) { m.list(it.sizeClass).linkHead(it) }

// unlink removes it from its size class's LRU.
func (m *lruManager) unlink(it *Item) { m.list(it.sizeClass).unlink(it) }

// touch re-links it at the head if its last re-link is older than the
// update interval, per spec.md section 4.3.
func (m *lruManager) touch(it *Item, now uint32) {
	if it.LastAccess != 0 && now < it.LastAccess+updateInterval {
		return
	}
	l := m.list(it.sizeClass)
	l.unlink(it)
	it.LastAccess = now
	l.linkHead(it)
}

// walkFromTail invokes fn on up to maxSteps items starting from the
// least-recently-used end of classID's list, walking towards the head.
// It stops early if fn returns true. This implements the bounded tail
// scans in spec.md section 4.4 (steal/evict/tail-repair, 50 steps each).
func (m *lruManager) walkFromTail(classID int, maxSteps int, fn func(it *Item) (stop bool)) {
	l := m.list(classID)
	it := l.tail()
	for i := 0; i < maxSteps && it != nil; i++ {
		prev := l.prevOf(it)
		if fn(it) {
			return
		}
		it = prev
	}
}
