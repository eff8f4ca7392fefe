package cache

import (
	"container/list"
	"time"
)

type item[V any] struct {
	key          string
	value        V
	updated      time.Time
	lastAccessed time.Time
	accessCount  int64
}

// table is a bounded map whose list keeps entries ordered by last access,
// most recent at the front. Not safe for concurrent use.
type table[V any] struct {
	max   int
	ll    *list.List
	index map[string]*list.Element

	hits, misses, evictions, expired int64
}

func newTable[V any](limit int) *table[V] {
	return &table[V]{max: limit, ll: list.New(), index: make(map[string]*list.Element)}
}

// set stores v as of updated and reports whether another entry was evicted
// for room.
func (t *table[V]) set(key string, v V, updated, now time.Time) bool {
	if el, ok := t.index[key]; ok {
		it := el.Value.(*item[V])
		it.value = v
		it.updated = updated
		it.lastAccessed = now
		t.ll.MoveToFront(el)
		return false
	}

	evicted := false
	if t.max > 0 && t.ll.Len() >= t.max {
		if back := t.ll.Back(); back != nil {
			t.remove(back)
			t.evictions++
			evicted = true
		}
	}
	t.index[key] = t.ll.PushFront(&item[V]{key: key, value: v, updated: updated, lastAccessed: now})
	return evicted
}

// touch returns the entry for key, marking it accessed, whatever its age.
func (t *table[V]) touch(key string, now time.Time) (*item[V], bool) {
	el, ok := t.index[key]
	if !ok {
		return nil, false
	}
	it := el.Value.(*item[V])
	it.lastAccessed = now
	it.accessCount++
	t.ll.MoveToFront(el)
	return it, true
}

// get is touch with TTL and hit/miss accounting.
func (t *table[V]) get(key string, now time.Time, ttl time.Duration) (*item[V], bool) {
	it, ok := t.touch(key, now)
	if !ok || now.Sub(it.updated) > ttl {
		t.misses++
		return nil, false
	}
	t.hits++
	return it, true
}

// sweep removes entries older than their TTL.
func (t *table[V]) sweep(now time.Time, ttl func(V) time.Duration) int {
	removed := 0
	for el := t.ll.Back(); el != nil; {
		prev := el.Prev()
		it := el.Value.(*item[V])
		if now.Sub(it.updated) > ttl(it.value) {
			t.remove(el)
			removed++
		}
		el = prev
	}
	t.expired += int64(removed)
	return removed
}

func (t *table[V]) remove(el *list.Element) {
	it := t.ll.Remove(el).(*item[V])
	delete(t.index, it.key)
}

func (t *table[V]) size() int { return t.ll.Len() }

func (t *table[V]) stats() TableStats {
	return TableStats{
		Size:       t.ll.Len(),
		MaxEntries: t.max,
		Hits:       t.hits,
		Misses:     t.misses,
		Evictions:  t.evictions,
		Expired:    t.expired,
	}
}
