package dedup

import (
	"container/heap"
)

// entry is a fingerprint in the expiry queue, ordered by the time it was last seen
type entry struct {
	key      key
	lastSeen int64 // unix nanos
	index    int   // index in the heap, maintained by the heap package
}

// expiryQueue is a min-heap of fingerprints by last seen time with key based access.
// It gives EvictOlderThan the oldest entries first without scanning the whole store.
//
// Not thread-safe, the Store guards it with a mutex.
type expiryQueue struct {
	items    []*entry
	itemsMap map[key]*entry
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{
		items:    make([]*entry, 0),
		itemsMap: make(map[key]*entry),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (q *expiryQueue) Len() int { return len(q.items) }

// Less orders the oldest entry first (part of heap.Interface)
func (q *expiryQueue) Less(i, j int) bool {
	return q.items[i].lastSeen < q.items[j].lastSeen
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (q *expiryQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (q *expiryQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(q.items)
	q.items = append(q.items, e)
	q.itemsMap[e.key] = e
}

// Pop removes and returns the oldest item (part of heap.Interface)
func (q *expiryQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // avoid memory leak
	e.index = -1
	q.items = old[:n-1]
	delete(q.itemsMap, e.key)
	return e
}

// touch adds the key or moves an existing key to its new last seen time
func (q *expiryQueue) touch(k key, lastSeen int64) {
	if e, exists := q.itemsMap[k]; exists {
		e.lastSeen = lastSeen
		heap.Fix(q, e.index)
		return
	}
	heap.Push(q, &entry{key: k, lastSeen: lastSeen})
}

// peek returns the oldest entry without removing it
func (q *expiryQueue) peek() (*entry, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// popOldest removes and returns the oldest entry
func (q *expiryQueue) popOldest() *entry {
	return heap.Pop(q).(*entry)
}
