package dedup

import (
	"container/heap"
	"crypto/md5"
	"testing"
)

func testKey(i int) key {
	return key{messageType: 1, clientID: uint64(i), hash: md5.Sum([]byte{byte(i)})}
}

// TestQueueOrder tests that the oldest entry is always on top
func TestQueueOrder(t *testing.T) {
	q := newExpiryQueue()
	heap.Init(q)

	q.touch(testKey(1), 100)
	q.touch(testKey(2), 200)
	q.touch(testKey(3), 50)

	if q.Len() != 3 {
		t.Fatalf("queue should have 3 items, but has %d", q.Len())
	}

	var order []int64
	for q.Len() > 0 {
		order = append(order, q.popOldest().lastSeen)
	}
	if order[0] != 50 || order[1] != 100 || order[2] != 200 {
		t.Errorf("entries should be popped oldest first, got %v", order)
	}
	if len(q.itemsMap) != 0 {
		t.Errorf("map should be empty after popping everything, has %d items", len(q.itemsMap))
	}
}

// TestQueueTouch tests moving an existing entry
func TestQueueTouch(t *testing.T) {
	q := newExpiryQueue()
	heap.Init(q)

	q.touch(testKey(1), 100)
	q.touch(testKey(2), 200)
	q.touch(testKey(1), 300)

	if q.Len() != 2 {
		t.Errorf("touching a known key must not add an entry, len = %d", q.Len())
	}

	oldest, _ := q.peek()
	if oldest.key != testKey(2) {
		t.Errorf("key 2 should be the oldest after refreshing key 1")
	}

	q.touch(testKey(1), 10)
	oldest, _ = q.peek()
	if oldest.key != testKey(1) || oldest.lastSeen != 10 {
		t.Errorf("expected key 1 with time 10 on top, got %+v", oldest)
	}
}

func TestQueueEmptyPeek(t *testing.T) {
	q := newExpiryQueue()
	if _, ok := q.peek(); ok {
		t.Error("peek on an empty queue should report false")
	}
}
