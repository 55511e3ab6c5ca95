package stream

import (
	"sync"
	"time"
)

// queuedMessage pairs an envelope with its enqueue time for age reporting
type queuedMessage struct {
	msg      *Message
	enqueued time.Time
}

// PriorityQueue is a bounded, four-level ordered queue of pending messages
// for one connection. The four FIFO buckets share a single capacity: Put is
// rejected once the total size reaches maxSize regardless of level. Get
// drains strictly by priority (Critical, High, Normal, Low) and FIFO within
// one level.
//
// All operations are O(1) amortized; bucket sizes are tracked incrementally.
type PriorityQueue struct {
	mu      sync.Mutex
	buckets [len(drainOrder)][]queuedMessage
	size    int
	maxSize int
}

// NewPriorityQueue creates a queue with the given shared capacity
func NewPriorityQueue(maxSize int) *PriorityQueue {
	if maxSize <= 0 {
		maxSize = 1 // Minimum capacity
	}
	return &PriorityQueue{maxSize: maxSize}
}

// Put appends a message to the bucket for the given priority. Returns false
// with no state change when the queue is at capacity.
func (q *PriorityQueue) Put(msg *Message, priority Priority) bool {
	if !priority.Valid() {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size >= q.maxSize {
		return false
	}

	q.buckets[priority] = append(q.buckets[priority], queuedMessage{msg: msg, enqueued: time.Now()})
	q.size++
	return true
}

// Get pops the oldest message from the highest non-empty priority bucket.
// Returns ok=false when all buckets are empty.
func (q *PriorityQueue) Get() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, level := range drainOrder {
		bucket := q.buckets[level]
		if len(bucket) == 0 {
			continue
		}

		item := bucket[0]
		bucket[0].msg = nil // Clear for GC
		q.buckets[level] = bucket[1:]
		q.size--

		// Reclaim the backing array once the bucket fully drains
		if len(q.buckets[level]) == 0 {
			q.buckets[level] = nil
		}

		return item.msg, true
	}

	return nil, false
}

// ClearLowPriority removes all Low-priority entries and returns the count
// removed. Other levels are untouched. Used by overflow handling.
func (q *PriorityQueue) ClearLowPriority() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := len(q.buckets[PriorityLow])
	q.buckets[PriorityLow] = nil
	q.size -= evicted
	return evicted
}

// Size returns the total number of queued messages across all levels
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// SizeByPriority returns the number of queued messages at one level
func (q *PriorityQueue) SizeByPriority(priority Priority) int {
	if !priority.Valid() {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buckets[priority])
}

// IsFull reports whether the queue is at capacity
func (q *PriorityQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size >= q.maxSize
}

// Capacity returns the shared maximum size
func (q *PriorityQueue) Capacity() int {
	return q.maxSize // Immutable, no lock needed
}

// Clear removes all queued messages from every bucket
func (q *PriorityQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.buckets {
		q.buckets[i] = nil
	}
	q.size = 0
}
