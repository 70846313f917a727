// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package syncqueue

import "sync"

// FIFO implements a first-in, first-out producer-consumer queue. Thread
// safe. Used by the background flusher, whose correctness depends on
// single-producer/single-consumer tasks and results draining in
// submission order.
type FIFO struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []interface{}
	closed bool
}

// NewFIFO creates an empty FIFO queue.
func NewFIFO() *FIFO {
	q := &FIFO{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put adds the object to the back of the queue.
func (q *FIFO) Put(v interface{}) {
	q.mu.Lock()
	q.queue = append(q.queue, v)
	q.cond.Signal()
	q.mu.Unlock()
}

// Close informs the queue that no more objects will be added via Put.
func (q *FIFO) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Get removes the oldest object added to the queue. It blocks the
// caller if the queue is empty and not yet closed.
func (q *FIFO) Get() (interface{}, bool) {
	q.mu.Lock()
	for !q.closed && len(q.queue) == 0 {
		q.cond.Wait()
	}
	v, ok := q.pop()
	q.mu.Unlock()
	return v, ok
}

// TryGet removes the oldest object without blocking. ok is false if the
// queue is currently empty, whether or not it is closed; callers that
// need to distinguish "empty" from "empty and closed" should use Get.
func (q *FIFO) TryGet() (interface{}, bool) {
	q.mu.Lock()
	v, ok := q.pop()
	q.mu.Unlock()
	return v, ok
}

func (q *FIFO) pop() (interface{}, bool) {
	if len(q.queue) == 0 {
		return nil, false
	}
	v := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]
	return v, true
}
