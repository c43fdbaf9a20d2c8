package relayer

import (
	"container/heap"

	"go-bridge/internal/models"
)

// task is one relay request moving through the queue. Mutable fields are
// guarded by the relayer's mutex.
type task struct {
	req      *models.RelayRequest
	record   *models.RelayRecord
	seq      uint64 // submission order, ties within a priority
	index    int    // heap position, -1 when not queued
	retrying bool   // waiting out a backoff delay
}

// taskQueue orders tasks by priority weight, then submission order. It is
// not self-locking.
type taskQueue struct {
	items []*task
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	heap.Init(q)
	return q
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if wa, wb := a.req.Priority.Weight(), b.req.Priority.Weight(); wa != wb {
		return wa > wb
	}
	return a.seq < b.seq
}

func (q *taskQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(q.items)
	q.items = append(q.items, t)
}

func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	q.items = old[:n-1]
	return t
}

func (q *taskQueue) push(t *task) { heap.Push(q, t) }

func (q *taskQueue) pop() *task {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*task)
}

func (q *taskQueue) remove(t *task) bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(q, t.index)
	return true
}

// position returns the 1-based queue position of a task, 0 if not queued.
func (q *taskQueue) position(t *task) int {
	if t.index < 0 {
		return 0
	}
	pos := 1
	for _, other := range q.items {
		if other == t {
			continue
		}
		if q.before(other, t) {
			pos++
		}
	}
	return pos
}

func (q *taskQueue) before(a, b *task) bool {
	if wa, wb := a.req.Priority.Weight(), b.req.Priority.Weight(); wa != wb {
		return wa > wb
	}
	return a.seq < b.seq
}
