package dvn

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type queueItem struct {
	id    common.Hash
	due   time.Time
	index int
}

// dueQueue is a min-heap on due time.
type dueQueue []*queueItem

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool { return q[i].due.Before(q[j].due) }

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *dueQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[0 : n-1]
	item.index = -1
	return item
}

// retryQueue holds at most one pending run per packet, ordered by due time.
type retryQueue struct {
	mu    sync.Mutex
	heap  dueQueue
	items map[common.Hash]*queueItem
	wake  chan struct{}
	now   func() time.Time
}

func newRetryQueue(now func() time.Time) *retryQueue {
	return &retryQueue{
		items: make(map[common.Hash]*queueItem),
		wake:  make(chan struct{}, 1),
		now:   now,
	}
}

// schedule sets the due time of id, replacing any pending entry.
func (q *retryQueue) schedule(id common.Hash, due time.Time) {
	q.mu.Lock()
	if item, ok := q.items[id]; ok {
		item.due = due
		heap.Fix(&q.heap, item.index)
	} else {
		item = &queueItem{id: id, due: due}
		heap.Push(&q.heap, item)
		q.items[id] = item
	}
	queueGauge.Update(int64(len(q.heap)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// popDue removes and returns the earliest entry if it is due, otherwise it
// returns the time until the next entry (zero if empty).
func (q *retryQueue) popDue() (common.Hash, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return common.Hash{}, 0, false
	}
	head := q.heap[0]
	if wait := head.due.Sub(q.now()); wait > 0 {
		return common.Hash{}, wait, false
	}
	heap.Pop(&q.heap)
	delete(q.items, head.id)
	queueGauge.Update(int64(len(q.heap)))
	return head.id, 0, true
}

// next blocks until an entry is due and returns it. It returns false once ctx
// is cancelled.
func (q *retryQueue) next(ctx context.Context) (common.Hash, bool) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		id, wait, ok := q.popDue()
		if ok {
			return id, true
		}
		var timeout <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			timeout = timer.C
		}
		select {
		case <-ctx.Done():
			return common.Hash{}, false
		case <-q.wake:
		case <-timeout:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}
