package audio

import (
	"sync"

	"github.com/lisuiheng/soundwave-go/metrics"
)

// decodeQueue sits between the capture loop and a slow decoder. Chunks are
// copied in, so the loop may reuse its buffer as soon as Feed returns.
type decodeQueue struct {
	depth   int
	policy  QueuePolicy
	metrics *metrics.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]int16
	free   [][]int16
	closed bool
	done   chan struct{}
}

func newDecodeQueue(depth int, policy QueuePolicy, m *metrics.Metrics) *decodeQueue {
	q := &decodeQueue{
		depth:   depth,
		policy:  policy,
		metrics: m,
		items:   make([][]int16, 0, depth),
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Feed enqueues a copy of samples. With QueueBlock it waits for room; with
// QueueDropOldest it discards the oldest pending chunk instead.
func (q *decodeQueue) Feed(samples []int16) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.policy != QueueDropOldest && len(q.items) >= q.depth && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return
	}
	if len(q.items) >= q.depth {
		q.free = append(q.free, q.items[0])
		q.items = q.items[1:]
		q.metrics.ChunkDropped()
	}

	var buf []int16
	if n := len(q.free); n > 0 && cap(q.free[n-1]) >= len(samples) {
		buf = q.free[n-1][:len(samples)]
		q.free = q.free[:n-1]
	} else {
		buf = make([]int16, len(samples))
	}
	copy(buf, samples)
	q.items = append(q.items, buf)
	q.metrics.QueueDepth(len(q.items))
	q.cond.Broadcast()
}

// run delivers queued chunks to dst until the queue is closed and empty.
func (q *decodeQueue) run(dst Feeder) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.metrics.QueueDepth(len(q.items))
		q.cond.Broadcast()
		q.mu.Unlock()

		dst.Feed(item)

		q.mu.Lock()
		q.free = append(q.free, item)
		q.mu.Unlock()
	}
}

// Close stops accepting chunks and waits for the pending ones to be fed.
func (q *decodeQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
