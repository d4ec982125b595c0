package bridge

import "sync"

// queue runs fn on each offered item from one background goroutine.
// Offers never block; a full or closed queue rejects the item.
type queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
	wg     sync.WaitGroup
}

func newQueue[T any](size int, fn func(T)) *queue[T] {
	if size <= 0 {
		size = 1
	}
	q := &queue[T]{ch: make(chan T, size)}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for item := range q.ch {
			fn(item)
		}
	}()
	return q
}

func (q *queue[T]) offer(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// push queues item, waiting for room. It reports false on a closed queue.
func (q *queue[T]) push(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.ch <- item
	return true
}

// close drains queued items and stops the goroutine. Safe to call twice.
func (q *queue[T]) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
