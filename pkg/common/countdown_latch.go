// Package common holds small concurrency helpers shared across packages.
package common

import "sync"

// CountDownLatch blocks waiters until its counter reaches zero. Unlike
// sync.WaitGroup, counting down at zero is a no-op rather than a panic,
// so a late completion report from an already finished job is harmless.
type CountDownLatch struct {
	mu      sync.Mutex
	cond    *sync.Cond
	counter int
}

func NewCountDownLatch(count int) *CountDownLatch {
	l := &CountDownLatch{counter: count}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *CountDownLatch) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}

func (l *CountDownLatch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counter == 0 {
		return
	}
	l.counter--
	if l.counter == 0 {
		l.cond.Broadcast()
	}
}

func (l *CountDownLatch) Await() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.counter > 0 {
		l.cond.Wait()
	}
}
