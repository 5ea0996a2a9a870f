package common

import (
	"testing"
	"time"
)

func TestCountDownLatch(t *testing.T) {
	l := NewCountDownLatch(3)
	done := make(chan struct{})
	go func() {
		l.Await()
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-done:
			t.Fatalf("#%d: Await returned with counter at %d", i, l.Count())
		default:
		}
		l.CountDown()
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Await didn't return after counter reached zero")
	}

	// counting down past zero must not panic or go negative
	l.CountDown()
	if c := l.Count(); c != 0 {
		t.Errorf("Count() = %d, want 0", c)
	}
}

func TestCountDownLatchZero(t *testing.T) {
	l := NewCountDownLatch(0)
	done := make(chan struct{})
	go func() {
		l.Await()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Await on a zero latch should return immediately")
	}
}
