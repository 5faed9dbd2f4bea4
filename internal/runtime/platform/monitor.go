package platform

import (
	"sync"
	"sync/atomic"
	"time"
)

// WaitResult distinguishes how a timed monitor wait completed.
type WaitResult int

const (
	// Notified means the waiter was woken by Notify or NotifyAll.
	Notified WaitResult = iota
	// TimedOut means the deadline elapsed before a notification arrived.
	TimedOut
)

// Monitor combines an exclusive lock with a condition variable. The zero
// value is ready to use. Enter/Exit mirror Mutex semantics; Wait,
// WaitUntilNanos, Notify and NotifyAll require the monitor to be held by
// the calling thread. Callers must re-check their predicate after a wait
// returns, per the usual condition-variable discipline.
type Monitor struct {
	_     [0]func() // not copyable
	mu    sync.Mutex
	owner atomic.Int64

	wmu     sync.Mutex
	waiters []chan struct{}
}

// Enter blocks until the monitor is held exclusively by the caller.
func (m *Monitor) Enter() {
	if checksEnabled {
		if ThreadID(m.owner.Load()) == CurrentThreadID() {
			fatalf("recursive Enter of monitor already held by thread %d", CurrentThreadID())
		}
	}
	m.mu.Lock()
	if checksEnabled {
		m.owner.Store(int64(CurrentThreadID()))
	}
}

// TryEnter acquires the monitor if it is free and reports whether it did.
func (m *Monitor) TryEnter() bool {
	if !m.mu.TryLock() {
		return false
	}
	if checksEnabled {
		m.owner.Store(int64(CurrentThreadID()))
	}
	return true
}

// Exit releases the monitor.
func (m *Monitor) Exit() {
	m.checkHeld("Exit")
	if checksEnabled {
		m.owner.Store(0)
	}
	m.mu.Unlock()
}

// Wait atomically releases the monitor and suspends the calling thread
// until a notification arrives, then reacquires the monitor before
// returning.
func (m *Monitor) Wait() {
	m.checkHeld("Wait")
	ch := m.enqueueWaiter()
	m.release()
	<-ch
	m.reacquire()
}

// WaitUntilNanos behaves like Wait but gives up once the absolute
// monotonic deadline elapses. A deadline already in the past returns
// TimedOut without suspending. NoDeadline waits indefinitely. The race
// between a timeout and a concurrent notification resolves to exactly
// one outcome: a notification consumed by a timed-out waiter is reported
// as Notified, never lost.
func (m *Monitor) WaitUntilNanos(deadline int64) WaitResult {
	m.checkHeld("WaitUntilNanos")
	if deadline == NoDeadline {
		m.Wait()
		return Notified
	}
	if deadline <= MonotonicNanos() {
		return TimedOut
	}
	ch := m.enqueueWaiter()
	m.release()

	timer := time.NewTimer(durationUntil(deadline))
	var result WaitResult
	select {
	case <-ch:
		result = Notified
	case <-timer.C:
		// Still queued means no notification reached us: withdraw.
		// Already dequeued means a notification was directed at us
		// concurrently with the timeout; report it so it is not lost.
		if m.withdrawWaiter(ch) {
			result = TimedOut
		} else {
			result = Notified
		}
	}
	timer.Stop()
	m.reacquire()
	return result
}

// Notify wakes one waiter, which becomes eligible to reacquire the
// monitor. Must be called with the monitor held.
func (m *Monitor) Notify() {
	m.checkHeld("Notify")
	m.wmu.Lock()
	if len(m.waiters) > 0 {
		close(m.waiters[0])
		m.waiters = m.waiters[1:]
	}
	m.wmu.Unlock()
}

// NotifyAll wakes every waiter. Must be called with the monitor held.
func (m *Monitor) NotifyAll() {
	m.checkHeld("NotifyAll")
	m.wmu.Lock()
	for _, ch := range m.waiters {
		close(ch)
	}
	m.waiters = nil
	m.wmu.Unlock()
}

func (m *Monitor) checkHeld(op string) {
	if checksEnabled {
		cur := CurrentThreadID()
		if ThreadID(m.owner.Load()) != cur {
			fatalf("%s on monitor not held by thread %d", op, cur)
		}
	}
}

func (m *Monitor) enqueueWaiter() chan struct{} {
	ch := make(chan struct{})
	m.wmu.Lock()
	m.waiters = append(m.waiters, ch)
	m.wmu.Unlock()
	return ch
}

// withdrawWaiter removes ch from the wait queue, reporting false when a
// notification already claimed it.
func (m *Monitor) withdrawWaiter(ch chan struct{}) bool {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	for i, w := range m.waiters {
		if w == ch {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Monitor) release() {
	if checksEnabled {
		m.owner.Store(0)
	}
	m.mu.Unlock()
}

func (m *Monitor) reacquire() {
	m.mu.Lock()
	if checksEnabled {
		m.owner.Store(int64(CurrentThreadID()))
	}
}
