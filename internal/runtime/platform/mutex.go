package platform

import (
	"sync"
	"sync/atomic"
)

// Mutex is a non-reentrant exclusive lock. The zero value is an unlocked
// mutex. A Lock by the thread already holding it and an Unlock by a
// thread that does not hold it are invariant violations, detected when
// ownership tracking is compiled in (the default).
type Mutex struct {
	_     [0]func() // not copyable
	mu    sync.Mutex
	owner atomic.Int64 // ThreadID of the holder, 0 when unheld
}

// Lock blocks until the mutex is held exclusively by the caller.
func (m *Mutex) Lock() {
	if checksEnabled {
		if ThreadID(m.owner.Load()) == CurrentThreadID() {
			fatalf("recursive Lock of mutex already held by thread %d", CurrentThreadID())
		}
	}
	m.mu.Lock()
	if checksEnabled {
		m.owner.Store(int64(CurrentThreadID()))
	}
}

// TryLock acquires the mutex if it is free and reports whether it did.
// Contention is the only non-fatal outcome; it never blocks.
func (m *Mutex) TryLock() bool {
	if !m.mu.TryLock() {
		return false
	}
	if checksEnabled {
		m.owner.Store(int64(CurrentThreadID()))
	}
	return true
}

// Unlock releases the mutex. Calling it from a thread that does not hold
// the mutex is an invariant violation.
func (m *Mutex) Unlock() {
	if checksEnabled {
		cur := CurrentThreadID()
		if ThreadID(m.owner.Load()) != cur {
			fatalf("Unlock of mutex not held by thread %d", cur)
		}
		m.owner.Store(0)
	}
	m.mu.Unlock()
}
