package platform

import (
	"testing"
	"time"
)

// expectViolation runs fn and fails the test unless fn panics with an
// InvariantViolation.
func expectViolation(t *testing.T, fn func()) {
	t.Helper()
	if !checksEnabled {
		t.Skip("ownership checks compiled out")
	}
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected invariant violation, got none")
		} else if _, ok := r.(*InvariantViolation); !ok {
			panic(r)
		}
	}()
	fn()
}

func TestMutex_LockUnlock(t *testing.T) {
	var m Mutex
	m.Lock()
	m.Unlock()
	m.Lock()
	m.Unlock()
}

func TestMutex_DoubleLockDetected(t *testing.T) {
	var m Mutex
	m.Lock()
	defer m.Unlock()
	expectViolation(t, m.Lock)
}

func TestMutex_UnlockByNonOwnerDetected(t *testing.T) {
	if !checksEnabled {
		t.Skip("ownership checks compiled out")
	}
	var m Mutex
	m.Lock()
	defer m.Unlock()

	got := make(chan any, 1)
	th := Start("unlocker", func(any) {
		defer func() { got <- recover() }()
		m.Unlock()
	}, nil)
	th.Join()

	r := <-got
	if _, ok := r.(*InvariantViolation); !ok {
		t.Fatalf("expected invariant violation from foreign unlock, got %v", r)
	}
}

func TestMutex_TryLockContention(t *testing.T) {
	var m Mutex
	m.Lock()

	res := make(chan bool, 1)
	start := time.Now()
	th := Start("trylock", func(any) { res <- m.TryLock() }, nil)
	th.Join()

	if <-res {
		t.Fatalf("TryLock succeeded while mutex was held elsewhere")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("TryLock appears to have blocked: %v", elapsed)
	}
	m.Unlock()

	if !m.TryLock() {
		t.Fatalf("TryLock failed on a free mutex")
	}
	m.Unlock()
}

func TestMutex_HandoffBetweenThreads(t *testing.T) {
	var m Mutex
	const rounds = 200
	counter := 0

	done := make(chan struct{}, 2)
	worker := func(any) {
		for i := 0; i < rounds; i++ {
			m.Lock()
			counter++
			m.Unlock()
		}
		done <- struct{}{}
	}
	Start("w0", worker, nil)
	Start("w1", worker, nil)
	<-done
	<-done

	m.Lock()
	if counter != 2*rounds {
		t.Fatalf("counter = %d, want %d", counter, 2*rounds)
	}
	m.Unlock()
}
