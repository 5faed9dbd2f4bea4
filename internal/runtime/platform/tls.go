package platform

import (
	"sync"
	"sync/atomic"
)

// Key addresses one thread-local slot. Keys are process-wide; values are
// per-thread.
type Key uint64

// KeyDestructor is invoked on thread exit for every key whose value on
// the exiting thread is non-nil.
type KeyDestructor func(value any)

var (
	nextKey     atomic.Uint64
	destructors sync.Map // Key -> KeyDestructor
)

// NewKey allocates a fresh thread-local key. destructor may be nil.
func NewKey(destructor KeyDestructor) Key {
	k := Key(nextKey.Add(1))
	if destructor != nil {
		destructors.Store(k, destructor)
	}
	return k
}

// DeleteKey retires a key. Values stored under it are no longer reachable
// and its destructor will not run for threads exiting afterwards.
func DeleteKey(k Key) {
	destructors.Delete(k)
}

// Get returns the calling thread's value for k, or nil when unset. The
// caller must be on a thread started through this package.
func Get(k Key) any {
	return mustContext("Get").locals[k]
}

// Set stores the calling thread's value for k. Setting nil clears the
// slot and suppresses the destructor for it.
func Set(k Key, value any) {
	ctx := mustContext("Set")
	if value == nil {
		delete(ctx.locals, k)
		return
	}
	ctx.locals[k] = value
}

func mustContext(op string) *ExecutionContext {
	ctx := Current()
	if ctx == nil {
		fatalf("thread-local %s outside a platform thread", op)
	}
	return ctx
}

func runLocalDestructors(ctx *ExecutionContext) {
	for k, v := range ctx.locals {
		if v == nil {
			continue
		}
		if d, ok := destructors.Load(k); ok {
			d.(KeyDestructor)(v)
		}
	}
	ctx.locals = nil
}
