package platform

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// ThreadID identifies a unit of execution for ownership tracking. It is
// derived from the scheduler's goroutine identity, so it is valid for any
// caller, not only threads started through this package.
type ThreadID int64

// ExecutionContext is the per-thread state installed by the Start
// trampoline before the thread's entry function runs. Code executing on a
// spawned thread can always retrieve it via Current.
type ExecutionContext struct {
	id     ThreadID
	name   string
	locals map[Key]any
}

// ID returns the context's thread identity.
func (c *ExecutionContext) ID() ThreadID { return c.id }

// Name returns the name the thread was started with.
func (c *ExecutionContext) Name() string { return c.name }

var contexts sync.Map // ThreadID -> *ExecutionContext

// CurrentThreadID returns the identity of the calling execution unit.
func CurrentThreadID() ThreadID {
	return ThreadID(curGoroutineID())
}

// Current returns the calling thread's execution context, or nil when the
// caller is not running on a thread started through this package.
func Current() *ExecutionContext {
	if v, ok := contexts.Load(CurrentThreadID()); ok {
		return v.(*ExecutionContext)
	}
	return nil
}

var stackPrefix = []byte("goroutine ")

// curGoroutineID extracts the goroutine id from the stack header. The
// header format ("goroutine N [state]:") is stable across Go releases.
func curGoroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, stackPrefix)
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		fatalf("malformed stack header %q", buf)
	}
	id, err := strconv.ParseInt(string(buf[:i]), 10, 64)
	if err != nil {
		fatalOS("parse goroutine id", err)
	}
	return id
}
