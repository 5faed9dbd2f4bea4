package platform

import "runtime"

// EntryFunc is a thread entry point. It receives the opaque argument
// passed to Start.
type EntryFunc func(arg any)

// Thread is an OS-backed unit of execution. Each thread runs on its own
// locked OS thread and carries an ExecutionContext installed before the
// entry function is invoked.
type Thread struct {
	name string
	done chan struct{}
}

// Start spawns a new thread running entry(arg) and returns immediately.
// The trampoline installs the thread's execution context first, so entry
// (and everything it calls) can rely on Current() being non-nil. Pending
// thread-local destructors run after entry returns.
func Start(name string, entry EntryFunc, arg any) *Thread {
	if entry == nil {
		fatalf("thread %q started with nil entry", name)
	}
	t := &Thread{name: name, done: make(chan struct{})}
	go t.trampoline(entry, arg)
	return t
}

func (t *Thread) trampoline(entry EntryFunc, arg any) {
	runtime.LockOSThread()
	ctx := &ExecutionContext{
		id:     CurrentThreadID(),
		name:   t.name,
		locals: make(map[Key]any),
	}
	contexts.Store(ctx.id, ctx)
	defer func() {
		runLocalDestructors(ctx)
		contexts.Delete(ctx.id)
		runtime.UnlockOSThread()
		close(t.done)
	}()
	entry(arg)
}

// Name returns the name the thread was created with.
func (t *Thread) Name() string { return t.name }

// Join blocks until the thread's entry function has returned and its
// thread-local destructors have run.
func (t *Thread) Join() { <-t.done }
