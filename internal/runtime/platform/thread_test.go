package platform

import (
	"testing"
	"time"
)

func TestThread_ContextInstalledBeforeEntry(t *testing.T) {
	got := make(chan *ExecutionContext, 1)
	th := Start("probe", func(any) { got <- Current() }, nil)
	th.Join()

	ctx := <-got
	if ctx == nil {
		t.Fatalf("entry function observed nil execution context")
	}
	if ctx.Name() != "probe" {
		t.Fatalf("context name = %q, want %q", ctx.Name(), "probe")
	}
	if ctx.ID() == 0 {
		t.Fatalf("context has zero thread id")
	}
}

func TestThread_ArgumentPassing(t *testing.T) {
	got := make(chan any, 1)
	Start("arg", func(arg any) { got <- arg }, 42).Join()
	if v := <-got; v != 42 {
		t.Fatalf("entry arg = %v, want 42", v)
	}
}

func TestThreadLocal_SetGet(t *testing.T) {
	k := NewKey(nil)
	defer DeleteKey(k)

	vals := make(chan any, 2)
	Start("tls", func(any) {
		vals <- Get(k)
		Set(k, "value")
		vals <- Get(k)
	}, nil).Join()

	if v := <-vals; v != nil {
		t.Fatalf("unset key returned %v", v)
	}
	if v := <-vals; v != "value" {
		t.Fatalf("key returned %v, want \"value\"", v)
	}
}

func TestThreadLocal_IsolationBetweenThreads(t *testing.T) {
	k := NewKey(nil)
	defer DeleteKey(k)

	other := make(chan any, 1)
	first := Start("setter", func(any) {
		Set(k, "mine")
	}, nil)
	first.Join()
	Start("reader", func(any) { other <- Get(k) }, nil).Join()

	if v := <-other; v != nil {
		t.Fatalf("value leaked across threads: %v", v)
	}
}

func TestThreadLocal_DestructorRunsOnExit(t *testing.T) {
	destroyed := make(chan any, 1)
	k := NewKey(func(v any) { destroyed <- v })
	defer DeleteKey(k)

	Start("dtor", func(any) { Set(k, "payload") }, nil)

	select {
	case v := <-destroyed:
		if v != "payload" {
			t.Fatalf("destructor saw %v, want \"payload\"", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("destructor did not run on thread exit")
	}
}
