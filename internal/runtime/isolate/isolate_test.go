package isolate

import (
	"bytes"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loam-lang/loam/internal/runtime/loop"
)

// testInterp records activations; it never blocks in Interpret.
type testInterp struct {
	acts       chan Activation
	interprets atomic.Int32
	disposed   atomic.Bool
}

func (ti *testInterp) Activate(a Activation) {
	if a.Data != nil {
		a.Data = append([]byte(nil), a.Data...)
	}
	select {
	case ti.acts <- a:
	default:
	}
}

func (ti *testInterp) Interpret()              { ti.interprets.Add(1) }
func (ti *testInterp) PrintStack(w io.Writer)  { _, _ = w.Write([]byte("<test stack>\n")) }
func (ti *testInterp) Dispose()                { ti.disposed.Store(true) }

type testHeap struct{ disposed atomic.Bool }

func (th *testHeap) Dispose() { th.disposed.Store(true) }

// testFactory hands out recording interpreters and remembers them so
// tests can observe activations of spawned isolates.
type testFactory struct {
	interps chan *testInterp
}

func newTestFactory() *testFactory {
	return &testFactory{interps: make(chan *testInterp, 16)}
}

func (f *testFactory) New(snapshot []byte, random *Random) (Heap, Interpreter, error) {
	ti := &testInterp{acts: make(chan Activation, 16)}
	select {
	case f.interps <- ti:
	default:
	}
	return &testHeap{}, ti, nil
}

func withRuntime(t *testing.T, fn func(f *testFactory)) {
	t.Helper()
	Startup()
	defer Shutdown()
	fn(newTestFactory())
}

func TestIsolate_RegistryTracksLifetime(t *testing.T) {
	withRuntime(t, func(f *testFactory) {
		if n := LiveIsolates(); n != 0 {
			t.Fatalf("fresh runtime has %d isolates", n)
		}
		a := New([]byte("snap"), 1, f)
		b := New([]byte("snap"), 2, f)
		if n := LiveIsolates(); n != 2 {
			t.Fatalf("registry holds %d isolates, want 2", n)
		}
		a.Dispose()
		if n := LiveIsolates(); n != 1 {
			t.Fatalf("registry holds %d isolates after dispose, want 1", n)
		}
		// Dispose is idempotent.
		a.Dispose()
		if n := LiveIsolates(); n != 1 {
			t.Fatalf("double dispose corrupted registry: %d", n)
		}
		b.Dispose()
		if n := LiveIsolates(); n != 0 {
			t.Fatalf("registry holds %d isolates at end", n)
		}
	})
}

func TestIsolate_SaltAndIdentity(t *testing.T) {
	withRuntime(t, func(f *testFactory) {
		a := New([]byte("snap"), 7, f)
		defer a.Dispose()
		if a.Salt() == 0 {
			t.Fatalf("salt is zero")
		}
		b := New([]byte("snap"), 8, f)
		defer b.Dispose()
		if a.Salt() == b.Salt() {
			t.Fatalf("distinct isolates share salt %d", a.Salt())
		}
	})
}

func TestIsolate_MessageDeliveryScenario(t *testing.T) {
	withRuntime(t, func(f *testFactory) {
		// Isolate A opens port p; a sender posts [1,2,3,4] to p; A's
		// loop dispatches an activation with that payload and port.
		a := New([]byte("snap"), 11, f)
		defer a.Dispose()
		interp := <-f.interps
		p := a.Loop().OpenPort()

		done := make(chan struct{})
		go func() {
			a.Loop().Run()
			close(done)
		}()

		a.Loop().PostMessage(loop.NewDataMessage(p, []byte{1, 2, 3, 4}))

		select {
		case act := <-interp.acts:
			if act.Kind != ActivationMessage {
				t.Errorf("activation kind = %v", act.Kind)
			}
			if act.Port != p {
				t.Errorf("activation port = %d, want %d", act.Port, p)
			}
			if !bytes.Equal(act.Data, []byte{1, 2, 3, 4}) {
				t.Errorf("activation payload = %v", act.Data)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("activation never arrived")
		}
		if interp.interprets.Load() == 0 {
			t.Fatalf("interpretation did not resume after activation")
		}

		a.Loop().Interrupt()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("loop did not stop")
		}
	})
}

func TestIsolate_InterruptAllReachesEveryLoop(t *testing.T) {
	withRuntime(t, func(f *testFactory) {
		const n = 3
		isos := make([]*Isolate, n)
		dones := make([]chan struct{}, n)
		for i := 0; i < n; i++ {
			isos[i] = New([]byte("snap"), uint64(100+i), f)
			isos[i].Loop().OpenPort() // keep the loop alive
			done := make(chan struct{})
			dones[i] = done
			iso := isos[i]
			go func() {
				iso.Loop().Run()
				close(done)
			}()
		}

		time.Sleep(20 * time.Millisecond)
		InterruptAll()

		for i, done := range dones {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatalf("isolate %d did not observe InterruptAll", i)
			}
			isos[i].Dispose()
		}
	})
}

func TestIsolate_SpawnDeliversInitialActivation(t *testing.T) {
	withRuntime(t, func(f *testFactory) {
		parent := New([]byte("snap"), 21, f)
		defer parent.Dispose()
		<-f.interps // parent's interpreter

		child := parent.Spawn(loop.NewDataMessage(loop.InvalidPort, []byte("hello child")))
		if child == nil {
			t.Fatalf("spawn rejected")
		}
		childInterp := <-f.interps

		select {
		case act := <-childInterp.acts:
			if string(act.Data) != "hello child" {
				t.Fatalf("child activation payload = %q", act.Data)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("child never received its initial activation")
		}
	})
}

func TestIsolate_SiblingsDivergeInIdentityAndRandomness(t *testing.T) {
	withRuntime(t, func(f *testFactory) {
		parent := New([]byte("snap"), 31, f)
		defer parent.Dispose()
		<-f.interps

		c1 := parent.Spawn(nil)
		c2 := parent.Spawn(nil)
		if c1 == nil || c2 == nil {
			t.Fatalf("spawn rejected")
		}
		// Drain the factory records so later tests are unaffected.
		<-f.interps
		<-f.interps

		if c1.Salt() == c2.Salt() {
			t.Fatalf("siblings share salt %d", c1.Salt())
		}

		// Compare the first few values of each stream; identical
		// prefixes would indicate copied state.
		same := true
		for i := 0; i < 4; i++ {
			if c1.Random().NextUint64() != c2.Random().NextUint64() {
				same = false
			}
		}
		if same {
			t.Fatalf("sibling random streams are identical")
		}
	})
}

func TestIsolate_DisposeReleasesCollaborators(t *testing.T) {
	withRuntime(t, func(f *testFactory) {
		iso := New([]byte("snap"), 41, f)
		interp := <-f.interps
		iso.Dispose()
		if !interp.disposed.Load() {
			t.Fatalf("interpreter not disposed")
		}
	})
}

func TestIsolate_PrintStackNeverPanics(t *testing.T) {
	withRuntime(t, func(f *testFactory) {
		iso := New([]byte("snap"), 51, f)
		defer iso.Dispose()
		iso.PrintStack()
	})
}
