// Package isolate implements the runtime's unit of execution: an
// isolated heap/interpreter pair driven by its own message loop,
// registered in a process-wide registry and scheduled onto a shared
// bounded thread pool. Isolates share no mutable state; all
// communication goes through ports.
package isolate

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/loam-lang/loam/internal/runtime/loop"
	"github.com/loam-lang/loam/internal/runtime/platform"
	"github.com/loam-lang/loam/internal/runtime/pool"
	"github.com/loam-lang/loam/internal/runtime/rtlog"
)

// Version is the runtime version embedders compare bundle constraints
// against.
const Version = "0.3.0"

// Config carries process-wide runtime settings.
type Config struct {
	// PoolWorkers bounds the shared thread pool. Zero selects
	// pool.DefaultWorkerCount.
	PoolWorkers int
}

// DefaultConfig is used by Startup.
var DefaultConfig = Config{PoolWorkers: 0}

// Process-wide state, guarded by registryMon after Startup.
var (
	registryMon *platform.Monitor
	registry    map[*Isolate]struct{}
	sharedPool  *pool.ThreadPool
	started     bool
)

// Startup initializes the registry and the shared thread pool with
// DefaultConfig. It must precede any isolate construction and is called
// exactly once.
func Startup() { StartupWithConfig(DefaultConfig) }

// StartupWithConfig is Startup with explicit settings.
func StartupWithConfig(cfg Config) {
	if started {
		panic("isolate: Startup called twice")
	}
	registryMon = &platform.Monitor{}
	registry = make(map[*Isolate]struct{})
	sharedPool = pool.New(cfg.PoolWorkers)
	started = true
}

// Shutdown tears down the shared pool and the registry. It must follow
// destruction of all isolates and is called exactly once.
func Shutdown() {
	if !started {
		panic("isolate: Shutdown without Startup")
	}
	sharedPool.Shutdown()
	registryMon.Enter()
	if n := len(registry); n != 0 {
		rtlog.Logger().Warn("shutdown with live isolates", zap.Int("count", n))
	}
	registry = nil
	registryMon.Exit()
	registryMon = nil
	sharedPool = nil
	started = false
}

// LiveIsolates returns the number of registered isolates.
func LiveIsolates() int {
	registryMon.Enter()
	n := len(registry)
	registryMon.Exit()
	return n
}

// InterruptAll interrupts every live isolate's loop, for coordinated
// shutdown. The per-isolate interrupt takes only the loop's own lock, so
// an interrupt handler re-entering the registry cannot deadlock here.
func InterruptAll() {
	registryMon.Enter()
	for iso := range registry {
		iso.Interrupt()
	}
	registryMon.Exit()
}

// Isolate owns a heap, an interpreter, a message loop and a random
// generator. It is constructed from opaque snapshot bytes and a seed,
// and destroyed when its loop terminates or it is interrupted and
// drained.
type Isolate struct {
	heap     Heap
	interp   Interpreter
	msgloop  loop.MessageLoop
	snapshot []byte
	salt     uint64
	random   *Random
	factory  InterpreterFactory
	disposed atomic.Bool
}

var _ loop.Dispatcher = (*Isolate)(nil)

// New constructs an isolate from snapshot bytes and a seed, allocating
// its heap, interpreter, loop and random generator, and registers it.
// Collaborator construction failure is fatal: no partially-constructed
// isolate is ever visible to the registry.
func New(snapshot []byte, seed uint64, factory InterpreterFactory) *Isolate {
	if !started {
		panic("isolate: New before Startup")
	}
	rnd := NewRandom(seed)
	heap, interp, err := factory.New(snapshot, rnd)
	if err != nil {
		rtlog.Logger().Error("isolate construction failed", zap.Error(err))
		panic("isolate: collaborator construction failed: " + err.Error())
	}
	iso := &Isolate{
		heap:     heap,
		interp:   interp,
		snapshot: snapshot,
		random:   rnd,
		factory:  factory,
	}
	for iso.salt == 0 {
		iso.salt = rnd.NextUint64()
	}
	// The loop must exist before the isolate becomes visible to
	// InterruptAll.
	iso.msgloop = loop.NewDefault(iso, rnd.NextUint64())

	registryMon.Enter()
	registry[iso] = struct{}{}
	registryMon.Exit()
	return iso
}

// Loop returns the isolate's message loop.
func (i *Isolate) Loop() loop.MessageLoop { return i.msgloop }

// Salt returns the isolate's immutable identity token.
func (i *Isolate) Salt() uint64 { return i.salt }

// Random returns the isolate's private generator.
func (i *Isolate) Random() *Random { return i.random }

// Dispose deregisters the isolate and releases loop, interpreter and
// heap, in that order: the loop may still reference the interpreter
// during teardown dispatch. Safe to call once; later calls are no-ops.
func (i *Isolate) Dispose() {
	if !i.disposed.CompareAndSwap(false, true) {
		return
	}
	registryMon.Enter()
	delete(registry, i)
	registryMon.Exit()

	i.msgloop.Shutdown()
	i.interp.Dispose()
	i.heap.Dispose()
}

// ActivateMessage decodes a delivered message into an activation, hands
// it to the interpreter and resumes interpretation. Invoked by the
// loop's dispatch; the message is still owned by the caller.
func (i *Isolate) ActivateMessage(m *loop.IsolateMessage) {
	i.activate(Activation{
		Kind: ActivationMessage,
		Port: m.Dest(),
		Data: m.Data(),
		Argv: m.Argv(),
	})
}

// ActivateWakeup injects an expired-timer activation.
func (i *Isolate) ActivateWakeup() {
	i.activate(Activation{Kind: ActivationWakeup})
}

// ActivateSignal injects an external-handle activation.
func (i *Isolate) ActivateSignal(handle int, status int64, signals loop.SignalSet, count int64) {
	i.activate(Activation{
		Kind:    ActivationSignal,
		Handle:  handle,
		Status:  status,
		Signals: signals,
		Count:   count,
	})
}

func (i *Isolate) activate(a Activation) {
	i.interp.Activate(a)
	i.Interpret()
}

// Interpret runs the interpreter until it yields. It never blocks;
// waiting happens only inside the loop's Run.
func (i *Isolate) Interpret() {
	i.interp.Interpret()
}

// Run delivers the optional initial activation and then drives the
// loop until it terminates or is interrupted.
func (i *Isolate) Run(initial *loop.IsolateMessage) {
	if initial != nil {
		i.ActivateMessage(initial)
		initial.Release()
	}
	i.msgloop.Run()
}

// Spawn creates a child isolate from the same snapshot, with identity
// and randomness derived from (never copied from) this isolate's
// stream, and submits it to the shared pool with initial as its first
// activation. Returns the child, or nil when the pool is shut down.
func (i *Isolate) Spawn(initial *loop.IsolateMessage) *Isolate {
	childSeed := i.random.NextUint64()
	child := New(i.snapshot, childSeed, i.factory)
	accepted := sharedPool.Submit(func() {
		child.Run(initial)
		child.Dispose()
	})
	if !accepted {
		if initial != nil {
			initial.Release()
		}
		child.Dispose()
		return nil
	}
	return child
}

// Interrupt signals this isolate's loop. Requires no registry lock.
func (i *Isolate) Interrupt() {
	i.msgloop.Interrupt()
}

// PrintStack writes a diagnostic dump of interpreter state to stderr.
// Best effort; a misbehaving interpreter cannot take the process down
// through it.
func (i *Isolate) PrintStack() {
	defer func() {
		if r := recover(); r != nil {
			rtlog.Logger().Warn("stack dump failed", zap.Any("reason", r))
		}
	}()
	i.interp.PrintStack(os.Stderr)
}
