package isolate

import (
	"io"

	"github.com/loam-lang/loam/internal/runtime/loop"
)

// ActivationKind discriminates the event behind an activation.
type ActivationKind int

const (
	// ActivationMessage is a delivered port message.
	ActivationMessage ActivationKind = iota
	// ActivationWakeup is an expired timer wakeup.
	ActivationWakeup
	// ActivationSignal is readiness (or deadline expiry) of an
	// external handle wait.
	ActivationSignal
)

// Activation is one decoded loop event handed to the interpreter. How
// the payload bytes become an object graph is the interpreter's
// business, not the core's.
type Activation struct {
	Kind ActivationKind

	// Message fields.
	Port loop.Port
	Data []byte
	Argv []string

	// Signal fields.
	Handle  int
	Status  int64
	Signals loop.SignalSet
	Count   int64
}

// Heap is the isolate's memory collaborator. The core only manages its
// lifetime.
type Heap interface {
	Dispose()
}

// Interpreter is the bytecode execution collaborator. Activate injects
// an event into interpreter state; Interpret runs until the interpreter
// yields control and must never block (waiting is the loop's job) and
// must tolerate being called repeatedly as activations arrive.
type Interpreter interface {
	Activate(a Activation)
	Interpret()
	PrintStack(w io.Writer)
	Dispose()
}

// InterpreterFactory constructs the heap/interpreter pair for a new
// isolate from its snapshot. The snapshot bytes are opaque to the core.
type InterpreterFactory interface {
	New(snapshot []byte, random *Random) (Heap, Interpreter, error)
}
