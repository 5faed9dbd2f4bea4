package loop

// SignalSet is a mask of readiness conditions on an external handle. The
// handle and mask semantics are platform-defined; on unix the handle is
// a file descriptor.
type SignalSet int64

const (
	// SignalReadable indicates the handle has data to read.
	SignalReadable SignalSet = 1 << iota
	// SignalWritable indicates the handle accepts writes.
	SignalWritable
	// SignalClosed indicates the peer closed the handle.
	SignalClosed
	// SignalError indicates an error condition on the handle.
	SignalError
)

// WaitID identifies one registered signal wait on one loop.
type WaitID int64

// InvalidWaitID is returned when a wait cannot be registered.
const InvalidWaitID WaitID = 0

// Dispatcher receives the events a message loop dequeues. The owning
// isolate implements it; the loop never looks inside payloads.
type Dispatcher interface {
	ActivateMessage(m *IsolateMessage)
	ActivateWakeup()
	ActivateSignal(handle int, status int64, signals SignalSet, count int64)
}

// MessageLoop is the per-isolate event dispatcher contract. Concrete
// backends differ by platform; DefaultLoop is the portable one.
//
// PostMessage and Interrupt are safe to call from any thread while the
// owner's thread is inside Run. OpenPort and ClosePort are owner-thread
// operations unless a backend documents otherwise.
type MessageLoop interface {
	// OpenPort allocates a fresh port scoped to this loop.
	OpenPort() Port
	// ClosePort invalidates p for future delivery. Closing an unknown
	// or already-closed port is a no-op.
	ClosePort(p Port)

	// PostMessage enqueues m for dispatch to its destination port and
	// wakes the owner if idle. Posting to a closed port releases and
	// drops m silently; senders never synchronize with receiver
	// lifecycle. The loop owns m after the call.
	PostMessage(m *IsolateMessage)

	// AwaitSignal registers interest in the signal mask on handle and
	// returns immediately with a wait identifier; the notification
	// arrives later through the owner's ActivateSignal. deadline is an
	// absolute monotonic nanosecond timestamp (platform.NoDeadline for
	// none); an expired wait is delivered with an empty signal set.
	AwaitSignal(handle int, signals SignalSet, deadline int64) WaitID
	// CancelSignalWait withdraws a registered wait. A wait that fired
	// concurrently is either observed or cancelled, never both and
	// never neither.
	CancelSignalWait(id WaitID)

	// AdjustWakeup reschedules the loop's next timer wakeup, or clears
	// it when passed platform.NoDeadline.
	AdjustWakeup(nanos int64)

	// Run drives the loop until Interrupt is called or the loop has no
	// open ports, no pending waits and no pending wakeup.
	Run()
	// Interrupt makes a blocked Run return promptly. Level-triggered
	// and idempotent.
	Interrupt()

	// Shutdown releases backend resources. Called by the owning
	// isolate during teardown, after Run has returned.
	Shutdown()
}
