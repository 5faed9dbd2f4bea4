// Package loop implements the per-isolate message loop: port allocation,
// cross-thread message posting, timer wakeups and external signal waits.
// The loop dispatches events to its owner and never interprets payloads
// itself.
package loop

import "sync/atomic"

// Port is an opaque numeric capability addressing one open port on one
// message loop. Senders obtain port values out of band, typically from a
// prior message payload. The zero value is never a valid port.
type Port uint64

// InvalidPort is returned when a port cannot be allocated.
const InvalidPort Port = 0

var liveMessages atomic.Int64

// LiveMessages returns the number of constructed-and-not-yet-released
// messages in the process. Tests use it to verify that dropped and
// dispatched messages are released exactly once.
func LiveMessages() int64 { return liveMessages.Load() }

// IsolateMessage is the envelope moved between a sender and a message
// loop. It carries exactly one of two payload shapes: an owned byte
// buffer for inter-isolate data, or a borrowed argument list for the
// bootstrap activation of a process entry isolate. Messages transfer by
// pointer and are never copied, so buffer ownership is never duplicated.
type IsolateMessage struct {
	_    [0]func() // not copyable
	next *IsolateMessage

	dest    Port
	payload payload
}

// payload is the two-arm union behind a message. Exactly one arm is set.
type payload struct {
	data []byte   // owned by the message
	argv []string // borrowed, caller-managed
	// released guards against double release of the owned arm.
	released atomic.Bool
}

// NewDataMessage builds a message owning data. The buffer must not be
// used by the sender after the call.
func NewDataMessage(dest Port, data []byte) *IsolateMessage {
	liveMessages.Add(1)
	return &IsolateMessage{dest: dest, payload: payload{data: data}}
}

// NewArgvMessage builds a bootstrap message borrowing argv. The argument
// list's lifetime is managed by the caller, not the message.
func NewArgvMessage(dest Port, argv []string) *IsolateMessage {
	liveMessages.Add(1)
	return &IsolateMessage{dest: dest, payload: payload{argv: argv}}
}

// Dest returns the destination port.
func (m *IsolateMessage) Dest() Port { return m.dest }

// Data returns the owned byte payload, nil for argv-shaped messages.
func (m *IsolateMessage) Data() []byte { return m.payload.data }

// Argv returns the borrowed argument list, nil for data-shaped messages.
func (m *IsolateMessage) Argv() []string { return m.payload.argv }

// Release frees the owned payload. It is called exactly once, by
// whichever loop (or failed post) last held the message; the argument
// list arm is never touched. A second Release is a defect and panics.
func (m *IsolateMessage) Release() {
	if !m.payload.released.CompareAndSwap(false, true) {
		panic("loop: IsolateMessage released twice")
	}
	m.payload.data = nil
	liveMessages.Add(-1)
}
