package loop

import (
	"go.uber.org/zap"

	"github.com/loam-lang/loam/internal/runtime/platform"
	"github.com/loam-lang/loam/internal/runtime/rtlog"
)

// signalWait is one registered external-event wait.
type signalWait struct {
	id       WaitID
	handle   int
	signals  SignalSet
	deadline int64

	// Completion state, written under the loop monitor.
	ready  bool
	status int64
	got    SignalSet
	count  int64
}

// DefaultLoop is the portable MessageLoop backend: a monitor-guarded
// FIFO message queue plus a wakeup deadline and a signal-wait table,
// with fd readiness supplied by a per-loop poller thread.
type DefaultLoop struct {
	mon        platform.Monitor
	dispatcher Dispatcher

	ports    map[Port]struct{}
	portSeed uint64

	// Intrusive FIFO of pending messages.
	head, tail *IsolateMessage

	wakeup      int64
	interrupted bool

	nextWait WaitID
	waits    map[WaitID]*signalWait
	poller   signalPoller

	// preferSignal alternates dispatch preference so neither event
	// class can starve the other.
	preferSignal bool
}

var _ MessageLoop = (*DefaultLoop)(nil)

// NewDefault builds a loop dispatching to d. seed feeds the loop's port
// identifier generator and must differ between loops.
func NewDefault(d Dispatcher, seed uint64) *DefaultLoop {
	return &DefaultLoop{
		dispatcher: d,
		ports:      make(map[Port]struct{}),
		portSeed:   seed,
		wakeup:     platform.NoDeadline,
		waits:      make(map[WaitID]*signalWait),
	}
}

// OpenPort allocates a fresh port on this loop.
func (l *DefaultLoop) OpenPort() Port {
	l.mon.Enter()
	defer l.mon.Exit()
	for {
		p := Port(splitmix64(&l.portSeed) >> 1) // 63-bit, avoids sign traps in embedders
		if p == InvalidPort {
			continue
		}
		if _, taken := l.ports[p]; taken {
			continue
		}
		l.ports[p] = struct{}{}
		return p
	}
}

// ClosePort invalidates p. Unknown ports are ignored.
func (l *DefaultLoop) ClosePort(p Port) {
	l.mon.Enter()
	delete(l.ports, p)
	// Closing the last port can complete the terminal condition.
	l.mon.Notify()
	l.mon.Exit()
}

// PostMessage enqueues m, or releases it when the destination port is
// not open. Safe to call from any thread; the monitor is held only for
// the queue append, never across dispatch.
func (l *DefaultLoop) PostMessage(m *IsolateMessage) {
	l.mon.Enter()
	if _, open := l.ports[m.dest]; !open {
		l.mon.Exit()
		m.Release()
		return
	}
	m.next = nil
	if l.tail == nil {
		l.head, l.tail = m, m
	} else {
		l.tail.next = m
		l.tail = m
	}
	l.mon.Notify()
	l.mon.Exit()
}

// AwaitSignal registers interest in signals on handle and returns a wait
// identifier immediately. The caller is never blocked.
func (l *DefaultLoop) AwaitSignal(handle int, signals SignalSet, deadline int64) WaitID {
	l.mon.Enter()
	if l.poller == nil {
		p, err := newSignalPoller(l.signalReady)
		if err != nil {
			l.mon.Exit()
			rtlog.Logger().Error("signal poller unavailable", zap.Error(err))
			return InvalidWaitID
		}
		l.poller = p
	}
	l.nextWait++
	w := &signalWait{id: l.nextWait, handle: handle, signals: signals, deadline: deadline}
	l.waits[w.id] = w
	poller := l.poller
	l.mon.Exit()

	// Arming happens outside the monitor: the poller thread reports
	// readiness through signalReady, which takes the monitor itself.
	if err := poller.arm(w.id, handle, signals); err != nil {
		l.mon.Enter()
		delete(l.waits, w.id)
		l.mon.Exit()
		rtlog.Logger().Error("signal wait registration failed",
			zap.Int("handle", handle), zap.Error(err))
		return InvalidWaitID
	}
	return w.id
}

// CancelSignalWait withdraws id. If the signal fired concurrently the
// wait stays queued for dispatch and the cancellation is a no-op, so the
// outcome is always exactly one of {observed, cancelled}.
func (l *DefaultLoop) CancelSignalWait(id WaitID) {
	l.mon.Enter()
	w, ok := l.waits[id]
	if !ok || w.ready {
		l.mon.Exit()
		return
	}
	delete(l.waits, id)
	poller := l.poller
	l.mon.Exit()
	poller.disarm(w.handle)
}

// signalReady is the poller callback: marks the wait completed and wakes
// a blocked Run. Repeat readiness before dispatch coalesces into count.
func (l *DefaultLoop) signalReady(id WaitID, status int64, signals SignalSet) {
	l.mon.Enter()
	if w, ok := l.waits[id]; ok {
		if w.ready {
			w.count++
			w.got |= signals
		} else {
			w.ready = true
			w.status = status
			w.got = signals
			w.count = 1
		}
		l.mon.Notify()
	}
	l.mon.Exit()
}

// AdjustWakeup reschedules the next timer wakeup; platform.NoDeadline
// clears it.
func (l *DefaultLoop) AdjustWakeup(nanos int64) {
	l.mon.Enter()
	l.wakeup = nanos
	l.mon.Notify()
	l.mon.Exit()
}

// Interrupt makes a blocked Run return promptly. Idempotent.
func (l *DefaultLoop) Interrupt() {
	l.mon.Enter()
	l.interrupted = true
	l.mon.NotifyAll()
	l.mon.Exit()
}

// Run drives the loop: dispatches queued messages, expired wakeups and
// completed signal waits until interrupted or terminal (no open ports,
// no pending waits, no wakeup, nothing queued).
func (l *DefaultLoop) Run() {
	l.mon.Enter()
	for {
		if l.interrupted {
			break
		}
		if l.dispatchOneLocked() {
			continue
		}
		if l.terminalLocked() {
			break
		}
		l.mon.WaitUntilNanos(l.nextDeadlineLocked())
	}
	l.mon.Exit()
}

// Shutdown releases the poller. The loop must not be running.
func (l *DefaultLoop) Shutdown() {
	l.mon.Enter()
	p := l.poller
	l.poller = nil
	for m := l.head; m != nil; {
		next := m.next
		m.Release()
		m = next
	}
	l.head, l.tail = nil, nil
	l.mon.Exit()
	if p != nil {
		p.shutdown()
	}
}

// dispatchOneLocked dequeues and dispatches at most one due event,
// reporting whether it did. The monitor is dropped across the dispatch
// call and retaken before returning.
func (l *DefaultLoop) dispatchOneLocked() bool {
	now := platform.MonotonicNanos()

	msg := l.head
	sig := l.dueSignalLocked(now)
	if msg != nil && (sig == nil || !l.preferSignal) {
		l.head = msg.next
		if l.head == nil {
			l.tail = nil
		}
		msg.next = nil
		l.preferSignal = true
		l.mon.Exit()
		l.dispatcher.ActivateMessage(msg)
		msg.Release()
		l.mon.Enter()
		return true
	}
	if sig != nil {
		delete(l.waits, sig.id)
		l.preferSignal = false
		poller := l.poller
		l.mon.Exit()
		if !sig.ready {
			// Deadline expiry: an empty signal set tells the owner
			// nothing became ready in time.
			poller.disarm(sig.handle)
			l.dispatcher.ActivateSignal(sig.handle, 0, 0, 0)
		} else {
			l.dispatcher.ActivateSignal(sig.handle, sig.status, sig.got, sig.count)
		}
		l.mon.Enter()
		return true
	}
	if l.wakeup != platform.NoDeadline && now >= l.wakeup {
		l.wakeup = platform.NoDeadline
		l.mon.Exit()
		l.dispatcher.ActivateWakeup()
		l.mon.Enter()
		return true
	}
	return false
}

// dueSignalLocked returns a completed or expired wait, or nil.
func (l *DefaultLoop) dueSignalLocked(now int64) *signalWait {
	for _, w := range l.waits {
		if w.ready || (w.deadline != platform.NoDeadline && now >= w.deadline) {
			return w
		}
	}
	return nil
}

func (l *DefaultLoop) terminalLocked() bool {
	return l.head == nil &&
		len(l.ports) == 0 &&
		len(l.waits) == 0 &&
		l.wakeup == platform.NoDeadline
}

// nextDeadlineLocked computes the earliest of the wakeup deadline and
// all wait deadlines.
func (l *DefaultLoop) nextDeadlineLocked() int64 {
	next := l.wakeup
	for _, w := range l.waits {
		if w.deadline != platform.NoDeadline && w.deadline < next {
			next = w.deadline
		}
	}
	return next
}

// splitmix64 advances state and returns the next value of the sequence.
func splitmix64(state *uint64) uint64 {
	*state += 0x9e3779b97f4a7c15
	z := *state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
