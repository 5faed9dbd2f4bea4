//go:build unix && !linux

package loop

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/loam-lang/loam/internal/runtime/platform"
)

// pollPoller implements signalPoller with poll(2) for unix platforms
// without epoll. A self-pipe interrupts the poll thread when the armed
// set changes or the poller shuts down.
type pollPoller struct {
	rpipe, wpipe int
	cb           func(WaitID, int64, SignalSet)

	mu     sync.Mutex
	armed  map[int]pollArm
	closed bool
}

type pollArm struct {
	id      WaitID
	signals SignalSet
}

func newSignalPoller(cb func(WaitID, int64, SignalSet)) (signalPoller, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	_ = unix.SetNonblock(fds[0], true)
	_ = unix.SetNonblock(fds[1], true)
	p := &pollPoller{rpipe: fds[0], wpipe: fds[1], cb: cb, armed: make(map[int]pollArm)}
	platform.Start("signal-poller", func(any) { p.pollLoop() }, nil)
	return p, nil
}

func (p *pollPoller) arm(id WaitID, handle int, signals SignalSet) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("poller is shut down")
	}
	if _, dup := p.armed[handle]; dup {
		p.mu.Unlock()
		return errors.New("handle already has an armed wait")
	}
	p.armed[handle] = pollArm{id: id, signals: signals}
	p.mu.Unlock()
	p.kick()
	return nil
}

func (p *pollPoller) disarm(handle int) {
	p.mu.Lock()
	delete(p.armed, handle)
	p.mu.Unlock()
	p.kick()
}

func (p *pollPoller) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.kick()
}

func (p *pollPoller) kick() {
	var one [1]byte
	_, _ = unix.Write(p.wpipe, one[:])
}

func (p *pollPoller) pollLoop() {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			unix.Close(p.rpipe)
			unix.Close(p.wpipe)
			return
		}
		fds := make([]unix.PollFd, 0, len(p.armed)+1)
		fds = append(fds, unix.PollFd{Fd: int32(p.rpipe), Events: unix.POLLIN})
		for fd, a := range p.armed {
			var ev int16
			if a.signals&SignalReadable != 0 {
				ev |= unix.POLLIN
			}
			if a.signals&SignalWritable != 0 {
				ev |= unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: ev})
		}
		p.mu.Unlock()

		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			continue
		}
		for _, pf := range fds {
			if pf.Revents == 0 {
				continue
			}
			if int(pf.Fd) == p.rpipe {
				var buf [16]byte
				_, _ = unix.Read(p.rpipe, buf[:])
				continue
			}
			p.mu.Lock()
			a, ok := p.armed[int(pf.Fd)]
			delete(p.armed, int(pf.Fd))
			p.mu.Unlock()
			if ok {
				p.cb(a.id, 0, reventsToMask(pf.Revents))
			}
		}
	}
}

func reventsToMask(re int16) SignalSet {
	var s SignalSet
	if re&unix.POLLIN != 0 {
		s |= SignalReadable
	}
	if re&unix.POLLOUT != 0 {
		s |= SignalWritable
	}
	if re&unix.POLLHUP != 0 {
		s |= SignalClosed
	}
	if re&(unix.POLLERR|unix.POLLNVAL) != 0 {
		s |= SignalError
	}
	return s
}
