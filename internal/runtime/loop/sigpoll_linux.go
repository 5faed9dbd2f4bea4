//go:build linux

package loop

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/loam-lang/loam/internal/runtime/platform"
)

// epollPoller implements signalPoller using epoll(7). Waits are armed
// one-shot; readiness deregisters the descriptor. An eventfd wakes the
// poll thread for shutdown.
type epollPoller struct {
	epfd   int
	wakefd int
	cb     func(WaitID, int64, SignalSet)

	mu     sync.Mutex
	armed  map[int]WaitID
	closed bool
}

func newSignalPoller(cb func(WaitID, int64, SignalSet)) (signalPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	p := &epollPoller{epfd: epfd, wakefd: wakefd, cb: cb, armed: make(map[int]WaitID)}
	platform.Start("signal-poller", func(any) { p.pollLoop() }, nil)
	return p, nil
}

func (p *epollPoller) arm(id WaitID, handle int, signals SignalSet) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("poller is shut down")
	}
	if _, dup := p.armed[handle]; dup {
		p.mu.Unlock()
		return errors.New("handle already has an armed wait")
	}
	p.armed[handle] = id
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: maskToEpoll(signals) | unix.EPOLLONESHOT, Fd: int32(handle)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, handle, &ev); err != nil {
		p.mu.Lock()
		delete(p.armed, handle)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) disarm(handle int) {
	p.mu.Lock()
	delete(p.armed, handle)
	p.mu.Unlock()
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, handle, nil)
}

func (p *epollPoller) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(p.wakefd, one[:])
}

func (p *epollPoller) pollLoop() {
	events := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == p.wakefd {
				p.mu.Lock()
				closed := p.closed
				p.mu.Unlock()
				if closed {
					unix.Close(p.wakefd)
					unix.Close(p.epfd)
					return
				}
				var buf [8]byte
				_, _ = unix.Read(p.wakefd, buf[:])
				continue
			}
			p.mu.Lock()
			id, ok := p.armed[fd]
			delete(p.armed, fd)
			p.mu.Unlock()
			_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
			if ok {
				p.cb(id, 0, epollToMask(ev.Events))
			}
		}
	}
}

func maskToEpoll(signals SignalSet) uint32 {
	var ev uint32
	if signals&SignalReadable != 0 {
		ev |= unix.EPOLLIN
	}
	if signals&SignalWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	if signals&SignalClosed != 0 {
		ev |= unix.EPOLLRDHUP
	}
	// EPOLLERR and EPOLLHUP are always reported.
	return ev
}

func epollToMask(events uint32) SignalSet {
	var s SignalSet
	if events&unix.EPOLLIN != 0 {
		s |= SignalReadable
	}
	if events&unix.EPOLLOUT != 0 {
		s |= SignalWritable
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		s |= SignalClosed
	}
	if events&unix.EPOLLERR != 0 {
		s |= SignalError
	}
	return s
}
