//go:build linux

package scanner

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is a level-triggered epoll set plus an eventfd used to
// interrupt Wait.
type epollPoller struct {
	epfd   int
	wakefd int
	buf    []unix.EpollEvent
}

// NewPoller returns the platform poller.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl wakefd: %w", err)
	}

	return &epollPoller{epfd: epfd, wakefd: wakefd}, nil
}

func epollEvents(in Interest) uint32 {
	var events uint32
	if in&Readable != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoller) ctl(op, fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(in), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

func (p *epollPoller) Add(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, in)
}

func (p *epollPoller) Modify(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, in)
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(events []PollEvent, timeout time.Duration) (int, error) {
	if cap(p.buf) < len(events) {
		p.buf = make([]unix.EpollEvent, len(events))
	}
	buf := p.buf[:len(events)]

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.epfd, buf, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}

		var ready Interest
		mask := buf[i].Events
		if mask&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			ready |= Readable
		}
		if mask&unix.EPOLLOUT != 0 {
			ready |= Writable
		}
		if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready |= Readable | Writable
		}
		events[count] = PollEvent{FD: fd, Ready: ready}
		count++
	}
	return count, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}
