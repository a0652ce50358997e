//go:build linux

package scanner

import (
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// timerFD is a single-shot monotonic timerfd.
type timerFD struct {
	tfd int
}

func newTimer() (timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &timerFD{tfd: fd}, nil
}

func (t *timerFD) fd() int {
	return t.tfd
}

// arm schedules one tick after d. Setting the timer replaces any previous
// schedule and discards expirations that were not yet read.
func (t *timerFD) arm(d time.Duration) error {
	if d <= 0 {
		// A zero it_value would disarm instead.
		d = time.Nanosecond
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	return unix.TimerfdSettime(t.tfd, 0, &spec, nil)
}

func (t *timerFD) disarm() error {
	if t.tfd < 0 {
		return nil
	}
	var spec unix.ItimerSpec
	return unix.TimerfdSettime(t.tfd, 0, &spec, nil)
}

func (t *timerFD) expired() (bool, error) {
	var buf [8]byte
	n, err := unix.Read(t.tfd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	return n == len(buf) && binary.NativeEndian.Uint64(buf[:]) > 0, nil
}

func (t *timerFD) close() error {
	if t.tfd < 0 {
		return nil
	}
	err := unix.Close(t.tfd)
	t.tfd = -1
	return err
}
