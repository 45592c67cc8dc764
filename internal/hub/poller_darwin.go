//go:build darwin

package hub

import (
	"fmt"

	"github.com/kalamay/crux/clock"
	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin Poller backend: EV_ADD|EV_ONESHOT per
// registration, EVFILT_SIGNAL for signals, and a self-pipe (rather
// than an eventfd, which Darwin lacks) for the Wake kind.
type kqueuePoller struct {
	kq        int
	wakeRead  int
	wakeWrite int
	interest  map[int64]*hubEntry

	batch    []unix.Kevent_t
	batchLen int
	batchPos int

	now clock.Time
}

func newPlatformPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("hub: kqueue: %w", err)
	}
	p := &kqueuePoller{
		kq:       kq,
		interest: make(map[int64]*hubEntry),
		batch:    make([]unix.Kevent_t, 64),
	}

	fds, err := pipe2CloExec()
	if err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("hub: wake pipe: %w", err)
	}
	p.wakeRead, p.wakeWrite = fds[0], fds[1]
	if err := unix.SetNonblock(p.wakeRead, true); err != nil {
		p.Close()
		return nil, err
	}

	kev := unix.Kevent_t{
		Ident:  uint64(p.wakeRead),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		p.Close()
		return nil, fmt.Errorf("hub: kevent add wake: %w", err)
	}
	return p, nil
}

func pipe2CloExec() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return fds, err
	}
	return fds, nil
}

func filterOf(kind Kind) int16 {
	switch kind {
	case Out:
		return unix.EVFILT_WRITE
	case Signal:
		return unix.EVFILT_SIGNAL
	default:
		return unix.EVFILT_READ
	}
}

func interestKeyK(kind Kind, id int32) int64 {
	return int64(kind)<<32 | int64(uint32(id))
}

func (p *kqueuePoller) Add(kind Kind, id int32, tag *hubEntry) error {
	if kind == Wake {
		return nil
	}
	if kind == Signal {
		unix.Signal(unix.Signal(id), nil) // document intent; actual masking happens via kqueue itself
	}
	p.interest[interestKeyK(kind, id)] = tag
	kev := unix.Kevent_t{
		Ident:  uint64(id),
		Filter: filterOf(kind),
		Flags:  unix.EV_ADD | unix.EV_ONESHOT,
	}
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		return fmt.Errorf("hub: kevent add: %w", err)
	}
	return nil
}

func (p *kqueuePoller) Del(kind Kind, id int32) error {
	key := interestKeyK(kind, id)
	delete(p.interest, key)
	for i := p.batchPos; i < p.batchLen; i++ {
		if int32(p.batch[i].Ident) == id && p.batch[i].Filter == filterOf(kind) {
			p.batch[i].Filter = 0 // nulled: readDeliver skips filter==0
		}
	}
	if kind == Wake {
		return nil
	}
	kev := unix.Kevent_t{
		Ident:  uint64(id),
		Filter: filterOf(kind),
		Flags:  unix.EV_DELETE,
	}
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("hub: kevent del: %w", err)
	}
	return nil
}

func (p *kqueuePoller) Wait(deadlineMs int64) (*Event, error) {
	if p.batchPos >= p.batchLen {
		var ts *unix.Timespec
		if deadlineMs >= 0 {
			t := unix.NsecToTimespec(deadlineMs * int64(1e6))
			ts = &t
		}
		n, err := unix.Kevent(p.kq, nil, p.batch, ts)
		p.now = clock.Monotonic().Now()
		if err != nil {
			if err == unix.EINTR {
				return nil, nil
			}
			return nil, fmt.Errorf("hub: kevent wait: %w", err)
		}
		p.batchLen = n
		p.batchPos = 0
		if n == 0 {
			return nil, nil
		}
	}

	for p.batchPos < p.batchLen {
		raw := p.batch[p.batchPos]
		p.batchPos++
		if raw.Filter == 0 {
			continue
		}
		if int(raw.Ident) == p.wakeRead {
			var buf [512]byte
			unix.Read(p.wakeRead, buf[:])
			return &Event{Kind: Wake}, nil
		}
		kind := In
		switch raw.Filter {
		case unix.EVFILT_WRITE:
			kind = Out
		case unix.EVFILT_SIGNAL:
			kind = Signal
		}
		tag := p.interest[interestKeyK(kind, int32(raw.Ident))]
		ev := &Event{Kind: kind, ID: int32(raw.Ident), Tag: tag}
		if raw.Flags&unix.EV_ERROR != 0 {
			ev.Err = true
		}
		if raw.Flags&unix.EV_EOF != 0 {
			ev.EOF = true
		}
		return ev, nil
	}
	return nil, nil
}

func (p *kqueuePoller) Now() clock.Time { return p.now }

func (p *kqueuePoller) Close() error {
	unix.Close(p.wakeRead)
	unix.Close(p.wakeWrite)
	return unix.Close(p.kq)
}

// Wake writes to the self-pipe so a blocked Wait returns immediately,
// used by any caller outside the current task wanting to interrupt
// the poll.
func (p *kqueuePoller) Wake() error {
	var b [1]byte
	_, err := unix.Write(p.wakeWrite, b[:])
	return err
}
