//go:build linux

package hub

import (
	"fmt"
	"unsafe"

	"github.com/kalamay/crux/clock"
	"golang.org/x/sys/unix"
)

// epollPoller is the Linux Poller backend, grounded on a platform
// split pattern common in this lineage (a real syscall-driven
// implementation behind a build tag, a stub elsewhere) — here the
// same split applies to epoll vs kqueue. EPOLLONESHOT is used on
// every registration, re-armed explicitly by the hub's
// blocking-primitive retry loop rather than left level-triggered.
type epollPoller struct {
	epfd     int
	sigFd    int // signalfd, -1 until the first Signal registration
	wakeFd   int // eventfd, always armed
	sigMask  unix.Sigset_t
	interest map[int64]*hubEntry // (kind<<32 | id) -> tag, for del-time batch nulling

	batch    []unix.EpollEvent
	batchLen int
	batchPos int

	now clock.Time
}

func newPlatformPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("hub: epoll_create1: %w", err)
	}
	p := &epollPoller{
		epfd:     epfd,
		sigFd:    -1,
		interest: make(map[int64]*hubEntry),
		batch:    make([]unix.EpollEvent, 64),
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("hub: eventfd: %w", err)
	}
	p.wakeFd = wakeFd
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("hub: epoll_ctl add wake: %w", err)
	}
	return p, nil
}

func interestKey(kind Kind, id int32) int64 {
	return int64(kind)<<32 | int64(uint32(id))
}

func (p *epollPoller) eventsFor(kind Kind) uint32 {
	switch kind {
	case In:
		return unix.EPOLLIN | unix.EPOLLONESHOT
	case Out:
		return unix.EPOLLOUT | unix.EPOLLONESHOT
	default:
		return unix.EPOLLONESHOT
	}
}

func (p *epollPoller) Add(kind Kind, id int32, tag *hubEntry) error {
	if kind == Wake {
		return nil // the eventfd registration is permanent, installed at construction
	}
	if kind == Signal {
		return p.addSignal(id, tag)
	}

	p.interest[interestKey(kind, id)] = tag
	ev := &unix.EpollEvent{Events: p.eventsFor(kind), Fd: id}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(id), ev); err != nil {
		if err == unix.EEXIST {
			return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, int(id), ev)
		}
		return fmt.Errorf("hub: epoll_ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) addSignal(sig int32, tag *hubEntry) error {
	unix.SigaddSet(&p.sigMask, int(sig))
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, maskOf(sig), nil); err != nil {
		return fmt.Errorf("hub: pthread_sigmask: %w", err)
	}

	fd, err := unix.Signalfd(p.sigFd, &p.sigMask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		unix.SigdelSet(&p.sigMask, int(sig))
		return fmt.Errorf("hub: signalfd: %w", err)
	}
	if p.sigFd < 0 {
		p.sigFd = fd
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}); err != nil {
			return fmt.Errorf("hub: epoll_ctl add signalfd: %w", err)
		}
	}
	p.interest[interestKey(Signal, sig)] = tag
	return nil
}

func (p *epollPoller) Del(kind Kind, id int32) error {
	key := interestKey(kind, id)
	delete(p.interest, key)
	// cancellation is synchronous: null any copy of this registration's
	// event already dequeued into the batch but not yet served.
	for i := p.batchPos; i < p.batchLen; i++ {
		if int32(p.batch[i].Fd) == id {
			p.batch[i].Events = 0
		}
	}

	switch kind {
	case Signal:
		unix.SigdelSet(&p.sigMask, int(id))
		// update the interest-set bookkeeping first, the kernel mask
		// second, rolling the bookkeeping back on failure: the two are
		// treated as one critical section, safe without a lock because
		// only the hub's own thread ever calls Del.
		if p.sigFd >= 0 {
			if _, err := unix.Signalfd(p.sigFd, &p.sigMask, 0); err != nil {
				unix.SigaddSet(&p.sigMask, int(id))
				return fmt.Errorf("hub: signalfd update: %w", err)
			}
		}
		if err := unix.PthreadSigmask(unix.SIG_UNBLOCK, maskOf(id), nil); err != nil {
			unix.SigaddSet(&p.sigMask, int(id))
			return fmt.Errorf("hub: pthread_sigmask: %w", err)
		}
		return nil
	case Wake:
		return nil
	default:
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(id), nil); err != nil && err != unix.ENOENT {
			return fmt.Errorf("hub: epoll_ctl del: %w", err)
		}
		return nil
	}
}

func (p *epollPoller) Wait(deadlineMs int64) (*Event, error) {
	if p.batchPos >= p.batchLen {
		timeout := -1
		if deadlineMs >= 0 {
			timeout = int(deadlineMs)
		}
		n, err := unix.EpollWait(p.epfd, p.batch, timeout)
		p.now = clock.Monotonic().Now()
		if err != nil {
			if err == unix.EINTR {
				return nil, nil
			}
			return nil, fmt.Errorf("hub: epoll_wait: %w", err)
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
		if raw.Events == 0 {
			continue // nulled by a synchronous Del
		}
		fd := raw.Fd
		if fd == int32(p.wakeFd) {
			var buf [8]byte
			unix.Read(p.wakeFd, buf[:])
			return &Event{Kind: Wake}, nil
		}
		if fd == int32(p.sigFd) {
			return p.readSignal()
		}
		return p.deliver(fd, raw.Events), nil
	}
	return nil, nil
}

func (p *epollPoller) deliver(fd int32, events uint32) *Event {
	kind := In
	if events&unix.EPOLLOUT != 0 {
		kind = Out
	}
	tag := p.interest[interestKey(kind, fd)]
	ev := &Event{Kind: kind, ID: fd, Tag: tag}
	if events&(unix.EPOLLERR) != 0 {
		ev.Err = true
	}
	if events&unix.EPOLLHUP != 0 {
		ev.EOF = true
	}
	return ev
}

func (p *epollPoller) readSignal() (*Event, error) {
	var info unix.SignalfdSiginfo
	n, err := unix.Read(p.sigFd, (*[unsafe.Sizeof(unix.SignalfdSiginfo{})]byte)(unsafe.Pointer(&info))[:])
	if err != nil || n < int(unsafe.Sizeof(info)) {
		return nil, nil
	}
	sig := int32(info.Signo)
	tag := p.interest[interestKey(Signal, sig)]
	return &Event{Kind: Signal, ID: sig, Tag: tag}, nil
}

func (p *epollPoller) Now() clock.Time { return p.now }

// Wake writes to the eventfd so a blocked Wait returns immediately,
// used by any caller outside the current task wanting to interrupt
// the poll.
func (p *epollPoller) Wake() error {
	var v uint64 = 1
	_, err := unix.Write(p.wakeFd, (*[8]byte)(unsafe.Pointer(&v))[:])
	return err
}

func (p *epollPoller) Close() error {
	if p.sigFd >= 0 {
		unix.Close(p.sigFd)
	}
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}

func maskOf(sig int32) *unix.Sigset_t {
	var s unix.Sigset_t
	unix.SigaddSet(&s, int(sig))
	return &s
}
