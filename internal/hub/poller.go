package hub

import "github.com/kalamay/crux/clock"

// Kind is the direction or purpose of a poller registration.
type Kind int

const (
	In Kind = iota
	Out
	Signal
	Wake
)

func (k Kind) String() string {
	switch k {
	case In:
		return "in"
	case Out:
		return "out"
	case Signal:
		return "signal"
	case Wake:
		return "wake"
	default:
		return "invalid"
	}
}

// Event is one readiness notification, carrying back whatever tag was
// registered with Add so the hub can find the waiting hubEntry without
// a second lookup.
type Event struct {
	Kind Kind
	ID   int32
	Tag  *hubEntry
	Err  bool
	EOF  bool
}

// Poller is the uniform interface over the OS event multiplexer
// (kqueue or epoll), a signal source, and a self-wake primitive.
// Implementations maintain a batch of kernel-delivered events
// internally and serve one per Wait call, refilling only when the
// batch drains.
type Poller interface {
	// Add registers interest in (kind, id), tagging any delivered event
	// with tag.
	Add(kind Kind, id int32, tag *hubEntry) error
	// Del cancels a registration. Deregistration is synchronous: an
	// event for (kind, id) already sitting in the undrained batch is
	// nulled so it can never be returned by a later Wait.
	Del(kind Kind, id int32) error
	// Wait blocks for at most deadlineMs (negative means forever, zero
	// means a non-blocking probe) and returns the next event, or nil if
	// the deadline elapsed with nothing ready.
	Wait(deadlineMs int64) (*Event, error)
	// Now returns the monotonic clock reading sampled at the poller's
	// last Wait return.
	Now() clock.Time
	// Wake interrupts a concurrent or subsequent Wait call, delivering
	// a Wake-kind Event. Safe to call from outside the hub's own
	// thread, unlike every other Poller method.
	Wake() error
	// Close releases the poller's kernel resources.
	Close() error
}

// New constructs the platform-appropriate Poller: epoll+signalfd on
// Linux, kqueue on Darwin.
func New() (Poller, error) {
	return newPlatformPoller()
}
