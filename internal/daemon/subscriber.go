package daemon

import (
	"context"
	"sync"

	"github.com/dualsense-tools/dsud/internal/session"
)

// Event is one entry in a subscriber's stream, serialized as a single JSON
// line by the gateway.
type Event struct {
	Type   string `json:"type"` // "attached", "detached", "state", "input", "firmware"
	Handle string `json:"handle"`
	State  string `json:"state,omitempty"`
	Detail string `json:"detail,omitempty"`

	Input    *session.InputSnapshot    `json:"input,omitempty"`
	Firmware *session.FirmwareProgress `json:"firmware,omitempty"`
}

// defaultInputBuffer is the per-subscriber input ring size. Input snapshots
// are droppable; a slow client just sees fewer of them.
const defaultInputBuffer = 64

// controlBuffer bounds the never-dropped queue of state and firmware events.
// A subscriber that lets this fill up is disconnected instead.
const controlBuffer = 256

// Subscriber is one client's view of the daemon's event flow. Control events
// (attach, detach, state, firmware progress) are never dropped; input
// snapshots overwrite the oldest pending one when the client lags.
type Subscriber struct {
	handle string // "" subscribes to all controllers

	ctl    chan Event
	input  chan Event
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	dropped uint64
}

func newSubscriber(handle string, inputBuffer int) *Subscriber {
	if inputBuffer <= 0 {
		inputBuffer = defaultInputBuffer
	}
	return &Subscriber{
		handle: handle,
		ctl:    make(chan Event, controlBuffer),
		input:  make(chan Event, inputBuffer),
		closed: make(chan struct{}),
	}
}

func (s *Subscriber) wants(handle string) bool {
	return s.handle == "" || s.handle == handle
}

// pushControl enqueues a must-deliver event. Returns false when the queue is
// full; the core then disconnects the subscriber.
func (s *Subscriber) pushControl(ev Event) bool {
	select {
	case <-s.closed:
		return true
	default:
	}
	select {
	case s.ctl <- ev:
		return true
	default:
		return false
	}
}

// pushInput enqueues an input snapshot, dropping the oldest pending one when
// the ring is full.
func (s *Subscriber) pushInput(ev Event) {
	select {
	case <-s.closed:
		return
	default:
	}
	for {
		select {
		case s.input <- ev:
			return
		default:
		}
		select {
		case <-s.input:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
		}
	}
}

// Dropped reports how many input snapshots were discarded so far.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Next blocks for the next event. Control events win over buffered input.
// Returns an error once the subscriber is closed or the context ends.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.ctl:
		return ev, nil
	default:
	}
	select {
	case ev := <-s.ctl:
		return ev, nil
	case ev := <-s.input:
		return ev, nil
	case <-s.closed:
		return Event{}, ErrSubscriberClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close detaches the subscriber from the fanout. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.closed) })
}
