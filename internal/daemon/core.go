// Package daemon owns the controller registry: one session per attached
// controller, reconciled against discovery snapshots, with event fanout to
// subscribed clients.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/dualsense-tools/dsud/internal/hid"
	"github.com/dualsense-tools/dsud/internal/log"
	"github.com/dualsense-tools/dsud/internal/session"
)

var (
	ErrUnknownHandle    = errors.New("daemon: unknown controller handle")
	ErrSubscriberClosed = errors.New("daemon: subscriber closed")
	ErrStopped          = errors.New("daemon: core stopped")
)

// ControllerInfo is the registry view of one controller, as listed to
// clients.
type ControllerInfo struct {
	Handle    string `json:"handle"`
	Bus       string `json:"bus"`
	ProductID uint16 `json:"productId"`
	State     string `json:"state"`
}

// Core reconciles discovery snapshots into sessions and fans session events
// out to subscribers.
type Core struct {
	cfg     session.Config
	open    hid.Opener
	watcher hid.Watcher
	logger  *slog.Logger
	raw     log.RawLogger

	mu       sync.RWMutex
	sessions map[string]*session.Session
	subs     map[*Subscriber]struct{}
	stopped  bool
}

// New creates a core. open and watcher are injectable for tests.
func New(cfg session.Config, open hid.Opener, watcher hid.Watcher, logger *slog.Logger, raw log.RawLogger) *Core {
	return &Core{
		cfg:      cfg,
		open:     open,
		watcher:  watcher,
		logger:   logger,
		raw:      raw,
		sessions: make(map[string]*session.Session),
		subs:     make(map[*Subscriber]struct{}),
	}
}

// Run reconciles discovery snapshots until ctx ends, then stops every
// session. Blocks for the whole daemon lifetime.
func (c *Core) Run(ctx context.Context) error {
	if addrs, err := c.watcher.Enumerate(); err == nil {
		c.Reconcile(addrs)
	} else {
		c.logger.Warn("initial enumeration failed", "error", err)
	}

	for snapshot := range c.watcher.Watch(ctx) {
		c.Reconcile(snapshot)
	}

	c.Stop()
	return ctx.Err()
}

// Reconcile brings the session registry in line with one discovery snapshot:
// new controllers get sessions, unplugged ones are stopped and removed.
func (c *Core) Reconcile(addrs []hid.DeviceAddress) {
	seen := make(map[string]hid.DeviceAddress, len(addrs))
	for _, addr := range addrs {
		if addr.Serial == "" {
			continue
		}
		// Handles are lowercase so they match the gateway's lowercased
		// request paths.
		addr.Serial = strings.ToLower(addr.Serial)
		seen[addr.Serial] = addr
	}

	var added []*session.Session
	var removed []*session.Session

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	for serial, addr := range seen {
		if _, ok := c.sessions[serial]; ok {
			continue
		}
		s := session.New(addr, c.open, c.cfg, c, c.logger, c.raw)
		c.sessions[serial] = s
		added = append(added, s)
	}
	for serial, s := range c.sessions {
		if _, ok := seen[serial]; !ok {
			delete(c.sessions, serial)
			removed = append(removed, s)
		}
	}
	c.mu.Unlock()

	for _, s := range added {
		c.logger.Info("controller attached", "controller", s.Handle(), "bus", s.Address().Bus.String())
		s.Start()
		c.publish(Event{Type: "attached", Handle: s.Handle()})
	}
	for _, s := range removed {
		c.logger.Info("controller detached", "controller", s.Handle())
		s.Stop()
		c.publish(Event{Type: "detached", Handle: s.Handle()})
	}
}

// Lookup resolves a handle to its session. Handles are case insensitive.
func (c *Core) Lookup(handle string) (*session.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[strings.ToLower(handle)]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return s, nil
}

// List returns the current registry contents.
func (c *Core) List() []ControllerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ControllerInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, ControllerInfo{
			Handle:    s.Handle(),
			Bus:       s.Address().Bus.String(),
			ProductID: s.Address().ProductID,
			State:     s.State().String(),
		})
	}
	return out
}

// Subscribe attaches a new event subscriber. handle narrows the stream to one
// controller; empty subscribes to all. inputBuffer <= 0 uses the default.
func (c *Core) Subscribe(handle string, inputBuffer int) (*Subscriber, error) {
	sub := newSubscriber(handle, inputBuffer)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, ErrStopped
	}
	c.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe detaches and closes a subscriber.
func (c *Core) Unsubscribe(sub *Subscriber) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
	sub.Close()
}

// Stop shuts every session down and closes all subscribers. Sessions with a
// firmware job in flight finish the job first.
func (c *Core) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	sessions := make([]*session.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*session.Session)
	subs := make([]*Subscriber, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[*Subscriber]struct{})
	c.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	for _, sub := range subs {
		sub.Close()
	}
}

// publish fans one control event out. Subscribers that cannot drain their
// control queue are disconnected rather than blocked on.
func (c *Core) publish(ev Event) {
	var overrun []*Subscriber

	c.mu.RLock()
	for sub := range c.subs {
		if !sub.wants(ev.Handle) {
			continue
		}
		if !sub.pushControl(ev) {
			overrun = append(overrun, sub)
		}
	}
	c.mu.RUnlock()

	for _, sub := range overrun {
		c.logger.Warn("subscriber control queue overrun, disconnecting")
		c.Unsubscribe(sub)
	}
}

// StateChanged implements session.Sink.
func (c *Core) StateChanged(handle string, s session.State, detail string) {
	c.publish(Event{Type: "state", Handle: handle, State: s.String(), Detail: detail})
}

// Input implements session.Sink.
func (c *Core) Input(handle string, snap session.InputSnapshot) {
	ev := Event{Type: "input", Handle: handle, Input: &snap}
	c.mu.RLock()
	for sub := range c.subs {
		if sub.wants(handle) {
			sub.pushInput(ev)
		}
	}
	c.mu.RUnlock()
}

// Firmware implements session.Sink.
func (c *Core) Firmware(handle string, p session.FirmwareProgress) {
	c.publish(Event{Type: "firmware", Handle: handle, Firmware: &p})
}
