package hid

import (
	"context"
	"time"

	gohid "github.com/sstallion/go-hid"
)

// Watcher reports which controllers are currently attached. The daemon core
// reconciles its session registry against each snapshot; it never opens
// devices itself.
type Watcher interface {
	// Enumerate returns the addresses of all attached controllers.
	Enumerate() ([]DeviceAddress, error)
	// Watch emits an address snapshot whenever the set of attached
	// controllers may have changed. The channel is closed when ctx ends.
	Watch(ctx context.Context) <-chan []DeviceAddress
}

// PollWatcher implements Watcher by polling hidapi enumeration, the same way
// the daemon's device loop has always worked. hidapi has no portable hotplug
// callback, so a short poll interval is the pragmatic option.
type PollWatcher struct {
	Interval time.Duration
}

// NewPollWatcher returns a PollWatcher with the given poll interval.
// An interval <= 0 defaults to 2s.
func NewPollWatcher(interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollWatcher{Interval: interval}
}

func (w *PollWatcher) Enumerate() ([]DeviceAddress, error) {
	var addrs []DeviceAddress
	err := gohid.Enumerate(VendorSony, gohid.ProductIDAny, func(info *gohid.DeviceInfo) error {
		if info.ProductID != ProductDualSense && info.ProductID != ProductEdge {
			return nil
		}
		bus := BusUSB
		// hidapi reports -1 for the interface number on Bluetooth HID.
		if info.InterfaceNbr == -1 {
			bus = BusBT
		}
		addrs = append(addrs, DeviceAddress{
			Path:      info.Path,
			Serial:    info.SerialNbr,
			ProductID: info.ProductID,
			Bus:       bus,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

func (w *PollWatcher) Watch(ctx context.Context) <-chan []DeviceAddress {
	out := make(chan []DeviceAddress, 1)
	go func() {
		defer close(out)
		t := time.NewTicker(w.Interval)
		defer t.Stop()
		for {
			addrs, err := w.Enumerate()
			if err == nil {
				select {
				case out <- addrs:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
