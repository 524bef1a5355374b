package hid

import (
	"errors"
	"strings"
	"time"

	gohid "github.com/sstallion/go-hid"
)

// Sony vendor/product IDs for the DualSense family.
const (
	VendorSony       uint16 = 0x054c
	ProductDualSense uint16 = 0x0ce6
	ProductEdge      uint16 = 0x0df2
)

// Init initializes the underlying hidapi library. Call once at daemon start.
func Init() error { return gohid.Init() }

// Exit releases hidapi resources. Call once at daemon shutdown.
func Exit() error { return gohid.Exit() }

// Open opens the HID channel for a discovered controller. It satisfies the
// Opener signature used by sessions.
func Open(addr DeviceAddress) (Channel, error) {
	dev, err := gohid.OpenPath(addr.Path)
	if err != nil {
		return nil, mapOpenError(err)
	}
	return &hidChannel{dev: dev}, nil
}

type hidChannel struct {
	dev    *gohid.Device
	closed bool
}

func (c *hidChannel) Read(p []byte, timeout time.Duration) (int, error) {
	n, err := c.dev.ReadWithTimeout(p, timeout)
	if err != nil {
		return n, errors.Join(ErrDisconnected, err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return n, nil
}

func (c *hidChannel) Write(p []byte) (int, error) {
	n, err := c.dev.Write(p)
	if err != nil {
		return n, errors.Join(ErrDisconnected, err)
	}
	if n < len(p) {
		return n, ErrShortWrite
	}
	return n, nil
}

func (c *hidChannel) SendFeature(p []byte) (int, error) {
	n, err := c.dev.SendFeatureReport(p)
	if err != nil {
		return n, errors.Join(ErrDisconnected, err)
	}
	return n, nil
}

func (c *hidChannel) GetFeature(p []byte) (int, error) {
	n, err := c.dev.GetFeatureReport(p)
	if err != nil {
		return n, errors.Join(ErrDisconnected, err)
	}
	return n, nil
}

func (c *hidChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.dev.Close()
}

func mapOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access"):
		return errors.Join(ErrPermission, err)
	case strings.Contains(msg, "busy"):
		return errors.Join(ErrBusy, err)
	default:
		return errors.Join(ErrNotFound, err)
	}
}
