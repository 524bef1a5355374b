// Package hid provides the transport layer for talking to a DualSense
// controller over a HID channel (USB or Bluetooth). It knows nothing about
// report semantics; encoding and decoding live in internal/report.
package hid

import (
	"errors"
	"fmt"
	"time"
)

// Bus identifies how a controller is attached.
type Bus int

const (
	BusUSB Bus = iota
	BusBT
)

func (b Bus) String() string {
	if b == BusBT {
		return "bluetooth"
	}
	return "usb"
}

// Transport-level sentinel errors. All retry/reconnect policy lives in the
// session layer; the transport only reports what happened.
var (
	ErrNotFound     = errors.New("hid: device not found")
	ErrPermission   = errors.New("hid: permission denied")
	ErrBusy         = errors.New("hid: device busy")
	ErrTimeout      = errors.New("hid: read timeout")
	ErrDisconnected = errors.New("hid: device disconnected")
	ErrShortWrite   = errors.New("hid: short write")
)

// DeviceAddress identifies one physical controller as reported by discovery.
type DeviceAddress struct {
	Path      string
	Serial    string
	ProductID uint16
	Bus       Bus
}

func (a DeviceAddress) String() string {
	return fmt.Sprintf("%s (%s)", a.Serial, a.Bus)
}

// Channel is a byte-oriented duplex channel to one controller.
//
// Read blocks for at most the given timeout and returns ErrTimeout when no
// report arrived. Feature report transfers carry the report ID in the first
// byte of the buffer, matching hidapi conventions. Close is idempotent.
type Channel interface {
	Read(p []byte, timeout time.Duration) (int, error)
	Write(p []byte) (int, error)
	SendFeature(p []byte) (int, error)
	GetFeature(p []byte) (int, error)
	Close() error
}

// Opener opens a Channel for a device address. Sessions hold an Opener rather
// than a Channel so they can reopen the device on reconnect.
type Opener func(addr DeviceAddress) (Channel, error)
