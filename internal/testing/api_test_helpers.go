// Package testing holds shared helpers for API and daemon tests: an
// in-memory HID channel and a pre-wired API server over a fake device hub.
package testing

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/hid"
	"github.com/dualsense-tools/dsud/internal/report"
	"github.com/dualsense-tools/dsud/internal/server/api"
	"github.com/dualsense-tools/dsud/internal/session"
)

// FakeChannel is an in-memory hid.Channel. Input reports are fed through
// PushInput; writes and feature traffic are recorded. Feature reads answer
// the firmware info and status reports so session commands work end to end.
type FakeChannel struct {
	inputs chan []byte

	mu        sync.Mutex
	writes    [][]byte
	features  [][]byte
	lastPhase byte
	fwStatus  byte
	fwInfo    report.FirmwareInfo
}

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		inputs: make(chan []byte, 32),
		fwInfo: report.FirmwareInfo{
			Version:   0x0342,
			BuildDate: "Jun 9 2025",
			BuildTime: "12:00:00",
		},
	}
}

// PushInput queues one raw input report for the session's reader.
func (c *FakeChannel) PushInput(data []byte) {
	c.inputs <- data
}

func (c *FakeChannel) Read(p []byte, timeout time.Duration) (int, error) {
	select {
	case d := <-c.inputs:
		return copy(p, d), nil
	case <-time.After(timeout):
		return 0, hid.ErrTimeout
	}
}

func (c *FakeChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *FakeChannel) SendFeature(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features = append(c.features, append([]byte(nil), p...))
	if len(p) > 1 && p[0] == report.FeatureReportFirmware {
		c.lastPhase = p[1]
	}
	return len(p), nil
}

func (c *FakeChannel) GetFeature(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	switch p[0] {
	case report.FeatureReportFirmwareStatus:
		p[1] = c.lastPhase
		p[2] = c.fwStatus
	case report.FeatureReportFirmwareInfo:
		copy(p[1:12], c.fwInfo.BuildDate)
		copy(p[12:20], c.fwInfo.BuildTime)
		binary.LittleEndian.PutUint16(p[44:46], c.fwInfo.Version)
	}
	return len(p), nil
}

func (c *FakeChannel) Close() error { return nil }

// Writes returns a copy of every output report written so far.
func (c *FakeChannel) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// USBInputReport builds a neutral USB input report with the given battery
// byte (low nibble capacity step, high nibble charge status).
func USBInputReport(battery byte) []byte {
	buf := make([]byte, report.InputReportUSBSize)
	buf[0] = report.InputReportUSB
	d := buf[1:]
	d[0], d[1], d[2], d[3] = 128, 128, 128, 128
	d[7] = report.DPadNeutral
	d[32] = 0x80
	d[36] = 0x80
	d[52] = battery
	return buf
}

// Hub hands out fake channels by serial, standing in for the hidapi opener.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*FakeChannel
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]*FakeChannel)}
}

func (h *Hub) Open(addr hid.DeviceAddress) (hid.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[addr.Serial]
	if !ok {
		ch = NewFakeChannel()
		h.channels[addr.Serial] = ch
	}
	return ch, nil
}

// Channel returns the fake channel backing a serial, creating it if needed
// so tests can queue input before the controller attaches.
func (h *Hub) Channel(serial string) *FakeChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[serial]
	if !ok {
		ch = NewFakeChannel()
		h.channels[serial] = ch
	}
	return ch
}

// USBAddress builds a USB device address for a serial.
func USBAddress(serial string) hid.DeviceAddress {
	return hid.DeviceAddress{
		Path:      "/dev/hidraw-" + serial,
		Serial:    serial,
		ProductID: hid.ProductDualSense,
		Bus:       hid.BusUSB,
	}
}

// StartAPIServer starts an API server over a daemon core backed by a fake
// device hub, on a free port. register adds the routes the test needs.
// Returns the bound address, the core, the hub and a cleanup func.
func StartAPIServer(t *testing.T, register func(r *api.Router, core *daemon.Core, apiSrv *api.Server)) (addr string, core *daemon.Core, hub *Hub, done func()) {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.ReadTimeout = 5 * time.Millisecond
	cfg.ReconnectBase = time.Millisecond
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hub = NewHub()
	core = daemon.New(cfg, hub.Open, nil, logger, nil)

	apiSrv, err := api.New(core, "127.0.0.1:0", api.ServerConfig{}, logger)
	if err != nil {
		t.Fatalf("api server: %v", err)
	}
	if register != nil {
		register(apiSrv.Router(), core, apiSrv)
	}
	if err := apiSrv.Start(); err != nil {
		t.Fatalf("api start failed: %v", err)
	}

	done = func() {
		apiSrv.Close()
		core.Stop()
		time.Sleep(10 * time.Millisecond)
	}
	return apiSrv.Addr(), core, hub, done
}

// Attach plugs a fake controller into the core and waits for its session to
// reach Ready.
func Attach(t *testing.T, core *daemon.Core, serial string) {
	t.Helper()
	var addrs []hid.DeviceAddress
	for _, info := range core.List() {
		addrs = append(addrs, USBAddress(info.Handle))
	}
	addrs = append(addrs, USBAddress(serial))
	core.Reconcile(addrs)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s, err := core.Lookup(serial); err == nil && s.State() == session.StateReady {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("controller %s never became ready", serial)
}
