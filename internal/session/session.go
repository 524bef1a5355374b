// Package session runs one goroutine-owned actor per attached controller.
// The actor owns the HID channel exclusively; all commands arrive over a
// channel and are answered in submission order, so no two callers ever
// interleave on the device.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dualsense-tools/dsud/internal/firmware"
	"github.com/dualsense-tools/dsud/internal/hid"
	"github.com/dualsense-tools/dsud/internal/log"
	"github.com/dualsense-tools/dsud/internal/report"
	"github.com/dualsense-tools/dsud/internal/transform"
)

// Config tunes one session's reconnect and read behavior.
type Config struct {
	// ReadTimeout bounds each blocking read on the reader goroutine.
	ReadTimeout time.Duration `help:"HID read timeout" default:"200ms" env:"DSUD_READ_TIMEOUT"`
	// ReconnectBase is the first reconnect backoff step.
	ReconnectBase time.Duration `help:"Initial reconnect backoff" default:"500ms" env:"DSUD_RECONNECT_BASE"`
	// ReconnectMax caps the backoff growth.
	ReconnectMax time.Duration `help:"Maximum reconnect backoff" default:"8s" env:"DSUD_RECONNECT_MAX"`
	// ReconnectAttempts is the retry budget before the session faults.
	ReconnectAttempts int `help:"Reconnect attempts before giving up" default:"6" env:"DSUD_RECONNECT_ATTEMPTS"`
	// DecodeFailureLimit is the consecutive-malformed-report threshold
	// that faults the session.
	DecodeFailureLimit int `help:"Consecutive decode failures before fault" default:"8" env:"DSUD_DECODE_FAILURE_LIMIT"`

	Update UpdateConfig `embed:"" prefix:"fw-"`
}

// DefaultConfig returns the production session parameters.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:        200 * time.Millisecond,
		ReconnectBase:      500 * time.Millisecond,
		ReconnectMax:       8 * time.Second,
		ReconnectAttempts:  6,
		DecodeFailureLimit: 8,
		Update:             DefaultUpdateConfig(),
	}
}

// ledCache remembers the last accepted LED settings so they survive a
// reconnect; the controller forgets them when the link drops.
type ledCache struct {
	lightbar        *report.LedState
	lightbarEnabled *bool
	player          *uint8
	micLed          *report.MicLedMode
}

type readEvent struct {
	data []byte
	err  error
}

// Session is the actor for one controller. Create with New, drive with
// Start/Stop; all other methods are safe for concurrent use.
type Session struct {
	handle string
	addr   hid.DeviceAddress
	open   hid.Opener
	cfg    Config
	sink   Sink
	logger *slog.Logger
	raw    log.RawLogger

	cmdCh    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	state atomic.Int32

	// Everything below is owned by the run goroutine.
	ch           hid.Channel
	outSeq       uint8
	snapSeq      uint64
	decodeFails  int
	leds         ledCache
	xform        *transform.Transform
	lastBattery  *report.BatteryInfo
	readCh       chan readEvent
	readerStop   chan struct{}
	readerDone   chan struct{}
	upd          *job
	updDone      chan error
	faultDetail  string
	resetRequest bool
}

// New creates a stopped session for the given controller.
func New(addr hid.DeviceAddress, open hid.Opener, cfg Config, sink Sink, logger *slog.Logger, raw log.RawLogger) *Session {
	if sink == nil {
		sink = NopSink{}
	}
	if raw == nil {
		raw = log.NewRaw(nil)
	}
	s := &Session{
		handle: addr.Serial,
		addr:   addr,
		open:   open,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("controller", addr.Serial, "bus", addr.Bus.String()),
		raw:    raw,
		cmdCh:  make(chan func()),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

// Handle returns the stable identifier for this controller (its serial).
func (s *Session) Handle() string { return s.handle }

// Address returns the discovery address the session was created with.
func (s *Session) Address() hid.DeviceAddress { return s.addr }

// State returns the last published connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Start launches the session goroutine.
func (s *Session) Start() {
	go s.run()
}

// Stop shuts the session down and waits for the goroutine to exit. A running
// firmware job is allowed to finish first.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// do submits one command for ordered execution and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	wrapped := func() { errc <- fn() }

	select {
	case s.cmdCh <- wrapped:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) setState(st State, detail string) {
	if State(s.state.Load()) == st {
		return
	}
	s.state.Store(int32(st))
	s.logger.Info("state changed", "state", st.String(), "detail", detail)
	s.sink.StateChanged(s.handle, st, detail)
}

func (s *Session) run() {
	defer close(s.done)
	defer func() {
		if s.ch != nil {
			_ = s.ch.Close()
			s.ch = nil
		}
	}()

	for {
		if s.State() == StateFaulted {
			if !s.serveFaulted() {
				return
			}
			// Reset requested: fall through to reconnect.
			s.setState(StateDisconnected, "reset requested")
		}

		if !s.connect() {
			select {
			case <-s.stopCh:
				return
			default:
			}
			continue // faulted, loop into serveFaulted
		}

		s.startReader()
		again := s.serveReady()
		s.stopReader()

		if s.ch != nil {
			_ = s.ch.Close()
			s.ch = nil
		}
		if !again {
			return
		}
	}
}

// connect runs the backoff loop until the device opens, the retry budget is
// exhausted (fault), or stop. Returns true when the session reached Ready.
func (s *Session) connect() bool {
	backoff := s.cfg.ReconnectBase
	for attempt := 1; ; attempt++ {
		select {
		case <-s.stopCh:
			return false
		default:
		}

		s.setState(StateConnecting, fmt.Sprintf("attempt %d", attempt))
		ch, err := s.open(s.addr)
		if err == nil {
			s.ch = ch
			s.decodeFails = 0
			s.reapplyLeds()
			s.setState(StateReady, "")
			return true
		}

		s.logger.Warn("open failed", "attempt", attempt, "error", err)
		if attempt >= s.cfg.ReconnectAttempts {
			s.fault(fmt.Sprintf("reconnect budget exhausted: %v", err))
			return false
		}

		if !s.sleepServing(backoff) {
			return false
		}
		backoff *= 2
		if backoff > s.cfg.ReconnectMax {
			backoff = s.cfg.ReconnectMax
		}
	}
}

// sleepServing waits out a backoff while still answering commands, all of
// which fail with ErrNotReady. Returns false on stop.
func (s *Session) sleepServing(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return true
		case <-s.stopCh:
			return false
		case cmd := <-s.cmdCh:
			cmd()
		}
	}
}

func (s *Session) fault(detail string) {
	s.faultDetail = detail
	s.setState(StateFaulted, detail)
}

// serveFaulted answers commands while faulted: everything fails with
// ErrFaulted except reset and stop. Returns true when a reset was requested,
// false on stop.
func (s *Session) serveFaulted() bool {
	s.resetRequest = false
	for {
		select {
		case <-s.stopCh:
			return false
		case cmd := <-s.cmdCh:
			cmd()
			if s.resetRequest {
				return true
			}
		}
	}
}

func (s *Session) startReader() {
	s.readCh = make(chan readEvent, 8)
	s.readerStop = make(chan struct{})
	s.readerDone = make(chan struct{})

	size := report.InputReportUSBSize
	if s.addr.Bus == hid.BusBT {
		size = report.InputReportBTSize
	}

	go func(ch hid.Channel, out chan<- readEvent, stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		buf := make([]byte, size)
		for {
			select {
			case <-stop:
				return
			default:
			}

			n, err := ch.Read(buf, s.cfg.ReadTimeout)
			if errors.Is(err, hid.ErrTimeout) {
				continue
			}
			if err != nil {
				select {
				case out <- readEvent{err: err}:
				case <-stop:
				}
				return
			}

			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- readEvent{data: data}:
			case <-stop:
				return
			default:
				// Serve loop is behind; drop this report rather than
				// stall the device.
			}
		}
	}(s.ch, s.readCh, s.readerStop, s.readerDone)
}

func (s *Session) stopReader() {
	if s.readerStop == nil {
		return
	}
	close(s.readerStop)
	<-s.readerDone
	s.readerStop = nil
	s.readerDone = nil
	s.readCh = nil
}

// serveReady is the main loop while connected. Returns false on stop, true
// when the run loop should continue (reconnect or fault handling).
func (s *Session) serveReady() bool {
	for {
		select {
		case <-s.stopCh:
			if s.upd != nil {
				// Let the flash finish; interrupting it bricks worse
				// than waiting.
				s.logger.Warn("stop requested during firmware update, waiting for job")
				err := <-s.updDone
				s.finishUpdate(err)
			}
			return false

		case cmd := <-s.cmdCh:
			cmd()
			if s.State() != StateReady && s.State() != StateUpdating {
				return true
			}

		case ev := <-s.readCh:
			if !s.handleRead(ev) {
				return true
			}

		case err := <-s.updDone:
			s.finishUpdate(err)
			if s.State() != StateReady {
				return true
			}
		}
	}
}

func (s *Session) handleRead(ev readEvent) bool {
	if ev.err != nil {
		s.logger.Warn("read failed", "error", ev.err)
		s.setState(StateDisconnected, ev.err.Error())
		return false
	}

	s.raw.Log(true, ev.data)
	state, err := report.DecodeInput(s.addr.Bus, ev.data)
	if err != nil {
		s.decodeFails++
		s.logger.Debug("malformed input report", "error", err, "consecutive", s.decodeFails)
		if s.decodeFails >= s.cfg.DecodeFailureLimit {
			s.fault(fmt.Sprintf("repeated protocol corruption: %v", err))
			return false
		}
		return true
	}
	s.decodeFails = 0

	if s.xform != nil {
		s.xform.Apply(&state)
	}

	b := state.Battery
	s.lastBattery = &b

	s.snapSeq++
	s.sink.Input(s.handle, InputSnapshot{Seq: s.snapSeq, State: state})
	return true
}

// writeOutput sends one output report, stamping the Bluetooth sequence. A
// transport failure demotes the session to Disconnected.
func (s *Session) writeOutput(buf []byte) error {
	s.raw.Log(false, buf)
	if _, err := s.ch.Write(buf); err != nil {
		s.setState(StateDisconnected, err.Error())
		return fmt.Errorf("output report: %w", err)
	}
	if s.addr.Bus == hid.BusBT {
		s.outSeq = (s.outSeq + 1) & 0x0f
	}
	return nil
}

// guard rejects commands in states that cannot take them.
func (s *Session) guard() error {
	switch s.State() {
	case StateUpdating:
		return ErrBusy
	case StateFaulted:
		return ErrFaulted
	case StateReady:
		return nil
	default:
		return ErrNotReady
	}
}

func (s *Session) reapplyLeds() {
	if s.leds.lightbarEnabled != nil {
		_ = s.writeOutput(report.EncodeLightbarEnabled(s.addr.Bus, s.outSeq, *s.leds.lightbarEnabled))
	}
	if s.leds.lightbar != nil {
		_ = s.writeOutput(report.EncodeLightbar(s.addr.Bus, s.outSeq, *s.leds.lightbar))
	}
	if s.leds.player != nil {
		if buf, err := report.EncodePlayerLeds(s.addr.Bus, s.outSeq, *s.leds.player); err == nil {
			_ = s.writeOutput(buf)
		}
	}
	if s.leds.micLed != nil {
		_ = s.writeOutput(report.EncodeMicLed(s.addr.Bus, s.outSeq, *s.leds.micLed))
	}
}

// SetLightbar sets the lightbar color and brightness.
func (s *Session) SetLightbar(ctx context.Context, led report.LedState) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		if err := s.writeOutput(report.EncodeLightbar(s.addr.Bus, s.outSeq, led)); err != nil {
			return err
		}
		s.leds.lightbar = &led
		return nil
	})
}

// SetLightbarEnabled switches the lightbar on or off entirely.
func (s *Session) SetLightbarEnabled(ctx context.Context, enabled bool) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		if err := s.writeOutput(report.EncodeLightbarEnabled(s.addr.Bus, s.outSeq, enabled)); err != nil {
			return err
		}
		s.leds.lightbarEnabled = &enabled
		return nil
	})
}

// SetPlayerLeds selects the player indicator pattern.
func (s *Session) SetPlayerLeds(ctx context.Context, player uint8) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		buf, err := report.EncodePlayerLeds(s.addr.Bus, s.outSeq, player)
		if err != nil {
			return err
		}
		if err := s.writeOutput(buf); err != nil {
			return err
		}
		s.leds.player = &player
		return nil
	})
}

// SetMicLed sets the mute-button LED mode.
func (s *Session) SetMicLed(ctx context.Context, mode report.MicLedMode) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		if err := s.writeOutput(report.EncodeMicLed(s.addr.Bus, s.outSeq, mode)); err != nil {
			return err
		}
		s.leds.micLed = &mode
		return nil
	})
}

// SetMic mutes or unmutes the microphone.
func (s *Session) SetMic(ctx context.Context, muted bool) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		return s.writeOutput(report.EncodeMicMute(s.addr.Bus, s.outSeq, muted))
	})
}

// SetVibration sets rumble and trigger motor attenuation (0 strongest, 7 off).
func (s *Session) SetVibration(ctx context.Context, rumble, trigger uint8) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		return s.writeOutput(report.EncodeVibrationAttenuation(s.addr.Bus, s.outSeq, rumble, trigger))
	})
}

// SetSpeaker selects the audio output path.
func (s *Session) SetSpeaker(ctx context.Context, mode string) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		return s.writeOutput(report.EncodeSpeaker(s.addr.Bus, s.outSeq, mode))
	})
}

// SetVolume sets headphone and speaker volume.
func (s *Session) SetVolume(ctx context.Context, volume uint8) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		return s.writeOutput(report.EncodeVolume(s.addr.Bus, s.outSeq, volume))
	})
}

// SetTriggerEffect programs an adaptive trigger effect.
func (s *Session) SetTriggerEffect(ctx context.Context, left, right bool, mode uint8, params []byte) error {
	return s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		return s.writeOutput(report.EncodeTriggerEffect(s.addr.Bus, s.outSeq, left, right, mode, params))
	})
}

// SetTransform installs (or with nil clears) the input shaping applied to
// published snapshots.
func (s *Session) SetTransform(ctx context.Context, t *transform.Transform) error {
	return s.do(ctx, func() error {
		if s.State() == StateUpdating {
			return ErrBusy
		}
		s.xform = t
		return nil
	})
}

// Battery returns the battery info from the most recent input report.
func (s *Session) Battery(ctx context.Context) (report.BatteryInfo, error) {
	var out report.BatteryInfo
	err := s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		if s.lastBattery == nil {
			return ErrNotReady
		}
		out = *s.lastBattery
		return nil
	})
	return out, err
}

// FirmwareInfo queries the controller's firmware version and build stamp.
func (s *Session) FirmwareInfo(ctx context.Context) (report.FirmwareInfo, error) {
	var out report.FirmwareInfo
	err := s.do(ctx, func() error {
		if err := s.guard(); err != nil {
			return err
		}
		buf := report.NewFirmwareInfoRequest()
		if _, err := s.ch.GetFeature(buf); err != nil {
			s.setState(StateDisconnected, err.Error())
			return fmt.Errorf("firmware info: %w", err)
		}
		s.raw.Log(true, buf)
		info, err := report.DecodeFirmwareInfo(buf)
		if err != nil {
			return err
		}
		out = info
		return nil
	})
	return out, err
}

// StartUpdate validates preconditions and launches the firmware transfer.
// It returns once the job is running; completion arrives through the Sink.
func (s *Session) StartUpdate(ctx context.Context, img *firmware.Image) error {
	return s.do(ctx, func() error {
		switch s.State() {
		case StateUpdating:
			return ErrUpdateRunning
		case StateFaulted:
			return ErrFaulted
		case StateReady:
		default:
			return ErrNotReady
		}

		if s.addr.Bus != hid.BusUSB {
			return ErrBluetoothUpdate
		}
		if err := img.CheckCompatibility(s.addr.ProductID); err != nil {
			return err
		}
		if s.cfg.Update.ImageSize != 0 && img.Size() != s.cfg.Update.ImageSize {
			return fmt.Errorf("%w: got %d bytes, want %d", firmware.ErrSizeMismatch, img.Size(), s.cfg.Update.ImageSize)
		}
		if s.lastBattery == nil || s.lastBattery.Capacity < s.cfg.Update.BatteryFloor {
			return ErrLowBattery
		}

		// The updater owns the channel now; input reads resume when the
		// job ends.
		s.stopReader()
		s.setState(StateUpdating, "")

		j := &job{
			img: img,
			cfg: s.cfg.Update,
			fl:  &deviceFlasher{ch: s.ch, cfg: s.cfg.Update, raw: s.raw},
			progress: func(p FirmwareProgress) {
				s.sink.Firmware(s.handle, p)
			},
		}
		s.upd = j
		s.updDone = make(chan error, 1)
		s.logger.Info("firmware update started", "size", img.Size(), "version", fmt.Sprintf("%04x", img.Version()))
		go func() { s.updDone <- j.run() }()
		return nil
	})
}

// AbortUpdate requests a cooperative stop of the running firmware transfer.
func (s *Session) AbortUpdate(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.upd == nil {
			return ErrNoUpdate
		}
		return s.upd.abort()
	})
}

// Reset clears a Faulted session and triggers a fresh reconnect.
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.State() != StateFaulted {
			return nil
		}
		s.faultDetail = ""
		s.resetRequest = true
		return nil
	})
}

// finishUpdate maps a completed job to progress events and the next state.
func (s *Session) finishUpdate(err error) {
	s.upd = nil
	s.updDone = nil

	switch {
	case err == nil:
		s.logger.Info("firmware update complete")
		s.setState(StateReady, "firmware update complete")
		s.startReader()

	case errors.Is(err, firmware.ErrAborted):
		s.logger.Info("firmware update aborted")
		s.sink.Firmware(s.handle, FirmwareProgress{Stage: "aborted", Detail: err.Error()})
		s.setState(StateReady, "firmware update aborted")
		s.startReader()

	case errors.Is(err, firmware.ErrUpdateUncertain):
		s.logger.Error("firmware update outcome uncertain", "error", err)
		s.sink.Firmware(s.handle, FirmwareProgress{Stage: "uncertain", Detail: err.Error()})
		s.fault(fmt.Sprintf("firmware update uncertain: %v", err))

	default:
		s.logger.Error("firmware update failed", "error", err)
		p := FirmwareProgress{Stage: "failed", Detail: err.Error()}
		var uf *firmware.UpdateFailedError
		if errors.As(err, &uf) {
			p.Offset = uf.Offset
		}
		s.sink.Firmware(s.handle, p)
		// A failed transfer leaves the device on its old firmware; the
		// session keeps serving commands.
		s.setState(StateReady, "firmware update failed")
		s.startReader()
	}
}
