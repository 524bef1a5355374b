package session

import (
	"errors"

	"github.com/dualsense-tools/dsud/internal/report"
)

// State is the connection state of one controller session. Transitions:
// Disconnected -> Connecting -> Ready; Ready -> Updating -> Ready;
// any -> Disconnected on transport loss; exhausted reconnect budget or
// repeated protocol corruption -> Faulted, terminal until an explicit reset.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateUpdating
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned for any non-update command while a firmware
	// update is in flight.
	ErrBusy = errors.New("session: busy with firmware update")

	// ErrNotReady is returned when the controller is not connected.
	ErrNotReady = errors.New("session: controller not ready")

	// ErrFaulted is returned for commands other than reset while the
	// session is faulted.
	ErrFaulted = errors.New("session: controller faulted, reset required")

	// ErrNoUpdate is returned by an abort with no update running.
	ErrNoUpdate = errors.New("session: no firmware update in progress")

	// ErrUpdateRunning rejects a second concurrent update job.
	ErrUpdateRunning = errors.New("session: firmware update already in progress")

	// ErrBluetoothUpdate rejects updates over Bluetooth; flashing is USB
	// only.
	ErrBluetoothUpdate = errors.New("session: firmware update requires a USB connection")

	// ErrLowBattery rejects updates below the configured battery floor.
	ErrLowBattery = errors.New("session: battery too low for firmware update")

	// ErrStopped is returned when the session shut down while a caller
	// was waiting.
	ErrStopped = errors.New("session: session stopped")
)

// InputSnapshot is one published point-in-time input capture. Seq is strictly
// increasing per session; gaps are allowed (dropped reports), repeats are not.
type InputSnapshot struct {
	Seq   uint64            `json:"seq"`
	State report.InputState `json:"state"`
}

// FirmwareProgress reports update job milestones to subscribers.
type FirmwareProgress struct {
	Stage   string `json:"stage"` // "start", "transfer", "finalize", "done", "failed", "aborted", "uncertain"
	Percent int    `json:"percent"`
	Offset  int    `json:"offset,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Sink receives everything a session publishes. The daemon core implements
// it and fans events out to subscribed clients. Calls arrive from the
// session's own goroutine and must not block for long.
type Sink interface {
	StateChanged(handle string, s State, detail string)
	Input(handle string, snap InputSnapshot)
	Firmware(handle string, p FirmwareProgress)
}

// NopSink discards all events; useful in tests.
type NopSink struct{}

func (NopSink) StateChanged(string, State, string) {}
func (NopSink) Input(string, InputSnapshot)        {}
func (NopSink) Firmware(string, FirmwareProgress)  {}
