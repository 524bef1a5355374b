package session

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dualsense-tools/dsud/internal/firmware"
	"github.com/dualsense-tools/dsud/internal/hid"
	"github.com/dualsense-tools/dsud/internal/log"
	"github.com/dualsense-tools/dsud/internal/report"
)

// UpdateConfig tunes the chunked firmware transfer. The defaults match the
// device protocol; tests shrink them to exercise the state machine quickly.
type UpdateConfig struct {
	// ChunkSize is the number of image bytes sent per acknowledged
	// round-trip. The device accepts at most report.MaxFirmwareChunk.
	ChunkSize int `help:"Firmware transfer chunk size in bytes" default:"57" env:"DSUD_FW_CHUNK_SIZE"`
	// HeaderSize is the image prefix transferred during the start phase.
	HeaderSize int `help:"Firmware header prefix size in bytes" default:"256" env:"DSUD_FW_HEADER_SIZE"`
	// MaxChunkRetries bounds retries for a single failed chunk.
	MaxChunkRetries int `help:"Retries per failed firmware chunk" default:"3" env:"DSUD_FW_CHUNK_RETRIES"`
	// RetryBackoff is the pause before retrying a failed chunk.
	RetryBackoff time.Duration `help:"Backoff between firmware chunk retries" default:"100ms" env:"DSUD_FW_RETRY_BACKOFF"`
	// AckTimeout bounds each wait for a device status acknowledgment.
	AckTimeout time.Duration `help:"Timeout per firmware acknowledgment wait" default:"30s" env:"DSUD_FW_ACK_TIMEOUT"`
	// AckPoll is the status poll interval while an ack is pending.
	AckPoll time.Duration `help:"Poll interval for firmware status" default:"10ms" env:"DSUD_FW_ACK_POLL"`
	// BatteryFloor is the minimum battery percentage to start a job.
	BatteryFloor uint8 `help:"Minimum battery percent for firmware update" default:"10" env:"DSUD_FW_BATTERY_FLOOR"`
	// ImageSize, when non-zero, is the exact payload size accepted.
	ImageSize int `kong:"-"`
}

// DefaultUpdateConfig returns the production transfer parameters.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		ChunkSize:       report.MaxFirmwareChunk,
		HeaderSize:      256,
		MaxChunkRetries: 3,
		RetryBackoff:    100 * time.Millisecond,
		AckTimeout:      30 * time.Second,
		AckPoll:         10 * time.Millisecond,
		BatteryFloor:    10,
		ImageSize:       firmware.ImageSize,
	}
}

// flasher is the device side of one update job: a single transfer phase step
// at a time, no retry policy. The production implementation speaks the
// feature-report protocol; tests substitute fakes to count round-trips and
// inject faults.
type flasher interface {
	// begin transfers the image header and waits for the device to enter
	// the write phase.
	begin(header []byte) error
	// writeChunk sends one image chunk.
	writeChunk(data []byte) error
	// awaitAck waits for the device to acknowledge the last chunk.
	awaitAck() error
	// verify asks the device to check the received image and waits for
	// the result. This is the first half of finalize.
	verify() error
	// commit asks the device to apply the verified image. The device
	// sends no acknowledgment for this.
	commit() error
}

// job is one in-flight firmware update. Owned exclusively by the session
// that created it; destroyed on completion, abort or failure.
type job struct {
	img        *firmware.Image
	cfg        UpdateConfig
	fl         flasher
	progress   func(FirmwareProgress)
	offset     int
	retries    int
	aborted    atomic.Bool
	finalizing atomic.Bool
}

// abort requests a cooperative stop. It is honored between chunk steps and
// refused once finalize started.
func (j *job) abort() error {
	if j.finalizing.Load() {
		return firmware.ErrTooLateToAbort
	}
	j.aborted.Store(true)
	return nil
}

// run drives the whole transfer. It returns nil on success,
// firmware.ErrAborted, *firmware.UpdateFailedError, or an error wrapping
// firmware.ErrUpdateUncertain.
func (j *job) run() error {
	data := j.img.Bytes()

	headerLen := j.cfg.HeaderSize
	if headerLen > len(data) {
		headerLen = len(data)
	}

	j.progress(FirmwareProgress{Stage: "start", Percent: 0})
	if headerLen > 0 {
		if err := j.fl.begin(data[:headerLen]); err != nil {
			return &firmware.UpdateFailedError{Offset: 0, Cause: err}
		}
	}
	j.offset = headerLen

	total := len(data)
	for j.offset < total {
		if j.aborted.Load() {
			return firmware.ErrAborted
		}

		end := j.offset + j.cfg.ChunkSize
		if end > total {
			end = total
		}
		if err := j.transferChunk(data[j.offset:end]); err != nil {
			return err
		}
		j.offset = end

		pct := 0
		if total > headerLen {
			pct = (j.offset - headerLen) * 95 / (total - headerLen)
		}
		j.progress(FirmwareProgress{Stage: "transfer", Percent: pct, Offset: j.offset})
	}

	if j.aborted.Load() {
		return firmware.ErrAborted
	}

	// Point of no return: from here an abort is refused and any lost
	// acknowledgment leaves the outcome uncertain rather than failed.
	j.finalizing.Store(true)
	j.progress(FirmwareProgress{Stage: "finalize", Percent: 97})

	if err := j.fl.verify(); err != nil {
		if errors.Is(err, hid.ErrTimeout) {
			return fmt.Errorf("%w: finalize acknowledgment timed out: %v", firmware.ErrUpdateUncertain, err)
		}
		return &firmware.UpdateFailedError{Offset: j.offset, Cause: err}
	}
	if err := j.fl.commit(); err != nil {
		// The image verified but the commit write failed; the device may
		// still apply it on its own.
		return fmt.Errorf("%w: commit send failed: %v", firmware.ErrUpdateUncertain, err)
	}

	j.progress(FirmwareProgress{Stage: "done", Percent: 100})
	return nil
}

// transferChunk sends one chunk and waits for its ack, retrying up to the
// configured bound with backoff before giving up on the whole job.
func (j *job) transferChunk(chunk []byte) error {
	j.retries = 0
	startOffset := j.offset
	for {
		err := j.fl.writeChunk(chunk)
		if err == nil {
			err = j.fl.awaitAck()
		}
		if err == nil {
			return nil
		}
		j.retries++
		if j.retries > j.cfg.MaxChunkRetries {
			return &firmware.UpdateFailedError{Offset: startOffset, Cause: err}
		}
		time.Sleep(j.cfg.RetryBackoff)
	}
}

// deviceFlasher implements flasher over the real feature-report protocol:
// 0xf4 reports carry phased chunks, 0xf5 reports answer progress.
type deviceFlasher struct {
	ch  hid.Channel
	cfg UpdateConfig
	raw log.RawLogger
}

func (f *deviceFlasher) begin(header []byte) error {
	for off := 0; off < len(header); off += report.MaxFirmwareChunk {
		end := off + report.MaxFirmwareChunk
		if end > len(header) {
			end = len(header)
		}
		buf, err := report.EncodeFirmwareChunk(report.FirmwarePhaseHeader, header[off:end])
		if err != nil {
			return err
		}
		f.raw.Log(false, buf)
		if _, err := f.ch.SendFeature(buf); err != nil {
			return err
		}
		if off == 0 {
			// The device needs a moment after the first header report
			// before it accepts the rest.
			time.Sleep(50 * time.Millisecond)
		}
	}
	return f.waitStatus(report.FirmwarePhaseHeader)
}

func (f *deviceFlasher) writeChunk(data []byte) error {
	buf, err := report.EncodeFirmwareChunk(report.FirmwarePhaseWrite, data)
	if err != nil {
		return err
	}
	f.raw.Log(false, buf)
	_, err = f.ch.SendFeature(buf)
	return err
}

func (f *deviceFlasher) awaitAck() error {
	return f.waitStatus(report.FirmwarePhaseWrite)
}

func (f *deviceFlasher) verify() error {
	buf := report.EncodeFirmwareControl(report.FirmwarePhaseVerify)
	f.raw.Log(false, buf)
	if _, err := f.ch.SendFeature(buf); err != nil {
		return err
	}
	return f.waitStatus(report.FirmwarePhaseVerify)
}

func (f *deviceFlasher) commit() error {
	buf := report.EncodeFirmwareControl(report.FirmwarePhaseCommit)
	f.raw.Log(false, buf)
	_, err := f.ch.SendFeature(buf)
	return err
}

// waitStatus polls the status report until the device acknowledges the given
// phase, reports an error, or the ack timeout passes.
func (f *deviceFlasher) waitStatus(phase byte) error {
	deadline := time.Now().Add(f.cfg.AckTimeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("firmware status wait: %w", hid.ErrTimeout)
		}

		buf := report.NewFirmwareStatusRequest()
		if _, err := f.ch.GetFeature(buf); err != nil {
			return err
		}
		f.raw.Log(true, buf)

		gotPhase, status, err := report.DecodeFirmwareStatus(buf)
		if err != nil {
			return err
		}
		if gotPhase != phase {
			return fmt.Errorf("firmware status: device in phase 0x%02x, expected 0x%02x", gotPhase, phase)
		}

		done, pending := classifyStatus(phase, status)
		if done {
			return nil
		}
		if pending {
			time.Sleep(f.cfg.AckPoll)
			continue
		}
		return fmt.Errorf("firmware status: device reported error 0x%02x in phase 0x%02x", status, phase)
	}
}

// classifyStatus interprets a status byte for a phase: acknowledged, still
// pending, or (neither) a device-reported error.
func classifyStatus(phase, status byte) (done, pending bool) {
	switch phase {
	case report.FirmwarePhaseHeader:
		switch status {
		case 0x00:
			return true, false
		case 0x04, 0x10:
			return false, true
		}
	case report.FirmwarePhaseWrite:
		switch status {
		case 0x00, 0x03:
			return true, false
		case 0x01, 0x10:
			return false, true
		}
	case report.FirmwarePhaseVerify:
		switch status {
		case 0x00:
			return true, false
		case 0x10:
			return false, true
		}
	}
	return false, false
}
