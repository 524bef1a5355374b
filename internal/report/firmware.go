package report

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Firmware update traffic is feature-report based and USB only. A 0xf4 report
// carries a phase byte, a length byte and up to MaxFirmwareChunk bytes of
// image data; the device answers progress on the 0xf5 status report.

// EncodeFirmwareChunk encodes one image chunk for the given transfer phase
// (FirmwarePhaseHeader or FirmwarePhaseWrite). The chunk must fit in a single
// feature report; splitting an image into chunks is the updater's job.
func EncodeFirmwareChunk(phase byte, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty firmware chunk")
	}
	if len(data) > MaxFirmwareChunk {
		return nil, fmt.Errorf("firmware chunk of %d bytes exceeds report capacity %d", len(data), MaxFirmwareChunk)
	}
	buf := make([]byte, InputReportUSBSize)
	buf[0] = FeatureReportFirmware
	buf[1] = phase
	buf[2] = byte(len(data))
	copy(buf[3:], data)
	return buf, nil
}

// EncodeFirmwareControl encodes a data-less firmware command
// (FirmwarePhaseVerify or FirmwarePhaseCommit).
func EncodeFirmwareControl(phase byte) []byte {
	buf := make([]byte, InputReportUSBSize)
	buf[0] = FeatureReportFirmware
	buf[1] = phase
	return buf
}

// NewFirmwareStatusRequest returns the buffer to pass to GetFeature to poll
// update progress.
func NewFirmwareStatusRequest() []byte {
	buf := make([]byte, InputReportUSBSize)
	buf[0] = FeatureReportFirmwareStatus
	return buf
}

// DecodeFirmwareStatus extracts the phase and status bytes from a 0xf5
// status report.
func DecodeFirmwareStatus(raw []byte) (phase, status byte, err error) {
	if len(raw) < 3 {
		return 0, 0, &MalformedReportError{Reason: "status report too short", Size: len(raw)}
	}
	return raw[1], raw[2], nil
}

// FirmwareInfo is the device build info exposed on feature report 0x20.
type FirmwareInfo struct {
	Version   uint16 `json:"version"`
	BuildDate string `json:"buildDate"`
	BuildTime string `json:"buildTime"`
}

// NewFirmwareInfoRequest returns the buffer to pass to GetFeature to read
// firmware build info.
func NewFirmwareInfoRequest() []byte {
	buf := make([]byte, InputReportUSBSize)
	buf[0] = FeatureReportFirmwareInfo
	return buf
}

// DecodeFirmwareInfo decodes the firmware info feature report.
func DecodeFirmwareInfo(raw []byte) (FirmwareInfo, error) {
	if len(raw) < 50 {
		return FirmwareInfo{}, &MalformedReportError{Reason: "firmware info report too short", Size: len(raw)}
	}
	return FirmwareInfo{
		Version:   binary.LittleEndian.Uint16(raw[44:46]),
		BuildDate: strings.TrimRight(string(raw[1:12]), "\x00"),
		BuildTime: strings.TrimRight(string(raw[12:20]), "\x00"),
	}, nil
}
