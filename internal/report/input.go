package report

import (
	"encoding/binary"
	"fmt"

	"github.com/dualsense-tools/dsud/internal/hid"
)

// MalformedReportError describes an input report that failed to decode.
type MalformedReportError struct {
	Reason string
	ID     byte
	Size   int
}

func (e *MalformedReportError) Error() string {
	return fmt.Sprintf("malformed report: %s (id=0x%02x size=%d)", e.Reason, e.ID, e.Size)
}

// TouchPoint is one finger on the touchpad.
type TouchPoint struct {
	Active bool   `json:"active"`
	ID     uint8  `json:"id"`
	X      uint16 `json:"x"`
	Y      uint16 `json:"y"`
}

// BatteryInfo is the battery level and charging status carried in every
// input report.
type BatteryInfo struct {
	Capacity uint8  `json:"capacity"`
	Status   string `json:"status"`
}

// InputState is a decoded input report. It carries no sequence number; the
// session stamps one when publishing snapshots.
type InputState struct {
	LeftX  uint8 `json:"leftX"`
	LeftY  uint8 `json:"leftY"`
	RightX uint8 `json:"rightX"`
	RightY uint8 `json:"rightY"`
	L2     uint8 `json:"l2"`
	R2     uint8 `json:"r2"`

	Buttons uint32 `json:"buttons"`
	DPad    uint8  `json:"dpad"`

	Gyro            [3]int16 `json:"gyro"`
	Accel           [3]int16 `json:"accel"`
	SensorTimestamp uint32   `json:"sensorTimestamp"`

	TouchPoints [2]TouchPoint `json:"touchPoints"`

	Battery BatteryInfo `json:"battery"`
}

// DecodeInput decodes one raw input report for the given bus. The raw buffer
// must be exactly the report size for that bus and start with the matching
// report ID.
func DecodeInput(bus hid.Bus, raw []byte) (InputState, error) {
	var (
		id     byte
		size   int
		offset int
	)
	if bus == hid.BusBT {
		id, size, offset = InputReportBT, InputReportBTSize, 2
	} else {
		id, size, offset = InputReportUSB, InputReportUSBSize, 1
	}

	if len(raw) == 0 {
		return InputState{}, &MalformedReportError{Reason: "empty report"}
	}
	if raw[0] != id {
		return InputState{}, &MalformedReportError{Reason: "unexpected report id", ID: raw[0], Size: len(raw)}
	}
	if len(raw) != size {
		return InputState{}, &MalformedReportError{Reason: "unexpected report size", ID: raw[0], Size: len(raw)}
	}

	d := raw[offset:]

	var s InputState
	s.LeftX, s.LeftY = d[0], d[1]
	s.RightX, s.RightY = d[2], d[3]
	s.L2, s.R2 = d[4], d[5]

	s.DPad = d[7] & 0x0f
	s.Buttons = decodeButtons(d[7], d[8], d[9])

	for i := 0; i < 3; i++ {
		s.Gyro[i] = int16(binary.LittleEndian.Uint16(d[15+2*i : 17+2*i]))
		s.Accel[i] = int16(binary.LittleEndian.Uint16(d[21+2*i : 23+2*i]))
	}
	s.SensorTimestamp = binary.LittleEndian.Uint32(d[27:31])

	for i := 0; i < 2; i++ {
		base := 32 + i*4
		b0 := d[base]
		if b0&0x80 != 0 {
			continue
		}
		x := uint16(d[base+1]) | uint16(d[base+2]&0x0f)<<8
		y := uint16(d[base+2]>>4) | uint16(d[base+3])<<4
		s.TouchPoints[i] = TouchPoint{
			Active: true,
			ID:     b0 & 0x7f,
			X:      min(x, TouchpadMaxX-1),
			Y:      min(y, TouchpadMaxY-1),
		}
	}

	s.Battery = decodeBattery(d[52])

	return s, nil
}

func decodeButtons(b0, b1, b2 byte) uint32 {
	var b uint32
	if b0&0x10 != 0 {
		b |= BtnSquare
	}
	if b0&0x20 != 0 {
		b |= BtnCross
	}
	if b0&0x40 != 0 {
		b |= BtnCircle
	}
	if b0&0x80 != 0 {
		b |= BtnTriangle
	}
	if b1&0x01 != 0 {
		b |= BtnL1
	}
	if b1&0x02 != 0 {
		b |= BtnR1
	}
	if b1&0x04 != 0 {
		b |= BtnL2
	}
	if b1&0x08 != 0 {
		b |= BtnR2
	}
	if b1&0x10 != 0 {
		b |= BtnCreate
	}
	if b1&0x20 != 0 {
		b |= BtnOptions
	}
	if b1&0x40 != 0 {
		b |= BtnL3
	}
	if b1&0x80 != 0 {
		b |= BtnR3
	}
	if b2&0x01 != 0 {
		b |= BtnPS
	}
	if b2&0x02 != 0 {
		b |= BtnTouchpad
	}
	if b2&0x04 != 0 {
		b |= BtnMute
	}
	return b
}

func decodeBattery(status byte) BatteryInfo {
	capRaw := status & statusBatteryCapacity
	charging := (status & statusChargingMask) >> statusChargingShift

	pct := func() uint8 {
		return min(capRaw*10+5, 100)
	}

	switch charging {
	case 0x0:
		return BatteryInfo{Capacity: pct(), Status: "Discharging"}
	case 0x1:
		return BatteryInfo{Capacity: pct(), Status: "Charging"}
	case 0x2:
		return BatteryInfo{Capacity: pct(), Status: "Full"}
	case 0xa, 0xb:
		return BatteryInfo{Capacity: 0, Status: "Not charging"}
	default:
		return BatteryInfo{Capacity: 0, Status: "Unknown"}
	}
}
