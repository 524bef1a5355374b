package report

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/dualsense-tools/dsud/internal/hid"
)

// LedState is the lightbar setting a client asked for. Brightness scales the
// RGB channels at encode time; the device itself has no brightness register.
type LedState struct {
	R          uint8 `json:"r"`
	G          uint8 `json:"g"`
	B          uint8 `json:"b"`
	Brightness uint8 `json:"brightness"`
}

// MicLedMode is the state of the mute-button LED.
type MicLedMode uint8

const (
	MicLedOff MicLedMode = iota
	MicLedOn
	MicLedPulse
)

// playerLedPatterns maps a player number to the 5-LED bar pattern the
// firmware expects. Indexes past 5 are the two aesthetic extras the original
// tool exposed.
var playerLedPatterns = [...]byte{
	0b00000,
	0b00100,
	0b01010,
	0b10101,
	0b11011,
	0b11111,
	0b10001,
	0b01110,
}

// MaxPlayerLeds is the number of selectable player LED patterns.
const MaxPlayerLeds = len(playerLedPatterns)

// newOutput allocates an output report for the bus and returns the buffer
// plus the offset where the common payload starts. seq is the Bluetooth
// output sequence (0..15); it is ignored for USB.
func newOutput(bus hid.Bus, seq uint8) ([]byte, int) {
	if bus == hid.BusBT {
		buf := make([]byte, OutputReportBTSize)
		buf[0] = OutputReportBT
		buf[1] = (seq & 0x0f) << 4
		buf[2] = outputTagBT
		return buf, 3
	}
	buf := make([]byte, OutputReportUSBSize)
	buf[0] = OutputReportUSB
	return buf, 1
}

// finishOutput appends the Bluetooth CRC trailer. USB reports go out as-is.
func finishOutput(bus hid.Bus, buf []byte) []byte {
	if bus == hid.BusBT {
		crc := outputCRC(buf)
		binary.LittleEndian.PutUint32(buf[len(buf)-4:], crc)
	}
	return buf
}

func outputCRC(buf []byte) uint32 {
	crc := crc32.Update(0, crc32.IEEETable, []byte{outputCRCSeed})
	return crc32.Update(crc, crc32.IEEETable, buf[:len(buf)-4])
}

// EncodeLightbar encodes a lightbar color report.
func EncodeLightbar(bus hid.Bus, seq uint8, led LedState) []byte {
	buf, off := newOutput(bus, seq)
	buf[off+1] = validFlag1Lightbar
	buf[off+44] = uint8(uint16(led.Brightness) * uint16(led.R) / 255)
	buf[off+45] = uint8(uint16(led.Brightness) * uint16(led.G) / 255)
	buf[off+46] = uint8(uint16(led.Brightness) * uint16(led.B) / 255)
	return finishOutput(bus, buf)
}

// EncodeLightbarEnabled encodes the lightbar setup report that switches the
// bar on or off entirely.
func EncodeLightbarEnabled(bus hid.Bus, seq uint8, enabled bool) []byte {
	buf, off := newOutput(bus, seq)
	buf[off+38] = validFlag2LightbarSetup
	if enabled {
		buf[off+41] = lightbarSetupOn
	} else {
		buf[off+41] = lightbarSetupOff
	}
	return finishOutput(bus, buf)
}

// EncodePlayerLeds encodes the player indicator LEDs for player n.
func EncodePlayerLeds(bus hid.Bus, seq uint8, n uint8) ([]byte, error) {
	if int(n) >= MaxPlayerLeds {
		return nil, fmt.Errorf("player number %d out of range", n)
	}
	buf, off := newOutput(bus, seq)
	buf[off+1] = validFlag1PlayerIndicator
	buf[off+43] = playerLedPatterns[n]
	return finishOutput(bus, buf), nil
}

// EncodeMicLed encodes the mute-button LED mode.
func EncodeMicLed(bus hid.Bus, seq uint8, mode MicLedMode) []byte {
	buf, off := newOutput(bus, seq)
	buf[off+1] = validFlag1MicMuteLed
	buf[off+8] = byte(mode)
	return finishOutput(bus, buf)
}

// EncodeMicMute encodes the microphone power-save mute toggle. Unmuting also
// clears the audio power-save bit, waking the amp along with the mic.
func EncodeMicMute(bus hid.Bus, seq uint8, muted bool) []byte {
	buf, off := newOutput(bus, seq)
	buf[off+1] = validFlag1PowerSave
	if muted {
		buf[off+9] |= powerSaveMicMute
	} else {
		buf[off+9] &^= powerSaveMicMute | powerSaveAudio
	}
	return finishOutput(bus, buf)
}

// EncodeVibrationAttenuation encodes rumble and trigger motor attenuation,
// 0 (full strength) to 7 (off).
func EncodeVibrationAttenuation(bus hid.Bus, seq uint8, rumble, trigger uint8) []byte {
	buf, off := newOutput(bus, seq)
	buf[off+1] = validFlag1VibrationAtten
	buf[off+36] = (rumble & 0x07) | (trigger&0x07)<<4
	return finishOutput(bus, buf)
}

// EncodeSpeaker encodes the audio output path: "internal", "headphone" or
// "both".
func EncodeSpeaker(bus hid.Bus, seq uint8, mode string) []byte {
	buf, off := newOutput(bus, seq)
	buf[off] = validFlag0AudioControl
	switch mode {
	case "internal":
		buf[off+7] = 3 << audioOutputPathShift
	case "both":
		buf[off+7] = 2 << audioOutputPathShift
	default:
		buf[off+7] = 0
	}
	return finishOutput(bus, buf)
}

// EncodeVolume encodes headphone and speaker volume from one 0..255 value.
func EncodeVolume(bus hid.Bus, seq uint8, volume uint8) []byte {
	buf, off := newOutput(bus, seq)
	buf[off] = validFlag0HeadphoneVolume | validFlag0SpeakerVolume
	buf[off+4] = uint8(uint16(volume) * 0x7f / 255)
	buf[off+5] = uint8(uint16(volume) * 0x64 / 255)
	return finishOutput(bus, buf)
}

// EncodeTriggerEffect encodes an adaptive trigger effect for the selected
// triggers. params is the 10-byte effect parameter block; shorter slices are
// zero padded.
func EncodeTriggerEffect(bus hid.Bus, seq uint8, left, right bool, mode uint8, params []byte) []byte {
	buf, off := newOutput(bus, seq)
	if right {
		buf[off] |= validFlag0RightTriggerMotor
	}
	if left {
		buf[off] |= validFlag0LeftTriggerMotor
	}
	buf[off+10] = mode
	buf[off+21] = mode
	for i, p := range params {
		if i >= 10 {
			break
		}
		buf[off+11+i] = p
		buf[off+22+i] = p
	}
	return finishOutput(bus, buf)
}
