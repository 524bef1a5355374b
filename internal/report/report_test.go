package report

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualsense-tools/dsud/internal/hid"
)

// buildUSBInput constructs a valid USB input report with the given payload
// mutations applied on top of a neutral state.
func buildUSBInput(mut func(d []byte)) []byte {
	buf := make([]byte, InputReportUSBSize)
	buf[0] = InputReportUSB
	d := buf[1:]
	d[0], d[1], d[2], d[3] = 128, 128, 128, 128
	d[7] = DPadNeutral
	d[32] = 0x80 // touch slots inactive
	d[36] = 0x80
	mut(d)
	return buf
}

func TestDecodeInputUSB(t *testing.T) {
	raw := buildUSBInput(func(d []byte) {
		d[0], d[1] = 10, 250 // left stick
		d[4], d[5] = 0x40, 0xff
		d[7] = 0x20 | DPadE       // cross + dpad east
		d[8] = 0x01 | 0x40        // L1 + L3
		d[9] = 0x04               // mute
		d[15], d[16] = 0x01, 0x80 // gyro x = -32767
		binary.LittleEndian.PutUint32(d[27:31], 0xdeadbeef)
		// one active touch at (100, 200), id 5
		d[32] = 0x05
		d[33] = 100                    // x low byte, high nibble zero
		d[34] = byte((200 & 0x0f) << 4) // y low nibble over x high nibble
		d[35] = byte(200 >> 4)
		d[52] = 0x18 // charging, capacity raw 8
	})

	s, err := DecodeInput(hid.BusUSB, raw)
	require.NoError(t, err)

	assert.Equal(t, uint8(10), s.LeftX)
	assert.Equal(t, uint8(250), s.LeftY)
	assert.Equal(t, uint8(0x40), s.L2)
	assert.Equal(t, uint8(0xff), s.R2)
	assert.Equal(t, uint8(DPadE), s.DPad)
	assert.Equal(t, BtnCross|BtnL1|BtnL3|BtnMute, s.Buttons)
	assert.Equal(t, int16(-32767), s.Gyro[0])
	assert.Equal(t, uint32(0xdeadbeef), s.SensorTimestamp)
	require.True(t, s.TouchPoints[0].Active)
	assert.Equal(t, uint8(5), s.TouchPoints[0].ID)
	assert.Equal(t, uint16(100), s.TouchPoints[0].X)
	assert.Equal(t, uint16(200), s.TouchPoints[0].Y)
	assert.False(t, s.TouchPoints[1].Active)
	assert.Equal(t, "Charging", s.Battery.Status)
	assert.Equal(t, uint8(85), s.Battery.Capacity)
}

func TestDecodeInputRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		bus  hid.Bus
		raw  []byte
	}{
		{name: "empty", bus: hid.BusUSB, raw: nil},
		{name: "short usb", bus: hid.BusUSB, raw: append([]byte{InputReportUSB}, make([]byte, 10)...)},
		{name: "truncated by one", bus: hid.BusUSB, raw: buildUSBInput(func([]byte) {})[:InputReportUSBSize-1]},
		{name: "wrong id", bus: hid.BusUSB, raw: make([]byte, InputReportUSBSize)},
		{name: "usb sized report on bt", bus: hid.BusBT, raw: buildUSBInput(func([]byte) {})},
		{name: "bt id with usb size", bus: hid.BusBT, raw: append([]byte{InputReportBT}, make([]byte, InputReportUSBSize-1)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInput(tt.bus, tt.raw)
			var mr *MalformedReportError
			require.ErrorAs(t, err, &mr)
		})
	}
}

func TestDecodeInputBTOffset(t *testing.T) {
	buf := make([]byte, InputReportBTSize)
	buf[0] = InputReportBT
	d := buf[2:]
	d[0] = 42
	d[7] = DPadNeutral | 0x80 // triangle
	d[32], d[36] = 0x80, 0x80

	s, err := DecodeInput(hid.BusBT, buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(42), s.LeftX)
	assert.Equal(t, BtnTriangle, s.Buttons)
}

func TestDecodeBatteryTable(t *testing.T) {
	tests := []struct {
		status byte
		want   BatteryInfo
	}{
		{0x00, BatteryInfo{Capacity: 5, Status: "Discharging"}},
		{0x09, BatteryInfo{Capacity: 95, Status: "Discharging"}},
		{0x0a, BatteryInfo{Capacity: 100, Status: "Discharging"}},
		{0x14, BatteryInfo{Capacity: 45, Status: "Charging"}},
		{0x28, BatteryInfo{Capacity: 85, Status: "Full"}},
		{0xa0, BatteryInfo{Capacity: 0, Status: "Not charging"}},
		{0xb3, BatteryInfo{Capacity: 0, Status: "Not charging"}},
		{0xf0, BatteryInfo{Capacity: 0, Status: "Unknown"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decodeBattery(tt.status), "status byte 0x%02x", tt.status)
	}
}

func TestEncodeLightbarUSB(t *testing.T) {
	buf := EncodeLightbar(hid.BusUSB, 0, LedState{R: 255, G: 128, B: 0, Brightness: 255})

	require.Len(t, buf, OutputReportUSBSize)
	assert.Equal(t, OutputReportUSB, buf[0])
	assert.Equal(t, validFlag1Lightbar, buf[2])
	assert.Equal(t, uint8(255), buf[45])
	assert.Equal(t, uint8(128), buf[46])
	assert.Equal(t, uint8(0), buf[47])
}

func TestEncodeLightbarBrightnessScales(t *testing.T) {
	buf := EncodeLightbar(hid.BusUSB, 0, LedState{R: 200, G: 100, B: 50, Brightness: 128})
	assert.Equal(t, uint8(200*128/255), buf[45])
	assert.Equal(t, uint8(100*128/255), buf[46])
	assert.Equal(t, uint8(50*128/255), buf[47])
}

// Round-trip on the encoding table: at full brightness the raw RGB values
// must come back out of the documented byte positions unchanged.
func TestEncodeLightbarRoundTrip(t *testing.T) {
	for _, led := range []LedState{
		{R: 0, G: 0, B: 0, Brightness: 255},
		{R: 1, G: 2, B: 3, Brightness: 255},
		{R: 255, G: 255, B: 255, Brightness: 255},
		{R: 0, G: 128, B: 255, Brightness: 255},
	} {
		buf := EncodeLightbar(hid.BusUSB, 0, led)
		got := LedState{R: buf[45], G: buf[46], B: buf[47], Brightness: 255}
		assert.Equal(t, led, got)
	}
}

func TestEncodeLightbarBTFraming(t *testing.T) {
	buf := EncodeLightbar(hid.BusBT, 5, LedState{R: 10, G: 20, B: 30, Brightness: 255})

	require.Len(t, buf, OutputReportBTSize)
	assert.Equal(t, OutputReportBT, buf[0])
	assert.Equal(t, byte(5<<4), buf[1])
	assert.Equal(t, outputTagBT, buf[2])
	assert.Equal(t, uint8(10), buf[3+44])

	// CRC-32/ISO-HDLC over the seed byte plus everything before the trailer.
	crc := crc32.Update(0, crc32.IEEETable, []byte{outputCRCSeed})
	crc = crc32.Update(crc, crc32.IEEETable, buf[:len(buf)-4])
	assert.Equal(t, crc, binary.LittleEndian.Uint32(buf[len(buf)-4:]))
}

func TestEncodePlayerLeds(t *testing.T) {
	buf, err := EncodePlayerLeds(hid.BusUSB, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, validFlag1PlayerIndicator, buf[2])
	assert.Equal(t, byte(0b00100), buf[44])

	_, err = EncodePlayerLeds(hid.BusUSB, 0, uint8(MaxPlayerLeds))
	assert.Error(t, err)
}

func TestEncodeMicLed(t *testing.T) {
	assert.Equal(t, byte(0), EncodeMicLed(hid.BusUSB, 0, MicLedOff)[9])
	assert.Equal(t, byte(1), EncodeMicLed(hid.BusUSB, 0, MicLedOn)[9])
	assert.Equal(t, byte(2), EncodeMicLed(hid.BusUSB, 0, MicLedPulse)[9])
	assert.Equal(t, validFlag1MicMuteLed, EncodeMicLed(hid.BusUSB, 0, MicLedOn)[2])
}

func TestEncodeMicMute(t *testing.T) {
	buf := EncodeMicMute(hid.BusUSB, 0, true)
	assert.Equal(t, validFlag1PowerSave, buf[2])
	assert.Equal(t, powerSaveMicMute, buf[10])

	buf = EncodeMicMute(hid.BusUSB, 0, false)
	assert.Equal(t, validFlag1PowerSave, buf[2])
	assert.Equal(t, byte(0), buf[10]&(powerSaveMicMute|powerSaveAudio))
}

func TestEncodeVibrationAttenuation(t *testing.T) {
	buf := EncodeVibrationAttenuation(hid.BusUSB, 0, 3, 5)
	assert.Equal(t, validFlag1VibrationAtten, buf[2])
	assert.Equal(t, byte(3|5<<4), buf[37])
}

func TestEncodeTriggerEffect(t *testing.T) {
	params := []byte{1, 2, 3}
	buf := EncodeTriggerEffect(hid.BusUSB, 0, true, false, 0x21, params)
	assert.Equal(t, validFlag0LeftTriggerMotor, buf[1])
	assert.Equal(t, byte(0x21), buf[11])
	assert.Equal(t, byte(0x21), buf[22])
	assert.Equal(t, []byte{1, 2, 3}, buf[12:15])
	assert.Equal(t, []byte{1, 2, 3}, buf[23:26])
}

func TestEncodeFirmwareChunk(t *testing.T) {
	data := make([]byte, MaxFirmwareChunk)
	for i := range data {
		data[i] = byte(i)
	}
	buf, err := EncodeFirmwareChunk(FirmwarePhaseWrite, data)
	require.NoError(t, err)
	require.Len(t, buf, InputReportUSBSize)
	assert.Equal(t, FeatureReportFirmware, buf[0])
	assert.Equal(t, FirmwarePhaseWrite, buf[1])
	assert.Equal(t, byte(MaxFirmwareChunk), buf[2])
	assert.Equal(t, data, buf[3:3+MaxFirmwareChunk])

	_, err = EncodeFirmwareChunk(FirmwarePhaseWrite, make([]byte, MaxFirmwareChunk+1))
	assert.Error(t, err, "oversized chunk must be rejected")
	_, err = EncodeFirmwareChunk(FirmwarePhaseWrite, nil)
	assert.Error(t, err)
}

func TestDecodeFirmwareStatus(t *testing.T) {
	raw := make([]byte, InputReportUSBSize)
	raw[0] = FeatureReportFirmwareStatus
	raw[1] = FirmwarePhaseWrite
	raw[2] = 0x03
	phase, status, err := DecodeFirmwareStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, FirmwarePhaseWrite, phase)
	assert.Equal(t, byte(0x03), status)

	_, _, err = DecodeFirmwareStatus([]byte{0xf5})
	assert.Error(t, err)
}

func TestDecodeFirmwareInfo(t *testing.T) {
	raw := make([]byte, InputReportUSBSize)
	raw[0] = FeatureReportFirmwareInfo
	copy(raw[1:], "Jun 12 2024")
	copy(raw[12:], "10:34:12")
	binary.LittleEndian.PutUint16(raw[44:46], 0x0442)

	info, err := DecodeFirmwareInfo(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0442), info.Version)
	assert.Equal(t, "Jun 12 2024", info.BuildDate)
	assert.Equal(t, "10:34:12", info.BuildTime)

	_, err = DecodeFirmwareInfo(make([]byte, 10))
	assert.Error(t, err)
}
