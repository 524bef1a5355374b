// Package report encodes and decodes DualSense HID reports. Every function is
// a pure transform over fixed byte layouts; nothing here touches a device or
// keeps state (Bluetooth output sequencing is the caller's).
package report

// Report IDs and sizes. USB and Bluetooth use different framing; the payload
// layout after the frame header is identical.
const (
	InputReportUSB     byte = 0x01
	InputReportUSBSize      = 64
	InputReportBT      byte = 0x31
	InputReportBTSize       = 78

	OutputReportUSB     byte = 0x02
	OutputReportUSBSize      = 63
	OutputReportBT      byte = 0x31
	OutputReportBTSize       = 78
	outputTagBT         byte = 0x10

	// Bluetooth output reports end in a CRC-32 over a seed byte plus the
	// report body.
	outputCRCSeed byte = 0xa2
)

// Output report valid flags. Only the features this daemon drives are listed
// with names; the rest of the flag space is reserved by the device.
const (
	validFlag0RightTriggerMotor byte = 1 << 2
	validFlag0LeftTriggerMotor  byte = 1 << 3
	validFlag0HeadphoneVolume   byte = 1 << 4
	validFlag0SpeakerVolume     byte = 1 << 5
	validFlag0AudioControl      byte = 1 << 7

	validFlag1MicMuteLed      byte = 1 << 0
	validFlag1PowerSave       byte = 1 << 1
	validFlag1Lightbar        byte = 1 << 2
	validFlag1PlayerIndicator byte = 1 << 4
	validFlag1VibrationAtten  byte = 1 << 6

	validFlag2LightbarSetup byte = 1 << 1

	powerSaveMicMute byte = 1 << 4
	powerSaveAudio   byte = 1 << 3

	lightbarSetupOn  byte = 1 << 0
	lightbarSetupOff byte = 1 << 1

	audioOutputPathShift = 4
)

// Battery status nibbles in the input report.
const (
	statusBatteryCapacity byte = 0x0f
	statusChargingMask    byte = 0xf0
	statusChargingShift        = 4
)

// Firmware update feature reports.
const (
	FeatureReportFirmware       byte = 0xf4
	FeatureReportFirmwareStatus byte = 0xf5
	FeatureReportFirmwareInfo   byte = 0x20

	// Phase byte of a 0xf4 report.
	FirmwarePhaseHeader byte = 0x00
	FirmwarePhaseWrite  byte = 0x01
	FirmwarePhaseVerify byte = 0x02
	FirmwarePhaseCommit byte = 0x03

	// A 0xf4 report carries at most this much image data: 64 bytes minus
	// report ID, phase and length bytes, minus the zero padding the device
	// expects at the tail.
	MaxFirmwareChunk = 57
)

// Button bitmask values in decoded input state.
const (
	BtnSquare   uint32 = 1 << 0
	BtnCross    uint32 = 1 << 1
	BtnCircle   uint32 = 1 << 2
	BtnTriangle uint32 = 1 << 3
	BtnL1       uint32 = 1 << 4
	BtnR1       uint32 = 1 << 5
	BtnL2       uint32 = 1 << 6
	BtnR2       uint32 = 1 << 7
	BtnCreate   uint32 = 1 << 8
	BtnOptions  uint32 = 1 << 9
	BtnL3       uint32 = 1 << 10
	BtnR3       uint32 = 1 << 11
	BtnPS       uint32 = 1 << 12
	BtnTouchpad uint32 = 1 << 13
	BtnMute     uint32 = 1 << 14
)

// DPad direction values (hat encoding, clockwise from north).
const (
	DPadN byte = iota
	DPadNE
	DPadE
	DPadSE
	DPadS
	DPadSW
	DPadW
	DPadNW
	DPadNeutral
)

// Touchpad resolution.
const (
	TouchpadMaxX uint16 = 1920
	TouchpadMaxY uint16 = 1080
)
