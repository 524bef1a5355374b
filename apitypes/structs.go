package apitypes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ApiError represents an RFC 7807 (problem+json) error response.
type ApiError struct {
	// Status is the HTTP-style status code (e.g., 400, 404, 500)
	Status int `json:"status"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Detail is a human-readable explanation specific to this occurrence
	Detail string `json:"detail"`
}

func (e ApiError) Error() string {
	if e.Status == 0 && e.Title == "" {
		return "unknown error"
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
}

// --

type PingResponse struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

type Controller struct {
	Handle    string `json:"handle"`
	Bus       string `json:"bus"`
	ProductID string `json:"productId"`
	State     string `json:"state"`
}

type ControllerListResponse struct {
	Controllers []Controller `json:"controllers"`
}

type BatteryResponse struct {
	Capacity uint8  `json:"capacity"`
	Status   string `json:"status"`
}

type LightbarRequest struct {
	R          uint8 `json:"r"`
	G          uint8 `json:"g"`
	B          uint8 `json:"b"`
	Brightness uint8 `json:"brightness"`
}

type LightbarEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type PlayerLedsRequest struct {
	Player uint8 `json:"player"`
}

type MicRequest struct {
	Muted bool `json:"muted"`
}

// MicLedRequest selects the mute button LED mode: "off", "on" or "pulse".
type MicLedRequest struct {
	Mode string `json:"mode"`
}

type VibrationRequest struct {
	Rumble  uint8 `json:"rumble"`
	Trigger uint8 `json:"trigger"`
}

// SpeakerRequest selects the audio output path: "internal", "headphone" or
// "both".
type SpeakerRequest struct {
	Mode string `json:"mode"`
}

type VolumeRequest struct {
	Volume uint8 `json:"volume"`
}

// TriggerEffectRequest programs an adaptive trigger effect on the selected
// triggers. Params is the raw 10-byte effect parameter block.
type TriggerEffectRequest struct {
	Left   bool   `json:"left"`
	Right  bool   `json:"right"`
	Mode   uint8  `json:"mode"`
	Params []byte `json:"params,omitempty"`
}

type FirmwareInfoResponse struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	BuildTime string `json:"buildTime"`
}

// FirmwareStartRequest carries a complete firmware image, base64 encoded, with
// its declared size and CRC-32 checksum for validation before any device
// traffic.
type FirmwareStartRequest struct {
	Size     int     `json:"size"`
	Checksum *uint32 `json:"checksum"`
	Data     string  `json:"data"`
}

// UnmarshalJSON accepts the checksum as either a JSON number or a hex string
// (e.g. "0x89ab12cd"), since firmware release notes list it in hex.
func (r *FirmwareStartRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Size     int    `json:"size"`
		Checksum any    `json:"checksum"`
		Data     string `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Size = raw.Size
	r.Data = raw.Data
	if raw.Checksum != nil {
		val, err := parseUint32OrHex(raw.Checksum)
		if err != nil {
			return fmt.Errorf("checksum: %w", err)
		}
		r.Checksum = &val
	}
	return nil
}

type FirmwareStartResponse struct {
	Handle  string `json:"handle"`
	Size    int    `json:"size"`
	Version string `json:"version"`
}

// FirmwareLatestResponse reports the newest firmware version published on the
// vendor update CDN for a controller's product.
type FirmwareLatestResponse struct {
	Version string `json:"version"`
}

// FirmwareUpdateLatestResponse confirms an update started with an image
// downloaded from the vendor CDN. Release is the CDN version string, Version
// the firmware version embedded in the image header.
type FirmwareUpdateLatestResponse struct {
	Handle  string `json:"handle"`
	Release string `json:"release"`
	Size    int    `json:"size"`
	Version string `json:"version"`
}

type OkResponse struct {
	Ok bool `json:"ok"`
}

type ProfileListResponse struct {
	Profiles []string `json:"profiles"`
}

type ProfileApplyRequest struct {
	Name string `json:"name"`
}

// TouchPoint mirrors one touchpad contact in an input snapshot.
type TouchPoint struct {
	Active bool   `json:"active"`
	ID     uint8  `json:"id"`
	X      uint16 `json:"x"`
	Y      uint16 `json:"y"`
}

// InputState is the decoded controller input carried by input events.
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

	Battery BatteryResponse `json:"battery"`
}

// InputSnapshot is one sequenced input state from the event stream.
type InputSnapshot struct {
	Seq   uint64     `json:"seq"`
	State InputState `json:"state"`
}

// FirmwareProgress reports firmware update milestones on the event stream.
type FirmwareProgress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Offset  int    `json:"offset,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Event is one entry from the controller event stream. Type is one of
// "attached", "detached", "state", "input" or "firmware".
type Event struct {
	Type   string `json:"type"`
	Handle string `json:"handle"`
	State  string `json:"state,omitempty"`
	Detail string `json:"detail,omitempty"`

	Input    *InputSnapshot    `json:"input,omitempty"`
	Firmware *FirmwareProgress `json:"firmware,omitempty"`
}

// parseUint32OrHex accepts either a JSON number or a hex string like
// "0x89ab12cd".
func parseUint32OrHex(v any) (uint32, error) {
	switch val := v.(type) {
	case float64:
		if val < 0 || val > 0xffffffff {
			return 0, fmt.Errorf("value %v out of uint32 range", val)
		}
		return uint32(val), nil
	case string:
		s := strings.TrimSpace(val)
		base := 10
		if strings.HasPrefix(strings.ToLower(s), "0x") {
			s = s[2:]
			base = 16
		} else if strings.ContainsAny(s, "abcdefABCDEF") {
			base = 16
		}
		parsed, err := strconv.ParseUint(s, base, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid hex/numeric string %q: %w", val, err)
		}
		return uint32(parsed), nil
	default:
		return 0, fmt.Errorf("expected number or hex string, got %T", v)
	}
}
