// Package transform applies per-controller input shaping to decoded
// snapshots before they reach subscribers: stick sensitivity curves and
// deadzones, trigger deadbands, and button remapping.
package transform

import (
	"math"

	"github.com/dualsense-tools/dsud/internal/report"
)

// Curve names a stick sensitivity response.
type Curve string

const (
	CurveDefault Curve = "default"
	CurveQuick   Curve = "quick"
	CurvePrecise Curve = "precise"
	CurveSteady  Curve = "steady"
	CurveDigital Curve = "digital"
	CurveDynamic Curve = "dynamic"
)

// Button names a physical control for remapping. DPad directions are
// included; they live in the hat nibble rather than the button bitmask.
type Button string

const (
	BtnSquare    Button = "square"
	BtnCross     Button = "cross"
	BtnCircle    Button = "circle"
	BtnTriangle  Button = "triangle"
	BtnL1        Button = "l1"
	BtnR1        Button = "r1"
	BtnL2        Button = "l2"
	BtnR2        Button = "r2"
	BtnCreate    Button = "create"
	BtnOptions   Button = "options"
	BtnL3        Button = "l3"
	BtnR3        Button = "r3"
	BtnPS        Button = "ps"
	BtnTouchpad  Button = "touchpad"
	BtnMute      Button = "mute"
	BtnDPadUp    Button = "dpad-up"
	BtnDPadRight Button = "dpad-right"
	BtnDPadDown  Button = "dpad-down"
	BtnDPadLeft  Button = "dpad-left"
)

var buttonMasks = map[Button]uint32{
	BtnSquare:   report.BtnSquare,
	BtnCross:    report.BtnCross,
	BtnCircle:   report.BtnCircle,
	BtnTriangle: report.BtnTriangle,
	BtnL1:       report.BtnL1,
	BtnR1:       report.BtnR1,
	BtnL2:       report.BtnL2,
	BtnR2:       report.BtnR2,
	BtnCreate:   report.BtnCreate,
	BtnOptions:  report.BtnOptions,
	BtnL3:       report.BtnL3,
	BtnR3:       report.BtnR3,
	BtnPS:       report.BtnPS,
	BtnTouchpad: report.BtnTouchpad,
	BtnMute:     report.BtnMute,
}

// Mask returns the bitmask for a non-dpad button.
func (b Button) Mask() (uint32, bool) {
	m, ok := buttonMasks[b]
	return m, ok
}

// TriggerDeadband remaps the analog trigger travel: values at or below
// Release read as 0, values at or beyond FullStroke read as 255.
type TriggerDeadband struct {
	Release    uint8 `json:"release"`
	FullStroke uint8 `json:"fullStroke"`
}

// DefaultDeadband is the identity trigger deadband.
var DefaultDeadband = TriggerDeadband{Release: 0, FullStroke: 255}

// Transform is one controller's input shaping settings. The zero value is
// the identity transform.
type Transform struct {
	LeftCurve     Curve   `json:"leftCurve,omitempty"`
	RightCurve    Curve   `json:"rightCurve,omitempty"`
	LeftDeadzone  float64 `json:"leftDeadzone,omitempty"`
	RightDeadzone float64 `json:"rightDeadzone,omitempty"`

	TriggerLeft  *TriggerDeadband `json:"triggerLeft,omitempty"`
	TriggerRight *TriggerDeadband `json:"triggerRight,omitempty"`

	Remap    map[Button]Button `json:"remap,omitempty"`
	Disabled []Button          `json:"disabled,omitempty"`
}

// Apply mutates a decoded input state in place.
func (t *Transform) Apply(s *report.InputState) {
	s.LeftX, s.LeftY = applyStick(s.LeftX, s.LeftY, t.LeftDeadzone, t.LeftCurve)
	s.RightX, s.RightY = applyStick(s.RightX, s.RightY, t.RightDeadzone, t.RightCurve)

	if t.TriggerLeft != nil {
		s.L2 = applyTrigger(s.L2, *t.TriggerLeft)
	}
	if t.TriggerRight != nil {
		s.R2 = applyTrigger(s.R2, *t.TriggerRight)
	}

	if len(t.Remap) > 0 || len(t.Disabled) > 0 {
		s.Buttons, s.DPad = t.remapButtons(s.Buttons, s.DPad)
	}
}

func applyCurve(v float64, curve Curve) float64 {
	switch curve {
	case CurveQuick:
		return math.Pow(v, 0.5)
	case CurvePrecise:
		return math.Pow(v, 2.2)
	case CurveSteady:
		return math.Pow(v, 1.6)
	case CurveDigital:
		if v > 0.5 {
			return 1
		}
		return 0
	case CurveDynamic:
		v2 := v * 2
		if v < 0.5 {
			return 0.5 * v2 * v2
		}
		return 1 - 0.5*(2-v2)*(2-v2)
	default:
		return v
	}
}

func applyStick(rawX, rawY uint8, deadzone float64, curve Curve) (uint8, uint8) {
	if deadzone <= 0 && (curve == "" || curve == CurveDefault) {
		return rawX, rawY
	}

	nx := (float64(rawX) - 128) / 127
	ny := (float64(rawY) - 128) / 127
	mag := math.Min(math.Sqrt(nx*nx+ny*ny), 1)

	if mag <= deadzone {
		return 128, 128
	}

	scaled := (mag - deadzone) / math.Max(1-deadzone, 1e-9)
	factor := applyCurve(scaled, curve) / mag

	clamp := func(v float64) uint8 {
		return uint8(math.Min(math.Max(math.Round(v), 0), 255))
	}
	return clamp(nx*factor*127 + 128), clamp(ny*factor*127 + 128)
}

func applyTrigger(raw uint8, db TriggerDeadband) uint8 {
	if db == DefaultDeadband {
		return raw
	}
	full := db.FullStroke
	if full <= db.Release {
		full = db.Release + 1
	}
	if raw <= db.Release {
		return 0
	}
	if raw >= full {
		return 255
	}
	return uint8(math.Round(float64(raw-db.Release) / float64(full-db.Release) * 255))
}

var dpadButtons = [4]Button{BtnDPadUp, BtnDPadRight, BtnDPadDown, BtnDPadLeft}

func dpadToDirs(dpad uint8) [4]bool {
	switch dpad {
	case report.DPadN:
		return [4]bool{true, false, false, false}
	case report.DPadNE:
		return [4]bool{true, true, false, false}
	case report.DPadE:
		return [4]bool{false, true, false, false}
	case report.DPadSE:
		return [4]bool{false, true, true, false}
	case report.DPadS:
		return [4]bool{false, false, true, false}
	case report.DPadSW:
		return [4]bool{false, false, true, true}
	case report.DPadW:
		return [4]bool{false, false, false, true}
	case report.DPadNW:
		return [4]bool{true, false, false, true}
	default:
		return [4]bool{}
	}
}

func dirsToDpad(d [4]bool) uint8 {
	up, right, down, left := d[0], d[1], d[2], d[3]
	switch {
	case up && right:
		return report.DPadNE
	case right && down:
		return report.DPadSE
	case down && left:
		return report.DPadSW
	case left && up:
		return report.DPadNW
	case up:
		return report.DPadN
	case right:
		return report.DPadE
	case down:
		return report.DPadS
	case left:
		return report.DPadW
	default:
		return report.DPadNeutral
	}
}

// remapButtons rebuilds the button mask and hat nibble with remapping and
// disabled buttons applied. A button mapped to a dpad direction presses that
// direction and vice versa.
func (t *Transform) remapButtons(buttons uint32, dpad uint8) (uint32, uint8) {
	dirs := dpadToDirs(dpad)
	pressed := func(b Button) bool {
		if m, ok := b.Mask(); ok {
			return buttons&m != 0
		}
		for i, db := range dpadButtons {
			if db == b {
				return dirs[i]
			}
		}
		return false
	}

	disabled := make(map[Button]bool, len(t.Disabled))
	for _, b := range t.Disabled {
		disabled[b] = true
	}

	target := func(b Button) Button {
		if to, ok := t.Remap[b]; ok {
			return to
		}
		return b
	}

	var outButtons uint32
	var outDirs [4]bool
	press := func(b Button) {
		if m, ok := b.Mask(); ok {
			outButtons |= m
			return
		}
		for i, db := range dpadButtons {
			if db == b {
				outDirs[i] = true
			}
		}
	}

	for b := range buttonMasks {
		if pressed(b) && !disabled[b] {
			press(target(b))
		}
	}
	for _, b := range dpadButtons {
		if pressed(b) && !disabled[b] {
			press(target(b))
		}
	}

	return outButtons, dirsToDpad(outDirs)
}
