package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/report"
	"github.com/dualsense-tools/dsud/internal/server/api"
	apierror "github.com/dualsense-tools/dsud/internal/server/api/error"
)

// Mic returns a handler muting or unmuting the microphone.
func Mic(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.MicRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if err := s.SetMic(req.Ctx, body.Muted); err != nil {
			return err
		}
		return okResponse(res)
	}
}

// MicLed returns a handler setting the mute button LED mode.
func MicLed(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.MicLedRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		mode, err := parseMicLedMode(body.Mode)
		if err != nil {
			return err
		}
		if err := s.SetMicLed(req.Ctx, mode); err != nil {
			return err
		}
		return okResponse(res)
	}
}

func parseMicLedMode(mode string) (report.MicLedMode, error) {
	switch mode {
	case "off":
		return report.MicLedOff, nil
	case "on":
		return report.MicLedOn, nil
	case "pulse":
		return report.MicLedPulse, nil
	default:
		return 0, apierror.ErrBadRequest(fmt.Sprintf("unknown mic led mode: %q (want off, on or pulse)", mode))
	}
}
