package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/server/api"
	apierror "github.com/dualsense-tools/dsud/internal/server/api/error"
)

// Speaker returns a handler selecting the audio output path.
func Speaker(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.SpeakerRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		switch body.Mode {
		case "internal", "headphone", "both":
		default:
			return apierror.ErrBadRequest(fmt.Sprintf("unknown speaker mode: %q (want internal, headphone or both)", body.Mode))
		}
		if err := s.SetSpeaker(req.Ctx, body.Mode); err != nil {
			return err
		}
		return okResponse(res)
	}
}

// Volume returns a handler setting headphone and speaker volume.
func Volume(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.VolumeRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if err := s.SetVolume(req.Ctx, body.Volume); err != nil {
			return err
		}
		return okResponse(res)
	}
}

// TriggerEffect returns a handler programming an adaptive trigger effect.
func TriggerEffect(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.TriggerEffectRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if !body.Left && !body.Right {
			return apierror.ErrBadRequest("no trigger selected")
		}
		if err := s.SetTriggerEffect(req.Ctx, body.Left, body.Right, body.Mode, body.Params); err != nil {
			return err
		}
		return okResponse(res)
	}
}
