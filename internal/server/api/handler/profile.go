package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/profile"
	"github.com/dualsense-tools/dsud/internal/server/api"
	apierror "github.com/dualsense-tools/dsud/internal/server/api/error"
	"github.com/dualsense-tools/dsud/internal/session"
)

// ProfileList returns a handler listing stored profile names.
func ProfileList(store *profile.Store) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		names, err := store.List()
		if err != nil {
			return err
		}
		if names == nil {
			names = []string{}
		}
		b, err := json.Marshal(apitypes.ProfileListResponse{Profiles: names})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}

// ProfileSave returns a handler storing a profile. The payload is the full
// profile document; saving under an existing name replaces it.
func ProfileSave(store *profile.Store) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var p profile.Profile
		if err := json.Unmarshal([]byte(req.Payload), &p); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if err := store.Save(p); err != nil {
			return err
		}
		logger.Info("profile saved", slog.String("name", p.Name))
		return okResponse(res)
	}
}

// ProfileDelete returns a handler removing a stored profile.
func ProfileDelete(store *profile.Store) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.ProfileApplyRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if body.Name == "" {
			return apierror.ErrBadRequest("missing profile name")
		}
		if err := store.Delete(body.Name); err != nil {
			return err
		}
		logger.Info("profile deleted", slog.String("name", body.Name))
		return okResponse(res)
	}
}

// ProfileApply returns a handler loading a profile and pushing its settings
// to one controller. Fields the profile leaves nil keep their current value.
func ProfileApply(core *daemon.Core, store *profile.Store) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.ProfileApplyRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		p, err := store.Load(body.Name)
		if err != nil {
			return err
		}
		if err := applyProfile(req.Ctx, s, p); err != nil {
			return err
		}
		logger.Info("profile applied",
			slog.String("name", p.Name),
			slog.String("handle", s.Handle()))
		return okResponse(res)
	}
}

func applyProfile(ctx context.Context, s *session.Session, p profile.Profile) error {
	if p.Lightbar != nil {
		if err := s.SetLightbar(ctx, *p.Lightbar); err != nil {
			return err
		}
	}
	if p.LightbarEnabled != nil {
		if err := s.SetLightbarEnabled(ctx, *p.LightbarEnabled); err != nil {
			return err
		}
	}
	if p.PlayerLeds != nil {
		if err := s.SetPlayerLeds(ctx, *p.PlayerLeds); err != nil {
			return err
		}
	}
	if p.MicLed != nil {
		if err := s.SetMicLed(ctx, *p.MicLed); err != nil {
			return err
		}
	}
	if p.MicMuted != nil {
		if err := s.SetMic(ctx, *p.MicMuted); err != nil {
			return err
		}
	}
	if p.RumbleAttenuation != nil || p.TriggerAttenuation != nil {
		var rumble, trigger uint8
		if p.RumbleAttenuation != nil {
			rumble = *p.RumbleAttenuation
		}
		if p.TriggerAttenuation != nil {
			trigger = *p.TriggerAttenuation
		}
		if err := s.SetVibration(ctx, rumble, trigger); err != nil {
			return err
		}
	}
	if p.TriggerEffect != nil {
		te := p.TriggerEffect
		if err := s.SetTriggerEffect(ctx, te.Left, te.Right, te.Mode, te.Params); err != nil {
			return err
		}
	}
	if p.Transform != nil {
		if err := s.SetTransform(ctx, p.Transform); err != nil {
			return err
		}
	}
	return nil
}
