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

// Lightbar returns a handler setting the lightbar color and brightness.
func Lightbar(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.LightbarRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if err := s.SetLightbar(req.Ctx, report.LedState{
			R:          body.R,
			G:          body.G,
			B:          body.B,
			Brightness: body.Brightness,
		}); err != nil {
			return err
		}
		return okResponse(res)
	}
}

// LightbarEnabled returns a handler switching the lightbar on or off.
func LightbarEnabled(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.LightbarEnabledRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if err := s.SetLightbarEnabled(req.Ctx, body.Enabled); err != nil {
			return err
		}
		return okResponse(res)
	}
}

func okResponse(res *api.Response) error {
	b, err := json.Marshal(apitypes.OkResponse{Ok: true})
	if err != nil {
		return err
	}
	res.JSON = string(b)
	return nil
}
