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

// PlayerLeds returns a handler selecting the player indicator pattern.
func PlayerLeds(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.PlayerLedsRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if int(body.Player) >= report.MaxPlayerLeds {
			return apierror.ErrBadRequest(fmt.Sprintf("player number %d out of range (max %d)", body.Player, report.MaxPlayerLeds-1))
		}
		if err := s.SetPlayerLeds(req.Ctx, body.Player); err != nil {
			return err
		}
		return okResponse(res)
	}
}
