package handler

import (
	"log/slog"

	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/server/api"
)

// ControllerReset returns a handler clearing a faulted controller so it can
// reconnect.
func ControllerReset(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if err := s.Reset(req.Ctx); err != nil {
			return err
		}
		return okResponse(res)
	}
}
