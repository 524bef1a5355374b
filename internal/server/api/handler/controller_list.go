package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/server/api"
)

// ControllerList returns a handler that lists attached controllers.
// Error logging is centralized in the API server.
func ControllerList(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		controllers := []apitypes.Controller{}
		for _, info := range core.List() {
			controllers = append(controllers, apitypes.Controller{
				Handle:    info.Handle,
				Bus:       info.Bus,
				ProductID: fmt.Sprintf("0x%04x", info.ProductID),
				State:     info.State,
			})
		}
		b, err := json.Marshal(apitypes.ControllerListResponse{Controllers: controllers})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
