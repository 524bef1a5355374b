package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/server/api"
	"github.com/dualsense-tools/dsud/internal/version"
)

// Ping returns a handler answering liveness probes with the server identity.
func Ping() api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		b, err := json.Marshal(apitypes.PingResponse{
			Server:  "dsud",
			Version: version.Get(),
		})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
