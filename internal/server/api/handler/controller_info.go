package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/server/api"
)

// ControllerInfo returns a handler describing one controller.
func ControllerInfo(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		addr := s.Address()
		b, err := json.Marshal(apitypes.Controller{
			Handle:    s.Handle(),
			Bus:       addr.Bus.String(),
			ProductID: fmt.Sprintf("0x%04x", addr.ProductID),
			State:     s.State().String(),
		})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}

// ControllerBattery returns a handler reporting the latest battery reading.
func ControllerBattery(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		info, err := s.Battery(req.Ctx)
		if err != nil {
			return err
		}
		b, err := json.Marshal(apitypes.BatteryResponse{
			Capacity: info.Capacity,
			Status:   info.Status,
		})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
