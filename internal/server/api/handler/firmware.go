package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/firmware"
	"github.com/dualsense-tools/dsud/internal/server/api"
	apierror "github.com/dualsense-tools/dsud/internal/server/api/error"
)

// FirmwareInfo returns a handler reading the firmware build info report.
func FirmwareInfo(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		info, err := s.FirmwareInfo(req.Ctx)
		if err != nil {
			return err
		}
		b, err := json.Marshal(apitypes.FirmwareInfoResponse{
			Version:   fmt.Sprintf("0x%04x", info.Version),
			BuildDate: info.BuildDate,
			BuildTime: info.BuildTime,
		})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}

// FirmwareLatest returns a handler querying the vendor update CDN for the
// newest published firmware version for this controller's product.
func FirmwareLatest(core *daemon.Core, fetcher *firmware.Fetcher) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		version, err := fetcher.LatestVersion(req.Ctx, s.Address().ProductID)
		if err != nil {
			return err
		}
		b, err := json.Marshal(apitypes.FirmwareLatestResponse{Version: version})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}

// FirmwareUpdateLatest returns a handler that downloads the newest published
// image for the controller's product from the update CDN and starts the
// transfer with it.
func FirmwareUpdateLatest(core *daemon.Core, fetcher *firmware.Fetcher) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		product := s.Address().ProductID
		release, err := fetcher.LatestVersion(req.Ctx, product)
		if err != nil {
			return err
		}
		logger.Info("downloading firmware",
			slog.String("handle", s.Handle()),
			slog.String("release", release))
		data, err := fetcher.Download(req.Ctx, product, release, nil)
		if err != nil {
			return err
		}
		// The CDN publishes no checksum; Load still enforces the size and
		// header layout.
		img, err := firmware.Load(data, len(data), crc32.ChecksumIEEE(data))
		if err != nil {
			return err
		}
		logger.Info("starting firmware update",
			slog.String("handle", s.Handle()),
			slog.Int("size", img.Size()),
			slog.String("version", fmt.Sprintf("0x%04x", img.Version())))
		if err := s.StartUpdate(req.Ctx, img); err != nil {
			return err
		}
		b, err := json.Marshal(apitypes.FirmwareUpdateLatestResponse{
			Handle:  s.Handle(),
			Release: release,
			Size:    img.Size(),
			Version: fmt.Sprintf("0x%04x", img.Version()),
		})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}

// FirmwareStart returns a handler validating a firmware image and starting
// the transfer. Validation happens entirely host-side before any device
// traffic.
func FirmwareStart(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var body apitypes.FirmwareStartRequest
		if err := json.Unmarshal([]byte(req.Payload), &body); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if body.Data == "" {
			return apierror.ErrBadRequest("missing firmware data")
		}
		if body.Checksum == nil {
			return apierror.ErrBadRequest("missing firmware checksum")
		}
		data, err := base64.StdEncoding.DecodeString(body.Data)
		if err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid base64 firmware data: %v", err))
		}
		img, err := firmware.Load(data, body.Size, *body.Checksum)
		if err != nil {
			return err
		}
		logger.Info("starting firmware update",
			slog.String("handle", s.Handle()),
			slog.Int("size", img.Size()),
			slog.String("version", fmt.Sprintf("0x%04x", img.Version())))
		if err := s.StartUpdate(req.Ctx, img); err != nil {
			return err
		}
		b, err := json.Marshal(apitypes.FirmwareStartResponse{
			Handle:  s.Handle(),
			Size:    img.Size(),
			Version: fmt.Sprintf("0x%04x", img.Version()),
		})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}

// FirmwareAbort returns a handler cancelling a running update before its
// finalize window.
func FirmwareAbort(core *daemon.Core) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		s, err := resolveSession(core, req)
		if err != nil {
			return err
		}
		if err := s.AbortUpdate(req.Ctx); err != nil {
			return err
		}
		return okResponse(res)
	}
}
