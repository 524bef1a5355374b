// Package handler implements the API route handlers.
package handler

import (
	"github.com/dualsense-tools/dsud/internal/daemon"
	apierror "github.com/dualsense-tools/dsud/internal/server/api/error"
	"github.com/dualsense-tools/dsud/internal/session"

	"github.com/dualsense-tools/dsud/internal/server/api"
)

// resolveSession maps the {serial} route parameter to its session.
func resolveSession(core *daemon.Core, req *api.Request) (*session.Session, error) {
	serial, ok := req.Params["serial"]
	if !ok || serial == "" {
		return nil, apierror.ErrBadRequest("missing serial parameter")
	}
	s, err := core.Lookup(serial)
	if err != nil {
		return nil, err
	}
	return s, nil
}
