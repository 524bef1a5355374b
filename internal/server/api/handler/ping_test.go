package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dualsense-tools/dsud/apiclient"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/server/api"
	"github.com/dualsense-tools/dsud/internal/server/api/handler"
	htesting "github.com/dualsense-tools/dsud/internal/testing"
	"github.com/dualsense-tools/dsud/internal/version"
)

func TestPing(t *testing.T) {
	addr, _, _, done := htesting.StartAPIServer(t, func(r *api.Router, core *daemon.Core, apiSrv *api.Server) {
		r.Register("ping", handler.Ping())
	})
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("ping", nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, `{"server":"dsud","version":"`+version.Get()+`"}`, line)
}
