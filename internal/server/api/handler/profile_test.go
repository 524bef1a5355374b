package handler_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualsense-tools/dsud/apiclient"
	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/profile"
	"github.com/dualsense-tools/dsud/internal/report"
	"github.com/dualsense-tools/dsud/internal/server/api"
	"github.com/dualsense-tools/dsud/internal/server/api/handler"
	htesting "github.com/dualsense-tools/dsud/internal/testing"
)

func startProfileServer(t *testing.T) (addr string, core *daemon.Core, hub *htesting.Hub, done func()) {
	t.Helper()
	store, err := profile.NewStore(t.TempDir())
	require.NoError(t, err)
	return htesting.StartAPIServer(t, func(r *api.Router, core *daemon.Core, apiSrv *api.Server) {
		r.Register("profile/list", handler.ProfileList(store))
		r.Register("profile/save", handler.ProfileSave(store))
		r.Register("profile/delete", handler.ProfileDelete(store))
		r.Register("controller/{serial}/profile/apply", handler.ProfileApply(core, store))
	})
}

func TestProfileLifecycle(t *testing.T) {
	addr, _, _, done := startProfileServer(t)
	defer done()

	c := apiclient.NewTransport(addr)

	line, err := c.Do("profile/list", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"profiles":[]}`, line)

	p := profile.Profile{
		Name:     "night",
		Lightbar: &report.LedState{R: 32, Brightness: 2},
	}
	line, err = c.Do("profile/save", p, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, line)

	line, err = c.Do("profile/list", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"profiles":["night"]}`, line)

	line, err = c.Do("profile/delete", apitypes.ProfileApplyRequest{Name: "night"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, line)

	line, err = c.Do("profile/list", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"profiles":[]}`, line)
}

func TestProfileSaveRejectsBadName(t *testing.T) {
	addr, _, _, done := startProfileServer(t)
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("profile/save", profile.Profile{Name: "../escape"}, nil)
	require.NoError(t, err)

	var problem apitypes.ApiError
	require.NoError(t, json.Unmarshal([]byte(line), &problem))
	assert.Equal(t, 400, problem.Status)
}

func TestProfileDeleteUnknown(t *testing.T) {
	addr, _, _, done := startProfileServer(t)
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("profile/delete", apitypes.ProfileApplyRequest{Name: "ghost"}, nil)
	require.NoError(t, err)

	var problem apitypes.ApiError
	require.NoError(t, json.Unmarshal([]byte(line), &problem))
	assert.Equal(t, 404, problem.Status)
}

func TestProfileApplyPushesSettings(t *testing.T) {
	addr, core, hub, done := startProfileServer(t)
	defer done()

	serial := "aa:bb:cc:dd:ee:30"
	htesting.Attach(t, core, serial)

	c := apiclient.NewTransport(addr)

	enabled := true
	player := uint8(2)
	p := profile.Profile{
		Name:            "fps",
		Lightbar:        &report.LedState{R: 255, G: 64, Brightness: 1},
		LightbarEnabled: &enabled,
		PlayerLeds:      &player,
	}
	line, err := c.Do("profile/save", p, nil)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, line)

	line, err = c.Do("controller/{serial}/profile/apply",
		apitypes.ProfileApplyRequest{Name: "fps"},
		map[string]string{"serial": serial})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, line)

	// One output report per populated field.
	writes := hub.Channel(serial).Writes()
	assert.Len(t, writes, 3)
}

func TestProfileApplyUnknownProfile(t *testing.T) {
	addr, core, _, done := startProfileServer(t)
	defer done()

	serial := "aa:bb:cc:dd:ee:31"
	htesting.Attach(t, core, serial)

	c := apiclient.NewTransport(addr)
	line, err := c.Do("controller/{serial}/profile/apply",
		apitypes.ProfileApplyRequest{Name: "missing"},
		map[string]string{"serial": serial})
	require.NoError(t, err)

	var problem apitypes.ApiError
	require.NoError(t, json.Unmarshal([]byte(line), &problem))
	assert.Equal(t, 404, problem.Status)
}
