package apiclient_test

import (
	"context"
	"errors"
	"testing"

	apiclient "github.com/dualsense-tools/dsud/apiclient"
	apitypes "github.com/dualsense-tools/dsud/apitypes"

	"github.com/stretchr/testify/assert"
)

// testClient constructs a client backed by a simple in-memory responder.
// responses maps full, already-filled paths (after path param substitution) to raw JSON payloads.
// If err is non-nil, every request returns that error, simulating dial failures.
func testClient(responses map[string]string, err error) *apiclient.Client {
	return apiclient.WithTransport(apiclient.NewMockTransport(func(path string, _ any, _ map[string]string) (string, error) {
		if err != nil {
			return "", err
		}
		if out, ok := responses[path]; ok {
			return out, nil
		}
		return "", nil
	}))
}

func TestHighLevelClient(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(responses map[string]string) (err error)
		call       func(c *apiclient.Client) (any, error)
		wantErr    string
		assertFunc func(t *testing.T, got any)
	}{
		{
			name: "ping success",
			setup: func(responses map[string]string) error {
				responses["ping"] = `{"server":"dsud","version":"0.0.1-dev"}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.Ping() },
			assertFunc: func(t *testing.T, got any) {
				resp, ok := got.(*apitypes.PingResponse)
				assert.True(t, ok, "expected *apitypes.PingResponse type")
				assert.Equal(t, "dsud", resp.Server)
			},
		},
		{
			name: "controller list",
			setup: func(responses map[string]string) error {
				responses["controller/list"] = `{"controllers":[{"handle":"a1:b2","bus":"usb","productId":"0x0ce6","state":"ready"}]}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.ControllerList() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.ControllerListResponse)
				assert.Len(t, resp.Controllers, 1)
				assert.Equal(t, "a1:b2", resp.Controllers[0].Handle)
			},
		},
		{
			name: "controller list empty",
			setup: func(responses map[string]string) error {
				responses["controller/list"] = `{"controllers":[]}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.ControllerList() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.ControllerListResponse)
				assert.Len(t, resp.Controllers, 0)
			},
		},
		{
			name: "battery",
			setup: func(responses map[string]string) error {
				responses["controller/{serial}/battery"] = `{"capacity":85,"status":"charging"}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.Battery("a1:b2") },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.BatteryResponse)
				assert.Equal(t, uint8(85), resp.Capacity)
				assert.Equal(t, "charging", resp.Status)
			},
		},
		{
			name: "structured error",
			setup: func(responses map[string]string) error {
				responses["controller/{serial}/info"] = `{"status":404,"title":"Not Found","detail":"unknown controller"}`
				return nil
			},
			call:    func(c *apiclient.Client) (any, error) { return c.ControllerInfo("nope") },
			wantErr: "404 Not Found: unknown controller",
		},
		{
			name: "set lightbar ok",
			setup: func(responses map[string]string) error {
				responses["controller/{serial}/led"] = `{"ok":true}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) {
				return nil, c.SetLightbar("a1:b2", 255, 0, 64, 2)
			},
		},
		{
			name:    "transport failure",
			setup:   func(responses map[string]string) error { return errors.New("dial fail") },
			call:    func(c *apiclient.Client) (any, error) { return c.ControllerList() },
			wantErr: "dial fail",
		},
		{
			name:    "blank response error",
			setup:   func(responses map[string]string) error { return nil },
			call:    func(c *apiclient.Client) (any, error) { return c.ControllerList() },
			wantErr: "empty response",
		},
		{
			name: "profile list",
			setup: func(responses map[string]string) error {
				responses["profile/list"] = `{"profiles":["fps","media"]}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.ProfileList() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.ProfileListResponse)
				assert.Equal(t, []string{"fps", "media"}, resp.Profiles)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := map[string]string{}
			errInject := error(nil)
			if tt.setup != nil {
				if e := tt.setup(responses); e != nil {
					errInject = e
				}
			}
			c := testClient(responses, errInject)
			got, err := tt.call(c)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
			if tt.assertFunc != nil {
				tt.assertFunc(t, got)
			}
		})
	}
}

func TestContextCancellation(t *testing.T) {
	c := apiclient.WithTransport(apiclient.NewTransport("127.0.0.1:9")) // address irrelevant due to early cancel
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ControllerListCtx(ctx)
	assert.Error(t, err)
}

func TestStrictJSONDecode(t *testing.T) {
	responses := map[string]string{}
	responses["controller/list"] = `{"controllers":[],"extra":true}` // extra field should cause decode error
	c := testClient(responses, nil)
	_, err := c.ControllerList()
	assert.Error(t, err)
}
