package apiclient_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiclient "github.com/dualsense-tools/dsud/apiclient"
	"github.com/dualsense-tools/dsud/internal/daemon"
	api "github.com/dualsense-tools/dsud/internal/server/api"
	handler "github.com/dualsense-tools/dsud/internal/server/api/handler"
	htesting "github.com/dualsense-tools/dsud/internal/testing"
)

func TestOpenEvents_NotSupportedWithMockTransport(t *testing.T) {
	c := testClient(map[string]string{}, nil)
	_, err := c.OpenEvents(context.Background(), "a1:b2")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not supported with mock transport")
}

func TestEventStreamDeliversStateAndInput(t *testing.T) {
	addr, core, hub, done := htesting.StartAPIServer(t, func(r *api.Router, core *daemon.Core, apiSrv *api.Server) {
		r.RegisterStream("controller/{serial}/events", handler.Events(core, 0))
	})
	defer done()

	htesting.Attach(t, core, "aa:bb:cc:dd:ee:01")

	c := apiclient.New(addr)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := c.OpenEvents(ctx, "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(3 * time.Second))

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "state", ev.Type)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", ev.Handle)
	assert.Equal(t, "ready", ev.State)

	hub.Channel("aa:bb:cc:dd:ee:01").PushInput(htesting.USBInputReport(0x08))

	for {
		ev, err = stream.Next()
		require.NoError(t, err)
		if ev.Type != "input" {
			continue
		}
		require.NotNil(t, ev.Input)
		assert.Equal(t, uint8(128), ev.Input.State.LeftX)
		return
	}
}

func TestEventStreamBackgroundReading(t *testing.T) {
	addr, core, hub, done := htesting.StartAPIServer(t, func(r *api.Router, core *daemon.Core, apiSrv *api.Server) {
		r.RegisterStream("controller/{serial}/events", handler.Events(core, 0))
	})
	defer done()

	htesting.Attach(t, core, "aa:bb:cc:dd:ee:02")

	c := apiclient.New(addr)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := c.OpenEvents(ctx, "aa:bb:cc:dd:ee:02")
	require.NoError(t, err)
	defer stream.Close()

	evCh, errCh := stream.StartReading(ctx, 16)

	hub.Channel("aa:bb:cc:dd:ee:02").PushInput(htesting.USBInputReport(0x04))

	sawInput := false
	for !sawInput {
		select {
		case ev := <-evCh:
			if ev.Type == "input" {
				sawInput = true
			}
		case err := <-errCh:
			t.Fatalf("stream error before input event: %v", err)
		}
	}
}

func TestEventStreamUnknownController(t *testing.T) {
	addr, _, _, done := htesting.StartAPIServer(t, func(r *api.Router, core *daemon.Core, apiSrv *api.Server) {
		r.RegisterStream("controller/{serial}/events", handler.Events(core, 0))
	})
	defer done()

	c := apiclient.New(addr)
	stream, err := c.OpenEvents(context.Background(), "nope")
	require.NoError(t, err) // dial succeeds; the error comes back on the wire
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = stream.Next()
	assert.Error(t, err)
}
