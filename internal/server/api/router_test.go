package api

import (
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterMatch(t *testing.T) {
	r := NewRouter()
	var hit string
	reg := func(p string) {
		r.Register(p, func(req *Request, res *Response, logger *slog.Logger) error {
			hit = p
			return nil
		})
	}
	reg("ping")
	reg("controller/list")
	reg("controller/{serial}/battery")
	reg("controller/{serial}/firmware/info")

	tests := []struct {
		path       string
		want       string
		wantParams map[string]string
	}{
		{path: "ping", want: "ping"},
		{path: "PING", want: "ping"},
		{path: "controller/list", want: "controller/list"},
		{path: "controller/aa:bb:cc/battery", want: "controller/{serial}/battery",
			wantParams: map[string]string{"serial": "aa:bb:cc"}},
		{path: "controller/AA:BB:CC/Firmware/Info", want: "controller/{serial}/firmware/info",
			wantParams: map[string]string{"serial": "aa:bb:cc"}},
	}
	for _, tt := range tests {
		h, params := r.Match(tt.path)
		require.NotNil(t, h, tt.path)
		hit = ""
		require.NoError(t, h(&Request{}, &Response{}, nil))
		assert.Equal(t, tt.want, hit, tt.path)
		if tt.wantParams != nil {
			assert.Equal(t, tt.wantParams, params, tt.path)
		}
	}

	for _, path := range []string{"", "pong", "controller", "controller/x/battery/extra"} {
		h, _ := r.Match(path)
		assert.Nil(t, h, path)
	}
}

func TestRouterMatchStream(t *testing.T) {
	r := NewRouter()
	r.RegisterStream("controller/{serial}/events", func(conn net.Conn, params map[string]string, logger *slog.Logger) error {
		return nil
	})

	h, params := r.MatchStream("controller/aa:bb/events")
	require.NotNil(t, h)
	assert.Equal(t, "aa:bb", params["serial"])

	// Stream routes never match the plain dispatch table.
	plain, _ := r.Match("controller/aa:bb/events")
	assert.Nil(t, plain)
}
