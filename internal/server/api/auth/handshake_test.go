package auth_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualsense-tools/dsud/apitypes"
	"github.com/dualsense-tools/dsud/internal/server/api/auth"
)

func TestIsHandshake(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(auth.HandshakeMagic + "rest"))
	ok, err := auth.IsHandshake(r)
	require.NoError(t, err)
	assert.True(t, ok)

	r = bufio.NewReader(strings.NewReader("ping\x00"))
	ok, err = auth.IsHandshake(r)
	require.NoError(t, err)
	assert.False(t, ok)

	// Too short to peek the magic.
	r = bufio.NewReader(strings.NewReader("hi"))
	_, err = auth.IsHandshake(r)
	assert.Error(t, err)
}

// runServer drives the server side of a handshake over conn, emulating the
// API server: on a failed proof it writes the problem+json line back.
func runServer(t *testing.T, conn net.Conn, key []byte) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		defer conn.Close()
		r := bufio.NewReader(conn)
		ok, err := auth.IsHandshake(r)
		if err != nil || !ok {
			return
		}
		sessionKey, err := auth.ServerHandshake(r, conn, key)
		if err != nil {
			var apiErr apitypes.ApiError
			if b, merr := json.Marshal(err); merr == nil && json.Unmarshal(b, &apiErr) == nil {
				_, _ = conn.Write(append(b, '\n'))
			}
			return
		}
		out <- sessionKey
	}()
	return out
}

func TestHandshakeRoundTrip(t *testing.T) {
	key, err := auth.DeriveKey("hunter2")
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	serverKeyCh := runServer(t, serverConn, key)

	clientKey, err := auth.ClientHandshake(bufio.NewReader(clientConn), clientConn, key)
	require.NoError(t, err)
	require.Len(t, clientKey, 32)

	serverKey := <-serverKeyCh
	assert.Equal(t, clientKey, serverKey)
}

func TestHandshakeSessionKeysDifferPerConnection(t *testing.T) {
	key, err := auth.DeriveKey("hunter2")
	require.NoError(t, err)

	run := func() []byte {
		clientConn, serverConn := net.Pipe()
		defer clientConn.Close()
		ch := runServer(t, serverConn, key)
		sk, err := auth.ClientHandshake(bufio.NewReader(clientConn), clientConn, key)
		require.NoError(t, err)
		<-ch
		return sk
	}

	// Fresh nonces on every handshake mean fresh session keys.
	assert.NotEqual(t, run(), run())
}

func TestHandshakeWrongPassword(t *testing.T) {
	serverKey, err := auth.DeriveKey("hunter2")
	require.NoError(t, err)
	clientKey, err := auth.DeriveKey("letmein")
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	runServer(t, serverConn, serverKey)

	_, err = auth.ClientHandshake(bufio.NewReader(clientConn), clientConn, clientKey)
	require.Error(t, err)

	var apiErr *apitypes.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestClientHandshakeProblemResponse(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		defer serverConn.Close()
		buf := make([]byte, len(auth.HandshakeMagic)+auth.NonceSize+32)
		if _, err := io.ReadFull(serverConn, buf); err != nil {
			return
		}
		problem, _ := json.Marshal(apitypes.ApiError{Status: 503, Title: "Service Unavailable"})
		_, _ = serverConn.Write(append(problem, '\n'))
	}()

	key, err := auth.DeriveKey("hunter2")
	require.NoError(t, err)
	_, err = auth.ClientHandshake(bufio.NewReader(clientConn), clientConn, key)

	var apiErr *apitypes.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)
}

func TestClientHandshakeGarbageResponse(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		defer serverConn.Close()
		buf := make([]byte, len(auth.HandshakeMagic)+auth.NonceSize+32)
		if _, err := io.ReadFull(serverConn, buf); err != nil {
			return
		}
		_, _ = serverConn.Write([]byte("NO\x00" + strings.Repeat("x", 8)))
	}()

	key, err := auth.DeriveKey("hunter2")
	require.NoError(t, err)
	_, err = auth.ClientHandshake(bufio.NewReader(clientConn), clientConn, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid handshake response")
}

func TestServerHandshakeTruncatedClient(t *testing.T) {
	key, err := auth.DeriveKey("hunter2")
	require.NoError(t, err)

	// Magic and nonce but no proof.
	var buf bytes.Buffer
	buf.WriteString(auth.HandshakeMagic)
	buf.Write(make([]byte, auth.NonceSize))

	_, err = auth.ServerHandshake(bufio.NewReader(&buf), io.Discard, key)
	assert.Error(t, err)
}

func TestHandshakeMissingKey(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	_, err := auth.ClientHandshake(r, io.Discard, nil)
	assert.Error(t, err)
	_, err = auth.ServerHandshake(r, io.Discard, nil)
	assert.Error(t, err)
}
