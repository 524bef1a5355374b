package auth_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualsense-tools/dsud/internal/server/api/auth"
)

func wrappedPipe(t *testing.T, clientPassword, serverPassword string) (client, server net.Conn) {
	t.Helper()
	ck, err := auth.DeriveKey(clientPassword)
	require.NoError(t, err)
	sk, err := auth.DeriveKey(serverPassword)
	require.NoError(t, err)

	rawClient, rawServer := net.Pipe()
	client, err = auth.WrapConn(rawClient, ck)
	require.NoError(t, err)
	server, err = auth.WrapConn(rawServer, sk)
	require.NoError(t, err)
	return client, server
}

func TestConnRoundTrip(t *testing.T) {
	client, server := wrappedPipe(t, "hunter2", "hunter2")
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("ping\x00"))
		_, _ = client.Write([]byte("second frame"))
	}()

	buf := make([]byte, 5)
	_, err := io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping\x00", string(buf))

	// Partial reads drain one decrypted frame across calls.
	small := make([]byte, 6)
	_, err = io.ReadFull(server, small)
	require.NoError(t, err)
	assert.Equal(t, "second", string(small))
	rest := make([]byte, 6)
	_, err = io.ReadFull(server, rest)
	require.NoError(t, err)
	assert.Equal(t, " frame", string(rest))

	// And the reverse direction uses its own counter.
	go func() { _, _ = server.Write([]byte("pong")) }()
	reply := make([]byte, 4)
	_, err = io.ReadFull(client, reply)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))
}

func TestConnKeyMismatch(t *testing.T) {
	client, server := wrappedPipe(t, "hunter2", "hunter3")
	defer client.Close()
	defer server.Close()

	go func() { _, _ = client.Write([]byte("hello")) }()

	buf := make([]byte, 5)
	_, err := server.Read(buf)
	assert.Error(t, err)
}

func TestConnRejectsBadFrameSize(t *testing.T) {
	key, err := auth.DeriveKey("hunter2")
	require.NoError(t, err)

	rawClient, rawServer := net.Pipe()
	defer rawClient.Close()
	client, err := auth.WrapConn(rawClient, key)
	require.NoError(t, err)

	go func() {
		defer rawServer.Close()
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], 64<<20)
		_, _ = rawServer.Write(hdr[:])
	}()

	buf := make([]byte, 16)
	_, err = client.Read(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad frame size")
}

func TestWrapConnRejectsShortKey(t *testing.T) {
	rawClient, rawServer := net.Pipe()
	defer rawClient.Close()
	defer rawServer.Close()

	_, err := auth.WrapConn(rawClient, make([]byte, 16))
	assert.Error(t, err)
}
