package auth

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dualsense-tools/dsud/apitypes"
	apierror "github.com/dualsense-tools/dsud/internal/server/api/error"
)

// Wire layout: the client opens with magic + nonce + HMAC proof, the server
// answers "OK\x00" + its own nonce, or a problem+json line on refusal. Both
// ends then switch to the encrypted framing keyed off both nonces.
const (
	HandshakeMagic = "eDS1\x00"
	NonceSize      = 32
)

var okPrefix = []byte("OK\x00")

// IsHandshake reports whether the connection opens with the handshake magic
// instead of a plain request. Peeks without consuming.
func IsHandshake(r *bufio.Reader) (bool, error) {
	b, err := r.Peek(len(HandshakeMagic))
	if err != nil {
		return false, err
	}
	return string(b) == HandshakeMagic, nil
}

func proof(key, nonce []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(authContext))
	mac.Write(nonce)
	return mac.Sum(nil)
}

// ClientHandshake runs the client side of the handshake and returns the
// session key to pass to WrapConn.
func ClientHandshake(r *bufio.Reader, w io.Writer, key []byte) ([]byte, error) {
	if r == nil || w == nil {
		return nil, fmt.Errorf("handshake: nil connection")
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("handshake: missing key")
	}

	clientNonce := make([]byte, NonceSize)
	if _, err := rand.Read(clientNonce); err != nil {
		return nil, fmt.Errorf("generate client nonce: %w", err)
	}
	msg := make([]byte, 0, len(HandshakeMagic)+NonceSize+sha256.Size)
	msg = append(msg, HandshakeMagic...)
	msg = append(msg, clientNonce...)
	msg = append(msg, proof(key, clientNonce)...)
	if _, err := w.Write(msg); err != nil {
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	prefix := make([]byte, len(okPrefix))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	if string(prefix) != string(okPrefix) {
		rest, _ := io.ReadAll(r)
		line := strings.TrimSuffix(string(append(prefix, rest...)), "\n")
		var apiErr apitypes.ApiError
		if json.Unmarshal([]byte(line), &apiErr) == nil && (apiErr.Status != 0 || apiErr.Title != "") {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("invalid handshake response from server: %s", line)
	}

	serverNonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, serverNonce); err != nil {
		return nil, fmt.Errorf("read server nonce: %w", err)
	}
	return sessionKey(key, clientNonce, serverNonce), nil
}

// ServerHandshake runs the server side. The caller has already matched the
// magic with IsHandshake; it is consumed here. A failed proof comes back as
// a 401 the server writes to the client before closing.
func ServerHandshake(r *bufio.Reader, w io.Writer, key []byte) ([]byte, error) {
	if r == nil || w == nil {
		return nil, fmt.Errorf("handshake: nil connection")
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("handshake: missing key")
	}

	if _, err := r.Discard(len(HandshakeMagic)); err != nil {
		return nil, fmt.Errorf("discard handshake magic: %w", err)
	}
	clientNonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, clientNonce); err != nil {
		return nil, fmt.Errorf("read client nonce: %w", err)
	}
	clientProof := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, clientProof); err != nil {
		return nil, fmt.Errorf("read client proof: %w", err)
	}
	if !hmac.Equal(clientProof, proof(key, clientNonce)) {
		return nil, apierror.ErrUnauthorized("invalid password")
	}

	serverNonce := make([]byte, NonceSize)
	if _, err := rand.Read(serverNonce); err != nil {
		return nil, fmt.Errorf("generate server nonce: %w", err)
	}
	resp := make([]byte, 0, len(okPrefix)+NonceSize)
	resp = append(resp, okPrefix...)
	resp = append(resp, serverNonce...)
	if _, err := w.Write(resp); err != nil {
		return nil, fmt.Errorf("write handshake response: %w", err)
	}
	return sessionKey(key, clientNonce, serverNonce), nil
}
