// Package auth implements the optional password handshake and the encrypted
// framing used on authenticated management connections.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	generatedKeyLen = 16
	keyAlphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	kdfSalt       = "dsud-Key-v1"
	kdfIterations = 100000

	authContext    = "dsud-Auth-v1"
	sessionContext = "dsud-Session-v1"
)

// GenerateKey produces a random base62 key for first-start provisioning.
func GenerateKey() (string, error) {
	raw := make([]byte, generatedKeyLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, generatedKeyLen)
	for i, b := range raw {
		out[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(out), nil
}

// DeriveKey stretches a password into the 32-byte handshake key.
func DeriveKey(password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}
	return pbkdf2.Key([]byte(password), []byte(kdfSalt), kdfIterations, 32, sha256.New), nil
}

// sessionKey mixes the shared key with both handshake nonces. Plain SHA-256
// mixing keeps non-Go client implementations simple.
func sessionKey(key, clientNonce, serverNonce []byte) []byte {
	h := sha256.New()
	h.Write(key)
	h.Write(serverNonce)
	h.Write(clientNonce)
	h.Write([]byte(sessionContext))
	return h.Sum(nil)
}
