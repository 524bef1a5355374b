package auth

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Conn frames traffic as length-prefixed ChaCha20-Poly1305 packets: a u32
// length, a 12-byte counter nonce, then ciphertext. The counter only ever
// increments within one connection, so nonces never repeat under a session
// key.
type Conn struct {
	net.Conn
	aead cipher.AEAD

	writeMu sync.Mutex
	counter uint64

	plain bytes.Buffer
}

const maxFrameSize = 2 << 20

// WrapConn layers the encrypted framing over conn using the session key
// returned by the handshake.
func WrapConn(conn net.Conn, sessionKey []byte) (net.Conn, error) {
	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, aead: aead}, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], c.counter)
	c.counter++

	frame := make([]byte, 4+len(nonce), 4+len(nonce)+len(p)+c.aead.Overhead())
	copy(frame[4:], nonce)
	frame = c.aead.Seal(frame, nonce, p, nil)
	binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)-4))

	if _, err := c.Conn.Write(frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Read(p []byte) (int, error) {
	if c.plain.Len() == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(c.Conn, hdr[:]); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(hdr[:])
		if size < chacha20poly1305.NonceSize || size > maxFrameSize {
			return 0, fmt.Errorf("auth: bad frame size %d", size)
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(c.Conn, frame); err != nil {
			return 0, err
		}
		pt, err := c.aead.Open(nil, frame[:chacha20poly1305.NonceSize], frame[chacha20poly1305.NonceSize:], nil)
		if err != nil {
			return 0, err
		}
		c.plain.Write(pt)
	}
	return c.plain.Read(p)
}
