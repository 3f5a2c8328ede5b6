package rfbserver

import (
	"bytes"
	"crypto/des"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// SecurityType is RFB's authentication-method negotiation value.
type SecurityType uint8

const (
	SecTypeInvalid SecurityType = 0
	SecTypeNone    SecurityType = 1
	SecTypeVNC     SecurityType = 2
)

// Security result words, RFC 6143 §7.1.3.
const (
	secResultOK     uint32 = 0
	secResultFailed uint32 = 1
)

// SecurityHandler authenticates one connecting client. The list of
// acceptable types and any credentials come from the authentication
// collaborator; the default configuration carries only SecTypeNone.
type SecurityHandler interface {
	Type() SecurityType
	Auth(rw io.ReadWriter) error
}

// ServerAuthNone is the "none" authentication, RFC 6143 §7.2.1. The
// handshake completes immediately with an implicit success.
type ServerAuthNone struct{}

// Type implements the SecurityHandler interface.
func (*ServerAuthNone) Type() SecurityType { return SecTypeNone }

// Auth implements the SecurityHandler interface.
func (*ServerAuthNone) Auth(io.ReadWriter) error { return nil }

// ServerAuthVNC is the standard DES challenge authentication,
// RFC 6143 §7.2.2.
type ServerAuthVNC struct {
	Password []byte
}

// Type implements the SecurityHandler interface.
func (*ServerAuthVNC) Type() SecurityType { return SecTypeVNC }

// Auth implements the SecurityHandler interface.
func (auth *ServerAuthVNC) Auth(rw io.ReadWriter) error {
	var challenge [16]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return err
	}
	if err := binary.Write(rw, binary.BigEndian, challenge); err != nil {
		return err
	}

	var response [16]byte
	if err := binary.Read(rw, binary.BigEndian, &response); err != nil {
		return err
	}

	expected, err := AuthVNCEncode(auth.Password, challenge[:])
	if err != nil {
		return err
	}
	if !bytes.Equal(expected, response[:]) {
		return serverErrorf("vnc-auth", ErrUnsupported, "password mismatch")
	}
	return nil
}

// AuthVNCEncode encrypts a 16-byte challenge with the password as DES
// key. Each key byte is bit-reversed first; this is non RFC-documented
// behaviour shared by all VNC clients and servers.
func AuthVNCEncode(password []byte, challenge []byte) ([]byte, error) {
	if len(password) > 8 {
		return nil, fmt.Errorf("password too long")
	}
	if len(challenge) != 16 {
		return nil, fmt.Errorf("challenge size not 16 bytes")
	}
	key := make([]byte, 8)
	copy(key, password)
	for i := range key {
		key[i] = (key[i]&0x55)<<1 | (key[i]&0xAA)>>1 // Swap adjacent bits
		key[i] = (key[i]&0x33)<<2 | (key[i]&0xCC)>>2 // Swap adjacent pairs
		key[i] = (key[i]&0x0F)<<4 | (key[i]&0xF0)>>4 // Swap the 2 halves
	}

	cipher, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	copy(out, challenge)
	for i := 0; i < len(out); i += cipher.BlockSize() {
		cipher.Encrypt(out[i:i+cipher.BlockSize()], out[i:i+cipher.BlockSize()])
	}
	return out, nil
}
