package security

import (
	"context"
	"crypto/des" //nolint:staticcheck // VNC Authentication is specified in terms of raw DES-ECB
	"fmt"

	"github.com/openrv/govnc/internal/transport"
)

const challengeSize = 16

// VNCAuthHandler implements the classic VNC Authentication challenge: the
// server sends a 16-byte challenge, the client returns it DES-encrypted
// under a key derived from the password by bit-reversing each byte.
type VNCAuthHandler struct{}

// reverseBits mirrors VncDES::encrypt's per-byte bit reversal: VNC's DES
// variant feeds the key to the cipher with every byte's bits flipped
// end-to-end.
func reverseBits(b byte) byte {
	var out byte
	for j := 0; j < 8; j++ {
		if b&(1<<uint(j)) != 0 {
			out |= 1 << uint(7-j)
		}
	}
	return out
}

// desKey derives the 8-byte DES key from password: truncate to 8 bytes (or
// zero-pad if shorter), then bit-reverse each byte.
func desKey(password string) []byte {
	key := make([]byte, 8)
	n := len(password)
	if n > 8 {
		n = 8
	}
	for i := 0; i < n; i++ {
		key[i] = reverseBits(password[i])
	}
	return key
}

// Respond computes the 16-byte DES-ECB response to challenge under
// password's derived key, exposed standalone for golden-vector tests.
func Respond(challenge [challengeSize]byte, password string) ([challengeSize]byte, error) {
	block, err := des.NewCipher(desKey(password))
	if err != nil {
		return [challengeSize]byte{}, fmt.Errorf("des key setup: %w", err)
	}
	var response [challengeSize]byte
	block.Encrypt(response[0:8], challenge[0:8])
	block.Encrypt(response[8:16], challenge[8:16])
	return response, nil
}

func (VNCAuthHandler) Run(ctx context.Context, conn *transport.Transport, password string) error {
	var challenge [challengeSize]byte
	if err := conn.ReadBlocking(ctx, challenge[:]); err != nil {
		return fmt.Errorf("reading VNC auth challenge: %w", err)
	}
	response, err := Respond(challenge, password)
	if err != nil {
		return err
	}
	if err := conn.WriteBlocking(ctx, response[:]); err != nil {
		return fmt.Errorf("writing VNC auth response: %w", err)
	}
	return nil
}
