package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

const credentialAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomCredential generates a lowercase alphanumeric secret of the given
// length, suitable for generated database usernames and passwords.
func RandomCredential(length int) (string, error) {
	if length <= 0 {
		length = 20
	}
	raw := make([]byte, length*4)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		v := binary.BigEndian.Uint32(raw[i*4 : i*4+4])
		out[i] = credentialAlphabet[v%uint32(len(credentialAlphabet))]
	}
	return string(out), nil
}
