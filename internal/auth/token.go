package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"strings"
)

const tokenBytes = 16

// newToken returns the raw random bytes behind a session. Clients only ever
// see the base64 form; the database only ever sees the SHA-512 digest.
func newToken() ([]byte, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeToken renders raw token bytes in the wire form handed to clients
// (unpadded standard base64, 22 characters for a 16-byte token).
func EncodeToken(raw []byte) string {
	return base64.RawStdEncoding.EncodeToString(raw)
}

// DecodeToken parses the wire form back into raw bytes. Padded input is
// tolerated.
func DecodeToken(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// TokenDigest is the at-rest form of a token.
func TokenDigest(raw []byte) []byte {
	d := sha512.Sum512(raw)
	return d[:]
}
