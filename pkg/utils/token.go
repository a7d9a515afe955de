package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// Returns a random URL-safe token with 32 bytes of entropy.
func SecureToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
