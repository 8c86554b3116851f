package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewSessionID returns an opaque session identifier for the cookie.
func NewSessionID() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return "sess_" + hex.EncodeToString(buf)
}

// HashToken derives the storage key for a session id so a session-store dump
// never yields usable cookies.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
