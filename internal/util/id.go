package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a URL-safe hex string used for request and guest cart tokens.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewRecordID returns a random UUID for persisted records.
func NewRecordID() string {
	return uuid.NewString()
}
