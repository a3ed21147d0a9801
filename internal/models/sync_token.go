package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// SyncToken binds a hashed bearer token to one terminal
type SyncToken struct {
	TokenHash  string
	TerminalID string
	CreatedAt  int64
}

// GenerateToken generates a random sync token
func GenerateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// HashToken creates a SHA256 hash of a sync token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
