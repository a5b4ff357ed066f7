// Package security issues and verifies API keys. Keys are shown to the
// caller exactly once at creation; only their SHA-256 hash is persisted.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// KeyPrefix marks issued keys so they are recognizable in logs and
	// support tickets without revealing the secret part.
	KeyPrefix = "pv_live_"

	keySecretBytes = 32
)

// GenerateKey returns a new random API key in the form pv_live_<64 hex
// chars>, together with the hash to persist.
func GenerateKey() (key, hash string, err error) {
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("generate key material: %w", err)
	}

	key = KeyPrefix + hex.EncodeToString(secret)

	return key, HashKey(key), nil
}

// HashKey returns the hex encoded SHA-256 digest of a presented key. The
// digest is what gets stored and compared, never the key itself.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the non-secret leading portion of a key for listings.
func DisplayPrefix(key string) string {
	const visible = len(KeyPrefix) + 8

	if len(key) < visible {
		return key
	}

	return key[:visible]
}
