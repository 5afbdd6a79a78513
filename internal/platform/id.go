package platform

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

const apiKeyPrefix = "cvk_"

func NewID() string {
	return uuid.New().String()
}

// NewAPIKey returns a random issuer key: the "cvk_" prefix followed by 64 hex
// characters.
func NewAPIKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return apiKeyPrefix + hex.EncodeToString(b)
}
