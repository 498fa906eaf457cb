package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	suffixMin = 1000
	suffixMax = 9999
)

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// GenerateMessageID generates a unique chat message ID
func GenerateMessageID() string {
	return GenerateID("msg")
}

// RandomSuffix returns a random discriminator in [1000, 9999]
func RandomSuffix() int {
	n, err := rand.Int(rand.Reader, big.NewInt(suffixMax-suffixMin+1))
	if err != nil {
		return suffixMin
	}
	return suffixMin + int(n.Int64())
}

// DerivePeerID joins a sanitized name and a numeric discriminator
func DerivePeerID(name string, suffix int) string {
	return fmt.Sprintf("%s-%d", name, suffix)
}
