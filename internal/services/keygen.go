package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	keyAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyGroups     = 4
	keyGroupWidth = 8
)

// GenerateLicenseKey returns a random key of four 8-character [A-Z0-9] groups joined by '-'.
func GenerateLicenseKey() (string, error) {
	var b strings.Builder
	b.Grow(keyGroups*keyGroupWidth + keyGroups - 1)
	limit := big.NewInt(int64(len(keyAlphabet)))
	for g := 0; g < keyGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < keyGroupWidth; i++ {
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return "", fmt.Errorf("read random: %w", err)
			}
			b.WriteByte(keyAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// ValidLicenseKeyFormat reports whether s has the shape produced by GenerateLicenseKey.
func ValidLicenseKeyFormat(s string) bool {
	groups := strings.Split(s, "-")
	if len(groups) != keyGroups {
		return false
	}
	for _, g := range groups {
		if len(g) != keyGroupWidth {
			return false
		}
		for i := 0; i < len(g); i++ {
			if !strings.ContainsRune(keyAlphabet, rune(g[i])) {
				return false
			}
		}
	}
	return true
}
