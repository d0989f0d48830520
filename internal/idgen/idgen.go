// Package idgen generates identifiers used across the engine: CSPRNG-backed
// session codes (spec.md §3, §6) and aggregate IDs.
package idgen

import (
	"crypto/rand"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const sessionCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// SessionCodePattern validates the JURIS-XXXXXX format from spec.md §6.
var SessionCodePattern = regexp.MustCompile(`^JURIS-[A-Z0-9]{6}$`)

// NewSessionCode generates a cryptographically random JURIS-XXXXXX token.
// Callers must regenerate on a uniqueness-constraint clash (spec.md §6).
func NewSessionCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: reading random bytes: %w", err)
	}
	code := make([]byte, 6)
	for i, b := range buf {
		code[i] = sessionCodeAlphabet[int(b)%len(sessionCodeAlphabet)]
	}
	return "JURIS-" + string(code), nil
}

// ValidateSessionCode reports whether code matches the canonical format.
func ValidateSessionCode(code string) bool {
	return SessionCodePattern.MatchString(code)
}

// NewID returns a new random aggregate identifier.
func NewID() string {
	return uuid.New().String()
}
