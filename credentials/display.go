package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	maskedRun    = "********"
	minVisible   = 8
	tokenVisible = 8
)

// MaskAPIKey hides all but a recognizable prefix of an API key. OpenAI
// style keys also keep their last four characters.
func MaskAPIKey(key string) string {
	if len(key) <= minVisible {
		return strings.Repeat("*", len(key))
	}
	if rest, ok := strings.CutPrefix(key, "sk-"); ok {
		return "sk-" + maskedRun + "..." + rest[len(rest)-4:]
	}
	return key[:4] + maskedRun + "..."
}

// MaskToken keeps the first and last eight characters of a long token.
func MaskToken(token string) string {
	if len(token) <= 2*tokenVisible+4 {
		return strings.Repeat("*", len(token))
	}
	return token[:tokenVisible] + "..." + token[len(token)-tokenVisible:]
}

// KeyID is a short stable fingerprint of a secret, safe to print.
func KeyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}

// FormatExpiry renders the time left before expiresAt in the largest
// whole unit.
func FormatExpiry(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}
	left := time.Until(expiresAt)
	switch {
	case left < 0:
		return "expired"
	case left < time.Hour:
		return fmt.Sprintf("%d minutes", int(left/time.Minute))
	case left < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(left/time.Hour))
	default:
		return fmt.Sprintf("%d days", int(left/(24*time.Hour)))
	}
}
