package certificates

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// CodeFunc produces a candidate verification code for the given year.
type CodeFunc func(year int) (string, error)

var codePattern = regexp.MustCompile(`^CERT-\d{4}-[0-9a-f]{8}$`)

// NewCode returns CERT-<year>-<8 lowercase hex>.
func NewCode(year int) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("CERT-%04d-%s", year, hex.EncodeToString(b)), nil
}

// ValidCode reports whether s has the shape of a verification code.
func ValidCode(s string) bool {
	return codePattern.MatchString(s)
}
