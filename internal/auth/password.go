package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Password length limits. bcrypt ignores input beyond 72 bytes, so longer passwords
// are refused rather than silently truncated.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 72
)

// HashPassword hashes a plain password with bcrypt.
func HashPassword(password string) (string, error) {
	if n := len(password); n < MinPasswordLength || n > MaxPasswordLength {
		return "", fmt.Errorf("password must be %d to %d bytes", MinPasswordLength, MaxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plain matches the stored hash.
func CheckPassword(plain, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
