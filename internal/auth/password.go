package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Work factor for all stored credentials. Raising it only affects new
// hashes; verification reads the cost from the hash itself.
const hashCost = 12

const (
	MinPINLength = 4
	MaxPINLength = 8
)

// HashSecret hashes a PIN or password with bcrypt and a per-call salt.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret compares a presented secret against a stored hash. A
// malformed or empty hash yields false, never an error or panic.
func VerifySecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// GeneratePIN produces an n-digit numeric PIN from a cryptographically
// secure source. Used for administrative PIN issuance only.
func GeneratePIN(n int) (string, error) {
	if n < MinPINLength || n > MaxPINLength {
		return "", fmt.Errorf("%w: pin length must be between %d and %d", ErrInvalidInput, MinPINLength, MaxPINLength)
	}
	digits := make([]byte, n)
	ten := big.NewInt(10)
	for i := range digits {
		v, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate pin: %w", err)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
