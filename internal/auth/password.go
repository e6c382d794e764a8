// Package auth provides authentication primitives for AeroDocs: password
// hashing/verification with bcrypt and JWT creation/verification for session
// tokens. See internal/middleware/auth.go for the request-time authentication
// logic that uses these primitives.
package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// MinPasswordLength is the minimum accepted password length
	MinPasswordLength = 10
)

// HashPassword returns the bcrypt hash of a password for storage.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", errors.New("password is too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks if a provided password matches the stored hash.
func VerifyPassword(password, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password))
	return err == nil
}

// ExtractTokenFromHeader extracts the bearer token from an Authorization header.
// Expected format: "Bearer eyJhbGciOi..."
func ExtractTokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)

	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
