package users

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// hashCost is the bcrypt cost for hashes written into account files.
const hashCost = bcrypt.DefaultCost

var (
	ErrInvalidIdentifier = errors.New("identifier must be non-empty and must not contain ':'")
	ErrEmptyPassword     = errors.New("password must not be empty")
)

// HashPassword returns the bcrypt form of password for the account file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AccountLine renders an "identifier:hash" entry that LoadFile accepts.
func AccountLine(identifier, password string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || strings.Contains(identifier, ":") || strings.HasPrefix(identifier, "#") {
		return "", ErrInvalidIdentifier
	}
	if strings.TrimSpace(password) == "" {
		return "", ErrEmptyPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}
	return identifier + ":" + hash, nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
