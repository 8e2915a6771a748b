// apikey.go implements API key generation and validation. Keys are random,
// bcrypt-hashed at rest, and shown exactly once at creation.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// apiKeyRandomBytes is the entropy of the random key part.
	apiKeyRandomBytes = 32

	// DisplayPrefixLength is how many leading characters of the full key are
	// stored in clear for identification in listings and candidate lookup.
	DisplayPrefixLength = 10

	// bcryptCost balances validation latency against brute-force resistance.
	bcryptCost = 12
)

// GenerateAPIKey creates a new random key "prefix_<random>". It returns the
// full key (show once, never stored), its bcrypt hash (stored), and the
// display prefix.
func GenerateAPIKey(prefix string) (key, hash, displayPrefix string, err error) {
	randomBytes := make([]byte, apiKeyRandomBytes)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("generate key entropy: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", prefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hash key: %w", err)
	}

	displayPrefix = fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefix = fullKey[:DisplayPrefixLength]
	}
	return fullKey, string(hashBytes), displayPrefix, nil
}

// ValidateAPIKey reports whether the presented key matches a stored hash.
func ValidateAPIKey(presentedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(presentedKey)) == nil
}

// DisplayPrefix returns the candidate-lookup prefix of a presented key.
func DisplayPrefix(key string) string {
	if len(key) > DisplayPrefixLength {
		return key[:DisplayPrefixLength]
	}
	return key
}

// ExtractBearerToken pulls the credential out of an Authorization header.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}
	return token, nil
}
