// Package main is a development utility for generating a test API key with its
// bcrypt hash and display prefix pre-computed. It prints the raw key, hash,
// prefix, and a ready-to-run SQL INSERT so developers can seed a usable key in
// a local database without running the full server flow. Do not use generated
// keys in production — create keys through the admin API so they carry proper
// expiry and tenant scope.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}

	fullKey := fmt.Sprintf("clg_%s", base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), 12)
	if err != nil {
		log.Fatal(err)
	}

	displayPrefix := fullKey[:10]

	fmt.Println("==========================================================")
	fmt.Println("API Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nFull Key: %s\n", fullKey)
	fmt.Printf("\nHash: %s\n", string(hashBytes))
	fmt.Printf("\nDisplay Prefix: %s\n", displayPrefix)
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Insert (platform-wide dev key):")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO api_keys (id, name, key_hash, display_prefix, tenant_id, created_at)
VALUES (gen_random_uuid(), 'dev-key', '%s', '%s', NULL, now());
`, string(hashBytes), displayPrefix)
	fmt.Println("\n==========================================================")
	fmt.Printf("Authorization Header: Bearer %s\n", fullKey)
	fmt.Println("==========================================================")
}
