// Command devtoken mints bearer tokens for local testing.
//
// Usage:
//
//	JWT_SECRET=... go run ./cmd/devtoken -account acct-1
//	JWT_SECRET=... go run ./cmd/devtoken -account admin-1 -role admin -ttl 1h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/remoteprojobs/wallet/internal/auth"
)

func main() {
	account := flag.String("account", "", "account ID to put in the token subject")
	role := flag.String("role", string(auth.RoleUser), "user or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if *account == "" {
		log.Fatal("-account is required")
	}
	r := auth.Role(*role)
	if r != auth.RoleUser && r != auth.RoleAdmin {
		log.Fatalf("unknown role %q", *role)
	}

	token, err := auth.NewVerifier(secret, auth.Issuer).Issue(*account, r, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
