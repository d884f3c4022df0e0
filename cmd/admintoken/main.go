// Command admintoken mints an operator token for the admin endpoints.
//
// The service never issues tokens over HTTP; an operator with access to the
// deployment's WARDEN_ADMIN_SECRET runs this tool and passes the printed
// token as a Bearer credential.
//
//	admintoken -subject alice@example.com -ttl 12h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"warden/internal/auth"
)

func main() {
	subject := flag.String("subject", "", "who the token identifies, recorded in the audit log (required)")
	ttl := flag.Duration("ttl", 12*time.Hour, "how long the token stays valid")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "error: -subject is required")
		flag.Usage()
		os.Exit(2)
	}

	if *ttl <= 0 {
		fmt.Fprintln(os.Stderr, "error: -ttl must be positive")
		os.Exit(2)
	}

	// Same resolution order as the service: .env for development, real
	// environment wins.
	godotenv.Load()

	secret := os.Getenv("WARDEN_ADMIN_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "error: WARDEN_ADMIN_SECRET is not set")
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(secret)

	token, err := tokenManager.GenerateOperatorToken(*subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
