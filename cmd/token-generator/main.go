// Command token-generator mints bearer tokens for local development. The
// secret is read from ANALYSIS_AUTH_JWT_SECRET, the same variable the server
// uses.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/phrazzld/lesson-analysis/internal/config"
	"github.com/phrazzld/lesson-analysis/internal/service/auth"
)

func main() {
	subject := flag.String("sub", "dev-user", "token subject")
	role := flag.String("role", "admin", "role claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	verifier, err := auth.NewHMACVerifier(config.AuthConfig{JWTSecret: os.Getenv("ANALYSIS_AUTH_JWT_SECRET")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "token-generator: %v\n", err)
		os.Exit(1)
	}

	token, err := verifier.GenerateToken(*subject, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token-generator: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
