// Command devtoken prints a bearer token signed with JWT_SECRET for local
// testing against a gateway that has no backend login available.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"

	"github.com/horsemanagement/stablegate/internal/auth"
)

func main() {
	sub := pflag.StringP("sub", "s", "1", "user id placed in the sub claim")
	role := pflag.StringP("role", "r", "user", "role claim (admin or user)")
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	pflag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role: *role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   *sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	})
	raw, err := token.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(raw)
}
