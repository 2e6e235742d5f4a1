package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/open-apime/autoreply/internal/config"
)

// Gera um JWT HS256 para a API administrativa.
func main() {
	subject := flag.String("sub", "admin", "Identificador do operador (claim sub)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Validade do token")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	if *ttl <= 0 {
		log.Fatalf("token: ttl deve ser positivo")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   *subject,
		Issuer:    "autoreply",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWT.Secret))
	if err != nil {
		log.Fatalf("token: falha ao assinar: %v", err)
	}
	fmt.Println(signed)
}
