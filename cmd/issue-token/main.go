// Команда issue-token печатает подписанный bearer-токен для локальной разработки.
//
//	go run ./cmd/issue-token -sub merchant-1 -role merchant
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/marketplace/internal/auth"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const envJWTSecret = "MARKET_JWT_SECRET"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	if err := run(os.Args[1:], os.Getenv, os.Stdout, time.Now); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, out io.Writer, clock domain.Clock) error {
	flags := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	flags.SetOutput(out)
	subject := flags.String("sub", "", "actor id (random uuid when empty)")
	role := flags.String("role", string(domain.RoleCustomer), "customer|merchant|courier|admin")
	ttl := flags.Duration("ttl", auth.DefaultTTL, "token lifetime")
	secret := flags.String("secret", "", "signing secret (fallback: "+envJWTSecret+")")
	if err := flags.Parse(args); err != nil {
		return err
	}

	key := strings.TrimSpace(*secret)
	if key == "" {
		key = strings.TrimSpace(getenv(envJWTSecret))
	}
	tokens, err := auth.NewTokens(key, clock)
	if err != nil {
		return fmt.Errorf("%w (-secret or %s)", err, envJWTSecret)
	}

	actor := domain.Actor{
		ID:   strings.TrimSpace(*subject),
		Role: domain.Role(strings.ToLower(strings.TrimSpace(*role))),
	}
	if actor.ID == "" {
		actor.ID = uuid.NewString()
	}

	token, err := tokens.Issue(actor, *ttl)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, token)
	return nil
}
