package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "MARKET_POSTGRES_DSN"
)

var errUsage = errors.New("usage")

// migrator — операции со схемой, которые нужны утилите.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationState(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

type openFunc func(ctx context.Context, dsn string) (migrator, error)

func openPostgres(ctx context.Context, dsn string) (migrator, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout, openPostgres); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fail("%v", err)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer, open openFunc) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(out)
	direction := flags.String("direction", "up", "migration direction: up|down|status")
	steps := flags.Int("steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	dsn := flags.String("dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}

	connString := strings.TrimSpace(*dsn)
	if connString == "" {
		connString = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if connString == "" {
		return fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}

	mode := strings.ToLower(strings.TrimSpace(*direction))
	switch mode {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", *direction)
	}

	store, err := open(ctx, connString)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch mode {
	case "up":
		if err := store.MigrateUp(ctx, *steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		n := *steps
		if n <= 0 {
			n = 1
		}
		if err := store.MigrateDown(ctx, n); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	state, err := store.MigrationState(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}

	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n", mode, state.Version, state.Applied, len(state.Pending))
	for _, name := range state.Pending {
		_, _ = fmt.Fprintf(out, "  pending: %s\n", name)
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
