package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir = "sql/migrations"
	// migrationLockKey — ключ pg_advisory_lock, общий для всех экземпляров сервиса и утилиты migrate.
	migrationLockKey  = int64(0x6d6b7470)
	migrationLockWait = 5 * time.Second
	schemaTableDDL    = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationFileRe = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

	errStoreNotInitialized = errors.New("postgres store is not initialized")
)

type direction string

const (
	directionUp   direction = "up"
	directionDown direction = "down"
)

// migration — пара up/down скриптов одной версии схемы.
type migration struct {
	version int64
	name    string
	up      string
	down    string
}

func (m migration) id() string {
	return fmt.Sprintf("%04d_%s", m.version, m.name)
}

func (m migration) script(dir direction) string {
	if dir == directionDown {
		return m.down
	}
	return m.up
}

// MigrationState — снимок состояния схемы.
type MigrationState struct {
	Version int64
	Applied int
	// Pending — идентификаторы вида 0002_outbox_idempotency в порядке применения.
	Pending []string
}

// MigrateUp применяет неприменённые миграции по возрастанию версии; steps == 0 — все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, directionUp, steps)
}

// MigrateDown откатывает последние steps миграций; steps <= 0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, directionDown, steps)
}

// MigrationState сравнивает встроенные миграции с таблицей schema_migrations.
func (s *Store) MigrationState(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	known, err := parseMigrations(embeddedMigrations)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationLockWait)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedVersions(queryCtx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied), Pending: []string{}}
	if len(applied) > 0 {
		state.Version = applied[len(applied)-1]
	}
	for _, m := range known {
		if !slices.Contains(applied, m.version) {
			state.Pending = append(state.Pending, m.id())
		}
	}
	return state, nil
}

func (s *Store) migrate(ctx context.Context, dir direction, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if dir != directionUp && dir != directionDown {
		return fmt.Errorf("unsupported migration direction: %s", dir)
	}
	known, err := parseMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	return s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		plan, err := planMigrations(known, applied, dir, steps)
		if err != nil {
			return err
		}
		for _, m := range plan {
			if err := runStep(ctx, conn, m, dir); err != nil {
				return err
			}
			s.logger.WithFields(log.Fields{
				"direction": dir,
				"migration": m.id(),
			}).Info("migration applied")
		}
		return nil
	})
}

// withMigrationLock выполняет fn на выделенном соединении под advisory lock.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationLockWait)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaTableDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return fn(conn)
}

// planMigrations выбирает миграции для прогона. applied отсортирован по возрастанию.
func planMigrations(known []migration, applied []int64, dir direction, steps int) ([]migration, error) {
	var plan []migration
	if dir == directionUp {
		for _, m := range known {
			if !slices.Contains(applied, m.version) {
				plan = append(plan, m)
			}
		}
	} else {
		for i := len(applied) - 1; i >= 0; i-- {
			idx := slices.IndexFunc(known, func(m migration) bool { return m.version == applied[i] })
			if idx < 0 {
				return nil, fmt.Errorf("cannot roll back unknown migration version %d", applied[i])
			}
			plan = append(plan, known[idx])
		}
	}
	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

// runStep выполняет скрипт и запись в schema_migrations в одной транзакции.
func runStep(ctx context.Context, conn *sql.Conn, m migration, dir direction) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", dir, m.id(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.script(dir)); err != nil {
		return fmt.Errorf("execute %s %s: %w", dir, m.id(), err)
	}
	if dir == directionUp {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.version)
	}
	if err != nil {
		return fmt.Errorf("record %s %s: %w", dir, m.id(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", dir, m.id(), err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func appliedVersions(ctx context.Context, q queryer) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

// parseMigrations читает пары NNNN_name.{up,down}.sql и сортирует их по версии.
func parseMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, dir, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{version: version, name: name}
			byVersion[version] = m
		}
		if m.name != name {
			return nil, fmt.Errorf("migration %04d has two names: %s and %s", version, m.name, name)
		}
		slot := &m.up
		if dir == directionDown {
			slot = &m.down
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %04d", dir, version)
		}
		*slot = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	result := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", m.id())
		}
		result = append(result, *m)
	}
	slices.SortFunc(result, func(a, b migration) int {
		switch {
		case a.version < b.version:
			return -1
		case a.version > b.version:
			return 1
		default:
			return 0
		}
	})
	return result, nil
}

func parseMigrationFileName(base string) (int64, string, direction, error) {
	parts := migrationFileRe.FindStringSubmatch(base)
	if parts == nil {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}
	return version, parts[2], direction(parts[3]), nil
}
