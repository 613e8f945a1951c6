package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	// statementTimeoutMaxMS caps statement_timeout at one hour. Anything
	// above that is almost certainly a unit mistake.
	statementTimeoutMaxMS = 3_600_000

	// DefaultQueryTimeout is applied to individual non-transactional queries
	// to prevent runaway SQL from holding connections indefinitely.
	DefaultQueryTimeout = 30 * time.Second

	// LongQueryTimeout is used for heavier operations such as migrations and
	// reconciliation snapshots.
	LongQueryTimeout = 5 * time.Minute

	// migrationLockKey is the advisory-lock identifier shared by every
	// process that may migrate the same database.
	migrationLockKey = 7423117
)

// withTimeout returns a child context that will be cancelled after d.
// Callers must defer the returned CancelFunc.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

type DB struct {
	*sql.DB
}

type Config struct {
	URL                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	StatementTimeoutMS int
}

// New opens a connection pool against cfg.URL and verifies it with a ping.
// A positive StatementTimeoutMS is pushed into the connection string so the
// server kills runaway statements on every pooled connection; zero leaves
// the server default in place.
func New(cfg Config) (*DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("empty database URL")
	}
	if err := validateStatementTimeout(cfg.StatementTimeoutMS); err != nil {
		return nil, err
	}

	dsn := cfg.URL
	if cfg.StatementTimeoutMS > 0 {
		var err error
		dsn, err = withStatementTimeout(dsn, cfg.StatementTimeoutMS)
		if err != nil {
			return nil, fmt.Errorf("apply statement timeout: %w", err)
		}
	}

	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	idle := cfg.ConnMaxIdleTime
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	pool.SetConnMaxIdleTime(idle)

	ctx, cancel := withTimeout(context.Background(), DefaultQueryTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{pool}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func validateStatementTimeout(ms int) error {
	if ms < 0 || ms > statementTimeoutMaxMS {
		return fmt.Errorf("statement timeout %dms out of allowed range [0, %d]", ms, statementTimeoutMaxMS)
	}
	return nil
}

// withStatementTimeout returns dsn with a server-side statement_timeout set
// through the options parameter. Both connection-string forms lib/pq accepts
// are handled; any options value already present is replaced.
func withStatementTimeout(dsn string, ms int) (string, error) {
	if u, err := url.Parse(dsn); err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql") {
		q := u.Query()
		q.Set("options", fmt.Sprintf("-c statement_timeout=%d", ms))
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	if strings.Contains(dsn, "=") {
		return fmt.Sprintf("%s options='-c statement_timeout=%d'", strings.TrimSpace(dsn), ms), nil
	}
	return "", errors.New("unrecognized connection string")
}

// RunMigrations applies the *.up.sql files in dir, in lexical order, that are
// not yet recorded in schema_migrations. Each file runs in its own
// transaction together with its version row, so a failure partway leaves no
// half-recorded migration.
func (db *DB) RunMigrations(dir string) error {
	names, err := listMigrations(dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no migrations found in %s", dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), LongQueryTimeout)
	defer cancel()

	// Advisory locks are session scoped, so everything below runs on one
	// pinned connection. Concurrent replicas queue here, then see the
	// recorded versions and skip.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// The pooled session outlives conn.Close, so the lock has to be
		// released explicitly rather than left to session teardown.
		unlockCtx, unlockCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer unlockCancel()
		if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			slog.Warn("release migration lock", "error", err)
		}
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, name := range names {
		applied, err := migrationApplied(ctx, conn, name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		stmts, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		start := time.Now()
		if err := applyMigration(ctx, conn, name, string(stmts)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		slog.Info("migration applied", "version", name, "elapsed", time.Since(start).String())
	}

	return nil
}

// listMigrations returns the .up.sql file names in dir in lexical order,
// which by the numeric-prefix naming convention is the application order.
func listMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func migrationApplied(ctx context.Context, conn *sql.Conn, version string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)",
		version,
	).Scan(&exists)
	return exists, err
}

func applyMigration(ctx context.Context, conn *sql.Conn, version, stmts string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// SET LOCAL reverts at transaction end. DDL that cannot take its lock
	// fails fast instead of queueing behind live traffic.
	if _, err := tx.ExecContext(ctx, "SET LOCAL lock_timeout = '10s'"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmts); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return err
	}

	return tx.Commit()
}
