//go:build integration

package postgres_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Alert17/zkclear-core/internal/store/postgres"
)

// migrationsPath locates the migrations shipped next to this package, so the
// suite always runs against the schema in the working tree.
func migrationsPath(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok, "cannot locate test source file")
	return filepath.Join(filepath.Dir(thisFile), "migrations")
}

// setupTestContainer boots a disposable PostgreSQL server, migrates it, and
// hands back a pooled handle. Everything is torn down with the test. The
// statement timeout is set on purpose so the options injection in New gets
// exercised against a real server.
func setupTestContainer(t *testing.T) *postgres.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("zkclear_test"),
		tcpostgres.WithUsername("zkclear"),
		tcpostgres.WithPassword("zkclear"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.New(postgres.Config{
		URL:                dsn,
		MaxOpenConns:       5,
		MaxIdleConns:       2,
		ConnMaxLifetime:    time.Minute,
		StatementTimeoutMS: 30000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(migrationsPath(t)))
	return db
}
