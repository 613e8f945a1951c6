package postgres

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStatementTimeout(t *testing.T) {
	tests := []struct {
		name    string
		ms      int
		wantErr bool
	}{
		{name: "zero means server default", ms: 0},
		{name: "typical value", ms: 30000},
		{name: "upper bound", ms: statementTimeoutMaxMS},
		{name: "negative", ms: -1, wantErr: true},
		{name: "above one hour", ms: statementTimeoutMaxMS + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStatementTimeout(tt.ms)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "out of allowed range")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestWithStatementTimeout_URLForm(t *testing.T) {
	dsn, err := withStatementTimeout("postgres://localhost:5432/zkclear", 45000)
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "-c statement_timeout=45000", u.Query().Get("options"))
}

func TestWithStatementTimeout_PreservesExistingParams(t *testing.T) {
	dsn, err := withStatementTimeout("postgresql://seq@db:5432/zkclear?sslmode=disable", 30000)
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "-c statement_timeout=30000", u.Query().Get("options"))
	assert.Equal(t, "seq", u.User.Username())
}

func TestWithStatementTimeout_ReplacesExistingOptions(t *testing.T) {
	dsn, err := withStatementTimeout("postgres://localhost/zkclear?options=-c%20statement_timeout%3D1", 30000)
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, []string{"-c statement_timeout=30000"}, u.Query()["options"])
}

func TestWithStatementTimeout_KeyValueForm(t *testing.T) {
	dsn, err := withStatementTimeout("host=localhost dbname=zkclear sslmode=disable", 30000)
	require.NoError(t, err)
	assert.Equal(t, "host=localhost dbname=zkclear sslmode=disable options='-c statement_timeout=30000'", dsn)
}

func TestWithStatementTimeout_RejectsGarbage(t *testing.T) {
	_, err := withStatementTimeout("not a connection string", 30000)
	require.Error(t, err)
}

func TestNew_RejectsEmptyURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty database URL")
}

func TestNew_RejectsInvalidStatementTimeout(t *testing.T) {
	_, err := New(Config{URL: "postgres://localhost/zkclear", StatementTimeoutMS: -5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")
}

func TestListMigrations_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_deals.up.sql",
		"0001_core.up.sql",
		"0001_core.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- stub"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.up.sql"), 0o755))

	names, err := listMigrations(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_core.up.sql", "0002_deals.up.sql"}, names)
}

func TestListMigrations_MissingDir(t *testing.T) {
	_, err := listMigrations(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
