package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://portal:pw@db:5432/portal?sslmode=disable", migrateURL("postgres://portal:pw@db:5432/portal?sslmode=disable"))
	assert.Equal(t, "pgx5://db/portal", migrateURL("postgresql://db/portal"))
	assert.Equal(t, "pgx5://db/portal", migrateURL("pgx5://db/portal"))
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)

	up, err := fs.ReadFile(migrationsFS, "migrations/000001_portal_sessions.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "portal_sessions")
}
