package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE players SET energy=? WHERE id=? AND energy>=?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `UPDATE players SET energy=$1 WHERE id=$2 AND energy>=$3`, Postgres.Rebind(q))
	assert.Equal(t, `SELECT 1`, Postgres.Rebind(`SELECT 1`))
}

func TestForUpdate(t *testing.T) {
	assert.Empty(t, SQLite.ForUpdate())
	assert.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.Ping())
	assert.Equal(t, SQLite, h.Dialect)
	assert.FileExists(t, filepath.Join(dir, ".crewjob", "crewjob.db"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mysql"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: "postgres"})
	assert.Error(t, err)
}
