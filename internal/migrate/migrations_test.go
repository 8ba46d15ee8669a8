package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewjob/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, Migrate(h))
	require.NoError(t, Migrate(h))

	v, err := Version(h)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	for _, table := range []string{"players", "jobs", "parties", "party_members", "auto_jobs", "job_runs", "events"} {
		var n int
		require.NoError(t, h.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestBothDialectsShipSameVersions(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	require.NoError(t, err)
	pg, err := loadMigrations(db.Postgres)
	require.NoError(t, err)
	require.Equal(t, len(lite), len(pg))
	for i := range lite {
		assert.Equal(t, lite[i].Version, pg[i].Version)
	}
}
