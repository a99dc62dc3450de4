package jobs

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rte-labs/rte100/internal/database"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db.Conn()
}

func TestStartAndFinish(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	id, err := repo.Start("rebalance")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	runs, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "rebalance", runs[0].JobName)
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	require.NoError(t, repo.Finish(id, StatusCompleted, "100 constituents"))

	runs, err = repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
	assert.Equal(t, "100 constituents", runs[0].Detail)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestRecent_RespectsLimit(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := repo.Start("update_snapshots")
		require.NoError(t, err)
	}

	runs, err := repo.Recent(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestFinish_Failed(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	id, err := repo.Start("update_snapshots")
	require.NoError(t, err)
	require.NoError(t, repo.Finish(id, StatusFailed, "ingest failed for 2026-08-10"))

	runs, err := repo.Recent(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
}
