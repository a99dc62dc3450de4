package features

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rte-labs/rte100/internal/database"
	"github.com/rte-labs/rte100/internal/domain"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "index.db"),
		Profile: database.ProfileStandard,
		Name:    "index",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db.Conn()
}

func ptr(v float64) *float64 { return &v }

func TestReplaceAll_RoundTripsNullableColumns(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	rows := []domain.FeatureRow{
		{
			UniverseID: 1,
			AsOfDate:   day("2026-08-17"),
			EDR7dMean:  100,
			EDRMom:     ptr(0.25),
			EDR14dVol:  ptr(12.5),
			Coverage7d: 1,
			EDRTrend:   ptr(-0.1),
			Score:      100,
		},
		{
			// Missing momentum and volatility stay NULL, never become 0.
			UniverseID: 2,
			AsOfDate:   day("2026-08-17"),
			EDR7dMean:  40,
			Coverage7d: 1.0 / 7.0,
			Score:      40.0 / 7.0,
		},
	}
	require.NoError(t, repo.ReplaceAll(rows))

	got, err := repo.GetByDate("2026-08-17")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rows, got)

	assert.Nil(t, got[1].EDRMom)
	assert.Nil(t, got[1].EDR14dVol)
}

func TestReplaceAll_IsFullRebuild(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	require.NoError(t, repo.ReplaceAll([]domain.FeatureRow{
		{UniverseID: 1, AsOfDate: day("2026-08-10"), EDR7dMean: 10, Coverage7d: 1, Score: 10},
	}))
	require.NoError(t, repo.ReplaceAll([]domain.FeatureRow{
		{UniverseID: 2, AsOfDate: day("2026-08-17"), EDR7dMean: 20, Coverage7d: 1, Score: 20},
	}))

	old, err := repo.GetByDate("2026-08-10")
	require.NoError(t, err)
	assert.Empty(t, old)

	current, err := repo.GetByDate("2026-08-17")
	require.NoError(t, err)
	assert.Len(t, current, 1)
}

func TestGetLatest_OrdersByScoreDescending(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	require.NoError(t, repo.ReplaceAll([]domain.FeatureRow{
		{UniverseID: 1, AsOfDate: day("2026-08-17"), EDR7dMean: 10, Coverage7d: 1, Score: 10},
		{UniverseID: 2, AsOfDate: day("2026-08-17"), EDR7dMean: 90, Coverage7d: 1, Score: 90},
		{UniverseID: 3, AsOfDate: day("2026-08-17"), EDR7dMean: 50, Coverage7d: 1, Score: 50},
	}))

	rows, err := repo.GetLatest()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(2), rows[0].UniverseID)
	assert.Equal(t, int64(3), rows[1].UniverseID)
	assert.Equal(t, int64(1), rows[2].UniverseID)
}

func TestGetLatest_EmptyTable(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	rows, err := repo.GetLatest()
	require.NoError(t, err)
	assert.Empty(t, rows)
}
