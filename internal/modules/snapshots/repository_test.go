package snapshots

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

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

func day(s string) time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func snap(id int64, date string, edr float64) domain.Snapshot {
	return domain.Snapshot{
		UniverseID:   id,
		SnapshotDate: day(date),
		Name:         "Title",
		EDRRaw:       edr,
	}
}

func TestReplaceDay_InsertAndReplace(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	require.NoError(t, repo.ReplaceDay(day("2026-08-10"), []domain.Snapshot{
		snap(1, "2026-08-10", 100),
		snap(2, "2026-08-10", 50),
	}))

	// Recomputing the day replaces its rows entirely.
	require.NoError(t, repo.ReplaceDay(day("2026-08-10"), []domain.Snapshot{
		snap(1, "2026-08-10", 120),
	}))

	all, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(1), all[0].UniverseID)
	assert.Equal(t, 120.0, all[0].EDRRaw)
	assert.Equal(t, day("2026-08-10"), all[0].SnapshotDate)
}

func TestReplaceDay_DuplicateTitleResolvesLastRecordWins(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	// The same title can appear in two run files for one date. The later
	// record wins instead of failing the whole day on the primary key.
	require.NoError(t, repo.ReplaceDay(day("2026-08-10"), []domain.Snapshot{
		snap(1, "2026-08-10", 100),
		snap(2, "2026-08-10", 50),
		snap(1, "2026-08-10", 140),
	}))

	all, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 140.0, all[0].EDRRaw)
	assert.Equal(t, 50.0, all[1].EDRRaw)
}

func TestReplaceDay_DoesNotTouchOtherDays(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	require.NoError(t, repo.ReplaceDay(day("2026-08-10"), []domain.Snapshot{snap(1, "2026-08-10", 100)}))
	require.NoError(t, repo.ReplaceDay(day("2026-08-11"), []domain.Snapshot{snap(1, "2026-08-11", 110)}))
	require.NoError(t, repo.ReplaceDay(day("2026-08-10"), nil))

	all, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, day("2026-08-11"), all[0].SnapshotDate)
}

func TestGetAll_RoundTripsAllFields(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	in := domain.Snapshot{
		UniverseID:        7,
		SnapshotDate:      day("2026-08-10"),
		Name:              "Pet Empire",
		Developer:         "Acme Studio",
		AvgCCU:            1234.5,
		Visits:            1_000_000,
		Favorites:         50_000,
		Likes:             30_000,
		MonetizationCount: 12,
		MedianPrice:       49.5,
		PriceDispersion:   0.4,
		EngagementScore:   1.1,
		DAUEst:            24_690,
		PCR:               0.025,
		ASPU:              69.3,
		SpendRevenue:      42_770.0,
		PremiumRevenue:    543.2,
		EDRRaw:            43_313.2,
	}
	require.NoError(t, repo.ReplaceDay(in.SnapshotDate, []domain.Snapshot{in}))

	all, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, in, all[0])
}

func TestLatestPerTitleAsOf(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	require.NoError(t, repo.ReplaceDay(day("2026-08-10"), []domain.Snapshot{
		snap(1, "2026-08-10", 100),
		snap(2, "2026-08-10", 50),
	}))
	require.NoError(t, repo.ReplaceDay(day("2026-08-11"), []domain.Snapshot{
		snap(1, "2026-08-11", 110),
	}))
	require.NoError(t, repo.ReplaceDay(day("2026-08-12"), []domain.Snapshot{
		snap(1, "2026-08-12", 999),
	}))

	latest, err := repo.LatestPerTitleAsOf(day("2026-08-11"))
	require.NoError(t, err)
	require.Len(t, latest, 2)

	assert.Equal(t, 110.0, latest[1].EDRRaw) // newest at or before the as-of
	assert.Equal(t, 50.0, latest[2].EDRRaw)  // stale but still the latest known
}
