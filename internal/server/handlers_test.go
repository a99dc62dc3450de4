package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rte-labs/rte100/internal/database"
	"github.com/rte-labs/rte100/internal/domain"
	"github.com/rte-labs/rte100/internal/modules/features"
	"github.com/rte-labs/rte100/internal/modules/indexlevel"
	"github.com/rte-labs/rte100/internal/modules/jobs"
	"github.com/rte-labs/rte100/internal/modules/membership"
)

func testServer(t *testing.T) (*Server, *membership.Repository, *features.Repository, *indexlevel.Repository) {
	t.Helper()
	log := zerolog.Nop()
	dataDir := t.TempDir()

	openDB := func(name string, profile database.DatabaseProfile) *database.DB {
		db, err := database.New(database.Config{
			Path:    filepath.Join(dataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, db.Migrate())
		return db
	}

	indexDB := openDB("index", database.ProfileStandard)
	cacheDB := openDB("cache", database.ProfileCache)

	membershipRepo := membership.NewRepository(indexDB.Conn(), log)
	featureRepo := features.NewRepository(indexDB.Conn(), log)
	levelRepo := indexlevel.NewRepository(indexDB.Conn(), log)

	srv := New(Config{
		Log:            log,
		IndexDB:        indexDB,
		CacheDB:        cacheDB,
		DataDir:        dataDir,
		Port:           0,
		DevMode:        true,
		MembershipRepo: membershipRepo,
		FeatureRepo:    featureRepo,
		LevelRepo:      levelRepo,
		JobRepo:        jobs.NewRepository(cacheDB.Conn(), log),
	})

	return srv, membershipRepo, featureRepo, levelRepo
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func day(s string) time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestHandleHealth(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := get(t, srv, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.IndexDB)
	assert.Equal(t, "healthy", resp.CacheDB)
}

func TestHandleIndexLevels(t *testing.T) {
	srv, _, _, levelRepo := testServer(t)

	require.NoError(t, levelRepo.ReplaceAll([]domain.IndexLevelPoint{
		{Date: day("2026-08-10"), Level: 1000},
		{Date: day("2026-08-11"), Level: 1020},
	}))

	rec := get(t, srv, "/api/index/levels")
	require.Equal(t, http.StatusOK, rec.Code)

	var points []struct {
		Date  string  `json:"date"`
		Level float64 `json:"level"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 2)
	assert.Equal(t, "2026-08-10", points[0].Date)
	assert.Equal(t, 1020.0, points[1].Level)
}

func TestHandleLatestMembership(t *testing.T) {
	srv, membershipRepo, _, _ := testServer(t)

	require.NoError(t, membershipRepo.Append(day("2026-08-10"), []domain.MembershipRecord{
		{RebalanceDate: day("2026-08-10"), UniverseID: 1, Rank: 1, Weight: 1},
	}))
	require.NoError(t, membershipRepo.Append(day("2026-08-17"), []domain.MembershipRecord{
		{RebalanceDate: day("2026-08-17"), UniverseID: 2, Rank: 1, Weight: 0.6},
		{RebalanceDate: day("2026-08-17"), UniverseID: 3, Rank: 2, Weight: 0.4},
	}))

	rec := get(t, srv, "/api/membership/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var constituents []struct {
		RebalanceDate string  `json:"rebalance_date"`
		UniverseID    int64   `json:"universeId"`
		Rank          int     `json:"rank"`
		Weight        float64 `json:"weight"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &constituents))
	require.Len(t, constituents, 2)
	assert.Equal(t, "2026-08-17", constituents[0].RebalanceDate)
	assert.Equal(t, int64(2), constituents[0].UniverseID)
}

func TestHandleRankedUniverse(t *testing.T) {
	srv, _, featureRepo, _ := testServer(t)

	mom := 0.2
	require.NoError(t, featureRepo.ReplaceAll([]domain.FeatureRow{
		{UniverseID: 1, AsOfDate: day("2026-08-17"), EDR7dMean: 10, Coverage7d: 1, Score: 10},
		{UniverseID: 2, AsOfDate: day("2026-08-17"), EDR7dMean: 90, EDRMom: &mom, Coverage7d: 1, Score: 90},
	}))

	rec := get(t, srv, "/api/universe/ranked")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []struct {
		UniverseID int64    `json:"universeId"`
		Score      float64  `json:"score"`
		EDRMom     *float64 `json:"edr_mom"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].UniverseID) // score descending
	require.NotNil(t, rows[0].EDRMom)
	assert.Nil(t, rows[1].EDRMom)
}

func TestHandleRecentJobs_Empty(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := get(t, srv, "/api/jobs/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
