package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rte-labs/rte100/internal/database"
	"github.com/rte-labs/rte100/internal/domain"
	"github.com/rte-labs/rte100/internal/modules/features"
	"github.com/rte-labs/rte100/internal/modules/indexlevel"
	"github.com/rte-labs/rte100/internal/modules/jobs"
	"github.com/rte-labs/rte100/internal/modules/membership"
)

// Handlers serves the read-only API endpoints.
type Handlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	indexDB     *database.DB
	cacheDB     *database.DB

	membershipRepo *membership.Repository
	featureRepo    *features.Repository
	levelRepo      *indexlevel.Repository
	jobRepo        *jobs.Repository
}

// NewHandlers creates the API handlers.
func NewHandlers(cfg Config) *Handlers {
	return &Handlers{
		log:            cfg.Log.With().Str("component", "handlers").Logger(),
		dataDir:        cfg.DataDir,
		startupTime:    time.Now(),
		indexDB:        cfg.IndexDB,
		cacheDB:        cfg.CacheDB,
		membershipRepo: cfg.MembershipRepo,
		featureRepo:    cfg.FeatureRepo,
		levelRepo:      cfg.LevelRepo,
		jobRepo:        cfg.JobRepo,
	}
}

// HealthResponse reports process and database health.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	DataDirMB     float64 `json:"data_dir_mb"`
	IndexDB       string  `json:"index_db"`
	CacheDB       string  `json:"cache_db"`
}

// HandleHealth returns process stats and database health.
// GET /api/health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		IndexDB:       dbStatus(h.indexDB),
		CacheDB:       dbStatus(h.cacheDB),
	}
	if resp.IndexDB != "healthy" || resp.CacheDB != "healthy" {
		resp.Status = "unhealthy"
	}

	resp.CPUPercent, resp.MemPercent = h.systemStats()
	resp.DataDirMB = dirSizeMB(h.dataDir)

	h.writeJSON(w, resp)
}

// HandleIndexLevels returns the full chain-linked level series.
// GET /api/index/levels
func (h *Handlers) HandleIndexLevels(w http.ResponseWriter, r *http.Request) {
	points, err := h.levelRepo.GetAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load index levels")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type point struct {
		Date  string  `json:"date"`
		Level float64 `json:"level"`
	}
	out := make([]point, 0, len(points))
	for _, p := range points {
		out = append(out, point{Date: p.Date.Format(domain.DateLayout), Level: p.Level})
	}

	h.writeJSON(w, out)
}

// HandleLatestMembership returns the most recent rebalance's constituents.
// GET /api/membership/latest
func (h *Handlers) HandleLatestMembership(w http.ResponseWriter, r *http.Request) {
	records, err := h.membershipRepo.GetLatest()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load latest membership")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type constituent struct {
		RebalanceDate string  `json:"rebalance_date"`
		UniverseID    int64   `json:"universeId"`
		Rank          int     `json:"rank"`
		Weight        float64 `json:"weight"`
	}
	out := make([]constituent, 0, len(records))
	for _, m := range records {
		out = append(out, constituent{
			RebalanceDate: m.RebalanceDate.Format(domain.DateLayout),
			UniverseID:    m.UniverseID,
			Rank:          m.Rank,
			Weight:        m.Weight,
		})
	}

	h.writeJSON(w, out)
}

// HandleRankedUniverse returns the latest full ranked feature table, index
// constituents and non-constituents alike.
// GET /api/universe/ranked
func (h *Handlers) HandleRankedUniverse(w http.ResponseWriter, r *http.Request) {
	rows, err := h.featureRepo.GetLatest()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load ranked universe")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type rankedRow struct {
		UniverseID int64    `json:"universeId"`
		AsOfDate   string   `json:"as_of_date"`
		Score      float64  `json:"score"`
		EDR7dMean  float64  `json:"edr_7d_mean"`
		EDRMom     *float64 `json:"edr_mom"`
		EDR14dVol  *float64 `json:"edr_14d_vol"`
		Coverage7d float64  `json:"coverage_7d"`
		EDRTrend   *float64 `json:"edr_trend"`
	}
	out := make([]rankedRow, 0, len(rows))
	for _, f := range rows {
		out = append(out, rankedRow{
			UniverseID: f.UniverseID,
			AsOfDate:   f.AsOfDate.Format(domain.DateLayout),
			Score:      f.Score,
			EDR7dMean:  f.EDR7dMean,
			EDRMom:     f.EDRMom,
			EDR14dVol:  f.EDR14dVol,
			Coverage7d: f.Coverage7d,
			EDRTrend:   f.EDRTrend,
		})
	}

	h.writeJSON(w, out)
}

// HandleRecentJobs returns the most recent pipeline job runs.
// GET /api/jobs/recent
func (h *Handlers) HandleRecentJobs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.jobRepo.Recent(50)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load job history")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type run struct {
		ID         string `json:"id"`
		JobName    string `json:"job_name"`
		Status     string `json:"status"`
		Detail     string `json:"detail"`
		StartedAt  string `json:"started_at"`
		FinishedAt string `json:"finished_at,omitempty"`
	}
	out := make([]run, 0, len(runs))
	for _, j := range runs {
		item := run{
			ID:        j.ID,
			JobName:   j.JobName,
			Status:    j.Status,
			Detail:    j.Detail,
			StartedAt: j.StartedAt.Format(time.RFC3339),
		}
		if j.FinishedAt != nil {
			item.FinishedAt = j.FinishedAt.Format(time.RFC3339)
		}
		out = append(out, item)
	}

	h.writeJSON(w, out)
}

// systemStats returns CPU and RAM usage percentages. The short CPU sampling
// interval keeps the health endpoint responsive.
func (h *Handlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func dbStatus(db *database.DB) string {
	if db == nil {
		return "not configured"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

func dirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / 1024 / 1024
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
