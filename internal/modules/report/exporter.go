// Package report formats rebalance outputs: CSV/JSON constituent exports,
// index level exports, and the weekly Markdown report. The core engine is
// agnostic to these formats; everything here consumes engine outputs as-is.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/domain"
)

// ExportRow is one constituent row of the rte100 export: membership merged
// with ranked features and the title's latest snapshot as of the rebalance.
type ExportRow struct {
	RebalanceDate string   `json:"rebalance_date"`
	Rank          int      `json:"rank"`
	UniverseID    int64    `json:"universeId"`
	Name          string   `json:"name"`
	Developer     string   `json:"developer"`
	Weight        float64  `json:"weight"`
	Score         float64  `json:"score"`
	EDR7dMean     float64  `json:"edr_7d_mean"`
	EDRMom        *float64 `json:"edr_mom"`
	EDR14dVol     *float64 `json:"edr_14d_vol"`
	Coverage7d    float64  `json:"coverage_7d"`
	AvgCCU        float64  `json:"avg_ccu"`
	Visits        float64  `json:"visits"`
	Favorites     float64  `json:"favorites"`
	Likes         float64  `json:"likes"`
	Monetization  float64  `json:"monetization_count"`
	MedianPrice   float64  `json:"median_price"`
	Dispersion    float64  `json:"price_dispersion"`
	Engagement    float64  `json:"engagement_score"`
	EDRRaw        float64  `json:"edr_raw"`
}

// Exporter writes rebalance artifacts under the exports directory.
type Exporter struct {
	exportsDir string
	log        zerolog.Logger
}

// NewExporter creates an exporter rooted at exportsDir.
func NewExporter(exportsDir string, log zerolog.Logger) *Exporter {
	return &Exporter{
		exportsDir: exportsDir,
		log:        log.With().Str("service", "report").Logger(),
	}
}

// BuildExportRows merges membership with ranked features and latest
// snapshots, sorted by rank. Missing snapshot or feature data leaves the
// corresponding columns at their zero values; the row is still exported.
func BuildExportRows(membership []domain.MembershipRecord, ranked []domain.RankedTitle, latest map[int64]domain.Snapshot) []ExportRow {
	features := make(map[int64]domain.RankedTitle, len(ranked))
	for _, t := range ranked {
		features[t.UniverseID] = t
	}

	rows := make([]ExportRow, 0, len(membership))
	for _, m := range membership {
		row := ExportRow{
			RebalanceDate: m.RebalanceDate.Format(domain.DateLayout),
			Rank:          m.Rank,
			UniverseID:    m.UniverseID,
			Weight:        m.Weight,
		}
		if f, ok := features[m.UniverseID]; ok {
			row.Score = f.Score
			row.EDR7dMean = f.EDR7dMean
			row.EDRMom = f.EDRMom
			row.EDR14dVol = f.EDR14dVol
			row.Coverage7d = f.Coverage7d
		}
		if s, ok := latest[m.UniverseID]; ok {
			row.Name = s.Name
			row.Developer = s.Developer
			row.AvgCCU = s.AvgCCU
			row.Visits = s.Visits
			row.Favorites = s.Favorites
			row.Likes = s.Likes
			row.Monetization = s.MonetizationCount
			row.MedianPrice = s.MedianPrice
			row.Dispersion = s.PriceDispersion
			row.Engagement = s.EngagementScore
			row.EDRRaw = s.EDRRaw
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
	return rows
}

// WriteRebalanceExports writes the dated rte100.csv/rte100.json pair and
// refreshes the rte100_latest copies at the exports root.
func (e *Exporter) WriteRebalanceExports(rows []ExportRow, rebalanceDate time.Time) error {
	dateKey := rebalanceDate.Format(domain.DateLayout)
	dayDir := filepath.Join(e.exportsDir, dateKey)
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory %s: %w", dayDir, err)
	}

	targets := []struct {
		csvPath, jsonPath string
	}{
		{filepath.Join(dayDir, "rte100.csv"), filepath.Join(dayDir, "rte100.json")},
		{filepath.Join(e.exportsDir, "rte100_latest.csv"), filepath.Join(e.exportsDir, "rte100_latest.json")},
	}

	for _, t := range targets {
		if err := writeCSV(t.csvPath, rows); err != nil {
			return err
		}
		if err := writeJSON(t.jsonPath, rows); err != nil {
			return err
		}
	}

	e.log.Info().
		Str("rebalance_date", dateKey).
		Int("rows", len(rows)).
		Msg("Wrote rebalance exports")

	return nil
}

// WriteIndexLevelExports writes index_level.csv/index_level.json into the
// dated export folder.
func (e *Exporter) WriteIndexLevelExports(points []domain.IndexLevelPoint, rebalanceDate time.Time) error {
	dayDir := filepath.Join(e.exportsDir, rebalanceDate.Format(domain.DateLayout))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory %s: %w", dayDir, err)
	}

	type levelRow struct {
		Date  string  `json:"date"`
		Level float64 `json:"level"`
	}
	rows := make([]levelRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, levelRow{Date: p.Date.Format(domain.DateLayout), Level: p.Level})
	}

	csvPath := filepath.Join(dayDir, "index_level.csv")
	f, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", csvPath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "level"}); err != nil {
		return fmt.Errorf("failed to write index level header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Date, formatFloat(row.Level)}); err != nil {
			return fmt.Errorf("failed to write index level row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", csvPath, err)
	}

	return writeJSON(filepath.Join(dayDir, "index_level.json"), rows)
}

var exportHeader = []string{
	"rebalance_date", "rank", "universeId", "name", "developer", "weight",
	"score", "edr_7d_mean", "edr_mom", "edr_14d_vol", "coverage_7d",
	"avg_ccu", "visits", "favorites", "likes",
	"monetization_count", "median_price", "price_dispersion",
	"engagement_score", "edr_raw",
}

func writeCSV(path string, rows []ExportRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			r.RebalanceDate,
			strconv.Itoa(r.Rank),
			strconv.FormatInt(r.UniverseID, 10),
			r.Name,
			r.Developer,
			formatFloat(r.Weight),
			formatFloat(r.Score),
			formatFloat(r.EDR7dMean),
			formatOptional(r.EDRMom),
			formatOptional(r.EDR14dVol),
			formatFloat(r.Coverage7d),
			formatFloat(r.AvgCCU),
			formatFloat(r.Visits),
			formatFloat(r.Favorites),
			formatFloat(r.Likes),
			formatFloat(r.Monetization),
			formatFloat(r.MedianPrice),
			formatFloat(r.Dispersion),
			formatFloat(r.Engagement),
			formatFloat(r.EDRRaw),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatOptional renders a missing value as an empty cell, never as 0.
func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
