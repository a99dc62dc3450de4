package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rte-labs/rte100/internal/domain"
)

func day(s string) time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr(v float64) *float64 { return &v }

func sampleMembership(date string) []domain.MembershipRecord {
	return []domain.MembershipRecord{
		{RebalanceDate: day(date), UniverseID: 2, Rank: 2, Weight: 0.4},
		{RebalanceDate: day(date), UniverseID: 1, Rank: 1, Weight: 0.6},
	}
}

func sampleRanked() []domain.RankedTitle {
	return []domain.RankedTitle{
		{
			FeatureRow: domain.FeatureRow{
				UniverseID: 1, EDR7dMean: 100, EDRMom: ptr(0.1),
				EDR14dVol: ptr(5), Coverage7d: 1, Score: 100,
			},
			Eligible: true,
		},
		{
			FeatureRow: domain.FeatureRow{
				UniverseID: 2, EDR7dMean: 80, Coverage7d: 1, Score: 80,
			},
			Eligible: true,
		},
	}
}

func sampleSnapshots() map[int64]domain.Snapshot {
	return map[int64]domain.Snapshot{
		1: {UniverseID: 1, Name: "Tower Run", Developer: "Acme", AvgCCU: 500, EDRRaw: 102},
		2: {UniverseID: 2, Name: "Pet Empire", Developer: "Blob", AvgCCU: 400, EDRRaw: 81},
	}
}

func TestBuildExportRows_MergesAndSortsByRank(t *testing.T) {
	rows := BuildExportRows(sampleMembership("2026-08-17"), sampleRanked(), sampleSnapshots())
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, int64(1), rows[0].UniverseID)
	assert.Equal(t, "Tower Run", rows[0].Name)
	assert.Equal(t, 0.6, rows[0].Weight)
	assert.Equal(t, 100.0, rows[0].Score)
	require.NotNil(t, rows[0].EDRMom)
	assert.Equal(t, 0.1, *rows[0].EDRMom)

	assert.Equal(t, 2, rows[1].Rank)
	assert.Nil(t, rows[1].EDRMom)
}

func TestBuildExportRows_ToleratesMissingJoins(t *testing.T) {
	membership := []domain.MembershipRecord{
		{RebalanceDate: day("2026-08-17"), UniverseID: 99, Rank: 1, Weight: 1},
	}

	rows := BuildExportRows(membership, nil, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(99), rows[0].UniverseID)
	assert.Equal(t, "", rows[0].Name)
	assert.Equal(t, 0.0, rows[0].Score)
}

func TestWriteRebalanceExports(t *testing.T) {
	exportsDir := t.TempDir()
	e := NewExporter(exportsDir, zerolog.Nop())

	rows := BuildExportRows(sampleMembership("2026-08-17"), sampleRanked(), sampleSnapshots())
	require.NoError(t, e.WriteRebalanceExports(rows, day("2026-08-17")))

	for _, path := range []string{
		filepath.Join(exportsDir, "2026-08-17", "rte100.csv"),
		filepath.Join(exportsDir, "2026-08-17", "rte100.json"),
		filepath.Join(exportsDir, "rte100_latest.csv"),
		filepath.Join(exportsDir, "rte100_latest.json"),
	} {
		assert.FileExists(t, path)
	}

	f, err := os.Open(filepath.Join(exportsDir, "2026-08-17", "rte100.csv"))
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + 2 rows

	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "1", records[1][1]) // rank
	assert.Equal(t, "Tower Run", records[1][3])
	assert.Equal(t, "0.6", records[1][5])
	assert.Equal(t, "", records[2][8]) // missing edr_mom stays an empty cell

	var decoded []ExportRow
	data, err := os.ReadFile(filepath.Join(exportsDir, "rte100_latest.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Nil(t, decoded[1].EDRMom)
}

func TestWriteIndexLevelExports(t *testing.T) {
	exportsDir := t.TempDir()
	e := NewExporter(exportsDir, zerolog.Nop())

	points := []domain.IndexLevelPoint{
		{Date: day("2026-08-10"), Level: 1000},
		{Date: day("2026-08-11"), Level: 1020},
	}
	require.NoError(t, e.WriteIndexLevelExports(points, day("2026-08-17")))

	csvPath := filepath.Join(exportsDir, "2026-08-17", "index_level.csv")
	assert.FileExists(t, csvPath)
	assert.FileExists(t, filepath.Join(exportsDir, "2026-08-17", "index_level.json"))

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2026-08-11,1020")
}

func TestWriteWeeklyReport(t *testing.T) {
	exportsDir := t.TempDir()
	e := NewExporter(exportsDir, zerolog.Nop())

	rows := BuildExportRows(sampleMembership("2026-08-17"), sampleRanked(), sampleSnapshots())
	prior := []domain.MembershipRecord{
		{RebalanceDate: day("2026-08-10"), UniverseID: 1, Rank: 1, Weight: 0.5},
		{RebalanceDate: day("2026-08-10"), UniverseID: 7, Rank: 2, Weight: 0.5},
	}

	path, err := e.WriteWeeklyReport(rows, prior, day("2026-08-17"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(exportsDir, "Weekly Reports", "rte100_report_2026-08-17.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	report := string(data)

	assert.True(t, strings.HasPrefix(report, "# RTE100 Weekly Report: 2026-08-17"))
	assert.Contains(t, report, "Constituents: 2")
	assert.Contains(t, report, "Top 5 weight concentration: 100.0%")
	assert.Contains(t, report, "| 1 | Tower Run | Acme |")
	assert.Contains(t, report, "## Changes vs 2026-08-10")
	assert.Contains(t, report, "Entrants: Pet Empire (2)")
	assert.Contains(t, report, "Exits: 7")
	assert.Contains(t, report, "## Data Quality")
	assert.Contains(t, report, "missing edr_mom: 1")
}

func TestWriteWeeklyReport_FirstRebalanceSkipsChanges(t *testing.T) {
	e := NewExporter(t.TempDir(), zerolog.Nop())

	rows := BuildExportRows(sampleMembership("2026-08-17"), sampleRanked(), sampleSnapshots())
	path, err := e.WriteWeeklyReport(rows, nil, day("2026-08-17"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "## Changes vs")
}
