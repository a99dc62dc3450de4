package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rte-labs/rte100/internal/domain"
)

const weeklyReportsDirName = "Weekly Reports"

// WriteWeeklyReport renders the Markdown rebalance report and writes it to
// the Weekly Reports directory. priorMembership may be empty on the first
// rebalance; the changes section is skipped in that case. Returns the path
// of the written file.
func (e *Exporter) WriteWeeklyReport(rows []ExportRow, priorMembership []domain.MembershipRecord, rebalanceDate time.Time) (string, error) {
	reportsDir := filepath.Join(e.exportsDir, weeklyReportsDirName)
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory %s: %w", reportsDir, err)
	}

	dateKey := rebalanceDate.Format(domain.DateLayout)
	var b strings.Builder

	fmt.Fprintf(&b, "# RTE100 Weekly Report: %s\n\n", dateKey)

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Constituents: %d\n", len(rows))
	fmt.Fprintf(&b, "- Top 5 weight concentration: %s\n", fmtPct(topWeight(rows, 5)))
	fmt.Fprintf(&b, "- Top 10 weight concentration: %s\n\n", fmtPct(topWeight(rows, 10)))

	b.WriteString("## Top 10 Constituents\n\n")
	b.WriteString("| Rank | Title | Developer | Weight | Score | EDR 7d Mean |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range rows {
		if r.Rank > 10 {
			break
		}
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("universe %d", r.UniverseID)
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %.2f | %.2f |\n",
			r.Rank, name, r.Developer, fmtPct(r.Weight), r.Score, r.EDR7dMean)
	}
	b.WriteString("\n")

	if len(priorMembership) > 0 {
		writeChanges(&b, rows, priorMembership)
	}

	writeDataQuality(&b, rows)

	path := filepath.Join(reportsDir, fmt.Sprintf("rte100_report_%s.md", dateKey))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write weekly report: %w", err)
	}

	e.log.Info().Str("path", path).Msg("Wrote weekly report")
	return path, nil
}

func writeChanges(b *strings.Builder, rows []ExportRow, prior []domain.MembershipRecord) {
	priorDate := prior[0].RebalanceDate.Format(domain.DateLayout)
	priorSet := make(map[int64]bool, len(prior))
	for _, m := range prior {
		priorSet[m.UniverseID] = true
	}
	currentSet := make(map[int64]bool, len(rows))
	names := make(map[int64]string, len(rows))
	for _, r := range rows {
		currentSet[r.UniverseID] = true
		names[r.UniverseID] = r.Name
	}

	var entrants, exits []int64
	for id := range currentSet {
		if !priorSet[id] {
			entrants = append(entrants, id)
		}
	}
	for id := range priorSet {
		if !currentSet[id] {
			exits = append(exits, id)
		}
	}
	sort.Slice(entrants, func(i, j int) bool { return entrants[i] < entrants[j] })
	sort.Slice(exits, func(i, j int) bool { return exits[i] < exits[j] })

	fmt.Fprintf(b, "## Changes vs %s\n\n", priorDate)
	fmt.Fprintf(b, "- Entrants: %s\n", formatTitleList(entrants, names))
	fmt.Fprintf(b, "- Exits: %s\n\n", formatTitleList(exits, nil))
}

func writeDataQuality(b *strings.Builder, rows []ExportRow) {
	var missingMom, missingVol, zeroMonetization int
	for _, r := range rows {
		if r.EDRMom == nil {
			missingMom++
		}
		if r.EDR14dVol == nil {
			missingVol++
		}
		if r.Monetization == 0 {
			zeroMonetization++
		}
	}

	b.WriteString("## Data Quality\n\n")
	fmt.Fprintf(b, "- Constituents missing edr_mom: %d\n", missingMom)
	fmt.Fprintf(b, "- Constituents missing edr_14d_vol: %d\n", missingVol)
	fmt.Fprintf(b, "- Constituents with zero monetization items: %d\n", zeroMonetization)
}

func topWeight(rows []ExportRow, n int) float64 {
	var sum float64
	for _, r := range rows {
		if r.Rank <= n {
			sum += r.Weight
		}
	}
	return sum
}

func formatTitleList(ids []int64, names map[int64]string) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if name := names[id]; name != "" {
			parts = append(parts, fmt.Sprintf("%s (%d)", name, id))
		} else {
			parts = append(parts, fmt.Sprintf("%d", id))
		}
	}
	return strings.Join(parts, ", ")
}

func fmtPct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
