// Package snapshots persists the enriched per-title daily snapshot table.
package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/database"
	"github.com/rte-labs/rte100/internal/domain"
)

// snapshotColumns is the column list for the snapshots table.
// Column order must match scanSnapshot().
const snapshotColumns = `universe_id, snapshot_date, name, developer, avg_ccu, visits, favorites, likes,
monetization_count, median_price, price_dispersion, engagement_score, dau_est, pcr, aspu,
spend_revenue, premium_revenue, edr_raw`

// Repository handles snapshot table persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// ReplaceDay replaces all snapshots for one date in a single transaction.
// Recomputation of a day fully replaces the prior records for that day, and
// a duplicated universe id within the batch resolves last-record-wins rather
// than aborting the day.
func (r *Repository) ReplaceDay(date time.Time, snaps []domain.Snapshot) error {
	dateKey := date.Format(domain.DateLayout)

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM snapshots WHERE snapshot_date = ?", dateKey); err != nil {
			return fmt.Errorf("failed to clear snapshots for %s: %w", dateKey, err)
		}

		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO snapshots (` + snapshotColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range snaps {
			_, err := stmt.Exec(
				s.UniverseID, dateKey, s.Name, s.Developer,
				s.AvgCCU, s.Visits, s.Favorites, s.Likes,
				s.MonetizationCount, s.MedianPrice, s.PriceDispersion,
				s.EngagementScore, s.DAUEst, s.PCR, s.ASPU,
				s.SpendRevenue, s.PremiumRevenue, s.EDRRaw,
			)
			if err != nil {
				return fmt.Errorf("failed to insert snapshot for universe %d: %w", s.UniverseID, err)
			}
		}
		return nil
	})
}

// GetAll returns the full snapshot history ordered by (universe_id, snapshot_date).
func (r *Repository) GetAll() ([]domain.Snapshot, error) {
	query := "SELECT " + snapshotColumns + " FROM snapshots ORDER BY universe_id, snapshot_date"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestPerTitleAsOf returns each title's most recent snapshot dated at or
// before asOf, keyed by universe id. Used when exports merge membership with
// snapshot metadata.
func (r *Repository) LatestPerTitleAsOf(asOf time.Time) (map[int64]domain.Snapshot, error) {
	query := "SELECT " + snapshotColumns + ` FROM snapshots
		WHERE snapshot_date <= ?
		ORDER BY universe_id, snapshot_date`

	rows, err := r.db.Query(query, asOf.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots as of %s: %w", asOf.Format(domain.DateLayout), err)
	}
	defer rows.Close()

	latest := make(map[int64]domain.Snapshot)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		// Rows arrive date-ascending per title, so the last one wins.
		latest[s.UniverseID] = s
	}
	return latest, rows.Err()
}

func scanSnapshot(rows *sql.Rows) (domain.Snapshot, error) {
	var (
		s       domain.Snapshot
		dateStr string
	)
	err := rows.Scan(
		&s.UniverseID, &dateStr, &s.Name, &s.Developer,
		&s.AvgCCU, &s.Visits, &s.Favorites, &s.Likes,
		&s.MonetizationCount, &s.MedianPrice, &s.PriceDispersion,
		&s.EngagementScore, &s.DAUEst, &s.PCR, &s.ASPU,
		&s.SpendRevenue, &s.PremiumRevenue, &s.EDRRaw,
	)
	if err != nil {
		return domain.Snapshot{}, err
	}

	date, err := time.Parse(domain.DateLayout, dateStr)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to parse snapshot date %q: %w", dateStr, err)
	}
	s.SnapshotDate = date
	return s, nil
}
