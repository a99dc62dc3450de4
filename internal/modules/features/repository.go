package features

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/database"
	"github.com/rte-labs/rte100/internal/domain"
)

// featuresColumns is the column list for the features table.
// Column order must match scanRow().
const featuresColumns = `universe_id, as_of_date, edr_7d_mean, edr_mom, edr_14d_vol, coverage_7d, edr_trend, score`

// Repository handles feature table persistence. The feature table is a full
// rebuild artifact: ReplaceAll drops everything and re-inserts.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new feature repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "features").Logger(),
	}
}

// ReplaceAll rebuilds the feature table from the given rows in one transaction.
func (r *Repository) ReplaceAll(rows []domain.FeatureRow) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM features"); err != nil {
			return fmt.Errorf("failed to clear features table: %w", err)
		}

		stmt, err := tx.Prepare(`INSERT INTO features (` + featuresColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare feature insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			_, err := stmt.Exec(
				row.UniverseID,
				row.AsOfDate.Format(domain.DateLayout),
				row.EDR7dMean,
				nullable(row.EDRMom),
				nullable(row.EDR14dVol),
				row.Coverage7d,
				nullable(row.EDRTrend),
				row.Score,
			)
			if err != nil {
				return fmt.Errorf("failed to insert feature row for universe %d: %w", row.UniverseID, err)
			}
		}
		return nil
	})
}

// GetByDate returns all feature rows for one as-of date, ordered by universe id.
func (r *Repository) GetByDate(asOf string) ([]domain.FeatureRow, error) {
	query := "SELECT " + featuresColumns + " FROM features WHERE as_of_date = ? ORDER BY universe_id"

	rows, err := r.db.Query(query, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query features for %s: %w", asOf, err)
	}
	defer rows.Close()

	var out []domain.FeatureRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetLatest returns the feature rows of the most recent as-of date, ordered
// by score descending. Empty result means no features have been built yet.
func (r *Repository) GetLatest() ([]domain.FeatureRow, error) {
	query := "SELECT " + featuresColumns + ` FROM features
		WHERE as_of_date = (SELECT MAX(as_of_date) FROM features)
		ORDER BY score DESC, universe_id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest features: %w", err)
	}
	defer rows.Close()

	var out []domain.FeatureRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanRow(rows *sql.Rows) (domain.FeatureRow, error) {
	var (
		row            domain.FeatureRow
		asOf           string
		mom, vol, trnd sql.NullFloat64
	)
	if err := rows.Scan(&row.UniverseID, &asOf, &row.EDR7dMean, &mom, &vol, &row.Coverage7d, &trnd, &row.Score); err != nil {
		return domain.FeatureRow{}, err
	}

	date, err := parseDate(asOf)
	if err != nil {
		return domain.FeatureRow{}, err
	}
	row.AsOfDate = date
	row.EDRMom = fromNull(mom)
	row.EDR14dVol = fromNull(vol)
	row.EDRTrend = fromNull(trnd)
	return row, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func parseDate(s string) (time.Time, error) {
	date, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	return date, nil
}
