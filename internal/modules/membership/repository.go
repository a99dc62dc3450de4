// Package membership persists the append-only index membership history.
package membership

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/database"
	"github.com/rte-labs/rte100/internal/domain"
)

const membershipColumns = `rebalance_date, universe_id, rank, weight`

// Repository handles membership table persistence. History is append-only:
// re-running a rebalance for an existing date replaces that date's records
// but never touches earlier dates.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new membership repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "membership").Logger(),
	}
}

// Append stores one rebalance date's records. Idempotent per date: an
// existing membership for the same date is replaced. Zero records is a valid
// rebalance outcome (no eligible titles); the date is still recorded so the
// level builder sees the empty period instead of the prior weights.
func (r *Repository) Append(date time.Time, records []domain.MembershipRecord) error {
	dateKey := date.Format(domain.DateLayout)

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM membership WHERE rebalance_date = ?", dateKey); err != nil {
			return fmt.Errorf("failed to clear membership for %s: %w", dateKey, err)
		}
		if _, err := tx.Exec("INSERT OR IGNORE INTO rebalances (rebalance_date) VALUES (?)", dateKey); err != nil {
			return fmt.Errorf("failed to record rebalance date %s: %w", dateKey, err)
		}

		stmt, err := tx.Prepare(`INSERT INTO membership (` + membershipColumns + `) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare membership insert: %w", err)
		}
		defer stmt.Close()

		for _, m := range records {
			if m.RebalanceDate.Format(domain.DateLayout) != dateKey {
				return fmt.Errorf("membership batch spans multiple rebalance dates (%s and %s)",
					dateKey, m.RebalanceDate.Format(domain.DateLayout))
			}
			if _, err := stmt.Exec(dateKey, m.UniverseID, m.Rank, m.Weight); err != nil {
				return fmt.Errorf("failed to insert membership for universe %d: %w", m.UniverseID, err)
			}
		}
		return nil
	})
}

// GetRebalanceDates returns every rebalance date ascending, empty rebalances
// included. Membership dates are unioned in so histories written before the
// rebalances table existed stay complete.
func (r *Repository) GetRebalanceDates() ([]time.Time, error) {
	rows, err := r.db.Query(`SELECT rebalance_date FROM rebalances
		UNION SELECT DISTINCT rebalance_date FROM membership
		ORDER BY rebalance_date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, fmt.Errorf("failed to scan rebalance date: %w", err)
		}
		date, err := time.Parse(domain.DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rebalance date %q: %w", dateStr, err)
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

// GetAll returns the full membership history ordered by (rebalance_date, rank).
func (r *Repository) GetAll() ([]domain.MembershipRecord, error) {
	return r.query("SELECT " + membershipColumns + " FROM membership ORDER BY rebalance_date, rank")
}

// GetLatest returns the records of the most recent rebalance date, ordered by
// rank. Empty result means no rebalance has run yet.
func (r *Repository) GetLatest() ([]domain.MembershipRecord, error) {
	return r.query("SELECT " + membershipColumns + ` FROM membership
		WHERE rebalance_date = (SELECT MAX(rebalance_date) FROM membership)
		ORDER BY rank`)
}

// GetLatestBefore returns the records of the most recent rebalance date
// strictly before the given date, ordered by rank. Used as the prior
// membership when re-running a historical rebalance.
func (r *Repository) GetLatestBefore(date time.Time) ([]domain.MembershipRecord, error) {
	dateKey := date.Format(domain.DateLayout)
	return r.query("SELECT "+membershipColumns+` FROM membership
		WHERE rebalance_date = (SELECT MAX(rebalance_date) FROM membership WHERE rebalance_date < ?)
		ORDER BY rank`, dateKey)
}

func (r *Repository) query(q string, args ...any) ([]domain.MembershipRecord, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}
	defer rows.Close()

	var out []domain.MembershipRecord
	for rows.Next() {
		var (
			m       domain.MembershipRecord
			dateStr string
		)
		if err := rows.Scan(&dateStr, &m.UniverseID, &m.Rank, &m.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan membership record: %w", err)
		}
		date, err := time.Parse(domain.DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rebalance date %q: %w", dateStr, err)
		}
		m.RebalanceDate = date
		out = append(out, m)
	}
	return out, rows.Err()
}
