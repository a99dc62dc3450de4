package indexlevel

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/database"
	"github.com/rte-labs/rte100/internal/domain"
)

// Repository persists the index level series. The series is rebuilt from
// history each run, so ReplaceAll is the only write path.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new index level repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "indexlevel").Logger(),
	}
}

// ReplaceAll replaces the stored series with the given points.
func (r *Repository) ReplaceAll(points []domain.IndexLevelPoint) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM index_levels"); err != nil {
			return fmt.Errorf("failed to clear index_levels table: %w", err)
		}

		stmt, err := tx.Prepare("INSERT INTO index_levels (date, level) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare index level insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.Exec(p.Date.Format(domain.DateLayout), p.Level); err != nil {
				return fmt.Errorf("failed to insert index level for %s: %w", p.Date.Format(domain.DateLayout), err)
			}
		}
		return nil
	})
}

// GetAll returns the full stored series ordered by date.
func (r *Repository) GetAll() ([]domain.IndexLevelPoint, error) {
	rows, err := r.db.Query("SELECT date, level FROM index_levels ORDER BY date")
	if err != nil {
		return nil, fmt.Errorf("failed to query index levels: %w", err)
	}
	defer rows.Close()

	var points []domain.IndexLevelPoint
	for rows.Next() {
		var (
			dateStr string
			level   float64
		)
		if err := rows.Scan(&dateStr, &level); err != nil {
			return nil, fmt.Errorf("failed to scan index level: %w", err)
		}
		date, err := time.Parse(domain.DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse index level date %q: %w", dateStr, err)
		}
		points = append(points, domain.IndexLevelPoint{Date: date, Level: level})
	}
	return points, rows.Err()
}
