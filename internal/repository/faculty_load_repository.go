package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shs-ims/registrar-api/internal/models"
)

// FacultyLoadRepository maintains the derived load aggregate. Rows are only
// ever replaced wholesale from class_schedules, never incremented, so a
// recompute always converges on the truth regardless of what the previous
// snapshot contained.
type FacultyLoadRepository struct {
	db *sqlx.DB
}

// NewFacultyLoadRepository constructs the repository.
func NewFacultyLoadRepository(db *sqlx.DB) *FacultyLoadRepository {
	return &FacultyLoadRepository{db: db}
}

// Recompute rebuilds every faculty's load for the period from the schedule
// source rows in one transaction.
func (r *FacultyLoadRepository) Recompute(ctx context.Context, periodID string, maxLoads int) (loads []models.FacultyLoad, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin load recompute tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	type loadRow struct {
		FacultyID string `db:"faculty_id"`
		Total     int    `db:"total"`
	}
	var rows []loadRow
	const countQuery = `SELECT faculty_id, COUNT(*) AS total FROM class_schedules
        WHERE period_id = $1 AND active = TRUE GROUP BY faculty_id`
	if err = tx.SelectContext(ctx, &rows, countQuery, periodID); err != nil {
		return nil, fmt.Errorf("count faculty schedules: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM faculty_loads WHERE period_id = $1`, periodID); err != nil {
		return nil, fmt.Errorf("clear faculty loads: %w", err)
	}

	now := time.Now().UTC()
	loads = make([]models.FacultyLoad, 0, len(rows))
	for _, row := range rows {
		load := models.FacultyLoad{
			FacultyID:    row.FacultyID,
			PeriodID:     periodID,
			TotalLoads:   row.Total,
			MaxLoads:     maxLoads,
			IsOverloaded: row.Total > maxLoads,
			ComputedAt:   now,
		}
		const insertQuery = `INSERT INTO faculty_loads (faculty_id, period_id, total_loads, max_loads, is_overloaded, computed_at)
            VALUES (:faculty_id, :period_id, :total_loads, :max_loads, :is_overloaded, :computed_at)`
		if _, err = tx.NamedExecContext(ctx, insertQuery, load); err != nil {
			return nil, fmt.Errorf("insert faculty load: %w", err)
		}
		loads = append(loads, load)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit load recompute tx: %w", err)
	}
	return loads, nil
}

// Find returns the load snapshot for one faculty member and period.
func (r *FacultyLoadRepository) Find(ctx context.Context, facultyID, periodID string) (*models.FacultyLoad, error) {
	const query = `SELECT faculty_id, period_id, total_loads, max_loads, is_overloaded, computed_at
        FROM faculty_loads WHERE faculty_id = $1 AND period_id = $2`
	var load models.FacultyLoad
	if err := r.db.GetContext(ctx, &load, query, facultyID, periodID); err != nil {
		return nil, err
	}
	return &load, nil
}

// ListByPeriod returns every faculty load snapshot for the period.
func (r *FacultyLoadRepository) ListByPeriod(ctx context.Context, periodID string) ([]models.FacultyLoad, error) {
	const query = `SELECT faculty_id, period_id, total_loads, max_loads, is_overloaded, computed_at
        FROM faculty_loads WHERE period_id = $1 ORDER BY total_loads DESC`
	var loads []models.FacultyLoad
	if err := r.db.SelectContext(ctx, &loads, query, periodID); err != nil {
		return nil, fmt.Errorf("list faculty loads: %w", err)
	}
	return loads, nil
}
