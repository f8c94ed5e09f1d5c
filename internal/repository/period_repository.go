package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shs-ims/registrar-api/internal/models"
)

// PeriodRepository handles persistence of school periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

const periodColumns = `id, year_start, year_end, semester, is_active, enrollment_open, enrollment_start, enrollment_end, allow_progression, created_at, updated_at`

// List returns periods filtered by the provided criteria.
func (r *PeriodRepository) List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error) {
	var conditions []string
	var args []interface{}

	if filter.YearStart > 0 {
		conditions = append(conditions, fmt.Sprintf("year_start = $%d", len(args)+1))
		args = append(args, filter.YearStart)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM periods%s ORDER BY year_start DESC, semester DESC LIMIT %d OFFSET %d`, periodColumns, clause, size, offset)

	var periods []models.Period
	if err := r.db.SelectContext(ctx, &periods, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list periods: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM periods"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count periods: %w", err)
	}
	return periods, total, nil
}

// FindByID returns a period by its ID.
func (r *PeriodRepository) FindByID(ctx context.Context, id string) (*models.Period, error) {
	query := fmt.Sprintf(`SELECT %s FROM periods WHERE id = $1`, periodColumns)
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// FindActive returns the single active period.
func (r *PeriodRepository) FindActive(ctx context.Context) (*models.Period, error) {
	query := fmt.Sprintf(`SELECT %s FROM periods WHERE is_active = TRUE`, periodColumns)
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query); err != nil {
		return nil, err
	}
	return &period, nil
}

// ExistsByYearAndSemester checks uniqueness of the (year, semester) tuple.
func (r *PeriodRepository) ExistsByYearAndSemester(ctx context.Context, yearStart int, semester models.Semester, excludeID string) (bool, error) {
	query := `SELECT COUNT(*) FROM periods WHERE year_start = $1 AND semester = $2`
	args := []interface{}{yearStart, semester}
	if excludeID != "" {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("check period uniqueness: %w", err)
	}
	return count > 0, nil
}

// Create persists a new period record.
func (r *PeriodRepository) Create(ctx context.Context, period *models.Period) error {
	now := time.Now().UTC()
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	period.CreatedAt = now
	period.UpdatedAt = now

	const query = `INSERT INTO periods (id, year_start, year_end, semester, is_active, enrollment_open, enrollment_start, enrollment_end, allow_progression, created_at, updated_at)
        VALUES (:id, :year_start, :year_end, :semester, :is_active, :enrollment_open, :enrollment_start, :enrollment_end, :allow_progression, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("create period: %w", err)
	}
	return nil
}

// Update modifies an existing period.
func (r *PeriodRepository) Update(ctx context.Context, period *models.Period) error {
	period.UpdatedAt = time.Now().UTC()
	const query = `UPDATE periods SET year_start = :year_start, year_end = :year_end, semester = :semester, enrollment_open = :enrollment_open, enrollment_start = :enrollment_start, enrollment_end = :enrollment_end, allow_progression = :allow_progression, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("update period: %w", err)
	}
	return nil
}

// SetActive marks the provided period as active and deactivates the rest,
// preserving the single-active invariant in one transaction.
func (r *PeriodRepository) SetActive(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set active tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE periods SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND id <> $2`, now, id); err != nil {
		return fmt.Errorf("deactivate other periods: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE periods SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, now); err != nil {
		return fmt.Errorf("activate period: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set active tx: %w", err)
	}
	return nil
}

// SetEnrollmentWindow toggles the enrollment-open flag and optional window.
func (r *PeriodRepository) SetEnrollmentWindow(ctx context.Context, id string, open bool, start, end *time.Time) error {
	const query = `UPDATE periods SET enrollment_open = $2, enrollment_start = $3, enrollment_end = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, open, start, end, time.Now().UTC()); err != nil {
		return fmt.Errorf("set enrollment window: %w", err)
	}
	return nil
}

// SetProgression toggles the grade-progression flag for the period.
func (r *PeriodRepository) SetProgression(ctx context.Context, id string, allowed bool) error {
	const query = `UPDATE periods SET allow_progression = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, allowed, time.Now().UTC()); err != nil {
		return fmt.Errorf("set progression flag: %w", err)
	}
	return nil
}
