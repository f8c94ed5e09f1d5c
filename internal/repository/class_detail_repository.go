package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shs-ims/registrar-api/internal/models"
)

// ClassDetailRepository reads and overrides class membership rows. Creation
// happens only inside EnrollmentRepository.Finalize.
type ClassDetailRepository struct {
	db *sqlx.DB
}

// NewClassDetailRepository constructs the repository.
func NewClassDetailRepository(db *sqlx.DB) *ClassDetailRepository {
	return &ClassDetailRepository{db: db}
}

const classDetailColumns = `id, enrollment_id, schedule_id, section_id, subject_id, period_id, status, is_enrolled, created_at`

// ListByEnrollment returns all class memberships for an enrollment.
func (r *ClassDetailRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.ClassDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_details WHERE enrollment_id = $1 ORDER BY created_at`, classDetailColumns)
	var details []models.ClassDetail
	if err := r.db.SelectContext(ctx, &details, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list class details: %w", err)
	}
	return details, nil
}

// FindByID returns one class membership row.
func (r *ClassDetailRepository) FindByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_details WHERE id = $1`, classDetailColumns)
	var detail models.ClassDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Override applies a coordinator-level per-subject decision on a membership.
func (r *ClassDetailRepository) Override(ctx context.Context, id string, status models.ClassDetailStatus) error {
	const query = `UPDATE class_details SET status = $2, is_enrolled = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, status == models.ClassDetailApproved); err != nil {
		return fmt.Errorf("override class detail: %w", err)
	}
	return nil
}

// CountByFacultyAndPeriod counts distinct active classes with at least one
// enrolled student, grouped per faculty. Used only for diagnostics; the
// faculty load aggregate recomputes from class_schedules.
func (r *ClassDetailRepository) CountByFacultyAndPeriod(ctx context.Context, facultyID, periodID string) (int, error) {
	const query = `SELECT COUNT(DISTINCT cd.schedule_id) FROM class_details cd
        JOIN class_schedules cs ON cs.id = cd.schedule_id
        WHERE cs.faculty_id = $1 AND cd.period_id = $2 AND cd.is_enrolled = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, facultyID, periodID); err != nil {
		return 0, fmt.Errorf("count faculty class details: %w", err)
	}
	return count, nil
}
