package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shs-ims/registrar-api/internal/models"
)

// GradeRepository handles persistence of grade records. Every write path
// runs Grade.Normalize before persisting, so no committed row can violate
// the semester/quarter invariant or carry a stale semester grade.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

const gradeColumns = `id, enrollment_id, student_id, subject_id, schedule_id, period_id, faculty_id, semester, first_quarter, second_quarter, third_quarter, fourth_quarter, semester_grade, status, approval_status, approver_id, approval_notes, decided_at, created_at, updated_at`

// FindByID returns a grade by its ID.
func (r *GradeRepository) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	query := fmt.Sprintf(`SELECT %s FROM grades WHERE id = $1`, gradeColumns)
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, id); err != nil {
		return nil, err
	}
	return &grade, nil
}

// FindByKey returns the grade for one student+subject+class+period, if any.
func (r *GradeRepository) FindByKey(ctx context.Context, studentID, subjectID, scheduleID, periodID string) (*models.Grade, error) {
	query := fmt.Sprintf(`SELECT %s FROM grades WHERE student_id = $1 AND subject_id = $2 AND schedule_id = $3 AND period_id = $4`, gradeColumns)
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, studentID, subjectID, scheduleID, periodID); err != nil {
		return nil, err
	}
	return &grade, nil
}

// List returns grades matching the filter.
func (r *GradeRepository) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, int, error) {
	var conditions []string
	var args []interface{}

	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.ScheduleID != "" {
		conditions = append(conditions, fmt.Sprintf("schedule_id = $%d", len(args)+1))
		args = append(args, filter.ScheduleID)
	}
	if filter.PeriodID != "" {
		conditions = append(conditions, fmt.Sprintf("period_id = $%d", len(args)+1))
		args = append(args, filter.PeriodID)
	}
	if filter.Approval != "" {
		conditions = append(conditions, fmt.Sprintf("approval_status = $%d", len(args)+1))
		args = append(args, filter.Approval)
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

	query := fmt.Sprintf(`SELECT %s FROM grades%s ORDER BY updated_at DESC LIMIT %d OFFSET %d`, gradeColumns, clause, size, offset)
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list grades: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM grades"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count grades: %w", err)
	}
	return grades, total, nil
}

// QuarterUpdate sets one quarter slot to a value (nil clears it).
type QuarterUpdate struct {
	Quarter int
	Value   *float64
}

// Upsert creates or updates the grade row for the key, applying the quarter
// updates under a row lock. The stored record is normalized before commit:
// forbidden quarters nulled, semester grade recomputed. Records under
// review (PENDING_APPROVAL or APPROVED) reject edits with ErrStateConflict.
func (r *GradeRepository) Upsert(ctx context.Context, template *models.Grade, updates []QuarterUpdate) (grade *models.Grade, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin grade upsert tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	lockQuery := fmt.Sprintf(`SELECT %s FROM grades WHERE student_id = $1 AND subject_id = $2 AND schedule_id = $3 AND period_id = $4 FOR UPDATE`, gradeColumns)

	var existing models.Grade
	err = tx.GetContext(ctx, &existing, lockQuery, template.StudentID, template.SubjectID, template.ScheduleID, template.PeriodID)
	switch {
	case err == sql.ErrNoRows:
		grade = template
		grade.ID = uuid.NewString()
		if grade.Status == "" {
			grade.Status = models.GradeStatusOngoing
		}
		if grade.Approval == "" {
			grade.Approval = models.GradeApprovalDraft
		}
		grade.CreatedAt = now
		err = nil
	case err != nil:
		return nil, fmt.Errorf("lock grade: %w", err)
	default:
		if !existing.Approval.Editable() {
			return nil, ErrStateConflict
		}
		grade = &existing
		// Semester reassignment is allowed while editable; Normalize clears
		// the quarters that no longer apply.
		grade.Semester = template.Semester
	}

	for _, update := range updates {
		slot := grade.Quarter(update.Quarter)
		if slot == nil {
			return nil, fmt.Errorf("invalid quarter %d", update.Quarter)
		}
		*slot = update.Value
	}

	grade.Normalize()
	grade.UpdatedAt = now

	const upsertQuery = `INSERT INTO grades (id, enrollment_id, student_id, subject_id, schedule_id, period_id, faculty_id, semester, first_quarter, second_quarter, third_quarter, fourth_quarter, semester_grade, status, approval_status, approver_id, approval_notes, decided_at, created_at, updated_at)
        VALUES (:id, :enrollment_id, :student_id, :subject_id, :schedule_id, :period_id, :faculty_id, :semester, :first_quarter, :second_quarter, :third_quarter, :fourth_quarter, :semester_grade, :status, :approval_status, :approver_id, :approval_notes, :decided_at, :created_at, :updated_at)
        ON CONFLICT (id) DO UPDATE SET semester = :semester, first_quarter = :first_quarter, second_quarter = :second_quarter, third_quarter = :third_quarter, fourth_quarter = :fourth_quarter, semester_grade = :semester_grade, status = :status, updated_at = :updated_at`
	if _, err = tx.NamedExecContext(ctx, upsertQuery, grade); err != nil {
		return nil, fmt.Errorf("upsert grade: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grade upsert tx: %w", err)
	}
	return grade, nil
}

// TransitionApproval moves the review axis under a row lock. Resubmission
// clears the previous decision; reopening returns the record to DRAFT so
// quarter edits become possible again.
func (r *GradeRepository) TransitionApproval(ctx context.Context, id string, target models.GradeApprovalStatus, approverID *string, notes *string) (grade *models.Grade, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approval tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lockQuery := fmt.Sprintf(`SELECT %s FROM grades WHERE id = $1 FOR UPDATE`, gradeColumns)
	var existing models.Grade
	if err = tx.GetContext(ctx, &existing, lockQuery, id); err != nil {
		return nil, err
	}
	if !existing.Approval.CanTransition(target) {
		return nil, ErrStateConflict
	}

	now := time.Now().UTC()
	grade = &existing
	grade.Approval = target
	grade.UpdatedAt = now

	switch target {
	case models.GradeApprovalApproved, models.GradeApprovalRejected:
		grade.ApproverID = approverID
		grade.ApprovalNotes = notes
		grade.DecidedAt = &now
	default:
		// Submit, resubmit and reopen reset the previous decision; quarter
		// values are untouched.
		grade.ApproverID = nil
		grade.ApprovalNotes = nil
		grade.DecidedAt = nil
	}

	const update = `UPDATE grades SET approval_status = :approval_status, approver_id = :approver_id, approval_notes = :approval_notes, decided_at = :decided_at, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, update, grade); err != nil {
		return nil, fmt.Errorf("transition grade approval: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval tx: %w", err)
	}
	return grade, nil
}

// ListFailed returns the approved grades below the passing mark for an
// enrollment. Source data for summer-remedial planning.
func (r *GradeRepository) ListFailed(ctx context.Context, enrollmentID string) ([]models.Grade, error) {
	query := fmt.Sprintf(`SELECT %s FROM grades WHERE enrollment_id = $1 AND approval_status = $2 AND semester_grade IS NOT NULL AND semester_grade < $3`, gradeColumns)
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, enrollmentID, models.GradeApprovalApproved, models.PassingGrade); err != nil {
		return nil, fmt.Errorf("list failed grades: %w", err)
	}
	return grades, nil
}
