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

// EnrollmentRepository handles persistence of enrollments and their
// transferee sub-entities. All transitions lock the enrollment row so that
// concurrent decisions serialize and side effects apply at most once.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `e.id, e.student_id, e.period_id, e.grade_level, e.strand_preferences, e.assigned_strand, e.section_id, e.status, e.enrollment_type, e.coordinator_id, e.coordinator_notes, e.submitted_at, e.reviewed_at, e.created_at, e.updated_at`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN periods p ON p.id = e.period_id
LEFT JOIN sections sec ON sec.id = e.section_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.PeriodID != "" {
		conditions = append(conditions, fmt.Sprintf("e.period_id = $%d", len(args)+1))
		args = append(args, filter.PeriodID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("e.enrollment_type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.Strand != "" {
		conditions = append(conditions, fmt.Sprintf("(e.assigned_strand = $%d OR e.strand_preferences[1] = $%d)", len(args)+1, len(args)+1))
		args = append(args, filter.Strand)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"submitted_at": "e.submitted_at",
		"student_name": "s.full_name",
		"status":       "e.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.submitted_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT %s,
        s.lrn AS student_lrn, s.full_name AS student_name,
        p.year_start || '-' || p.year_end || ' ' || p.semester AS period_label,
        sec.name AS section_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, enrollmentColumns, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments e WHERE e.id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s,
        s.lrn AS student_lrn, s.full_name AS student_name,
        p.year_start || '-' || p.year_end || ' ' || p.semester AS period_label,
        sec.name AS section_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN periods p ON p.id = e.period_id
        LEFT JOIN sections sec ON sec.id = e.section_id
        WHERE e.id = $1`, enrollmentColumns)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsNonRejected checks the single-enrollment invariant: at most one
// enrollment with status outside REJECTED per (student, period).
func (r *EnrollmentRepository) ExistsNonRejected(ctx context.Context, studentID, periodID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND period_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, periodID, models.EnrollmentStatusRejected); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check existing enrollment: %w", err)
	}
	return true, nil
}

// FindByStudentPeriodLevel returns the non-rejected enrollment for the
// student at the given grade level and period, if any.
func (r *EnrollmentRepository) FindByStudentPeriodLevel(ctx context.Context, studentID, periodID string, gradeLevel int) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments e WHERE e.student_id = $1 AND e.period_id = $2 AND e.grade_level = $3 AND e.status <> $4 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, periodID, gradeLevel, models.EnrollmentStatusRejected); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Create persists a new enrollment, together with the transferee's previous
// school record when present, in one transaction. The student row is locked
// before the duplicate check so that concurrent submits for the same student
// serialize; the loser sees the winner's row and gets ErrDuplicateEnrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment, previous *models.PreviousSchool) (err error) {
	now := time.Now().UTC()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.SubmittedAt.IsZero() {
		enrollment.SubmittedAt = now
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create enrollment tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var studentID string
	if err = tx.GetContext(ctx, &studentID, `SELECT id FROM students WHERE id = $1 FOR UPDATE`, enrollment.StudentID); err != nil {
		return fmt.Errorf("lock student: %w", err)
	}

	var exists int
	err = tx.GetContext(ctx, &exists, `SELECT 1 FROM enrollments WHERE student_id = $1 AND period_id = $2 AND status <> $3 LIMIT 1`,
		enrollment.StudentID, enrollment.PeriodID, models.EnrollmentStatusRejected)
	if err == nil {
		err = ErrDuplicateEnrollment
		return err
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check existing enrollment: %w", err)
	}
	err = nil

	const query = `INSERT INTO enrollments (id, student_id, period_id, grade_level, strand_preferences, assigned_strand, section_id, status, enrollment_type, coordinator_id, coordinator_notes, submitted_at, reviewed_at, created_at, updated_at)
        VALUES (:id, :student_id, :period_id, :grade_level, :strand_preferences, :assigned_strand, :section_id, :status, :enrollment_type, :coordinator_id, :coordinator_notes, :submitted_at, :reviewed_at, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}

	if previous != nil {
		previous.ID = uuid.NewString()
		previous.EnrollmentID = enrollment.ID
		previous.CreatedAt = now
		const prevQuery = `INSERT INTO previous_schools (id, enrollment_id, name, address, last_level, created_at)
            VALUES (:id, :enrollment_id, :name, :address, :last_level, :created_at)`
		if _, err = tx.NamedExecContext(ctx, prevQuery, previous); err != nil {
			return fmt.Errorf("create previous school: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create enrollment tx: %w", err)
	}
	return nil
}

// lockEnrollment reads the enrollment row FOR UPDATE within the transaction.
func lockEnrollment(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments e WHERE e.id = $1 FOR UPDATE`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// RecordEvaluation moves a transferee enrollment to EVALUATED, replacing
// its credited-subject decisions in the same transaction.
func (r *EnrollmentRepository) RecordEvaluation(ctx context.Context, id, coordinatorID string, notes *string, credited []models.CreditedSubject) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin evaluation tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	enrollment, err = lockEnrollment(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !enrollment.Status.CanTransition(models.EnrollmentStatusEvaluated) {
		return nil, ErrStateConflict
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM credited_subjects WHERE enrollment_id = $1`, id); err != nil {
		return nil, fmt.Errorf("clear credited subjects: %w", err)
	}

	now := time.Now().UTC()
	for i := range credited {
		credited[i].ID = uuid.NewString()
		credited[i].EnrollmentID = id
		credited[i].CreatedAt = now
		const creditQuery = `INSERT INTO credited_subjects (id, enrollment_id, subject_id, grade, remarks, created_at)
            VALUES (:id, :enrollment_id, :subject_id, :grade, :remarks, :created_at)`
		if _, err = tx.NamedExecContext(ctx, creditQuery, credited[i]); err != nil {
			return nil, fmt.Errorf("insert credited subject: %w", err)
		}
	}

	const update = `UPDATE enrollments SET status = $2, coordinator_id = $3, coordinator_notes = $4, reviewed_at = $5, updated_at = $5 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, id, models.EnrollmentStatusEvaluated, coordinatorID, notes, now); err != nil {
		return nil, fmt.Errorf("record evaluation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit evaluation tx: %w", err)
	}

	enrollment.Status = models.EnrollmentStatusEvaluated
	enrollment.CoordinatorID = &coordinatorID
	enrollment.CoordinatorNotes = notes
	enrollment.ReviewedAt = &now
	return enrollment, nil
}

// ReturnForRevision bounces an evaluated transferee back to
// PENDING_EVALUATION with revision notes. This is the only backward edge.
func (r *EnrollmentRepository) ReturnForRevision(ctx context.Context, id, coordinatorID, notes string) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin revision tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	enrollment, err = lockEnrollment(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusEvaluated {
		return nil, ErrStateConflict
	}

	now := time.Now().UTC()
	const update = `UPDATE enrollments SET status = $2, coordinator_id = $3, coordinator_notes = $4, updated_at = $5 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, id, models.EnrollmentStatusPendingEvaluation, coordinatorID, notes, now); err != nil {
		return nil, fmt.Errorf("return for revision: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit revision tx: %w", err)
	}

	enrollment.Status = models.EnrollmentStatusPendingEvaluation
	enrollment.CoordinatorID = &coordinatorID
	enrollment.CoordinatorNotes = &notes
	return enrollment, nil
}

// DecideParams carries a coordinator decision on an enrollment.
type DecideParams struct {
	EnrollmentID  string
	Approve       bool
	SectionID     string
	Strand        string
	CoordinatorID string
	Notes         *string
}

// Decide transitions a pending or evaluated enrollment to APPROVED or
// REJECTED under a row lock. The loser of two concurrent decisions observes
// the already-transitioned status and receives ErrStateConflict.
func (r *EnrollmentRepository) Decide(ctx context.Context, params DecideParams) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin decide tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	enrollment, err = lockEnrollment(ctx, tx, params.EnrollmentID)
	if err != nil {
		return nil, err
	}

	target := models.EnrollmentStatusRejected
	if params.Approve {
		target = models.EnrollmentStatusApproved
	}
	if !enrollment.Status.CanTransition(target) {
		return nil, ErrStateConflict
	}

	now := time.Now().UTC()
	if params.Approve {
		const update = `UPDATE enrollments SET status = $2, assigned_strand = $3, section_id = $4, coordinator_id = $5, coordinator_notes = $6, reviewed_at = $7, updated_at = $7 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, update, params.EnrollmentID, target, params.Strand, params.SectionID, params.CoordinatorID, params.Notes, now); err != nil {
			return nil, fmt.Errorf("approve enrollment: %w", err)
		}
		enrollment.AssignedStrand = &params.Strand
		enrollment.SectionID = &params.SectionID
	} else {
		const update = `UPDATE enrollments SET status = $2, coordinator_id = $3, coordinator_notes = $4, reviewed_at = $5, updated_at = $5 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, update, params.EnrollmentID, target, params.CoordinatorID, params.Notes, now); err != nil {
			return nil, fmt.Errorf("reject enrollment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decide tx: %w", err)
	}

	enrollment.Status = target
	enrollment.CoordinatorID = &params.CoordinatorID
	enrollment.CoordinatorNotes = params.Notes
	enrollment.ReviewedAt = &now
	return enrollment, nil
}

// Finalize moves an approved enrollment to ENROLLED and bulk-creates one
// ClassDetail per class scheduled for its section and semester. Status
// write and membership creation commit together or not at all.
func (r *EnrollmentRepository) Finalize(ctx context.Context, id string) (enrollment *models.Enrollment, created int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	enrollment, err = lockEnrollment(ctx, tx, id)
	if err != nil {
		return nil, 0, err
	}
	if !enrollment.Status.CanTransition(models.EnrollmentStatusEnrolled) {
		return nil, 0, ErrStateConflict
	}
	if enrollment.SectionID == nil {
		return nil, 0, fmt.Errorf("finalize enrollment %s: no section assigned", id)
	}

	var schedules []models.ClassSchedule
	const scheduleQuery = `SELECT id, section_id, subject_id, faculty_id, period_id, semester, day_of_week, start_time, end_time, active, created_at
        FROM class_schedules WHERE section_id = $1 AND period_id = $2 AND active = TRUE`
	if err = tx.SelectContext(ctx, &schedules, scheduleQuery, *enrollment.SectionID, enrollment.PeriodID); err != nil {
		return nil, 0, fmt.Errorf("load section schedules: %w", err)
	}

	now := time.Now().UTC()
	for _, schedule := range schedules {
		detail := models.ClassDetail{
			ID:           uuid.NewString(),
			EnrollmentID: id,
			ScheduleID:   schedule.ID,
			SectionID:    schedule.SectionID,
			SubjectID:    schedule.SubjectID,
			PeriodID:     schedule.PeriodID,
			Status:       models.ClassDetailApproved,
			IsEnrolled:   true,
			CreatedAt:    now,
		}
		const detailQuery = `INSERT INTO class_details (id, enrollment_id, schedule_id, section_id, subject_id, period_id, status, is_enrolled, created_at)
            VALUES (:id, :enrollment_id, :schedule_id, :section_id, :subject_id, :period_id, :status, :is_enrolled, :created_at)`
		if _, err = tx.NamedExecContext(ctx, detailQuery, detail); err != nil {
			return nil, 0, fmt.Errorf("create class detail: %w", err)
		}
	}

	const update = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, id, models.EnrollmentStatusEnrolled, now); err != nil {
		return nil, 0, fmt.Errorf("finalize enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit finalize tx: %w", err)
	}

	enrollment.Status = models.EnrollmentStatusEnrolled
	return enrollment, len(schedules), nil
}

// ListCreditedSubjects returns the credited-subject decisions for a
// transferee enrollment.
func (r *EnrollmentRepository) ListCreditedSubjects(ctx context.Context, enrollmentID string) ([]models.CreditedSubject, error) {
	const query = `SELECT id, enrollment_id, subject_id, grade, remarks, created_at FROM credited_subjects WHERE enrollment_id = $1 ORDER BY created_at`
	var credited []models.CreditedSubject
	if err := r.db.SelectContext(ctx, &credited, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list credited subjects: %w", err)
	}
	return credited, nil
}

// FindPreviousSchool returns the transferee's school of origin, if recorded.
func (r *EnrollmentRepository) FindPreviousSchool(ctx context.Context, enrollmentID string) (*models.PreviousSchool, error) {
	const query = `SELECT id, enrollment_id, name, address, last_level, created_at FROM previous_schools WHERE enrollment_id = $1`
	var previous models.PreviousSchool
	if err := r.db.GetContext(ctx, &previous, query, enrollmentID); err != nil {
		return nil, err
	}
	return &previous, nil
}
