package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shs-ims/registrar-api/internal/models"
)

// ErrNoTargetSection is returned when no section exists for the target
// grade level and strand. Progression fails closed rather than leaving a
// student sectionless.
var ErrNoTargetSection = errors.New("no target section")

// ProgressionRepository executes enrollment advancement as single
// transactions: source lock, idempotence guard, target creation, source
// completion and the audit row commit together or not at all.
type ProgressionRepository struct {
	db *sqlx.DB
}

// NewProgressionRepository constructs the repository.
func NewProgressionRepository(db *sqlx.DB) *ProgressionRepository {
	return &ProgressionRepository{db: db}
}

// AdvanceParams describes one progression attempt.
type AdvanceParams struct {
	StudentID      string
	FromPeriodID   string
	ToPeriodID     string
	FromGradeLevel int
	ToGradeLevel   int
	Type           models.ProgressionType
}

// Advance moves a student's enrollment forward. Re-invoking for an already
// progressed student returns the existing target enrollment with the
// AlreadyProgressed notice instead of creating a duplicate.
func (r *ProgressionRepository) Advance(ctx context.Context, params AdvanceParams) (result *models.ProgressionResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin progression tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Lock the source row first so concurrent progressions serialize on it.
	sourceQuery := fmt.Sprintf(`SELECT %s FROM enrollments e
        WHERE e.student_id = $1 AND e.period_id = $2 AND e.grade_level = $3 AND e.status <> $4
        FOR UPDATE`, enrollmentColumns)
	var source models.Enrollment
	if err = tx.GetContext(ctx, &source, sourceQuery, params.StudentID, params.FromPeriodID, params.FromGradeLevel, models.EnrollmentStatusRejected); err != nil {
		return nil, err
	}

	// Idempotence guard: an existing non-rejected target enrollment means
	// the student already progressed.
	const existingQuery = `SELECT id FROM enrollments WHERE student_id = $1 AND period_id = $2 AND grade_level = $3 AND status <> $4 LIMIT 1`
	var existingID string
	err = tx.GetContext(ctx, &existingID, existingQuery, params.StudentID, params.ToPeriodID, params.ToGradeLevel, models.EnrollmentStatusRejected)
	switch {
	case err == nil:
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit progression tx: %w", commitErr)
			return nil, err
		}
		return &models.ProgressionResult{NewEnrollmentID: existingID, AlreadyProgressed: true}, nil
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("check progressed enrollment: %w", err)
	}
	err = nil

	if source.Status != models.EnrollmentStatusEnrolled {
		return nil, ErrStateConflict
	}
	if source.AssignedStrand == nil {
		return nil, fmt.Errorf("source enrollment %s has no assigned strand", source.ID)
	}

	// Resolve the target section sharing the source's strand. No guessing:
	// a missing section aborts the whole transaction.
	const sectionQuery = `SELECT id FROM sections WHERE strand = $1 AND grade_level = $2 AND period_id = $3 ORDER BY name LIMIT 1`
	var sectionID string
	if err = tx.GetContext(ctx, &sectionID, sectionQuery, *source.AssignedStrand, params.ToGradeLevel, params.ToPeriodID); err != nil {
		if err == sql.ErrNoRows {
			err = ErrNoTargetSection
		}
		return nil, err
	}

	now := time.Now().UTC()
	target := models.Enrollment{
		ID:                uuid.NewString(),
		StudentID:         source.StudentID,
		PeriodID:          params.ToPeriodID,
		GradeLevel:        params.ToGradeLevel,
		StrandPreferences: source.StrandPreferences,
		AssignedStrand:    source.AssignedStrand,
		SectionID:         &sectionID,
		Status:            models.EnrollmentStatusEnrolled,
		Type:              source.Type,
		SubmittedAt:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	const insertEnrollment = `INSERT INTO enrollments (id, student_id, period_id, grade_level, strand_preferences, assigned_strand, section_id, status, enrollment_type, coordinator_id, coordinator_notes, submitted_at, reviewed_at, created_at, updated_at)
        VALUES (:id, :student_id, :period_id, :grade_level, :strand_preferences, :assigned_strand, :section_id, :status, :enrollment_type, :coordinator_id, :coordinator_notes, :submitted_at, :reviewed_at, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertEnrollment, target); err != nil {
		return nil, fmt.Errorf("create target enrollment: %w", err)
	}

	// Membership in the target section's scheduled classes is part of being
	// enrolled; created here so the target never exists classless.
	var schedules []models.ClassSchedule
	const scheduleQuery = `SELECT id, section_id, subject_id, faculty_id, period_id, semester, day_of_week, start_time, end_time, active, created_at
        FROM class_schedules WHERE section_id = $1 AND period_id = $2 AND active = TRUE`
	if err = tx.SelectContext(ctx, &schedules, scheduleQuery, sectionID, params.ToPeriodID); err != nil {
		return nil, fmt.Errorf("load target schedules: %w", err)
	}
	for _, schedule := range schedules {
		detail := models.ClassDetail{
			ID:           uuid.NewString(),
			EnrollmentID: target.ID,
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
			return nil, fmt.Errorf("create target class detail: %w", err)
		}
	}

	// The source is marked historical, never mutated beyond this.
	const completeSource = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, completeSource, source.ID, models.EnrollmentStatusCompleted, now); err != nil {
		return nil, fmt.Errorf("complete source enrollment: %w", err)
	}

	progression := models.SemesterProgression{
		ID:               uuid.NewString(),
		FromEnrollmentID: source.ID,
		ToEnrollmentID:   target.ID,
		Type:             params.Type,
		Status:           models.ProgressionStatusCompleted,
		CreatedAt:        now,
	}
	const insertProgression = `INSERT INTO semester_progressions (id, from_enrollment_id, to_enrollment_id, progression_type, status, created_at)
        VALUES (:id, :from_enrollment_id, :to_enrollment_id, :progression_type, :status, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertProgression, progression); err != nil {
		return nil, fmt.Errorf("record progression: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit progression tx: %w", err)
	}
	return &models.ProgressionResult{NewEnrollmentID: target.ID}, nil
}

// ListByEnrollment returns the progression audit trail touching an
// enrollment on either side.
func (r *ProgressionRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.SemesterProgression, error) {
	const query = `SELECT id, from_enrollment_id, to_enrollment_id, progression_type, status, created_at
        FROM semester_progressions WHERE from_enrollment_id = $1 OR to_enrollment_id = $1 ORDER BY created_at`
	var progressions []models.SemesterProgression
	if err := r.db.SelectContext(ctx, &progressions, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list progressions: %w", err)
	}
	return progressions, nil
}

// CreateSummerClass opens a remedial aggregate over the given subjects.
// The source enrollment's status is left untouched. An existing summer
// class for the enrollment is returned as-is.
func (r *ProgressionRepository) CreateSummerClass(ctx context.Context, enrollmentID, periodID string, subjectIDs []string) (summer *models.SummerClass, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin summer class tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const existingQuery = `SELECT id, enrollment_id, period_id, status, created_at, updated_at FROM summer_classes WHERE enrollment_id = $1 FOR UPDATE`
	var existing models.SummerClass
	err = tx.GetContext(ctx, &existing, existingQuery, enrollmentID)
	switch {
	case err == nil:
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit summer class tx: %w", commitErr)
			return nil, err
		}
		return &existing, nil
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("check summer class: %w", err)
	}
	err = nil

	now := time.Now().UTC()
	summer = &models.SummerClass{
		ID:           uuid.NewString(),
		EnrollmentID: enrollmentID,
		PeriodID:     periodID,
		Status:       models.SummerClassOngoing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	const insertSummer = `INSERT INTO summer_classes (id, enrollment_id, period_id, status, created_at, updated_at)
        VALUES (:id, :enrollment_id, :period_id, :status, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertSummer, summer); err != nil {
		return nil, fmt.Errorf("create summer class: %w", err)
	}

	for _, subjectID := range subjectIDs {
		subject := models.SummerClassSubject{
			ID:            uuid.NewString(),
			SummerClassID: summer.ID,
			SubjectID:     subjectID,
		}
		const insertSubject = `INSERT INTO summer_class_subjects (id, summer_class_id, subject_id, remedial_grade, passed)
            VALUES (:id, :summer_class_id, :subject_id, :remedial_grade, :passed)`
		if _, err = tx.NamedExecContext(ctx, insertSubject, subject); err != nil {
			return nil, fmt.Errorf("create summer class subject: %w", err)
		}
		summer.Subjects = append(summer.Subjects, subject)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit summer class tx: %w", err)
	}
	return summer, nil
}

// RecordSummerResult stores a remedial grade and, when every subject has
// passed, closes the summer class.
func (r *ProgressionRepository) RecordSummerResult(ctx context.Context, summerClassID, subjectID string, grade float64) (summer *models.SummerClass, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin summer result tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const lockQuery = `SELECT id, enrollment_id, period_id, status, created_at, updated_at FROM summer_classes WHERE id = $1 FOR UPDATE`
	var class models.SummerClass
	if err = tx.GetContext(ctx, &class, lockQuery, summerClassID); err != nil {
		return nil, err
	}
	if class.Status != models.SummerClassOngoing {
		return nil, ErrStateConflict
	}

	passed := grade >= models.PassingGrade
	const update = `UPDATE summer_class_subjects SET remedial_grade = $3, passed = $4 WHERE summer_class_id = $1 AND subject_id = $2`
	var res sql.Result
	if res, err = tx.ExecContext(ctx, update, summerClassID, subjectID, grade, passed); err != nil {
		return nil, fmt.Errorf("record summer result: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return nil, err
	}

	var remaining int
	if err = tx.GetContext(ctx, &remaining, `SELECT COUNT(*) FROM summer_class_subjects WHERE summer_class_id = $1 AND passed = FALSE`, summerClassID); err != nil {
		return nil, fmt.Errorf("count remaining summer subjects: %w", err)
	}

	now := time.Now().UTC()
	if remaining == 0 {
		class.Status = models.SummerClassCompleted
	}
	class.UpdatedAt = now
	if _, err = tx.ExecContext(ctx, `UPDATE summer_classes SET status = $2, updated_at = $3 WHERE id = $1`, summerClassID, class.Status, now); err != nil {
		return nil, fmt.Errorf("update summer class: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit summer result tx: %w", err)
	}

	const subjectsQuery = `SELECT id, summer_class_id, subject_id, remedial_grade, passed FROM summer_class_subjects WHERE summer_class_id = $1`
	if err = r.db.SelectContext(ctx, &class.Subjects, subjectsQuery, summerClassID); err != nil {
		return nil, fmt.Errorf("list summer class subjects: %w", err)
	}
	return &class, nil
}

// FindSummerByEnrollment returns the summer class for an enrollment.
func (r *ProgressionRepository) FindSummerByEnrollment(ctx context.Context, enrollmentID string) (*models.SummerClass, error) {
	const query = `SELECT id, enrollment_id, period_id, status, created_at, updated_at FROM summer_classes WHERE enrollment_id = $1`
	var class models.SummerClass
	if err := r.db.GetContext(ctx, &class, query, enrollmentID); err != nil {
		return nil, err
	}
	const subjectsQuery = `SELECT id, summer_class_id, subject_id, remedial_grade, passed FROM summer_class_subjects WHERE summer_class_id = $1`
	if err := r.db.SelectContext(ctx, &class.Subjects, subjectsQuery, class.ID); err != nil {
		return nil, fmt.Errorf("list summer class subjects: %w", err)
	}
	return &class, nil
}
