package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/shs-ims/registrar-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func enrollmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "period_id", "grade_level", "strand_preferences", "assigned_strand", "section_id", "status", "enrollment_type", "coordinator_id", "coordinator_notes", "submitted_at", "reviewed_at", "created_at", "updated_at"})
}

func TestEnrollmentRepositoryCreateInsertsRow(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("stu-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND period_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("stu-1", "per-1", models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{
		StudentID:         "stu-1",
		PeriodID:          "per-1",
		GradeLevel:        11,
		StrandPreferences: []string{"STEM"},
		Status:            models.EnrollmentStatusPending,
		Type:              models.EnrollmentTypeRegular,
	}
	err := repo.Create(context.Background(), enrollment, nil)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateGuardsDuplicates(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// A non-rejected row already exists for the student and period; the
	// insert is rolled back before it happens.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("stu-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND period_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("stu-1", "per-1", models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Enrollment{
		StudentID: "stu-1",
		PeriodID:  "per-1",
		Status:    models.EnrollmentStatusPending,
		Type:      models.EnrollmentTypeRegular,
	}, nil)
	require.ErrorIs(t, err, ErrDuplicateEnrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDecideApprove(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments e WHERE e.id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows().AddRow("enr-1", "stu-1", "per-1", 11, "{STEM}", nil, nil, models.EnrollmentStatusPending, models.EnrollmentTypeRegular, nil, nil, now, nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, assigned_strand = $3, section_id = $4")).
		WithArgs("enr-1", models.EnrollmentStatusApproved, "STEM", "sec-1", "coord-1", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, err := repo.Decide(context.Background(), DecideParams{
		EnrollmentID:  "enr-1",
		Approve:       true,
		SectionID:     "sec-1",
		Strand:        "STEM",
		CoordinatorID: "coord-1",
	})
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusApproved, enrollment.Status)
	require.Equal(t, "STEM", *enrollment.AssignedStrand)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDecideConflict(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// The row already carries a decision; the second decider loses.
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows().AddRow("enr-1", "stu-1", "per-1", 11, "{STEM}", "STEM", "sec-1", models.EnrollmentStatusApproved, models.EnrollmentTypeRegular, "coord-1", nil, now, now, now, now))
	mock.ExpectRollback()

	_, err := repo.Decide(context.Background(), DecideParams{EnrollmentID: "enr-1", Approve: true, SectionID: "sec-1", Strand: "STEM", CoordinatorID: "coord-2"})
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFinalizeCreatesClassDetails(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows().AddRow("enr-1", "stu-1", "per-1", 11, "{STEM}", "STEM", "sec-1", models.EnrollmentStatusApproved, models.EnrollmentTypeRegular, "coord-1", nil, now, now, now, now))

	scheduleRows := sqlmock.NewRows([]string{"id", "section_id", "subject_id", "faculty_id", "period_id", "semester", "day_of_week", "start_time", "end_time", "active", "created_at"}).
		AddRow("sched-1", "sec-1", "sub-1", "fac-1", "per-1", models.SemesterFirst, 1, "07:30", "08:30", true, now).
		AddRow("sched-2", "sec-1", "sub-2", "fac-2", "per-1", models.SemesterFirst, 2, "08:30", "09:30", true, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_schedules WHERE section_id = $1 AND period_id = $2 AND active = TRUE")).
		WithArgs("sec-1", "per-1").
		WillReturnRows(scheduleRows)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_details")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_details")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2")).
		WithArgs("enr-1", models.EnrollmentStatusEnrolled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, created, err := repo.Finalize(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	require.Equal(t, 2, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFinalizeWithoutSection(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows().AddRow("enr-1", "stu-1", "per-1", 11, "{STEM}", "STEM", nil, models.EnrollmentStatusApproved, models.EnrollmentTypeRegular, "coord-1", nil, now, now, now, now))
	mock.ExpectRollback()

	_, _, err := repo.Finalize(context.Background(), "enr-1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsNonRejected(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND period_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("stu-1", "per-1", models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.ExistsNonRejected(context.Background(), "stu-1", "per-1")
	require.NoError(t, err)
	require.False(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("stu-1", "per-1", models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err = repo.ExistsNonRejected(context.Background(), "stu-1", "per-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
