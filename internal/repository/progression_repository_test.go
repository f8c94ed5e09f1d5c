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

func newProgressionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func advanceParams() AdvanceParams {
	return AdvanceParams{
		StudentID:      "stu-1",
		FromPeriodID:   "per-1",
		ToPeriodID:     "per-2",
		FromGradeLevel: 11,
		ToGradeLevel:   12,
		Type:           models.ProgressionGradeAdvance,
	}
}

func sourceEnrollmentRows(now time.Time) *sqlmock.Rows {
	return enrollmentRows().
		AddRow("enr-1", "stu-1", "per-1", 11, "{STEM}", "STEM", "sec-1", models.EnrollmentStatusEnrolled, models.EnrollmentTypeRegular, "coord-1", nil, now, now, now, now)
}

func TestProgressionRepositoryAdvanceCreatesTarget(t *testing.T) {
	db, mock, cleanup := newProgressionRepoMock(t)
	defer cleanup()
	repo := NewProgressionRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("stu-1", "per-1", 11, models.EnrollmentStatusRejected).
		WillReturnRows(sourceEnrollmentRows(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM enrollments WHERE student_id = $1 AND period_id = $2 AND grade_level = $3")).
		WithArgs("stu-1", "per-2", 12, models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM sections WHERE strand = $1 AND grade_level = $2 AND period_id = $3")).
		WithArgs("STEM", 12, "per-2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sec-2"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).WillReturnResult(sqlmock.NewResult(0, 1))

	scheduleRows := sqlmock.NewRows([]string{"id", "section_id", "subject_id", "faculty_id", "period_id", "semester", "day_of_week", "start_time", "end_time", "active", "created_at"}).
		AddRow("sched-9", "sec-2", "sub-9", "fac-9", "per-2", models.SemesterFirst, 1, "07:30", "08:30", true, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_schedules WHERE section_id = $1 AND period_id = $2 AND active = TRUE")).
		WithArgs("sec-2", "per-2").
		WillReturnRows(scheduleRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_details")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2")).
		WithArgs("enr-1", models.EnrollmentStatusCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO semester_progressions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Advance(context.Background(), advanceParams())
	require.NoError(t, err)
	require.NotEmpty(t, result.NewEnrollmentID)
	require.False(t, result.AlreadyProgressed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressionRepositoryAdvanceIdempotent(t *testing.T) {
	db, mock, cleanup := newProgressionRepoMock(t)
	defer cleanup()
	repo := NewProgressionRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("stu-1", "per-1", 11, models.EnrollmentStatusRejected).
		WillReturnRows(sourceEnrollmentRows(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM enrollments WHERE student_id = $1 AND period_id = $2 AND grade_level = $3")).
		WithArgs("stu-1", "per-2", 12, models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("enr-2"))
	mock.ExpectCommit()

	result, err := repo.Advance(context.Background(), advanceParams())
	require.NoError(t, err)
	require.Equal(t, "enr-2", result.NewEnrollmentID)
	require.True(t, result.AlreadyProgressed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressionRepositoryAdvanceNoTargetSection(t *testing.T) {
	db, mock, cleanup := newProgressionRepoMock(t)
	defer cleanup()
	repo := NewProgressionRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("stu-1", "per-1", 11, models.EnrollmentStatusRejected).
		WillReturnRows(sourceEnrollmentRows(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM enrollments WHERE student_id = $1 AND period_id = $2 AND grade_level = $3")).
		WithArgs("stu-1", "per-2", 12, models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM sections")).
		WithArgs("STEM", 12, "per-2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.Advance(context.Background(), advanceParams())
	require.ErrorIs(t, err, ErrNoTargetSection)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressionRepositoryAdvanceSourceNotEnrolled(t *testing.T) {
	db, mock, cleanup := newProgressionRepoMock(t)
	defer cleanup()
	repo := NewProgressionRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("stu-1", "per-1", 11, models.EnrollmentStatusRejected).
		WillReturnRows(enrollmentRows().AddRow("enr-1", "stu-1", "per-1", 11, "{STEM}", "STEM", "sec-1", models.EnrollmentStatusApproved, models.EnrollmentTypeRegular, "coord-1", nil, now, now, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM enrollments WHERE student_id = $1 AND period_id = $2 AND grade_level = $3")).
		WithArgs("stu-1", "per-2", 12, models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.Advance(context.Background(), advanceParams())
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressionRepositoryRecordSummerResultCompletes(t *testing.T) {
	db, mock, cleanup := newProgressionRepoMock(t)
	defer cleanup()
	repo := NewProgressionRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM summer_classes WHERE id = $1 FOR UPDATE")).
		WithArgs("sum-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "enrollment_id", "period_id", "status", "created_at", "updated_at"}).
			AddRow("sum-1", "enr-1", "per-2", models.SummerClassOngoing, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE summer_class_subjects SET remedial_grade = $3, passed = $4")).
		WithArgs("sum-1", "sub-1", 80.0, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE summer_class_id = $1 AND passed = FALSE")).
		WithArgs("sum-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE summer_classes SET status = $2")).
		WithArgs("sum-1", models.SummerClassCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta("FROM summer_class_subjects WHERE summer_class_id = $1")).
		WithArgs("sum-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "summer_class_id", "subject_id", "remedial_grade", "passed"}).
			AddRow("scs-1", "sum-1", "sub-1", 80.0, true))

	summer, err := repo.RecordSummerResult(context.Background(), "sum-1", "sub-1", 80.0)
	require.NoError(t, err)
	require.Equal(t, models.SummerClassCompleted, summer.Status)
	require.Len(t, summer.Subjects, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressionRepositoryRecordSummerResultClosedClass(t *testing.T) {
	db, mock, cleanup := newProgressionRepoMock(t)
	defer cleanup()
	repo := NewProgressionRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("sum-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "enrollment_id", "period_id", "status", "created_at", "updated_at"}).
			AddRow("sum-1", "enr-1", "per-2", models.SummerClassCompleted, now, now))
	mock.ExpectRollback()

	_, err := repo.RecordSummerResult(context.Background(), "sum-1", "sub-1", 80.0)
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
