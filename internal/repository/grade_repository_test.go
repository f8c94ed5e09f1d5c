package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/shs-ims/registrar-api/internal/models"
)

func newGradeRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func gradeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "enrollment_id", "student_id", "subject_id", "schedule_id", "period_id", "faculty_id", "semester", "first_quarter", "second_quarter", "third_quarter", "fourth_quarter", "semester_grade", "status", "approval_status", "approver_id", "approval_notes", "decided_at", "created_at", "updated_at"})
}

func gradeTemplate() *models.Grade {
	return &models.Grade{
		EnrollmentID: "enr-1",
		StudentID:    "stu-1",
		SubjectID:    "sub-1",
		ScheduleID:   "sched-1",
		PeriodID:     "per-1",
		FacultyID:    "fac-1",
		Semester:     models.SemesterFirst,
	}
}

func TestGradeRepositoryUpsertCreatesNormalized(t *testing.T) {
	db, mock, cleanup := newGradeRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("stu-1", "sub-1", "sched-1", "per-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grades")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	q1, q2 := 85.0, 91.0
	grade, err := repo.Upsert(context.Background(), gradeTemplate(), []QuarterUpdate{
		{Quarter: 1, Value: &q1},
		{Quarter: 2, Value: &q2},
	})
	require.NoError(t, err)
	require.NotEmpty(t, grade.ID)
	require.Equal(t, models.GradeApprovalDraft, grade.Approval)
	require.NotNil(t, grade.SemesterGrade)
	require.InDelta(t, 88.0, *grade.SemesterGrade, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryUpsertLockedUnderReview(t *testing.T) {
	db, mock, cleanup := newGradeRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("stu-1", "sub-1", "sched-1", "per-1").
		WillReturnRows(gradeRows().AddRow("g-1", "enr-1", "stu-1", "sub-1", "sched-1", "per-1", "fac-1", models.SemesterFirst, 85.0, nil, nil, nil, 85.0, models.GradeStatusOngoing, models.GradeApprovalPending, nil, nil, nil, now, now))
	mock.ExpectRollback()

	q2 := 90.0
	_, err := repo.Upsert(context.Background(), gradeTemplate(), []QuarterUpdate{{Quarter: 2, Value: &q2}})
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryTransitionApprovalApprove(t *testing.T) {
	db, mock, cleanup := newGradeRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grades WHERE id = $1 FOR UPDATE")).
		WithArgs("g-1").
		WillReturnRows(gradeRows().AddRow("g-1", "enr-1", "stu-1", "sub-1", "sched-1", "per-1", "fac-1", models.SemesterFirst, 85.0, 91.0, nil, nil, 88.0, models.GradeStatusOngoing, models.GradeApprovalPending, nil, nil, nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE grades SET approval_status")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	approver := "reg-1"
	grade, err := repo.TransitionApproval(context.Background(), "g-1", models.GradeApprovalApproved, &approver, nil)
	require.NoError(t, err)
	require.Equal(t, models.GradeApprovalApproved, grade.Approval)
	require.Equal(t, "reg-1", *grade.ApproverID)
	require.NotNil(t, grade.DecidedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryTransitionApprovalResubmit(t *testing.T) {
	db, mock, cleanup := newGradeRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	// Resubmitting a rejected grade re-enters review with the quarter values
	// intact and the previous decision cleared.
	now := time.Now()
	notes := "recheck the fourth column"
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grades WHERE id = $1 FOR UPDATE")).
		WithArgs("g-1").
		WillReturnRows(gradeRows().AddRow("g-1", "enr-1", "stu-1", "sub-1", "sched-1", "per-1", "fac-1", models.SemesterFirst, 85.0, 91.0, nil, nil, 88.0, models.GradeStatusOngoing, models.GradeApprovalRejected, "reg-1", notes, now, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE grades SET approval_status")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	grade, err := repo.TransitionApproval(context.Background(), "g-1", models.GradeApprovalPending, nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.GradeApprovalPending, grade.Approval)
	require.Nil(t, grade.ApproverID)
	require.Nil(t, grade.ApprovalNotes)
	require.Nil(t, grade.DecidedAt)
	require.InDelta(t, 85.0, *grade.FirstQuarter, 0.001)
	require.InDelta(t, 91.0, *grade.SecondQuarter, 0.001)
	require.InDelta(t, 88.0, *grade.SemesterGrade, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryTransitionApprovalConflict(t *testing.T) {
	db, mock, cleanup := newGradeRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	// Approving a DRAFT skips the submission step.
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("g-1").
		WillReturnRows(gradeRows().AddRow("g-1", "enr-1", "stu-1", "sub-1", "sched-1", "per-1", "fac-1", models.SemesterFirst, 85.0, nil, nil, nil, 85.0, models.GradeStatusOngoing, models.GradeApprovalDraft, nil, nil, nil, now, now))
	mock.ExpectRollback()

	approver := "reg-1"
	_, err := repo.TransitionApproval(context.Background(), "g-1", models.GradeApprovalApproved, &approver, nil)
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryListFailed(t *testing.T) {
	db, mock, cleanup := newGradeRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("semester_grade IS NOT NULL AND semester_grade < $3")).
		WithArgs("enr-1", models.GradeApprovalApproved, models.PassingGrade).
		WillReturnRows(gradeRows().AddRow("g-1", "enr-1", "stu-1", "sub-1", "sched-1", "per-1", "fac-1", models.SemesterFirst, 70.0, 72.0, nil, nil, 71.0, models.GradeStatusOngoing, models.GradeApprovalApproved, "reg-1", nil, now, now, now))

	grades, err := repo.ListFailed(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	require.Equal(t, "sub-1", grades[0].SubjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}
