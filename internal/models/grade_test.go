package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestGradeNormalizeComputesMean(t *testing.T) {
	grade := Grade{Semester: SemesterFirst, FirstQuarter: ptr(85), SecondQuarter: ptr(91)}
	grade.Normalize()

	require.NotNil(t, grade.SemesterGrade)
	assert.Equal(t, 88.0, *grade.SemesterGrade)
}

func TestGradeNormalizeRoundsToTwoDecimals(t *testing.T) {
	grade := Grade{Semester: SemesterFirst, FirstQuarter: ptr(84), SecondQuarter: ptr(85.55)}
	grade.Normalize()

	require.NotNil(t, grade.SemesterGrade)
	assert.Equal(t, 84.78, *grade.SemesterGrade)
}

func TestGradeNormalizePartialQuarter(t *testing.T) {
	grade := Grade{Semester: SemesterSecond, ThirdQuarter: ptr(80)}
	grade.Normalize()

	require.NotNil(t, grade.SemesterGrade)
	assert.Equal(t, 80.0, *grade.SemesterGrade)
}

func TestGradeNormalizeZeroIsNotEntered(t *testing.T) {
	grade := Grade{Semester: SemesterFirst, FirstQuarter: ptr(0), SecondQuarter: ptr(90)}
	grade.Normalize()

	require.NotNil(t, grade.SemesterGrade)
	assert.Equal(t, 90.0, *grade.SemesterGrade)

	grade = Grade{Semester: SemesterFirst, FirstQuarter: ptr(0), SecondQuarter: ptr(0)}
	grade.Normalize()
	assert.Nil(t, grade.SemesterGrade)
}

func TestGradeNormalizeNullsForbiddenQuarters(t *testing.T) {
	grade := Grade{
		Semester:      SemesterSecond,
		FirstQuarter:  ptr(85),
		SecondQuarter: ptr(91),
		ThirdQuarter:  ptr(78),
	}
	grade.Normalize()

	assert.Nil(t, grade.FirstQuarter)
	assert.Nil(t, grade.SecondQuarter)
	require.NotNil(t, grade.SemesterGrade)
	assert.Equal(t, 78.0, *grade.SemesterGrade)
}

func TestGradeNormalizeSemesterSwitchClearsDerived(t *testing.T) {
	grade := Grade{Semester: SemesterFirst, FirstQuarter: ptr(85), SecondQuarter: ptr(91)}
	grade.Normalize()
	require.NotNil(t, grade.SemesterGrade)

	grade.Semester = SemesterSecond
	grade.Normalize()
	assert.Nil(t, grade.FirstQuarter)
	assert.Nil(t, grade.SecondQuarter)
	assert.Nil(t, grade.SemesterGrade)
}

func TestGradeIsPassed(t *testing.T) {
	assert.False(t, Grade{}.IsPassed())
	assert.False(t, Grade{SemesterGrade: ptr(74.99)}.IsPassed())
	assert.True(t, Grade{SemesterGrade: ptr(75)}.IsPassed())
	assert.True(t, Grade{SemesterGrade: ptr(98)}.IsPassed())
}

func TestLetterGradeBoundaries(t *testing.T) {
	cases := []struct {
		value  float64
		letter string
	}{
		{95, "A"},
		{90, "A"},
		{89.99, "B+"},
		{85, "B+"},
		{80, "B"},
		{75, "C+"},
		{70, "C"},
		{65, "D"},
		{64.99, "F"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.letter, LetterGrade(tc.value), "value %v", tc.value)
	}
}

func TestGradeApprovalTransitions(t *testing.T) {
	assert.True(t, GradeApprovalDraft.CanTransition(GradeApprovalPending))
	assert.False(t, GradeApprovalDraft.CanTransition(GradeApprovalApproved))

	assert.True(t, GradeApprovalPending.CanTransition(GradeApprovalApproved))
	assert.True(t, GradeApprovalPending.CanTransition(GradeApprovalRejected))
	assert.True(t, GradeApprovalPending.CanTransition(GradeApprovalDraft))

	assert.True(t, GradeApprovalApproved.CanTransition(GradeApprovalDraft))
	assert.False(t, GradeApprovalApproved.CanTransition(GradeApprovalPending))
	assert.False(t, GradeApprovalApproved.CanTransition(GradeApprovalRejected))

	assert.True(t, GradeApprovalRejected.CanTransition(GradeApprovalPending))
	assert.True(t, GradeApprovalRejected.CanTransition(GradeApprovalDraft))
	assert.False(t, GradeApprovalRejected.CanTransition(GradeApprovalApproved))
}

func TestGradeApprovalEditable(t *testing.T) {
	assert.True(t, GradeApprovalDraft.Editable())
	assert.True(t, GradeApprovalRejected.Editable())
	assert.False(t, GradeApprovalPending.Editable())
	assert.False(t, GradeApprovalApproved.Editable())
}

func TestGradeInputRequestEffectiveStatus(t *testing.T) {
	now := time.Now()

	approved := GradeInputRequest{Status: GradeInputRequestApproved, ExpiresAt: now.Add(time.Hour)}
	assert.Equal(t, GradeInputRequestApproved, approved.EffectiveStatus(now))

	expired := GradeInputRequest{Status: GradeInputRequestApproved, ExpiresAt: now.Add(-time.Minute)}
	assert.Equal(t, GradeInputRequestExpired, expired.EffectiveStatus(now))

	pending := GradeInputRequest{Status: GradeInputRequestPending, ExpiresAt: now.Add(-time.Minute)}
	assert.Equal(t, GradeInputRequestPending, pending.EffectiveStatus(now))

	rejected := GradeInputRequest{Status: GradeInputRequestRejected}
	assert.Equal(t, GradeInputRequestRejected, rejected.EffectiveStatus(now))
}
