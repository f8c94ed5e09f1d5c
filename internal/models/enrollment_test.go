package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnrollmentTransitions(t *testing.T) {
	assert.True(t, EnrollmentStatusPending.CanTransition(EnrollmentStatusPendingEvaluation))
	assert.True(t, EnrollmentStatusPending.CanTransition(EnrollmentStatusApproved))
	assert.True(t, EnrollmentStatusPending.CanTransition(EnrollmentStatusRejected))
	assert.False(t, EnrollmentStatusPending.CanTransition(EnrollmentStatusEnrolled))

	assert.True(t, EnrollmentStatusPendingEvaluation.CanTransition(EnrollmentStatusEvaluated))
	assert.False(t, EnrollmentStatusPendingEvaluation.CanTransition(EnrollmentStatusApproved))

	assert.True(t, EnrollmentStatusEvaluated.CanTransition(EnrollmentStatusApproved))
	assert.True(t, EnrollmentStatusEvaluated.CanTransition(EnrollmentStatusRejected))
	assert.True(t, EnrollmentStatusEvaluated.CanTransition(EnrollmentStatusPendingEvaluation))

	assert.True(t, EnrollmentStatusApproved.CanTransition(EnrollmentStatusEnrolled))
	assert.False(t, EnrollmentStatusApproved.CanTransition(EnrollmentStatusRejected))

	assert.True(t, EnrollmentStatusEnrolled.CanTransition(EnrollmentStatusCompleted))
	assert.False(t, EnrollmentStatusEnrolled.CanTransition(EnrollmentStatusPending))
}

func TestEnrollmentTerminalStates(t *testing.T) {
	assert.True(t, EnrollmentStatusRejected.Terminal())
	assert.True(t, EnrollmentStatusCompleted.Terminal())
	assert.False(t, EnrollmentStatusPending.Terminal())
	assert.False(t, EnrollmentStatusEnrolled.Terminal())
}

func TestEnrollmentRequestedStrand(t *testing.T) {
	assert.Equal(t, "", Enrollment{}.RequestedStrand())
	assert.Equal(t, "STEM", Enrollment{StrandPreferences: []string{"STEM", "ABM"}}.RequestedStrand())
}
