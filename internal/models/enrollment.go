package models

import (
	"time"

	"github.com/lib/pq"
)

// EnrollmentStatus represents the lifecycle of one student's application
// for one period.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending           EnrollmentStatus = "PENDING"
	EnrollmentStatusPendingEvaluation EnrollmentStatus = "PENDING_EVALUATION"
	EnrollmentStatusEvaluated         EnrollmentStatus = "EVALUATED"
	EnrollmentStatusApproved          EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected          EnrollmentStatus = "REJECTED"
	EnrollmentStatusEnrolled          EnrollmentStatus = "ENROLLED"
	EnrollmentStatusCompleted         EnrollmentStatus = "COMPLETED"
)

// enrollmentTransitions is the closed transition table. EVALUATED may bounce
// back to PENDING_EVALUATION (returned for revision); every other edge is
// forward-only. COMPLETED and REJECTED are terminal.
var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPending:           {EnrollmentStatusPendingEvaluation, EnrollmentStatusApproved, EnrollmentStatusRejected},
	EnrollmentStatusPendingEvaluation: {EnrollmentStatusEvaluated},
	EnrollmentStatusEvaluated:         {EnrollmentStatusApproved, EnrollmentStatusRejected, EnrollmentStatusPendingEvaluation},
	EnrollmentStatusApproved:          {EnrollmentStatusEnrolled},
	EnrollmentStatusEnrolled:          {EnrollmentStatusCompleted},
}

// CanTransition reports whether the status may move to the target state.
func (s EnrollmentStatus) CanTransition(to EnrollmentStatus) bool {
	for _, allowed := range enrollmentTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from the status.
func (s EnrollmentStatus) Terminal() bool {
	return len(enrollmentTransitions[s]) == 0
}

// EnrollmentType distinguishes intake flows.
type EnrollmentType string

const (
	EnrollmentTypeRegular    EnrollmentType = "REGULAR"
	EnrollmentTypeTransferee EnrollmentType = "TRANSFEREE"
	EnrollmentTypeSummer     EnrollmentType = "SUMMER"
)

// StudentRef collapses the student identity hops into one value object at
// the boundary of the lifecycle core.
type StudentRef struct {
	ID       string `db:"student_id" json:"id"`
	LRN      string `db:"student_lrn" json:"lrn"`
	FullName string `db:"student_name" json:"full_name"`
}

// Enrollment captures one student's application/registration for one period.
// Rows are never physically deleted; rejected and completed rows are kept
// for audit.
type Enrollment struct {
	ID                string           `db:"id" json:"id"`
	StudentID         string           `db:"student_id" json:"student_id"`
	PeriodID          string           `db:"period_id" json:"period_id"`
	GradeLevel        int              `db:"grade_level" json:"grade_level"`
	StrandPreferences pq.StringArray   `db:"strand_preferences" json:"strand_preferences"`
	AssignedStrand    *string          `db:"assigned_strand" json:"assigned_strand,omitempty"`
	SectionID         *string          `db:"section_id" json:"section_id,omitempty"`
	Status            EnrollmentStatus `db:"status" json:"status"`
	Type              EnrollmentType   `db:"enrollment_type" json:"enrollment_type"`
	CoordinatorID     *string          `db:"coordinator_id" json:"coordinator_id,omitempty"`
	CoordinatorNotes  *string          `db:"coordinator_notes" json:"coordinator_notes,omitempty"`
	SubmittedAt       time.Time        `db:"submitted_at" json:"submitted_at"`
	ReviewedAt        *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// RequestedStrand returns the first-choice strand, empty when none recorded.
func (e Enrollment) RequestedStrand() string {
	if len(e.StrandPreferences) == 0 {
		return ""
	}
	return e.StrandPreferences[0]
}

// RequestsStrand reports whether the strand appears among the student's
// ranked preferences.
func (e Enrollment) RequestsStrand(strand string) bool {
	for _, pref := range e.StrandPreferences {
		if pref == strand {
			return true
		}
	}
	return false
}

// EnrollmentDetail enriches Enrollment with student and period info.
type EnrollmentDetail struct {
	Enrollment
	StudentLRN   string  `db:"student_lrn" json:"student_lrn"`
	StudentName  string  `db:"student_name" json:"student_name"`
	PeriodLabel  string  `db:"period_label" json:"period_label"`
	SectionName  *string `db:"section_name" json:"section_name,omitempty"`
}

// PreviousSchool records a transferee's school of origin. At most one row
// per enrollment.
type PreviousSchool struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Name         string    `db:"name" json:"name"`
	Address      *string   `db:"address" json:"address,omitempty"`
	LastLevel    *string   `db:"last_level" json:"last_level,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CreditedSubject exempts a transferee from retaking a subject, carrying
// the historical grade earned elsewhere.
type CreditedSubject struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	Grade        float64   `db:"grade" json:"grade"`
	Remarks      *string   `db:"remarks" json:"remarks,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ClassDetailStatus is the per-subject override state on a class membership.
type ClassDetailStatus string

const (
	ClassDetailPending  ClassDetailStatus = "PENDING"
	ClassDetailApproved ClassDetailStatus = "APPROVED"
	ClassDetailRejected ClassDetailStatus = "REJECTED"
)

// ClassDetail binds an enrollment to one scheduled class. Rows are created
// only as a side effect of enrollment finalization, inside the same
// transaction as the status write.
type ClassDetail struct {
	ID           string            `db:"id" json:"id"`
	EnrollmentID string            `db:"enrollment_id" json:"enrollment_id"`
	ScheduleID   string            `db:"schedule_id" json:"schedule_id"`
	SectionID    string            `db:"section_id" json:"section_id"`
	SubjectID    string            `db:"subject_id" json:"subject_id"`
	PeriodID     string            `db:"period_id" json:"period_id"`
	Status       ClassDetailStatus `db:"status" json:"status"`
	IsEnrolled   bool              `db:"is_enrolled" json:"is_enrolled"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	PeriodID  string
	Status    EnrollmentStatus
	Type      EnrollmentType
	Strand    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
