package models

import "time"

// ProgressionType tags how an enrollment advanced.
type ProgressionType string

const (
	ProgressionSemesterAdvance ProgressionType = "SEMESTER_ADVANCE"
	ProgressionGradeAdvance    ProgressionType = "GRADE_ADVANCE"
	ProgressionSummerRemedial  ProgressionType = "SUMMER_REMEDIAL"
)

// ProgressionStatus tracks the audit row's lifecycle.
type ProgressionStatus string

const (
	ProgressionStatusPending   ProgressionStatus = "PENDING"
	ProgressionStatusApproved  ProgressionStatus = "APPROVED"
	ProgressionStatusCompleted ProgressionStatus = "COMPLETED"
)

// SemesterProgression is the immutable audit record linking a source
// enrollment to the enrollment it advanced into. Never mutated once
// completed.
type SemesterProgression struct {
	ID               string            `db:"id" json:"id"`
	FromEnrollmentID string            `db:"from_enrollment_id" json:"from_enrollment_id"`
	ToEnrollmentID   string            `db:"to_enrollment_id" json:"to_enrollment_id"`
	Type             ProgressionType   `db:"progression_type" json:"progression_type"`
	Status           ProgressionStatus `db:"status" json:"status"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
}

// ProgressionResult reports the outcome of a progression call. An already
// progressed student yields the existing target with AlreadyProgressed set;
// the call is idempotent, not an error.
type ProgressionResult struct {
	NewEnrollmentID   string `json:"new_enrollment_id"`
	AlreadyProgressed bool   `json:"already_progressed"`
}

// SummerClassStatus tracks a remedial aggregate to completion.
type SummerClassStatus string

const (
	SummerClassOngoing   SummerClassStatus = "ONGOING"
	SummerClassCompleted SummerClassStatus = "COMPLETED"
)

// SummerClass groups the failed subjects a student retakes over summer.
// It is tracked independently and never creates a grade-level enrollment.
type SummerClass struct {
	ID           string            `db:"id" json:"id"`
	EnrollmentID string            `db:"enrollment_id" json:"enrollment_id"`
	PeriodID     string            `db:"period_id" json:"period_id"`
	Status       SummerClassStatus `db:"status" json:"status"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`

	Subjects []SummerClassSubject `json:"subjects,omitempty"`
}

// SummerClassSubject is one retaken subject within a summer class.
type SummerClassSubject struct {
	ID            string   `db:"id" json:"id"`
	SummerClassID string   `db:"summer_class_id" json:"summer_class_id"`
	SubjectID     string   `db:"subject_id" json:"subject_id"`
	RemedialGrade *float64 `db:"remedial_grade" json:"remedial_grade,omitempty"`
	Passed        bool     `db:"passed" json:"passed"`
}
