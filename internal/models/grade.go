package models

import (
	"math"
	"time"
)

// GradeStatus tracks the content axis of a grade record.
type GradeStatus string

const (
	GradeStatusOngoing    GradeStatus = "ONGOING"
	GradeStatusCompleted  GradeStatus = "COMPLETED"
	GradeStatusIncomplete GradeStatus = "INCOMPLETE"
	GradeStatusDropped    GradeStatus = "DROPPED"
)

// GradeApprovalStatus tracks the review axis, independent of quarter entry.
type GradeApprovalStatus string

const (
	GradeApprovalDraft    GradeApprovalStatus = "DRAFT"
	GradeApprovalPending  GradeApprovalStatus = "PENDING_APPROVAL"
	GradeApprovalApproved GradeApprovalStatus = "APPROVED"
	GradeApprovalRejected GradeApprovalStatus = "REJECTED"
)

// gradeApprovalTransitions is the closed transition table for the review
// axis. APPROVED and PENDING_APPROVAL may only return to DRAFT through the
// explicit reopen edge; quarter values are editable only in DRAFT/REJECTED.
var gradeApprovalTransitions = map[GradeApprovalStatus][]GradeApprovalStatus{
	GradeApprovalDraft:    {GradeApprovalPending},
	GradeApprovalPending:  {GradeApprovalApproved, GradeApprovalRejected, GradeApprovalDraft},
	GradeApprovalApproved: {GradeApprovalDraft},
	GradeApprovalRejected: {GradeApprovalPending, GradeApprovalDraft},
}

// CanTransition reports whether the approval status may move to the target.
func (s GradeApprovalStatus) CanTransition(to GradeApprovalStatus) bool {
	for _, allowed := range gradeApprovalTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Editable reports whether quarter values may be modified in this state.
func (s GradeApprovalStatus) Editable() bool {
	return s == GradeApprovalDraft || s == GradeApprovalRejected
}

// PassingGrade is the SHS passing mark for a semester grade.
const PassingGrade = 75.0

// Grade holds one subject's marks for one student within one class, scoped
// to exactly one semester. Only the two quarters belonging to the semester
// may carry values; Normalize enforces this on every write path.
type Grade struct {
	ID            string              `db:"id" json:"id"`
	EnrollmentID  string              `db:"enrollment_id" json:"enrollment_id"`
	StudentID     string              `db:"student_id" json:"student_id"`
	SubjectID     string              `db:"subject_id" json:"subject_id"`
	ScheduleID    string              `db:"schedule_id" json:"schedule_id"`
	PeriodID      string              `db:"period_id" json:"period_id"`
	FacultyID     string              `db:"faculty_id" json:"faculty_id"`
	Semester      Semester            `db:"semester" json:"semester"`
	FirstQuarter  *float64            `db:"first_quarter" json:"first_quarter,omitempty"`
	SecondQuarter *float64            `db:"second_quarter" json:"second_quarter,omitempty"`
	ThirdQuarter  *float64            `db:"third_quarter" json:"third_quarter,omitempty"`
	FourthQuarter *float64            `db:"fourth_quarter" json:"fourth_quarter,omitempty"`
	SemesterGrade *float64            `db:"semester_grade" json:"semester_grade,omitempty"`
	Status        GradeStatus         `db:"status" json:"status"`
	Approval      GradeApprovalStatus `db:"approval_status" json:"approval_status"`
	ApproverID    *string             `db:"approver_id" json:"approver_id,omitempty"`
	ApprovalNotes *string             `db:"approval_notes" json:"approval_notes,omitempty"`
	DecidedAt     *time.Time          `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// Quarter returns a pointer to the slot for the given quarter number.
func (g *Grade) Quarter(quarter int) **float64 {
	switch quarter {
	case 1:
		return &g.FirstQuarter
	case 2:
		return &g.SecondQuarter
	case 3:
		return &g.ThirdQuarter
	case 4:
		return &g.FourthQuarter
	}
	return nil
}

// Normalize enforces the semester/quarter invariant and recomputes the
// derived semester grade. It must run before every persist, regardless of
// which path produced the write: quarters outside the semester are nulled,
// and SemesterGrade becomes the mean of the populated, non-zero,
// semester-appropriate quarters, or nil when none are populated. A literal
// zero counts as "not yet entered", not as a failing mark.
func (g *Grade) Normalize() {
	switch g.Semester {
	case SemesterFirst:
		g.ThirdQuarter, g.FourthQuarter = nil, nil
	case SemesterSecond:
		g.FirstQuarter, g.SecondQuarter = nil, nil
	}

	var sum float64
	var count int
	for _, q := range g.semesterQuarters() {
		if q != nil && *q > 0 {
			sum += *q
			count++
		}
	}
	if count == 0 {
		g.SemesterGrade = nil
		return
	}
	mean := math.Round(sum/float64(count)*100) / 100
	g.SemesterGrade = &mean
}

func (g *Grade) semesterQuarters() []*float64 {
	if g.Semester == SemesterSecond {
		return []*float64{g.ThirdQuarter, g.FourthQuarter}
	}
	return []*float64{g.FirstQuarter, g.SecondQuarter}
}

// IsPassed reports whether the semester grade meets the passing mark.
// Unset grades never pass.
func (g Grade) IsPassed() bool {
	return g.SemesterGrade != nil && *g.SemesterGrade >= PassingGrade
}

// LetterGrade maps a numeric grade to its display letter. Pass/fail is
// decided by IsPassed, never by the letter.
func LetterGrade(value float64) string {
	switch {
	case value >= 90:
		return "A"
	case value >= 85:
		return "B+"
	case value >= 80:
		return "B"
	case value >= 75:
		return "C+"
	case value >= 70:
		return "C"
	case value >= 65:
		return "D"
	default:
		return "F"
	}
}

// GradeFilter allows querying of grade entries.
type GradeFilter struct {
	EnrollmentID string
	StudentID    string
	SubjectID    string
	ScheduleID   string
	PeriodID     string
	Approval     GradeApprovalStatus
	Page         int
	PageSize     int
}

// GradeInputRequestStatus tracks the decision on an out-of-window grant.
type GradeInputRequestStatus string

const (
	GradeInputRequestPending  GradeInputRequestStatus = "PENDING"
	GradeInputRequestApproved GradeInputRequestStatus = "APPROVED"
	GradeInputRequestRejected GradeInputRequestStatus = "REJECTED"
	// GradeInputRequestExpired is an effective state only, derived from an
	// approved grant whose expiry has lapsed. It is never stored.
	GradeInputRequestExpired GradeInputRequestStatus = "EXPIRED"
)

// GradeInputRequest is a time-boxed grant allowing a faculty member to
// write grades for one (class, quarter) outside the default window.
type GradeInputRequest struct {
	ID         string                  `db:"id" json:"id"`
	FacultyID  string                  `db:"faculty_id" json:"faculty_id"`
	ScheduleID string                  `db:"schedule_id" json:"schedule_id"`
	PeriodID   string                  `db:"period_id" json:"period_id"`
	Quarter    int                     `db:"quarter" json:"quarter"`
	Reason     string                  `db:"reason" json:"reason"`
	Status     GradeInputRequestStatus `db:"status" json:"status"`
	ExpiresAt  time.Time               `db:"expires_at" json:"expires_at"`
	DecidedBy  *string                 `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt  *time.Time              `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt  time.Time               `db:"created_at" json:"created_at"`
}

// EffectiveStatus folds expiry into the stored status: an approved grant
// past its expiry is expired, not approved.
func (r GradeInputRequest) EffectiveStatus(now time.Time) GradeInputRequestStatus {
	if r.Status == GradeInputRequestApproved && now.After(r.ExpiresAt) {
		return GradeInputRequestExpired
	}
	return r.Status
}
