package models

import (
	"fmt"
	"time"
)

// Semester identifies one half of a school year. Only two values exist.
type Semester string

const (
	SemesterFirst  Semester = "1st"
	SemesterSecond Semester = "2nd"
)

// Valid reports whether the semester is one of the two known values.
func (s Semester) Valid() bool {
	return s == SemesterFirst || s == SemesterSecond
}

// AllowsQuarter reports whether a grading quarter belongs to the semester.
// Quarters 1 and 2 belong to the 1st semester, 3 and 4 to the 2nd.
func (s Semester) AllowsQuarter(quarter int) bool {
	switch s {
	case SemesterFirst:
		return quarter == 1 || quarter == 2
	case SemesterSecond:
		return quarter == 3 || quarter == 4
	}
	return false
}

// Next returns the semester that follows within or across school years.
func (s Semester) Next() Semester {
	if s == SemesterFirst {
		return SemesterSecond
	}
	return SemesterFirst
}

// Period identifies one (school year, semester) administrative window.
// Exactly one period is active system-wide; every lifecycle operation is
// scoped to a period resolved once per request.
type Period struct {
	ID               string     `db:"id" json:"id"`
	YearStart        int        `db:"year_start" json:"year_start"`
	YearEnd          int        `db:"year_end" json:"year_end"`
	Semester         Semester   `db:"semester" json:"semester"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	EnrollmentOpen   bool       `db:"enrollment_open" json:"enrollment_open"`
	EnrollmentStart  *time.Time `db:"enrollment_start" json:"enrollment_start,omitempty"`
	EnrollmentEnd    *time.Time `db:"enrollment_end" json:"enrollment_end,omitempty"`
	AllowProgression bool       `db:"allow_progression" json:"allow_progression"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Label renders the period for display, e.g. "2025-2026 1st Semester".
func (p Period) Label() string {
	return fmt.Sprintf("%d-%d %s Semester", p.YearStart, p.YearEnd, p.Semester)
}

// AcceptsEnrollment reports whether submissions are accepted at the given
// instant. The open flag gates everything; the optional window narrows it.
func (p Period) AcceptsEnrollment(now time.Time) bool {
	if !p.EnrollmentOpen {
		return false
	}
	if p.EnrollmentStart != nil && now.Before(*p.EnrollmentStart) {
		return false
	}
	if p.EnrollmentEnd != nil && now.After(*p.EnrollmentEnd) {
		return false
	}
	return true
}

// PeriodFilter defines filters supported by list endpoints.
type PeriodFilter struct {
	YearStart int
	Semester  Semester
	IsActive  *bool
	Page      int
	PageSize  int
}
