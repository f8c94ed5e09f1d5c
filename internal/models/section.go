package models

import "time"

// Grade levels offered by senior high school.
const (
	GradeLevel11 = 11
	GradeLevel12 = 12
)

// Strand is an academic track students enroll into (e.g. STEM, ABM).
type Strand struct {
	Code        string `db:"code" json:"code"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

// Section is one named class group within a strand, grade level and period.
type Section struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Strand     string    `db:"strand" json:"strand"`
	GradeLevel int       `db:"grade_level" json:"grade_level"`
	PeriodID   string    `db:"period_id" json:"period_id"`
	Capacity   int       `db:"capacity" json:"capacity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Subject is one teachable unit, optionally tied to a strand.
type Subject struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Strand    *string   `db:"strand" json:"strand,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ClassSchedule is one scheduled class: a subject taught to a section by a
// faculty member within a period and semester. It is the source of truth
// for auto-enrollment and faculty load accounting.
type ClassSchedule struct {
	ID        string    `db:"id" json:"id"`
	SectionID string    `db:"section_id" json:"section_id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	FacultyID string    `db:"faculty_id" json:"faculty_id"`
	PeriodID  string    `db:"period_id" json:"period_id"`
	Semester  Semester  `db:"semester" json:"semester"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
