package models

import "time"

// FacultyLoad is the derived count of active classes for one faculty member
// within one period. It is a cache over class_schedules: never hand-edited,
// only recomputed wholesale from the source rows.
type FacultyLoad struct {
	FacultyID    string    `db:"faculty_id" json:"faculty_id"`
	PeriodID     string    `db:"period_id" json:"period_id"`
	TotalLoads   int       `db:"total_loads" json:"total_loads"`
	MaxLoads     int       `db:"max_loads" json:"max_loads"`
	IsOverloaded bool      `db:"is_overloaded" json:"is_overloaded"`
	ComputedAt   time.Time `db:"computed_at" json:"computed_at"`
}
