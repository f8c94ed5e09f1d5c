package models

import "time"

// Student is the read model the lifecycle core needs: identity plus the
// learner reference number carried forward through progressions.
type Student struct {
	ID        string     `db:"id" json:"id"`
	LRN       string     `db:"lrn" json:"lrn"`
	FullName  string     `db:"full_name" json:"full_name"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Ref collapses the student into the value object used at the lifecycle
// boundary.
func (s Student) Ref() StudentRef {
	return StudentRef{ID: s.ID, LRN: s.LRN, FullName: s.FullName}
}

// StudentFilter captures filtering criteria for listing students.
type StudentFilter struct {
	Search   string
	Active   *bool
	Page     int
	PageSize int
}
