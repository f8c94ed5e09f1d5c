package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shs-ims/registrar-api/internal/models"
)

// SectionRepository reads section and class schedule reference data.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

const sectionColumns = `id, name, strand, grade_level, period_id, capacity, created_at`

// FindByID returns a section by its ID.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	query := fmt.Sprintf(`SELECT %s FROM sections WHERE id = $1`, sectionColumns)
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListByPeriod returns the sections configured for a period.
func (r *SectionRepository) ListByPeriod(ctx context.Context, periodID string) ([]models.Section, error) {
	query := fmt.Sprintf(`SELECT %s FROM sections WHERE period_id = $1 ORDER BY grade_level, name`, sectionColumns)
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, periodID); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

// ListSchedules returns the active class schedules for a section.
func (r *SectionRepository) ListSchedules(ctx context.Context, sectionID, periodID string) ([]models.ClassSchedule, error) {
	const query = `SELECT id, section_id, subject_id, faculty_id, period_id, semester, day_of_week, start_time, end_time, active, created_at
        FROM class_schedules WHERE section_id = $1 AND period_id = $2 AND active = TRUE ORDER BY day_of_week, start_time`
	var schedules []models.ClassSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, sectionID, periodID); err != nil {
		return nil, fmt.Errorf("list section schedules: %w", err)
	}
	return schedules, nil
}

// FindSchedule returns one class schedule row.
func (r *SectionRepository) FindSchedule(ctx context.Context, id string) (*models.ClassSchedule, error) {
	const query = `SELECT id, section_id, subject_id, faculty_id, period_id, semester, day_of_week, start_time, end_time, active, created_at
        FROM class_schedules WHERE id = $1`
	var schedule models.ClassSchedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}
