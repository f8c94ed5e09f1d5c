package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/shs-ims/registrar-api/internal/models"
)

// GradeRequestRepository handles time-boxed grade input grants.
type GradeRequestRepository struct {
	db *sqlx.DB
}

// NewGradeRequestRepository constructs the repository.
func NewGradeRequestRepository(db *sqlx.DB) *GradeRequestRepository {
	return &GradeRequestRepository{db: db}
}

const gradeRequestColumns = `id, faculty_id, schedule_id, period_id, quarter, reason, status, expires_at, decided_by, decided_at, created_at`

// Create persists a new input request in PENDING state.
func (r *GradeRequestRepository) Create(ctx context.Context, request *models.GradeInputRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.GradeInputRequestPending
	}
	request.CreatedAt = time.Now().UTC()

	const query = `INSERT INTO grade_input_requests (id, faculty_id, schedule_id, period_id, quarter, reason, status, expires_at, decided_by, decided_at, created_at)
        VALUES (:id, :faculty_id, :schedule_id, :period_id, :quarter, :reason, :status, :expires_at, :decided_by, :decided_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create grade input request: %w", err)
	}
	return nil
}

// FindByID returns an input request by its ID.
func (r *GradeRequestRepository) FindByID(ctx context.Context, id string) (*models.GradeInputRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM grade_input_requests WHERE id = $1`, gradeRequestColumns)
	var request models.GradeInputRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// ListByFaculty returns a faculty member's requests, newest first.
func (r *GradeRequestRepository) ListByFaculty(ctx context.Context, facultyID string) ([]models.GradeInputRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM grade_input_requests WHERE faculty_id = $1 ORDER BY created_at DESC`, gradeRequestColumns)
	var requests []models.GradeInputRequest
	if err := r.db.SelectContext(ctx, &requests, query, facultyID); err != nil {
		return nil, fmt.Errorf("list grade input requests: %w", err)
	}
	return requests, nil
}

// Decide transitions a pending request to approved or rejected under a row
// lock, stamping the decider and expiry.
func (r *GradeRequestRepository) Decide(ctx context.Context, id string, approve bool, deciderID string, expiresAt time.Time) (request *models.GradeInputRequest, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin request decide tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lockQuery := fmt.Sprintf(`SELECT %s FROM grade_input_requests WHERE id = $1 FOR UPDATE`, gradeRequestColumns)
	var existing models.GradeInputRequest
	if err = tx.GetContext(ctx, &existing, lockQuery, id); err != nil {
		return nil, err
	}
	if existing.Status != models.GradeInputRequestPending {
		return nil, ErrStateConflict
	}

	now := time.Now().UTC()
	status := models.GradeInputRequestRejected
	if approve {
		status = models.GradeInputRequestApproved
		existing.ExpiresAt = expiresAt
	}
	existing.Status = status
	existing.DecidedBy = &deciderID
	existing.DecidedAt = &now

	const update = `UPDATE grade_input_requests SET status = $2, expires_at = $3, decided_by = $4, decided_at = $5 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, id, existing.Status, existing.ExpiresAt, deciderID, now); err != nil {
		return nil, fmt.Errorf("decide grade input request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit request decide tx: %w", err)
	}
	return &existing, nil
}

// HasActiveGrant reports whether an approved, unexpired grant exists for
// the faculty member on the class and quarter.
func (r *GradeRequestRepository) HasActiveGrant(ctx context.Context, facultyID, scheduleID string, quarter int, now time.Time) (bool, error) {
	const query = `SELECT 1 FROM grade_input_requests
        WHERE faculty_id = $1 AND schedule_id = $2 AND quarter = $3 AND status = $4 AND expires_at > $5 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, facultyID, scheduleID, quarter, models.GradeInputRequestApproved, now); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active grant: %w", err)
	}
	return true, nil
}
