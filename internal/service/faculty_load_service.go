package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shs-ims/registrar-api/internal/models"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
	"github.com/shs-ims/registrar-api/pkg/jobs"
)

type facultyLoadRepository interface {
	Recompute(ctx context.Context, periodID string, maxLoads int) ([]models.FacultyLoad, error)
	Find(ctx context.Context, facultyID, periodID string) (*models.FacultyLoad, error)
	ListByPeriod(ctx context.Context, periodID string) ([]models.FacultyLoad, error)
}

type loadCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// FacultyLoadService maintains the derived teaching-load aggregate. Reads
// serve the cached snapshot; writes to schedules or rosters enqueue a
// wholesale recompute instead of incremental updates, so drift cannot
// accumulate.
type FacultyLoadService struct {
	repo     facultyLoadRepository
	cache    loadCache
	cacheTTL time.Duration
	maxLoads int
	queue    *jobs.Queue
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewFacultyLoadService creates a new faculty load service instance.
func NewFacultyLoadService(repo facultyLoadRepository, cache loadCache, cacheTTL time.Duration, maxLoads int, queueCfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *FacultyLoadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if maxLoads <= 0 {
		maxLoads = 8
	}

	svc := &FacultyLoadService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		maxLoads: maxLoads,
		metrics:  metrics,
		logger:   logger,
	}
	svc.queue = jobs.NewQueue("faculty-load-recompute", svc.handleRecompute, queueCfg)
	return svc
}

// Start launches the recompute workers.
func (s *FacultyLoadService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the recompute workers.
func (s *FacultyLoadService) Stop() {
	s.queue.Stop()
}

// Trigger enqueues an asynchronous recompute for the period. Failures are
// logged; the caller never blocks on the recompute.
func (s *FacultyLoadService) Trigger(periodID string) {
	job := jobs.Job{ID: uuid.NewString(), Type: "recompute", Payload: periodID}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue load recompute", zap.String("period_id", periodID), zap.Error(err))
	}
}

// Recompute rebuilds the load snapshot for the period synchronously and
// invalidates the cached entries.
func (s *FacultyLoadService) Recompute(ctx context.Context, periodID string) ([]models.FacultyLoad, error) {
	start := time.Now()
	loads, err := s.repo.Recompute(ctx, periodID, s.maxLoads)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recompute faculty loads")
	}
	s.metrics.ObserveLoadRecompute(time.Since(start))

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, loadCachePattern(periodID)); err != nil {
			s.logger.Warn("failed to invalidate load cache", zap.String("period_id", periodID), zap.Error(err))
		}
	}
	return loads, nil
}

// Get returns one faculty member's load for a period, serving from cache
// when possible.
func (s *FacultyLoadService) Get(ctx context.Context, facultyID, periodID string) (*models.FacultyLoad, error) {
	key := loadCacheKey(facultyID, periodID)
	if s.cache != nil {
		var cached models.FacultyLoad
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	load, err := s.repo.Find(ctx, facultyID, periodID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no load recorded for faculty member in this period")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load faculty load")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, load, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache faculty load", zap.Error(err))
		}
	}
	return load, nil
}

// ListByPeriod returns every faculty load for the period, heaviest first.
func (s *FacultyLoadService) ListByPeriod(ctx context.Context, periodID string) ([]models.FacultyLoad, error) {
	loads, err := s.repo.ListByPeriod(ctx, periodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list faculty loads")
	}
	return loads, nil
}

func (s *FacultyLoadService) handleRecompute(ctx context.Context, job jobs.Job) error {
	periodID, ok := job.Payload.(string)
	if !ok {
		s.logger.Warn("recompute job carries unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	if _, err := s.Recompute(ctx, periodID); err != nil {
		return fmt.Errorf("recompute loads for period %s: %w", periodID, err)
	}
	return nil
}

func loadCacheKey(facultyID, periodID string) string {
	return fmt.Sprintf("loads:%s:%s", periodID, facultyID)
}

func loadCachePattern(periodID string) string {
	return fmt.Sprintf("loads:%s:*", periodID)
}
