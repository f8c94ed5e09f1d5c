package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shs-ims/registrar-api/pkg/jobs"
)

// Notification events emitted by the lifecycle workflows.
const (
	EventEnrollmentSubmitted = "enrollment.submitted"
	EventEnrollmentEvaluated = "enrollment.evaluated"
	EventEnrollmentReturned  = "enrollment.returned_for_revision"
	EventEnrollmentApproved  = "enrollment.approved"
	EventEnrollmentRejected  = "enrollment.rejected"
	EventEnrollmentFinalized = "enrollment.finalized"
	EventGradeSubmitted      = "grade.submitted_for_approval"
	EventGradeApproved       = "grade.approved"
	EventGradeRejected       = "grade.rejected"
	EventGradeRequestDecided = "grade.input_request_decided"
	EventStudentProgressed   = "progression.completed"
)

// Notification is one dispatched event. Payload keys are event-specific.
type Notification struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
	SentAt  time.Time              `json:"sent_at"`
}

// NotificationSink delivers a notification to its destination.
type NotificationSink interface {
	Deliver(ctx context.Context, notification Notification) error
}

// LogSink writes notifications to the structured log. The default sink until
// an external channel (SMS, email) is wired in.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a log-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the notification.
func (s *LogSink) Deliver(_ context.Context, notification Notification) error {
	s.logger.Info("notification dispatched",
		zap.String("event", notification.Event),
		zap.Any("payload", notification.Payload),
		zap.Time("sent_at", notification.SentAt))
	return nil
}

// NotificationService dispatches lifecycle events asynchronously. Notify
// never blocks the caller beyond the enqueue and never surfaces delivery
// failures into the transaction that produced the event.
type NotificationService struct {
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService builds the service and its dispatch queue.
func NewNotificationService(sink NotificationSink, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}

	handler := func(ctx context.Context, job jobs.Job) error {
		notification, ok := job.Payload.(Notification)
		if !ok {
			logger.Warn("notification job carries unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		if err := sink.Deliver(ctx, notification); err != nil {
			return err
		}
		metrics.RecordNotification(notification.Event)
		return nil
	}

	svc := &NotificationService{metrics: metrics, logger: logger}
	svc.queue = jobs.NewQueue("notifications", handler, cfg)
	return svc
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues an event for delivery. Enqueue failures are logged and
// swallowed so callers stay fire-and-forget.
func (s *NotificationService) Notify(event string, payload map[string]interface{}) {
	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: event,
		Payload: Notification{
			Event:   event,
			Payload: payload,
			SentAt:  time.Now().UTC(),
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification", zap.String("event", event), zap.Error(err))
	}
}
