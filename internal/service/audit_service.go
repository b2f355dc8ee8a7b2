package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinfhir/extractor-api/internal/models"
	"github.com/clinfhir/extractor-api/pkg/export"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
	"github.com/clinfhir/extractor-api/pkg/jobs"
)

type auditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, limit int) ([]models.AuditLog, error)
}

// AuditEvent describes one security-relevant action to record.
type AuditEvent struct {
	UserID    *string
	Action    string
	Resource  *string
	Status    string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

// AuditService appends immutable audit entries through a background queue.
// Recording is best effort: a failed write is logged and counted, never
// surfaced to the request that triggered it.
type AuditService struct {
	repo    auditRepository
	queue   *jobs.Queue
	logger  *zap.Logger
	metrics *MetricsService
}

// AuditQueueConfig sizes the background writer.
type AuditQueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// NewAuditService constructs the service and its writer queue. Start must
// be called before Record accepts events.
func NewAuditService(repo auditRepository, logger *zap.Logger, metrics *MetricsService, cfg AuditQueueConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{repo: repo, logger: logger, metrics: metrics}
	s.queue = jobs.NewQueue("audit", s.persist, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDrop: func(jobs.Job) {
			metrics.IncAuditWriteFailure()
		},
	})
	return s
}

// Start launches the background writer.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains buffered entries and stops the writer.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues one audit entry. Never returns an error to the caller.
func (s *AuditService) Record(event AuditEvent) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		UserID:    event.UserID,
		Action:    event.Action,
		Resource:  event.Resource,
		Status:    event.Status,
		CreatedAt: time.Now().UTC(),
	}
	if event.IP != "" {
		ip := event.IP
		entry.IPAddress = &ip
	}
	if event.UserAgent != "" {
		ua := event.UserAgent
		entry.UserAgent = &ua
	}
	if len(event.Details) > 0 {
		payload, err := json.Marshal(event.Details)
		if err != nil {
			s.logger.Warn("failed to marshal audit details", zap.Error(err), zap.String("action", event.Action))
		} else {
			entry.Details = payload
		}
	}

	if err := s.queue.TryEnqueue(jobs.Job{ID: entry.ID, Kind: event.Action, Payload: entry}); err != nil {
		s.logger.Error("audit entry lost", zap.Error(err), zap.String("action", event.Action))
	}
}

func (s *AuditService) persist(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.repo.Create(writeCtx, entry)
}

// List returns the most recent audit entries, newest first.
func (s *AuditService) List(ctx context.Context, limit int) ([]models.AuditLog, error) {
	entries, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return entries, nil
}

// ExportDataset shapes recent audit entries for CSV/PDF rendering.
func (s *AuditService) ExportDataset(ctx context.Context, limit int) (export.Dataset, error) {
	entries, err := s.List(ctx, limit)
	if err != nil {
		return export.Dataset{}, err
	}

	dataset := export.Dataset{
		Headers: []string{"Time", "Action", "Status", "User", "Resource", "IP"},
		Rows:    make([]map[string]string, 0, len(entries)),
	}
	for _, entry := range entries {
		row := map[string]string{
			"Time":   entry.CreatedAt.UTC().Format(time.RFC3339),
			"Action": entry.Action,
			"Status": entry.Status,
		}
		if entry.UserID != nil {
			row["User"] = *entry.UserID
		}
		if entry.Resource != nil {
			row["Resource"] = *entry.Resource
		}
		if entry.IPAddress != nil {
			row["IP"] = *entry.IPAddress
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	return dataset, nil
}
