package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinfhir/extractor-api/internal/extractor"
	"github.com/clinfhir/extractor-api/internal/models"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
	"github.com/clinfhir/extractor-api/pkg/storage"
)

// ExtractionConfig bounds incoming documents.
type ExtractionConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// ExtractionService stores an uploaded clinical document and delegates the
// FHIR extraction to the external pipeline.
type ExtractionService struct {
	client  extractor.Client
	store   *storage.DocumentStore
	audit   auditRecorder
	logger  *zap.Logger
	metrics *MetricsService
	config  ExtractionConfig
}

// NewExtractionService constructs an ExtractionService instance.
func NewExtractionService(client extractor.Client, store *storage.DocumentStore, audit auditRecorder, logger *zap.Logger, metrics *MetricsService, config ExtractionConfig) *ExtractionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionService{client: client, store: store, audit: audit, logger: logger, metrics: metrics, config: config}
}

// Extract runs one document through the pipeline for the given actor.
func (s *ExtractionService) Extract(ctx context.Context, actor *models.User, filename, contentType string, size int64, document io.Reader, ip, userAgent string) (*models.ExtractionResult, error) {
	started := time.Now()
	docID := uuid.NewString()
	resource := "document:" + docID

	if s.config.MaxFileSizeBytes > 0 && size > s.config.MaxFileSizeBytes {
		s.recordExtract(actor, resource, models.AuditStatusFailure, ip, userAgent, map[string]interface{}{"reason": "too_large", "size": size})
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document exceeds %d bytes", s.config.MaxFileSizeBytes))
	}
	if !s.mimeAllowed(contentType) {
		s.recordExtract(actor, resource, models.AuditStatusFailure, ip, userAgent, map[string]interface{}{"reason": "unsupported_type", "content_type": contentType})
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported document type: "+contentType)
	}

	limit := s.config.MaxFileSizeBytes
	if limit <= 0 {
		limit = 32 << 20
	}

	// Buffer once so the document can be both persisted and forwarded.
	payload, err := io.ReadAll(io.LimitReader(document, limit+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read document")
	}
	if int64(len(payload)) > limit {
		s.recordExtract(actor, resource, models.AuditStatusFailure, ip, userAgent, map[string]interface{}{"reason": "too_large"})
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document exceeds %d bytes", s.config.MaxFileSizeBytes))
	}

	storagePath, err := s.store.Save(actor.ID, docID, filename, bytes.NewReader(payload))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}

	bundle, err := s.client.Extract(ctx, filename, contentType, bytes.NewReader(payload))
	if err != nil {
		s.logger.Error("extraction failed", zap.Error(err), zap.String("document_id", docID))
		s.recordExtract(actor, resource, models.AuditStatusFailure, ip, userAgent, map[string]interface{}{"reason": "pipeline_error"})
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, appErrors.ErrUpstream.Message)
	}

	s.metrics.ObserveExtraction(time.Since(started))
	s.recordExtract(actor, resource, models.AuditStatusSuccess, ip, userAgent, map[string]interface{}{"filename": filename, "size": len(payload)})

	return &models.ExtractionResult{
		DocumentID:  docID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(payload)),
		Bundle:      bundle,
		ProcessedAt: time.Now().UTC(),
		StoragePath: storagePath,
		SubmittedBy: actor.ID,
	}, nil
}

func (s *ExtractionService) mimeAllowed(contentType string) bool {
	if len(s.config.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedMIMEs {
		if allowed == contentType {
			return true
		}
	}
	return false
}

func (s *ExtractionService) recordExtract(actor *models.User, resource, status, ip, userAgent string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(AuditEvent{
		UserID:    &actor.ID,
		Action:    models.AuditActionExtract,
		Resource:  &resource,
		Status:    status,
		IP:        ip,
		UserAgent: userAgent,
		Details:   details,
	})
}
