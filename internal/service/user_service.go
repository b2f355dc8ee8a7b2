package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/clinfhir/extractor-api/internal/models"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
)

type userListRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

// UserService handles the admin user directory.
type UserService struct {
	repo   userListRepository
	audit  auditRecorder
	logger *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userListRepository, audit auditRecorder, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, audit: audit, logger: logger}
}

// List returns paginated users. The admin listing itself is auditable.
func (s *UserService) List(ctx context.Context, filter models.UserFilter, actor *models.User, ip, userAgent string) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	if s.audit != nil && actor != nil {
		s.audit.Record(AuditEvent{
			UserID:    &actor.ID,
			Action:    models.AuditActionListUsers,
			Status:    models.AuditStatusSuccess,
			IP:        ip,
			UserAgent: userAgent,
			Details:   map[string]interface{}{"count": len(users)},
		})
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}
